package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/pkg/xattr"
	"github.com/rwcarlsen/goexif/exif"
)

// Analysis is the payload an analyzer produces for a file. Any field may be
// empty; consumers must tolerate missing data.
type Analysis struct {
	Text     string            `json:"text,omitempty"`
	OCRText  string            `json:"ocr_text,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Keywords []string          `json:"keywords,omitempty"`
	Dates    []string          `json:"dates,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Category string            `json:"category,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

// Analyzer is the content-extraction boundary. Production deployments plug in
// the ML-backed analyzers; Local below covers what can be derived from the
// file itself.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*Analysis, error)
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true,
	".xml": true, ".yaml": true, ".yml": true, ".html": true,
	".css": true, ".py": true, ".js": true, ".go": true,
	".java": true, ".cpp": true, ".c": true,
}

var exifExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".tiff": true,
}

var categoryByExt = map[string]string{
	".txt": "document", ".md": "document", ".pdf": "document",
	".doc": "document", ".docx": "document",
	".xls": "spreadsheet", ".xlsx": "spreadsheet", ".csv": "spreadsheet",
	".ppt": "presentation", ".pptx": "presentation",
	".jpg": "image", ".jpeg": "image", ".png": "image",
	".gif": "image", ".bmp": "image", ".tiff": "image",
	".mp4": "video", ".avi": "video", ".mov": "video", ".mkv": "video",
	".mp3": "audio", ".wav": "audio", ".flac": "audio",
	".zip": "archive", ".rar": "archive", ".7z": "archive",
	".tar": "archive", ".gz": "archive",
	".py": "code", ".js": "code", ".go": "code", ".java": "code",
	".cpp": "code", ".c": "code", ".html": "code", ".css": "code",
	".json": "code", ".xml": "code", ".yaml": "code", ".yml": "code",
}

// Local analyzes files without any external service: plain-text content for
// text files, EXIF metadata for photos, user tags from the user.xdg.tags
// extended attribute, and an extension-driven category.
type Local struct {
	MaxBytes int64
}

func NewLocal(maxBytes int64) *Local {
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024
	}
	return &Local{MaxBytes: maxBytes}
}

func (l *Local) Analyze(ctx context.Context, path string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	a := &Analysis{
		Category: categoryByExt[ext],
		Metadata: map[string]string{},
	}
	if a.Category == "" {
		a.Category = "general"
	}

	if textExts[ext] {
		text, err := l.readText(path)
		if err != nil {
			return nil, err
		}
		a.Text = text
	}

	if exifExts[ext] {
		l.readExif(path, a)
	}

	a.Tags = readXattrTags(path)

	return a, nil
}

func (l *Local) readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	limited := io.LimitReader(f, l.MaxBytes)
	content, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (l *Local) readExif(path string, a *Analysis) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		log.Debugf("no exif data in %s: %v", path, err)
		return
	}

	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			a.Metadata["camera_make"] = strings.TrimSpace(v)
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			a.Metadata["camera_model"] = strings.TrimSpace(v)
		}
	}
	if dt, err := x.DateTime(); err == nil {
		a.Dates = append(a.Dates, dt.Format("2006-01-02"))
		a.Metadata["taken_at"] = dt.Format("2006-01-02 15:04:05")
	}
	if tag, err := x.Get(exif.ImageDescription); err == nil {
		if v, err := tag.StringVal(); err == nil && v != "" {
			a.Summary = strings.TrimSpace(v)
		}
	}
}

func readXattrTags(path string) []string {
	raw, err := xattr.Get(path, "user.xdg.tags")
	if err != nil || len(raw) == 0 {
		return nil
	}

	var tags []string
	for _, t := range strings.Split(string(raw), ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// SearchableContent flattens an analysis into the single text blob that gets
// full-text indexed: extracted text, OCR text, summary, stringified metadata
// values, and the filename stem.
func SearchableContent(path string, a *Analysis) string {
	parts := []string{}

	if a != nil {
		if a.Text != "" {
			parts = append(parts, a.Text)
		}
		if a.OCRText != "" {
			parts = append(parts, a.OCRText)
		}
		if a.Summary != "" {
			parts = append(parts, a.Summary)
		}
		keys := make([]string, 0, len(a.Metadata))
		for key := range a.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if value := a.Metadata[key]; value != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", key, value))
			}
		}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts = append(parts, stem)

	return strings.Join(parts, " ")
}
