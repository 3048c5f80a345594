// Package nlparse extracts structured search intent from free-text queries.
// Parsing is best-effort and never fails: a sub-extraction that finds nothing
// leaves its field empty.
package nlparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parsed is the structured intent recovered from a query.
type Parsed struct {
	Keywords   []string
	DateStart  time.Time
	DateEnd    time.Time
	FileTypes  []string
	Categories []string
	MinSize    int64
	MaxSize    int64
}

func (p *Parsed) HasDateRange() bool {
	return !p.DateStart.IsZero()
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "and": true,
	"or": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "me": true, "my": true, "all": true,
	"that": true, "this": true, "these": true, "those": true,
	"from": true, "since": true, "after": true, "before": true,
	"than": true, "last": true, "show": true, "find": true, "get": true,
	"larger": true, "bigger": true, "smaller": true, "less": true,
	"yesterday": true, "today": true, "week": true, "month": true,
	"year": true,
}

var sizeUnits = map[string]int64{
	"kb": 1024,
	"mb": 1024 * 1024,
	"gb": 1024 * 1024 * 1024,
}

var fileTypeMappings = []struct {
	name string
	exts []string
}{
	{"images", []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}},
	{"documents", []string{".pdf", ".doc", ".docx", ".txt"}},
	{"spreadsheets", []string{".xls", ".xlsx", ".csv"}},
	{"presentations", []string{".ppt", ".pptx"}},
	{"videos", []string{".mp4", ".avi", ".mov", ".mkv"}},
	{"code", []string{".py", ".js", ".java", ".cpp", ".html"}},
}

var categoryKeywords = map[string][]string{
	"invoice":      {"invoice", "bill", "payment"},
	"report":       {"report", "analysis", "summary"},
	"presentation": {"presentation", "slides", "deck"},
	"photo":        {"photo", "picture", "image"},
	"contract":     {"contract", "agreement", "legal"},
}

var (
	tokenRe     = regexp.MustCompile(`[a-z0-9]+`)
	absDateRe   = regexp.MustCompile(`(from|since|after)\s+(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	sizeRe      = regexp.MustCompile(`(larger|bigger|smaller|less)\s+than\s+(\d+)\s*(kb|mb|gb)?`)
	extRe       = regexp.MustCompile(`\b\w+\.(pdf|doc|docx|txt|jpg|png|mp4|zip)\b`)
	sizeTokenRe = regexp.MustCompile(`^\d+(kb|mb|gb)$`)
)

// Ordered so a query naming several ranges always resolves the same way:
// the narrowest mentioned range wins.
var relativeRanges = []struct {
	phrase string
	span   time.Duration
}{
	{"today", 0},
	{"yesterday", 24 * time.Hour},
	{"last week", 7 * 24 * time.Hour},
	{"last month", 30 * 24 * time.Hour},
	{"last year", 365 * 24 * time.Hour},
}

// Parse tokenizes query and extracts keywords, date ranges, size constraints,
// file-type hints and category hints.
func Parse(query string) *Parsed {
	lower := strings.ToLower(query)

	p := &Parsed{}
	p.Keywords = extractKeywords(lower)
	p.DateStart, p.DateEnd = extractDateRange(lower)
	p.FileTypes = extractFileTypes(lower)
	p.MinSize, p.MaxSize = extractSizeConstraints(lower)
	p.Categories = extractCategories(lower)
	return p
}

func extractKeywords(lower string) []string {
	var keywords []string
	for _, tok := range tokenRe.FindAllString(lower, -1) {
		if stopWords[tok] {
			continue
		}
		if sizeTokenRe.MatchString(tok) {
			continue
		}
		keywords = append(keywords, tok)
	}
	return keywords
}

func extractDateRange(lower string) (time.Time, time.Time) {
	now := time.Now()

	for _, r := range relativeRanges {
		if strings.Contains(lower, r.phrase) {
			return now.Add(-r.span), now
		}
	}

	if m := absDateRe.FindStringSubmatch(lower); m != nil {
		dateStr := strings.ReplaceAll(m[2], "/", "-")
		for _, layout := range []string{"1-2-2006", "1-2-06"} {
			if start, err := time.Parse(layout, dateStr); err == nil {
				return start, now
			}
		}
	}

	return time.Time{}, time.Time{}
}

func extractFileTypes(lower string) []string {
	seen := map[string]bool{}
	var types []string

	add := func(ext string) {
		if !seen[ext] {
			seen[ext] = true
			types = append(types, ext)
		}
	}

	for _, mapping := range fileTypeMappings {
		if strings.Contains(lower, mapping.name) {
			for _, ext := range mapping.exts {
				add(ext)
			}
		}
	}

	for _, m := range extRe.FindAllStringSubmatch(lower, -1) {
		add("." + m[1])
	}

	return types
}

func extractSizeConstraints(lower string) (minSize, maxSize int64) {
	m := sizeRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0
	}

	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0
	}

	unit := m[3]
	mult, ok := sizeUnits[unit]
	if !ok {
		mult = sizeUnits["mb"]
	}

	size := n * mult
	if m[1] == "larger" || m[1] == "bigger" {
		return size, 0
	}
	return 0, size
}

var categoryOrder = []string{"invoice", "report", "presentation", "photo", "contract"}

func extractCategories(lower string) []string {
	var categories []string
	for _, category := range categoryOrder {
		for _, word := range categoryKeywords[category] {
			if strings.Contains(lower, word) {
				categories = append(categories, category)
				break
			}
		}
	}
	return categories
}
