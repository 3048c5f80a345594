package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/config"
	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/extract"
	"github.com/AvengeMedia/tidysearch/internal/filestore"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/AvengeMedia/tidysearch/internal/textindex"
)

// Monitor registers a filesystem watch for a directory tree. Implemented by
// the watcher package; kept as an interface here to avoid a dependency cycle.
type Monitor interface {
	Watch(root string) error
}

type Status string

const (
	StatusIndexed Status = "indexed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// FileResult reports the outcome of indexing one file. Per-file failures are
// data, never propagated errors.
type FileResult struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type DirectoryResult struct {
	Directory  string `json:"directory"`
	Total      int    `json:"total"`
	Indexed    int    `json:"indexed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Monitoring bool   `json:"monitoring"`
}

type Stats struct {
	TotalFiles     int            `json:"total_files"`
	TotalBytes     int64          `json:"total_bytes"`
	Categories     map[string]int `json:"categories"`
	MonitoredRoots []string       `json:"monitored_roots"`
}

// Service maintains an eventually consistent, de-duplicated index of file
// trees across the file store and the full-text index.
type Service struct {
	store    *filestore.Store
	index    *textindex.Index
	analyzer extract.Analyzer
	cfg      *config.Config

	monitor Monitor

	mu             sync.Mutex
	monitoredRoots map[string]bool

	pathLocks sync.Map
}

func New(store *filestore.Store, index *textindex.Index, analyzer extract.Analyzer, cfg *config.Config) *Service {
	return &Service{
		store:          store,
		index:          index,
		analyzer:       analyzer,
		cfg:            cfg,
		monitoredRoots: make(map[string]bool),
	}
}

// SetMonitor wires in the filesystem watcher. Optional; without it
// IndexDirectory's monitor flag only logs.
func (s *Service) SetMonitor(m Monitor) {
	s.monitor = m
}

// IndexDirectory enumerates supported files under root and indexes them in
// fixed-size concurrent batches. Single-file failures are counted, never
// fatal. With monitor set, the root is registered with the filesystem
// watcher before the walk.
func (s *Service) IndexDirectory(ctx context.Context, root string, recursive, monitor bool) (*DirectoryResult, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed,
			fmt.Sprintf("invalid directory path: %s", root), err)
	}

	if monitor {
		s.registerMonitor(root)
	}

	files, err := s.collectFiles(root, recursive)
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, "walk failed", err)
	}

	log.Infof("found %d files to index in %s", len(files), root)

	res := &DirectoryResult{
		Directory:  root,
		Total:      len(files),
		Monitoring: monitor,
	}

	batchSize := s.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 10
	}

	workers := s.cfg.WorkerCount
	if workers < 1 {
		workers = 4
	}
	semaphore := make(chan struct{}, workers)

	for start := 0; start < len(files); start += batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[start:end]

		results := make([]*FileResult, len(batch))
		var wg sync.WaitGroup
		for n, path := range batch {
			wg.Add(1)
			go func(n int, path string) {
				defer wg.Done()
				semaphore <- struct{}{}
				defer func() { <-semaphore }()

				r, err := s.IndexFile(ctx, path)
				if err != nil {
					r = &FileResult{Path: path, Status: StatusFailed, Error: err.Error()}
				}
				results[n] = r
			}(n, path)
		}
		wg.Wait()

		for _, r := range results {
			switch r.Status {
			case StatusIndexed:
				res.Indexed++
			case StatusFailed:
				res.Failed++
				log.Debugf("failed to index %s: %s", r.Path, r.Error)
			default:
				res.Skipped++
			}
		}
	}

	return res, nil
}

func (s *Service) collectFiles(root string, recursive bool) ([]string, error) {
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				log.Debugf("permission denied: %s", path)
				return nil
			}
			return err
		}

		if info.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if s.cfg.IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func (s *Service) registerMonitor(root string) {
	s.mu.Lock()
	already := s.monitoredRoots[root]
	s.mu.Unlock()
	if already {
		return
	}

	if s.monitor == nil {
		log.Debugf("no monitor configured, skipping watch for %s", root)
		return
	}

	// Watch failures leave the root unmonitored but never fail indexing.
	if err := s.monitor.Watch(root); err != nil {
		log.Warnf("failed to start monitoring %s: %v", root, err)
		return
	}

	s.mu.Lock()
	s.monitoredRoots[root] = true
	s.mu.Unlock()
	log.Infof("started monitoring %s", root)
}

// IndexFile hashes, analyzes and indexes one file. Unchanged content with an
// unchanged modification time is an idempotent no-op. The returned error is
// non-nil only for structural store failures; extraction problems come back
// as a failed FileResult.
func (s *Service) IndexFile(ctx context.Context, path string) (*FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileResult{Path: path, Status: StatusSkipped}, nil
		}
		return &FileResult{Path: path, Status: StatusFailed, Error: err.Error()}, nil
	}
	if info.IsDir() {
		return &FileResult{Path: path, Status: StatusSkipped}, nil
	}

	// Concurrent indexing of different paths is fine; the same path must
	// serialize so the hash check and the two writes stay consistent.
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	hash, err := hashFile(path)
	if err != nil {
		return &FileResult{Path: path, Status: StatusFailed, Error: err.Error()}, nil
	}

	existing, found, err := s.store.Get(path)
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "file store read failed", err)
	}
	// Only a record whose full-text entry committed arms the skip: a failed
	// record with a matching hash still gets retried.
	if found && existing.ContentHash == hash && !info.ModTime().After(existing.ModifiedAt) &&
		existing.Status != filestore.StatusFailed {
		return &FileResult{Path: path, Status: StatusSkipped}, nil
	}

	analysis, err := s.analyzer.Analyze(ctx, path)
	if err != nil {
		s.recordFailure(path, found, err)
		return &FileResult{Path: path, Status: StatusFailed, Error: err.Error()}, nil
	}

	content := extract.SearchableContent(path, analysis)
	if int64(len(content)) > s.cfg.MaxContentBytes {
		content = content[:s.cfg.MaxContentBytes]
	}

	rec := s.buildRecord(path, info, hash, content, analysis, existing)

	entry := &textindex.Entry{
		Path:     rec.Path,
		Name:     rec.Name,
		Content:  rec.Content,
		Tags:     strings.Join(rec.Tags, ","),
		Category: rec.Category,
		Ext:      strings.ToLower(filepath.Ext(path)),
		Size:     rec.Size,
		Modified: rec.ModifiedAt,
		MimeType: rec.MimeType,
	}

	// Full-text entry first, record last: the record's hash arms the
	// idempotent skip, so it must never be durable before the entry it
	// vouches for. A failure or crash in between leaves the old record, and
	// the next re-index sees the hash mismatch and redoes both writes.
	if err := s.index.Update(entry); err != nil {
		s.recordFailure(path, found, err)
		return &FileResult{Path: path, Status: StatusFailed, Error: err.Error()}, nil
	}
	if err := s.store.Put(rec); err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "file store write failed", err)
	}

	log.Debugf("indexed %s", path)
	return &FileResult{Path: path, Status: StatusIndexed}, nil
}

func (s *Service) buildRecord(path string, info os.FileInfo, hash, content string, analysis *extract.Analysis, existing *filestore.IndexedFile) *filestore.IndexedFile {
	now := time.Now()

	rec := &filestore.IndexedFile{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		MimeType:    mimeType(path),
		ContentHash: hash,
		CreatedAt:   info.ModTime(),
		ModifiedAt:  info.ModTime(),
		IndexedAt:   now,
		Content:     content,
		Category:    "general",
		Status:      filestore.StatusIndexed,
	}

	if existing != nil {
		if !existing.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
		rec.Status = filestore.StatusUpdated
	}

	if analysis != nil {
		rec.Metadata = analysis.Metadata
		if analysis.Category != "" {
			rec.Category = analysis.Category
		}
		rec.Tags = mergeTags(analysis.Keywords, analysis.Tags)
	}

	return rec
}

// recordFailure makes a first-time failure durable so it shows up in stats.
// Paths with an existing record are left untouched: their previous
// consistent state must survive a failed update.
func (s *Service) recordFailure(path string, found bool, cause error) {
	if found {
		return
	}

	stub := &filestore.IndexedFile{
		Path:      path,
		Name:      filepath.Base(path),
		IndexedAt: time.Now(),
		Category:  "general",
		Status:    filestore.StatusFailed,
		Error:     cause.Error(),
	}
	if err := s.store.Put(stub); err != nil {
		log.Errorf("failed to record indexing failure for %s: %v", path, err)
	}
}

func mergeTags(keywords, tags []string) []string {
	seen := map[string]bool{}
	var merged []string
	for _, t := range append(append([]string{}, keywords...), tags...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	return merged
}

// Remove deletes the record and full-text entry for path. Idempotent: a path
// that was never indexed returns false without error.
func (s *Service) Remove(path string) (bool, error) {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	_, found, err := s.store.Get(path)
	if err != nil {
		return false, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "file store read failed", err)
	}

	if err := s.store.Delete(path); err != nil {
		return false, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "file store delete failed", err)
	}
	if err := s.index.Remove(path); err != nil {
		log.Debugf("full-text delete for %s: %v", path, err)
	}

	if found {
		log.Debugf("removed %s from index", path)
	}
	return found, nil
}

// Stats aggregates index contents. Read-only.
func (s *Service) Stats() (*Stats, error) {
	stats := &Stats{Categories: map[string]int{}}

	err := s.store.ForEach(func(rec *filestore.IndexedFile) error {
		stats.TotalFiles++
		stats.TotalBytes += rec.Size
		cat := rec.Category
		if cat == "" {
			cat = "unknown"
		}
		stats.Categories[cat]++
		return nil
	})
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "file store scan failed", err)
	}

	s.mu.Lock()
	for root := range s.monitoredRoots {
		stats.MonitoredRoots = append(stats.MonitoredRoots, root)
	}
	s.mu.Unlock()
	sort.Strings(stats.MonitoredRoots)

	return stats, nil
}

func (s *Service) lockFor(path string) *sync.Mutex {
	actual, _ := s.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func mimeType(path string) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		return "application/octet-stream"
	}
	if n := strings.IndexByte(mt, ';'); n >= 0 {
		mt = strings.TrimSpace(mt[:n])
	}
	return mt
}
