package offline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/cache"
	"github.com/AvengeMedia/tidysearch/internal/config"
	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/extract"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/AvengeMedia/tidysearch/internal/search"
	bolt "go.etcd.io/bbolt"
)

var (
	fileCacheBucket   = []byte("file_cache")
	searchCacheBucket = []byte("search_cache")
	syncQueueBucket   = []byte("sync_queue")
)

type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpRename OperationType = "rename"
	OpMove   OperationType = "move"
)

type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncFailed   SyncStatus = "failed"
)

// Operation is a durable record of a mutation queued while the backend was
// (or might have been) unreachable.
type Operation struct {
	ID         string         `json:"id"`
	Type       OperationType  `json:"operation_type"`
	FilePath   string         `json:"file_path"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
	Status     SyncStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`

	seq uint64
}

// Outcome is the backend's verdict for one synced operation.
type Outcome struct {
	Status string // success, conflict, error
	Err    error
}

// Backend is the authoritative store operations are replayed against once
// connectivity returns.
type Backend interface {
	Apply(ctx context.Context, op *Operation) Outcome
}

// CachedFile is a size-bounded local copy of file data for offline reads.
type CachedFile struct {
	Path        string            `json:"path"`
	Hash        string            `json:"hash"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Analysis    *extract.Analysis `json:"analysis,omitempty"`
	CachedAt    time.Time         `json:"cached_at"`
	AccessedAt  time.Time         `json:"accessed_at"`
	AccessCount int               `json:"access_count"`
	SizeBytes   int64             `json:"size_bytes"`
}

type cachedSearch struct {
	QueryText   string          `json:"query_text"`
	Results     []search.Result `json:"results"`
	CachedAt    time.Time       `json:"cached_at"`
	AccessedAt  time.Time       `json:"accessed_at"`
	AccessCount int             `json:"access_count"`
}

type SyncResult struct {
	Status    string `json:"status"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Conflicts int    `json:"conflicts"`
}

type CacheStats struct {
	IsOnline          bool   `json:"is_online"`
	PendingOperations int    `json:"pending_operations"`
	CacheHits         uint64 `json:"cache_hits"`
	CacheMisses       uint64 `json:"cache_misses"`
	CacheSizeBytes    int64  `json:"cache_size_bytes"`
}

// Manager keeps search and file operations usable while the authoritative
// backend is unreachable: reads come from a local cache, mutations go to a
// durable FIFO queue replayed on reconnect.
type Manager struct {
	cfg     *config.Config
	db      *bolt.DB
	backend Backend

	memory cache.Cache[string, *CachedFile]

	mu     sync.Mutex
	online bool
	queue  []*Operation

	hits   uint64
	misses uint64

	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg *config.Config, backend Backend) (*Manager, error) {
	if err := os.MkdirAll(cfg.FileCacheDir(), 0755); err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeCacheFailed, "failed to create cache dir", err)
	}

	db, err := bolt.Open(cfg.OfflinePath(), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to open offline store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{fileCacheBucket, searchCacheBucket, syncQueueBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to init offline store", err)
	}

	m := &Manager{
		cfg:     cfg,
		db:      db,
		backend: backend,
		memory:  cache.NewLRU[string, *CachedFile](cfg.MemoryCacheEntries),
		online:  true,
		done:    make(chan struct{}),
	}

	if err := m.loadPendingOperations(); err != nil {
		db.Close()
		return nil, err
	}

	return m, nil
}

// loadPendingOperations requeues pending and failed operations in queue
// order. Synced and conflict entries stay put.
func (m *Manager) loadPendingOperations() error {
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(syncQueueBucket).ForEach(func(k, v []byte) error {
			op := &Operation{}
			if err := json.Unmarshal(v, op); err != nil {
				return err
			}
			if op.Status != SyncPending && op.Status != SyncFailed {
				return nil
			}
			op.seq = binary.BigEndian.Uint64(k)
			m.queue = append(m.queue, op)
			return nil
		})
	})
	if err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to load sync queue", err)
	}

	if len(m.queue) > 0 {
		log.Infof("loaded %d pending offline operations", len(m.queue))
	}
	return nil
}

// Start launches the background loop: every sync interval it drains the
// queue when online and runs cache cleanup with the configured thresholds.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		interval := time.Duration(m.cfg.SyncIntervalSecs) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				if m.IsOnline() && m.PendingCount() > 0 {
					if _, err := m.SyncNow(context.Background()); err != nil {
						log.Errorf("background sync failed: %v", err)
					}
				}
				if err := m.CleanupCache(m.cfg.CacheMaxAgeDays, m.cfg.CacheMaxSizeMB); err != nil {
					log.Errorf("cache cleanup failed: %v", err)
				}
			}
		}
	}()

	log.Infof("offline manager started")
}

func (m *Manager) Stop() {
	close(m.done)
	m.wg.Wait()
	log.Infof("offline manager stopped")
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// CacheFile stores a size-bounded copy of file data: a truncated row always,
// the full content on disk only below the configured copy limit.
func (m *Manager) CacheFile(path, content string, metadata map[string]string, analysis *extract.Analysis) error {
	now := time.Now()
	hash := keyHash(path)

	row := &CachedFile{
		Path:       path,
		Hash:       hash,
		Content:    truncate(content, 10000),
		Metadata:   metadata,
		Analysis:   analysis,
		CachedAt:   now,
		AccessedAt: now,
		SizeBytes:  int64(len(content)),
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileCacheBucket).Put([]byte(path), data)
	})
	if err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeCacheFailed, "failed to cache file", err)
	}

	mem := *row
	mem.Content = truncate(content, 1000)
	m.memory.Put(path, &mem)

	if int64(len(content)) < m.cfg.FileCacheFullCopy {
		full := filepath.Join(m.cfg.FileCacheDir(), hash)
		if err := os.WriteFile(full, []byte(content), 0600); err != nil {
			log.Debugf("failed to write full cache copy for %s: %v", path, err)
		}
	}

	log.Debugf("cached file %s", path)
	return nil
}

// GetCachedFile serves from the memory cache first, then from the
// persistent cache, promoting persistent hits into memory.
func (m *Manager) GetCachedFile(path string) (*CachedFile, bool) {
	if row, ok := m.memory.Get(path); ok {
		m.countHit()
		return row, true
	}

	var row *CachedFile
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(fileCacheBucket)
		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}

		row = &CachedFile{}
		if err := json.Unmarshal(v, row); err != nil {
			return err
		}

		row.AccessedAt = time.Now()
		row.AccessCount++
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(path), data)
	})
	if err != nil {
		log.Errorf("cached file lookup failed for %s: %v", path, err)
		m.countMiss()
		return nil, false
	}
	if row == nil {
		m.countMiss()
		return nil, false
	}

	// Prefer the full on-disk copy when one was small enough to keep.
	full := filepath.Join(m.cfg.FileCacheDir(), row.Hash)
	if data, err := os.ReadFile(full); err == nil {
		row.Content = string(data)
	}

	m.countHit()
	m.memory.Put(path, row)
	return row, true
}

// CacheSearchResults stores results keyed by a hash of the query text.
func (m *Manager) CacheSearchResults(query string, results []search.Result) error {
	now := time.Now()
	row := &cachedSearch{
		QueryText:  query,
		Results:    results,
		CachedAt:   now,
		AccessedAt: now,
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(searchCacheBucket).Put([]byte(keyHash(query)), data)
	})
	if err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeCacheFailed, "failed to cache search results", err)
	}

	log.Debugf("cached search results for %q", truncate(query, 50))
	return nil
}

// GetCachedSearch returns cached results for query. Entries older than the
// configured TTL are treated as misses even though the row still exists.
func (m *Manager) GetCachedSearch(query string) ([]search.Result, bool) {
	key := []byte(keyHash(query))
	ttl := time.Duration(m.cfg.SearchCacheTTLHrs) * time.Hour

	var row *cachedSearch
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(searchCacheBucket)
		v := b.Get(key)
		if v == nil {
			return nil
		}

		r := &cachedSearch{}
		if err := json.Unmarshal(v, r); err != nil {
			return err
		}

		if time.Since(r.CachedAt) >= ttl {
			return nil
		}

		r.AccessedAt = time.Now()
		r.AccessCount++
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		log.Errorf("cached search lookup failed: %v", err)
		m.countMiss()
		return nil, false
	}
	if row == nil {
		m.countMiss()
		return nil, false
	}

	m.countHit()
	return row.Results, true
}

// CleanupCache drops rows older than maxAgeDays and, if the cache still
// exceeds maxSizeMB, evicts the least-recently-accessed quarter of file
// rows in one sweep.
func (m *Manager) CleanupCache(maxAgeDays, maxSizeMB int) error {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	err := m.db.Update(func(tx *bolt.Tx) error {
		type rowInfo struct {
			key      []byte
			accessed time.Time
			size     int64
		}

		var rows []rowInfo
		var totalSize int64

		fileBucket := tx.Bucket(fileCacheBucket)
		err := fileBucket.ForEach(func(k, v []byte) error {
			row := &CachedFile{}
			if err := json.Unmarshal(v, row); err != nil {
				return err
			}
			rows = append(rows, rowInfo{
				key:      append([]byte(nil), k...),
				accessed: row.AccessedAt,
				size:     row.SizeBytes,
			})
			return nil
		})
		if err != nil {
			return err
		}

		var kept []rowInfo
		for _, r := range rows {
			if r.accessed.Before(cutoff) {
				if err := fileBucket.Delete(r.key); err != nil {
					return err
				}
				continue
			}
			kept = append(kept, r)
			totalSize += r.size
		}

		searchBucket := tx.Bucket(searchCacheBucket)
		var staleSearch [][]byte
		err = searchBucket.ForEach(func(k, v []byte) error {
			row := &cachedSearch{}
			if err := json.Unmarshal(v, row); err != nil {
				return err
			}
			if row.AccessedAt.Before(cutoff) {
				staleSearch = append(staleSearch, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range staleSearch {
			if err := searchBucket.Delete(k); err != nil {
				return err
			}
		}

		if totalSize <= int64(maxSizeMB)*1024*1024 {
			return nil
		}

		// Bulk LRU sweep: oldest-accessed quarter goes in one pass.
		sort.Slice(kept, func(i, j int) bool {
			return kept[i].accessed.Before(kept[j].accessed)
		})
		evict := len(kept) / 4
		for _, r := range kept[:evict] {
			if err := fileBucket.Delete(r.key); err != nil {
				return err
			}
			m.memory.Evict(string(r.key))
		}
		return nil
	})
	if err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeCacheFailed, "cache cleanup failed", err)
	}

	// On-disk full copies age out on the same cutoff.
	entries, err := os.ReadDir(m.cfg.FileCacheDir())
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(m.cfg.FileCacheDir(), entry.Name()))
		}
	}

	log.Debugf("cache cleanup completed")
	return nil
}

// QueueOperation records a mutation for later replay. Always succeeds while
// the store is writable; callers may queue defensively even when online.
func (m *Manager) QueueOperation(opType OperationType, path string, data map[string]any) (string, error) {
	now := time.Now()
	id := operationID(path, now)

	op := &Operation{
		ID:        id,
		Type:      opType,
		FilePath:  path,
		Timestamp: now,
		Data:      data,
		Status:    SyncPending,
	}

	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(syncQueueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		op.seq = seq
		return putOperation(b, op)
	})
	if err != nil {
		return "", errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to persist operation", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, op)
	m.mu.Unlock()

	log.Debugf("queued offline operation %s (%s %s)", id, opType, path)
	return id, nil
}

// SyncNow drains the queue FIFO against the backend. Offline is a no-op.
// Failures retry up to the configured attempt cap, conflicts go through the
// configured policy, and one bad operation never halts the drain.
func (m *Manager) SyncNow(ctx context.Context) (*SyncResult, error) {
	if !m.IsOnline() {
		return &SyncResult{Status: "offline"}, nil
	}
	if m.backend == nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeSyncFailed, "no sync backend configured", nil)
	}

	res := &SyncResult{Status: "completed"}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			break
		}
		op := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		op.Status = SyncSyncing
		outcome := m.backend.Apply(ctx, op)

		switch outcome.Status {
		case "success":
			res.Synced++
			if err := m.deleteOperation(op); err != nil {
				log.Errorf("failed to remove synced operation %s: %v", op.ID, err)
			}
		case "conflict":
			res.Conflicts++
			m.handleConflict(op)
		default:
			op.RetryCount++
			if outcome.Err != nil {
				op.Error = outcome.Err.Error()
			}
			if op.RetryCount < m.cfg.MaxSyncRetries {
				op.Status = SyncPending
				m.persistOperation(op)
				m.mu.Lock()
				m.queue = append(m.queue, op)
				m.mu.Unlock()
			} else {
				op.Status = SyncFailed
				m.persistOperation(op)
				res.Failed++
				log.Warnf("operation %s failed after %d attempts: %s", op.ID, op.RetryCount, op.Error)
			}
		}
	}

	return res, nil
}

func (m *Manager) handleConflict(op *Operation) {
	switch m.cfg.ConflictPolicy {
	case "client_wins":
		if forced, _ := op.Data["force"].(bool); forced {
			// A forced retry that still conflicts has nowhere to go.
			op.Status = SyncFailed
			m.persistOperation(op)
			return
		}
		if op.Data == nil {
			op.Data = map[string]any{}
		}
		op.Data["force"] = true
		op.Status = SyncPending
		m.persistOperation(op)
		m.mu.Lock()
		m.queue = append(m.queue, op)
		m.mu.Unlock()
	case "manual":
		// Left for human resolution; visible in stats, never auto-requeued.
		op.Status = SyncConflict
		m.persistOperation(op)
		log.Warnf("manual conflict resolution needed for %s", op.FilePath)
	default: // server_wins
		op.Status = SyncConflict
		if err := m.deleteOperation(op); err != nil {
			log.Errorf("failed to discard conflicted operation %s: %v", op.ID, err)
		}
		log.Infof("conflict resolved, server wins for %s", op.FilePath)
	}
}

// SetOnlineStatus flips connectivity. Coming online triggers an immediate
// sync; going offline just lets the queue grow.
func (m *Manager) SetOnlineStatus(ctx context.Context, online bool) (*SyncResult, error) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		log.Infof("going online, starting sync")
		return m.SyncNow(ctx)
	}
	if !online && wasOnline {
		log.Infof("going offline, operations will be queued")
	}
	return nil, nil
}

func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) Stats() *CacheStats {
	var cacheSize int64
	if entries, err := os.ReadDir(m.cfg.FileCacheDir()); err == nil {
		for _, entry := range entries {
			if info, err := entry.Info(); err == nil {
				cacheSize += info.Size()
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &CacheStats{
		IsOnline:          m.online,
		PendingOperations: len(m.queue),
		CacheHits:         m.hits,
		CacheMisses:       m.misses,
		CacheSizeBytes:    cacheSize,
	}
}

func (m *Manager) persistOperation(op *Operation) {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return putOperation(tx.Bucket(syncQueueBucket), op)
	})
	if err != nil {
		log.Errorf("failed to persist operation %s: %v", op.ID, err)
	}
}

func (m *Manager) deleteOperation(op *Operation) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(syncQueueBucket).Delete(seqKey(op.seq))
	})
}

func (m *Manager) countHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Manager) countMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func putOperation(b *bolt.Bucket, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return b.Put(seqKey(op.seq), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func operationID(path string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", path, ts.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
