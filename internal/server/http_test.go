package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/api"
	"github.com/AvengeMedia/tidysearch/internal/indexer"
	"github.com/AvengeMedia/tidysearch/internal/offline"
	"github.com/AvengeMedia/tidysearch/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSearch struct {
	lastQuery *search.Query
	results   []search.Result
	err       error
}

func (m *mockSearch) Search(ctx context.Context, q *search.Query) ([]search.Result, uint64, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.results, uint64(len(m.results)), nil
}

type mockIndexer struct{}

func (m *mockIndexer) IndexDirectory(ctx context.Context, root string, recursive, monitor bool) (*indexer.DirectoryResult, error) {
	return &indexer.DirectoryResult{Directory: root, Total: 3, Indexed: 2, Skipped: 1, Monitoring: monitor}, nil
}

func (m *mockIndexer) IndexFile(ctx context.Context, path string) (*indexer.FileResult, error) {
	return &indexer.FileResult{Path: path, Status: indexer.StatusIndexed}, nil
}

func (m *mockIndexer) Remove(path string) (bool, error) {
	return true, nil
}

func (m *mockIndexer) Stats() (*indexer.Stats, error) {
	return &indexer.Stats{TotalFiles: 5, Categories: map[string]int{"document": 5}}, nil
}

type mockOffline struct {
	online    bool
	cached    []search.Result
	cachedKey string
	storedKey string
	queuedOp  offline.OperationType
}

func (m *mockOffline) QueueOperation(opType offline.OperationType, path string, data map[string]any) (string, error) {
	m.queuedOp = opType
	return "abc123def4567890", nil
}

func (m *mockOffline) SyncNow(ctx context.Context) (*offline.SyncResult, error) {
	return &offline.SyncResult{Status: "completed", Synced: 2}, nil
}

func (m *mockOffline) SetOnlineStatus(ctx context.Context, online bool) (*offline.SyncResult, error) {
	wasOnline := m.online
	m.online = online
	if online && !wasOnline {
		return &offline.SyncResult{Status: "completed", Synced: 1}, nil
	}
	return nil, nil
}

func (m *mockOffline) GetCachedSearch(query string) ([]search.Result, bool) {
	m.cachedKey = query
	if m.cached == nil {
		return nil, false
	}
	return m.cached, true
}

func (m *mockOffline) CacheSearchResults(query string, results []search.Result) error {
	m.storedKey = query
	return nil
}

func (m *mockOffline) Stats() *offline.CacheStats {
	return &offline.CacheStats{IsOnline: m.online, PendingOperations: 1}
}

func (m *mockOffline) IsOnline() bool {
	return m.online
}

type mockWatcher struct {
	running bool
}

func (m *mockWatcher) Start() error {
	m.running = true
	return nil
}

func (m *mockWatcher) Stop() error {
	m.running = false
	return nil
}

func (m *mockWatcher) IsRunning() bool {
	return m.running
}

func newTestServer() (*HTTPServer, *mockSearch, *mockOffline, *mockWatcher) {
	se := &mockSearch{results: []search.Result{{FilePath: "/files/a.txt", FileName: "a.txt", Score: 1.0}}}
	off := &mockOffline{online: true}
	w := &mockWatcher{}
	srv := NewHTTP(":8080", &api.Server{
		Search:  se,
		Indexer: &mockIndexer{},
		Offline: off,
		Watcher: w,
	})
	return srv, se, off, w
}

func do(t *testing.T, srv *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestNewHTTP(t *testing.T) {
	srv, _, _, _ := newTestServer()

	require.NotNil(t, srv)
	require.NotNil(t, srv.server)
	assert.Equal(t, ":8080", srv.server.Addr)
}

func TestHTTPServer_Routes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"health endpoint", http.MethodGet, "/health", "", http.StatusOK},
		{"docs endpoint", http.MethodGet, "/docs", "", http.StatusOK},
		{"search endpoint", http.MethodGet, "/search?q=test", "", http.StatusOK},
		{"search missing query", http.MethodGet, "/search", "", http.StatusUnprocessableEntity},
		{"search bad date", http.MethodGet, "/search?q=test&date_start=yesterday", "", http.StatusBadRequest},
		{"index stats", http.MethodGet, "/index/stats", "", http.StatusOK},
		{"index directory", http.MethodPost, "/index/directory", `{"path":"/tmp/docs","recursive":true}`, http.StatusOK},
		{"index file", http.MethodPost, "/index/file", `{"path":"/tmp/docs/a.txt"}`, http.StatusOK},
		{"remove file", http.MethodDelete, "/index/file?path=/tmp/docs/a.txt", "", http.StatusOK},
		{"offline stats", http.MethodGet, "/offline/stats", "", http.StatusOK},
		{"offline sync", http.MethodPost, "/offline/sync", "", http.StatusOK},
		{"watch status", http.MethodGet, "/watch/status", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _, _ := newTestServer()
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHTTPServer_SearchResponse(t *testing.T) {
	srv, se, off, _ := newTestServer()

	rec := do(t, srv, http.MethodGet, "/search?q=budget&type=fuzzy&limit=5&ext=.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Total)
	assert.False(t, resp.Cached)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/files/a.txt", resp.Results[0].FilePath)

	require.NotNil(t, se.lastQuery)
	assert.Equal(t, "budget", se.lastQuery.Text)
	assert.Equal(t, search.TypeFuzzy, se.lastQuery.Type)
	assert.Equal(t, 5, se.lastQuery.Limit)
	assert.Equal(t, []string{".pdf"}, se.lastQuery.FileTypes)

	// Successful online searches land in the offline cache.
	assert.True(t, strings.HasPrefix(off.storedKey, "budget|"))
}

func TestHTTPServer_SearchServesCacheWhenOffline(t *testing.T) {
	srv, se, off, _ := newTestServer()
	off.online = false
	off.cached = []search.Result{{FilePath: "/files/cached.txt", FileName: "cached.txt"}}

	rec := do(t, srv, http.MethodGet, "/search?q=budget", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/files/cached.txt", resp.Results[0].FilePath)
	assert.Nil(t, se.lastQuery, "cached responses must not hit the engine")
}

func TestHTTPServer_SearchNoCacheBypassesCache(t *testing.T) {
	srv, se, off, _ := newTestServer()
	off.online = false
	off.cached = []search.Result{{FilePath: "/files/cached.txt"}}

	rec := do(t, srv, http.MethodGet, "/search?q=budget&no_cache=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	require.NotNil(t, se.lastQuery)
	assert.Empty(t, off.storedKey, "no_cache must skip cache writes too")
}

func TestHTTPServer_IndexDirectory(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := do(t, srv, http.MethodPost, "/index/directory", `{"path":"/tmp/docs","recursive":true,"monitor":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result indexer.DirectoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "/tmp/docs", result.Directory)
	assert.Equal(t, 2, result.Indexed)
	assert.True(t, result.Monitoring)
}

func TestHTTPServer_QueueOperation(t *testing.T) {
	srv, _, off, _ := newTestServer()

	rec := do(t, srv, http.MethodPost, "/offline/queue", `{"operation_type":"delete","file_path":"/files/a.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.ID, 16)
	assert.Equal(t, offline.OpDelete, off.queuedOp)
}

func TestHTTPServer_SetOnlineStatus(t *testing.T) {
	srv, _, off, _ := newTestServer()
	off.online = false

	rec := do(t, srv, http.MethodPost, "/offline/status", `{"online":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Online bool                `json:"online"`
		Sync   *offline.SyncResult `json:"sync"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Online)
	require.NotNil(t, resp.Sync)
	assert.Equal(t, 1, resp.Sync.Synced)
}

func TestHTTPServer_WatchLifecycle(t *testing.T) {
	srv, _, _, w := newTestServer()

	rec := do(t, srv, http.MethodPost, "/watch/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "stopping a stopped watcher conflicts")

	rec = do(t, srv, http.MethodPost, "/watch/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, w.running)

	rec = do(t, srv, http.MethodPost, "/watch/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "starting a running watcher conflicts")

	rec = do(t, srv, http.MethodGet, "/watch/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = do(t, srv, http.MethodPost, "/watch/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, w.running)
}

func TestHTTPServer_Shutdown(t *testing.T) {
	srv, _, _, _ := newTestServer()
	srv.server.Addr = ":0"

	go func() {
		srv.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
