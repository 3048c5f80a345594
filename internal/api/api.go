package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/indexer"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/AvengeMedia/tidysearch/internal/offline"
	"github.com/AvengeMedia/tidysearch/internal/search"
	"github.com/danielgtaylor/huma/v2"
)

type SearchInterface interface {
	Search(ctx context.Context, q *search.Query) ([]search.Result, uint64, error)
}

type IndexerInterface interface {
	IndexDirectory(ctx context.Context, root string, recursive, monitor bool) (*indexer.DirectoryResult, error)
	IndexFile(ctx context.Context, path string) (*indexer.FileResult, error)
	Remove(path string) (bool, error)
	Stats() (*indexer.Stats, error)
}

type OfflineInterface interface {
	QueueOperation(opType offline.OperationType, path string, data map[string]any) (string, error)
	SyncNow(ctx context.Context) (*offline.SyncResult, error)
	SetOnlineStatus(ctx context.Context, online bool) (*offline.SyncResult, error)
	GetCachedSearch(query string) ([]search.Result, bool)
	CacheSearchResults(query string, results []search.Result) error
	Stats() *offline.CacheStats
	IsOnline() bool
}

type WatcherInterface interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type Server struct {
	Search  SearchInterface
	Indexer IndexerInterface
	Offline OfflineInterface
	Watcher WatcherInterface
}

type SearchInput struct {
	Query          string   `query:"q" required:"true" minLength:"1" doc:"Search query" example:"invoice from last month"`
	Type           string   `query:"type" enum:"exact,fuzzy,semantic,natural_language,regex," doc:"Search strategy (empty for natural_language)"`
	Limit          int      `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum results"`
	Offset         int      `query:"offset" minimum:"0" doc:"Result offset for pagination"`
	IncludeContent bool     `query:"include_content" doc:"Include matched content in results"`
	DateStart      string   `query:"date_start" doc:"Filter by modification date (RFC3339)" example:"2024-01-01T00:00:00Z"`
	DateEnd        string   `query:"date_end" doc:"Filter by modification date (RFC3339)" example:"2024-12-31T23:59:59Z"`
	FileTypes      []string `query:"ext" doc:"Filter by file extensions" example:".pdf"`
	Categories     []string `query:"category" doc:"Filter by categories" example:"document"`
	MinSize        int64    `query:"min_size" doc:"Minimum file size in bytes"`
	MaxSize        int64    `query:"max_size" doc:"Maximum file size in bytes"`
	NoCache        bool     `query:"no_cache" doc:"Bypass the search result cache"`
}

type SearchResponse struct {
	Results []search.Result `json:"results"`
	Total   uint64          `json:"total"`
	Cached  bool            `json:"cached"`
}

type SearchOutput struct {
	Body *SearchResponse
}

type IndexDirectoryInput struct {
	Body struct {
		Path      string `json:"path" minLength:"1" doc:"Directory to index" example:"/home/user/Documents"`
		Recursive bool   `json:"recursive,omitempty" doc:"Descend into subdirectories"`
		Monitor   bool   `json:"monitor,omitempty" doc:"Watch the directory for changes after indexing"`
	}
}

type IndexDirectoryOutput struct {
	Body *indexer.DirectoryResult
}

type IndexFileInput struct {
	Body struct {
		Path string `json:"path" minLength:"1" doc:"File to index" example:"/home/user/Documents/report.pdf"`
	}
}

type IndexFileOutput struct {
	Body *indexer.FileResult
}

type RemoveFileInput struct {
	Path string `query:"path" required:"true" minLength:"1" doc:"File to remove from the index"`
}

type RemoveFileOutput struct {
	Body struct {
		Removed bool `json:"removed"`
	}
}

type IndexStatsOutput struct {
	Body *indexer.Stats
}

type QueueOperationInput struct {
	Body struct {
		Type     string         `json:"operation_type" enum:"create,update,delete,rename,move" doc:"Operation type"`
		FilePath string         `json:"file_path" minLength:"1" doc:"Affected file path"`
		Data     map[string]any `json:"data,omitempty" doc:"Operation payload"`
	}
}

type QueueOperationOutput struct {
	Body struct {
		ID string `json:"id" doc:"Queued operation id"`
	}
}

type SyncOutput struct {
	Body *offline.SyncResult
}

type OnlineStatusInput struct {
	Body struct {
		Online bool `json:"online"`
	}
}

type OnlineStatusOutput struct {
	Body struct {
		Online bool                `json:"online"`
		Sync   *offline.SyncResult `json:"sync,omitempty"`
	}
}

type OfflineStatsOutput struct {
	Body *offline.CacheStats
}

type WatchStatusOutput struct {
	Body struct {
		Status string `json:"status" enum:"running,stopped" example:"running"`
	}
}

type WatchActionOutput struct {
	Body struct {
		Status string `json:"status" example:"watcher started"`
	}
}

// cacheKeyFor folds every result-shaping parameter into the cache key so
// distinct queries never collide.
func cacheKeyFor(input *SearchInput) string {
	return fmt.Sprintf("%s|%s|%d|%d|%v|%s|%s|%s|%s|%d|%d",
		input.Query, input.Type, input.Limit, input.Offset, input.IncludeContent,
		input.DateStart, input.DateEnd,
		strings.Join(input.FileTypes, ","), strings.Join(input.Categories, ","),
		input.MinSize, input.MaxSize)
}

func RegisterHandlers(srv *Server, api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "search",
		Summary:     "Search indexed files",
		Description: "Multi-strategy search: exact, fuzzy, semantic, natural language, or regex",
		Method:      "GET",
		Path:        "/search",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
		q := &search.Query{
			Text:           input.Query,
			Type:           search.ParseType(input.Type),
			Limit:          input.Limit,
			Offset:         input.Offset,
			IncludeContent: input.IncludeContent,
			FileTypes:      input.FileTypes,
			Categories:     input.Categories,
			MinSize:        input.MinSize,
			MaxSize:        input.MaxSize,
		}
		if input.DateStart != "" {
			t, err := time.Parse(time.RFC3339, input.DateStart)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid date_start", err)
			}
			q.DateStart = t
		}
		if input.DateEnd != "" {
			t, err := time.Parse(time.RFC3339, input.DateEnd)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid date_end", err)
			}
			q.DateEnd = t
		}

		cacheKey := cacheKeyFor(input)

		// Serve stale results rather than nothing while offline.
		if srv.Offline != nil && !srv.Offline.IsOnline() && !input.NoCache {
			if cached, ok := srv.Offline.GetCachedSearch(cacheKey); ok {
				return &SearchOutput{Body: &SearchResponse{
					Results: cached,
					Total:   uint64(len(cached)),
					Cached:  true,
				}}, nil
			}
		}

		results, total, err := srv.Search.Search(ctx, q)
		if err != nil {
			return nil, huma.Error500InternalServerError("search failed", err)
		}

		if srv.Offline != nil && !input.NoCache && len(results) > 0 {
			if err := srv.Offline.CacheSearchResults(cacheKey, results); err != nil {
				log.Debugf("failed to cache search results: %v", err)
			}
		}

		return &SearchOutput{Body: &SearchResponse{Results: results, Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "indexDirectory",
		Summary:     "Index a directory",
		Description: "Index all supported files under a directory, optionally monitoring it for changes",
		Method:      "POST",
		Path:        "/index/directory",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *IndexDirectoryInput) (*IndexDirectoryOutput, error) {
		result, err := srv.Indexer.IndexDirectory(ctx, input.Body.Path, input.Body.Recursive, input.Body.Monitor)
		if err != nil {
			return nil, huma.Error400BadRequest("indexing failed", err)
		}
		return &IndexDirectoryOutput{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "indexFile",
		Summary:     "Index a single file",
		Method:      "POST",
		Path:        "/index/file",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *IndexFileInput) (*IndexFileOutput, error) {
		result, err := srv.Indexer.IndexFile(ctx, input.Body.Path)
		if err != nil {
			return nil, huma.Error500InternalServerError("indexing failed", err)
		}
		return &IndexFileOutput{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "removeFile",
		Summary:     "Remove a file from the index",
		Method:      "DELETE",
		Path:        "/index/file",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *RemoveFileInput) (*RemoveFileOutput, error) {
		removed, err := srv.Indexer.Remove(input.Path)
		if err != nil {
			return nil, huma.Error500InternalServerError("removal failed", err)
		}

		out := &RemoveFileOutput{}
		out.Body.Removed = removed
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "indexStats",
		Summary:     "Get index statistics",
		Method:      "GET",
		Path:        "/index/stats",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *struct{}) (*IndexStatsOutput, error) {
		stats, err := srv.Indexer.Stats()
		if err != nil {
			return nil, huma.Error500InternalServerError("stats failed", err)
		}
		return &IndexStatsOutput{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queueOperation",
		Summary:     "Queue an offline operation",
		Description: "Record a file operation for replay when connectivity returns",
		Method:      "POST",
		Path:        "/offline/queue",
		Tags:        []string{"Offline"},
	}, func(ctx context.Context, input *QueueOperationInput) (*QueueOperationOutput, error) {
		id, err := srv.Offline.QueueOperation(offline.OperationType(input.Body.Type), input.Body.FilePath, input.Body.Data)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to queue operation", err)
		}

		out := &QueueOperationOutput{}
		out.Body.ID = id
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "syncNow",
		Summary:     "Sync queued operations",
		Method:      "POST",
		Path:        "/offline/sync",
		Tags:        []string{"Offline"},
	}, func(ctx context.Context, input *struct{}) (*SyncOutput, error) {
		result, err := srv.Offline.SyncNow(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("sync failed", err)
		}
		return &SyncOutput{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "setOnlineStatus",
		Summary:     "Set connectivity status",
		Description: "Going online triggers an immediate sync of queued operations",
		Method:      "POST",
		Path:        "/offline/status",
		Tags:        []string{"Offline"},
	}, func(ctx context.Context, input *OnlineStatusInput) (*OnlineStatusOutput, error) {
		sync, err := srv.Offline.SetOnlineStatus(ctx, input.Body.Online)
		if err != nil {
			return nil, huma.Error500InternalServerError("status change failed", err)
		}

		out := &OnlineStatusOutput{}
		out.Body.Online = input.Body.Online
		out.Body.Sync = sync
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offlineStats",
		Summary:     "Get offline cache statistics",
		Method:      "GET",
		Path:        "/offline/stats",
		Tags:        []string{"Offline"},
	}, func(ctx context.Context, input *struct{}) (*OfflineStatsOutput, error) {
		return &OfflineStatsOutput{Body: srv.Offline.Stats()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStart",
		Summary:     "Start file watcher",
		Method:      "POST",
		Path:        "/watch/start",
		Tags:        []string{"Watch"},
	}, func(ctx context.Context, input *struct{}) (*WatchActionOutput, error) {
		if srv.Watcher.IsRunning() {
			return nil, huma.Error409Conflict("watcher already running")
		}

		if err := srv.Watcher.Start(); err != nil {
			return nil, huma.Error500InternalServerError("failed to start watcher", err)
		}

		out := &WatchActionOutput{}
		out.Body.Status = "watcher started"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStop",
		Summary:     "Stop file watcher",
		Method:      "POST",
		Path:        "/watch/stop",
		Tags:        []string{"Watch"},
	}, func(ctx context.Context, input *struct{}) (*WatchActionOutput, error) {
		if !srv.Watcher.IsRunning() {
			return nil, huma.Error409Conflict("watcher not running")
		}

		if err := srv.Watcher.Stop(); err != nil {
			return nil, huma.Error500InternalServerError("failed to stop watcher", err)
		}

		out := &WatchActionOutput{}
		out.Body.Status = "watcher stopped"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStatus",
		Summary:     "Get watcher status",
		Method:      "GET",
		Path:        "/watch/status",
		Tags:        []string{"Watch"},
	}, func(ctx context.Context, input *struct{}) (*WatchStatusOutput, error) {
		status := "stopped"
		if srv.Watcher.IsRunning() {
			status = "running"
		}

		out := &WatchStatusOutput{}
		out.Body.Status = status
		return out, nil
	})
}
