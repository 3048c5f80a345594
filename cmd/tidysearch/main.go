package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/api"
	"github.com/AvengeMedia/tidysearch/internal/config"
	"github.com/AvengeMedia/tidysearch/internal/extract"
	"github.com/AvengeMedia/tidysearch/internal/filestore"
	"github.com/AvengeMedia/tidysearch/internal/indexer"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/AvengeMedia/tidysearch/internal/offline"
	"github.com/AvengeMedia/tidysearch/internal/search"
	"github.com/AvengeMedia/tidysearch/internal/server"
	"github.com/AvengeMedia/tidysearch/internal/textindex"
	"github.com/AvengeMedia/tidysearch/internal/watcher"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	Version   string = "dev"
	buildTime string = "unknown"
	commit    string = "unknown"

	configFile string
	dataDir    string
	listenAddr string
	workers    int
	debug      bool
	noWatch    bool

	indexRecursive bool
	indexMonitor   bool

	searchType    string
	searchLimit   int
	searchOffset  int
	searchContent bool
	searchJSON    bool

	offlineOnline bool
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	scoreStyle   = lipgloss.NewStyle().Faint(true)
	snippetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(3)
)

var rootCmd = &cobra.Command{
	Use:   "tidysearch",
	Short: "File analysis and search service",
	Long:  "Indexes files with content analysis and serves multi-strategy search with offline support",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetDebug(debug)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search service",
	RunE:  runServe,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the search index",
}

var indexAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Index a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexAdd,
}

var indexRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a file from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexRemove,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	RunE:  runIndexStatus,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Manage the offline cache and sync queue",
}

var offlineSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued operations against the index",
	RunE:  runOfflineSync,
}

var offlineStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show offline cache statistics",
	RunE:  runOfflineStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		log.Infof("tidysearch version %s", Version)
		log.Infof("  Build time: %s", buildTime)
		log.Infof("  Commit: %s", commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ~/.config/tidysearch/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd.Flags().StringVar(&dataDir, "data", "", "data directory")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address")
	serveCmd.Flags().IntVar(&workers, "workers", 0, "number of indexing workers")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable filesystem monitoring")

	indexAddCmd.Flags().BoolVar(&indexRecursive, "recursive", true, "descend into subdirectories")
	indexAddCmd.Flags().BoolVar(&indexMonitor, "monitor", false, "watch the directory for changes")

	searchCmd.Flags().StringVarP(&searchType, "type", "t", "", "search strategy: exact, fuzzy, semantic, natural_language, regex")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of results")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "result offset")
	searchCmd.Flags().BoolVar(&searchContent, "content", false, "include matched content")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results in JSON format")

	offlineSyncCmd.Flags().BoolVar(&offlineOnline, "online", true, "treat the backend as reachable")

	indexCmd.AddCommand(indexAddCmd)
	indexCmd.AddCommand(indexRemoveCmd)
	indexCmd.AddCommand(indexStatusCmd)

	offlineCmd.AddCommand(offlineSyncCmd)
	offlineCmd.AddCommand(offlineStatsCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(offlineCmd)
	rootCmd.AddCommand(versionCmd)
}

func buildConfig() *config.Config {
	cfgPath := configFile
	if cfgPath == "" {
		cfgPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if workers > 0 {
		cfg.WorkerCount = workers
	}

	return cfg
}

// components bundles the storage and index layers every command needs.
type components struct {
	cfg    *config.Config
	store  *filestore.Store
	index  *textindex.Index
	idx    *indexer.Service
	engine *search.Engine
}

func openComponents() (*components, error) {
	cfg := buildConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	store, err := filestore.New(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	index, err := textindex.Open(cfg.IndexPath())
	if err != nil {
		store.Close()
		return nil, err
	}

	analyzer := extract.NewLocal(cfg.MaxContentBytes)
	idx := indexer.New(store, index, analyzer, cfg)
	engine := search.NewEngine(index, store, nil, cfg)

	return &components{
		cfg:    cfg,
		store:  store,
		index:  index,
		idx:    idx,
		engine: engine,
	}, nil
}

func (c *components) Close() {
	c.index.Close()
	c.store.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	w, err := watcher.New(comp.idx, comp.cfg)
	if err != nil {
		return err
	}
	comp.idx.SetMonitor(w)

	if !noWatch {
		if err := w.Start(); err != nil {
			log.Errorf("failed to start watcher: %v", err)
			log.Infof("continuing without file watching")
		}
	}

	off, err := offline.New(comp.cfg, offline.NewIndexBackend(comp.idx))
	if err != nil {
		return err
	}
	defer off.Close()
	off.Start()
	defer off.Stop()

	srv := &api.Server{
		Search:  comp.engine,
		Indexer: comp.idx,
		Offline: off,
		Watcher: w,
	}
	httpServer := server.NewHTTP(comp.cfg.ListenAddr, srv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		log.Infof("received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if w.IsRunning() {
			w.Stop()
		}

		return httpServer.Shutdown(ctx)
	}
}

func runIndexAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if !info.IsDir() {
		result, err := comp.idx.IndexFile(ctx, path)
		if err != nil {
			return err
		}
		if result.Status == indexer.StatusFailed {
			return fmt.Errorf("indexing failed: %s", result.Error)
		}
		log.Infof("%s: %s", path, result.Status)
		return nil
	}

	result, err := comp.idx.IndexDirectory(ctx, path, indexRecursive, indexMonitor)
	if err != nil {
		return err
	}

	log.Infof("indexed %s: %d total, %d indexed, %d skipped, %d failed",
		result.Directory, result.Total, result.Indexed, result.Skipped, result.Failed)
	return nil
}

func runIndexRemove(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	removed, err := comp.idx.Remove(path)
	if err != nil {
		return err
	}

	if removed {
		log.Infof("removed %s", path)
	} else {
		log.Infof("%s was not indexed", path)
	}
	return nil
}

func runIndexStatus(cmd *cobra.Command, args []string) error {
	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	stats, err := comp.idx.Stats()
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Index Statistics"))
	fmt.Printf("  Total files: %d\n", stats.TotalFiles)
	fmt.Printf("  Total size:  %s\n", formatSize(stats.TotalBytes))
	for category, count := range stats.Categories {
		fmt.Printf("  %-12s %d\n", category+":", count)
	}
	if len(stats.MonitoredRoots) > 0 {
		fmt.Printf("  Monitored:   %v\n", stats.MonitoredRoots)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	q := &search.Query{
		Text:           args[0],
		Type:           search.ParseType(searchType),
		Limit:          searchLimit,
		Offset:         searchOffset,
		IncludeContent: searchContent,
	}

	results, total, err := comp.engine.Search(context.Background(), q)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d results (%d total)", len(results), total)))
	for i, r := range results {
		fmt.Printf("%d. %s %s\n", i+1,
			pathStyle.Render(r.FilePath),
			scoreStyle.Render(fmt.Sprintf("(score: %.4f, %s)", r.Score, formatSize(r.FileSize))))
		for _, h := range r.Highlights {
			fmt.Println(snippetStyle.Render(h))
		}
	}
	return nil
}

func runOfflineSync(cmd *cobra.Command, args []string) error {
	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	off, err := offline.New(comp.cfg, offline.NewIndexBackend(comp.idx))
	if err != nil {
		return err
	}
	defer off.Close()

	if !offlineOnline {
		log.Infof("backend marked offline, %d operations pending", off.PendingCount())
		return nil
	}

	result, err := off.SyncNow(context.Background())
	if err != nil {
		return err
	}

	log.Infof("sync %s: %d synced, %d failed, %d conflicts",
		result.Status, result.Synced, result.Failed, result.Conflicts)
	return nil
}

func runOfflineStats(cmd *cobra.Command, args []string) error {
	comp, err := openComponents()
	if err != nil {
		return err
	}
	defer comp.Close()

	off, err := offline.New(comp.cfg, nil)
	if err != nil {
		return err
	}
	defer off.Close()

	stats := off.Stats()

	fmt.Println(headerStyle.Render("Offline Cache"))
	fmt.Printf("  Online:      %v\n", stats.IsOnline)
	fmt.Printf("  Pending ops: %d\n", stats.PendingOperations)
	fmt.Printf("  Cache hits:  %d\n", stats.CacheHits)
	fmt.Printf("  Cache miss:  %d\n", stats.CacheMisses)
	fmt.Printf("  Cache size:  %s\n", formatSize(stats.CacheSizeBytes))
	return nil
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
