package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir    string `toml:"data_dir"`
	CacheDir   string `toml:"cache_dir"`
	ListenAddr string `toml:"listen_addr"`

	SupportedExts   []string `toml:"supported_extensions"`
	MaxContentBytes int64    `toml:"max_content_bytes"`
	BatchSize       int      `toml:"batch_size"`
	WorkerCount     int      `toml:"worker_count"`
	DebounceMillis  int      `toml:"debounce_millis"`

	ScanLimit         int     `toml:"scan_limit"`
	SemanticThreshold float64 `toml:"semantic_threshold"`
	RerankWeight      float64 `toml:"rerank_weight"`

	SyncIntervalSecs   int    `toml:"sync_interval_secs"`
	MaxSyncRetries     int    `toml:"max_sync_retries"`
	ConflictPolicy     string `toml:"conflict_policy"`
	CacheMaxAgeDays    int    `toml:"cache_max_age_days"`
	CacheMaxSizeMB     int    `toml:"cache_max_size_mb"`
	SearchCacheTTLHrs  int    `toml:"search_cache_ttl_hours"`
	FileCacheFullCopy  int64  `toml:"file_cache_full_copy_bytes"`
	MemoryCacheEntries int    `toml:"memory_cache_entries"`

	supportedExtsMap map[string]bool
}

func Default() *Config {
	workerCount := runtime.NumCPU() / 2
	if workerCount < 1 {
		workerCount = 1
	}

	cfg := &Config{
		DataDir:    getDefaultDataDir(),
		CacheDir:   filepath.Join(getDefaultDataDir(), "cache"),
		ListenAddr: ":43810",

		SupportedExts: []string{
			".txt", ".md", ".pdf", ".doc", ".docx",
			".xls", ".xlsx", ".ppt", ".pptx", ".csv",
			".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff",
			".mp4", ".avi", ".mov", ".mkv",
			".mp3", ".wav", ".flac",
			".zip", ".rar", ".7z", ".tar", ".gz",
			".json", ".xml", ".yaml", ".yml",
			".py", ".js", ".go", ".java", ".cpp", ".c", ".html", ".css",
		},
		MaxContentBytes: 2 * 1024 * 1024,
		BatchSize:       10,
		WorkerCount:     workerCount,
		DebounceMillis:  1000,

		ScanLimit:         1000,
		SemanticThreshold: 0.3,
		RerankWeight:      0.5,

		SyncIntervalSecs:   30,
		MaxSyncRetries:     3,
		ConflictPolicy:     "server_wins",
		CacheMaxAgeDays:    30,
		CacheMaxSizeMB:     1000,
		SearchCacheTTLHrs:  24,
		FileCacheFullCopy:  1024 * 1024,
		MemoryCacheEntries: 256,
	}

	cfg.BuildMaps()
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			log.Warnf("failed to create default config at %s: %v", path, err)
		} else {
			log.Infof("created default config at %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.BuildMaps()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	f.WriteString("# TidySearch Configuration\n\n")

	return toml.NewEncoder(f).Encode(c)
}

func (c *Config) BuildMaps() {
	c.supportedExtsMap = make(map[string]bool, len(c.SupportedExts))
	for _, ext := range c.SupportedExts {
		c.supportedExtsMap[strings.ToLower(ext)] = true
	}
}

// IsSupported reports whether the file's extension is on the indexing
// allow-list.
func (c *Config) IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return c.supportedExtsMap[ext]
}

func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index")
}

func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "files.db")
}

func (c *Config) OfflinePath() string {
	return filepath.Join(c.CacheDir, "offline.db")
}

func (c *Config) FileCacheDir() string {
	return filepath.Join(c.CacheDir, "files")
}

func getDefaultDataDir() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	} else {
		base = os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".cache")
		}
	}
	return filepath.Join(base, "tidysearch")
}

func GetDefaultConfigPath() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "tidysearch", "config.toml")
}
