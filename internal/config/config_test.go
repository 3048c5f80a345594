package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr != ":43810" {
		t.Errorf("ListenAddr = %v, want :43810", cfg.ListenAddr)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.DebounceMillis != 1000 {
		t.Errorf("DebounceMillis = %d, want 1000", cfg.DebounceMillis)
	}
	if cfg.SemanticThreshold != 0.3 {
		t.Errorf("SemanticThreshold = %v, want 0.3", cfg.SemanticThreshold)
	}
	if cfg.MaxSyncRetries != 3 {
		t.Errorf("MaxSyncRetries = %d, want 3", cfg.MaxSyncRetries)
	}
	if cfg.ConflictPolicy != "server_wins" {
		t.Errorf("ConflictPolicy = %v, want server_wins", cfg.ConflictPolicy)
	}
	if cfg.WorkerCount < 1 {
		t.Errorf("WorkerCount = %d, want >= 1", cfg.WorkerCount)
	}
}

func TestLoad_CreatesDefault(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want default 10", cfg.BatchSize)
	}

	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config file should have been created: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DataDir = "/tmp/tidysearch-test"
	cfg.BatchSize = 25
	cfg.ConflictPolicy = "client_wins"

	if err := cfg.Save(cfgPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DataDir != "/tmp/tidysearch-test" {
		t.Errorf("DataDir = %v, want /tmp/tidysearch-test", loaded.DataDir)
	}
	if loaded.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", loaded.BatchSize)
	}
	if loaded.ConflictPolicy != "client_wins" {
		t.Errorf("ConflictPolicy = %v, want client_wins", loaded.ConflictPolicy)
	}
}

func TestIsSupported(t *testing.T) {
	cfg := Default()

	tests := []struct {
		path string
		want bool
	}{
		{"/home/user/report.pdf", true},
		{"/home/user/REPORT.PDF", true},
		{"/home/user/notes.txt", true},
		{"/home/user/photo.jpg", true},
		{"/home/user/binary.exe", false},
		{"/home/user/noext", false},
	}

	for _, tt := range tests {
		if got := cfg.IsSupported(tt.path); got != tt.want {
			t.Errorf("IsSupported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.CacheDir = "/cache"

	if got := cfg.IndexPath(); got != filepath.Join("/data", "index") {
		t.Errorf("IndexPath() = %v", got)
	}
	if got := cfg.StorePath(); got != filepath.Join("/data", "files.db") {
		t.Errorf("StorePath() = %v", got)
	}
	if got := cfg.OfflinePath(); got != filepath.Join("/cache", "offline.db") {
		t.Errorf("OfflinePath() = %v", got)
	}
	if got := cfg.FileCacheDir(); got != filepath.Join("/cache", "files") {
		t.Errorf("FileCacheDir() = %v", got)
	}
}
