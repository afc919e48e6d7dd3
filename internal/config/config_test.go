package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.Competitors) == 0 {
		t.Error("expected competitors to be populated")
	}
	if len(cfg.Sources.Industry) == 0 {
		t.Error("expected industry feeds to be populated")
	}
	if cfg.Sources.Competitors["nfm"].Name != "NFM Group" {
		t.Errorf("expected nfm name 'NFM Group', got %q", cfg.Sources.Competitors["nfm"].Name)
	}

	if cfg.Classification.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic', got %q", cfg.Classification.Provider)
	}
	if cfg.Classification.ChunkSize != 40 {
		t.Errorf("expected chunk size 40, got %d", cfg.Classification.ChunkSize)
	}
	if cfg.Feeds.CacheTTL != 15*time.Minute {
		t.Errorf("expected cache ttl 15m, got %s", cfg.Feeds.CacheTTL)
	}
	if cfg.Schedule.Interval != 30*time.Minute {
		t.Errorf("expected interval 30m, got %s", cfg.Schedule.Interval)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
classification:
  provider: none
feeds:
  cache_ttl: 5m
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Classification.Provider != "none" {
		t.Errorf("expected provider 'none', got %q", cfg.Classification.Provider)
	}
	if cfg.Feeds.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %s", cfg.Feeds.CacheTTL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Feeds.Timeout != 10*time.Second {
		t.Errorf("expected default feed timeout 10s, got %s", cfg.Feeds.Timeout)
	}
	if cfg.Monitor.Timeout != 15*time.Second {
		t.Errorf("expected default monitor timeout 15s, got %s", cfg.Monitor.Timeout)
	}
	if cfg.Feeds.CompetitorLimit != 15 || cfg.Feeds.IndustryLimit != 30 {
		t.Errorf("expected limits 15/30, got %d/%d", cfg.Feeds.CompetitorLimit, cfg.Feeds.IndustryLimit)
	}
}

func TestParseRejectsBadChunkSize(t *testing.T) {
	_, err := parse([]byte("classification:\n  chunk_size: 0\n"))
	if err == nil {
		t.Fatal("expected error for zero chunk size")
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := parse([]byte("feeds: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.WebMonitors) == 0 {
		t.Error("expected web monitors to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
