package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources        FeedSources    `yaml:"sources"`
	Classification Classification `yaml:"classification"`
	Feeds          Feeds          `yaml:"feeds"`
	Monitor        Monitor        `yaml:"monitor"`
	Schedule       Schedule       `yaml:"schedule"`
	Output         Output         `yaml:"output"`
	Server         Server         `yaml:"server"`
	Logging        Logging        `yaml:"logging"`
}

// FeedSources is the grouped view of the monitored sources. It is both the
// seed section of the config file and the shape the aggregator consumes.
type FeedSources struct {
	Competitors map[string]Competitor `yaml:"competitors" json:"competitors"`
	Industry    []string              `yaml:"industry" json:"industry"`
	WebMonitors []WebMonitor          `yaml:"web_monitors" json:"web_monitors,omitempty"`
}

type Competitor struct {
	Name  string   `yaml:"name" json:"name"`
	Feeds []string `yaml:"feeds" json:"feeds"`
}

type WebMonitor struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	CompetitorKey string `yaml:"competitor_key"`
	Category      string `yaml:"category"`
}

type Classification struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	OllamaURL      string `yaml:"ollama_url"`
	OpenAIModel    string `yaml:"openai_model"`
	OpenAIKeyEnv   string `yaml:"openai_key_env"`
	ChunkSize      int    `yaml:"chunk_size"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	MaxTokens      int    `yaml:"max_tokens"`
}

type Feeds struct {
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	Timeout          time.Duration `yaml:"timeout"`
	CompetitorLimit  int           `yaml:"competitor_limit"`
	IndustryLimit    int           `yaml:"industry_limit"`
	GroupConcurrency int           `yaml:"group_concurrency"`
	UserAgent        string        `yaml:"user_agent"`
}

type Monitor struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxTextChars int           `yaml:"max_text_chars"`
	UserAgent    string        `yaml:"user_agent"`
}

type Schedule struct {
	Interval     time.Duration `yaml:"interval"`
	StartupDelay time.Duration `yaml:"startup_delay"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for radar.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "radar")
}

// DataDir returns the XDG data directory for radar.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "radar")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/radar/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'radar init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns a config holding only the built-in defaults.
func Default() *Config {
	return &Config{
		Classification: Classification{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-5",
			APIKeyEnv:    "ANTHROPIC_API_KEY",
			OllamaURL:    "http://localhost:11434",
			OpenAIModel:  "gpt-4o-mini",
			OpenAIKeyEnv: "OPENAI_API_KEY",
			ChunkSize:    40,
			MaxTokens:    2048,
		},
		Feeds: Feeds{
			CacheTTL:         15 * time.Minute,
			Timeout:          10 * time.Second,
			CompetitorLimit:  15,
			IndustryLimit:    30,
			GroupConcurrency: 4,
			UserAgent:        "SignalRadar/1.0 (Competitive Intelligence)",
		},
		Monitor: Monitor{
			Timeout:      15 * time.Second,
			MaxTextChars: 10000,
			UserAgent:    "SignalRadar/1.0",
		},
		Schedule: Schedule{
			Interval:     30 * time.Minute,
			StartupDelay: 10 * time.Second,
		},
		Server:  Server{Port: 3000},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Classification.ChunkSize <= 0 {
		return nil, fmt.Errorf("classification.chunk_size must be positive, got %d", cfg.Classification.ChunkSize)
	}
	if cfg.Schedule.Interval <= 0 {
		return nil, fmt.Errorf("schedule.interval must be positive, got %s", cfg.Schedule.Interval)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
