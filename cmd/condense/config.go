package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the condense configuration file
// (~/.config/condense/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// Cache defaults
	Strategy     string   `yaml:"strategy"`
	CacheLengths string   `yaml:"cache_lengths"`
	GlobalTokens *int64   `yaml:"global_tokens"`
	RecentWindow *int64   `yaml:"recent_window"`
	DropAmount   *float64 `yaml:"drop_amount"`
	HeadSpecific *bool    `yaml:"head_specific"`
	MaxSeqLen    *int64   `yaml:"max_seq_len"`

	// Sampling defaults
	Temperature  *float64 `yaml:"temperature"`
	TopK         *int64   `yaml:"top_k"`
	TopP         *float64 `yaml:"top_p"`
	Seed         *int64   `yaml:"seed"`
	MaxNewTokens *int64   `yaml:"max_new_tokens"`

	// Generation behaviour
	FeedLongPrompts *bool `yaml:"feed_long_prompts"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "condense", "config.yaml")
}

// applyCommonConfig applies the cache and logging defaults shared by run and
// serve when the corresponding CLI flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Strategy != "" && !c.IsSet("strategy") {
		strategy = cfg.Strategy
	}
	if cfg.CacheLengths != "" && !c.IsSet("cache-lengths") && !c.IsSet("cache_lengths") {
		cacheLengths = cfg.CacheLengths
	}
	if cfg.GlobalTokens != nil && !c.IsSet("global-tokens") && !c.IsSet("global_tokens") {
		globalTokens = *cfg.GlobalTokens
	}
	if cfg.RecentWindow != nil && !c.IsSet("recent-window") && !c.IsSet("recent_window") {
		recentWindow = *cfg.RecentWindow
	}
	if cfg.DropAmount != nil && !c.IsSet("drop-amount") && !c.IsSet("drop_amount") {
		dropAmount = *cfg.DropAmount
	}
	if cfg.HeadSpecific != nil && !c.IsSet("head-specific") && !c.IsSet("head_specific") {
		headSpecific = *cfg.HeadSpecific
	}
	if cfg.MaxSeqLen != nil && !c.IsSet("max-seq-len") && !c.IsSet("max_seq_len") && !c.IsSet("ctx") {
		maxSeqLen = *cfg.MaxSeqLen
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyRunConfig(c *cli.Command, cfg Config,
	temp *float64, topK *int64, topP *float64, maxNewTokens *int64, feedLongPrompts *bool,
) {
	applyCommonConfig(c, cfg)
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") && !c.IsSet("top_k") && !c.IsSet("topk") {
		*topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") && !c.IsSet("top_p") && !c.IsSet("topp") {
		*topP = *cfg.TopP
	}
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") && !c.IsSet("max_new_tokens") && !c.IsSet("n") {
		*maxNewTokens = *cfg.MaxNewTokens
	}
	if cfg.FeedLongPrompts != nil && !c.IsSet("feed-long-prompts") && !c.IsSet("feed_long_prompts") {
		*feedLongPrompts = *cfg.FeedLongPrompts
	}
}

func applyServeConfig(c *cli.Command, cfg Config,
	addr *string, temp *float64, topK *int64, topP *float64, maxNewTokens *int64,
) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") && !c.IsSet("top_k") {
		*topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") && !c.IsSet("top_p") {
		*topP = *cfg.TopP
	}
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") && !c.IsSet("max_new_tokens") {
		*maxNewTokens = *cfg.MaxNewTokens
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or fails to parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
