package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mstrYoda/rdfgraph"
)

// Config is the YAML configuration file. Zero fields keep the library
// defaults; command line flags override the file.
//
//	db: ./data.db
//	log_level: info
//	engine:
//	  max_result_rows: 100000
//	  default_query_timeout: 10s
//	  slow_query_threshold: 500ms
//	store:
//	  no_sync: true
//	  term_cache_size: 50000
type Config struct {
	DB       string       `yaml:"db"`
	LogLevel string       `yaml:"log_level"`
	Engine   EngineConfig `yaml:"engine"`
	Store    StoreConfig  `yaml:"store"`
}

// EngineConfig maps onto rdfgraph.Options.
type EngineConfig struct {
	MaxResultRows       int           `yaml:"max_result_rows"`
	DefaultQueryTimeout time.Duration `yaml:"default_query_timeout"`
	SlowQueryThreshold  time.Duration `yaml:"slow_query_threshold"`
	PlanCacheSize       int           `yaml:"plan_cache_size"`
	WorkerPoolSize      int           `yaml:"worker_pool_size"`
	DisableRewrite      bool          `yaml:"disable_rewrite"`
}

// StoreConfig maps onto rdfgraph.StoreOptions.
type StoreConfig struct {
	NoSync        bool `yaml:"no_sync"`
	MmapSize      int  `yaml:"mmap_size"`
	TermCacheSize int  `yaml:"term_cache_size"`
}

// loadConfig reads the file at path. An empty path yields an empty config.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, usageErrorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, usageErrorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c EngineConfig) options(log *slog.Logger) rdfgraph.Options {
	opts := rdfgraph.DefaultOptions()
	opts.Logger = log
	if c.MaxResultRows > 0 {
		opts.MaxResultRows = c.MaxResultRows
	}
	if c.DefaultQueryTimeout > 0 {
		opts.DefaultQueryTimeout = c.DefaultQueryTimeout
	}
	if c.SlowQueryThreshold > 0 {
		opts.SlowQueryThreshold = c.SlowQueryThreshold
	}
	if c.PlanCacheSize > 0 {
		opts.PlanCacheSize = c.PlanCacheSize
	}
	if c.WorkerPoolSize > 0 {
		opts.WorkerPoolSize = c.WorkerPoolSize
	}
	opts.DisableRewrite = c.DisableRewrite
	return opts
}

func (c StoreConfig) options(log *slog.Logger, readOnly bool) rdfgraph.StoreOptions {
	opts := rdfgraph.DefaultStoreOptions()
	opts.Logger = log
	opts.ReadOnly = readOnly
	opts.NoSync = c.NoSync
	if c.MmapSize > 0 {
		opts.MmapSize = c.MmapSize
	}
	if c.TermCacheSize > 0 {
		opts.TermCacheSize = c.TermCacheSize
	}
	return opts
}

// newLogger returns a text logger on w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, usageErrorf("invalid log level %q (must be debug, info, warn or error)", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// describe is used in error messages for the store path.
func describe(path string) string {
	if path == "" {
		return "(none)"
	}
	return fmt.Sprintf("%q", path)
}
