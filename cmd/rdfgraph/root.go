package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/rdfgraph"
)

// RootOptions holds the global flags shared by all subcommands.
type RootOptions struct {
	DBPath   string
	Config   string
	LogLevel string
	Format   string // text, json or yaml
}

// NewRootCommand creates the root rdfgraph command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rdfgraph",
		Short: "Embedded RDF store with a SPARQL evaluation core",
		Long: `rdfgraph stores RDF triples in a single bbolt file and evaluates
SELECT and ASK queries written as YAML documents.

Well-designed queries (no MINUS or EXISTS, safe OPTIONAL nesting) are
rewritten into nested evaluations; everything else runs through the
instruction planner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the store file")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text, json, yaml)")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))

	return cmd
}

// session is an open store plus the engine over it.
type session struct {
	cfg    Config
	log    *slog.Logger
	store  *rdfgraph.Store
	engine *rdfgraph.Engine
}

// resolveConfig merges the config file with the global flags and builds
// the logger.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) (Config, *slog.Logger, error) {
	switch opts.Format {
	case "text", "json", "yaml":
	default:
		return Config{}, nil, usageErrorf("invalid format %q (must be text, json or yaml)", opts.Format)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return Config{}, nil, err
	}
	if opts.DBPath != "" {
		cfg.DB = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if cfg.DB == "" {
		return Config{}, nil, usageErrorf("no store path: set --db or db in the config file")
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, log, nil
}

// openSession resolves the config and flags and opens the store. Read-only
// sessions require the store file to exist.
func openSession(cmd *cobra.Command, opts *RootOptions, readOnly bool) (*session, error) {
	cfg, log, err := resolveConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	if readOnly {
		if _, err := os.Stat(cfg.DB); errors.Is(err, fs.ErrNotExist) {
			return nil, usageErrorf("store %s not found", describe(cfg.DB))
		}
	}
	store, err := rdfgraph.OpenStore(cfg.DB, cfg.Store.options(log, readOnly))
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:    cfg,
		log:    log,
		store:  store,
		engine: rdfgraph.NewEngine(store, store, cfg.Engine.options(log)),
	}, nil
}

func (s *session) Close() error {
	return errors.Join(s.engine.Close(), s.store.Close())
}
