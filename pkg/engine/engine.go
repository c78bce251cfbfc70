// Package engine provides replication engines backed by an external
// simulator process or by archived trace files.
package engine

import (
	"context"
	"log/slog"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/storage"
	"github.com/callflow/callflow/pkg/storage/s3"
)

// Engine kinds.
const (
	KindExec    = "exec"
	KindArchive = "archive"
)

// DefaultArchivePattern names replication i's trace file.
const DefaultArchivePattern = "rep-%03d.csv"

// Config selects and configures an engine.
type Config struct {
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// ArchiveLocation is a directory or s3://bucket/prefix URI.
	ArchiveLocation string `yaml:"archive_dir"`
	ArchivePattern  string `yaml:"archive_pattern"`

	// Parallelism caps concurrent replications; 0 means GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns the archive engine reading ./traces.
func DefaultConfig() Config {
	return Config{
		Kind:            KindArchive,
		ArchiveLocation: "traces",
		ArchivePattern:  DefaultArchivePattern,
	}
}

// Validate checks the fields the selected kind needs.
func (c Config) Validate() error {
	switch c.Kind {
	case KindExec:
		if c.Command == "" {
			return errors.InvalidConfig("engine.command", c.Command, "exec engine needs a command")
		}
	case KindArchive:
		if c.ArchiveLocation == "" {
			return errors.InvalidConfig("engine.archive_dir", c.ArchiveLocation, "archive engine needs a location")
		}
		if c.ArchivePattern == "" {
			return errors.InvalidConfig("engine.archive_pattern", c.ArchivePattern, "archive engine needs a file pattern")
		}
	default:
		return errors.InvalidConfig("engine.kind", c.Kind, "must be exec or archive")
	}
	return nil
}

// New builds the engine described by cfg. s3cfg supplies credentials for
// s3:// archive locations.
func New(ctx context.Context, cfg Config, s3cfg s3.Config, logger *slog.Logger) (replication.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindExec:
		return NewExecEngine(cfg.Command, cfg.Args, WithExecLogger(logger)), nil
	default:
		store, prefix, err := storage.Open(ctx, cfg.ArchiveLocation, s3cfg)
		if err != nil {
			return nil, err
		}
		return NewArchiveEngine(store, prefix, cfg.ArchivePattern), nil
	}
}
