// Package config loads and validates the replication run configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/mysql-bq-replicate/internal/dbconfig"
)

// Config is the top-level run configuration.
type Config struct {
	// Databases lists the logical source databases to replicate.
	Databases []dbconfig.SourceDatabase `yaml:"databases"`

	// Target is the BigQuery destination.
	Target dbconfig.TargetConfig `yaml:"target"`

	// StrategyFile is the path to the per-table strategy registry.
	StrategyFile string `yaml:"strategy_file"`

	Replication ReplicationConfig `yaml:"replication"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ReplicationConfig holds engine tuning knobs.
type ReplicationConfig struct {
	// Workers is the number of concurrent table pipelines. Kept low by
	// default to respect source connection limits.
	Workers int `yaml:"workers"`

	// LookbackDays is the default incremental window, overridable per run.
	LookbackDays int `yaml:"lookback_days"`

	// ChunkSize is the default rows per chunk for tables without a
	// per-table override in the strategy registry.
	ChunkSize int `yaml:"chunk_size"`

	// MaxRetries bounds chunk-level retries of transient failures.
	MaxRetries int `yaml:"max_retries"`

	// CountTimeout bounds the exact row-count query before falling back
	// to catalog statistics. Parsed as a Go duration, e.g. "15s".
	CountTimeout string `yaml:"count_timeout"`

	// MaxSourceConnections caps open connections per source database.
	MaxSourceConnections int `yaml:"max_source_connections"`

	// AbortOnFirstFailure stops the run at the first table failure
	// instead of isolating it and continuing.
	AbortOnFirstFailure bool `yaml:"abort_on_first_failure"`

	// Tables is an optional allow-list of source table names.
	Tables []string `yaml:"tables"`

	// StateDB is the path of the sqlite watermark database.
	StateDB string `yaml:"state_db"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Load reads, defaults, and validates a configuration file. Unknown keys are
// rejected so that typos fail the run at startup instead of silently using
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	r := &c.Replication
	if r.Workers <= 0 {
		r.Workers = 3
	}
	if r.LookbackDays <= 0 {
		r.LookbackDays = 3
	}
	if r.ChunkSize <= 0 {
		r.ChunkSize = 100000
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
	if r.CountTimeout == "" {
		r.CountTimeout = "15s"
	}
	if r.MaxSourceConnections <= 0 {
		r.MaxSourceConnections = 8
	}
	if r.StateDB == "" {
		r.StateDB = "replicate-state.db"
	}
	if c.StrategyFile == "" {
		c.StrategyFile = "strategy.yaml"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	for i := range c.Databases {
		db := &c.Databases[i]
		if db.TablePrefix == "" {
			db.TablePrefix = db.Name + "_"
		}
		if db.Port == 0 {
			db.Port = 3306
		}
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("config: at least one source database is required")
	}
	seen := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("config: source database entry missing name")
		}
		if seen[db.Name] {
			return fmt.Errorf("config: duplicate source database %q", db.Name)
		}
		seen[db.Name] = true
	}

	if c.Target.Project == "" {
		return fmt.Errorf("config: target.project is required")
	}
	if c.Target.Dataset == "" {
		return fmt.Errorf("config: target.dataset is required")
	}

	if _, err := time.ParseDuration(c.Replication.CountTimeout); err != nil {
		return fmt.Errorf("config: invalid count_timeout %q: %w", c.Replication.CountTimeout, err)
	}
	return nil
}

// CountTimeout returns the parsed row-count timeout. Validate guarantees the
// value parses.
func (r *ReplicationConfig) CountTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.CountTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}
