// Package strategy resolves how each table is replicated: full refresh,
// watermark-based incremental extraction, or incremental extraction driven
// by a join against a parent table's watermark.
package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
)

// ErrStrategyMisconfigured indicates a strategy entry that cannot produce
// a valid extraction predicate, such as a date_incremental table with no
// watermark columns and no join.
var ErrStrategyMisconfigured = errors.New("strategy misconfigured")

// Kind identifies a replication strategy.
type Kind string

const (
	// FullRefresh replaces the target table contents on every run.
	FullRefresh Kind = "full_refresh"

	// DateIncremental extracts only rows whose watermark columns fall
	// within the lookback window, then reconciles that window in the
	// target before loading.
	DateIncremental Kind = "date_incremental"
)

// Join ties a child table's incremental window to a parent table's
// watermark columns. The child carries no watermark of its own; rows are
// selected when their join column appears in the parent's recent rows.
type Join struct {
	Parent string `yaml:"parent"`
	Column string `yaml:"column"`
}

// TableStrategy describes how one source table is replicated.
type TableStrategy struct {
	Kind             Kind     `yaml:"strategy"`
	WatermarkColumns []string `yaml:"watermark_columns"`
	ChunkSize        int      `yaml:"chunk_size"`
	Join             *Join    `yaml:"join"`
}

// IsIncremental reports whether the table uses windowed extraction.
func (t *TableStrategy) IsIncremental() bool {
	return t.Kind == DateIncremental
}

type databaseEntry struct {
	Tables map[string]*TableStrategy `yaml:"tables"`
}

type registryFile struct {
	Databases map[string]databaseEntry `yaml:"databases"`
}

// Registry holds the per-table strategies for all configured source
// databases. Unregistered tables default to full refresh.
type Registry struct {
	databases map[string]map[string]*TableStrategy
}

// LoadRegistry reads and validates a strategy YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes strategy YAML and validates every entry. Validation
// is fail-fast: a single bad entry rejects the whole file so that a run
// never starts with a strategy that would fail mid-flight.
func ParseRegistry(data []byte) (*Registry, error) {
	var raw registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing strategy file: %w", err)
	}

	reg := &Registry{databases: make(map[string]map[string]*TableStrategy)}
	for dbName, entry := range raw.Databases {
		tables := make(map[string]*TableStrategy, len(entry.Tables))
		for tableName, ts := range entry.Tables {
			if ts == nil {
				ts = &TableStrategy{}
			}
			if ts.Kind == "" {
				ts.Kind = FullRefresh
			}
			if err := validateStrategy(dbName, tableName, ts, entry.Tables); err != nil {
				return nil, err
			}
			tables[tableName] = ts
		}
		reg.databases[dbName] = tables
	}
	return reg, nil
}

func validateStrategy(db, table string, ts *TableStrategy, siblings map[string]*TableStrategy) error {
	if err := schema.ValidateIdentifier(table); err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrStrategyMisconfigured, db, table, err)
	}

	switch ts.Kind {
	case FullRefresh:
		if len(ts.WatermarkColumns) > 0 || ts.Join != nil {
			return fmt.Errorf("%w: %s.%s: full_refresh takes no watermark columns or join", ErrStrategyMisconfigured, db, table)
		}
	case DateIncremental:
		if len(ts.WatermarkColumns) == 0 && ts.Join == nil {
			return fmt.Errorf("%w: %s.%s: date_incremental requires watermark_columns or a join", ErrStrategyMisconfigured, db, table)
		}
		if len(ts.WatermarkColumns) > 0 && ts.Join != nil {
			return fmt.Errorf("%w: %s.%s: watermark_columns and join are mutually exclusive", ErrStrategyMisconfigured, db, table)
		}
	default:
		return fmt.Errorf("%w: %s.%s: unknown strategy %q", ErrStrategyMisconfigured, db, table, ts.Kind)
	}

	for _, col := range ts.WatermarkColumns {
		if err := schema.ValidateIdentifier(col); err != nil {
			return fmt.Errorf("%w: %s.%s: watermark column: %v", ErrStrategyMisconfigured, db, table, err)
		}
	}

	if ts.Join != nil {
		j := ts.Join
		if j.Parent == "" || j.Column == "" {
			return fmt.Errorf("%w: %s.%s: join requires parent and column", ErrStrategyMisconfigured, db, table)
		}
		if err := schema.ValidateIdentifier(j.Parent); err != nil {
			return fmt.Errorf("%w: %s.%s: join parent: %v", ErrStrategyMisconfigured, db, table, err)
		}
		if err := schema.ValidateIdentifier(j.Column); err != nil {
			return fmt.Errorf("%w: %s.%s: join column: %v", ErrStrategyMisconfigured, db, table, err)
		}
		parent, ok := siblings[j.Parent]
		if !ok {
			return fmt.Errorf("%w: %s.%s: join parent %q not registered in database %s", ErrStrategyMisconfigured, db, table, j.Parent, db)
		}
		// The parent's watermark columns become the join subquery's WHERE
		// clause, so a parent without them (full refresh, or itself a join
		// child) can never anchor a join.
		if parent == nil || parent.Kind != DateIncremental || len(parent.WatermarkColumns) == 0 {
			return fmt.Errorf("%w: %s.%s: join parent %q must carry its own watermark columns", ErrStrategyMisconfigured, db, table, j.Parent)
		}
	}

	if ts.ChunkSize < 0 {
		return fmt.Errorf("%w: %s.%s: chunk_size must be positive", ErrStrategyMisconfigured, db, table)
	}

	return nil
}

// Lookup returns the strategy for a table. Unregistered tables fall back
// to full refresh so that newly added tables are never silently truncated
// to a window they were not configured for.
func (r *Registry) Lookup(db, table string) *TableStrategy {
	if tables, ok := r.databases[db]; ok {
		if ts, ok := tables[table]; ok {
			return ts
		}
	}
	return &TableStrategy{Kind: FullRefresh}
}

// Registered reports whether a table has an explicit entry.
func (r *Registry) Registered(db, table string) bool {
	tables, ok := r.databases[db]
	if !ok {
		return false
	}
	_, ok = tables[table]
	return ok
}

// Tables returns the registered table names for a database, sorted.
func (r *Registry) Tables(db string) []string {
	tables := r.databases[db]
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Databases returns the database names with at least one registered table.
func (r *Registry) Databases() []string {
	names := make([]string, 0, len(r.databases))
	for name := range r.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
