package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingDependency indicates a join child whose parent table does not
// exist in the target yet. The table is skipped, not failed: the parent
// will land on a later run and the child catches up then.
var ErrMissingDependency = errors.New("join parent missing in target")

// TargetCatalog answers existence questions about target tables. The
// resolver needs it to decide whether a join child can run at all.
type TargetCatalog interface {
	// TableExists reports whether the named table exists in the target
	// dataset.
	TableExists(ctx context.Context, table string) (bool, error)

	// QualifiedName returns the fully qualified form of a target table
	// name, suitable for use in a query.
	QualifiedName(table string) string
}

// ResolveOpts carries the run-level inputs that shape a plan.
type ResolveOpts struct {
	// LookbackDays is the incremental window size in whole days.
	LookbackDays int

	// ForceFull downgrades every incremental table to full refresh.
	ForceFull bool

	// Prefix is prepended to source table names to form target table
	// names, e.g. "plex_" turns orders into plex_orders.
	Prefix string

	// DefaultChunkSize applies when the table strategy sets none.
	DefaultChunkSize int
}

// Plan is the resolved replication plan for one table. Extraction and
// Reconciliation are WHERE clause fragments; both are derived from the
// same lookback window so that every row deleted from the target is
// re-extracted from the source, and vice versa.
type Plan struct {
	Table     string
	Kind      Kind
	ChunkSize int

	// Replace means the target table is rebuilt from scratch instead of
	// reconciled in place.
	Replace bool

	// Extraction filters the source query. Empty means extract all rows.
	Extraction string

	// Reconciliation filters the target delete. Empty with Replace unset
	// never happens: an incremental plan always reconciles its window.
	Reconciliation string
}

// Resolve turns a table's registered strategy into a concrete plan for
// this run. Join children consult the target catalog; a missing parent
// yields ErrMissingDependency.
func (r *Registry) Resolve(ctx context.Context, db, table string, opts ResolveOpts, cat TargetCatalog) (*Plan, error) {
	ts := r.Lookup(db, table)

	plan := &Plan{
		Table:     table,
		Kind:      ts.Kind,
		ChunkSize: ts.ChunkSize,
	}
	if plan.ChunkSize <= 0 {
		plan.ChunkSize = opts.DefaultChunkSize
	}

	if ts.Kind == FullRefresh || opts.ForceFull {
		plan.Kind = FullRefresh
		plan.Replace = true
		return plan, nil
	}

	if opts.LookbackDays <= 0 {
		return nil, fmt.Errorf("%w: %s.%s: lookback must be positive for incremental tables", ErrStrategyMisconfigured, db, table)
	}

	if ts.Join == nil {
		plan.Extraction = sourceWatermark(ts.WatermarkColumns, opts.LookbackDays)
		plan.Reconciliation = targetWatermark(ts.WatermarkColumns, opts.LookbackDays)
		return plan, nil
	}

	parent := r.Lookup(db, ts.Join.Parent)
	parentTarget := opts.Prefix + ts.Join.Parent

	exists, err := cat.TableExists(ctx, parentTarget)
	if err != nil {
		return nil, fmt.Errorf("checking join parent %s: %w", parentTarget, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s.%s requires %s", ErrMissingDependency, db, table, parentTarget)
	}

	col := ts.Join.Column
	plan.Extraction = fmt.Sprintf("`%s` IN (SELECT `%s` FROM `%s`.`%s` WHERE %s)",
		col, col, db, ts.Join.Parent,
		sourceWatermark(parent.WatermarkColumns, opts.LookbackDays))
	plan.Reconciliation = fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s)",
		col, col, cat.QualifiedName(parentTarget),
		targetWatermark(parent.WatermarkColumns, opts.LookbackDays))
	return plan, nil
}

// sourceWatermark builds the MySQL-side window predicate. Columns are
// OR'ed: a row qualifies when any of its watermark columns is recent.
// NULL watermarks never qualify.
func sourceWatermark(columns []string, lookbackDays int) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("(`%s` IS NOT NULL AND `%s` >= DATE_SUB(CURRENT_DATE(), INTERVAL %d DAY))",
			col, col, lookbackDays)
	}
	return strings.Join(parts, " OR ")
}

// targetWatermark builds the BigQuery-side window predicate. Columns are
// cast with DATE() so that TIMESTAMP and DATETIME watermarks compare on
// the same calendar-day boundary the source predicate uses.
func targetWatermark(columns []string, lookbackDays int) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("(%s IS NOT NULL AND DATE(%s) >= DATE_SUB(CURRENT_DATE(), INTERVAL %d DAY))",
			col, col, lookbackDays)
	}
	return strings.Join(parts, " OR ")
}
