// Package pipeline replicates one table end to end: resolve the plan,
// introspect the source schema, reconcile the target window, then
// extract and load chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
	"github.com/johndauphine/mysql-bq-replicate/internal/source"
	"github.com/johndauphine/mysql-bq-replicate/internal/strategy"
	"github.com/johndauphine/mysql-bq-replicate/internal/target"
)

// Status is the lifecycle state of one table replication.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolving  Status = "resolving"
	StatusExtracting Status = "extracting"
	StatusLoading    Status = "loading"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Extractor is the source side of a table replication.
type Extractor interface {
	Introspect(ctx context.Context, table string) (*schema.TableSchema, error)
	RowCount(ctx context.Context, table, filter string, countTimeout time.Duration) int64
	Extract(ctx context.Context, opts source.ExtractOptions) <-chan source.Chunk
}

// TargetStore manages target tables.
type TargetStore interface {
	strategy.TargetCatalog
	EnsureTable(ctx context.Context, table string, schema bigquery.Schema, replace bool) error
}

// ChunkLoader writes extracted chunks.
type ChunkLoader interface {
	DeleteWindow(ctx context.Context, table, predicate string) error
	LoadChunk(ctx context.Context, table string, schema bigquery.Schema, rows [][]bigquery.Value) error
}

// WatermarkStore records successful runs and reports window gaps. May
// be nil, disabling both.
type WatermarkStore interface {
	RecordSuccess(ctx context.Context, database, table string, lookbackDays int, rowsLoaded int64) error
	CheckGap(ctx context.Context, database, table string, lookbackDays int) (time.Duration, error)
}

// Progress receives row counts as chunks land. May be nil.
type Progress interface {
	StartTable(table string, estimatedRows int64)
	Add(rows int64)
}

// Config carries the run-level settings for table pipelines.
type Config struct {
	Database     string
	Prefix       string
	LookbackDays int
	ForceFull    bool
	ChunkSize    int
	MaxRetries   int
	CountTimeout time.Duration
}

// Result is the outcome of one table replication.
type Result struct {
	Table    string
	Target   string
	Status   Status
	Kind     strategy.Kind
	Stats    Stats
	Err      error
	SkipNote string
}

// Pipeline replicates tables from one source database.
type Pipeline struct {
	registry *strategy.Registry
	src      Extractor
	store    TargetStore
	loader   ChunkLoader
	marks    WatermarkStore
	progress Progress
	cfg      Config
}

// New creates a pipeline. marks and progress may be nil.
func New(registry *strategy.Registry, src Extractor, store TargetStore, loader ChunkLoader, marks WatermarkStore, progress Progress, cfg Config) *Pipeline {
	return &Pipeline{
		registry: registry,
		src:      src,
		store:    store,
		loader:   loader,
		marks:    marks,
		progress: progress,
		cfg:      cfg,
	}
}

// ReplicateTable runs the full replication of one table. It never
// panics a worker: every failure lands in the Result.
func (p *Pipeline) ReplicateTable(ctx context.Context, table string) *Result {
	res := &Result{
		Table:  table,
		Target: p.cfg.Prefix + table,
		Status: StatusResolving,
	}
	started := time.Now()
	defer func() { res.Stats.Elapsed = time.Since(started) }()

	// Cancelling on return releases the extractor goroutine and its
	// cursor when a failure abandons the chunk stream mid-table.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plan, err := p.registry.Resolve(ctx, p.cfg.Database, table, strategy.ResolveOpts{
		LookbackDays:     p.cfg.LookbackDays,
		ForceFull:        p.cfg.ForceFull,
		Prefix:           p.cfg.Prefix,
		DefaultChunkSize: p.cfg.ChunkSize,
	}, p.store)
	if err != nil {
		if errors.Is(err, strategy.ErrMissingDependency) {
			res.Status = StatusSkipped
			res.SkipNote = err.Error()
			logging.Info("Skipping %s.%s: %v", p.cfg.Database, table, err)
			return res
		}
		return res.fail(fmt.Errorf("resolving strategy: %w", err))
	}
	res.Kind = plan.Kind

	ts, err := p.src.Introspect(ctx, table)
	if err != nil {
		return res.fail(fmt.Errorf("introspecting: %w", err))
	}
	ts.Table.Target = res.Target

	if p.marks != nil && !plan.Replace {
		if _, err := p.marks.CheckGap(ctx, p.cfg.Database, table, p.cfg.LookbackDays); err != nil {
			logging.Warn("Gap check for %s.%s failed: %v", p.cfg.Database, table, err)
		}
	}

	estimate := p.src.RowCount(ctx, table, plan.Extraction, p.cfg.CountTimeout)
	if p.progress != nil {
		p.progress.StartTable(res.Target, estimate)
	}
	logging.Debug("Replicating %s.%s to %s (%s, ~%d rows)",
		p.cfg.Database, table, res.Target, plan.Kind, estimate)

	bqSchema := ts.ToBigQuery()
	if err := p.store.EnsureTable(ctx, res.Target, bqSchema, plan.Replace); err != nil {
		return res.fail(fmt.Errorf("preparing target table: %w", err))
	}

	// The window delete must land before the first insert. If it fails
	// the table is aborted; loading anyway would duplicate rows still
	// present in the window.
	if !plan.Replace {
		if err := p.loader.DeleteWindow(ctx, res.Target, plan.Reconciliation); err != nil {
			return res.fail(err)
		}
	}

	res.Status = StatusExtracting
	chunks := p.src.Extract(ctx, source.ExtractOptions{
		Schema:     ts,
		Filter:     plan.Extraction,
		ChunkSize:  plan.ChunkSize,
		MaxRetries: p.cfg.MaxRetries,
	})

	for chunk := range chunks {
		if chunk.Err != nil {
			return res.fail(fmt.Errorf("extracting chunk %d: %w", chunk.Seq, chunk.Err))
		}
		if len(chunk.Rows) == 0 {
			continue
		}

		res.Status = StatusLoading
		loadStart := time.Now()
		if err := p.loader.LoadChunk(ctx, res.Target, bqSchema, chunk.Rows); err != nil {
			return res.fail(fmt.Errorf("loading chunk %d: %w", chunk.Seq, err))
		}
		res.Stats.LoadTime += time.Since(loadStart)
		res.Stats.Rows += int64(len(chunk.Rows))
		res.Stats.Chunks++
		if p.progress != nil {
			p.progress.Add(int64(len(chunk.Rows)))
		}
		res.Status = StatusExtracting
	}

	if ctx.Err() != nil {
		return res.fail(ctx.Err())
	}

	if p.marks != nil && !plan.Replace {
		if err := p.marks.RecordSuccess(ctx, p.cfg.Database, table, p.cfg.LookbackDays, res.Stats.Rows); err != nil {
			logging.Warn("Recording watermark for %s.%s failed: %v", p.cfg.Database, table, err)
		}
	}

	res.Status = StatusSuccess
	logging.Info("Replicated %s.%s: %d rows in %d chunks (%s)",
		p.cfg.Database, table, res.Stats.Rows, res.Stats.Chunks, res.Stats.Elapsed.Round(time.Millisecond))
	return res
}

func (r *Result) fail(err error) *Result {
	r.Status = StatusFailed
	r.Err = err
	logging.Error("Table %s failed: %v", r.Table, err)
	return r
}

// Failed reports whether the result is a hard failure. Skips are not
// failures; they resolve themselves on a later run.
func (r *Result) Failed() bool {
	return r.Status == StatusFailed
}

var _ Extractor = (*source.Conn)(nil)
var _ TargetStore = (*target.Client)(nil)
var _ ChunkLoader = (*target.Loader)(nil)
