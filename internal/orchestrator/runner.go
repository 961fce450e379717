// Package orchestrator drives a replication run: it resolves source
// credentials, fans table pipelines out over a worker pool, and
// aggregates per-table results.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/johndauphine/mysql-bq-replicate/internal/config"
	"github.com/johndauphine/mysql-bq-replicate/internal/dbconfig"
	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/pipeline"
	"github.com/johndauphine/mysql-bq-replicate/internal/progress"
	"github.com/johndauphine/mysql-bq-replicate/internal/secrets"
	"github.com/johndauphine/mysql-bq-replicate/internal/source"
	"github.com/johndauphine/mysql-bq-replicate/internal/state"
	"github.com/johndauphine/mysql-bq-replicate/internal/strategy"
	"github.com/johndauphine/mysql-bq-replicate/internal/target"
)

// RunOptions are the per-invocation overrides on top of the config.
type RunOptions struct {
	// Tables restricts the run to these source table names across all
	// databases. Empty runs every registered table.
	Tables []string

	// ForceFull replaces every table instead of reconciling windows.
	ForceFull bool

	// Quiet suppresses the progress bar.
	Quiet bool
}

// RunResult aggregates every table outcome of a run.
type RunResult struct {
	RunID   string
	Results []*pipeline.Result
}

// Orchestrator owns the shared target client and watermark store for a
// run and builds one pipeline per source database.
type Orchestrator struct {
	cfg      *config.Config
	registry *strategy.Registry
	client   *target.Client
	loader   *target.Loader
	marks    *state.Store
}

// New wires an orchestrator from configuration. The caller owns ctx for
// the whole run; credentials and connections are resolved lazily per
// database.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	registry, err := strategy.LoadRegistry(cfg.StrategyFile)
	if err != nil {
		return nil, err
	}

	client, err := target.NewClient(ctx, &cfg.Target)
	if err != nil {
		return nil, err
	}

	marks, err := state.Open(cfg.Replication.StateDB)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		client:   client,
		loader:   target.NewLoader(client, cfg.Replication.MaxRetries),
		marks:    marks,
	}, nil
}

// Close releases the target client and watermark store.
func (o *Orchestrator) Close() error {
	err := o.client.Close()
	if cerr := o.marks.Close(); err == nil {
		err = cerr
	}
	return err
}

// Registry exposes the loaded strategy registry.
func (o *Orchestrator) Registry() *strategy.Registry {
	return o.registry
}

// Run replicates every selected table of every configured database.
// Table failures are isolated unless abort_on_first_failure is set; the
// returned error covers only run-level faults such as an unreachable
// source.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := o.client.EnsureDataset(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := progress.New(opts.Quiet)
	result := &RunResult{RunID: uuid.NewString()}
	logging.Info("Starting replication run %s", result.RunID)

	for i := range o.cfg.Databases {
		db := &o.cfg.Databases[i]
		if runCtx.Err() != nil {
			break
		}

		results, err := o.runDatabase(runCtx, cancel, db, opts, tracker)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", db.Name, err)
		}
		result.Results = append(result.Results, results...)
	}

	tracker.Finish()
	return result, nil
}

func (o *Orchestrator) runDatabase(ctx context.Context, cancel context.CancelFunc, db *dbconfig.SourceDatabase, opts RunOptions, tracker *progress.Tracker) ([]*pipeline.Result, error) {
	resolved, err := resolveCredentials(db)
	if err != nil {
		return nil, err
	}

	conn, err := source.Connect(resolved, o.cfg.Replication.MaxSourceConnections)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.CheckCatalog(ctx); err != nil {
		return nil, err
	}

	tables := o.selectTables(db.Name, opts.Tables)
	if len(tables) == 0 {
		logging.Warn("No registered tables selected for database %s", db.Name)
		return nil, nil
	}

	p := pipeline.New(o.registry, conn, o.client, o.loader, o.marks, tracker, pipeline.Config{
		Database:     db.Name,
		Prefix:       db.TablePrefix,
		LookbackDays: o.cfg.Replication.LookbackDays,
		ForceFull:    opts.ForceFull,
		ChunkSize:    o.cfg.Replication.ChunkSize,
		MaxRetries:   o.cfg.Replication.MaxRetries,
		CountTimeout: o.cfg.Replication.CountTimeoutDuration(),
	})

	logging.Info("Replicating %d tables from %s with %d workers",
		len(tables), db.Name, o.cfg.Replication.Workers)

	sem := make(chan struct{}, o.cfg.Replication.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []*pipeline.Result

	for _, table := range tables {
		select {
		case <-ctx.Done():
			wg.Wait()
			return results, nil
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			defer func() { <-sem }()

			res := p.ReplicateTable(ctx, table)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			if res.Failed() && o.cfg.Replication.AbortOnFirstFailure {
				logging.Error("Aborting run: table %s failed and abort_on_first_failure is set", res.Table)
				cancel()
			}
		}(table)
	}

	wg.Wait()
	return results, nil
}

// selectTables intersects the registered tables for a database with the
// run's allow-lists. CLI tables win over the config allow-list.
func (o *Orchestrator) selectTables(database string, cliTables []string) []string {
	registered := o.registry.Tables(database)

	allow := cliTables
	if len(allow) == 0 {
		allow = o.cfg.Replication.Tables
	}
	if len(allow) == 0 {
		return registered
	}

	allowed := make(map[string]bool, len(allow))
	for _, t := range allow {
		allowed[t] = true
	}

	var out []string
	for _, t := range registered {
		if allowed[t] {
			out = append(out, t)
		}
	}
	return out
}

// resolveCredentials fills in connection parameters from the credential
// provider for entries that do not inline them.
func resolveCredentials(db *dbconfig.SourceDatabase) (*dbconfig.SourceDatabase, error) {
	if db.HasInlineCredentials() {
		return db, nil
	}

	params, err := secrets.Get(db.Name)
	if err != nil {
		return nil, err
	}

	resolved := *db
	resolved.Host = params.Host
	resolved.Port = params.Port
	resolved.User = params.User
	resolved.Password = params.Password
	if resolved.Database == "" {
		resolved.Database = params.Database
	}
	return &resolved, nil
}
