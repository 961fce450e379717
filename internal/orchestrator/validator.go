package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/source"
)

// ValidationTimeout bounds each table's source count query.
const ValidationTimeout = 30 * time.Second

type tableValidation struct {
	table       string
	sourceCount int64
	targetCount int64
	err         error
}

// Validate compares row counts between each source table and its target
// table. Incremental tables legitimately diverge outside the lookback
// window when source rows are deleted, so mismatches are reported but
// only query errors fail validation.
func (o *Orchestrator) Validate(ctx context.Context, cliTables []string) error {
	logging.Info("Validation results:")

	var failed bool
	for i := range o.cfg.Databases {
		db := &o.cfg.Databases[i]

		resolved, err := resolveCredentials(db)
		if err != nil {
			return fmt.Errorf("database %s: %w", db.Name, err)
		}
		conn, err := source.Connect(resolved, o.cfg.Replication.MaxSourceConnections)
		if err != nil {
			return fmt.Errorf("database %s: %w", db.Name, err)
		}

		tables := o.selectTables(db.Name, cliTables)
		results := o.validateDatabase(ctx, conn, db.TablePrefix, tables)
		conn.Close()

		for _, r := range results {
			switch {
			case r.err != nil:
				logging.Error("%-30s ERROR: %v", db.Name+"."+r.table, r.err)
				failed = true
			case r.sourceCount == r.targetCount:
				logging.Info("%-30s OK %d rows", db.Name+"."+r.table, r.targetCount)
			default:
				logging.Warn("%-30s DIFF source=%d target=%d (diff=%d)",
					db.Name+"."+r.table, r.sourceCount, r.targetCount, r.sourceCount-r.targetCount)
			}
		}
	}

	if failed {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func (o *Orchestrator) validateDatabase(ctx context.Context, conn *source.Conn, prefix string, tables []string) []tableValidation {
	results := make(chan tableValidation, len(tables))
	var wg sync.WaitGroup

	for _, table := range tables {
		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			results <- o.validateTable(ctx, conn, prefix, table)
		}(table)
	}

	wg.Wait()
	close(results)

	var all []tableValidation
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].table < all[j].table })
	return all
}

func (o *Orchestrator) validateTable(ctx context.Context, conn *source.Conn, prefix, table string) tableValidation {
	r := tableValidation{table: table}

	r.sourceCount = conn.RowCount(ctx, table, "", ValidationTimeout)

	targetTable := prefix + table
	exists, err := o.client.TableExists(ctx, targetTable)
	if err != nil {
		r.err = err
		return r
	}
	if !exists {
		r.err = fmt.Errorf("target table %s does not exist", targetTable)
		return r
	}

	r.targetCount, r.err = o.client.RowCount(ctx, targetTable)
	return r
}
