package target

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
)

// ErrReconciliation marks a failed window delete. The caller must abort
// the table: inserting after a failed delete would duplicate every row
// already in the window.
var ErrReconciliation = errors.New("window reconciliation failed")

// insertBatchSize bounds one streaming insert request. The API caps
// requests at 10 MB and 50000 rows; 500 keeps wide rows well under both.
const insertBatchSize = 500

// Loader writes extracted chunks into target tables.
type Loader struct {
	client     *Client
	maxRetries int
}

// NewLoader creates a loader. maxRetries bounds retries of transient
// insert failures per batch.
func NewLoader(client *Client, maxRetries int) *Loader {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Loader{client: client, maxRetries: maxRetries}
}

// Prepare makes the target table ready for loading. Replace drops and
// recreates it; otherwise a missing table is created with the given
// schema.
func (l *Loader) Prepare(ctx context.Context, table string, schema bigquery.Schema, replace bool) error {
	return l.client.EnsureTable(ctx, table, schema, replace)
}

// DeleteWindow removes the target rows matching the reconciliation
// predicate; an empty predicate deletes every row. It runs before any
// insert for the table; a failure here is terminal for the table and
// surfaces as ErrReconciliation.
func (l *Loader) DeleteWindow(ctx context.Context, table, predicate string) error {
	query := deleteQuery(l.client.QualifiedName(table), predicate)
	if err := l.client.runDML(ctx, query); err != nil {
		return errors.Wrapf(ErrReconciliation, "deleting window from %s: %v", table, err)
	}
	logging.Debug("Reconciled window in %s", table)
	return nil
}

func deleteQuery(qualifiedTable, predicate string) string {
	if predicate == "" {
		predicate = "TRUE"
	}
	return "DELETE FROM " + qualifiedTable + " WHERE " + predicate
}

// LoadChunk streams one chunk of rows into a table. Every row is sent
// with the table's explicit schema so BigQuery never infers field types
// from values. Transient API failures retry with exponential backoff.
func (l *Loader) LoadChunk(ctx context.Context, table string, schema bigquery.Schema, rows [][]bigquery.Value) error {
	if len(rows) == 0 {
		return nil
	}

	ins := l.client.inserter(table)

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		savers := make([]*bigquery.ValuesSaver, 0, end-start)
		for _, row := range rows[start:end] {
			savers = append(savers, &bigquery.ValuesSaver{
				Schema: schema,
				Row:    row,
			})
		}

		if err := l.putWithRetry(ctx, ins, table, savers); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) putWithRetry(ctx context.Context, ins *bigquery.Inserter, table string, savers []*bigquery.ValuesSaver) error {
	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		err := ins.Put(ctx, savers)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return errors.Wrapf(err, "inserting into %s", table)
		}
		lastErr = err

		if attempt < l.maxRetries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logging.Warn("Insert into %s throttled (attempt %d/%d), retrying in %s: %v",
				table, attempt, l.maxRetries, backoff, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return errors.Wrapf(lastErr, "inserting into %s after %d attempts", table, l.maxRetries)
}
