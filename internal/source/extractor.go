package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
)

// ErrSchemaDrift indicates the columns returned by an extraction query
// no longer match the schema introspected at the start of the run.
var ErrSchemaDrift = errors.New("source schema changed during extraction")

// Chunk is one batch of coerced rows from an extraction. A Chunk with
// Err set terminates the stream; Done marks the final chunk either way.
type Chunk struct {
	Rows [][]bigquery.Value
	Seq  int
	Err  error
	Done bool
}

// ExtractOptions controls one table extraction.
type ExtractOptions struct {
	Schema *schema.TableSchema

	// Filter is a WHERE fragment from the strategy resolver; empty
	// extracts the whole table.
	Filter string

	ChunkSize  int
	MaxRetries int
}

// Extract reads qualifying rows in chunks and delivers them over a
// channel. Tables with a single integer primary key page by keyset, so
// a transient failure retries only the current chunk. Other tables are
// read in one ordered streaming scan sliced into chunks client-side;
// OFFSET paging is never used because concurrent writes shift offsets.
//
// Every send honors ctx cancellation, so a consumer that stops reading
// must cancel ctx to release the producer and its cursor.
func (c *Conn) Extract(ctx context.Context, opts ExtractOptions) <-chan Chunk {
	chunks := make(chan Chunk, 4)

	go func() {
		defer close(chunks)
		if opts.Schema.HasIntegerPK() {
			c.extractKeyset(ctx, chunks, opts)
		} else {
			c.extractStream(ctx, chunks, opts)
		}
	}()

	return chunks
}

// send delivers one chunk unless ctx is cancelled first. A false return
// means the consumer is gone and extraction must stop.
func send(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Conn) extractKeyset(ctx context.Context, chunks chan<- Chunk, opts ExtractOptions) {
	ts := opts.Schema
	pkCol := ts.PrimaryKey[0]
	cols := ColumnList(ts.ColumnNames())
	firstQuery := buildKeysetQuery(cols, pkCol, ts.Table.Database, ts.Table.Name, opts.Filter, true)
	nextQuery := buildKeysetQuery(cols, pkCol, ts.Table.Database, ts.Table.Name, opts.Filter, false)
	pkIdx := pkIndex(ts, pkCol)

	var lastPK int64
	seq := 0

	for {
		if ctx.Err() != nil {
			send(ctx, chunks, Chunk{Seq: seq, Err: ctx.Err(), Done: true})
			return
		}

		args := []any{lastPK, opts.ChunkSize}
		query := nextQuery
		if seq == 0 {
			args = []any{opts.ChunkSize}
			query = firstQuery
		}
		coerced, err := c.queryChunkWithRetry(ctx, ts, query, opts.MaxRetries, args)
		if err != nil {
			send(ctx, chunks, Chunk{Seq: seq, Err: err, Done: true})
			return
		}

		if len(coerced) == 0 {
			send(ctx, chunks, Chunk{Seq: seq, Done: true})
			return
		}

		// Coercion guarantees integer columns come back as int64.
		last, ok := coerced[len(coerced)-1][pkIdx].(int64)
		if !ok {
			send(ctx, chunks, Chunk{Seq: seq, Err: fmt.Errorf("primary key %s is not an integer at runtime", pkCol), Done: true})
			return
		}
		lastPK = last

		done := len(coerced) < opts.ChunkSize
		if !send(ctx, chunks, Chunk{Rows: coerced, Seq: seq, Done: done}) || done {
			return
		}
		seq++
	}
}

// queryChunkWithRetry runs one keyset chunk query, retrying transient
// failures with exponential backoff. The keyset cursor makes the query
// idempotent, so a retry never skips or duplicates rows.
func (c *Conn) queryChunkWithRetry(ctx context.Context, ts *schema.TableSchema, query string, maxRetries int, args []any) ([][]bigquery.Value, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err == nil {
			coerced, scanErr := scanChunk(rows, ts)
			rows.Close()
			if scanErr == nil {
				return coerced, nil
			}
			err = scanErr
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrSchemaDrift) {
			return nil, err
		}
		lastErr = err

		if attempt < maxRetries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logging.Warn("Chunk query for %s failed (attempt %d/%d), retrying in %s: %v",
				ts.Table, attempt, maxRetries, backoff, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("chunk query failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Conn) extractStream(ctx context.Context, chunks chan<- Chunk, opts ExtractOptions) {
	ts := opts.Schema
	cols := ColumnList(ts.ColumnNames())
	orderBy := ""
	if len(ts.PrimaryKey) > 0 {
		orderBy = ColumnList(ts.PrimaryKey)
	}
	query := buildStreamQuery(cols, ts.Table.Database, ts.Table.Name, opts.Filter, orderBy)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		send(ctx, chunks, Chunk{Err: fmt.Errorf("extraction query: %w", err), Done: true})
		return
	}
	defer rows.Close()

	if err := checkDrift(rows, ts); err != nil {
		send(ctx, chunks, Chunk{Err: err, Done: true})
		return
	}

	seq := 0
	for {
		if ctx.Err() != nil {
			send(ctx, chunks, Chunk{Seq: seq, Err: ctx.Err(), Done: true})
			return
		}

		chunk := Chunk{Seq: seq}
		for i := 0; i < opts.ChunkSize && rows.Next(); i++ {
			row := make([]any, len(ts.Columns))
			ptrs := make([]any, len(ts.Columns))
			for j := range row {
				ptrs[j] = &row[j]
			}
			if err := rows.Scan(ptrs...); err != nil {
				send(ctx, chunks, Chunk{Seq: seq, Err: fmt.Errorf("scanning row: %w", err), Done: true})
				return
			}
			coerced, err := CoerceRow(ts.Columns, row)
			if err != nil {
				send(ctx, chunks, Chunk{Seq: seq, Err: fmt.Errorf("coercing row: %w", err), Done: true})
				return
			}
			chunk.Rows = append(chunk.Rows, coerced)
		}

		if err := rows.Err(); err != nil {
			send(ctx, chunks, Chunk{Seq: seq, Err: fmt.Errorf("reading rows: %w", err), Done: true})
			return
		}

		chunk.Done = len(chunk.Rows) < opts.ChunkSize
		if !send(ctx, chunks, chunk) || chunk.Done {
			return
		}
		seq++
	}
}

// scanChunk drains one keyset query result, checking for column drift
// before scanning.
func scanChunk(rows *sql.Rows, ts *schema.TableSchema) ([][]bigquery.Value, error) {
	if err := checkDrift(rows, ts); err != nil {
		return nil, err
	}

	var coerced [][]bigquery.Value
	for rows.Next() {
		row := make([]any, len(ts.Columns))
		ptrs := make([]any, len(ts.Columns))
		for j := range row {
			ptrs[j] = &row[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		cr, err := CoerceRow(ts.Columns, row)
		if err != nil {
			return nil, fmt.Errorf("coercing row: %w", err)
		}
		coerced = append(coerced, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return coerced, nil
}

func checkDrift(rows *sql.Rows, ts *schema.TableSchema) error {
	names, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("reading result columns: %w", err)
	}
	if !ts.SameColumns(names) {
		return fmt.Errorf("%w: %s now returns columns %v, introspected %v",
			ErrSchemaDrift, ts.Table, names, ts.ColumnNames())
	}
	return nil
}

func pkIndex(ts *schema.TableSchema, pkCol string) int {
	for i, col := range ts.Columns {
		if col.Name == pkCol {
			return i
		}
	}
	return 0
}
