// Package target manages BigQuery datasets and tables and loads
// extracted rows into them.
package target

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/johndauphine/mysql-bq-replicate/internal/dbconfig"
	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
)

// Client wraps a BigQuery client scoped to one project and dataset.
type Client struct {
	bq       *bigquery.Client
	project  string
	dataset  string
	location string
}

// NewClient creates a BigQuery client from the target configuration.
// Credentials come from Application Default Credentials.
func NewClient(ctx context.Context, cfg *dbconfig.TargetConfig) (*Client, error) {
	bq, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, errors.Wrap(err, "creating BigQuery client")
	}
	return &Client{
		bq:       bq,
		project:  cfg.Project,
		dataset:  cfg.Dataset,
		location: cfg.Location,
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.bq.Close()
}

// Project returns the target project ID.
func (c *Client) Project() string { return c.project }

// Dataset returns the target dataset ID.
func (c *Client) Dataset() string { return c.dataset }

// QualifiedName returns the backtick-quoted project.dataset.table form
// used in query text.
func (c *Client) QualifiedName(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset, table)
}

// EnsureDataset creates the target dataset if it does not exist.
func (c *Client) EnsureDataset(ctx context.Context) error {
	ds := c.bq.Dataset(c.dataset)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return errors.Wrapf(err, "reading dataset %s", c.dataset)
	}

	meta := &bigquery.DatasetMetadata{Location: c.location}
	if err := ds.Create(ctx, meta); err != nil {
		if IsAlreadyExists(err) {
			return nil
		}
		return errors.Wrapf(err, "creating dataset %s", c.dataset)
	}
	logging.Info("Created dataset %s.%s", c.project, c.dataset)
	return nil
}

// TableExists reports whether a table exists in the target dataset.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := c.bq.Dataset(c.dataset).Table(table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "reading table %s", table)
}

// EnsureTable makes the target table exist with the given schema.
// With replace set, any existing table is dropped first so the load
// starts from an empty table with exactly this schema.
func (c *Client) EnsureTable(ctx context.Context, table string, schema bigquery.Schema, replace bool) error {
	t := c.bq.Dataset(c.dataset).Table(table)

	if replace {
		if err := t.Delete(ctx); err != nil && !IsNotFound(err) {
			return errors.Wrapf(err, "dropping table %s", table)
		}
	} else {
		exists, err := c.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}

	if err := t.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		if IsAlreadyExists(err) {
			return nil
		}
		return errors.Wrapf(err, "creating table %s", table)
	}
	logging.Info("Created table %s", c.QualifiedName(table))
	return nil
}

// RowCount returns the number of rows currently in a target table.
func (c *Client) RowCount(ctx context.Context, table string) (int64, error) {
	q := c.bq.Query(fmt.Sprintf("SELECT COUNT(*) FROM %s", c.QualifiedName(table)))
	q.Location = c.location

	it, err := q.Read(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "counting rows in %s", table)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		return 0, errors.Wrapf(err, "reading count for %s", table)
	}
	count, ok := row[0].(int64)
	if !ok {
		return 0, errors.Errorf("count for %s is %T, want int64", table, row[0])
	}
	return count, nil
}

// runDML executes a DML statement and waits for completion.
func (c *Client) runDML(ctx context.Context, query string) error {
	q := c.bq.Query(query)
	q.Location = c.location

	job, err := q.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "running query")
	}
	st, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "waiting for query")
	}
	if st.Err() != nil {
		return errors.Wrap(st.Err(), "query failed")
	}
	return nil
}

// inserter returns the streaming inserter for a table.
func (c *Client) inserter(table string) *bigquery.Inserter {
	return c.bq.Dataset(c.dataset).Table(table).Inserter()
}

// IsNotFound checks for a BigQuery 404.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound
}

// IsAlreadyExists checks for a BigQuery 409.
func IsAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusConflict
}

// IsTransient checks for rate limiting and server-side errors worth
// retrying.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
