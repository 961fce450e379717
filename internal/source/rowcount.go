package source

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
)

// statsSafetyMargin pads the optimizer's TABLE_ROWS estimate, which
// routinely undercounts on busy InnoDB tables.
const statsSafetyMargin = 1.2

// RowCount estimates how many rows an extraction will produce, for
// progress reporting only. It tries an exact filtered COUNT(*) under
// countTimeout; on timeout or error it falls back to the optimizer
// estimate, padded. Returns 0 when nothing can be determined; callers
// treat 0 as unknown, never as empty.
func (c *Conn) RowCount(ctx context.Context, table, filter string, countTimeout time.Duration) int64 {
	countCtx, cancel := context.WithTimeout(ctx, countTimeout)
	defer cancel()

	var count int64
	err := c.db.QueryRowContext(countCtx, buildCountQuery(c.cfg.Database, table, filter)).Scan(&count)
	if err == nil {
		return count
	}
	if ctx.Err() != nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		logging.Debug("Exact count for %s.%s exceeded %s, using optimizer estimate", c.cfg.Name, table, countTimeout)
	} else {
		logging.Warn("Exact count for %s.%s failed: %v", c.cfg.Name, table, err)
	}

	var estimate sql.NullInt64
	err = c.db.QueryRowContext(ctx,
		`SELECT TABLE_ROWS FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		c.cfg.Database, table).Scan(&estimate)
	if err != nil || !estimate.Valid {
		return 0
	}
	return int64(float64(estimate.Int64) * statsSafetyMargin)
}
