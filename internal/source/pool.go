// Package source connects to MySQL source databases, introspects table
// schemas, and extracts rows in chunks for loading.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/johndauphine/mysql-bq-replicate/internal/dbconfig"
	"github.com/johndauphine/mysql-bq-replicate/internal/logging"
)

// PoolStats reports connection pool usage for diagnostics.
type PoolStats struct {
	MaxConns    int
	ActiveConns int
	IdleConns   int
	WaitCount   int64
	WaitTimeMs  int64
}

// Conn wraps a pooled connection to one source database.
type Conn struct {
	db       *sql.DB
	cfg      *dbconfig.SourceDatabase
	maxConns int
}

// Connect opens a bounded connection pool to a source database and
// verifies it with a ping.
func Connect(cfg *dbconfig.SourceDatabase, maxConns int) (*Conn, error) {
	dsn := BuildDSN(cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	idle := maxConns / 4
	if idle < 1 {
		idle = 1
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	var version string
	db.QueryRow("SELECT VERSION()").Scan(&version)
	dbType := "MySQL"
	if strings.Contains(strings.ToLower(version), "mariadb") {
		dbType = "MariaDB"
	}

	logging.Info("Connected to %s source %s: %s:%d/%s", dbType, cfg.Name, cfg.Host, cfg.Port, cfg.Database)

	return &Conn{db: db, cfg: cfg, maxConns: maxConns}, nil
}

// BuildDSN builds a go-sql-driver DSN. parseTime makes DATETIME and
// TIMESTAMP columns scan as time.Time; loc=UTC keeps them comparable
// across source servers in different timezones.
func BuildDSN(host string, port int, database, user, password string) string {
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("charset", "utf8mb4")
	params.Set("loc", "UTC")
	params.Set("tls", "preferred")

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, database, params.Encode())
}

// Close closes all connections.
func (c *Conn) Close() error {
	return c.db.Close()
}

// DB returns the underlying sql.DB.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Name returns the logical database name.
func (c *Conn) Name() string {
	return c.cfg.Name
}

// Database returns the physical database (catalog) name on the server.
func (c *Conn) Database() string {
	return c.cfg.Database
}

// PoolStats returns connection pool statistics.
func (c *Conn) PoolStats() PoolStats {
	s := c.db.Stats()
	return PoolStats{
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// Ping verifies the connection is still alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
