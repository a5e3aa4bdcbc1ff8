// Package sqldb provides support for access to the database the questions
// are asked against.
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	// Registered database/sql drivers.
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL engine behind a connection.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	DuckDB   Dialect = "duckdb"
)

// ParseDialect maps a driver name to its Dialect. The empty string means
// Postgres.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// driverName is the name the dialect's driver registers with database/sql.
func (d Dialect) driverName() string {
	switch d {
	case SQLite:
		return "sqlite"
	case DuckDB:
		return "duckdb"
	default:
		return "pgx"
	}
}

// DefaultSchema is the schema tables are listed from when none is configured.
func (d Dialect) DefaultSchema() string {
	switch d {
	case DuckDB:
		return "main"
	case SQLite:
		return ""
	default:
		return "public"
	}
}

// Name returns the product name used in prompts.
func (d Dialect) Name() string {
	switch d {
	case SQLite:
		return "SQLite"
	case DuckDB:
		return "DuckDB"
	default:
		return "PostgreSQL"
	}
}

// Config is the required properties to use the database.
type Config struct {
	Driver string

	// DSN is used as is when set. Otherwise the Postgres URL is built from
	// the fields below. For SQLite and DuckDB an empty DSN is an in-memory
	// database.
	DSN string

	User         string
	Password     string
	Host         string
	Name         string
	Schema       string
	MaxIdleConns int
	MaxOpenConns int
	DisableTLS   bool
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	switch dialect {
	case Postgres:
		if dsn == "" {
			dsn = postgresURL(cfg)
		}
	case SQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
	}

	db, err := sqlx.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// Every connection to ":memory:" is a new empty database, so the pool
	// must hold on to exactly one.
	if dialect == SQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	return db, nil
}

func postgresURL(cfg Config) string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")
	if cfg.Schema != "" {
		q.Set("search_path", cfg.Schema)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// DialectOf returns the dialect of an open connection.
func DialectOf(db *sqlx.DB) Dialect {
	switch db.DriverName() {
	case "sqlite":
		return SQLite
	case "duckdb":
		return DuckDB
	default:
		return Postgres
	}
}

// StatusCheck returns nil if it can successfully talk to the database. It
// returns a non-nil error otherwise. Without a deadline on ctx the check
// gives up after one second.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	var pingError error
	for attempts := 1; ; attempts++ {
		pingError = db.PingContext(ctx)
		if pingError == nil {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), pingError)
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}

	// Run a simple query to determine connectivity.
	// Running this query forces a round trip through the database.
	const q = `SELECT 1`
	var tmp int
	return db.QueryRowContext(ctx, q).Scan(&tmp)
}
