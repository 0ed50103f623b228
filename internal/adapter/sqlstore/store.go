// Package sqlstore is the spatial store over database/sql. Postgres is the
// production driver; SQLite serves local runs and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	tag         TEXT PRIMARY KEY,
	imported_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS raster_tiles (
	tag         TEXT NOT NULL,
	h           INTEGER NOT NULL,
	v           INTEGER NOT NULL,
	imported_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tag, h, v)
);
CREATE TABLE IF NOT EXISTS fire_detections (
	dataset     TEXT NOT NULL,
	id          TEXT NOT NULL,
	lat         DOUBLE PRECISION,
	lon         DOUBLE PRECISION,
	acquired_at TIMESTAMP,
	sensor      TEXT NOT NULL DEFAULT '',
	confidence  TEXT NOT NULL DEFAULT '',
	brightness  DOUBLE PRECISION NOT NULL DEFAULT 0,
	frp         DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (dataset, id)
);
CREATE TABLE IF NOT EXISTS layer_grids (
	tag    TEXT NOT NULL,
	tile   TEXT NOT NULL,
	band   TEXT NOT NULL,
	x0     DOUBLE PRECISION NOT NULL,
	y0     DOUBLE PRECISION NOT NULL,
	dx     DOUBLE PRECISION NOT NULL,
	dy     DOUBLE PRECISION NOT NULL,
	nx     INTEGER NOT NULL,
	ny     INTEGER NOT NULL,
	nodata DOUBLE PRECISION NOT NULL,
	data   BLOB NOT NULL,
	PRIMARY KEY (tag, tile, band)
);
CREATE TABLE IF NOT EXISTS layer_regions (
	tag       TEXT NOT NULL,
	region_id TEXT NOT NULL,
	geojson   TEXT NOT NULL,
	PRIMARY KEY (tag, region_id)
);
CREATE TABLE IF NOT EXISTS fire_events (
	dataset      TEXT NOT NULL,
	id           TEXT NOT NULL,
	first_day    TEXT NOT NULL,
	last_day     TEXT NOT NULL,
	detections   TEXT NOT NULL,
	geometry     TEXT NOT NULL,
	centroid_lon DOUBLE PRECISION NOT NULL,
	centroid_lat DOUBLE PRECISION NOT NULL,
	sensors      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (dataset, id)
);
`

// Store implements the spatial store used by the pipeline.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database, verifies it is reachable and creates the
// schema if needed. An unreachable database is ErrUnavailable; an unknown
// driver is ErrConfig.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverPostgres:
		sqlDriver = "postgres"
	case DriverSQLite:
		sqlDriver = "sqlite3"
		if !strings.Contains(dsn, "_busy_timeout") {
			if strings.Contains(dsn, "?") {
				dsn += "&_busy_timeout=5000"
			} else {
				dsn += "?_busy_timeout=5000"
			}
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q: %w", driver, domain.ErrConfig)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, domain.ErrConfig)
	}
	if driver == DriverPostgres {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
	} else {
		// One connection keeps an in-memory database alive and serializes writes.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s store: %w: %w", driver, domain.ErrUnavailable, err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := schema
	if s.driver == DriverPostgres {
		ddl = strings.ReplaceAll(ddl, "BLOB", "BYTEA")
		ddl = strings.ReplaceAll(ddl, "TIMESTAMP", "TIMESTAMPTZ")
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", dbError(err))
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dbError classifies a database error. A constraint violation is bad input;
// any other failure talking to the database is a connectivity error for the
// calling stage.
func dbError(err error) error {
	if isConstraint(err) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

func isConstraint(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return false
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, dbError(err)
	}
	return true, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError(err)
	}
	return nil
}
