// Package storage provides the SQL audit store for recommendations.
// Records are append-only: a (portfolio, version) pair is written once and
// never updated. Supports sqlite (modernc, pure Go) and PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// Backend is a storage backend type
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config holds database connection configuration
type Config struct {
	Backend         Backend
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns reasonable defaults for a backend
func DefaultConfig(backend Backend, dsn string) Config {
	return Config{
		Backend:         backend,
		DSN:             dsn,
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Store persists recommendations. It implements history.Sink.
type Store struct {
	db     *sqlx.DB
	cfg    Config
	logger *zap.Logger
}

var _ history.Sink = (*Store)(nil)

// Entry is the indexed summary row of a stored recommendation
type Entry struct {
	PortfolioID string    `db:"portfolio_id" json:"portfolio_id"`
	Version     int64     `db:"version" json:"version"`
	ID          string    `db:"id" json:"id"`
	Digest      string    `db:"digest" json:"digest"`
	Status      string    `db:"status" json:"status"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}

type row struct {
	Entry
	Payload []byte `db:"payload"`
}

var schemas = map[Backend]string{
	BackendSQLite: `
		CREATE TABLE IF NOT EXISTS recommendations (
			portfolio_id TEXT NOT NULL,
			version      INTEGER NOT NULL,
			id           TEXT NOT NULL,
			digest       TEXT NOT NULL,
			status       TEXT NOT NULL,
			recorded_at  TIMESTAMP NOT NULL,
			payload      BLOB NOT NULL,
			PRIMARY KEY (portfolio_id, version)
		)`,
	BackendPostgres: `
		CREATE TABLE IF NOT EXISTS recommendations (
			portfolio_id TEXT NOT NULL,
			version      BIGINT NOT NULL,
			id           TEXT NOT NULL,
			digest       TEXT NOT NULL,
			status       TEXT NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL,
			payload      BYTEA NOT NULL,
			PRIMARY KEY (portfolio_id, version)
		)`,
}

// Open connects to the database and creates the schema when missing
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	schema, ok := schemas[cfg.Backend]
	if !ok {
		return nil, errors.Config(fmt.Sprintf("unknown storage backend %q", cfg.Backend), nil)
	}
	if cfg.DSN == "" {
		return nil, errors.Config("storage DSN is required", nil)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	if cfg.Backend == BackendSQLite && !strings.HasPrefix(cfg.DSN, ":memory:") && !strings.HasPrefix(cfg.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, errors.Storage("failed to create database directory", err)
		}
	}

	db, err := sqlx.Open(string(cfg.Backend), cfg.DSN)
	if err != nil {
		return nil, errors.Storage("failed to open database", err)
	}

	// A sqlite database, in-memory ones especially, is private to its connection
	if cfg.Backend == BackendSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{db: db, cfg: cfg, logger: logging.Named(logging.OrNop(logger), "storage")}

	ctx, cancel := s.timeout(ctx)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Storage("failed to ping database", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Storage("failed to create schema", err)
	}
	s.logger.Info("audit store opened", zap.String("backend", string(cfg.Backend)))
	return s, nil
}

// Append writes one recommendation. Writing an existing version fails.
func (s *Store) Append(ctx context.Context, rec *types.Recommendation) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return errors.Internal("failed to encode recommendation", err)
	}

	ctx, cancel := s.timeout(ctx)
	defer cancel()

	query := s.db.Rebind(`
		INSERT INTO recommendations
		(portfolio_id, version, id, digest, status, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		rec.PortfolioID, rec.Version, rec.ID, rec.Digest, string(rec.Status),
		rec.RecordedAt.UTC(), payload)
	if err != nil {
		return errors.Storage(fmt.Sprintf("failed to insert %s version %d", rec.PortfolioID, rec.Version), err)
	}
	return nil
}

// Get reads one version
func (s *Store) Get(ctx context.Context, portfolioID string, version int64) (*types.Recommendation, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	var r row
	query := s.db.Rebind(`
		SELECT portfolio_id, version, id, digest, status, recorded_at, payload
		FROM recommendations
		WHERE portfolio_id = ? AND version = ?`)
	if err := s.db.GetContext(ctx, &r, query, portfolioID, version); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("recommendation", fmt.Sprintf("%s@%d", portfolioID, version))
		}
		return nil, errors.Storage("failed to read recommendation", err)
	}
	return decode(r.Payload)
}

// Load reads every version of a portfolio, oldest first
func (s *Store) Load(ctx context.Context, portfolioID string) ([]*types.Recommendation, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	var rows []row
	query := s.db.Rebind(`
		SELECT portfolio_id, version, id, digest, status, recorded_at, payload
		FROM recommendations
		WHERE portfolio_id = ?
		ORDER BY version`)
	if err := s.db.SelectContext(ctx, &rows, query, portfolioID); err != nil {
		return nil, errors.Storage("failed to list recommendations", err)
	}

	out := make([]*types.Recommendation, 0, len(rows))
	for _, r := range rows {
		rec, err := decode(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Entries lists the summary rows of a portfolio, oldest first
func (s *Store) Entries(ctx context.Context, portfolioID string) ([]Entry, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	var entries []Entry
	query := s.db.Rebind(`
		SELECT portfolio_id, version, id, digest, status, recorded_at
		FROM recommendations
		WHERE portfolio_id = ?
		ORDER BY version`)
	if err := s.db.SelectContext(ctx, &entries, query, portfolioID); err != nil {
		return nil, errors.Storage("failed to list recommendations", err)
	}
	return entries, nil
}

// Portfolios lists every portfolio with stored history
func (s *Store) Portfolios(ctx context.Context) ([]string, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT portfolio_id FROM recommendations ORDER BY portfolio_id`); err != nil {
		return nil, errors.Storage("failed to list portfolios", err)
	}
	return ids, nil
}

// RestoreInto replays the stored history of every portfolio into log
func (s *Store) RestoreInto(ctx context.Context, log *history.Log) (int, error) {
	ids, err := s.Portfolios(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		recs, err := s.Load(ctx, id)
		if err != nil {
			return total, err
		}
		if err := log.Restore(id, recs); err != nil {
			return total, err
		}
		total += len(recs)
	}
	s.logger.Info("history restored", zap.Int("portfolios", len(ids)), zap.Int("records", total))
	return total, nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func decode(payload []byte) (*types.Recommendation, error) {
	var rec types.Recommendation
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, errors.Storage("failed to decode recommendation", err)
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}
