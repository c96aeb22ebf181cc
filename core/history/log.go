// Package history - Append-only recommendation log
// Recommendations are write-once, content-hashed and versioned per portfolio.
// No silent updates. Ever.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// ErrHashMismatch is returned when a stored record no longer matches its hash
var ErrHashMismatch = errors.New(errors.TypeStorage, "recommendation hash mismatch: record may be corrupted")

// Sink receives every appended record before it becomes visible.
// A failing sink rejects the append.
type Sink interface {
	Append(ctx context.Context, rec *types.Recommendation) error
}

// Entry describes one stored version
type Entry struct {
	PortfolioID string          `json:"portfolio_id"`
	Version     int64           `json:"version"`
	ID          string          `json:"id"`
	Digest      string          `json:"digest"`
	Status      types.RunStatus `json:"status"`
	RecordedAt  time.Time       `json:"recorded_at"`
	ContentHash string          `json:"content_hash"`
}

type record struct {
	rec  *types.Recommendation
	hash string
}

// Log is the versioned append-only store of recommendations
type Log struct {
	mu      sync.RWMutex
	records map[string][]record

	sink   Sink
	clock  func() time.Time
	logger *zap.Logger
}

// Option configures a Log
type Option func(*Log)

// WithSink mirrors appends to a durable sink
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithClock overrides the time source for RecordedAt stamps
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// NewLog creates an empty log
func NewLog(opts ...Option) *Log {
	l := &Log{
		records: make(map[string][]record),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// Append stores a copy of rec as the next version of its portfolio and
// returns the stored copy. The caller's value is never retained.
func (l *Log) Append(ctx context.Context, rec *types.Recommendation) (*types.Recommendation, error) {
	if rec == nil || rec.PortfolioID == "" {
		return nil, errors.Validation("", "portfolio_id", "recommendation needs a portfolio")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := rec.Clone()
	stored.Version = int64(len(l.records[rec.PortfolioID]) + 1)
	stored.RecordedAt = l.clock().UTC()

	hash, err := contentHash(stored)
	if err != nil {
		return nil, err
	}

	if l.sink != nil {
		if err := l.sink.Append(ctx, stored.Clone()); err != nil {
			return nil, errors.Storage(fmt.Sprintf("failed to persist %s version %d", stored.PortfolioID, stored.Version), err)
		}
	}

	l.records[stored.PortfolioID] = append(l.records[stored.PortfolioID], record{rec: stored, hash: hash})
	l.logger.Debug("recommendation recorded",
		zap.String("portfolio", stored.PortfolioID),
		zap.Int64("version", stored.Version),
		zap.String("digest", stored.Digest),
	)
	return stored.Clone(), nil
}

// Restore loads previously persisted versions of one portfolio.
// Versions must be contiguous from 1 and the portfolio must be empty.
func (l *Log) Restore(portfolioID string, recs []*types.Recommendation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records[portfolioID]) > 0 {
		return errors.Newf(errors.TypeStorage, "portfolio %s already has history", portfolioID)
	}

	restored := make([]record, 0, len(recs))
	for i, rec := range recs {
		if rec.PortfolioID != portfolioID || rec.Version != int64(i+1) {
			return errors.Newf(errors.TypeStorage, "portfolio %s: expected version %d, found %s/%d",
				portfolioID, i+1, rec.PortfolioID, rec.Version)
		}
		stored := rec.Clone()
		hash, err := contentHash(stored)
		if err != nil {
			return err
		}
		restored = append(restored, record{rec: stored, hash: hash})
	}
	l.records[portfolioID] = restored
	return nil
}

// Get returns a copy of one version
func (l *Log) Get(portfolioID string, version int64) (*types.Recommendation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.records[portfolioID]
	if version < 1 || version > int64(len(recs)) {
		return nil, errors.NotFound("recommendation", fmt.Sprintf("%s@%d", portfolioID, version))
	}
	return verified(recs[version-1])
}

// Latest returns a copy of the newest version
func (l *Log) Latest(portfolioID string) (*types.Recommendation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.records[portfolioID]
	if len(recs) == 0 {
		return nil, errors.NotFound("recommendation", portfolioID)
	}
	return verified(recs[len(recs)-1])
}

// List returns the stored versions of a portfolio, oldest first
func (l *Log) List(portfolioID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.records[portfolioID]
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, Entry{
			PortfolioID: r.rec.PortfolioID,
			Version:     r.rec.Version,
			ID:          r.rec.ID,
			Digest:      r.rec.Digest,
			Status:      r.rec.Status,
			RecordedAt:  r.rec.RecordedAt,
			ContentHash: r.hash,
		})
	}
	return out
}

// Portfolios returns every portfolio with history, sorted
func (l *Log) Portfolios() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return determinism.SortedKeys(l.records)
}

// VerifyIntegrity rehashes every record and reports mismatches
func (l *Log) VerifyIntegrity() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var corrupted []string
	determinism.RangeMapSorted(l.records, func(portfolioID string, recs []record) bool {
		for _, r := range recs {
			if _, err := verified(r); err != nil {
				corrupted = append(corrupted, fmt.Sprintf("%s@%d: %v", portfolioID, r.rec.Version, err))
			}
		}
		return true
	})
	return corrupted
}

func verified(r record) (*types.Recommendation, error) {
	hash, err := contentHash(r.rec)
	if err != nil {
		return nil, err
	}
	if hash != r.hash {
		return nil, ErrHashMismatch
	}
	return r.rec.Clone(), nil
}

func contentHash(rec *types.Recommendation) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Internal("failed to encode recommendation", err)
	}
	return determinism.ComputeHash(data).Hex(), nil
}
