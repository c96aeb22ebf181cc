package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

var tick = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DefaultConfig(BackendSQLite, ":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func recommendation(portfolioID, digest string) *types.Recommendation {
	d := decimal.RequireFromString
	return &types.Recommendation{
		ID:          "rec-" + digest,
		PortfolioID: portfolioID,
		Digest:      digest,
		Status:      types.RunSolved,
		Allocation: types.Allocation{
			Pool: d("100"),
			Entries: []types.AllocationEntry{
				{ProjectID: "a", Units: d("60"), Fraction: d("0.6")},
				{ProjectID: "b", Units: d("40"), Fraction: d("0.4")},
			},
		},
		Rationale: []types.Rationale{
			{ProjectID: "a", Units: d("60"), Binding: types.BindingDemandCap, Text: "a receives 60"},
		},
		Summary: types.Summary{
			RiskAdjustedReturn: d("416.666667"),
			BindingConstraints: []string{"resource_pool"},
			Quality:            types.QualityBound{Objective: d("416.666667"), UpperBound: d("420"), Gap: d("0.007937")},
		},
		Components: []types.ComponentRecord{
			{ID: "a", Members: []string{"a", "b"}, Fingerprint: "fp", Budget: d("100"), StopReason: "no_improving_move"},
		},
		Anomalies: []types.Anomaly{
			{ProjectID: "b", Field: "progress", Kind: types.AnomalyClamped, Original: "120", Applied: "1"},
		},
	}
}

func TestStoreAppendAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rec := recommendation("pf", "d1")
	rec.Version = 1
	rec.RecordedAt = tick
	require.NoError(t, s.Append(ctx, rec))

	got, err := s.Get(ctx, "pf", 1)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got, decimalEqual); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Get(ctx, "pf", 2)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}

func TestStoreRejectsDuplicateVersion(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rec := recommendation("pf", "d1")
	rec.Version = 1
	require.NoError(t, s.Append(ctx, rec))

	again := recommendation("pf", "d2")
	again.Version = 1
	err := s.Append(ctx, again)
	assert.True(t, errors.IsType(err, errors.TypeStorage))

	got, err := s.Get(ctx, "pf", 1)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.Digest)
}

func TestStoreBacksHistoryLog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	clock := func() time.Time { return tick }

	log := history.NewLog(history.WithSink(s), history.WithClock(clock))
	for _, digest := range []string{"d1", "d2"} {
		_, err := log.Append(ctx, recommendation("pf", digest))
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, recommendation("other", "d9"))
	require.NoError(t, err)

	entries, err := s.Entries(ctx, "pf")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Version)
	assert.Equal(t, "d2", entries[1].Digest)
	assert.True(t, tick.Equal(entries[1].RecordedAt))

	ids, err := s.Portfolios(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "pf"}, ids)

	restored := history.NewLog()
	n, err := s.RestoreInto(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want, err := log.Latest("pf")
	require.NoError(t, err)
	got, err := restored.Latest("pf")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, decimalEqual); diff != "" {
		t.Errorf("restored record mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, restored.VerifyIntegrity())
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig("mongo", "x"), nil)
	assert.True(t, errors.IsType(err, errors.TypeConfig))

	_, err = Open(context.Background(), DefaultConfig(BackendSQLite, ""), nil)
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}
