package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/enhance"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string) Run {
	return Run{
		ID:          id,
		Trigger:     "cli",
		StartedAt:   time.Unix(1700000000, 123),
		Duration:    42 * time.Millisecond,
		Fingerprint: "abc",
		TouchedKeys: []string{"dns", "tun"},
		FailedUnits: []string{"Script"},
		Logs: []chain.Log{
			{Unit: "Script", Kind: chain.KindScript, Outcome: chain.OutcomeFailed, Entries: []chain.Entry{{Level: chain.LevelError, Message: "boom"}}},
			{Unit: "tun", Kind: chain.KindBuiltin, Outcome: chain.OutcomeSuccess, Changed: []string{"tun", "dns"}},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := sampleRun("run-1")

	require.NoError(t, s.Record(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.TouchedKeys, got.TouchedKeys)
	assert.Equal(t, want.FailedUnits, got.FailedUnits)
	assert.Equal(t, want.Logs, got.Logs)

	_, err = s.Get(ctx, "missing")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestLatestAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Record(ctx, sampleRun(fmt.Sprintf("run-%d", i))))
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-3", latest.ID)

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDuplicateIDRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, sampleRun("same")))
	err := s.Record(ctx, sampleRun("same"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryHistory))
}

func TestPrune(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, sampleRun(fmt.Sprintf("run-%d", i))))
	}

	n, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-4", "run-3"}, []string{runs[0].ID, runs[1].ID})

	n, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFromResultAndFileDatabase(t *testing.T) {
	res, err := enhance.New(enhance.Options{}).Run(context.Background(), []byte("mode: rule\n"), nil, chain.Flags{})
	require.NoError(t, err)

	run := FromResult(res, "watch")
	assert.Equal(t, res.RunID, run.ID)
	assert.Empty(t, run.FailedUnits)

	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), run))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "watch", got.Trigger)
	assert.Equal(t, res.Fingerprint, got.Fingerprint)
	assert.Nil(t, got.FailedUnits)
}
