package correlate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "correlate_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := OpenStore(filepath.Join(tmpDir, "correlations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	completedAt := time.UnixMicro(1_700_000_000_000_000)
	require.NoError(t, store.Put(ctx, Record{
		RequestID:   "req-1",
		Fingerprint: "fp-1",
		Payload:     []byte(`{"accepted":true}`),
		CompletedAt: completedAt,
	}))

	rec, ok, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fp-1", rec.Fingerprint)
	assert.Equal(t, []byte(`{"accepted":true}`), rec.Payload)
	assert.Equal(t, completedAt, rec.CompletedAt)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.UnixMicro(1_000_000)
	fresh := time.UnixMicro(9_000_000)
	require.NoError(t, store.Put(ctx, Record{RequestID: "old", Fingerprint: "fp", Payload: []byte("a"), CompletedAt: old}))
	require.NoError(t, store.Put(ctx, Record{RequestID: "fresh", Fingerprint: "fp", Payload: []byte("b"), CompletedAt: fresh}))

	pruned, err := store.Prune(ctx, time.UnixMicro(5_000_000))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, ok, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "pruned record should be gone")

	_, ok, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorrelatorWithStoreSurvivesRestart(t *testing.T) {
	store := openTestStore(t)

	first := New(time.Hour, WithStore(store))
	payload, _, err := first.Submit(context.Background(), "req-1", "fp", func() ([]byte, error) {
		return []byte("accepted"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "accepted", string(payload))

	// A fresh correlator over the same store: the retry is served from
	// the durable cache without re-executing.
	second := New(time.Hour, WithStore(store))
	calls := 0
	payload, dup, err := second.Submit(context.Background(), "req-1", "fp", func() ([]byte, error) {
		calls++
		return []byte("other"), nil
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "accepted", string(payload))
	assert.Zero(t, calls)
}
