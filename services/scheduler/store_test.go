package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recarmend/listingworker/internal/scraper"
)

func TestStoreMissingFileStartsEmpty(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "run_state.json"))
	require.NoError(t, err)
	assert.Empty(t, store.All())
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_state.json")

	store, err := NewStore(path)
	require.NoError(t, err)

	rec := RunRecord{
		Source:      "CarPages",
		LastRunID:   "run-1",
		LastAttempt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		LastSuccess: time.Date(2026, 3, 2, 9, 12, 0, 0, time.UTC),
		Outcome:     scraper.OutcomeSuccess,
		Count:       412,
	}
	require.NoError(t, store.Put(rec))

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("CarPages")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestStoreEnsureKeepsExistingRecord(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "run_state.json"))
	require.NoError(t, err)

	require.NoError(t, store.Ensure("AutoTrader"))
	rec, ok := store.Get("AutoTrader")
	require.True(t, ok)
	assert.True(t, rec.LastAttempt.IsZero())

	rec.Outcome = scraper.OutcomeFailed
	rec.LastAttempt = time.Now()
	require.NoError(t, store.Put(rec))

	require.NoError(t, store.Ensure("AutoTrader"))
	kept, ok := store.Get("AutoTrader")
	require.True(t, ok)
	assert.Equal(t, scraper.OutcomeFailed, kept.Outcome)
	assert.False(t, kept.LastAttempt.IsZero())
}

func TestStoreAllSortedBySource(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "run_state.json"))
	require.NoError(t, err)

	require.NoError(t, store.Put(RunRecord{Source: "CarPages"}))
	require.NoError(t, store.Put(RunRecord{Source: "AutoTrader"}))

	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, "AutoTrader", all[0].Source)
	assert.Equal(t, "CarPages", all[1].Source)
}
