package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitPuzzle_FirstWriterWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []string{"A", "B", "C", "D", "E"}
	second := []string{"V", "W", "X", "Y", "Z"}

	got, won, err := s.CommitPuzzle(ctx, "2025-09-03", first)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, first, got)

	// Losing the race is the handled path: the caller adopts the winner.
	got, won, err = s.CommitPuzzle(ctx, "2025-09-03", second)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, first, got)

	committed, err := s.CommittedPuzzle(ctx, "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, first, committed)
}

func TestCommitPuzzle_Concurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const n = 16
	results := make([][]string, n)
	winners := make([]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"k", "e", "y", "s", string(rune('a' + i))}
			got, won, err := s.CommitPuzzle(ctx, "2025-09-04", keys)
			assert.NoError(t, err)
			results[i] = got
			winners[i] = won
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i], "all concurrent committers must observe one value")
	}
	for _, won := range winners {
		if won {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one writer wins")
}

func TestOverridePuzzle_Overwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.OverridePuzzle(ctx, "2025-09-03", []string{"1", "2", "3", "4", "5"}))
	require.NoError(t, s.OverridePuzzle(ctx, "2025-09-03", []string{"6", "7", "8", "9", "10"}))

	got, err := s.OverriddenPuzzle(ctx, "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"6", "7", "8", "9", "10"}, got)
}

func TestOverridePuzzle_LeavesCommittedSlot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	committed := []string{"A", "B", "C", "D", "E"}
	_, _, err := s.CommitPuzzle(ctx, "2025-09-03", committed)
	require.NoError(t, err)

	require.NoError(t, s.OverridePuzzle(ctx, "2025-09-03", []string{"1", "2", "3", "4", "5"}))

	// The original automatic pick stays readable as an audit trail.
	got, err := s.CommittedPuzzle(ctx, "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, committed, got)
}

func TestPuzzleSlots_AbsentIsNil(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	got, err := s.CommittedPuzzle(ctx, "2000-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.OverriddenPuzzle(ctx, "2000-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnsureBaseline(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	baseline, err := s.EnsureBaseline(ctx, "2025-09-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", baseline)

	// First writer wins; later days never move the baseline.
	baseline, err = s.EnsureBaseline(ctx, "2025-09-02")
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", baseline)
}

func TestSessionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	state := []byte(`{"date":"2025-09-03","score":120}`)
	require.NoError(t, s.SaveSession(ctx, "player-1", "2025-09-03", state))

	got, err := s.LoadSession(ctx, "player-1", "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Overwrite on save, not append.
	updated := []byte(`{"date":"2025-09-03","score":360}`)
	require.NoError(t, s.SaveSession(ctx, "player-1", "2025-09-03", updated))

	got, err = s.LoadSession(ctx, "player-1", "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	got, err = s.LoadSession(ctx, "player-1", "2025-09-04")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementResult(ctx, "2025-09-03", 1, true))
	require.NoError(t, s.IncrementResult(ctx, "2025-09-03", 1, true))
	require.NoError(t, s.IncrementResult(ctx, "2025-09-03", 1, false))
	require.NoError(t, s.IncrementResult(ctx, "2025-09-03", 3, false))

	pcts, err := s.ResultPercentages(ctx, "2025-09-03")
	require.NoError(t, err)

	assert.InDelta(t, 66.66, pcts[0], 0.1)
	assert.Equal(t, 0.0, pcts[1], "no data reports zero")
	assert.Equal(t, 0.0, pcts[2])
}
