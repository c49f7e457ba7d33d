package main

import (
	"context"
	"fmt"
	"time"
)

// PuzzleSource records how a day's puzzle set was resolved.
type PuzzleSource string

const (
	SourceOverride  PuzzleSource = "override"
	SourceCommitted PuzzleSource = "committed"
	SourcePreview   PuzzleSource = "preview"
)

// DailyPuzzleSet is the resolved answer to "what are this date's puzzles".
// Once Source is override or committed the value is immutable for that
// date; only a preview for a future date may legitimately change.
type DailyPuzzleSet struct {
	Date       string       `json:"date"`
	GameNumber *int         `json:"gameNumber"`
	Keys       []string     `json:"keys"`
	Source     PuzzleSource `json:"source"`
}

// DailyService is the single source of truth for a date's puzzles. It
// runs the picker and mediates between preview, first-writer-wins commit,
// and operator override through the shared store.
type DailyService struct {
	store   *Store
	catalog *Catalog
	zone    *time.Location

	// now is swapped out by tests.
	now func() time.Time
}

// NewDailyService builds a service resolving "today" in the given zone.
func NewDailyService(store *Store, catalog *Catalog, zone *time.Location) *DailyService {
	return &DailyService{
		store:   store,
		catalog: catalog,
		zone:    zone,
		now:     time.Now,
	}
}

// Today returns the current civil date in the service's reference zone.
func (s *DailyService) Today() string {
	return s.now().In(s.zone).Format(dateLayout)
}

// Resolve returns the puzzle set for a date with strict precedence:
// override, then committed, then (for today only) pick-and-commit, then
// (for future dates) a non-durable preview. A past date with neither an
// override nor a commit fails: recomputing it against a possibly changed
// catalog would break reproducibility for anyone who already played it.
func (s *DailyService) Resolve(ctx context.Context, dateISO string) (*DailyPuzzleSet, error) {
	if _, err := dayIndex(dateISO); err != nil {
		return nil, err
	}

	today := s.Today()

	gameNumber, err := s.gameNumber(ctx, dateISO, today)
	if err != nil {
		return nil, err
	}

	set := &DailyPuzzleSet{
		Date:       dateISO,
		GameNumber: gameNumber,
	}

	override, err := s.store.OverriddenPuzzle(ctx, dateISO)
	if err != nil {
		return nil, err
	}
	if len(override) == levelCount {
		set.Keys = override
		set.Source = SourceOverride
		return set, nil
	}

	committed, err := s.store.CommittedPuzzle(ctx, dateISO)
	if err != nil {
		return nil, err
	}
	if committed != nil {
		set.Keys = committed
		set.Source = SourceCommitted
		return set, nil
	}

	switch {
	case dateISO < today:
		return nil, fmt.Errorf("%w: %s", errUncommittedPastGame, dateISO)

	case dateISO == today:
		picked, err := pickKeys(s.catalog, dateISO)
		if err != nil {
			return nil, err
		}
		// First writer wins; a losing pick is discarded in favor of
		// whatever was committed first, so concurrent first visits
		// never diverge.
		winner, _, err := s.store.CommitPuzzle(ctx, dateISO, picked)
		if err != nil {
			return nil, err
		}
		set.Keys = winner
		set.Source = SourceCommitted
		return set, nil

	default:
		picked, err := pickKeys(s.catalog, dateISO)
		if err != nil {
			return nil, err
		}
		set.Keys = picked
		set.Source = SourcePreview
		return set, nil
	}
}

// gameNumber computes the 1-based game number relative to the baseline
// start date, ensuring the baseline exists first (first-writer-wins).
// Dates before the baseline have no game number.
func (s *DailyService) gameNumber(ctx context.Context, dateISO, today string) (*int, error) {
	baseline, err := s.store.EnsureBaseline(ctx, today)
	if err != nil {
		return nil, err
	}

	baseDay, err := dayIndex(baseline)
	if err != nil {
		return nil, fmt.Errorf("stored baseline: %w", err)
	}
	day, err := dayIndex(dateISO)
	if err != nil {
		return nil, err
	}

	if day < baseDay {
		return nil, nil
	}

	n := day - baseDay + 1
	return &n, nil
}
