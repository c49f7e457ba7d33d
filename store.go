package main

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const (
	slotCommitted = "committed"
	slotOverride  = "override"

	metaBaselineStart = "baseline_start"
)

// Store is the shared distribution store: per-date committed and override
// puzzle slots, the baseline start date, persisted sessions, and result
// counters. Correctness of concurrent first visits rests entirely on
// sqlite's conflict handling; there is no in-process locking here, so
// multiple server processes may share one database file.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the sqlite database at path and applies the
// schema. Safe to call repeatedly.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect store: %w", err)
	}

	// sqlite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalKeys(keys []string) (string, error) {
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("marshal keys: %w", err)
	}
	return string(data), nil
}

func unmarshalKeys(data string) ([]string, error) {
	var keys []string
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("unmarshal keys: %w", err)
	}
	return keys, nil
}

// CommitPuzzle writes the committed slot for a date if and only if no
// value exists yet, then reads back whichever value won. The returned
// boolean reports whether this call's value was the one stored. Losing
// the race is the expected path under concurrent first visits, not an
// error.
func (s *Store) CommitPuzzle(ctx context.Context, date string, keys []string) ([]string, bool, error) {
	data, err := marshalKeys(keys)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO puzzles (date, slot, keys)
		VALUES (?, ?, ?)
		ON CONFLICT (date, slot) DO NOTHING
	`, date, slotCommitted, data)
	if err != nil {
		return nil, false, fmt.Errorf("commit puzzle: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("commit puzzle: %w", err)
	}

	won := rows > 0
	if won {
		return keys, true, nil
	}

	winner, err := s.CommittedPuzzle(ctx, date)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("commit puzzle: lost insert race but no committed row for %s", date)
	}

	return winner, false, nil
}

// CommittedPuzzle returns the committed keys for a date, or nil if none.
func (s *Store) CommittedPuzzle(ctx context.Context, date string) ([]string, error) {
	return s.puzzleSlot(ctx, date, slotCommitted)
}

// OverriddenPuzzle returns the override keys for a date, or nil if none.
func (s *Store) OverriddenPuzzle(ctx context.Context, date string) ([]string, error) {
	return s.puzzleSlot(ctx, date, slotOverride)
}

func (s *Store) puzzleSlot(ctx context.Context, date, slot string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT keys FROM puzzles WHERE date = ? AND slot = ?`,
		date, slot,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s puzzle: %w", slot, err)
	}

	return unmarshalKeys(data)
}

// OverridePuzzle unconditionally writes the override slot for a date,
// replacing any prior override. The committed slot is never touched, so
// the original automatic pick stays readable as an audit trail.
func (s *Store) OverridePuzzle(ctx context.Context, date string, keys []string) error {
	data, err := marshalKeys(keys)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO puzzles (date, slot, keys)
		VALUES (?, ?, ?)
		ON CONFLICT (date, slot) DO UPDATE SET keys = excluded.keys
	`, date, slotOverride, data)
	if err != nil {
		return fmt.Errorf("override puzzle: %w", err)
	}

	return nil
}

// EnsureBaseline returns the baseline start date (the date of game #1),
// writing today as the baseline first-writer-wins if none exists yet.
func (s *Store) EnsureBaseline(ctx context.Context, today string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value)
		VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING
	`, metaBaselineStart, today)
	if err != nil {
		return "", fmt.Errorf("ensure baseline: %w", err)
	}

	var baseline string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, metaBaselineStart,
	).Scan(&baseline)
	if err != nil {
		return "", fmt.Errorf("read baseline: %w", err)
	}

	return baseline, nil
}

// SaveSession persists a player's session state for a date, overwriting
// any prior record for the same (player, date).
func (s *Store) SaveSession(ctx context.Context, playerID, date string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (player_id, date, state, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT (player_id, date) DO UPDATE
		SET state = excluded.state, updated_at = excluded.updated_at
	`, playerID, date, string(state))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// LoadSession returns the stored session state for (player, date), or nil
// if none exists.
func (s *Store) LoadSession(ctx context.Context, playerID, date string) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE player_id = ? AND date = ?`,
		playerID, date,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	return []byte(state), nil
}

// IncrementResult bumps the per-(date, level) counters. Deduplication per
// player is the caller's concern, not enforced here.
func (s *Store) IncrementResult(ctx context.Context, date string, level int, correct bool) error {
	delta := 0
	if correct {
		delta = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (date, level, correct, total)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (date, level) DO UPDATE
		SET correct = correct + excluded.correct, total = total + 1
	`, date, level, delta)
	if err != nil {
		return fmt.Errorf("increment result: %w", err)
	}

	return nil
}

// ResultPercentages returns percent-correct per level for a date. Levels
// with no recorded guesses report zero.
func (s *Store) ResultPercentages(ctx context.Context, date string) ([levelCount]float64, error) {
	var out [levelCount]float64

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, correct, total FROM results WHERE date = ?`, date,
	)
	if err != nil {
		return out, fmt.Errorf("read results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level, correct, total int
		if err := rows.Scan(&level, &correct, &total); err != nil {
			return out, fmt.Errorf("scan results: %w", err)
		}
		if level >= 1 && level <= levelCount && total > 0 {
			out[level-1] = 100 * float64(correct) / float64(total)
		}
	}

	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("read results: %w", err)
	}

	return out, nil
}
