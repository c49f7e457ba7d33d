package main

import (
	"fmt"
	"time"
)

const (
	// pickerSeedBase is added to the 1-based level number to seed that
	// level's shuffle. Fixed forever: changing it (or the generator below)
	// would make previously committed days unreproducible from the catalog
	// alone, and only an operator override could patch that.
	pickerSeedBase uint32 = 0xC0FFEE

	dateLayout = "2006-01-02"
)

// lcg is a 32-bit linear congruential generator (Numerical Recipes
// constants). Deliberately tiny and self-contained so every process that
// previews or commits a day shuffles byte-for-byte identically.
type lcg struct {
	state uint32
}

func (l *lcg) next() uint32 {
	l.state = l.state*1664525 + 1013904223
	return l.state
}

// dayIndex returns the number of whole days between the Unix epoch and the
// given YYYY-MM-DD date, taken as a civil date in UTC.
func dayIndex(dateISO string) (int, error) {
	t, err := time.ParseInLocation(dateLayout, dateISO, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", dateISO, err)
	}
	return int(t.Unix() / 86400), nil
}

// shuffledKeys returns the level's sorted distinct keys permuted by a
// Fisher-Yates shuffle seeded from the level alone. The permutation is the
// same every day; the day only chooses the index into it.
func shuffledKeys(catalog *Catalog, level int) []string {
	sorted := catalog.KeysForLevel(level)
	keys := make([]string, len(sorted))
	copy(keys, sorted)

	rng := lcg{state: pickerSeedBase + uint32(level)}
	for i := len(keys) - 1; i > 0; i-- {
		j := int(rng.next() % uint32(i+1))
		keys[i], keys[j] = keys[j], keys[i]
	}

	return keys
}

// pickKeys deterministically selects up to one path key per level for the
// given date. A level with no candidates contributes nothing; the result
// is shorter than five keys but still valid. Depends only on the catalog
// contents and the date, never on wall-clock time or csv row order.
func pickKeys(catalog *Catalog, dateISO string) ([]string, error) {
	day, err := dayIndex(dateISO)
	if err != nil {
		return nil, err
	}

	var picked []string
	for level := 1; level <= levelCount; level++ {
		keys := shuffledKeys(catalog, level)
		if len(keys) == 0 {
			continue
		}
		idx := day % len(keys)
		if idx < 0 {
			idx += len(keys)
		}
		picked = append(picked, keys[idx])
	}

	return picked, nil
}
