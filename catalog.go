package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	levelCount = 5

	// pathKeySeparator joins trimmed path tokens into a single comparable
	// key. It must never appear inside a token.
	pathKeySeparator = ">"

	// pathTokenSeparator splits the "path" csv column into tokens.
	pathTokenSeparator = "|"
)

// Candidate is one row of the catalog: an identity and the path of tokens
// that leads to it. Multiple candidates may share the same path and level;
// they are alternate correct answers for the same puzzle.
type Candidate struct {
	Identity   string
	Tokens     []string
	Level      int
	Role       string
	Difficulty string
}

// Key returns the candidate's canonical path key.
func (c Candidate) Key() string {
	return pathKey(c.Tokens)
}

// pathKey canonicalizes a token sequence: each token is trimmed, then all
// are joined with pathKeySeparator. Case is preserved. Every place that
// compares puzzle identities (picker, session evaluation, operator
// overrides) must go through this function.
func pathKey(tokens []string) string {
	trimmed := make([]string, len(tokens))
	for i, t := range tokens {
		trimmed[i] = strings.TrimSpace(t)
	}
	return strings.Join(trimmed, pathKeySeparator)
}

// Catalog holds the loaded candidate set plus the derived indexes the
// picker and the session machine need. It is read-only after load.
type Catalog struct {
	records []Candidate

	// keysByLevel holds each level's distinct path keys, sorted
	// lexicographically so iteration order is independent of csv order.
	keysByLevel [levelCount][]string

	// byIdentity maps lowercased identity to its candidates.
	byIdentity map[string][]Candidate
}

// LoadCatalog reads and parses the catalog csv at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return ParseCatalog(f)
}

// ParseCatalog parses csv rows of the form:
//
//	name,path,level,role,difficulty
//
// where the path column holds tokens separated by "|". Rows with a missing
// name or path, or a level outside 1..5, are skipped. A catalog that yields
// zero usable rows is reported as unavailable rather than empty.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		byIdentity: make(map[string][]Candidate),
	}

	seen := [levelCount]map[string]bool{}
	for i := range seen {
		seen[i] = make(map[string]bool)
	}

	skipped := 0
	for i, row := range rows {
		// Tolerate an optional header row.
		if i == 0 && len(row) > 0 && strings.EqualFold(row[0], "name") {
			continue
		}
		if len(row) < 3 {
			skipped++
			continue
		}

		name := strings.TrimSpace(row[0])
		tokens := strings.Split(row[1], pathTokenSeparator)
		level, levelErr := strconv.Atoi(strings.TrimSpace(row[2]))

		if name == "" || strings.TrimSpace(row[1]) == "" || levelErr != nil || level < 1 || level > levelCount {
			skipped++
			continue
		}

		cand := Candidate{
			Identity: name,
			Tokens:   tokens,
			Level:    level,
		}
		if len(row) > 3 {
			cand.Role = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			cand.Difficulty = strings.TrimSpace(row[4])
		}

		c.records = append(c.records, cand)

		key := cand.Key()
		if !seen[level-1][key] {
			seen[level-1][key] = true
			c.keysByLevel[level-1] = append(c.keysByLevel[level-1], key)
		}

		lower := strings.ToLower(name)
		c.byIdentity[lower] = append(c.byIdentity[lower], cand)
	}

	if len(c.records) == 0 {
		return nil, fmt.Errorf("%w: no usable rows (%d skipped)", errCatalogUnavailable, skipped)
	}

	for i := range c.keysByLevel {
		sort.Strings(c.keysByLevel[i])
	}

	return c, nil
}

// Len returns the number of loaded candidates.
func (c *Catalog) Len() int {
	return len(c.records)
}

// KeysForLevel returns the sorted distinct path keys for a 1-based level.
func (c *Catalog) KeysForLevel(level int) []string {
	if level < 1 || level > levelCount {
		return nil
	}
	return c.keysByLevel[level-1]
}

// Match reports whether guess names a candidate whose path key equals key.
// Comparison of the identity is case-insensitive and ignores surrounding
// whitespace; the key comparison is exact.
func (c *Catalog) Match(guess, key string) bool {
	for _, cand := range c.byIdentity[strings.ToLower(strings.TrimSpace(guess))] {
		if cand.Key() == key {
			return true
		}
	}
	return false
}

// AnswersForKey returns the identities that are correct answers for a key
// at the given 1-based level, for the post-game reveal.
func (c *Catalog) AnswersForKey(key string, level int) []string {
	var names []string
	for _, cand := range c.records {
		if cand.Level == level && cand.Key() == key {
			names = append(names, cand.Identity)
		}
	}
	return names
}

// TokensForKey returns the token sequence behind a key, or nil if the key
// is not in the catalog.
func (c *Catalog) TokensForKey(key string) []string {
	for _, cand := range c.records {
		if cand.Key() == key {
			return cand.Tokens
		}
	}
	return nil
}

// ResolveIdentity maps an operator-entered identity to the path key of its
// candidate at the given 1-based level. Used by the override channel, so
// operator input and catalog-derived keys compare equal by construction.
func (c *Catalog) ResolveIdentity(name string, level int) (string, bool) {
	for _, cand := range c.byIdentity[strings.ToLower(strings.TrimSpace(name))] {
		if cand.Level == level {
			return cand.Key(), true
		}
	}
	return "", false
}
