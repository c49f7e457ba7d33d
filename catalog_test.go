package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogCSV = `name,path,level,role,difficulty
Ada Lovelace,Analytical Engine|Notes,1,pioneer,easy
Charles Babbage,Analytical Engine|Notes,1,pioneer,medium
Grace Hopper,UNIVAC|COBOL,2,admiral,easy
Alan Turing,Bletchley|ACE,3,founder,hard
Donald Knuth,Stanford|TAOCP,4,professor,hard
Dennis Ritchie,Bell Labs|C|Unix,5,engineer,hard
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := ParseCatalog(strings.NewReader(testCatalogCSV))
	require.NoError(t, err)
	return c
}

func TestParseCatalog(t *testing.T) {
	c := testCatalog(t)

	assert.Equal(t, 6, c.Len())

	// Two candidates share one level-1 path; it is a single puzzle.
	assert.Equal(t, []string{"Analytical Engine>Notes"}, c.KeysForLevel(1))
	assert.Equal(t, []string{"UNIVAC>COBOL"}, c.KeysForLevel(2))
	assert.Equal(t, []string{"Bell Labs>C>Unix"}, c.KeysForLevel(5))
}

func TestParseCatalog_SkipsBadRows(t *testing.T) {
	csv := `name,path,level
Good One,A|B,1
,A|B,2
No Path,,3
Bad Level,A,9
Also Bad,A,x
`
	c, err := ParseCatalog(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestParseCatalog_EmptyIsUnavailable(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader("name,path,level\n"))
	require.ErrorIs(t, err, errCatalogUnavailable)
}

func TestPathKey(t *testing.T) {
	assert.Equal(t, "A>B", pathKey([]string{" A ", "B"}))
	assert.Equal(t, "a>b", pathKey([]string{"a", "b"}), "case is preserved")
	assert.NotEqual(t, pathKey([]string{"A", "B"}), pathKey([]string{"A B"}))
	assert.Equal(t, "", pathKey(nil))
}

func TestCatalogMatch(t *testing.T) {
	c := testCatalog(t)

	key := "Analytical Engine>Notes"

	assert.True(t, c.Match("Ada Lovelace", key))
	assert.True(t, c.Match("ada lovelace", key), "identity match is case-insensitive")
	assert.True(t, c.Match("  Charles Babbage  ", key), "alternate identities for the same key match")
	assert.False(t, c.Match("Grace Hopper", key), "right identity, wrong key")
	assert.False(t, c.Match("Nobody", key))
}

func TestResolveIdentity(t *testing.T) {
	c := testCatalog(t)

	key, ok := c.ResolveIdentity("grace hopper", 2)
	require.True(t, ok)
	assert.Equal(t, "UNIVAC>COBOL", key)

	_, ok = c.ResolveIdentity("Grace Hopper", 1)
	assert.False(t, ok, "identity exists but not at this level")

	_, ok = c.ResolveIdentity("Nobody", 1)
	assert.False(t, ok)
}

func TestAnswersForKey(t *testing.T) {
	c := testCatalog(t)

	answers := c.AnswersForKey("Analytical Engine>Notes", 1)
	assert.ElementsMatch(t, []string{"Ada Lovelace", "Charles Babbage"}, answers)
}
