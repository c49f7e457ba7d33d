package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	cfg     *Config
	store   *Store
	catalog *Catalog
	daily   *DailyService
	mux     *httprouter.Router
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &Config{adminToken: "hunter2"}
	store := testStore(t)
	catalog := testCatalog(t)

	daily := NewDailyService(store, catalog, time.UTC)
	daily.now = func() time.Time {
		return time.Date(2025, 9, 3, 12, 0, 0, 0, time.UTC)
	}

	mux := httprouter.New()
	mux.GET("/api/puzzle", servePuzzle(cfg, daily))
	mux.POST("/api/override", serveOverride(cfg, store, catalog, daily))
	mux.POST("/api/results", serveResultCount(cfg, store))
	mux.GET("/api/results", serveResultPercentages(cfg, store, daily))

	return &apiFixture{cfg: cfg, store: store, catalog: catalog, daily: daily, mux: mux}
}

func (f *apiFixture) request(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestServePuzzle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodGet, "/api/puzzle?date=2025-09-03", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var set DailyPuzzleSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, "2025-09-03", set.Date)
	assert.Equal(t, SourceCommitted, set.Source)
	assert.Len(t, set.Keys, 5)
	require.NotNil(t, set.GameNumber)
	assert.Equal(t, 1, *set.GameNumber)
}

func TestServePuzzle_DefaultsToToday(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodGet, "/api/puzzle", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var set DailyPuzzleSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, "2025-09-03", set.Date)
}

func TestServePuzzle_UncommittedPast(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodGet, "/api/puzzle?date=2025-08-01", "", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServePuzzle_BadDate(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodGet, "/api/puzzle?date=tomorrow", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeOverride_Auth(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"fromCatalog":true}`

	w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(http.MethodPost, "/api/override?date=2025-09-03", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServeOverride_DisabledWithoutToken(t *testing.T) {
	f := newAPIFixture(t)
	f.cfg.adminToken = ""

	w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "anything", `{"fromCatalog":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeOverride_Forms(t *testing.T) {
	f := newAPIFixture(t)

	// Explicit keys, normalized through the codec.
	w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2",
		`{"keys":[" a > b ","c","d","e","f"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var set DailyPuzzleSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, SourceOverride, set.Source)
	assert.Equal(t, "a>b", set.Keys[0], "operator keys are canonicalized")

	// Names resolved positionally through the catalog.
	w = f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2",
		`{"names":["Ada Lovelace","Grace Hopper","Alan Turing","Donald Knuth","Dennis Ritchie"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.Equal(t, "Analytical Engine>Notes", set.Keys[0])
	assert.Equal(t, "Bell Labs>C>Unix", set.Keys[4])
}

func TestServeOverride_UnresolvableNames(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2",
		`{"names":["Ada Lovelace","Nobody At All","Alan Turing","Donald Knuth","Dennis Ritchie"]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Nobody At All", "offending names are reported")

	// Nothing was written.
	override, err := f.store.OverriddenPuzzle(context.Background(), "2025-09-03")
	require.NoError(t, err)
	assert.Nil(t, override)
}

func TestServeOverride_MalformedBodies(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{
		`{}`,
		`{"keys":["only","two"]}`,
		`{"names":["a"]}`,
		`{"fromCatalog":true,"keys":["a","b","c","d","e"]}`,
		`not json`,
	} {
		w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestServeOverride_ReplacesPriorOverride(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2",
		`{"keys":["a","b","c","d","e"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.request(http.MethodPost, "/api/override?date=2025-09-03", "hunter2",
		`{"keys":["v","w","x","y","z"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	override, err := f.store.OverriddenPuzzle(context.Background(), "2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"v", "w", "x", "y", "z"}, override)
}

func TestResultEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	for i := 0; i < 3; i++ {
		w := f.request(http.MethodPost, "/api/results", "",
			`{"date":"2025-09-03","levelIndex":0,"correct":true}`)
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := f.request(http.MethodPost, "/api/results", "",
		`{"date":"2025-09-03","levelIndex":0,"correct":false}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.request(http.MethodGet, "/api/results?date=2025-09-03", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var pcts []float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pcts))
	require.Len(t, pcts, levelCount)
	assert.InDelta(t, 75.0, pcts[0], 0.01)
	assert.Equal(t, 0.0, pcts[1])
}

func TestResultCount_Validation(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{
		`{"date":"bad","levelIndex":0,"correct":true}`,
		`{"date":"2025-09-03","levelIndex":5,"correct":true}`,
		`{"date":"2025-09-03","levelIndex":-1,"correct":true}`,
		`nope`,
	} {
		w := f.request(http.MethodPost, "/api/results", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestCheckAdminToken(t *testing.T) {
	cfg := &Config{adminToken: "secret"}

	assert.NoError(t, checkAdminToken(cfg, "Bearer secret"))
	assert.ErrorIs(t, checkAdminToken(cfg, "Bearer wrong"), errUnauthorized)
	assert.ErrorIs(t, checkAdminToken(cfg, "secret"), errUnauthorized)
	assert.ErrorIs(t, checkAdminToken(cfg, ""), errUnauthorized)

	cfg.adminToken = ""
	assert.ErrorIs(t, checkAdminToken(cfg, "Bearer secret"), errOverridesDisabled)
}
