package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps the game error taxonomy onto HTTP statuses. Store
// failures fall through to 503: the service degrades to an error rather
// than fabricating a puzzle set.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errUncommittedPastGame):
		return http.StatusConflict
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errMalformedOverride),
		errors.Is(err, errUnresolvedOverride):
		return http.StatusBadRequest
	case errors.Is(err, errOverridesDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusServiceUnavailable
	}
}

func requestedDate(r *http.Request, fallback string) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return fallback, true
	}
	if _, err := time.ParseInLocation(dateLayout, date, time.UTC); err != nil {
		return "", false
	}
	return date, true
}

// servePuzzle resolves a date's puzzle set. Defaults to today when no
// date parameter is given.
func servePuzzle(cfg *Config, daily *DailyService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		date, ok := requestedDate(r, daily.Today())
		if !ok {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "date must be YYYY-MM-DD"})
			return
		}

		set, err := daily.Resolve(r.Context(), date)
		if err != nil {
			logf(cfg, "DAILY: Resolve %s failed: %v", date, err)
			writeJSON(cfg, w, statusForError(err), apiError{Error: err.Error()})
			return
		}

		writeJSON(cfg, w, http.StatusOK, set)

		logf(cfg, "DAILY: Served %s puzzle for %s to %s in %s",
			set.Source,
			date,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveOverride is the admin channel: bearer-authenticated, unconditional
// override-slot writes. Defaults to today when no date is given.
func serveOverride(cfg *Config, store *Store, catalog *Catalog, daily *DailyService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := checkAdminToken(cfg, r.Header.Get("Authorization")); err != nil {
			writeJSON(cfg, w, statusForError(err), apiError{Error: err.Error()})
			return
		}

		date, ok := requestedDate(r, daily.Today())
		if !ok {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "date must be YYYY-MM-DD"})
			return
		}

		var req OverrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "malformed body: " + err.Error()})
			return
		}

		keys, err := applyOverride(r.Context(), store, catalog, date, &req)
		if err != nil {
			logf(cfg, "ADMIN: Override for %s rejected: %v", date, err)
			writeJSON(cfg, w, statusForError(err), apiError{Error: err.Error()})
			return
		}

		logf(cfg, "ADMIN: Override written for %s by %s", date, realIP(r))

		writeJSON(cfg, w, http.StatusOK, DailyPuzzleSet{
			Date:   date,
			Keys:   keys,
			Source: SourceOverride,
		})
	}
}

type resultCountRequest struct {
	Date       string `json:"date"`
	LevelIndex int    `json:"levelIndex"`
	Correct    bool   `json:"correct"`
}

// serveResultCount is a fire-and-forget increment against the result
// counters. Per-player dedup is the counter's own concern.
func serveResultCount(cfg *Config, store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req resultCountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "malformed body: " + err.Error()})
			return
		}

		if _, err := time.ParseInLocation(dateLayout, req.Date, time.UTC); err != nil {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "date must be YYYY-MM-DD"})
			return
		}
		if req.LevelIndex < 0 || req.LevelIndex >= levelCount {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "levelIndex must be 0-4"})
			return
		}

		if err := store.IncrementResult(r.Context(), req.Date, req.LevelIndex+1, req.Correct); err != nil {
			logf(cfg, "STORE: Result increment failed: %v", err)
			writeJSON(cfg, w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// serveResultPercentages reports percent-correct per level for a date.
func serveResultPercentages(cfg *Config, store *Store, daily *DailyService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		date, ok := requestedDate(r, daily.Today())
		if !ok {
			writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "date must be YYYY-MM-DD"})
			return
		}

		percentages, err := store.ResultPercentages(r.Context(), date)
		if err != nil {
			logf(cfg, "STORE: Result read failed: %v", err)
			writeJSON(cfg, w, http.StatusServiceUnavailable, apiError{Error: err.Error()})
			return
		}

		writeJSON(cfg, w, http.StatusOK, percentages[:])
	}
}
