// Pathle Daily Game
//
// Each calendar day presents five fixed paths (ordered token sequences) that
// players match to an underlying identity, one path per difficulty level.
//
// Features:
// - WebSocket per (player, date): /play/:date/ws
// - Players identified by cookie (playerID, uuid)
// - One guess per level; a second guess for an answered level is a no-op
// - Per-level countdown: 100 base points, minus one per second while active
// - Award on a correct guess is remaining base points times the level number
// - Skip fills the slot with a synthetic no-answer entry and awards nothing
// - Feedback hold between levels, a shorter one after the final level
// - State persisted to the store after every mutation; reconnects resume
// - Completed days re-enterable read-only with answers revealed
// - Sessions auto-reaped after configurable idle timeout
// - In-browser QR button to share the current day, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	startingBasePoints = 100
	countdownInterval  = time.Second
)

type sessionPhase int

const (
	phaseNotStarted sessionPhase = iota
	phaseLevelActive
	phaseFeedback
	phaseComplete
)

func (p sessionPhase) String() string {
	switch p {
	case phaseLevelActive:
		return "level_active"
	case phaseFeedback:
		return "feedback"
	case phaseComplete:
		return "complete"
	default:
		return "not_started"
	}
}

// GuessSlot is one level's outcome. Empty until the player guesses or
// skips; a skip fills the slot with no guess text.
type GuessSlot struct {
	Filled  bool   `json:"filled"`
	Guess   string `json:"guess,omitempty"`
	Correct bool   `json:"correct"`
	Skipped bool   `json:"skipped,omitempty"`
}

// SessionState is the persisted record for one (player, date). Mutated
// only through the session's start/guess/skip/tick operations and written
// to the store after every mutation.
type SessionState struct {
	Date      string      `json:"date"`
	Slots     []GuessSlot `json:"slots"`
	Score     int         `json:"score"`
	Awarded   []int       `json:"awarded"`
	Remaining []int       `json:"remaining"`
	Started   bool        `json:"started"`
}

func newSessionState(date string, slots int) SessionState {
	state := SessionState{
		Date:      date,
		Slots:     make([]GuessSlot, slots),
		Awarded:   make([]int, slots),
		Remaining: make([]int, slots),
	}
	for i := range state.Remaining {
		state.Remaining[i] = startingBasePoints
	}
	return state
}

func (s *SessionState) complete() bool {
	if len(s.Slots) == 0 {
		return false
	}
	for _, slot := range s.Slots {
		if !slot.Filled {
			return false
		}
	}
	return true
}

func (s *SessionState) firstUnfilled() int {
	for i, slot := range s.Slots {
		if !slot.Filled {
			return i
		}
	}
	return -1
}

// Messages coming from clients
type SessionClientMessage struct {
	Type  string `json:"type"`            // "start", "guess", "skip"
	Guess string `json:"guess,omitempty"` // guess
}

// LevelView is one level as shown to the client. Tokens are withheld while
// the veil is up; answers appear only once the day is complete.
type LevelView struct {
	Tokens  []string `json:"tokens,omitempty"`
	Filled  bool     `json:"filled"`
	Guess   string   `json:"guess,omitempty"`
	Correct bool     `json:"correct"`
	Skipped bool     `json:"skipped,omitempty"`
	Awarded int      `json:"awarded"`
	Answers []string `json:"answers,omitempty"`
}

// SessionStateMessage is the full snapshot sent on connect and after any
// transition.
type SessionStateMessage struct {
	Type       string      `json:"type"` // "session_state"
	Date       string      `json:"date"`
	GameNumber *int        `json:"gameNumber"`
	Phase      string      `json:"phase"`
	Level      int         `json:"level"`
	Score      int         `json:"score"`
	Started    bool        `json:"started"`
	Levels     []LevelView `json:"levels"`
	Remaining  []int       `json:"remaining"`
}

// TickMessage carries one countdown decrement.
type TickMessage struct {
	Type      string `json:"type"` // "tick"
	Level     int    `json:"level"`
	Remaining int    `json:"remaining"`
}

// FeedbackMessage reports one level's outcome.
type FeedbackMessage struct {
	Type    string   `json:"type"` // "feedback"
	Level   int      `json:"level"`
	Correct bool     `json:"correct"`
	Skipped bool     `json:"skipped,omitempty"`
	Guess   string   `json:"guess,omitempty"`
	Awarded int      `json:"awarded"`
	Answers []string `json:"answers,omitempty"`
}

// CompleteMessage ends the day. Percentages come from the result counters
// and may be absent if that read fails; the client falls back to a local
// approximation.
type CompleteMessage struct {
	Type        string    `json:"type"` // "complete"
	Score       int       `json:"score"`
	Percentages []float64 `json:"percentages,omitempty"`
}

// SessionErrorMessage is for generic notifications ("error", "rejected").
type SessionErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type sessionClient struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type sessionCommand struct {
	client *sessionClient
	msg    SessionClientMessage
}

// timerEvent is an expiry from the countdown ticker or a feedback hold.
// gen guards against stale timers: any transition bumps the generation,
// orphaning events scheduled before it.
type timerEvent struct {
	gen int
}

// Session runs one player's attempt at one date. All state mutation
// happens on the run goroutine via the channels; the mutex only guards
// reads from outside (reaper, snapshots).
type Session struct {
	playerID string
	date     string
	keys     []string

	cfg     *Config
	store   *Store
	catalog *Catalog

	clients map[*sessionClient]bool

	register chan *sessionClient
	unreg    chan *sessionClient
	cmds     chan sessionCommand
	ticks    chan timerEvent
	holds    chan timerEvent
	quit     chan struct{}

	mu         sync.RWMutex
	lastActive time.Time

	phase      sessionPhase
	level      int
	state      SessionState
	gameNumber *int

	// gen invalidates outstanding timers on every transition.
	gen        int
	ticker     *time.Ticker
	tickerDone chan struct{}
	holdTimer  *time.Timer
}

func newSession(cfg *Config, store *Store, catalog *Catalog, playerID, date string, keys []string, gameNumber *int) *Session {
	s := &Session{
		playerID:   playerID,
		date:       date,
		keys:       keys,
		cfg:        cfg,
		store:      store,
		catalog:    catalog,
		clients:    make(map[*sessionClient]bool),
		register:   make(chan *sessionClient),
		unreg:      make(chan *sessionClient),
		cmds:       make(chan sessionCommand),
		ticks:      make(chan timerEvent, 4),
		holds:      make(chan timerEvent, 4),
		quit:       make(chan struct{}),
		lastActive: time.Now(),
		gameNumber: gameNumber,
	}

	s.restore()

	return s
}

// restore loads persisted state for (player, date). A stored record is
// only adopted verbatim when its date matches and its slot count matches
// the current puzzle set; anything else reinitializes.
func (s *Session) restore() {
	s.state = newSessionState(s.date, len(s.keys))

	data, err := s.store.LoadSession(context.Background(), s.playerID, s.date)
	if err != nil {
		logf(s.cfg, "STORE: Session load for %s/%s failed: %v", s.playerID, s.date, err)
		return
	}
	if data == nil {
		return
	}

	var stored SessionState
	if err := json.Unmarshal(data, &stored); err != nil {
		logf(s.cfg, "STORE: Session record for %s/%s unreadable: %v", s.playerID, s.date, err)
		return
	}
	if stored.Date != s.date || len(stored.Slots) != len(s.keys) {
		return
	}

	s.state = stored

	switch {
	case stored.complete():
		s.phase = phaseComplete
	case stored.Started:
		// Resume mid-game at the first unanswered level rather than
		// re-showing the start screen.
		s.phase = phaseLevelActive
		s.level = stored.firstUnfilled()
	}
}

func (s *Session) persist() {
	data, err := json.Marshal(s.state)
	if err != nil {
		logf(s.cfg, "STORE: Session encode for %s/%s failed: %v", s.playerID, s.date, err)
		return
	}
	if err := s.store.SaveSession(context.Background(), s.playerID, s.date, data); err != nil {
		logf(s.cfg, "STORE: Session save for %s/%s failed: %v", s.playerID, s.date, err)
	}
}

func (s *Session) run() {
	s.mu.Lock()
	if s.phase == phaseLevelActive {
		s.startCountdownLocked()
	}
	s.mu.Unlock()

	for {
		select {
		case c := <-s.register:
			s.mu.Lock()
			s.lastActive = time.Now()
			s.clients[c] = true
			snapshot := s.snapshotLocked()
			s.mu.Unlock()

			c.send <- snapshot

		case c := <-s.unreg:
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
			s.mu.Unlock()

		case cmd := <-s.cmds:
			s.mu.Lock()
			s.lastActive = time.Now()
			switch cmd.msg.Type {
			case "start":
				s.handleStartLocked()
			case "guess":
				s.handleGuessLocked(cmd.client, cmd.msg.Guess)
			case "skip":
				s.handleSkipLocked()
			}
			s.mu.Unlock()

		case ev := <-s.ticks:
			s.mu.Lock()
			s.handleTickLocked(ev.gen)
			s.mu.Unlock()

		case ev := <-s.holds:
			s.mu.Lock()
			s.handleHoldLocked(ev.gen)
			s.mu.Unlock()

		case <-s.quit:
			return
		}
	}
}

// --- timer ownership ---
//
// Every transition calls cancelTimersLocked first. The generation bump
// orphans any event already queued by a timer that fired concurrently
// with the cancellation, so a stale level can never decrement or advance
// the current one.

func (s *Session) cancelTimersLocked() {
	s.gen++

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickerDone)
		s.ticker = nil
		s.tickerDone = nil
	}
	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.holdTimer = nil
	}
}

func (s *Session) startCountdownLocked() {
	s.cancelTimersLocked()

	gen := s.gen
	s.ticker = time.NewTicker(countdownInterval)
	s.tickerDone = make(chan struct{})

	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-ticker.C:
				select {
				case s.ticks <- timerEvent{gen: gen}:
				case <-done:
					return
				case <-s.quit:
					return
				}
			case <-done:
				return
			case <-s.quit:
				return
			}
		}
	}(s.ticker, s.tickerDone)
}

func (s *Session) scheduleHoldLocked(d time.Duration) {
	s.cancelTimersLocked()

	gen := s.gen
	s.holdTimer = time.AfterFunc(d, func() {
		select {
		case s.holds <- timerEvent{gen: gen}:
		case <-s.quit:
		}
	})
}

// --- transitions ---

func (s *Session) handleStartLocked() {
	if s.phase != phaseNotStarted {
		return
	}

	s.state.Started = true
	s.enterLevelLocked(0)
	s.persist()

	logf(s.cfg, "GAMES: Player %s started %s", s.playerID, s.date)
}

func (s *Session) enterLevelLocked(level int) {
	s.phase = phaseLevelActive
	s.level = level
	s.startCountdownLocked()
	s.broadcastSnapshotLocked()
}

func (s *Session) handleTickLocked(gen int) {
	if gen != s.gen || s.phase != phaseLevelActive {
		return
	}
	if s.state.Slots[s.level].Filled || s.state.Remaining[s.level] <= 0 {
		return
	}

	s.state.Remaining[s.level]--
	s.persist()

	s.broadcastLocked(TickMessage{
		Type:      "tick",
		Level:     s.level,
		Remaining: s.state.Remaining[s.level],
	})
}

func (s *Session) handleGuessLocked(c *sessionClient, guess string) {
	if s.phase != phaseLevelActive {
		return
	}
	// Single guess per level: an already-answered slot is a no-op.
	if s.state.Slots[s.level].Filled {
		return
	}

	guess = strings.TrimSpace(guess)
	if guess == "" {
		return
	}

	// An evaluation that cannot determine a winner must not mark the
	// level answered.
	if s.catalog == nil || s.catalog.Len() == 0 {
		s.sendLocked(c, SessionErrorMessage{
			Type:    "error",
			Message: "The catalog is not available; try again shortly.",
		})
		return
	}

	correct := s.catalog.Match(guess, s.keys[s.level])

	awarded := 0
	if correct {
		awarded = s.state.Remaining[s.level] * (s.level + 1)
	}

	s.fillSlotLocked(GuessSlot{Filled: true, Guess: guess, Correct: correct}, awarded)

	logf(s.cfg, "GAMES: Player %s guessed %q on %s level %d (correct=%t, awarded=%d)",
		s.playerID, guess, s.date, s.level+1, correct, awarded)
}

func (s *Session) handleSkipLocked() {
	if s.phase != phaseLevelActive {
		return
	}
	if s.state.Slots[s.level].Filled {
		return
	}

	// A skip still fills the slot and counts toward completion.
	s.fillSlotLocked(GuessSlot{Filled: true, Skipped: true}, 0)

	logf(s.cfg, "GAMES: Player %s skipped %s level %d", s.playerID, s.date, s.level+1)
}

func (s *Session) fillSlotLocked(slot GuessSlot, awarded int) {
	s.state.Slots[s.level] = slot
	s.state.Awarded[s.level] = awarded
	s.state.Score += awarded
	s.state.Started = true

	go s.countResult(s.level, slot.Correct)

	s.phase = phaseFeedback

	// The completion check stays suppressed until this hold expires, so
	// the final answer's feedback is always shown before the summary.
	hold := s.cfg.revealHold
	if s.state.complete() {
		hold = s.cfg.finalHold
	}
	s.scheduleHoldLocked(hold)

	s.persist()

	var answers []string
	if s.catalog != nil {
		answers = s.catalog.AnswersForKey(s.keys[s.level], s.level+1)
	}

	s.broadcastLocked(FeedbackMessage{
		Type:    "feedback",
		Level:   s.level,
		Correct: slot.Correct,
		Skipped: slot.Skipped,
		Guess:   slot.Guess,
		Awarded: awarded,
		Answers: answers,
	})
}

func (s *Session) handleHoldLocked(gen int) {
	if gen != s.gen || s.phase != phaseFeedback {
		return
	}

	if s.state.complete() {
		s.completeLocked()
		return
	}

	next := s.state.firstUnfilled()
	if next < 0 {
		s.completeLocked()
		return
	}
	s.enterLevelLocked(next)
}

func (s *Session) completeLocked() {
	if s.phase == phaseComplete {
		return
	}

	s.phase = phaseComplete
	s.cancelTimersLocked()
	s.persist()

	msg := CompleteMessage{
		Type:  "complete",
		Score: s.state.Score,
	}
	if percentages, err := s.store.ResultPercentages(context.Background(), s.date); err == nil {
		msg.Percentages = percentages[:]
	}

	s.broadcastLocked(msg)
	s.broadcastSnapshotLocked()

	logf(s.cfg, "GAMES: Player %s completed %s with score %d", s.playerID, s.date, s.state.Score)
}

func (s *Session) countResult(level int, correct bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.IncrementResult(ctx, s.date, level+1, correct); err != nil {
		logf(s.cfg, "STORE: Result increment for %s level %d failed: %v", s.date, level+1, err)
	}
}

// --- views ---

func (s *Session) snapshotLocked() SessionStateMessage {
	levels := make([]LevelView, len(s.keys))
	for i, key := range s.keys {
		view := LevelView{
			Filled:  s.state.Slots[i].Filled,
			Guess:   s.state.Slots[i].Guess,
			Correct: s.state.Slots[i].Correct,
			Skipped: s.state.Slots[i].Skipped,
			Awarded: s.state.Awarded[i],
		}

		// The veil: tokens only for levels already reached.
		revealed := s.phase == phaseComplete || (s.state.Started && (i <= s.level || s.state.Slots[i].Filled))
		if revealed {
			view.Tokens = s.catalog.TokensForKey(key)
		}
		if s.phase == phaseComplete {
			view.Answers = s.catalog.AnswersForKey(key, i+1)
		}

		levels[i] = view
	}

	remaining := make([]int, len(s.state.Remaining))
	copy(remaining, s.state.Remaining)

	return SessionStateMessage{
		Type:       "session_state",
		Date:       s.date,
		GameNumber: s.gameNumber,
		Phase:      s.phase.String(),
		Level:      s.level,
		Score:      s.state.Score,
		Started:    s.state.Started,
		Levels:     levels,
		Remaining:  remaining,
	}
}

func (s *Session) broadcastSnapshotLocked() {
	s.broadcastLocked(s.snapshotLocked())
}

func (s *Session) broadcastLocked(msg any) {
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
			delete(s.clients, client)
			close(client.send)
		}
	}
}

func (s *Session) sendLocked(c *sessionClient, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(s.clients, c)
		close(c.send)
	}
}

// closeAll disconnects all clients and stops all timers (used by reaper).
// Safe to call more than once.
func (s *Session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.cancelTimersLocked()

	for c := range s.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(s.clients, c)
	}
}

// SessionManager holds live sessions keyed by (player, date), so every
// device/day pair is its own isolated run.
type SessionManager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
}

func newSessionManager(idleTimeout time.Duration) *SessionManager {
	sm := &SessionManager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go sm.reaperLoop()
	}
	return sm
}

func (sm *SessionManager) getSession(cfg *Config, store *Store, catalog *Catalog, playerID, date string, keys []string, gameNumber *int) *Session {
	key := playerID + "|" + date

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[key]; ok {
		return s
	}

	s := newSession(cfg, store, catalog, playerID, date, keys, gameNumber)
	sm.sessions[key] = s
	go s.run()
	return s
}

// reaperLoop periodically removes sessions idle longer than idleTimeout.
// State is already persisted, so a reaped session resumes cleanly on the
// next connect.
func (sm *SessionManager) reaperLoop() {
	ticker := time.NewTicker(sm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-sm.idleTimeout)

		sm.mu.Lock()
		for key, s := range sm.sessions {
			s.mu.RLock()
			last := s.lastActive
			s.mu.RUnlock()

			if last.Before(cutoff) {
				delete(sm.sessions, key)
				go s.closeAll()
			}
		}
		sm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "pathle_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// WebSocket handler that resolves the day's puzzles, then attaches the
// client to its (player, date) session.
func serveSessionWS(cfg *Config, sm *SessionManager, store *Store, catalog *Catalog, daily *DailyService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		date := ps.ByName("date")
		if _, err := time.ParseInLocation(dateLayout, date, time.UTC); err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		set, err := daily.Resolve(r.Context(), date)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}

		session := sm.getSession(cfg, store, catalog, playerID, date, set.Keys, set.GameNumber)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Upgrade failed: %v", err)
			return
		}

		client := &sessionClient{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case session.register <- client:
		case <-session.quit:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(session)
	}
}

func (c *sessionClient) readPump(s *Session) {
	defer func() {
		select {
		case s.unreg <- c:
		case <-s.quit:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg SessionClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start", "guess", "skip":
			select {
			case s.cmds <- sessionCommand{client: c, msg: msg}:
			case <-s.quit:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *sessionClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current day's URL.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /play/:date/qr; strip trailing "/qr" to get the day URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectToday handles GET /play by redirecting to today's date.
func redirectToday(cfg *Config, path string, daily *DailyService) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.Redirect(w, r, cfg.prefix+path+"/"+daily.Today(), http.StatusTemporaryRedirect)
	}
}

// registerDailyGame sets up routes so that:
//   - $path            → redirects to today's game
//   - $path/:date      → HTML client
//   - $path/:date/ws   → WebSocket for that (player, date) session
//   - $path/:date/qr   → PNG QR code for that day's URL
func registerDailyGame(cfg *Config, path string, mux *httprouter.Router, store *Store, catalog *Catalog, daily *DailyService) {
	sm := newSessionManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectToday(cfg, path, daily))

	mux.GET(cfg.prefix+path+"/:date", getIndexHandler(cfg))

	mux.GET(cfg.prefix+"/assets/pathle/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/pathle/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+path+"/:date/ws", serveSessionWS(cfg, sm, store, catalog, daily))

	mux.GET(cfg.prefix+path+"/:date/qr", qrHandler)
}
