// Package web is the HTTP and websocket surface. Handlers validate input,
// call the coordinator, and reply with the resulting session document;
// live updates flow from store subscriptions through the hub to websocket
// clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/diminishedprime/spybois/dict"
	"github.com/diminishedprime/spybois/game"
	"github.com/diminishedprime/spybois/hub"
	"github.com/diminishedprime/spybois/spybois"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Srv struct {
	sc   *securecookie.SecureCookie
	h    *hub.Hub
	mux  *mux.Router
	db   spybois.Store
	c    *game.Coordinator
	dict *dict.Dictionary
	log  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	feedMu sync.Mutex
	feeds  map[hub.Topic]func()

	watchMu  sync.Mutex
	watchers map[spybois.GameID]struct{}

	upgrader websocket.Upgrader
}

// New returns an initialized server.
func New(db spybois.Store, c *game.Coordinator, d *dict.Dictionary, sc *securecookie.SecureCookie, log *logrus.Logger) *Srv {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Srv{
		sc:       sc,
		h:        hub.New(log),
		db:       db,
		c:        c,
		dict:     d,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		feeds:    make(map[hub.Topic]func()),
		watchers: make(map[spybois.GameID]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The cookie is the only credential; cross-origin pages can't
			// read it, so any origin may open a socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.mux = s.initMux()
	go s.reapFeeds()
	return s
}

func (s *Srv) initMux() *mux.Router {
	m := mux.NewRouter()
	// New user.
	m.HandleFunc("/api/user", s.handle(s.serveCreateUser)).Methods("POST")
	// Load user.
	m.HandleFunc("/api/user", s.handle(s.serveUser)).Methods("GET")
	// New game.
	m.HandleFunc("/api/game", s.handle(s.serveCreateGame)).Methods("POST")
	// The logged-in player's games.
	m.HandleFunc("/api/games", s.handle(s.serveGames)).Methods("GET")
	// Get game.
	m.HandleFunc("/api/game/{id}", s.handle(s.requireGameAuth(s.serveGame))).Methods("GET")
	// Join game.
	m.HandleFunc("/api/game/{id}/join", s.handle(s.requireGameAuth(s.serveJoinGame))).Methods("POST")
	// Claim or change a team slot.
	m.HandleFunc("/api/game/{id}/team", s.handle(s.requireGameAuth(s.serveJoinTeam))).Methods("POST")
	// Vacate a team slot.
	m.HandleFunc("/api/game/{id}/unjoin", s.handle(s.requireGameAuth(s.serveUnjoinTeam))).Methods("POST")
	// Start game.
	m.HandleFunc("/api/game/{id}/start", s.handle(s.requireGameAuth(s.serveStartGame))).Methods("POST")
	// Submit a hint.
	m.HandleFunc("/api/game/{id}/hint", s.handle(s.requireGameAuth(s.serveHint))).Methods("POST")
	// Flip a card.
	m.HandleFunc("/api/game/{id}/flip", s.handle(s.requireGameAuth(s.serveFlip))).Methods("POST")
	// Pass the turn.
	m.HandleFunc("/api/game/{id}/pass", s.handle(s.requireGameAuth(s.servePass))).Methods("POST")
	// Arm the turn timer.
	m.HandleFunc("/api/game/{id}/timer", s.handle(s.requireGameAuth(s.serveStartTimer))).Methods("POST")
	// Rematch.
	m.HandleFunc("/api/game/{id}/reset", s.handle(s.requireGameAuth(s.serveReset))).Methods("POST")

	// WebSocket handler for one game's updates.
	m.HandleFunc("/api/game/{id}/ws", s.handle(s.requireGameAuth(s.serveGameWS))).Methods("GET")
	// WebSocket handler for the logged-in player's session list.
	m.HandleFunc("/api/lobby/ws", s.handle(s.serveLobbyWS)).Methods("GET")

	m.Use(s.logMiddleware)
	return m
}

func (s *Srv) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown stops the timer watchers. In-flight requests are unaffected.
func (s *Srv) Shutdown() {
	s.cancel()
}

func (s *Srv) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}

// handlerError carries a status the adapter should reply with instead of
// deriving one from the wrapped error.
type handlerError struct {
	code int
	msg  string
}

func (e *handlerError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &handlerError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// handle adapts an error-returning handler, mapping domain errors onto
// statuses and logging the rest.
func (s *Srv) handle(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var he *handlerError
		switch {
		case errors.As(err, &he):
			http.Error(w, he.msg, he.code)
		case errors.Is(err, spybois.ErrGameNotFound), errors.Is(err, spybois.ErrUserNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, spybois.ErrCardFlipped), errors.Is(err, spybois.ErrStaleSnapshot):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, spybois.ErrPreconditionNotMet):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).WithError(err).Error("handler failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// requireGameAuth wraps a game handler with the common preamble: a
// logged-in user and the session named in the path.
func (s *Srv) requireGameAuth(fn func(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		u, err := s.loadUser(r)
		if err != nil {
			return err
		}
		if u == nil {
			return &handlerError{code: http.StatusUnauthorized, msg: "not logged in"}
		}

		gID := spybois.GameID(mux.Vars(r)["id"])
		snap, err := s.db.Game(gID)
		if err != nil {
			return err
		}
		return fn(w, r, u, snap)
	}
}

func (s *Srv) serveCreateUser(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("bad request body: %v", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return badRequest("no name given")
	}

	id, err := s.db.NewUser(&spybois.User{Name: name})
	if err != nil {
		return err
	}

	encoded, err := s.sc.Encode("auth", id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:  "Authorization",
		Value: encoded,
		Path:  "/",
	})

	return jsonResp(w, &spybois.User{ID: id, Name: name})
}

func (s *Srv) serveUser(w http.ResponseWriter, r *http.Request) error {
	u, err := s.loadUser(r)
	if err != nil {
		return err
	}
	if u == nil {
		return &handlerError{code: http.StatusUnauthorized, msg: "not logged in"}
	}
	return jsonResp(w, u)
}

func (s *Srv) serveCreateGame(w http.ResponseWriter, r *http.Request) error {
	u, err := s.loadUser(r)
	if err != nil {
		return err
	}
	if u == nil {
		return &handlerError{code: http.StatusUnauthorized, msg: "not logged in"}
	}

	snap, err := s.c.NewGame(spybois.Player{ID: u.ID, Nick: u.Name})
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(snap))
}

func (s *Srv) serveGames(w http.ResponseWriter, r *http.Request) error {
	u, err := s.loadUser(r)
	if err != nil {
		return err
	}
	if u == nil {
		return &handlerError{code: http.StatusUnauthorized, msg: "not logged in"}
	}

	var states []spybois.GameState
	for _, raw := range r.URL.Query()["state"] {
		switch st := spybois.GameState(raw); st {
		case spybois.Init, spybois.Ready, spybois.InProgress, spybois.GameOver:
			states = append(states, st)
		default:
			return badRequest("unknown state %q", raw)
		}
	}

	snaps, err := s.db.GamesWithPlayer(u.ID, states)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGames(snaps))
}

func (s *Srv) serveGame(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	return jsonResp(w, wireGame(snap))
}

func (s *Srv) serveJoinGame(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.Join(snap, spybois.Player{ID: u.ID, Nick: u.Name})
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveJoinTeam(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	var req joinTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("bad request body: %v", err)
	}
	if req.Team != spybois.Team1 && req.Team != spybois.Team2 {
		return badRequest("unknown team %q", req.Team)
	}
	if req.Role != spybois.Leader && req.Role != spybois.Agent {
		return badRequest("unknown role %q", req.Role)
	}

	p := spybois.Player{ID: u.ID, Nick: u.Name}
	var (
		nu  *spybois.Snapshot
		err error
	)
	if req.Switch {
		nu, err = s.c.SwitchTeam(snap, p, req.Team, req.Role)
	} else {
		nu, err = s.c.JoinTeam(snap, p, req.Team, req.Role)
	}
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveUnjoinTeam(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.UnjoinTeam(snap, spybois.Player{ID: u.ID, Nick: u.Name})
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveStartGame(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.Start(snap, spybois.Player{ID: u.ID, Nick: u.Name})
	if err != nil {
		return err
	}
	// Deal synchronously so the response already shows the board.
	nu, err = s.c.DealIfReady(nu)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveHint(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	var req hintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("bad request body: %v", err)
	}
	if !s.dict.Valid(req.Hint) {
		return badRequest("%q is not a word", req.Hint)
	}

	nu, err := s.c.SubmitHint(snap, spybois.Player{ID: u.ID, Nick: u.Name}, req.Hint, req.HintNumber)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveFlip(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	var req flipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("bad request body: %v", err)
	}

	nu, err := s.c.FlipCard(snap, spybois.Player{ID: u.ID, Nick: u.Name}, req.CardID)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) servePass(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.PassTurn(snap)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveStartTimer(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.StartTimer(snap, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	s.ensureWatcher(snap.ID)
	return jsonResp(w, wireGame(nu))
}

func (s *Srv) serveReset(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	nu, err := s.c.Reset(snap)
	if err != nil {
		return err
	}
	return jsonResp(w, wireGame(nu))
}

// ensureWatcher runs one timer watcher per session, lazily, on the first
// timer arm. It lives until the session is deleted or the server shuts
// down.
func (s *Srv) ensureWatcher(gID spybois.GameID) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if _, ok := s.watchers[gID]; ok {
		return
	}
	s.watchers[gID] = struct{}{}

	go func() {
		if err := s.c.WatchTimer(s.ctx, gID); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithField("game", gID).WithError(err).Error("timer watcher failed")
		}
		s.watchMu.Lock()
		delete(s.watchers, gID)
		s.watchMu.Unlock()
	}()
}

func (s *Srv) serveGameWS(w http.ResponseWriter, r *http.Request, u *spybois.User, snap *spybois.Snapshot) error {
	topic := hub.GameTopic(string(snap.ID))
	if err := s.ensureFeed(topic, func() (func(), error) {
		return s.db.Subscribe(snap.ID, func(snap *spybois.Snapshot) {
			update := &GameUpdate{Deleted: snap == nil}
			if snap != nil {
				update.Game = wireGame(snap)
			}
			if err := s.h.Broadcast(topic, update); err != nil {
				s.log.WithError(err).Error("failed to broadcast game update")
			}
		})
	}); err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		return nil
	}
	s.h.Register(ws, topic)

	// The feed's seed frame may predate this connection, so push a fresh
	// snapshot. Existing connections just see a repeat of current state.
	if cur, err := s.db.Game(snap.ID); err == nil {
		if err := s.h.Broadcast(topic, &GameUpdate{Game: wireGame(cur)}); err != nil {
			s.log.WithError(err).Error("failed to broadcast game update")
		}
	}
	return nil
}

func (s *Srv) serveLobbyWS(w http.ResponseWriter, r *http.Request) error {
	u, err := s.loadUser(r)
	if err != nil {
		return err
	}
	if u == nil {
		return &handlerError{code: http.StatusUnauthorized, msg: "not logged in"}
	}

	topic := hub.LobbyTopic(string(u.ID))
	if err := s.ensureFeed(topic, func() (func(), error) {
		return s.db.SubscribeGamesWithPlayer(u.ID, func(snaps []*spybois.Snapshot) {
			if err := s.h.Broadcast(topic, &LobbyUpdate{Games: wireGames(snaps)}); err != nil {
				s.log.WithError(err).Error("failed to broadcast lobby update")
			}
		})
	}); err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil
	}
	s.h.Register(ws, topic)

	if snaps, err := s.db.GamesWithPlayer(u.ID, nil); err == nil {
		if err := s.h.Broadcast(topic, &LobbyUpdate{Games: wireGames(snaps)}); err != nil {
			s.log.WithError(err).Error("failed to broadcast lobby update")
		}
	}
	return nil
}

// ensureFeed sets up one store subscription per hub topic, shared by every
// websocket on it. reapFeeds tears it down once the topic drains.
func (s *Srv) ensureFeed(topic hub.Topic, subscribe func() (func(), error)) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if _, ok := s.feeds[topic]; ok {
		return nil
	}
	cancel, err := subscribe()
	if err != nil {
		return err
	}
	s.feeds[topic] = cancel
	return nil
}

func (s *Srv) reapFeeds() {
	for {
		select {
		case topic := <-s.h.Drained():
			s.feedMu.Lock()
			if cancel, ok := s.feeds[topic]; ok {
				cancel()
				delete(s.feeds, topic)
			}
			s.feedMu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

func jsonResp(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func (s *Srv) loadUser(r *http.Request) (*spybois.User, error) {
	c, err := r.Cookie("Authorization")
	if err == http.ErrNoCookie {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var uID spybois.PlayerID
	if err := s.sc.Decode("auth", c.Value, &uID); err != nil {
		// If we can't parse it, assume it's an old auth cookie and treat
		// them as not logged in.
		return nil, nil
	}

	u, err := s.db.User(uID)
	if errors.Is(err, spybois.ErrUserNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return u, nil
}

// LoadKeys builds the cookie codec from key files next to the binary,
// generating them on first run.
func LoadKeys() (*securecookie.SecureCookie, error) {
	hashKey, err := loadOrGenKey("hashKey")
	if err != nil {
		return nil, err
	}
	blockKey, err := loadOrGenKey("blockKey")
	if err != nil {
		return nil, err
	}
	return securecookie.New(hashKey, blockKey), nil
}

func loadOrGenKey(name string) ([]byte, error) {
	if dat, err := os.ReadFile(name); err == nil {
		return dat, nil
	}

	dat := securecookie.GenerateRandomKey(32)
	if dat == nil {
		return nil, errors.New("failed to generate key")
	}
	if err := os.WriteFile(name, dat, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file %q: %w", name, err)
	}
	return dat, nil
}
