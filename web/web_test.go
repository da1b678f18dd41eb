package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/diminishedprime/spybois/boardgen"
	"github.com/diminishedprime/spybois/dict"
	"github.com/diminishedprime/spybois/game"
	"github.com/diminishedprime/spybois/memdb"
	"github.com/diminishedprime/spybois/spybois"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"
)

func TestBasicallyEverything(t *testing.T) {
	// This is a hodge-podge test that walks the whole flow end-to-end,
	// because the pieces are tested individually in their own packages and
	// this is about the wiring.
	env := setup(t, "")

	for i := 0; i < 4; i++ {
		env.createUser(t, fmt.Sprintf("Test%d", i))
	}

	// Sanity check the auth works by requesting a user's information back.
	gotUser := env.user(t, 3)
	wantUser := &spybois.User{ID: "user_3", Name: "Test3"}
	if diff := cmp.Diff(wantUser, gotUser); diff != "" {
		t.Errorf("unexpected user (-want +got)\n%s", diff)
	}

	g := env.createGame(t, 0)
	if g.GameState != spybois.Init {
		t.Fatalf("new game state = %q, want %q", g.GameState, spybois.Init)
	}
	gID := g.ID

	for i := 1; i < 4; i++ {
		env.post(t, i, "/api/game/"+string(gID)+"/join", nil, http.StatusOK)
	}

	claim := func(idx int, team spybois.Team, role spybois.Role) {
		env.post(t, idx, "/api/game/"+string(gID)+"/team",
			joinTeamRequest{Team: team, Role: role}, http.StatusOK)
	}
	claim(0, spybois.Team1, spybois.Leader)
	claim(1, spybois.Team1, spybois.Agent)
	claim(2, spybois.Team2, spybois.Leader)
	claim(3, spybois.Team2, spybois.Agent)

	games := env.games(t, 1, "?state=init")
	if len(games) != 1 || games[0].ID != gID {
		t.Fatalf("games list = %+v, want just %q", games, gID)
	}

	g = env.postGame(t, 0, "/api/game/"+string(gID)+"/start", nil)
	if g.GameState != spybois.InProgress {
		t.Fatalf("started game state = %q, want %q", g.GameState, spybois.InProgress)
	}
	if len(g.Cards) != 6 {
		t.Fatalf("dealt %d cards, want 6", len(g.Cards))
	}
	if g.CurrentTeam != spybois.Team1 {
		t.Fatalf("starting team = %q, want %q", g.CurrentTeam, spybois.Team1)
	}

	g = env.postGame(t, 0, "/api/game/"+string(gID)+"/hint",
		hintRequest{Hint: "fruit", HintNumber: 2})
	if g.CurrentHint == nil || g.CurrentHint.Hint != "fruit" {
		t.Fatalf("current hint = %+v, want fruit", g.CurrentHint)
	}

	// The team1 agent flips one of their own cards.
	var target spybois.CardID
	for _, c := range g.Cards {
		if c.Team == spybois.CardTeam1 {
			target = c.ID
			break
		}
	}
	g = env.postGame(t, 1, "/api/game/"+string(gID)+"/flip", flipRequest{CardID: target})
	if len(g.FlippedCards) != 1 || g.FlippedCards[0].ID != target {
		t.Fatalf("flipped cards = %+v, want just %q", g.FlippedCards, target)
	}

	g = env.postGame(t, 1, "/api/game/"+string(gID)+"/pass", nil)
	if g.CurrentTeam != spybois.Team2 {
		t.Fatalf("team after pass = %q, want %q", g.CurrentTeam, spybois.Team2)
	}
	if len(g.PreviousHints) != 1 {
		t.Fatalf("previous hints = %+v, want the passed hint archived", g.PreviousHints)
	}
}

func TestAuthRequired(t *testing.T) {
	env := setup(t, "")

	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/user without cookie = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/game", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/game without cookie = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestHintCheckedAgainstDictionary(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(fn, []byte("fruit\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env := setup(t, fn)

	for i := 0; i < 4; i++ {
		env.createUser(t, fmt.Sprintf("Test%d", i))
	}
	g := env.createGame(t, 0)
	gID := g.ID
	for i := 1; i < 4; i++ {
		env.post(t, i, "/api/game/"+string(gID)+"/join", nil, http.StatusOK)
	}
	env.post(t, 0, "/api/game/"+string(gID)+"/team", joinTeamRequest{Team: spybois.Team1, Role: spybois.Leader}, http.StatusOK)
	env.post(t, 1, "/api/game/"+string(gID)+"/team", joinTeamRequest{Team: spybois.Team1, Role: spybois.Agent}, http.StatusOK)
	env.post(t, 2, "/api/game/"+string(gID)+"/team", joinTeamRequest{Team: spybois.Team2, Role: spybois.Leader}, http.StatusOK)
	env.post(t, 3, "/api/game/"+string(gID)+"/team", joinTeamRequest{Team: spybois.Team2, Role: spybois.Agent}, http.StatusOK)
	env.post(t, 0, "/api/game/"+string(gID)+"/start", nil, http.StatusOK)

	env.post(t, 0, "/api/game/"+string(gID)+"/hint",
		hintRequest{Hint: "zzzzz", HintNumber: 1}, http.StatusBadRequest)
	env.post(t, 0, "/api/game/"+string(gID)+"/hint",
		hintRequest{Hint: "fruit", HintNumber: 1}, http.StatusOK)
}

type testEnv struct {
	db       *memdb.DB
	srv      *Srv
	userAuth []*http.Cookie
}

func setup(t *testing.T, dictFile string) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db := memdb.New()
	c := game.New(db, log, rand.New(rand.NewSource(0)))
	c.Board = boardgen.Config{Team1Cards: 2, Team2Cards: 2, Bystanders: 1, Assassins: 1}

	d, err := dict.New(dictFile, log)
	if err != nil {
		t.Fatalf("failed to load dictionary: %v", err)
	}

	srv := New(db, c, d, setupCookies(), log)
	t.Cleanup(srv.Shutdown)
	return &testEnv{db: db, srv: srv}
}

func setupCookies() *securecookie.SecureCookie {
	return securecookie.New(
		[]byte{
			1, 2, 3, 4, 5, 6, 7, 8,
			9, 10, 11, 12, 13, 14, 15, 16,
			17, 18, 19, 20, 21, 22, 23, 24,
			25, 26, 27, 28, 29, 30, 31, 32,
		},
		[]byte{
			33, 34, 35, 36, 37, 38, 39, 40,
			41, 42, 43, 44, 45, 46, 47, 48,
			49, 50, 51, 52, 53, 54, 55, 56,
			57, 58, 59, 60, 61, 62, 63, 64,
		})
}

func (env *testEnv) createUser(t *testing.T, name string) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/user", toBody(t, struct {
		Name string `json:"name"`
	}{name}))
	env.srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("failed to create user: %d %s", w.Code, w.Body.String())
	}

	var auth *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "Authorization" {
			auth = c
		}
	}
	if auth == nil {
		t.Fatal("no auth cookie in create user response")
	}
	env.userAuth = append(env.userAuth, auth)
}

func (env *testEnv) user(t *testing.T, authIdx int) *spybois.User {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	r.AddCookie(env.userAuth[authIdx])
	env.srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("failed to get user: %d %s", w.Code, w.Body.String())
	}

	var u spybois.User
	fromBody(t, w, &u)
	return &u
}

func (env *testEnv) createGame(t *testing.T, authIdx int) *Game {
	return env.postGame(t, authIdx, "/api/game", nil)
}

func (env *testEnv) games(t *testing.T, authIdx int, query string) []*Game {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/games"+query, nil)
	r.AddCookie(env.userAuth[authIdx])
	env.srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("failed to list games: %d %s", w.Code, w.Body.String())
	}

	var games []*Game
	fromBody(t, w, &games)
	return games
}

// postGame posts and decodes the session from the response.
func (env *testEnv) postGame(t *testing.T, authIdx int, path string, body interface{}) *Game {
	w := env.post(t, authIdx, path, body, http.StatusOK)
	var g Game
	fromBody(t, w, &g)
	return &g
}

func (env *testEnv) post(t *testing.T, authIdx int, path string, body interface{}, wantCode int) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		rdr = toBody(t, body)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, rdr)
	r.AddCookie(env.userAuth[authIdx])
	env.srv.ServeHTTP(w, r)
	if w.Code != wantCode {
		t.Fatalf("POST %s = %d, want %d: %s", path, w.Code, wantCode, w.Body.String())
	}
	return w
}

func toBody(t *testing.T, body interface{}) io.Reader {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	return &buf
}

func fromBody(t *testing.T, w *httptest.ResponseRecorder, resp interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(resp); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}
