// Package client is a programmatic client for the spybois server. Auth is
// cookie-based, so one Client is one logged-in player.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/diminishedprime/spybois/web"
)

type Client struct {
	scheme string
	addr   string
	http   *http.Client
}

func New(scheme, addr string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		scheme: scheme,
		addr:   addr,
		http:   &http.Client{Jar: jar},
	}, nil
}

// CreateUser registers a new account and logs this client in as it.
func (c *Client) CreateUser(name string) (*spybois.User, error) {
	body := struct {
		Name string `json:"name"`
	}{name}

	req, err := http.NewRequest(http.MethodPost, c.url("/api/user"), toBody(body))
	if err != nil {
		return nil, fmt.Errorf("failed to form request: %w", err)
	}

	var u spybois.User
	if err := c.do(req, &u); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

// Me returns the logged-in user.
func (c *Client) Me() (*spybois.User, error) {
	req, err := http.NewRequest(http.MethodGet, c.url("/api/user"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to form request: %w", err)
	}

	var u spybois.User
	if err := c.do(req, &u); err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

func (c *Client) CreateGame() (*web.Game, error) {
	return c.postGame("/api/game", nil)
}

func (c *Client) Game(gID spybois.GameID) (*web.Game, error) {
	req, err := http.NewRequest(http.MethodGet, c.url("/api/game/"+string(gID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to form request: %w", err)
	}

	var g web.Game
	if err := c.do(req, &g); err != nil {
		return nil, fmt.Errorf("failed to load game: %w", err)
	}
	return &g, nil
}

// Games lists the player's sessions, optionally filtered by state.
func (c *Client) Games(states ...spybois.GameState) ([]*web.Game, error) {
	path := "/api/games"
	for i, st := range states {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		path += sep + "state=" + string(st)
	}

	req, err := http.NewRequest(http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to form request: %w", err)
	}

	var games []*web.Game
	if err := c.do(req, &games); err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return games, nil
}

func (c *Client) JoinGame(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/join", nil)
}

func (c *Client) JoinTeam(gID spybois.GameID, team spybois.Team, role spybois.Role) (*web.Game, error) {
	body := struct {
		Team spybois.Team `json:"team"`
		Role spybois.Role `json:"role"`
	}{team, role}
	return c.postGame("/api/game/"+string(gID)+"/team", toBody(body))
}

func (c *Client) SwitchTeam(gID spybois.GameID, team spybois.Team, role spybois.Role) (*web.Game, error) {
	body := struct {
		Team   spybois.Team `json:"team"`
		Role   spybois.Role `json:"role"`
		Switch bool         `json:"switch"`
	}{team, role, true}
	return c.postGame("/api/game/"+string(gID)+"/team", toBody(body))
}

func (c *Client) UnjoinTeam(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/unjoin", nil)
}

func (c *Client) StartGame(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/start", nil)
}

func (c *Client) GiveHint(gID spybois.GameID, hint string, n spybois.HintNumber) (*web.Game, error) {
	body := struct {
		Hint       string             `json:"hint"`
		HintNumber spybois.HintNumber `json:"hintNumber"`
	}{hint, n}
	return c.postGame("/api/game/"+string(gID)+"/hint", toBody(body))
}

func (c *Client) FlipCard(gID spybois.GameID, cID spybois.CardID) (*web.Game, error) {
	body := struct {
		CardID spybois.CardID `json:"cardId"`
	}{cID}
	return c.postGame("/api/game/"+string(gID)+"/flip", toBody(body))
}

func (c *Client) PassTurn(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/pass", nil)
}

func (c *Client) StartTimer(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/timer", nil)
}

func (c *Client) ResetGame(gID spybois.GameID) (*web.Game, error) {
	return c.postGame("/api/game/"+string(gID)+"/reset", nil)
}

func (c *Client) postGame(path string, body io.Reader) (*web.Game, error) {
	req, err := http.NewRequest(http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to form request: %w", err)
	}

	var g web.Game
	if err := c.do(req, &g); err != nil {
		return nil, fmt.Errorf("POST %s failed: %w", path, err)
	}
	return &g, nil
}

func (c *Client) url(path string) string {
	return c.scheme + "://" + c.addr + path
}

func (c *Client) do(req *http.Request, resp interface{}) error {
	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return handleError(httpResp)
	}

	if resp != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

type httpError struct {
	statusCode int
	body       string
	err        error
}

func (h *httpError) Error() string {
	if h.err != nil {
		return fmt.Sprintf("[%d] failed to handle error: %v", h.statusCode, h.err)
	}
	return fmt.Sprintf("[%d] error from server: %s", h.statusCode, h.body)
}

// StatusCode extracts the HTTP status from an error returned by this
// package, or 0 if the error never got a response.
func StatusCode(err error) int {
	var he *httpError
	if errors.As(err, &he) {
		return he.statusCode
	}
	return 0
}

func handleError(resp *http.Response) error {
	dat, err := io.ReadAll(resp.Body)
	if err != nil {
		return &httpError{
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("failed to read error response body: %w", err),
		}
	}

	return &httpError{
		statusCode: resp.StatusCode,
		body:       string(dat),
	}
}

func toBody(req interface{}) io.Reader {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return &errReader{err: err}
	}
	return &buf
}

type errReader struct {
	err error
}

func (e *errReader) Read(_ []byte) (int, error) {
	return 0, e.err
}
