package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/diminishedprime/spybois/web"
	"github.com/gorilla/websocket"
)

// WSHooks are callbacks for game socket events. Nil hooks are skipped.
type WSHooks struct {
	OnConnect func()
	// OnUpdate fires with the full session on every change, including
	// right after connecting.
	OnUpdate func(*web.Game)
	// OnDeleted fires when the session goes away; the socket closes after.
	OnDeleted func()
}

// LobbyHooks are callbacks for session-list socket events.
type LobbyHooks struct {
	OnConnect func()
	OnGames   func([]*web.Game)
}

// ListenForUpdates subscribes to one game's updates and blocks until the
// connection drops.
func (c *Client) ListenForUpdates(gID spybois.GameID, hooks WSHooks) error {
	conn, err := c.dialWS("/api/game/" + string(gID) + "/ws")
	if err != nil {
		return err
	}
	defer conn.Close()

	if hooks.OnConnect != nil {
		hooks.OnConnect()
	}

	for {
		var update web.GameUpdate
		if err := readJSON(conn, &update); err != nil {
			return err
		}
		if update.Deleted {
			if hooks.OnDeleted != nil {
				hooks.OnDeleted()
			}
			return nil
		}
		if hooks.OnUpdate != nil && update.Game != nil {
			hooks.OnUpdate(update.Game)
		}
	}
}

// ListenForLobby subscribes to the player's session list and blocks until
// the connection drops.
func (c *Client) ListenForLobby(hooks LobbyHooks) error {
	conn, err := c.dialWS("/api/lobby/ws")
	if err != nil {
		return err
	}
	defer conn.Close()

	if hooks.OnConnect != nil {
		hooks.OnConnect()
	}

	for {
		var update web.LobbyUpdate
		if err := readJSON(conn, &update); err != nil {
			return err
		}
		if hooks.OnGames != nil {
			hooks.OnGames(update.Games)
		}
	}
}

func (c *Client) dialWS(path string) (*websocket.Conn, error) {
	scheme := "ws"
	if c.scheme == "https" {
		scheme = "wss"
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Jar:              c.http.Jar,
	}
	conn, _, err := dialer.Dial(scheme+"://"+c.addr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return conn, nil
}

func readJSON(conn *websocket.Conn, v interface{}) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ReadMessage: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return json.Unmarshal(message, v)
	}
}
