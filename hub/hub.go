// Package hub fans session updates out to websocket connections. Connections
// subscribe to a topic, either one game or one player's session list, and
// receive every message published to it.
package hub

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Topic identifies one stream of updates.
type Topic string

func GameTopic(id string) Topic  { return Topic("game:" + id) }
func LobbyTopic(id string) Topic { return Topic("lobby:" + id) }

// Hub maintains the set of active connections and broadcasts messages to the
// connections subscribed to each topic.
type Hub struct {
	log *logrus.Logger

	// Registered connections per topic.
	connections map[Topic][]*connection

	// Messages to send to everyone on a topic.
	broadcast chan *broadcastMsg

	// Register requests from the connections.
	register chan *connection

	// Unregister requests from connections.
	unregister chan *connection

	// Topics that just lost their last connection.
	drained chan Topic
}

// New creates a new Hub and starts it in a background Go routine.
func New(log *logrus.Logger) *Hub {
	h := &Hub{
		log:         log,
		connections: make(map[Topic][]*connection),
		broadcast:   make(chan *broadcastMsg),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		drained:     make(chan Topic, 16),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.connections[c.topic] = append(h.connections[c.topic], c)
		case c := <-h.unregister:
			h.deleteConn(c)
		case m := <-h.broadcast:
			for _, c := range h.connections[m.topic] {
				select {
				case c.send <- m.msg:
				default:
					// The connection stopped draining its queue.
					h.deleteConn(c)
				}
			}
		}
	}
}

func (h *Hub) deleteConn(c *connection) {
	conns := h.connections[c.topic]
	for i, conn := range conns {
		if conn.id != c.id {
			continue
		}
		close(c.send)
		copy(conns[i:], conns[i+1:])
		conns[len(conns)-1] = nil
		conns = conns[:len(conns)-1]
		if len(conns) == 0 {
			delete(h.connections, c.topic)
			select {
			case h.drained <- c.topic:
			default:
			}
		} else {
			h.connections[c.topic] = conns
		}
		return
	}
}

type broadcastMsg struct {
	topic Topic
	msg   []byte
}

// Broadcast sends a message to every connection on a topic.
func (h *Hub) Broadcast(topic Topic, msg interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	h.broadcast <- &broadcastMsg{
		topic: topic,
		msg:   buf.Bytes(),
	}
	return nil
}

// Drained yields topics whose last connection has gone away, letting the
// owner tear down whatever feeds the topic.
func (h *Hub) Drained() <-chan Topic {
	return h.drained
}

// Register associates a websocket connection with a topic and starts its
// pumps. The hub owns the connection from here on.
func (h *Hub) Register(ws *websocket.Conn, topic Topic) {
	conn := &connection{
		id:    uuid.NewString(),
		h:     h,
		topic: topic,
		send:  make(chan []byte, 256),
		ws:    ws,
	}
	h.register <- conn
	go conn.writePump()
	go conn.readPump()
}
