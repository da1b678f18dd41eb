package spybois

import (
	"sync"
)

// Store is the persistence layer for game sessions. The session document is
// the single source of truth: every mutation is a Patch computed from a
// Snapshot, and every connected client observes changes through a
// subscription rather than the return value of the mutating call.
type Store interface {
	NewUser(u *User) (PlayerID, error)
	User(id PlayerID) (*User, error)

	// NewGame persists a fresh session document and assigns it an id.
	NewGame(d *Doc) (GameID, error)
	Game(id GameID) (*Snapshot, error)

	// Apply applies a patch if its BaseVersion still matches the stored
	// document, and returns the resulting snapshot. A mismatch fails with
	// ErrStaleSnapshot and leaves the document unchanged.
	Apply(id GameID, p Patch) (*Snapshot, error)

	// Subscribe registers a callback for every change to a session,
	// starting with its current state. A nil snapshot means the session
	// was deleted. The returned func cancels the subscription.
	Subscribe(id GameID, cb func(*Snapshot)) (func(), error)

	// DeleteGame removes a session document; subscribers observe nil.
	// Session cleanup is driven from outside the game rules.
	DeleteGame(id GameID) error

	// GamesWithPlayer lists sessions containing the player, optionally
	// filtered to the given states.
	GamesWithPlayer(id PlayerID, states []GameState) ([]*Snapshot, error)

	// SubscribeGamesWithPlayer is the push variant of GamesWithPlayer,
	// re-delivering the full list whenever any of the player's sessions
	// change.
	SubscribeGamesWithPlayer(id PlayerID, cb func([]*Snapshot)) (func(), error)
}

// Notifier fans out session changes to subscribers. Each subscriber gets
// its own delivery goroutine so that a slow callback never blocks the
// store's write path; deliveries to one subscriber stay in order. If a
// subscriber falls more than a buffer's worth behind, its oldest queued
// event is shed to make room for the newest, which is acceptable because
// every event carries the full snapshot rather than a delta. A stalled
// subscriber that catches up always ends on current state.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	game   map[GameID]map[int]chan *Snapshot
	lobby  map[PlayerID]map[int]chan []*Snapshot
}

const subscriberBuffer = 64

func NewNotifier() *Notifier {
	return &Notifier{
		game:  make(map[GameID]map[int]chan *Snapshot),
		lobby: make(map[PlayerID]map[int]chan []*Snapshot),
	}
}

// SubscribeGame registers a callback for one session's changes and returns
// its cancel func. The initial snapshot is queued ahead of any publish
// that happens after registration, so subscribers always see current state
// first. Stores call this while holding their own write lock to keep the
// seed and subsequent publishes ordered.
func (n *Notifier) SubscribeGame(gID GameID, initial *Snapshot, cb func(*Snapshot)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan *Snapshot, subscriberBuffer)
	ch <- initial
	subs, ok := n.game[gID]
	if !ok {
		subs = make(map[int]chan *Snapshot)
		n.game[gID] = subs
	}
	subs[id] = ch

	go func() {
		for snap := range ch {
			cb(snap)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if subs, ok := n.game[gID]; ok {
				if ch, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
				}
				if len(subs) == 0 {
					delete(n.game, gID)
				}
			}
		})
	}
}

// PublishGame delivers a snapshot (nil for deletion) to the session's
// subscribers.
func (n *Notifier) PublishGame(gID GameID, snap *Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.game[gID] {
		publish(ch, snap)
	}
}

// publish queues one event for one subscriber, shedding the subscriber's
// oldest queued event when its buffer is full. The caller holds n.mu, so
// this goroutine is the only sender and the channel cannot be closed out
// from under it; after the drain the send always has room.
func publish[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// SubscribeLobby registers a callback for changes to one player's session
// list, seeded with the current list.
func (n *Notifier) SubscribeLobby(pID PlayerID, initial []*Snapshot, cb func([]*Snapshot)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan []*Snapshot, subscriberBuffer)
	ch <- initial
	subs, ok := n.lobby[pID]
	if !ok {
		subs = make(map[int]chan []*Snapshot)
		n.lobby[pID] = subs
	}
	subs[id] = ch

	go func() {
		for snaps := range ch {
			cb(snaps)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if subs, ok := n.lobby[pID]; ok {
				if ch, ok := subs[id]; ok {
					delete(subs, id)
					close(ch)
				}
				if len(subs) == 0 {
					delete(n.lobby, pID)
				}
			}
		})
	}
}

// HasLobbySubscribers reports whether anyone is watching the player's
// session list, so stores can skip recomputing it.
func (n *Notifier) HasLobbySubscribers(pID PlayerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lobby[pID]) > 0
}

// PublishLobby delivers a session list to one player's lobby subscribers.
func (n *Notifier) PublishLobby(pID PlayerID, snaps []*Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.lobby[pID] {
		publish(ch, snaps)
	}
}
