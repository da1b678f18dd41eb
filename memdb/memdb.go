// Package memdb is an in-memory Store, used in tests and for running
// without a database file.
package memdb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/diminishedprime/spybois/spybois"
)

type idNamespace string

const (
	gameID = idNamespace("game")
	userID = idNamespace("user")
)

type DB struct {
	mu       sync.Mutex
	ids      map[idNamespace]int
	games    map[spybois.GameID]*spybois.Doc
	users    map[spybois.PlayerID]*spybois.User
	notifier *spybois.Notifier
}

func New() *DB {
	return &DB{
		ids:      make(map[idNamespace]int),
		games:    make(map[spybois.GameID]*spybois.Doc),
		users:    make(map[spybois.PlayerID]*spybois.User),
		notifier: spybois.NewNotifier(),
	}
}

func (db *DB) NewUser(u *spybois.User) (spybois.PlayerID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	uID := spybois.PlayerID(db.newID(userID))
	uc := *u
	uc.ID = uID
	db.users[uID] = &uc
	return uID, nil
}

func (db *DB) User(uID spybois.PlayerID) (*spybois.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[uID]
	if !ok {
		return nil, spybois.ErrUserNotFound
	}
	uc := *u
	return &uc, nil
}

func (db *DB) NewGame(d *spybois.Doc) (spybois.GameID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	gID := spybois.GameID(db.newID(gameID))
	dc := d.Clone()
	dc.Version = 1
	db.games[gID] = dc

	db.publishLocked(gID, dc)
	return gID, nil
}

func (db *DB) Game(gID spybois.GameID) (*spybois.Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.snapshotLocked(gID)
}

func (db *DB) snapshotLocked(gID spybois.GameID) (*spybois.Snapshot, error) {
	d, ok := db.games[gID]
	if !ok {
		return nil, spybois.ErrGameNotFound
	}
	return snapshot(gID, d.Clone())
}

func snapshot(gID spybois.GameID, d *spybois.Doc) (*spybois.Snapshot, error) {
	gd, err := d.Data()
	if err != nil {
		return nil, fmt.Errorf("corrupt document %q: %w", gID, err)
	}
	return &spybois.Snapshot{ID: gID, Version: d.Version, Data: gd}, nil
}

func (db *DB) Apply(gID spybois.GameID, p spybois.Patch) (*spybois.Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	d, ok := db.games[gID]
	if !ok {
		return nil, spybois.ErrGameNotFound
	}
	if d.Version != p.BaseVersion {
		return nil, fmt.Errorf("patch is against version %d, document is at %d: %w",
			p.BaseVersion, d.Version, spybois.ErrStaleSnapshot)
	}

	nu := d.Clone()
	if err := nu.Apply(p.Ops); err != nil {
		return nil, err
	}
	nu.Version++

	// Reject a patch that would leave the document undecodable.
	snap, err := snapshot(gID, nu.Clone())
	if err != nil {
		return nil, err
	}

	db.games[gID] = nu
	db.publishLocked(gID, nu)
	return snap, nil
}

func (db *DB) DeleteGame(gID spybois.GameID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	d, ok := db.games[gID]
	if !ok {
		return spybois.ErrGameNotFound
	}
	delete(db.games, gID)
	db.notifier.PublishGame(gID, nil)
	for _, pID := range d.PlayerIDs {
		db.publishLobbyLocked(pID)
	}
	return nil
}

func (db *DB) Subscribe(gID spybois.GameID, cb func(*spybois.Snapshot)) (func(), error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap, err := db.snapshotLocked(gID)
	if err != nil {
		return nil, err
	}
	return db.notifier.SubscribeGame(gID, snap, cb), nil
}

func (db *DB) GamesWithPlayer(pID spybois.PlayerID, states []spybois.GameState) ([]*spybois.Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.gamesWithPlayerLocked(pID, states)
}

func (db *DB) gamesWithPlayerLocked(pID spybois.PlayerID, states []spybois.GameState) ([]*spybois.Snapshot, error) {
	var snaps []*spybois.Snapshot
	for gID, d := range db.games {
		if !containsPlayer(d, pID) || !stateMatches(d, states) {
			continue
		}
		snap, err := snapshot(gID, d.Clone())
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

func (db *DB) SubscribeGamesWithPlayer(pID spybois.PlayerID, cb func([]*spybois.Snapshot)) (func(), error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	snaps, err := db.gamesWithPlayerLocked(pID, nil)
	if err != nil {
		return nil, err
	}
	return db.notifier.SubscribeLobby(pID, snaps, cb), nil
}

func containsPlayer(d *spybois.Doc, pID spybois.PlayerID) bool {
	for _, id := range d.PlayerIDs {
		if id == pID {
			return true
		}
	}
	return false
}

func stateMatches(d *spybois.Doc, states []spybois.GameState) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if d.GameState == s {
			return true
		}
	}
	return false
}

// publishLocked pushes the new document to game subscribers and refreshes
// the lobby lists of everyone in it.
func (db *DB) publishLocked(gID spybois.GameID, d *spybois.Doc) {
	if snap, err := snapshot(gID, d.Clone()); err == nil {
		db.notifier.PublishGame(gID, snap)
	}
	for _, pID := range d.PlayerIDs {
		db.publishLobbyLocked(pID)
	}
}

func (db *DB) publishLobbyLocked(pID spybois.PlayerID) {
	if !db.notifier.HasLobbySubscribers(pID) {
		return
	}
	snaps, err := db.gamesWithPlayerLocked(pID, nil)
	if err != nil {
		return
	}
	db.notifier.PublishLobby(pID, snaps)
}

func (db *DB) newID(ns idNamespace) string {
	idx := db.ids[ns]
	id := fmt.Sprintf("%s_%d", ns, idx)
	db.ids[ns]++
	return id
}
