// Package sqldb is a Store backed by a SQLite database. The session
// document is stored as a JSON blob next to its version; membership queries
// go through SQLite's json_each so listing a player's sessions doesn't
// require loading every game.
package sqldb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sqldb: store is closed")

const schema = `
CREATE TABLE IF NOT EXISTS Users (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS Games (
	id      TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	data    TEXT NOT NULL
);
`

// DB implements the session store API, backed by a SQLite database.
// NOTE: Since the database doesn't support concurrent writers, we don't
// hold the *sql.DB in this struct, we force all callers to get a handle
// via channels. Publishing happens on the same goroutine, so subscribers
// observe changes in commit order.
type DB struct {
	dbChan    chan func(*sql.DB)
	doneChan  chan struct{}
	closeOnce sync.Once
	notifier  *spybois.Notifier
	log       *logrus.Logger

	mu sync.Mutex // guards r
	r  *rand.Rand
}

// New creates a new *DB that is stored on disk at the given filename.
func New(fn string, src rand.Source, log *logrus.Logger) (*DB, error) {
	sdb, err := sql.Open("sqlite3", fn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", fn, err)
	}
	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	db := &DB{
		dbChan:   make(chan func(*sql.DB)),
		doneChan: make(chan struct{}),
		notifier: spybois.NewNotifier(),
		log:      log,
		r:        rand.New(src),
	}
	go db.run(sdb)
	return db, nil
}

// run handles all database calls, and ensures that only one thing is
// happening against the database at a time.
func (db *DB) run(sdb *sql.DB) {
	for {
		select {
		case dbFn := <-db.dbChan:
			dbFn(sdb)
		case <-db.doneChan:
			if err := sdb.Close(); err != nil {
				db.log.WithError(err).Error("failed to close database")
			}
			return
		}
	}
}

func (db *DB) Close() error {
	db.closeOnce.Do(func() { close(db.doneChan) })
	return nil
}

// do runs fn on the database goroutine and waits for it to finish.
func (db *DB) do(fn func(*sql.DB)) error {
	select {
	case <-db.doneChan:
		return ErrClosed
	default:
	}

	done := make(chan struct{})
	select {
	case db.dbChan <- func(sdb *sql.DB) {
		defer close(done)
		fn(sdb)
	}:
		<-done
		return nil
	case <-db.doneChan:
		return ErrClosed
	}
}

func (db *DB) NewUser(u *spybois.User) (spybois.PlayerID, error) {
	db.mu.Lock()
	uID := spybois.RandomPlayerID(db.r)
	db.mu.Unlock()

	var opErr error
	err := db.do(func(sdb *sql.DB) {
		_, opErr = sdb.Exec("INSERT INTO Users (id, name) VALUES (?, ?)", uID, u.Name)
	})
	if err != nil {
		return "", err
	}
	if opErr != nil {
		return "", fmt.Errorf("failed to insert user: %w", opErr)
	}
	return uID, nil
}

func (db *DB) User(uID spybois.PlayerID) (*spybois.User, error) {
	var (
		u     *spybois.User
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		var name string
		switch err := sdb.QueryRow("SELECT name FROM Users WHERE id = ?", uID).Scan(&name); {
		case errors.Is(err, sql.ErrNoRows):
			opErr = spybois.ErrUserNotFound
		case err != nil:
			opErr = fmt.Errorf("failed to load user %q: %w", uID, err)
		default:
			u = &spybois.User{ID: uID, Name: name}
		}
	})
	if err != nil {
		return nil, err
	}
	return u, opErr
}

func (db *DB) NewGame(d *spybois.Doc) (spybois.GameID, error) {
	var (
		gID   spybois.GameID
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		nu := d.Clone()
		nu.Version = 1
		dat, err := json.Marshal(nu)
		if err != nil {
			opErr = fmt.Errorf("failed to encode document: %w", err)
			return
		}
		// Ids are human-shareable words, so collisions are possible if
		// unlikely. Retry with a fresh id instead of failing the insert.
		for {
			db.mu.Lock()
			gID = spybois.RandomGameID(db.r)
			db.mu.Unlock()

			var exists int
			if err := sdb.QueryRow("SELECT COUNT(*) FROM Games WHERE id = ?", gID).Scan(&exists); err != nil {
				opErr = fmt.Errorf("failed to check id %q: %w", gID, err)
				return
			}
			if exists == 0 {
				break
			}
		}
		if _, err := sdb.Exec("INSERT INTO Games (id, version, data) VALUES (?, ?, ?)", gID, nu.Version, dat); err != nil {
			opErr = fmt.Errorf("failed to insert game: %w", err)
			return
		}
		db.publish(sdb, gID, nu)
	})
	if err != nil {
		return "", err
	}
	return gID, opErr
}

func (db *DB) Game(gID spybois.GameID) (*spybois.Snapshot, error) {
	var (
		snap  *spybois.Snapshot
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		var d *spybois.Doc
		if d, opErr = loadDoc(sdb, gID); opErr != nil {
			return
		}
		snap, opErr = snapshot(gID, d)
	})
	if err != nil {
		return nil, err
	}
	return snap, opErr
}

func loadDoc(sdb *sql.DB, gID spybois.GameID) (*spybois.Doc, error) {
	var (
		version int64
		dat     []byte
	)
	switch err := sdb.QueryRow("SELECT version, data FROM Games WHERE id = ?", gID).Scan(&version, &dat); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, spybois.ErrGameNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to load game %q: %w", gID, err)
	}

	var d spybois.Doc
	if err := json.Unmarshal(dat, &d); err != nil {
		return nil, fmt.Errorf("failed to decode game %q: %w", gID, err)
	}
	// The version column is authoritative.
	d.Version = version
	return &d, nil
}

func snapshot(gID spybois.GameID, d *spybois.Doc) (*spybois.Snapshot, error) {
	gd, err := d.Data()
	if err != nil {
		return nil, fmt.Errorf("corrupt document %q: %w", gID, err)
	}
	return &spybois.Snapshot{ID: gID, Version: d.Version, Data: gd}, nil
}

func (db *DB) Apply(gID spybois.GameID, p spybois.Patch) (*spybois.Snapshot, error) {
	var (
		snap  *spybois.Snapshot
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		d, err := loadDoc(sdb, gID)
		if err != nil {
			opErr = err
			return
		}
		if d.Version != p.BaseVersion {
			opErr = fmt.Errorf("patch is against version %d, document is at %d: %w",
				p.BaseVersion, d.Version, spybois.ErrStaleSnapshot)
			return
		}

		nu := d.Clone()
		if err := nu.Apply(p.Ops); err != nil {
			opErr = err
			return
		}
		nu.Version++

		// Reject a patch that would leave the document undecodable.
		if snap, opErr = snapshot(gID, nu.Clone()); opErr != nil {
			return
		}

		dat, err := json.Marshal(nu)
		if err != nil {
			opErr = fmt.Errorf("failed to encode document: %w", err)
			return
		}
		if _, err := sdb.Exec("UPDATE Games SET version = ?, data = ? WHERE id = ? AND version = ?",
			nu.Version, dat, gID, p.BaseVersion); err != nil {
			opErr = fmt.Errorf("failed to update game %q: %w", gID, err)
			return
		}
		db.publish(sdb, gID, nu)
	})
	if err != nil {
		return nil, err
	}
	return snap, opErr
}

func (db *DB) DeleteGame(gID spybois.GameID) error {
	var opErr error
	err := db.do(func(sdb *sql.DB) {
		d, err := loadDoc(sdb, gID)
		if err != nil {
			opErr = err
			return
		}
		if _, err := sdb.Exec("DELETE FROM Games WHERE id = ?", gID); err != nil {
			opErr = fmt.Errorf("failed to delete game %q: %w", gID, err)
			return
		}
		db.notifier.PublishGame(gID, nil)
		for _, pID := range d.PlayerIDs {
			db.publishLobby(sdb, pID)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

func (db *DB) Subscribe(gID spybois.GameID, cb func(*spybois.Snapshot)) (func(), error) {
	var (
		unsub func()
		opErr error
	)
	// Registering on the database goroutine keeps the seed snapshot
	// ordered against concurrent applies.
	err := db.do(func(sdb *sql.DB) {
		d, err := loadDoc(sdb, gID)
		if err != nil {
			opErr = err
			return
		}
		snap, err := snapshot(gID, d)
		if err != nil {
			opErr = err
			return
		}
		unsub = db.notifier.SubscribeGame(gID, snap, cb)
	})
	if err != nil {
		return nil, err
	}
	return unsub, opErr
}

func (db *DB) GamesWithPlayer(pID spybois.PlayerID, states []spybois.GameState) ([]*spybois.Snapshot, error) {
	var (
		snaps []*spybois.Snapshot
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		snaps, opErr = gamesWithPlayer(sdb, pID, states)
	})
	if err != nil {
		return nil, err
	}
	return snaps, opErr
}

func gamesWithPlayer(sdb *sql.DB, pID spybois.PlayerID, states []spybois.GameState) ([]*spybois.Snapshot, error) {
	rows, err := sdb.Query(`
SELECT Games.id, Games.version, Games.data
FROM Games, json_each(Games.data, '$.playerIds')
WHERE json_each.value = ?
ORDER BY Games.id`, pID)
	if err != nil {
		return nil, fmt.Errorf("failed to query games for %q: %w", pID, err)
	}
	defer rows.Close()

	var snaps []*spybois.Snapshot
	for rows.Next() {
		var (
			gID     spybois.GameID
			version int64
			dat     []byte
		)
		if err := rows.Scan(&gID, &version, &dat); err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		var d spybois.Doc
		if err := json.Unmarshal(dat, &d); err != nil {
			return nil, fmt.Errorf("failed to decode game %q: %w", gID, err)
		}
		d.Version = version
		if !stateMatches(&d, states) {
			continue
		}
		snap, err := snapshot(gID, &d)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
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

func (db *DB) SubscribeGamesWithPlayer(pID spybois.PlayerID, cb func([]*spybois.Snapshot)) (func(), error) {
	var (
		unsub func()
		opErr error
	)
	err := db.do(func(sdb *sql.DB) {
		snaps, err := gamesWithPlayer(sdb, pID, nil)
		if err != nil {
			opErr = err
			return
		}
		unsub = db.notifier.SubscribeLobby(pID, snaps, cb)
	})
	if err != nil {
		return nil, err
	}
	return unsub, opErr
}

// publish pushes the new document to game subscribers and refreshes the
// lobby lists of everyone in it. Must run on the database goroutine.
func (db *DB) publish(sdb *sql.DB, gID spybois.GameID, d *spybois.Doc) {
	snap, err := snapshot(gID, d.Clone())
	if err != nil {
		db.log.WithField("game", gID).WithError(err).Error("failed to publish snapshot")
		return
	}
	db.notifier.PublishGame(gID, snap)
	for _, pID := range d.PlayerIDs {
		db.publishLobby(sdb, pID)
	}
}

func (db *DB) publishLobby(sdb *sql.DB, pID spybois.PlayerID) {
	if !db.notifier.HasLobbySubscribers(pID) {
		return
	}
	snaps, err := gamesWithPlayer(sdb, pID, nil)
	if err != nil {
		db.log.WithField("player", pID).WithError(err).Error("failed to refresh session list")
		return
	}
	db.notifier.PublishLobby(pID, snaps)
}
