package sqldb

import (
	"io"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	db, err := New(filepath.Join(t.TempDir(), "spybois.db"), rand.NewSource(1), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newInitDoc(players ...spybois.PlayerID) *spybois.Doc {
	nicks := make(map[spybois.PlayerID]string)
	for _, p := range players {
		nicks[p] = "nick-" + string(p)
	}
	return spybois.Encode(&spybois.InitData{Lobby: spybois.Lobby{
		PlayerIDs: players,
		NickMap:   nicks,
	}})
}

func TestUsers(t *testing.T) {
	db := newDB(t)

	id, err := db.NewUser(&spybois.User{Name: "Ayyy"})
	require.NoError(t, err)

	u, err := db.User(id)
	require.NoError(t, err)
	assert.Equal(t, &spybois.User{ID: id, Name: "Ayyy"}, u)

	_, err = db.User("nope")
	assert.ErrorIs(t, err, spybois.ErrUserNotFound)
}

func TestGameRoundTrip(t *testing.T) {
	db := newDB(t)

	gID, err := db.NewGame(newInitDoc("a"))
	require.NoError(t, err)

	snap, err := db.Game(gID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	require.IsType(t, &spybois.InitData{}, snap.Data)
	assert.Equal(t, "nick-a", snap.Data.Nick("a"))

	_, err = db.Game("NopeNopeNope")
	assert.ErrorIs(t, err, spybois.ErrGameNotFound)
}

func TestApplyVersionCheck(t *testing.T) {
	db := newDB(t)

	gID, err := db.NewGame(newInitDoc("a"))
	require.NoError(t, err)
	snap, err := db.Game(gID)
	require.NoError(t, err)

	nu, err := db.Apply(gID, spybois.Patch{
		BaseVersion: snap.Version,
		Ops:         []spybois.Op{spybois.Union(spybois.FieldPlayerIDs, spybois.PlayerID("b"))},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), nu.Version)
	assert.Equal(t, []spybois.PlayerID{"a", "b"}, nu.Data.Members())

	// The document on disk matches what Apply returned.
	reread, err := db.Game(gID)
	require.NoError(t, err)
	assert.Equal(t, nu, reread)

	_, err = db.Apply(gID, spybois.Patch{
		BaseVersion: snap.Version,
		Ops:         []spybois.Op{spybois.Union(spybois.FieldPlayerIDs, spybois.PlayerID("c"))},
	})
	assert.ErrorIs(t, err, spybois.ErrStaleSnapshot)
}

func TestSubscribe(t *testing.T) {
	db := newDB(t)

	gID, err := db.NewGame(newInitDoc("a"))
	require.NoError(t, err)

	snaps := make(chan *spybois.Snapshot, 8)
	unsub, err := db.Subscribe(gID, func(s *spybois.Snapshot) { snaps <- s })
	require.NoError(t, err)
	defer unsub()

	first := waitSnap(t, snaps)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Version)

	_, err = db.Apply(gID, spybois.Patch{
		BaseVersion: 1,
		Ops:         []spybois.Op{spybois.Union(spybois.FieldPlayerIDs, spybois.PlayerID("b"))},
	})
	require.NoError(t, err)

	second := waitSnap(t, snaps)
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.Version)

	require.NoError(t, db.DeleteGame(gID))
	assert.Nil(t, waitSnap(t, snaps))
}

func TestGamesWithPlayer(t *testing.T) {
	db := newDB(t)

	g1, err := db.NewGame(newInitDoc("a", "b"))
	require.NoError(t, err)
	_, err = db.NewGame(newInitDoc("b"))
	require.NoError(t, err)

	snaps, err := db.GamesWithPlayer("a", nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, g1, snaps[0].ID)

	snaps, err = db.GamesWithPlayer("b", nil)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	snaps, err = db.GamesWithPlayer("b", []spybois.GameState{spybois.GameOver})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSubscribeGamesWithPlayer(t *testing.T) {
	db := newDB(t)

	lists := make(chan []*spybois.Snapshot, 8)
	unsub, err := db.SubscribeGamesWithPlayer("a", func(s []*spybois.Snapshot) { lists <- s })
	require.NoError(t, err)
	defer unsub()

	assert.Empty(t, waitList(t, lists))

	_, err = db.NewGame(newInitDoc("a"))
	require.NoError(t, err)
	assert.Len(t, waitList(t, lists), 1)
}

func TestClose(t *testing.T) {
	db := newDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "closing twice is fine")

	_, err := db.Game("whatever")
	assert.ErrorIs(t, err, ErrClosed)
}

func waitSnap(t *testing.T, ch chan *spybois.Snapshot) *spybois.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return nil
	}
}

func waitList(t *testing.T, ch chan []*spybois.Snapshot) []*spybois.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a session list")
		return nil
	}
}
