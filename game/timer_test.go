package game

import (
	"context"
	"testing"
	"time"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTimerPassesExpiredTurn(t *testing.T) {
	c := newCoordinator(t)
	c.TurnBudget = 30 * time.Millisecond
	snap := dealt(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.WatchTimer(ctx, snap.ID) }()

	snap, err := c.SubmitHint(snap, leader1, "fruit", 2)
	require.NoError(t, err)
	_, err = c.StartTimer(snap, time.Now().UnixMilli())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, err := c.store.Game(snap.ID)
		if err != nil {
			return false
		}
		gd, ok := cur.Data.(*spybois.InProgressData)
		return ok && gd.CurrentTeam == spybois.Team2
	}, 2*time.Second, 5*time.Millisecond, "the watcher should pass the turn on expiry")

	cur, err := c.store.Game(snap.ID)
	require.NoError(t, err)
	gd := inProgress(t, cur)
	assert.Nil(t, gd.CurrentHint, "the expired turn's hint gets archived")
	assert.Nil(t, gd.TimerStartTime)
	require.Len(t, gd.PreviousHints, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchTimerIgnoresUnarmedTurns(t *testing.T) {
	c := newCoordinator(t)
	c.TurnBudget = 20 * time.Millisecond
	snap := dealt(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.WatchTimer(ctx, snap.ID) }()

	_, err := c.SubmitHint(snap, leader1, "fruit", 2)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	cur, err := c.store.Game(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, spybois.Team1, inProgress(t, cur).CurrentTeam, "no countdown without an armed timer")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchTimerStopsOnDelete(t *testing.T) {
	c := newCoordinator(t)
	snap := dealt(t, c)

	done := make(chan error, 1)
	go func() { done <- c.WatchTimer(context.Background(), snap.ID) }()

	require.NoError(t, c.store.DeleteGame(snap.ID))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after the session was deleted")
	}
}

func TestWatchTimerToleratesAlreadyDeletedSession(t *testing.T) {
	c := newCoordinator(t)
	snap := dealt(t, c)
	require.NoError(t, c.store.DeleteGame(snap.ID))

	assert.NoError(t, c.WatchTimer(context.Background(), snap.ID))
}
