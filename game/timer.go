package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diminishedprime/spybois/spybois"
)

// WatchTimer watches one session and passes the turn when its countdown
// expires. It only holds a ticker while a timer is armed: the ticker is
// acquired when timerStartTime appears and released when it goes away, the
// session leaves InProgress, the session is deleted, or ctx is cancelled.
//
// Remaining time is always recomputed from timerStartTime and the wall
// clock, never from local decrementing state, so a stalled watcher picks
// up where the clock says it should. Any number of clients may run a
// watcher for the same session; duplicate expiry passes collapse into
// no-ops.
func (c *Coordinator) WatchTimer(ctx context.Context, gID spybois.GameID) error {
	var (
		mu      sync.Mutex
		latest  *spybois.Snapshot
		deleted bool
	)
	changed := make(chan struct{}, 1)

	unsub, err := c.store.Subscribe(gID, func(snap *spybois.Snapshot) {
		mu.Lock()
		if snap == nil {
			deleted = true
		} else {
			latest = snap
		}
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if errors.Is(err, spybois.ErrGameNotFound) {
		// The session was deleted before we got here. Same outcome as a
		// deletion observed mid-watch: nothing left to time.
		return nil
	}
	if err != nil {
		return err
	}
	defer unsub()

	var ticker *time.Ticker
	var tick <-chan time.Time
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stopTicker()

	for {
		mu.Lock()
		snap, gone := latest, deleted
		mu.Unlock()

		if gone {
			return nil
		}

		deadline, armed := c.deadline(snap)
		if armed && ticker == nil {
			ticker = time.NewTicker(time.Second)
			tick = ticker.C
		}
		if !armed {
			stopTicker()
		}

		if armed && !time.Now().Before(deadline) {
			c.log.WithField("game", gID).Info("turn timer expired, passing turn")
			if _, err := c.PassTurn(snap); err != nil {
				c.log.WithField("game", gID).WithError(err).Warn("timeout pass failed")
			}
			// The pass (ours or a rival's) disarms the timer; wait for the
			// resulting snapshot.
			stopTicker()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-tick:
		}
	}
}

func (c *Coordinator) deadline(snap *spybois.Snapshot) (time.Time, bool) {
	if snap == nil {
		return time.Time{}, false
	}
	gd, ok := snap.Data.(*spybois.InProgressData)
	if !ok || gd.TimerStartTime == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*gd.TimerStartTime).Add(c.TurnBudget), true
}
