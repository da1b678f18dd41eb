package spybois

import (
	"testing"
	"time"
)

// A subscriber that stalls long enough to overflow its buffer must still
// end on the newest published snapshot once it catches up, with deliveries
// staying in order.
func TestPublishGameKeepsNewestForStalledSubscriber(t *testing.T) {
	n := NewNotifier()
	gID := GameID("GreenDogHouse")

	versions := make(chan int64, 4*subscriberBuffer)
	stalled := make(chan struct{})
	release := make(chan struct{})
	blocked := false
	unsub := n.SubscribeGame(gID, &Snapshot{ID: gID, Version: 1}, func(snap *Snapshot) {
		if !blocked {
			blocked = true
			close(stalled)
			<-release
		}
		versions <- snap.Version
	})
	defer unsub()

	// Wait until the delivery goroutine is wedged in the callback so every
	// publish below lands in an un-drained buffer.
	<-stalled
	newest := int64(subscriberBuffer) + 8
	for v := int64(2); v <= newest; v++ {
		n.PublishGame(gID, &Snapshot{ID: gID, Version: v})
	}
	close(release)

	timeout := time.After(2 * time.Second)
	var got []int64
	for {
		select {
		case v := <-versions:
			got = append(got, v)
		case <-timeout:
			t.Fatalf("subscriber never saw version %d, got %v", newest, got)
		}
		if got[len(got)-1] != newest {
			continue
		}
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Errorf("deliveries arrived out of order: %v", got)
			}
		}
		return
	}
}
