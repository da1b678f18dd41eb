package client

import (
	"github.com/diminishedprime/spybois/spybois"
	"github.com/diminishedprime/spybois/web"
)

// HintDraft is a hint as a leader composes it: the word under edit plus the
// declared count, stepped with More/Fewer before submission. Frontends bind
// their count controls here so the count can never leave the declared-count
// domain (zero, 1..9, infinity).
type HintDraft struct {
	Word  string
	Count spybois.HintNumber
}

// NewHintDraft starts a draft at the numeral 1, the smallest concrete
// count.
func NewHintDraft(word string) *HintDraft {
	return &HintDraft{Word: word, Count: 1}
}

// More steps the declared count up. Stepping past 9 lands on infinity and
// stays there.
func (d *HintDraft) More() {
	d.Count = d.Count.Bump(spybois.Up)
}

// Fewer steps the declared count down. Stepping below 1 lands on zero and
// stays there.
func (d *HintDraft) Fewer() {
	d.Count = d.Count.Bump(spybois.Down)
}

// GiveDraftHint submits the draft as it stands.
func (c *Client) GiveDraftHint(gID spybois.GameID, d *HintDraft) (*web.Game, error) {
	return c.GiveHint(gID, d.Word, d.Count)
}
