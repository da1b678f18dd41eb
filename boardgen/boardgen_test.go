package boardgen

import (
	"math/rand"
	"testing"

	"github.com/diminishedprime/spybois/spybois"
)

func TestNew(t *testing.T) {
	cfg := Default
	got := New(cfg, rand.New(rand.NewSource(0)))

	if len(got) != 20 {
		t.Fatalf("dealt %d cards, want 20", len(got))
	}

	counts := make(map[spybois.CardTeam]int)
	words := make(map[string]struct{})
	ids := make(map[spybois.CardID]struct{})
	for _, c := range got {
		counts[c.Team]++
		words[c.Value] = struct{}{}
		ids[c.ID] = struct{}{}
		if c.Flipped {
			t.Errorf("card %q dealt already flipped", c.Value)
		}
	}

	want := map[spybois.CardTeam]int{
		spybois.CardTeam1: cfg.Team1Cards,
		spybois.CardTeam2: cfg.Team2Cards,
		spybois.Bystander: cfg.Bystanders,
		spybois.Assassin:  cfg.Assassins,
	}
	for team, n := range want {
		if counts[team] != n {
			t.Errorf("dealt %d %q cards, want %d", counts[team], team, n)
		}
	}

	if len(words) != len(got) {
		t.Errorf("dealt %d distinct words for %d cards", len(words), len(got))
	}
	if len(ids) != len(got) {
		t.Errorf("dealt %d distinct ids for %d cards", len(ids), len(got))
	}
}

func TestStartingTeam(t *testing.T) {
	if got := Default.StartingTeam(); got != spybois.Team1 {
		t.Errorf("StartingTeam() = %q on a tie, want %q", got, spybois.Team1)
	}

	lopsided := Config{Team1Cards: 8, Team2Cards: 9, Bystanders: 2, Assassins: 1}
	if got := lopsided.StartingTeam(); got != spybois.Team2 {
		t.Errorf("StartingTeam() = %q, want %q", got, spybois.Team2)
	}
}
