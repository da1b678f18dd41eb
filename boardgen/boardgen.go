// Package boardgen deals the shuffled board a game starts with.
package boardgen

import (
	"math/rand"

	"github.com/diminishedprime/spybois/spybois"
	"github.com/google/uuid"
)

// Config is the card layout to deal. The counts are configuration, not a
// rule: the default 8/8/3/1 layout deals 20 cards.
type Config struct {
	Team1Cards int
	Team2Cards int
	Bystanders int
	Assassins  int
}

// Default is the standard layout.
var Default = Config{
	Team1Cards: 8,
	Team2Cards: 8,
	Bystanders: 3,
	Assassins:  1,
}

func (c Config) size() int {
	return c.Team1Cards + c.Team2Cards + c.Bystanders + c.Assassins
}

// StartingTeam is the team dealt more cards; Team1 on ties.
func (c Config) StartingTeam() spybois.Team {
	if c.Team2Cards > c.Team1Cards {
		return spybois.Team2
	}
	return spybois.Team1
}

// New deals a fresh board: distinct words picked at random, affiliations
// shuffled uniformly, nothing flipped.
func New(cfg Config, r *rand.Rand) []spybois.Card {
	teams := make([]spybois.CardTeam, 0, cfg.size())
	for i := 0; i < cfg.Team1Cards; i++ {
		teams = append(teams, spybois.CardTeam1)
	}
	for i := 0; i < cfg.Team2Cards; i++ {
		teams = append(teams, spybois.CardTeam2)
	}
	for i := 0; i < cfg.Bystanders; i++ {
		teams = append(teams, spybois.Bystander)
	}
	for i := 0; i < cfg.Assassins; i++ {
		teams = append(teams, spybois.Assassin)
	}

	// Pick words at random from the pool.
	used := make(map[string]struct{})
	for len(used) < cfg.size() {
		used[spybois.Words[r.Intn(len(spybois.Words))]] = struct{}{}
	}
	var selected []string
	for word := range used {
		selected = append(selected, word)
	}

	var cards []spybois.Card
	for i, idx := range r.Perm(len(teams)) {
		cards = append(cards, spybois.Card{
			ID:    spybois.CardID(uuid.NewString()),
			Value: selected[i],
			Team:  teams[idx],
		})
	}
	return cards
}
