package web

import (
	"github.com/diminishedprime/spybois/spybois"
)

// Game is a session as it goes over the wire, the raw document plus its
// id. Clients type-switch on the gameState field the same way server code
// switches on GameData.
type Game struct {
	ID spybois.GameID `json:"id"`
	*spybois.Doc
}

func wireGame(snap *spybois.Snapshot) *Game {
	d := spybois.Encode(snap.Data)
	d.Version = snap.Version
	return &Game{ID: snap.ID, Doc: d}
}

func wireGames(snaps []*spybois.Snapshot) []*Game {
	games := make([]*Game, 0, len(snaps))
	for _, snap := range snaps {
		games = append(games, wireGame(snap))
	}
	return games
}

// GameUpdate is pushed to game topic subscribers on every change. Deleted
// is set, with no game, when the session goes away.
type GameUpdate struct {
	Game    *Game `json:"game,omitempty"`
	Deleted bool  `json:"deleted,omitempty"`
}

// LobbyUpdate is pushed to lobby topic subscribers whenever any of the
// player's sessions change.
type LobbyUpdate struct {
	Games []*Game `json:"games"`
}

type joinTeamRequest struct {
	Team spybois.Team `json:"team"`
	Role spybois.Role `json:"role"`
	// Switch vacates the player's current slot instead of declining the
	// claim when they already hold one.
	Switch bool `json:"switch,omitempty"`
}

type hintRequest struct {
	Hint       string             `json:"hint"`
	HintNumber spybois.HintNumber `json:"hintNumber"`
}

type flipRequest struct {
	CardID spybois.CardID `json:"cardId"`
}
