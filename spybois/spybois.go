// Package spybois contains the core domain model of the game: the persisted
// session document, the tagged game-state union, and the value types shared
// by every other package.
package spybois

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
)

var (
	ErrGameNotFound       = errors.New("spybois: game not found")
	ErrUserNotFound       = errors.New("spybois: user not found")
	ErrStaleSnapshot      = errors.New("spybois: snapshot is stale, re-read and retry")
	ErrPreconditionNotMet = errors.New("spybois: action preconditions not met")
	ErrCardFlipped        = errors.New("spybois: card is already flipped")
)

type PlayerID string
type GameID string
type CardID string

// GameState discriminates the GameData union. The wire values match the
// persisted document.
type GameState string

const (
	// NoState is an error case.
	NoState    = GameState("")
	Init       = GameState("init")
	Ready      = GameState("ready")
	InProgress = GameState("in-progress")
	GameOver   = GameState("game-over")
)

// Team is one of the two playing sides.
type Team string

const (
	NoTeam = Team("")
	Team1  = Team("team1")
	Team2  = Team("team2")
)

// Other returns the opposing team.
func (t Team) Other() Team {
	if t == Team1 {
		return Team2
	}
	return Team1
}

// CardTeam is the hidden affiliation of a card. It extends Team with the two
// non-player roles.
type CardTeam string

const (
	CardTeam1 = CardTeam(Team1)
	CardTeam2 = CardTeam(Team2)
	Bystander = CardTeam("bystander")
	Assassin  = CardTeam("assassin")
)

// Role is a player's job on their team.
type Role string

const (
	NoRole = Role("")
	// Leader authors hints and may not flip cards.
	Leader = Role("leader")
	// Agent guesses by flipping cards.
	Agent = Role("agent")
)

// User is an account known to the store. The nick in a session's nickMap may
// lag behind Name; identity is the ID.
type User struct {
	ID   PlayerID `json:"id"`
	Name string   `json:"name"`
}

// Player is a participant as seen by game operations.
type Player struct {
	ID   PlayerID `json:"id"`
	Nick string   `json:"nick,omitempty"`
}

// Card is a single guessable token on the board. Its ID is stable across
// flips; Flipped only ever goes false -> true.
type Card struct {
	ID      CardID   `json:"id"`
	Value   string   `json:"value"`
	Flipped bool     `json:"flipped"`
	Team    CardTeam `json:"team"`
}

// FlippedCard is a Card frozen at flip time. The flippedCards log is
// append-only and its order is meaningful.
type FlippedCard struct {
	Card
	TeamThatFlipped Team `json:"teamThatFlipped"`
}

// HintData is the active hint for the current turn.
type HintData struct {
	Hint             string     `json:"hint"`
	HintNumber       HintNumber `json:"hintNumber"`
	RemainingGuesses HintNumber `json:"remainingGuesses"`
	Team             Team       `json:"team"`
	Submitted        bool       `json:"submitted"`
}

// Previous returns the immutable history form of the hint.
func (h HintData) Previous() PreviousHint {
	return PreviousHint{Hint: h.Hint, HintNumber: h.HintNumber, Team: h.Team}
}

// PreviousHint is a HintData stripped of its per-turn bookkeeping.
type PreviousHint struct {
	Hint       string     `json:"hint"`
	HintNumber HintNumber `json:"hintNumber"`
	Team       Team       `json:"team"`
}

// Teams is the roster: who holds which (team, role) slot. Leader slots hold
// at most one id, agent slots are sets.
type Teams struct {
	Team1LeaderID *PlayerID  `json:"team1LeaderId,omitempty"`
	Team1AgentIDs []PlayerID `json:"team1AgentIds,omitempty"`
	Team2LeaderID *PlayerID  `json:"team2LeaderId,omitempty"`
	Team2AgentIDs []PlayerID `json:"team2AgentIds,omitempty"`
}

// Leader returns the leader slot for a team, or nil if unclaimed.
func (t Teams) Leader(team Team) *PlayerID {
	if team == Team1 {
		return t.Team1LeaderID
	}
	return t.Team2LeaderID
}

// Agents returns the agent slot list for a team.
func (t Teams) Agents(team Team) []PlayerID {
	if team == Team1 {
		return t.Team1AgentIDs
	}
	return t.Team2AgentIDs
}

// OnTeam reports whether the player holds any (team, role) slot.
func (t Teams) OnTeam(id PlayerID) bool {
	return t.OnSpecificTeam(id, Team1) || t.OnSpecificTeam(id, Team2)
}

// OnSpecificTeam reports whether the player holds a slot on the given team.
func (t Teams) OnSpecificTeam(id PlayerID, team Team) bool {
	if l := t.Leader(team); l != nil && *l == id {
		return true
	}
	for _, a := range t.Agents(team) {
		if a == id {
			return true
		}
	}
	return false
}

// RoleOn returns the slot the player holds on the given team, or NoRole.
func (t Teams) RoleOn(id PlayerID, team Team) Role {
	if l := t.Leader(team); l != nil && *l == id {
		return Leader
	}
	for _, a := range t.Agents(team) {
		if a == id {
			return Agent
		}
	}
	return NoRole
}

// IsLeader reports whether the player leads either team.
func (t Teams) IsLeader(id PlayerID) bool {
	return t.RoleOn(id, Team1) == Leader || t.RoleOn(id, Team2) == Leader
}

// Ready reports whether both teams can play: a leader plus at least one
// agent on each side.
func (t Teams) Ready() bool {
	return t.Team1LeaderID != nil && len(t.Team1AgentIDs) > 0 &&
		t.Team2LeaderID != nil && len(t.Team2AgentIDs) > 0
}

// GameData is the tagged union of session states. Consumers should
// type-switch over the four variants rather than poke at optional fields.
type GameData interface {
	State() GameState

	// Roster returns the team slots; every state carries them.
	Roster() Teams
	// Members returns the ids of everyone in the session.
	Members() []PlayerID
	// Nick returns the display name for a member, or a placeholder.
	Nick(PlayerID) string

	gameData()
}

// Lobby holds the fields common to every session state.
type Lobby struct {
	PlayerIDs []PlayerID
	NickMap   map[PlayerID]string
	Teams
}

func (l Lobby) Roster() Teams       { return l.Teams }
func (l Lobby) Members() []PlayerID { return l.PlayerIDs }

func (l Lobby) Nick(id PlayerID) string {
	if n, ok := l.NickMap[id]; ok && n != "" {
		return n
	}
	return string(id)
}

// InitData is a session forming its teams. Slots may be partially filled.
type InitData struct {
	Lobby
}

func (*InitData) State() GameState { return Init }
func (*InitData) gameData()        {}

// ReadyData is the transient "starting" pulse between Init and the deal.
type ReadyData struct {
	Lobby
}

func (*ReadyData) State() GameState { return Ready }
func (*ReadyData) gameData()        {}

// InProgressData is an active game.
type InProgressData struct {
	Lobby
	Cards         []Card
	CurrentTeam   Team
	CurrentHint   *HintData
	PreviousHints []PreviousHint
	FlippedCards  []FlippedCard
	// TimerStartTime is wall-clock milliseconds, set once per turn when a
	// countdown is armed.
	TimerStartTime *int64
}

func (*InProgressData) State() GameState { return InProgress }
func (*InProgressData) gameData()        {}

// CardByID finds a card on the board.
func (d *InProgressData) CardByID(id CardID) (Card, bool) {
	for _, c := range d.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// GameOverData is a finished game.
type GameOverData struct {
	Lobby
	Cards []Card
	// CurrentTeam is the team whose turn the game ended on.
	CurrentTeam   Team
	Winner        Team
	PreviousHints []PreviousHint
	FlippedCards  []FlippedCard
}

func (*GameOverData) State() GameState { return GameOver }
func (*GameOverData) gameData()        {}

// RandomGameID returns a human-shareable id like "PianoIceCreamMug".
func RandomGameID(r *rand.Rand) GameID {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		buf.WriteString(randomWord(r))
	}
	return GameID(buf.String())
}

var letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func RandomPlayerID(r *rand.Rand) PlayerID {
	b := make([]byte, 64)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return PlayerID(b)
}

func randomWord(r *rand.Rand) string {
	w := Words[r.Intn(len(Words))]
	parts := strings.Split(w, "_")
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}
