// Package game is the session state machine. Every player action is
// validated against a snapshot of the session, turned into a field patch,
// and applied to the store; all clients observe the result through their
// subscriptions. There is no other authority: two clients racing is
// resolved by the store's version check, and actions recomputed from a
// fresh snapshot either still apply or collapse into no-ops.
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/diminishedprime/spybois/boardgen"
	"github.com/diminishedprime/spybois/spybois"
	"github.com/sirupsen/logrus"
)

// DefaultNick is used when a player joins without ever picking a name.
const DefaultNick = "nameyoself"

// retryLimit bounds how many times an action is recomputed from a fresh
// snapshot after losing a version race.
const retryLimit = 3

// Coordinator executes game actions against a store.
type Coordinator struct {
	store spybois.Store
	log   *logrus.Logger

	// Board is the layout dealt when a game starts.
	Board boardgen.Config
	// TurnBudget is the countdown granted when a turn timer is armed.
	TurnBudget time.Duration

	mu sync.Mutex // guards r
	r  *rand.Rand
}

// New returns a Coordinator with the default board and a 90 second turn
// budget. Callers may adjust the exported fields before use.
func New(store spybois.Store, log *logrus.Logger, r *rand.Rand) *Coordinator {
	return &Coordinator{
		store:      store,
		log:        log,
		Board:      boardgen.Default,
		TurnBudget: 90 * time.Second,
		r:          r,
	}
}

// NewGame creates a fresh Init session with the player as its only member.
func (c *Coordinator) NewGame(p spybois.Player) (*spybois.Snapshot, error) {
	doc := spybois.Encode(&spybois.InitData{Lobby: spybois.Lobby{
		PlayerIDs: []spybois.PlayerID{p.ID},
		NickMap:   map[spybois.PlayerID]string{p.ID: nickOrDefault(p)},
	}})
	gID, err := c.store.NewGame(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return c.store.Game(gID)
}

func nickOrDefault(p spybois.Player) string {
	if p.Nick == "" {
		return DefaultNick
	}
	return p.Nick
}

// mutate runs build against the snapshot and applies the resulting ops with
// the snapshot's version. If the store reports the snapshot stale, the
// action is recomputed from a fresh read; builders decide whether it still
// applies. A builder returning no ops means the action is a no-op, which is
// reported as success with the unchanged snapshot.
func (c *Coordinator) mutate(snap *spybois.Snapshot, build func(*spybois.Snapshot) ([]spybois.Op, error)) (*spybois.Snapshot, error) {
	for attempt := 0; ; attempt++ {
		ops, err := build(snap)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			return snap, nil
		}

		next, err := c.store.Apply(snap.ID, spybois.Patch{BaseVersion: snap.Version, Ops: ops})
		if errors.Is(err, spybois.ErrStaleSnapshot) && attempt < retryLimit {
			if snap, err = c.store.Game(snap.ID); err != nil {
				return nil, err
			}
			continue
		}
		return next, err
	}
}

// Join adds a player to the session's member list. Sessions can only be
// joined while they haven't started.
func (c *Coordinator) Join(snap *spybois.Snapshot, p spybois.Player) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		var lobby spybois.Lobby
		switch gd := snap.Data.(type) {
		case *spybois.InitData:
			lobby = gd.Lobby
		case *spybois.ReadyData:
			lobby = gd.Lobby
		case *spybois.InProgressData, *spybois.GameOverData:
			return nil, fmt.Errorf("game %q has already started: %w", snap.ID, spybois.ErrPreconditionNotMet)
		default:
			return nil, fmt.Errorf("unhandled game state %q", snap.Data.State())
		}

		ops := []spybois.Op{spybois.Union(spybois.FieldPlayerIDs, p.ID)}
		nick := nickOrDefault(p)
		if lobby.NickMap[p.ID] != nick {
			nuNicks := make(map[spybois.PlayerID]string, len(lobby.NickMap)+1)
			for id, n := range lobby.NickMap {
				nuNicks[id] = n
			}
			nuNicks[p.ID] = nick
			ops = append(ops, spybois.Set(spybois.FieldNickMap, nuNicks))
		}
		return ops, nil
	})
}

// JoinTeam claims a (team, role) slot. A player already holding any slot is
// left alone, as is a claim on an occupied leader slot; re-claiming an agent
// slot is idempotent. Slot changes go through SwitchTeam.
func (c *Coordinator) JoinTeam(snap *spybois.Snapshot, p spybois.Player, team spybois.Team, role spybois.Role) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InitData)
		if !ok {
			return nil, fmt.Errorf("teams are fixed once game %q starts: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		if gd.Roster().OnTeam(p.ID) {
			c.log.WithFields(logrus.Fields{"game": snap.ID, "player": p.ID}).Info("already on a team")
			return nil, nil
		}
		return joinOps(gd.Roster(), p.ID, team, role), nil
	})
}

// SwitchTeam moves a player to a new (team, role) slot, vacating whatever
// slot they hold in the same patch so the roster never shows them twice.
func (c *Coordinator) SwitchTeam(snap *spybois.Snapshot, p spybois.Player, team spybois.Team, role spybois.Role) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InitData)
		if !ok {
			return nil, fmt.Errorf("teams are fixed once game %q starts: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		roster := gd.Roster()
		if roster.RoleOn(p.ID, team) == role {
			return nil, nil
		}
		join := joinOps(roster, p.ID, team, role)
		if join == nil {
			return nil, nil
		}
		return append(unjoinOps(roster, p.ID), join...), nil
	})
}

// UnjoinTeam removes the player from whichever slot(s) they occupy. Safe to
// call for a player holding none; no store round trip happens in that case.
func (c *Coordinator) UnjoinTeam(snap *spybois.Snapshot, p spybois.Player) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InitData)
		if !ok {
			return nil, fmt.Errorf("teams are fixed once game %q starts: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		return unjoinOps(gd.Roster(), p.ID), nil
	})
}

func joinOps(roster spybois.Teams, id spybois.PlayerID, team spybois.Team, role spybois.Role) []spybois.Op {
	leaderField, agentField := spybois.FieldTeam1LeaderID, spybois.FieldTeam1AgentIDs
	if team == spybois.Team2 {
		leaderField, agentField = spybois.FieldTeam2LeaderID, spybois.FieldTeam2AgentIDs
	}

	switch role {
	case spybois.Leader:
		if l := roster.Leader(team); l != nil && *l != id {
			// Leader slot is taken.
			return nil
		}
		return []spybois.Op{spybois.Set(leaderField, id)}
	case spybois.Agent:
		return []spybois.Op{spybois.Union(agentField, id)}
	}
	return nil
}

func unjoinOps(roster spybois.Teams, id spybois.PlayerID) []spybois.Op {
	var ops []spybois.Op
	if l := roster.Team1LeaderID; l != nil && *l == id {
		ops = append(ops, spybois.Delete(spybois.FieldTeam1LeaderID))
	}
	if roster.RoleOn(id, spybois.Team1) == spybois.Agent {
		ops = append(ops, spybois.Remove(spybois.FieldTeam1AgentIDs, id))
	}
	if l := roster.Team2LeaderID; l != nil && *l == id {
		ops = append(ops, spybois.Delete(spybois.FieldTeam2LeaderID))
	}
	if roster.RoleOn(id, spybois.Team2) == spybois.Agent {
		ops = append(ops, spybois.Remove(spybois.FieldTeam2AgentIDs, id))
	}
	return ops
}

// Start moves a ready session from Init to Ready. The deal itself happens
// in DealIfReady, either synchronously right after this or asynchronously
// from a subscription reaction; both produce the same InProgress state.
func (c *Coordinator) Start(snap *spybois.Snapshot, p spybois.Player) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InitData)
		if !ok {
			return nil, fmt.Errorf("game %q is not waiting to start: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		if !gd.Roster().Ready() {
			return nil, fmt.Errorf("game %q teams are not ready: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		if !gd.Roster().OnTeam(p.ID) {
			return nil, fmt.Errorf("player %q is not on a team: %w", p.ID, spybois.ErrPreconditionNotMet)
		}
		return []spybois.Op{spybois.Set(spybois.FieldGameState, spybois.Ready)}, nil
	})
}

// DealIfReady reacts to a session in the Ready pulse by dealing the board
// and entering InProgress. Any other state is left alone, so it is safe to
// invoke from a subscription on every change.
func (c *Coordinator) DealIfReady(snap *spybois.Snapshot) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		if _, ok := snap.Data.(*spybois.ReadyData); !ok {
			return nil, nil
		}

		c.mu.Lock()
		cards := boardgen.New(c.Board, c.r)
		c.mu.Unlock()

		return []spybois.Op{
			spybois.Set(spybois.FieldGameState, spybois.InProgress),
			spybois.Set(spybois.FieldCards, cards),
			spybois.Set(spybois.FieldCurrentTeam, c.Board.StartingTeam()),
			spybois.Set(spybois.FieldPreviousHints, []spybois.PreviousHint{}),
			spybois.Set(spybois.FieldFlippedCards, []spybois.FlippedCard{}),
		}, nil
	})
}

// SubmitHint publishes the current team leader's hint and unlocks flipping.
// The remaining-guess tally starts equal to the declared count.
func (c *Coordinator) SubmitHint(snap *spybois.Snapshot, p spybois.Player, word string, count spybois.HintNumber) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InProgressData)
		if !ok {
			return nil, fmt.Errorf("game %q is not in progress: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		if gd.CurrentHint != nil {
			return nil, fmt.Errorf("turn already has a hint: %w", spybois.ErrPreconditionNotMet)
		}
		if gd.Roster().RoleOn(p.ID, gd.CurrentTeam) != spybois.Leader {
			return nil, fmt.Errorf("player %q does not lead %q: %w", p.ID, gd.CurrentTeam, spybois.ErrPreconditionNotMet)
		}
		word = strings.TrimSpace(word)
		if word == "" || len(strings.Fields(word)) != 1 {
			return nil, fmt.Errorf("hint must be a single word: %w", spybois.ErrPreconditionNotMet)
		}
		if !validDeclaredCount(count) {
			return nil, fmt.Errorf("hint number %v is not declarable: %w", count, spybois.ErrPreconditionNotMet)
		}

		return []spybois.Op{spybois.Set(spybois.FieldCurrentHint, spybois.HintData{
			Hint:             word,
			HintNumber:       count,
			RemainingGuesses: count,
			Team:             gd.CurrentTeam,
			Submitted:        true,
		})}, nil
	})
}

func validDeclaredCount(n spybois.HintNumber) bool {
	return n.Unlimited() || (n >= 1 && n <= 9)
}

// FlipCard resolves a guess. Correct flips spend a guess (sentinel counts
// never run out); a wrong flip or spending the bonus guess ends the turn.
// Every flip is win-checked, assassin rule first.
func (c *Coordinator) FlipCard(snap *spybois.Snapshot, p spybois.Player, cardID spybois.CardID) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InProgressData)
		if !ok {
			return nil, fmt.Errorf("game %q is not in progress: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		hint := gd.CurrentHint
		if hint == nil || !hint.Submitted {
			return nil, fmt.Errorf("no submitted hint this turn: %w", spybois.ErrPreconditionNotMet)
		}
		if gd.Roster().IsLeader(p.ID) {
			return nil, fmt.Errorf("leaders cannot flip cards: %w", spybois.ErrPreconditionNotMet)
		}
		card, found := gd.CardByID(cardID)
		if !found {
			return nil, fmt.Errorf("no card %q in game %q: %w", cardID, snap.ID, spybois.ErrPreconditionNotMet)
		}
		if card.Flipped {
			return nil, fmt.Errorf("card %q: %w", cardID, spybois.ErrCardFlipped)
		}

		correct := card.Team == spybois.CardTeam(gd.CurrentTeam)

		nuCards := make([]spybois.Card, len(gd.Cards))
		copy(nuCards, gd.Cards)
		for i := range nuCards {
			if nuCards[i].ID == cardID {
				nuCards[i].Flipped = true
				card = nuCards[i]
			}
		}
		flipped := spybois.FlippedCard{Card: card, TeamThatFlipped: gd.CurrentTeam}

		nuHint := *hint
		turnOver := !correct
		if correct {
			next, exhausted := hint.RemainingGuesses.Dec()
			if exhausted {
				turnOver = true
			} else {
				nuHint.RemainingGuesses = next
			}
		}

		nuPrevious := gd.PreviousHints
		if turnOver {
			nuPrevious = append(append([]spybois.PreviousHint(nil), gd.PreviousHints...), hint.Previous())
		}

		if winner, over := winnerAfter(nuCards, gd.CurrentTeam); over {
			return []spybois.Op{
				spybois.Set(spybois.FieldGameState, spybois.GameOver),
				spybois.Set(spybois.FieldWinner, winner),
				spybois.Set(spybois.FieldCards, nuCards),
				spybois.Set(spybois.FieldPreviousHints, nuPrevious),
				spybois.Union(spybois.FieldFlippedCards, flipped),
				spybois.Delete(spybois.FieldCurrentHint),
				spybois.Delete(spybois.FieldTimerStartTime),
			}, nil
		}

		ops := []spybois.Op{
			spybois.Set(spybois.FieldCards, nuCards),
			spybois.Set(spybois.FieldPreviousHints, nuPrevious),
			spybois.Union(spybois.FieldFlippedCards, flipped),
		}
		if turnOver {
			ops = append(ops,
				spybois.Delete(spybois.FieldCurrentHint),
				spybois.Set(spybois.FieldCurrentTeam, gd.CurrentTeam.Other()),
				spybois.Delete(spybois.FieldTimerStartTime),
			)
		} else {
			ops = append(ops, spybois.Set(spybois.FieldCurrentHint, nuHint))
		}
		return ops, nil
	})
}

// winnerAfter applies the win rules to a board. The assassin rule takes
// precedence over a team sweep landing on the same flip.
func winnerAfter(cards []spybois.Card, actingTeam spybois.Team) (spybois.Team, bool) {
	team1Swept, team2Swept := true, true
	for _, c := range cards {
		switch {
		case c.Team == spybois.Assassin && c.Flipped:
			return actingTeam.Other(), true
		case c.Team == spybois.CardTeam1 && !c.Flipped:
			team1Swept = false
		case c.Team == spybois.CardTeam2 && !c.Flipped:
			team2Swept = false
		}
	}
	if team1Swept {
		return spybois.Team1, true
	}
	if team2Swept {
		return spybois.Team2, true
	}
	return spybois.NoTeam, false
}

// PassTurn ends the current team's turn: the active hint (if any) is
// archived and the other team takes over. The pass targets the turn the
// snapshot was taken in; if that turn has already advanced, for instance
// because another client's timeout pass won the race, this is a no-op.
func (c *Coordinator) PassTurn(snap *spybois.Snapshot) (*spybois.Snapshot, error) {
	passing, ok := snap.Data.(*spybois.InProgressData)
	if !ok {
		return snap, nil
	}
	passingTeam := passing.CurrentTeam

	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InProgressData)
		if !ok || gd.CurrentTeam != passingTeam {
			return nil, nil
		}

		nuPrevious := gd.PreviousHints
		if gd.CurrentHint != nil {
			nuPrevious = append(append([]spybois.PreviousHint(nil), gd.PreviousHints...), gd.CurrentHint.Previous())
		}
		return []spybois.Op{
			spybois.Set(spybois.FieldPreviousHints, nuPrevious),
			spybois.Delete(spybois.FieldCurrentHint),
			spybois.Delete(spybois.FieldTimerStartTime),
			spybois.Set(spybois.FieldCurrentTeam, passingTeam.Other()),
		}, nil
	})
}

// StartTimer arms the turn countdown. A timer that is already running is
// left at its first-set start time.
func (c *Coordinator) StartTimer(snap *spybois.Snapshot, nowMillis int64) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		gd, ok := snap.Data.(*spybois.InProgressData)
		if !ok {
			return nil, fmt.Errorf("game %q is not in progress: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		if gd.TimerStartTime != nil {
			return nil, nil
		}
		return []spybois.Op{spybois.Set(spybois.FieldTimerStartTime, nowMillis)}, nil
	})
}

// Reset starts a rematch: back to Init with the roster and nicknames kept
// and every game field cleared.
func (c *Coordinator) Reset(snap *spybois.Snapshot) (*spybois.Snapshot, error) {
	return c.mutate(snap, func(snap *spybois.Snapshot) ([]spybois.Op, error) {
		if _, ok := snap.Data.(*spybois.GameOverData); !ok {
			return nil, fmt.Errorf("game %q is not over: %w", snap.ID, spybois.ErrPreconditionNotMet)
		}
		return []spybois.Op{
			spybois.Set(spybois.FieldGameState, spybois.Init),
			spybois.Delete(spybois.FieldCards),
			spybois.Delete(spybois.FieldCurrentTeam),
			spybois.Delete(spybois.FieldCurrentHint),
			spybois.Delete(spybois.FieldPreviousHints),
			spybois.Delete(spybois.FieldFlippedCards),
			spybois.Delete(spybois.FieldTimerStartTime),
			spybois.Delete(spybois.FieldWinner),
		}, nil
	})
}
