package spybois

import (
	"fmt"
)

// Field names a patchable field of the session document. The values are the
// JSON keys of the persisted form.
type Field string

const (
	FieldGameState      = Field("gameState")
	FieldPlayerIDs      = Field("playerIds")
	FieldNickMap        = Field("nickMap")
	FieldTeam1LeaderID  = Field("team1LeaderId")
	FieldTeam1AgentIDs  = Field("team1AgentIds")
	FieldTeam2LeaderID  = Field("team2LeaderId")
	FieldTeam2AgentIDs  = Field("team2AgentIds")
	FieldCards          = Field("cards")
	FieldCurrentTeam    = Field("currentTeam")
	FieldCurrentHint    = Field("currentHint")
	FieldPreviousHints  = Field("previousHints")
	FieldFlippedCards   = Field("flippedCards")
	FieldTimerStartTime = Field("timerStartTime")
	FieldWinner         = Field("winner")
)

// OpKind is the mutation primitive applied to a field. These are the only
// primitives the store guarantees to apply atomically.
type OpKind int

const (
	// OpSet overwrites the field (scalar or full-array replace).
	OpSet OpKind = iota
	// OpDelete removes the field entirely.
	OpDelete
	// OpUnion adds one element to an array field if not already present.
	OpUnion
	// OpRemove removes one element from an array field if present.
	OpRemove
)

// Op is a single field mutation.
type Op struct {
	Field Field
	Kind  OpKind
	Value interface{}
}

func Set(f Field, v interface{}) Op    { return Op{Field: f, Kind: OpSet, Value: v} }
func Delete(f Field) Op                { return Op{Field: f, Kind: OpDelete} }
func Union(f Field, v interface{}) Op  { return Op{Field: f, Kind: OpUnion, Value: v} }
func Remove(f Field, v interface{}) Op { return Op{Field: f, Kind: OpRemove, Value: v} }

// Patch is a set of field mutations computed against a snapshot of the
// document at BaseVersion. Stores reject a patch whose BaseVersion no
// longer matches with ErrStaleSnapshot; callers re-read and decide whether
// their action still applies.
type Patch struct {
	BaseVersion int64
	Ops         []Op
}

// Doc is the raw persisted session document. Code outside the storage layer
// should decode it with Data() and work with the GameData union instead of
// reading optional fields off the Doc.
type Doc struct {
	GameState GameState           `json:"gameState"`
	PlayerIDs []PlayerID          `json:"playerIds"`
	NickMap   map[PlayerID]string `json:"nickMap"`
	Teams

	Cards          []Card         `json:"cards,omitempty"`
	CurrentTeam    Team           `json:"currentTeam,omitempty"`
	CurrentHint    *HintData      `json:"currentHint,omitempty"`
	PreviousHints  []PreviousHint `json:"previousHints,omitempty"`
	FlippedCards   []FlippedCard  `json:"flippedCards,omitempty"`
	TimerStartTime *int64         `json:"timerStartTime,omitempty"`
	Winner         Team           `json:"winner,omitempty"`

	Version int64 `json:"version"`
}

// Snapshot is a decoded view of one session at a point in time. Patches
// computed from it carry its Version.
type Snapshot struct {
	ID      GameID
	Version int64
	Data    GameData
}

// Clone deep-copies the document.
func (d *Doc) Clone() *Doc {
	c := *d
	c.PlayerIDs = append([]PlayerID(nil), d.PlayerIDs...)
	if d.NickMap != nil {
		c.NickMap = make(map[PlayerID]string, len(d.NickMap))
		for k, v := range d.NickMap {
			c.NickMap[k] = v
		}
	}
	c.Team1LeaderID = clonePtr(d.Team1LeaderID)
	c.Team2LeaderID = clonePtr(d.Team2LeaderID)
	c.Team1AgentIDs = append([]PlayerID(nil), d.Team1AgentIDs...)
	c.Team2AgentIDs = append([]PlayerID(nil), d.Team2AgentIDs...)
	c.Cards = append([]Card(nil), d.Cards...)
	c.PreviousHints = append([]PreviousHint(nil), d.PreviousHints...)
	c.FlippedCards = append([]FlippedCard(nil), d.FlippedCards...)
	c.TimerStartTime = clonePtr(d.TimerStartTime)
	if d.CurrentHint != nil {
		h := *d.CurrentHint
		c.CurrentHint = &h
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Apply mutates the document with the given ops. It does not touch the
// version; the store owns versioning.
func (d *Doc) Apply(ops []Op) error {
	for _, op := range ops {
		if err := d.apply(op); err != nil {
			return fmt.Errorf("applying %q to %q: %w", kindName(op.Kind), op.Field, err)
		}
	}
	return nil
}

func kindName(k OpKind) string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpUnion:
		return "union"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

func (d *Doc) apply(op Op) error {
	switch op.Field {
	case FieldGameState:
		if op.Kind != OpSet {
			return errBadKind(op)
		}
		v, ok := op.Value.(GameState)
		if !ok {
			return errBadValue(op)
		}
		d.GameState = v
	case FieldPlayerIDs:
		return applyIDList(&d.PlayerIDs, op)
	case FieldNickMap:
		if op.Kind != OpSet {
			return errBadKind(op)
		}
		v, ok := op.Value.(map[PlayerID]string)
		if !ok {
			return errBadValue(op)
		}
		d.NickMap = v
	case FieldTeam1LeaderID:
		return applyLeader(&d.Team1LeaderID, op)
	case FieldTeam2LeaderID:
		return applyLeader(&d.Team2LeaderID, op)
	case FieldTeam1AgentIDs:
		return applyIDList(&d.Team1AgentIDs, op)
	case FieldTeam2AgentIDs:
		return applyIDList(&d.Team2AgentIDs, op)
	case FieldCards:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.([]Card)
			if !ok {
				return errBadValue(op)
			}
			d.Cards = v
		case OpDelete:
			d.Cards = nil
		default:
			return errBadKind(op)
		}
	case FieldCurrentTeam:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.(Team)
			if !ok {
				return errBadValue(op)
			}
			d.CurrentTeam = v
		case OpDelete:
			d.CurrentTeam = NoTeam
		default:
			return errBadKind(op)
		}
	case FieldCurrentHint:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.(HintData)
			if !ok {
				return errBadValue(op)
			}
			d.CurrentHint = &v
		case OpDelete:
			d.CurrentHint = nil
		default:
			return errBadKind(op)
		}
	case FieldPreviousHints:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.([]PreviousHint)
			if !ok {
				return errBadValue(op)
			}
			d.PreviousHints = v
		case OpDelete:
			d.PreviousHints = nil
		default:
			return errBadKind(op)
		}
	case FieldFlippedCards:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.([]FlippedCard)
			if !ok {
				return errBadValue(op)
			}
			d.FlippedCards = v
		case OpUnion:
			v, ok := op.Value.(FlippedCard)
			if !ok {
				return errBadValue(op)
			}
			for _, fc := range d.FlippedCards {
				if fc.ID == v.ID {
					return nil
				}
			}
			d.FlippedCards = append(d.FlippedCards, v)
		case OpDelete:
			d.FlippedCards = nil
		default:
			return errBadKind(op)
		}
	case FieldTimerStartTime:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.(int64)
			if !ok {
				return errBadValue(op)
			}
			d.TimerStartTime = &v
		case OpDelete:
			d.TimerStartTime = nil
		default:
			return errBadKind(op)
		}
	case FieldWinner:
		switch op.Kind {
		case OpSet:
			v, ok := op.Value.(Team)
			if !ok {
				return errBadValue(op)
			}
			d.Winner = v
		case OpDelete:
			d.Winner = NoTeam
		default:
			return errBadKind(op)
		}
	default:
		return fmt.Errorf("unknown field %q", op.Field)
	}
	return nil
}

func applyLeader(slot **PlayerID, op Op) error {
	switch op.Kind {
	case OpSet:
		v, ok := op.Value.(PlayerID)
		if !ok {
			return errBadValue(op)
		}
		*slot = &v
	case OpDelete:
		*slot = nil
	default:
		return errBadKind(op)
	}
	return nil
}

func applyIDList(list *[]PlayerID, op Op) error {
	switch op.Kind {
	case OpSet:
		v, ok := op.Value.([]PlayerID)
		if !ok {
			return errBadValue(op)
		}
		*list = v
	case OpUnion:
		v, ok := op.Value.(PlayerID)
		if !ok {
			return errBadValue(op)
		}
		for _, id := range *list {
			if id == v {
				return nil
			}
		}
		*list = append(*list, v)
	case OpRemove:
		v, ok := op.Value.(PlayerID)
		if !ok {
			return errBadValue(op)
		}
		for i, id := range *list {
			if id == v {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return nil
			}
		}
	default:
		return errBadKind(op)
	}
	return nil
}

func errBadKind(op Op) error {
	return fmt.Errorf("op kind not supported for field")
}

func errBadValue(op Op) error {
	return fmt.Errorf("unexpected value type %T", op.Value)
}

// Data decodes the raw document into the GameData union, validating that
// the fields required by the tagged state are present.
func (d *Doc) Data() (GameData, error) {
	lobby := Lobby{
		PlayerIDs: d.PlayerIDs,
		NickMap:   d.NickMap,
		Teams:     d.Teams,
	}
	if len(d.PlayerIDs) == 0 {
		return nil, fmt.Errorf("document has no players")
	}

	switch d.GameState {
	case Init:
		return &InitData{Lobby: lobby}, nil
	case Ready:
		if !d.Teams.Ready() {
			return nil, fmt.Errorf("ready document with unready teams")
		}
		return &ReadyData{Lobby: lobby}, nil
	case InProgress:
		if len(d.Cards) == 0 {
			return nil, fmt.Errorf("in-progress document has no cards")
		}
		if d.CurrentTeam != Team1 && d.CurrentTeam != Team2 {
			return nil, fmt.Errorf("in-progress document has bad current team %q", d.CurrentTeam)
		}
		return &InProgressData{
			Lobby:          lobby,
			Cards:          d.Cards,
			CurrentTeam:    d.CurrentTeam,
			CurrentHint:    d.CurrentHint,
			PreviousHints:  d.PreviousHints,
			FlippedCards:   d.FlippedCards,
			TimerStartTime: d.TimerStartTime,
		}, nil
	case GameOver:
		if d.Winner != Team1 && d.Winner != Team2 {
			return nil, fmt.Errorf("game-over document has bad winner %q", d.Winner)
		}
		return &GameOverData{
			Lobby:         lobby,
			Cards:         d.Cards,
			CurrentTeam:   d.CurrentTeam,
			Winner:        d.Winner,
			PreviousHints: d.PreviousHints,
			FlippedCards:  d.FlippedCards,
		}, nil
	default:
		return nil, fmt.Errorf("unknown game state %q", d.GameState)
	}
}

// Encode builds the raw document for a GameData value. It is mostly useful
// for creating fresh sessions and for tests; live mutation goes through
// patches.
func Encode(gd GameData) *Doc {
	d := &Doc{GameState: gd.State()}
	switch v := gd.(type) {
	case *InitData:
		fillLobby(d, v.Lobby)
	case *ReadyData:
		fillLobby(d, v.Lobby)
	case *InProgressData:
		fillLobby(d, v.Lobby)
		d.Cards = v.Cards
		d.CurrentTeam = v.CurrentTeam
		d.CurrentHint = v.CurrentHint
		d.PreviousHints = v.PreviousHints
		d.FlippedCards = v.FlippedCards
		d.TimerStartTime = v.TimerStartTime
	case *GameOverData:
		fillLobby(d, v.Lobby)
		d.Cards = v.Cards
		d.CurrentTeam = v.CurrentTeam
		d.Winner = v.Winner
		d.PreviousHints = v.PreviousHints
		d.FlippedCards = v.FlippedCards
	}
	return d
}

func fillLobby(d *Doc, l Lobby) {
	d.PlayerIDs = l.PlayerIDs
	d.NickMap = l.NickMap
	d.Teams = l.Teams
}
