package spybois

import (
	"encoding/json"
	"fmt"
)

// HintNumber is the bounded count domain used for both a hint's declared
// count and the remaining-guess tally. Declared counts live in
// {Zero, 1..9, Infinity}. A remaining-guess tally additionally passes
// through the plain numeral 0 on its way down; the numeral 0 is distinct
// from the Zero sentinel, which (like Infinity) means "no guess limit".
type HintNumber int

const (
	Zero     = HintNumber(-1)
	Infinity = HintNumber(-2)

	maxHintNumber = 9
)

// Direction is which way a hint count is being adjusted.
type Direction string

const (
	Up   = Direction("up")
	Down = Direction("down")
)

// Unlimited reports whether the value means "guess as many as you dare".
func (n HintNumber) Unlimited() bool {
	return n == Zero || n == Infinity
}

// Bump moves the declared count one step within {Zero, 1..9, Infinity}.
// Decrementing Zero and incrementing Infinity are no-ops; stepping down off
// Infinity lands on 9, stepping up off Zero lands on 1.
func (n HintNumber) Bump(d Direction) HintNumber {
	switch {
	case n == Zero && d == Down:
		return Zero
	case n == Infinity && d == Up:
		return Infinity
	case n == Infinity && d == Down:
		return maxHintNumber
	case n == Zero && d == Up:
		return 1
	}

	next := n - 1
	if d == Up {
		next = n + 1
	}
	if next <= 0 {
		return Zero
	}
	if next > maxHintNumber {
		return Infinity
	}
	return next
}

// Dec spends one guess from a remaining-guess tally. Unlimited tallies never
// decrement. The second return is true when the tally was already empty,
// i.e. this guess was the bonus one and the turn is over. The returned value
// is only meaningful when exhausted is false.
func (n HintNumber) Dec() (next HintNumber, exhausted bool) {
	if n.Unlimited() {
		return n, false
	}
	if n-1 < 0 {
		return n, true
	}
	return n - 1, false
}

func (n HintNumber) String() string {
	switch n {
	case Zero:
		return "zero"
	case Infinity:
		return "infinity"
	default:
		return fmt.Sprintf("%d", int(n))
	}
}

// MarshalJSON writes the sentinels as the strings "zero" and "infinity" and
// everything else as a number, matching the persisted document format.
func (n HintNumber) MarshalJSON() ([]byte, error) {
	switch n {
	case Zero, Infinity:
		return json.Marshal(n.String())
	default:
		return json.Marshal(int(n))
	}
}

func (n *HintNumber) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "zero":
			*n = Zero
		case "infinity":
			*n = Infinity
		default:
			return fmt.Errorf("unknown hint number %q", s)
		}
		return nil
	}

	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return fmt.Errorf("hint number must be a number or sentinel string: %w", err)
	}
	if i < 0 || i > maxHintNumber {
		return fmt.Errorf("hint number %d out of range", i)
	}
	*n = HintNumber(i)
	return nil
}
