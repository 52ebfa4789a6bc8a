package entity

import "strings"

// Move is a participant's resolved choice for one round.
type Move string

const (
	MoveCollaborate Move = "C"
	MoveBetray      Move = "B"

	// MoveForfeit is never accepted from a client, it is only the outcome of a missing or illegal move.
	MoveForfeit Move = "Forfeit"
)

// ParseMove accepts exactly the two legal move tokens.
func ParseMove(raw string) (Move, bool) {
	switch move := Move(strings.TrimSpace(raw)); move {
	case MoveCollaborate, MoveBetray:
		return move, true
	default:
		return "", false
	}
}

func (that Move) String() string {
	return string(that)
}

// PendingMove is the per-round slot of a participant. The zero value is an empty slot.
type PendingMove struct {
	Move Move
	Set  bool
}

func (that PendingMove) Resolve() Move {
	if !that.Set {
		return MoveForfeit
	}

	return that.Move
}
