package entity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
)

// Stage is the coarse lifecycle state of a match. Stages only move forward.
type Stage int

const (
	StageWaitingForPlayers Stage = iota
	StageInProgress
	StageCompleted
)

const MaxParticipants = 2

var ErrInvalidTransition = errors.New("invalid stage transition")

func (that Stage) String() string {
	switch that {
	case StageWaitingForPlayers:
		return "waiting_for_players"
	case StageInProgress:
		return "in_progress"
	case StageCompleted:
		return "completed"
	default:
		return fmt.Sprintf("stage(%d)", int(that))
	}
}

func (that Stage) MarshalText() ([]byte, error) {
	return []byte(that.String()), nil
}

func (that *Stage) UnmarshalText(text []byte) error {
	for _, stage := range []Stage{StageWaitingForPlayers, StageInProgress, StageCompleted} {
		if stage.String() == string(text) {
			*that = stage
			return nil
		}
	}

	return fmt.Errorf("unknown stage %q", text)
}

type Match struct {
	ID           string
	Participants []string
	Stage        Stage
	Round        int
	Pending      [MaxParticipants]PendingMove

	// PairRecorded is set once the participant pair line is durable in the history log.
	PairRecorded bool
}

func NewMatch(id string) *Match {
	return &Match{
		ID:    id,
		Stage: StageWaitingForPlayers,
	}
}

func (that *Match) IsWaiting() bool {
	return that.Stage == StageWaitingForPlayers
}

func (that *Match) IsInProgress() bool {
	return that.Stage == StageInProgress
}

func (that *Match) IsCompleted() bool {
	return that.Stage == StageCompleted
}

// AddParticipant appends a participant while the match is waiting for players.
// Known participants are accepted at any stage; a third distinct one never is.
func (that *Match) AddParticipant(participantID string) error {
	if slices.Contains(that.Participants, participantID) {
		return nil
	}

	if len(that.Participants) >= MaxParticipants || !that.IsWaiting() {
		return fmt.Errorf("%w: match %s", apperror.ErrMatchFull, that.ID)
	}

	that.Participants = append(that.Participants, participantID)

	return nil
}

// Slot returns the index of the participant in the participant order.
func (that *Match) Slot(participantID string) (int, bool) {
	idx := slices.Index(that.Participants, participantID)
	return idx, idx >= 0
}

// SetMove stores a move in the participant's pending slot, replacing an earlier one from the same round.
func (that *Match) SetMove(participantID string, move Move) bool {
	if that.IsCompleted() {
		return false
	}

	idx, ok := that.Slot(participantID)
	if !ok {
		return false
	}

	that.Pending[idx] = PendingMove{Move: move, Set: true}

	return true
}

// Ready reports whether a waiting match can be promoted at the next round boundary.
func (that *Match) Ready() bool {
	if !that.IsWaiting() || len(that.Participants) != MaxParticipants {
		return false
	}

	for _, pending := range that.Pending {
		if !pending.Set {
			return false
		}
	}

	return true
}

func (that *Match) Start() error {
	return that.advanceTo(StageInProgress)
}

func (that *Match) Complete() error {
	return that.advanceTo(StageCompleted)
}

// Snapshot resolves both pending slots in participant order.
func (that *Match) Snapshot() [MaxParticipants]Move {
	var moves [MaxParticipants]Move
	for i, pending := range that.Pending {
		moves[i] = pending.Resolve()
	}

	return moves
}

// NextRound clears the pending slots and moves to the next round index.
func (that *Match) NextRound() {
	that.Pending = [MaxParticipants]PendingMove{}
	that.Round++
}

// RoundsExhausted reports whether every round up to the limit has been recorded.
func (that *Match) RoundsExhausted(limit int) bool {
	return that.Round >= limit
}

func (that *Match) advanceTo(stage Stage) error {
	if stage <= that.Stage {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, that.Stage, stage)
	}

	that.Stage = stage

	return nil
}
