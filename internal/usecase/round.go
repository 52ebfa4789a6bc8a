package usecase

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/rocketscienceinc/ipd-backend/internal/entity"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
)

// roundResult is what a round close hands back for delivery, taken after the lock is released.
type roundResult struct {
	matchID      string
	participants []string
	round        int
	moves        [entity.MaxParticipants]entity.Move
	recorded     bool
	completed    bool
}

// closeRound finalizes the current round of one match: promote, persist, advance, complete.
// Nothing advances unless the matching append succeeded.
func (that *MatchManager) closeRound(session *matchSession) roundResult {
	session.mu.Lock()
	defer session.mu.Unlock()

	match := session.match
	result := roundResult{matchID: match.ID}

	log := that.logger.With("method", "closeRound", "matchID", match.ID)

	if match.Ready() {
		if !match.PairRecorded {
			if err := session.log.AppendParticipants(match.Participants); err != nil {
				log.Error("failed to record participants", "error", err)
				return result
			}

			match.PairRecorded = true
		}

		if err := match.Start(); err != nil {
			log.Error("failed to start match", "error", err)
			return result
		}

		log.Info("match started", "participants", match.Participants)
	}

	if !match.IsInProgress() {
		return result
	}

	if !match.RoundsExhausted(that.roundLimit) {
		// a round line that may be on disk is retried as is, later moves do not change it
		moves := match.Snapshot()
		if session.unsynced != nil {
			moves = *session.unsynced
		}

		if err := session.log.AppendRound(moves); err != nil {
			if errors.Is(err, history.ErrUnsynced) {
				session.unsynced = &moves
			}

			log.Error("failed to record round", "round", match.Round, "error", err)
			return result
		}

		session.unsynced = nil

		result.round = match.Round
		result.moves = moves
		result.recorded = true
		result.participants = slices.Clone(match.Participants)

		match.NextRound()

		log.Debug("round recorded", "round", result.round, "moves", moves)
	}

	if match.RoundsExhausted(that.roundLimit) {
		if err := session.log.AppendCompleted(); err != nil {
			log.Error("failed to record completion", "error", err)
			return result
		}

		if err := match.Complete(); err != nil {
			log.Error("failed to complete match", "error", err)
			return result
		}

		result.completed = true

		log.Info("match completed", "rounds", match.Round)
	}

	return result
}

// deliveries pairs every participant with the opponent's resolved move.
func (that roundResult) deliveries() map[string]entity.Move {
	if !that.recorded || len(that.participants) != entity.MaxParticipants {
		return nil
	}

	return map[string]entity.Move{
		that.participants[0]: that.moves[1],
		that.participants[1]: that.moves[0],
	}
}

func (that roundResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("matchID", that.matchID),
		slog.Int("round", that.round),
		slog.Bool("recorded", that.recorded),
		slog.Bool("completed", that.completed),
	)
}
