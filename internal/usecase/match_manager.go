package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
	"github.com/rocketscienceinc/ipd-backend/internal/entity"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
)

type historyStore interface {
	ReadHeader(matchID string) (*history.Header, error)
	OpenAppender(matchID string) (history.Appender, error)
}

// matchSession pairs a match with its history log. mu guards both, so a round close is atomic
// with respect to moves arriving from connection handlers.
type matchSession struct {
	mu    sync.Mutex
	match *entity.Match
	log   history.Appender

	// unsynced holds the moves of a round line that may already be in the log
	unsynced *[entity.MaxParticipants]entity.Move
}

// MatchManager owns the in-memory state of every active match.
type MatchManager struct {
	logger     *slog.Logger
	history    historyStore
	roundLimit int

	mu      sync.RWMutex
	matches map[string]*matchSession
}

func NewMatchManager(logger *slog.Logger, history historyStore, roundLimit int) *MatchManager {
	return &MatchManager{
		logger:     logger.With("component", "match_manager"),
		history:    history,
		roundLimit: roundLimit,
		matches:    make(map[string]*matchSession),
	}
}

// Join folds an admitted participant into its match, creating the match on first sight.
func (that *MatchManager) Join(_ context.Context, matchID, participantID string) error {
	log := that.logger.With("method", "Join", "matchID", matchID, "participantID", participantID)

	session, err := that.getOrCreate(matchID)
	if err != nil {
		return fmt.Errorf("failed to load match: %w", err)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.match.IsCompleted() {
		return fmt.Errorf("%w: %s", apperror.ErrMatchCompleted, matchID)
	}

	if err = session.match.AddParticipant(participantID); err != nil {
		log.Warn("failed to join match", "error", err)
		return err
	}

	log.Info("participant joined match", "stage", session.match.Stage, "participants", session.match.Participants)

	return nil
}

// SubmitMove stores the participant's move for the current round. Illegal tokens are dropped silently.
func (that *MatchManager) SubmitMove(matchID, participantID, raw string) error {
	log := that.logger.With("method", "SubmitMove", "matchID", matchID, "participantID", participantID)

	session, ok := that.get(matchID)
	if !ok {
		return fmt.Errorf("%w: %s", apperror.ErrMatchNotFound, matchID)
	}

	move, ok := entity.ParseMove(raw)
	if !ok {
		log.Debug("ignored illegal move", "content", raw)
		return nil
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.match.SetMove(participantID, move) {
		log.Debug("ignored move outside of an open round", "stage", session.match.Stage)
		return nil
	}

	log.Debug("move received", "move", move, "round", session.match.Round)

	return nil
}

// Match returns a copy of the current state of a match.
func (that *MatchManager) Match(matchID string) (entity.Match, bool) {
	session, ok := that.get(matchID)
	if !ok {
		return entity.Match{}, false
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	return copyMatch(session.match), true
}

// Matches returns copies of every tracked match.
func (that *MatchManager) Matches() []entity.Match {
	sessions := that.sessions()

	matches := make([]entity.Match, 0, len(sessions))
	for _, session := range sessions {
		session.mu.Lock()
		matches = append(matches, copyMatch(session.match))
		session.mu.Unlock()
	}

	return matches
}

func (that *MatchManager) RoundLimit() int {
	return that.roundLimit
}

func (that *MatchManager) get(matchID string) (*matchSession, bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.matches[matchID]

	return session, ok
}

func (that *MatchManager) getOrCreate(matchID string) (*matchSession, error) {
	if session, ok := that.get(matchID); ok {
		return session, nil
	}

	header, err := that.history.ReadHeader(matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history header: %w", err)
	}

	if header.Completed {
		return nil, fmt.Errorf("%w: %s", apperror.ErrMatchCompleted, matchID)
	}

	match, err := resumeMatch(matchID, header)
	if err != nil {
		return nil, err
	}

	appender, err := that.history.OpenAppender(matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	// another connection created it while the header was read
	if session, ok := that.matches[matchID]; ok {
		_ = appender.Close()
		return session, nil
	}

	session := &matchSession{
		match: match,
		log:   appender,
	}
	that.matches[matchID] = session

	that.logger.Info("match created", "matchID", matchID, "stage", match.Stage, "round", match.Round)

	return session, nil
}

func (that *MatchManager) sessions() []*matchSession {
	that.mu.RLock()
	defer that.mu.RUnlock()

	sessions := make([]*matchSession, 0, len(that.matches))
	for _, session := range that.matches {
		sessions = append(sessions, session)
	}

	return sessions
}

func (that *MatchManager) remove(matchID string) {
	that.mu.Lock()
	session, ok := that.matches[matchID]
	delete(that.matches, matchID)
	that.mu.Unlock()

	if !ok {
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := session.log.Close(); err != nil {
		that.logger.Error("failed to close history", "matchID", matchID, "error", err)
	}
}

// resumeMatch rebuilds a match from what its history log already records.
func resumeMatch(matchID string, header *history.Header) (*entity.Match, error) {
	match := entity.NewMatch(matchID)

	if header.Pair == nil {
		return match, nil
	}

	if len(header.Pair) != entity.MaxParticipants {
		return nil, fmt.Errorf("%w: malformed participant line in %s", apperror.ErrInvalidHistory, matchID)
	}

	match.Participants = slices.Clone(header.Pair)
	match.PairRecorded = true
	match.Round = header.Rounds

	if err := match.Start(); err != nil {
		return nil, fmt.Errorf("failed to resume match: %w", err)
	}

	return match, nil
}

func copyMatch(match *entity.Match) entity.Match {
	clone := *match
	clone.Participants = slices.Clone(match.Participants)

	return clone
}
