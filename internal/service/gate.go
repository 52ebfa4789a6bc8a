package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
)

const (
	maxIdentifierLength = 36
	bearerPrefix        = "Bearer "
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type historyReader interface {
	ReadHeader(matchID string) (*history.Header, error)
}

type credentialRepo interface {
	Verify(ctx context.Context, participantID, token string) (bool, error)
}

// Gate decides whether a connection request may be upgraded. It never changes state.
type Gate struct {
	logger      *slog.Logger
	history     historyReader
	credentials credentialRepo
}

func NewGate(logger *slog.Logger, history historyReader, credentials credentialRepo) *Gate {
	return &Gate{
		logger:      logger.With("component", "gate"),
		history:     history,
		credentials: credentials,
	}
}

// Admit runs the admission checks in order and stops at the first failure.
func (that *Gate) Admit(ctx context.Context, matchID, participantID, authorization string) error {
	log := that.logger.With("method", "Admit", "matchID", matchID, "participantID", participantID)

	if err := errors.Join(ValidateIdentifier(matchID), ValidateIdentifier(participantID)); err != nil {
		log.Warn("rejected malformed request", "error", err)
		return fmt.Errorf("%w: %w", apperror.ErrMalformedRequest, err)
	}

	header, err := that.history.ReadHeader(matchID)
	if err != nil {
		log.Info("rejected request for unknown match", "error", err)
		if errors.Is(err, apperror.ErrMatchNotFound) {
			return err
		}

		return fmt.Errorf("failed to read match header: %w", err)
	}

	if header.Completed {
		log.Info("rejected request for completed match")
		return fmt.Errorf("%w: %s", apperror.ErrMatchCompleted, matchID)
	}

	if !header.HasParticipant(participantID) {
		log.Info("rejected request from non participant")
		return fmt.Errorf("%w: %s", apperror.ErrNotParticipant, participantID)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if err = ValidateIdentifier(token); err != nil {
		log.Info("rejected malformed token", "error", err)
		return fmt.Errorf("%w: %w", apperror.ErrInvalidCredentials, err)
	}

	ok, err := that.credentials.Verify(ctx, participantID, token)
	if err != nil {
		log.Error("failed to verify credentials", "error", err)
		return fmt.Errorf("failed to verify credentials: %w", err)
	}

	if !ok {
		log.Info("rejected invalid token")
		return apperror.ErrInvalidCredentials
	}

	log.Info("admitted request")

	return nil
}

// ValidateIdentifier accepts up to 36 characters from [a-zA-Z0-9_-], enough for a UUID.
func ValidateIdentifier(value string) error {
	if len(value) > maxIdentifierLength {
		return fmt.Errorf("identifier longer than %d characters", maxIdentifierLength)
	}

	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("identifier %q has invalid characters", value)
	}

	return nil
}
