package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const archiveTimeout = 30 * time.Second

type notifier interface {
	Send(matchID, participantID, payload string) error
	CloseMatch(matchID string)
}

type archiver interface {
	Archive(ctx context.Context, matchID string) error
}

// RoundCoordinator closes the current round of every tracked match once per tick.
// The boundary is wall-clock driven; it never waits for moves.
type RoundCoordinator struct {
	logger   *slog.Logger
	matches  *MatchManager
	notifier notifier
	archiver archiver
	interval time.Duration

	scheduler gocron.Scheduler
	archives  sync.WaitGroup
}

// NewRoundCoordinator builds a coordinator. archiver may be nil.
func NewRoundCoordinator(logger *slog.Logger, matches *MatchManager, notifier notifier, archiver archiver, interval time.Duration) *RoundCoordinator {
	return &RoundCoordinator{
		logger:   logger.With("component", "round_coordinator"),
		matches:  matches,
		notifier: notifier,
		archiver: archiver,
		interval: interval,
	}
}

// Start schedules Tick. Ticks never overlap: a slow tick delays the next one.
func (that *RoundCoordinator) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(that.interval),
		gocron.NewTask(func() {
			that.Tick(ctx)
		}),
		gocron.WithName("round-coordinator"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule round coordinator: %w", err)
	}

	scheduler.Start()
	that.scheduler = scheduler

	that.logger.Info("round coordinator started", "interval", that.interval, "roundLimit", that.matches.RoundLimit())

	return nil
}

// Shutdown stops the tick and waits for pending archive uploads.
func (that *RoundCoordinator) Shutdown() error {
	if that.scheduler != nil {
		if err := that.scheduler.Shutdown(); err != nil {
			return fmt.Errorf("failed to stop scheduler: %w", err)
		}
	}

	that.archives.Wait()

	return nil
}

// Tick is one batch over every tracked match. The order of matches within a tick is unspecified.
func (that *RoundCoordinator) Tick(ctx context.Context) {
	log := that.logger.With("method", "Tick")

	var completed []string

	for _, session := range that.matches.sessions() {
		result := that.matches.closeRound(session)

		for participantID, move := range result.deliveries() {
			// delivery is best effort: the registry logs and drops
			_ = that.notifier.Send(result.matchID, participantID, move.String())
		}

		if result.completed {
			completed = append(completed, result.matchID)
		}

		log.Debug("round closed", "result", result)
	}

	for _, matchID := range completed {
		that.matches.remove(matchID)
		that.notifier.CloseMatch(matchID)
		log.Info("closed match", "matchID", matchID)

		that.archive(ctx, matchID)
	}
}

func (that *RoundCoordinator) archive(ctx context.Context, matchID string) {
	if that.archiver == nil {
		return
	}

	that.archives.Add(1)
	go func() {
		defer that.archives.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()

		if err := that.archiver.Archive(ctx, matchID); err != nil {
			that.logger.Error("failed to archive history", "matchID", matchID, "error", err)
		}
	}()
}
