package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/ipd-backend/internal/archive"
	"github.com/rocketscienceinc/ipd-backend/internal/config"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
	"github.com/rocketscienceinc/ipd-backend/internal/repository"
	"github.com/rocketscienceinc/ipd-backend/internal/repository/storage"
	"github.com/rocketscienceinc/ipd-backend/internal/service"
	"github.com/rocketscienceinc/ipd-backend/internal/usecase"
	"github.com/rocketscienceinc/ipd-backend/transport/rest"
	"github.com/rocketscienceinc/ipd-backend/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

type historyArchiver interface {
	Archive(ctx context.Context, matchID string) error
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config, version string) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := os.MkdirAll(conf.Match.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("could not create history dir: %w", err)
	}

	credentials, closeCredentials, err := newCredentialRepository(ctx, log, conf)
	if err != nil {
		return err
	}
	defer closeCredentials()

	historyStore := history.NewStore(conf.Match.HistoryDir)

	archiver, err := newArchiver(ctx, logger, conf, historyStore)
	if err != nil {
		return err
	}

	registry := websocket.NewRegistry(logger)
	gate := service.NewGate(logger, historyStore, credentials)
	matchManager := usecase.NewMatchManager(logger, historyStore, conf.Match.RoundLimit)

	coordinator := usecase.NewRoundCoordinator(logger, matchManager, registry, archiver, conf.Match.TickInterval)

	if err = coordinator.Start(ctx); err != nil {
		return fmt.Errorf("could not start round coordinator: %w", err)
	}

	defer func() {
		if err = coordinator.Shutdown(); err != nil {
			log.Error("could not stop round coordinator", "error", err)
		}
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, conf.HTTPPort, rest.NewHandlers(logger, version, matchManager)); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort, "tls", conf.TLS.Enabled())
		wsServer := websocket.New(logger, gate, matchManager, registry)
		if wsErr := wsServer.Start(ctx, conf.SocketPort, conf.TLS.CertFile, conf.TLS.KeyFile); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

func newCredentialRepository(ctx context.Context, log *slog.Logger, conf *config.Config) (repository.CredentialRepository, func(), error) {
	if conf.Credentials.Backend != config.BackendRedis {
		return repository.NewCSVCredentialRepository(conf.Credentials.CSVPath), func() {}, nil
	}

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return nil, nil, ErrAddrNotFound
	}

	redisStorage, err := storage.NewRedisStorage(ctx, redisAddrString)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	return repository.NewRedisCredentialRepository(redisStorage, conf.Credentials.RedisKey), closeRedis(log, redisStorage), nil
}

func closeRedis(log *slog.Logger, client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}
}

// newArchiver returns a nil interface when no bucket is configured.
func newArchiver(ctx context.Context, logger *slog.Logger, conf *config.Config, historyStore *history.Store) (historyArchiver, error) {
	if !conf.Archive.Enabled() {
		return nil, nil
	}

	client, err := archive.NewS3Client(ctx, archive.Options{
		Endpoint:        conf.Archive.Endpoint,
		Region:          conf.Archive.Region,
		AccessKeyID:     conf.Archive.AccessKeyID,
		SecretAccessKey: conf.Archive.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create archive client: %w", err)
	}

	return archive.New(logger, client, historyStore, conf.Archive.Bucket, conf.Archive.Prefix), nil
}
