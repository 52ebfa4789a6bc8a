package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

const shutdownTimeout = 5 * time.Second

func NewRouter(handlers Handlers) *httprouter.Router {
	router := httprouter.New()
	router.GET("/ping", handlers.PingHandler)
	router.GET("/version", handlers.VersionHandler)
	router.GET("/matches", handlers.MatchesHandler)
	router.GET("/matches/:matchID", handlers.MatchHandler)

	return router
}

// Start - starts HTTP server until ctx is done.
func Start(ctx context.Context, port string, handlers Handlers) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(handlers),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
