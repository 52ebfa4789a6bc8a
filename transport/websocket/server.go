package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
)

const (
	maxMessageSize  = 512
	shutdownTimeout = 5 * time.Second
)

type uGate interface {
	Admit(ctx context.Context, matchID, participantID, authorization string) error
}

type uMatch interface {
	Join(ctx context.Context, matchID, participantID string) error
	SubmitMove(matchID, participantID, raw string) error
}

type Server struct {
	logger   *slog.Logger
	gate     uGate
	matches  uMatch
	registry *Registry

	upgrader websocket.Upgrader
}

func New(logger *slog.Logger, gate uGate, matches uMatch, registry *Registry) *Server {
	return &Server{
		logger:   logger.With("component", "websocket"),
		gate:     gate,
		matches:  matches,
		registry: registry,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// participants connect from scripts and notebooks, not browsers
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Handler routes GET /:matchID?participant=<id> to the match connection handler.
func (that *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/:matchID", that.serveMatch)

	return router
}

// Start - starts WebSocket server. TLS is used when both certFile and keyFile are set.
func (that *Server) Start(ctx context.Context, port, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      that.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shut down websocket server", "error", err)
		}

		// hijacked connections are not closed by Shutdown
		that.registry.CloseAll()
	}()

	var err error
	if certFile != "" && keyFile != "" {
		err = srv.ListenAndServeTLS(certFile, keyFile)
	} else {
		err = srv.ListenAndServe()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// serveMatch admits, upgrades, registers and joins, then feeds incoming frames to the match until it closes.
func (that *Server) serveMatch(writer http.ResponseWriter, req *http.Request, params httprouter.Params) {
	matchID := params.ByName("matchID")
	participantID := req.URL.Query().Get("participant")

	log := that.logger.With("method", "serveMatch", "matchID", matchID, "participantID", participantID)

	if err := that.gate.Admit(req.Context(), matchID, participantID, req.Header.Get("Authorization")); err != nil {
		status := apperror.HTTPStatus(err)
		log.Warn("rejected connection", "status", status, "error", err)
		http.Error(writer, http.StatusText(status), status)

		return
	}

	// Register repeats this check for connections racing past it
	if that.registry.Connected(matchID, participantID) {
		status := apperror.HTTPStatus(apperror.ErrAlreadyConnected)
		log.Warn("rejected duplicate connection", "status", status)
		http.Error(writer, http.StatusText(status), status)

		return
	}

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	client := newConnection(conn)
	if err = that.registry.Register(matchID, participantID, client); err != nil {
		return
	}
	defer that.registry.Unregister(matchID, participantID, client)

	if err = that.matches.Join(req.Context(), matchID, participantID); err != nil {
		log.Warn("failed to join match", "error", err)
		client.close(websocket.ClosePolicyViolation, joinCloseReason(err))

		return
	}

	log.Info("WebSocket connection established", "connectionID", client.id)

	that.readMoves(matchID, participantID, client, conn)
}

// readMoves - processes messages from the client.
func (that *Server) readMoves(matchID, participantID string, client *connection, conn *websocket.Conn) {
	log := that.logger.With("method", "readMoves", "matchID", matchID, "participantID", participantID, "connectionID", client.id)

	defer conn.Close()

	for {
		messageType, reader, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("connection lost", "error", err)
			} else {
				log.Info("connection closed")
			}

			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		// oversized frames are illegal moves: drained, never fatal
		data, err := io.ReadAll(io.LimitReader(reader, maxMessageSize+1))
		if err != nil {
			log.Warn("connection lost", "error", err)
			return
		}

		if len(data) > maxMessageSize {
			if _, err = io.Copy(io.Discard, reader); err != nil {
				log.Warn("connection lost", "error", err)
				return
			}

			log.Debug("ignored oversized message", "limit", maxMessageSize)

			continue
		}

		if err = that.matches.SubmitMove(matchID, participantID, string(data)); err != nil {
			if errors.Is(err, apperror.ErrMatchNotFound) {
				log.Info("match is over, closing connection")
				client.close(websocket.CloseNormalClosure, "match completed")

				return
			}

			log.Error("failed to submit move", "error", err)
		}
	}
}

func joinCloseReason(err error) string {
	switch {
	case errors.Is(err, apperror.ErrMatchFull):
		return apperror.ErrMatchFull.Error()
	case errors.Is(err, apperror.ErrMatchCompleted):
		return apperror.ErrMatchCompleted.Error()
	default:
		return "failed to join match"
	}
}
