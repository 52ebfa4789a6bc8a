package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
)

const writeWait = 10 * time.Second

// channel is the part of *websocket.Conn the registry writes through.
type channel interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// connection serializes writes: gorilla allows a single concurrent writer per conn.
type connection struct {
	id string
	mu sync.Mutex
	ch channel
}

func newConnection(ch channel) *connection {
	return &connection{
		id: uuid.NewString(),
		ch: ch,
	}
}

func (that *connection) write(payload string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.ch.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := that.ch.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// close sends a close frame with the given code and closes the channel.
func (that *connection) close(code int, reason string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	_ = that.ch.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = that.ch.Close()
}

// Registry tracks the single live connection of every (match, participant) pair.
type Registry struct {
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]map[string]*connection
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger.With("component", "registry"),
		connections: make(map[string]map[string]*connection),
	}
}

// Register stores a connection. An occupied key keeps its connection and the new one is closed.
func (that *Registry) Register(matchID, participantID string, conn *connection) error {
	log := that.logger.With("method", "Register", "matchID", matchID, "participantID", participantID, "connectionID", conn.id)

	that.mu.Lock()
	participants, ok := that.connections[matchID]
	if !ok {
		participants = make(map[string]*connection)
		that.connections[matchID] = participants
	}

	if _, occupied := participants[participantID]; occupied {
		that.mu.Unlock()

		log.Error("participant already connected to match")
		conn.close(websocket.ClosePolicyViolation, apperror.ErrAlreadyConnected.Error())

		return fmt.Errorf("%w: %s/%s", apperror.ErrAlreadyConnected, matchID, participantID)
	}

	participants[participantID] = conn
	that.mu.Unlock()

	log.Info("connection registered")

	return nil
}

// Unregister removes the connection if it is still the registered one. Match state is not touched.
func (that *Registry) Unregister(matchID, participantID string, conn *connection) {
	that.mu.Lock()
	defer that.mu.Unlock()

	participants, ok := that.connections[matchID]
	if !ok || participants[participantID] != conn {
		return
	}

	delete(participants, participantID)
	if len(participants) == 0 {
		delete(that.connections, matchID)
	}

	that.logger.Info("connection unregistered", "matchID", matchID, "participantID", participantID, "connectionID", conn.id)
}

// Send is best effort: missing connections and write failures are logged and returned, never retried.
func (that *Registry) Send(matchID, participantID, payload string) error {
	log := that.logger.With("method", "Send", "matchID", matchID, "participantID", participantID)

	that.mu.RLock()
	conn, ok := that.connections[matchID][participantID]
	that.mu.RUnlock()

	if !ok {
		log.Info("dropped message for disconnected participant", "payload", payload)
		return fmt.Errorf("%w: %s/%s", apperror.ErrNotConnected, matchID, participantID)
	}

	if err := conn.write(payload); err != nil {
		log.Error("failed to send message", "payload", payload, "error", err)
		return err
	}

	return nil
}

func (that *Registry) Connected(matchID, participantID string) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	_, ok := that.connections[matchID][participantID]

	return ok
}

// CloseAll sends a going-away close frame to every live connection.
func (that *Registry) CloseAll() {
	that.mu.RLock()
	var conns []*connection
	for _, participants := range that.connections {
		for _, conn := range participants {
			conns = append(conns, conn)
		}
	}
	that.mu.RUnlock()

	for _, conn := range conns {
		conn.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// CloseMatch closes every live connection of a finished match.
func (that *Registry) CloseMatch(matchID string) {
	that.mu.RLock()
	conns := make([]*connection, 0, len(that.connections[matchID]))
	for _, conn := range that.connections[matchID] {
		conns = append(conns, conn)
	}
	that.mu.RUnlock()

	for _, conn := range conns {
		conn.close(websocket.CloseNormalClosure, "match completed")
	}

	if len(conns) > 0 {
		that.logger.Info("closed match connections", "matchID", matchID, "count", len(conns))
	}
}
