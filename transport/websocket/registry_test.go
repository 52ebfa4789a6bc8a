package websocket

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeChannel struct {
	mu         sync.Mutex
	messages   []string
	closeCodes []int
	closed     bool
	failWrites bool
}

func (that *fakeChannel) WriteMessage(_ int, data []byte) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.failWrites {
		return errBrokenPipe
	}

	that.messages = append(that.messages, string(data))

	return nil
}

func (that *fakeChannel) WriteControl(messageType int, data []byte, _ time.Time) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if messageType == websocket.CloseMessage && len(data) >= 2 {
		that.closeCodes = append(that.closeCodes, int(binary.BigEndian.Uint16(data)))
	}

	return nil
}

func (that *fakeChannel) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (that *fakeChannel) Close() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closed = true

	return nil
}

func newRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestRegistry_Register(t *testing.T) {
	t.Run("Second connection for the same participant is refused", func(t *testing.T) {
		// Given: A is connected to M1
		registry := newRegistry()
		first, second := &fakeChannel{}, &fakeChannel{}
		firstConn := newConnection(first)
		require.NoError(t, registry.Register("M1", "A", firstConn))

		// When: A connects again
		err := registry.Register("M1", "A", newConnection(second))

		// Then: the new channel is closed with a policy violation, the old one keeps working
		require.ErrorIs(t, err, apperror.ErrAlreadyConnected)
		assert.True(t, second.closed)
		assert.Equal(t, []int{websocket.ClosePolicyViolation}, second.closeCodes)
		assert.False(t, first.closed)

		require.NoError(t, registry.Send("M1", "A", "C"))
		assert.Equal(t, []string{"C"}, first.messages)
	})

	t.Run("Same participant in another match is a different key", func(t *testing.T) {
		registry := newRegistry()

		require.NoError(t, registry.Register("M1", "A", newConnection(&fakeChannel{})))
		require.NoError(t, registry.Register("M2", "A", newConnection(&fakeChannel{})))

		assert.True(t, registry.Connected("M1", "A"))
		assert.True(t, registry.Connected("M2", "A"))
	})
}

func TestRegistry_Unregister(t *testing.T) {
	t.Run("Removes the connection and the empty match table", func(t *testing.T) {
		registry := newRegistry()
		conn := newConnection(&fakeChannel{})
		require.NoError(t, registry.Register("M1", "A", conn))

		registry.Unregister("M1", "A", conn)

		assert.False(t, registry.Connected("M1", "A"))
		assert.Empty(t, registry.connections)
	})

	t.Run("A refused duplicate does not evict the live connection", func(t *testing.T) {
		// Given: A is connected and a duplicate was refused
		registry := newRegistry()
		live := newConnection(&fakeChannel{})
		duplicate := newConnection(&fakeChannel{})
		require.NoError(t, registry.Register("M1", "A", live))
		require.Error(t, registry.Register("M1", "A", duplicate))

		// When: the duplicate's handler cleans up
		registry.Unregister("M1", "A", duplicate)

		// Then: the live connection is still registered
		assert.True(t, registry.Connected("M1", "A"))
	})
}

func TestRegistry_Send(t *testing.T) {
	t.Run("Drops messages for disconnected participants", func(t *testing.T) {
		registry := newRegistry()

		err := registry.Send("M1", "A", "C")

		require.ErrorIs(t, err, apperror.ErrNotConnected)
	})

	t.Run("Write failures are reported, not retried", func(t *testing.T) {
		registry := newRegistry()
		ch := &fakeChannel{failWrites: true}
		require.NoError(t, registry.Register("M1", "A", newConnection(ch)))

		err := registry.Send("M1", "A", "C")

		require.ErrorIs(t, err, errBrokenPipe)
		assert.Empty(t, ch.messages)
	})
}

func TestRegistry_CloseMatch(t *testing.T) {
	// Given: both participants of M1 and one of M2 are connected
	registry := newRegistry()
	a, b, other := &fakeChannel{}, &fakeChannel{}, &fakeChannel{}
	require.NoError(t, registry.Register("M1", "A", newConnection(a)))
	require.NoError(t, registry.Register("M1", "B", newConnection(b)))
	require.NoError(t, registry.Register("M2", "A", newConnection(other)))

	// When: M1 completes
	registry.CloseMatch("M1")

	// Then: only M1's channels got a normal close
	assert.Equal(t, []int{websocket.CloseNormalClosure}, a.closeCodes)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, b.closeCodes)
	assert.True(t, a.closed)
	assert.False(t, other.closed)
}
