package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
)

var errStoreDown = errors.New("credential store down")

type mockCredentials struct {
	mock.Mock
}

func (that *mockCredentials) Verify(ctx context.Context, participantID, token string) (bool, error) {
	args := that.Called(ctx, participantID, token)
	return args.Bool(0), args.Error(1)
}

func newGate(t *testing.T) (*Gate, *history.Store, *mockCredentials) {
	t.Helper()

	store := history.NewStore(t.TempDir())
	require.NoError(t, store.Create("m1", "a", "b", time.Now()))

	credentials := &mockCredentials{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	return NewGate(logger, store, credentials), store, credentials
}

func TestGate_Admit(t *testing.T) {
	ctx := context.Background()

	t.Run("Admits a member with a valid bearer token", func(t *testing.T) {
		// Given: a provisioned match and a store that knows a's token
		gate, _, credentials := newGate(t)
		credentials.On("Verify", mock.Anything, "a", "tokenA").Return(true, nil).Once()

		// When: a connects with the token
		err := gate.Admit(ctx, "m1", "a", "Bearer tokenA")

		// Then: the request is admitted
		require.NoError(t, err)
		credentials.AssertExpectations(t)
	})

	t.Run("Accepts a raw token header", func(t *testing.T) {
		gate, _, credentials := newGate(t)
		credentials.On("Verify", mock.Anything, "b", "tokenB").Return(true, nil).Once()

		require.NoError(t, gate.Admit(ctx, "m1", "b", "tokenB"))
	})

	t.Run("Rejects malformed identifiers before anything else", func(t *testing.T) {
		gate, _, credentials := newGate(t)

		cases := map[string][2]string{
			"slash in match":       {"../m1", "a"},
			"too long":             {strings.Repeat("x", 37), "a"},
			"empty participant":    {"m1", ""},
			"space in participant": {"m1", "a b"},
		}

		for name, tc := range cases {
			err := gate.Admit(ctx, tc[0], tc[1], "tokenA")
			require.ErrorIs(t, err, apperror.ErrMalformedRequest, name)
		}

		credentials.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Accepts a UUID and underscores", func(t *testing.T) {
		gate, store, credentials := newGate(t)
		require.NoError(t, store.Create("cf827976-b324-483a-ad15-ff29c732bab6", "Group_1", "b", time.Now()))
		credentials.On("Verify", mock.Anything, "Group_1", "tok").Return(true, nil).Once()

		require.NoError(t, gate.Admit(ctx, "cf827976-b324-483a-ad15-ff29c732bab6", "Group_1", "tok"))
	})

	t.Run("Rejects unknown match", func(t *testing.T) {
		gate, _, credentials := newGate(t)

		err := gate.Admit(ctx, "m404", "a", "tokenA")

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
		credentials.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects completed match", func(t *testing.T) {
		// Given: a match whose log ends with the completion marker
		gate, store, _ := newGate(t)
		writer, err := store.OpenWriter("m1")
		require.NoError(t, err)
		require.NoError(t, writer.AppendCompleted())
		require.NoError(t, writer.Close())

		// When: a member connects
		err = gate.Admit(ctx, "m1", "a", "tokenA")

		// Then: the match is reported as completed
		require.ErrorIs(t, err, apperror.ErrMatchCompleted)
	})

	t.Run("Rejects participants outside the declared pair", func(t *testing.T) {
		gate, _, credentials := newGate(t)

		err := gate.Admit(ctx, "m1", "c", "tokenC")

		require.ErrorIs(t, err, apperror.ErrNotParticipant)
		credentials.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects wrong token", func(t *testing.T) {
		gate, _, credentials := newGate(t)
		credentials.On("Verify", mock.Anything, "a", "tokenB").Return(false, nil).Once()

		err := gate.Admit(ctx, "m1", "a", "Bearer tokenB")

		require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	})

	t.Run("Rejects missing token without a lookup", func(t *testing.T) {
		gate, _, credentials := newGate(t)

		err := gate.Admit(ctx, "m1", "a", "")

		require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
		credentials.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Credential store failure is not an admission", func(t *testing.T) {
		gate, _, credentials := newGate(t)
		credentials.On("Verify", mock.Anything, "a", "tokenA").Return(false, errStoreDown).Once()

		err := gate.Admit(ctx, "m1", "a", "tokenA")

		require.ErrorIs(t, err, errStoreDown)
		assert.Equal(t, 500, apperror.HTTPStatus(err))
	})
}

func TestGate_LeavesHistoryUntouched(t *testing.T) {
	// Given: a provisioned match
	gate, store, credentials := newGate(t)
	before, err := os.ReadFile(store.Path("m1"))
	require.NoError(t, err)
	credentials.On("Verify", mock.Anything, "a", "tokenA").Return(true, nil).Once()

	// When: a request is admitted
	require.NoError(t, gate.Admit(context.Background(), "m1", "a", "tokenA"))

	// Then: the log is byte for byte the same
	after, err := os.ReadFile(store.Path("m1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
