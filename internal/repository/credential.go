package repository

import (
	"context"
	"crypto/subtle"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/redis/go-redis/v9"
)

const (
	columnParticipant = "participant"
	columnToken       = "token"
)

var ErrMissingColumn = errors.New("credential table is missing a column")

// CredentialRepository is a read-only view over the participant -> token table.
type CredentialRepository interface {
	Verify(ctx context.Context, participantID, token string) (bool, error)
}

type csvCredentials struct {
	path string
}

// NewCSVCredentialRepository reads the table on every call, so tokens can be regenerated without a restart.
func NewCSVCredentialRepository(path string) CredentialRepository {
	return &csvCredentials{path: path}
}

func (that *csvCredentials) Verify(_ context.Context, participantID, token string) (bool, error) {
	file, err := os.Open(that.path)
	if err != nil {
		return false, fmt.Errorf("failed to open credentials: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	columns, err := reader.Read()
	if err != nil {
		return false, fmt.Errorf("failed to read credentials header: %w", err)
	}

	participantIdx, tokenIdx := slices.Index(columns, columnParticipant), slices.Index(columns, columnToken)
	if participantIdx < 0 || tokenIdx < 0 {
		return false, fmt.Errorf("%w: need %q and %q", ErrMissingColumn, columnParticipant, columnToken)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("failed to read credentials: %w", err)
		}

		if participantIdx >= len(record) || tokenIdx >= len(record) {
			continue
		}

		if record[participantIdx] == participantID && tokensEqual(record[tokenIdx], token) {
			return true, nil
		}
	}
}

type redisCredentials struct {
	client *redis.Client
	key    string
}

// NewRedisCredentialRepository looks tokens up in a hash keyed by participant id.
func NewRedisCredentialRepository(client *redis.Client, key string) CredentialRepository {
	return &redisCredentials{
		client: client,
		key:    key,
	}
}

func (that *redisCredentials) Verify(ctx context.Context, participantID, token string) (bool, error) {
	stored, err := that.client.HGet(ctx, that.key, participantID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to get credential: %w", err)
	}

	return tokensEqual(stored, token), nil
}

func tokensEqual(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
