package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rocketscienceinc/ipd-backend/internal/entity"
)

const fileExt = ".csv"

var (
	ErrSealed = errors.New("history log is sealed")

	// ErrUnsynced means the line may already be in the file. Only the same line may be appended next.
	ErrUnsynced = errors.New("history line is not durable yet")

	ErrPendingLine = errors.New("another history line is still pending")
)

type logFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Store locates history logs in a directory, one file per match.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (that *Store) Path(matchID string) string {
	return filepath.Join(that.dir, matchID+fileExt)
}

// Create writes the initial header of a new match. It never overwrites an existing log.
func (that *Store) Create(matchID, first, second string, createdAt time.Time) error {
	file, err := os.OpenFile(that.Path(matchID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}
	defer file.Close()

	header := fmt.Sprintf("# %s\n# Participants: [%s,%s]\n", createdAt.Format(time.RFC3339), first, second)
	if _, err = file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write history header: %w", err)
	}

	return nil
}

// AppendRecord adds a provisioned match to the records file, creating the file if needed.
func AppendRecord(path, matchID, first, second string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open match records: %w", err)
	}
	defer file.Close()

	if _, err = fmt.Fprintf(file, "%s,%s,%s\n", matchID, first, second); err != nil {
		return fmt.Errorf("failed to append match record: %w", err)
	}

	return nil
}

// Appender is the write side of a single match log.
type Appender interface {
	AppendParticipants(participants []string) error
	AppendRound(moves [entity.MaxParticipants]entity.Move) error
	AppendCompleted() error
	Close() error
}

// OpenAppender is OpenWriter for callers that only need the Appender side.
func (that *Store) OpenAppender(matchID string) (Appender, error) {
	writer, err := that.OpenWriter(matchID)
	if err != nil {
		return nil, err
	}

	return writer, nil
}

// OpenWriter opens an existing history log for appending.
func (that *Store) OpenWriter(matchID string) (*Writer, error) {
	file, err := os.OpenFile(that.Path(matchID), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open history for append: %w", err)
	}

	return newWriter(file), nil
}

func newWriter(file logFile) *Writer {
	return &Writer{file: file}
}

// Writer only ever appends whole lines and syncs each of them. The completion marker seals it.
// A line that failed after reaching the file stays pending: retrying it writes only the missing
// bytes and syncs again, so no line is ever written twice.
type Writer struct {
	mu     sync.Mutex
	file   logFile
	sealed bool

	pending   string
	unwritten []byte
}

func (that *Writer) AppendParticipants(participants []string) error {
	return that.appendLine(strings.Join(participants, ",")+"\n", false)
}

func (that *Writer) AppendRound(moves [entity.MaxParticipants]entity.Move) error {
	return that.appendLine(fmt.Sprintf("%s,%s\n", moves[0], moves[1]), false)
}

// AppendCompleted writes the completion marker without a line terminator.
func (that *Writer) AppendCompleted() error {
	return that.appendLine(CompletedMarker, true)
}

func (that *Writer) Close() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.file.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}

	return nil
}

func (that *Writer) appendLine(line string, seal bool) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.sealed {
		return ErrSealed
	}

	if that.pending == "" {
		that.pending = line
		that.unwritten = []byte(line)
	} else if that.pending != line {
		return fmt.Errorf("%w: %q", ErrPendingLine, that.pending)
	}

	for len(that.unwritten) > 0 {
		n, err := that.file.Write(that.unwritten)
		that.unwritten = that.unwritten[n:]

		if err == nil {
			continue
		}

		// nothing reached the file, the caller is free to append something else
		if len(that.unwritten) == len(that.pending) {
			that.pending = ""
			that.unwritten = nil

			return fmt.Errorf("failed to append to history: %w", err)
		}

		return fmt.Errorf("%w: failed to append to history: %w", ErrUnsynced, err)
	}

	if err := that.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync history: %w", ErrUnsynced, err)
	}

	that.pending = ""
	that.sealed = seal

	return nil
}
