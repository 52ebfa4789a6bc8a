package history

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rocketscienceinc/ipd-backend/internal/apperror"
)

const (
	CompletedMarker = "# COMPLETED"

	commentPrefix = "#"
)

var participantsPattern = regexp.MustCompile(`^# Participants: \[(?P<a>[a-zA-Z0-9_-]+),(?P<b>[a-zA-Z0-9_-]+)\]$`)

// timestamp layouts written by provisioning tools, first match wins.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// Header is what the history log tells about a match before any in-memory state exists.
type Header struct {
	CreatedAt time.Time

	// Participants is the pair declared by provisioning.
	Participants [2]string

	// Pair is the participant order of the recorded columns, set once the pair line was written.
	Pair []string

	Rounds    int
	Completed bool
}

func (that *Header) HasParticipant(participantID string) bool {
	return that.Participants[0] == participantID || that.Participants[1] == participantID
}

// ReadHeader scans a history log from the start. The log may be appended to while it is read.
func (that *Store) ReadHeader(matchID string) (*Header, error) {
	file, err := os.Open(that.Path(matchID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrMatchNotFound, matchID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer file.Close()

	header, err := parseHeader(file)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}

	return header, nil
}

func parseHeader(r io.Reader) (*Header, error) {
	header := &Header{}
	foundParticipants := false

	var lastLine string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lastLine = line

		if strings.HasPrefix(line, commentPrefix) {
			if m := participantsPattern.FindStringSubmatch(line); m != nil {
				header.Participants = [2]string{m[1], m[2]}
				foundParticipants = true
				continue
			}

			if header.CreatedAt.IsZero() {
				header.CreatedAt = parseTimestamp(strings.TrimSpace(strings.TrimPrefix(line, commentPrefix)))
			}

			continue
		}

		if line == "" {
			continue
		}

		if header.Pair == nil {
			header.Pair = strings.Split(line, ",")
			continue
		}

		header.Rounds++
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	if !foundParticipants {
		return nil, apperror.ErrInvalidHistory
	}

	header.Completed = lastLine == CompletedMarker

	return header, nil
}

func parseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}

	return time.Time{}
}
