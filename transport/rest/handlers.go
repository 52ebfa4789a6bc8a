package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/rocketscienceinc/ipd-backend/internal/entity"
)

type uMatch interface {
	Match(matchID string) (entity.Match, bool)
	Matches() []entity.Match
	RoundLimit() int
}

type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params)
	VersionHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params)

	MatchesHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params)
	MatchHandler(w http.ResponseWriter, _ *http.Request, params httprouter.Params)
}

// MatchView is the public state of a match. Pending moves are never exposed, only whether one was sent.
type MatchView struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	Stage        entity.Stage    `json:"stage"`
	Round        int             `json:"round"`
	RoundLimit   int             `json:"roundLimit"`
	Submitted    map[string]bool `json:"submitted"`
}

type handlers struct {
	logger  *slog.Logger
	version string
	matches uMatch
}

func NewHandlers(logger *slog.Logger, version string, matches uMatch) Handlers {
	return &handlers{
		logger:  logger.With("component", "rest"),
		version: version,
		matches: matches,
	}
}

func (that *handlers) PingHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

func (that *handlers) VersionHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	that.writeJSON(w, http.StatusOK, map[string]string{"version": that.version})
}

func (that *handlers) MatchesHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	matches := that.matches.Matches()
	slices.SortFunc(matches, func(a, b entity.Match) int {
		return strings.Compare(a.ID, b.ID)
	})

	views := make([]MatchView, 0, len(matches))
	for _, match := range matches {
		views = append(views, that.view(match))
	}

	that.writeJSON(w, http.StatusOK, views)
}

func (that *handlers) MatchHandler(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	match, ok := that.matches.Match(params.ByName("matchID"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	that.writeJSON(w, http.StatusOK, that.view(match))
}

func (that *handlers) view(match entity.Match) MatchView {
	submitted := make(map[string]bool, len(match.Participants))
	for i, participantID := range match.Participants {
		submitted[participantID] = match.Pending[i].Set
	}

	return MatchView{
		ID:           match.ID,
		Participants: match.Participants,
		Stage:        match.Stage,
		Round:        match.Round,
		RoundLimit:   that.matches.RoundLimit(),
		Submitted:    submitted,
	}
}

func (that *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}
