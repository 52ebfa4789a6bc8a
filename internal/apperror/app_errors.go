package apperror

import (
	"errors"
	"net/http"
)

// admission errors, surfaced to the client before the upgrade.
var (
	ErrMalformedRequest   = errors.New("malformed match or participant id")
	ErrMatchNotFound      = errors.New("match does not exist")
	ErrMatchCompleted     = errors.New("match is already completed")
	ErrNotParticipant     = errors.New("participant is not part of the match")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	ErrAlreadyConnected = errors.New("participant is already connected to the match")
	ErrMatchFull        = errors.New("match already has two participants")
	ErrNotConnected     = errors.New("participant has no live connection")
	ErrInvalidHistory   = errors.New("history log has no participants header")
)

// HTTPStatus maps an admission error to the status code returned before the upgrade.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMatchCompleted):
		return http.StatusGone
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAlreadyConnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
