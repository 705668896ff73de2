package api

import (
	"errors"
	"net/http"

	"cssbattle/pkg/challenge"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/round"
	"cssbattle/pkg/store"
)

// Error codes returned in the error body.
const (
	CodeInvalid       = "invalid_request"
	CodeNotFound      = "not_found"
	CodeSubmitted     = "already_submitted"
	CodeNothingToSend = "nothing_to_submit"
	CodeNotStarted    = "not_started"
	CodeUnavailable   = "upstream_failed"
	CodeInternal      = "internal"
)

var errNotFound = errors.New("not found")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a pipeline error to a status code and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, challenge.ErrInvalid):
		return http.StatusUnprocessableEntity, CodeInvalid
	case errors.Is(err, errNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, round.ErrSubmitted):
		return http.StatusConflict, CodeSubmitted
	case errors.Is(err, round.ErrNotStarted):
		return http.StatusConflict, CodeNotStarted
	case errors.Is(err, raster.ErrDecode), errors.Is(err, raster.ErrCapture), errors.Is(err, markup.ErrRender):
		return http.StatusBadGateway, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeError(w, status, code, err.Error())
}
