package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/logging"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
)

// apiError maps a failure class to an HTTP response.
type apiError struct {
	Status  int
	Code    string
	Message string
}

var errorTable = []struct {
	target error
	resp   apiError
}{
	{subscriptions.ErrNotFound, apiError{http.StatusNotFound, "not_found", "subscription not found"}},
	{graph.ErrUnavailable, apiError{http.StatusServiceUnavailable, "unavailable", "graph store unavailable"}},
	{graph.ErrClosed, apiError{http.StatusServiceUnavailable, "unavailable", "graph store closed"}},
}

var internalError = apiError{http.StatusInternalServerError, "internal", "internal error"}

func classify(err error) apiError {
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			return entry.resp
		}
	}
	return internalError
}

// fail writes the response for err and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := classify(err)
	if resp.Status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			logging.Err(err),
		)
	}
	writeError(w, resp.Status, resp.Code, resp.Message)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "invalid_request", msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": msg,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
