package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/relgraph/internal/server/logging"
	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/relationships"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
)

// Store is the relationship engine the API serves.
// *relationships.Service and *relationships.SQLiteStore satisfy it.
type Store interface {
	CreateRelationship(ctx context.Context, source, target relationships.EntityRef, relType string, props map[string]any) (*relationships.Relationship, error)
	GetRelationships(ctx context.Context, entity relationships.EntityRef, dir relationships.Direction, f relationships.Filter) ([]*relationships.Relationship, error)
	DeleteRelationship(ctx context.Context, source, target relationships.EntityRef, relType string) (bool, error)
	Registry() *registry.Registry
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck sets the probe behind GET /health.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) {
		s.health = check
	}
}

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server holds the HTTP server dependencies
type Server struct {
	store  Store
	subMgr *subscriptions.Manager
	health func(context.Context) error
	logger *slog.Logger
}

// New creates a new API server. subMgr may be nil, in which case the
// subscription endpoints answer 503.
func New(store Store, subMgr *subscriptions.Manager, opts ...Option) *Server {
	s := &Server{store: store, subMgr: subMgr, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.Scope("api"))
	return s
}

// RelationshipRequest is the request body for creating or deleting a relationship
type RelationshipRequest struct {
	Source     relationships.EntityRef `json:"source"`
	Target     relationships.EntityRef `json:"target"`
	Type       string                  `json:"type"`
	Properties map[string]any          `json:"properties,omitempty"`
}

func (req RelationshipRequest) validate() error {
	var missing []string
	if !req.Source.Valid() {
		missing = append(missing, "source")
	}
	if !req.Target.Valid() {
		missing = append(missing, "target")
	}
	if strings.TrimSpace(req.Type) == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return errors.New("missing or incomplete: " + strings.Join(missing, ", "))
	}
	return nil
}

// decodeRelationshipRequest keeps integer properties as int64 rather than
// float64 so they are stored as integers.
func decodeRelationshipRequest(r *http.Request) (RelationshipRequest, error) {
	var req RelationshipRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	req.Properties = relationships.NormalizeNumbers(req.Properties)
	return req, nil
}

// ListRelationshipsResponse is the response for listing relationships
type ListRelationshipsResponse struct {
	Relationships []*relationships.Relationship `json:"relationships"`
	Count         int                           `json:"count"`
}

// CreateRelationship handles POST /api/relationships
func (s *Server) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRelationshipRequest(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	if !registry.IsKnownRelationshipType(req.Type) {
		s.logger.Debug("relationship type outside the ontology", slog.String("type", req.Type))
	}

	rel, err := s.store.CreateRelationship(r.Context(), req.Source, req.Target, req.Type, req.Properties)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rel == nil {
		writeError(w, http.StatusNotFound, "not_found", "source or target entity not found")
		return
	}

	writeJSON(w, http.StatusCreated, rel)
}

// GetRelationships handles GET /api/entities/{type}/{id}/relationships
// Query params: direction (outgoing|incoming|both, default both), type, related_type
func (s *Server) GetRelationships(w http.ResponseWriter, r *http.Request) {
	entity := relationships.EntityRef{
		Type: chi.URLParam(r, "type"),
		ID:   chi.URLParam(r, "id"),
	}
	query := r.URL.Query()

	dir := relationships.Both
	if v := query.Get("direction"); v != "" {
		parsed, err := relationships.ParseDirection(v)
		if err != nil {
			s.badRequest(w, err.Error())
			return
		}
		dir = parsed
	}

	filter := relationships.Filter{
		Type:        query.Get("type"),
		RelatedType: query.Get("related_type"),
	}

	rels, err := s.store.GetRelationships(r.Context(), entity, dir, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ListRelationshipsResponse{Relationships: rels, Count: len(rels)})
}

// DeleteRelationship handles DELETE /api/relationships
func (s *Server) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRelationshipRequest(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	deleted, err := s.store.DeleteRelationship(r.Context(), req.Source, req.Target, req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "relationship not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListEntityTypes handles GET /api/registry/types
func (s *Server) ListEntityTypes(w http.ResponseWriter, r *http.Request) {
	reg := s.store.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"universal_id_field": reg.UniversalIDField(),
		"types":              reg.Types(),
	})
}

// ListRelationshipTypes handles GET /api/registry/relationship-types
func (s *Server) ListRelationshipTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            registry.OntologyVersion,
		"relationship_types": registry.RelationshipTypes(),
	})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", logging.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============== Subscription Handlers ==============

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsEnabled(w) {
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	sub, err := s.subMgr.Register(r.Context(), &req)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsEnabled(w) {
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsEnabled(w) {
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsEnabled(w) {
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	sub, err := s.subMgr.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		if errors.Is(err, subscriptions.ErrNotFound) {
			s.fail(w, r, err)
		} else {
			s.badRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.subscriptionsEnabled(w) {
		return
	}

	if err := s.subMgr.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) subscriptionsEnabled(w http.ResponseWriter) bool {
	if s.subMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "subscription manager not initialized")
		return false
	}
	return true
}
