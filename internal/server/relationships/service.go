package relationships

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/logging"
	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
)

// Option configures a Service or SQLiteStore.
type Option func(*options)

type options struct {
	logger *slog.Logger
	emit   func(subscriptions.Event)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventEmitter registers a callback for relationship change events.
func WithEventEmitter(emit func(subscriptions.Event)) Option {
	return func(o *options) {
		o.emit = emit
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(logging.Scope("relationships"))
	return o
}

// Service is the relationship façade over a Cypher executor. It holds no
// mutable state; every call runs exactly one transaction.
type Service struct {
	exec      graph.Executor
	registry  *registry.Registry
	compiler  *Compiler
	normalize *normalizer
	logger    *slog.Logger
	emit      func(subscriptions.Event)
}

// NewService creates a façade that compiles operations for exec.
func NewService(exec graph.Executor, reg *registry.Registry, opts ...Option) *Service {
	o := buildOptions(opts)
	return &Service{
		exec:      exec,
		registry:  reg,
		compiler:  NewCompiler(reg),
		normalize: &normalizer{registry: reg, logger: o.logger},
		logger:    o.logger,
		emit:      o.emit,
	}
}

// Registry returns the entity type registry the service resolves against.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// CreateRelationship creates the edge source -[relType]-> target or updates
// the existing one. It returns nil without error when either endpoint does
// not resolve to a node.
func (s *Service) CreateRelationship(ctx context.Context, source, target EntityRef, relType string, props map[string]any) (*Relationship, error) {
	if !source.Valid() || !target.Valid() || strings.TrimSpace(relType) == "" {
		s.logger.Debug("create skipped, incomplete reference",
			slog.String("source", source.String()),
			slog.String("target", target.String()),
			slog.String("type", relType),
		)
		return nil, nil
	}

	props = sanitizeProperties(props, s.logger)

	res, err := s.exec.ExecuteWrite(ctx, s.compiler.Create(source, target, relType, props))
	if err != nil {
		return nil, fmt.Errorf("creating relationship %s -[%s]-> %s: %w", source, relType, target, err)
	}

	if len(res.Records) == 0 {
		s.logger.Debug("create found no endpoints",
			slog.String("source", source.String()),
			slog.String("target", target.String()),
		)
		return nil, nil
	}

	rel := s.normalize.relationship(res.Records[0], props)

	eventType := subscriptions.EventRelationshipUpdated
	if res.Summary.RelationshipsCreated > 0 {
		eventType = subscriptions.EventRelationshipCreated
	}
	s.publish(eventType, rel)

	return rel, nil
}

// GetRelationships lists edges around entity. It never mutates the store
// and returns an empty slice when nothing matches.
func (s *Service) GetRelationships(ctx context.Context, entity EntityRef, dir Direction, f Filter) ([]*Relationship, error) {
	if !entity.Valid() {
		return []*Relationship{}, nil
	}

	q, err := s.compiler.Read(entity, dir, f)
	if err != nil {
		return nil, err
	}

	res, err := s.exec.ExecuteRead(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading relationships of %s: %w", entity, err)
	}

	rels := make([]*Relationship, 0, len(res.Records))
	for _, row := range res.Records {
		rels = append(rels, s.normalize.relationship(row, nil))
	}
	return rels, nil
}

// DeleteRelationship removes the edge source -[relType]-> target. It
// reports whether at least one edge was removed.
func (s *Service) DeleteRelationship(ctx context.Context, source, target EntityRef, relType string) (bool, error) {
	if !source.Valid() || !target.Valid() || strings.TrimSpace(relType) == "" {
		return false, nil
	}

	res, err := s.exec.ExecuteWrite(ctx, s.compiler.Delete(source, target, relType))
	if err != nil {
		return false, fmt.Errorf("deleting relationship %s -[%s]-> %s: %w", source, relType, target, err)
	}

	deleted := res.Summary.RelationshipsDeleted
	if len(res.Records) > 0 {
		if n, ok := res.Records[0]["deleted"].(int64); ok && int(n) > deleted {
			deleted = int(n)
		}
	}
	if deleted == 0 {
		return false, nil
	}

	s.publish(subscriptions.EventRelationshipDeleted, &Relationship{
		SourceID:   source.ID,
		SourceType: source.Type,
		TargetID:   target.ID,
		TargetType: target.Type,
		Type:       relType,
	})
	return true, nil
}

func (s *Service) publish(eventType string, rel *Relationship) {
	publish(s.emit, eventType, rel)
}

func publish(emit func(subscriptions.Event), eventType string, rel *Relationship) {
	if emit == nil {
		return
	}
	emit(subscriptions.Event{
		ID:               uuid.New().String(),
		Type:             eventType,
		Timestamp:        time.Now().UTC(),
		RelationshipType: rel.Type,
		SourceID:         rel.SourceID,
		SourceType:       rel.SourceType,
		TargetID:         rel.TargetID,
		TargetType:       rel.TargetType,
		Properties:       rel.Properties,
	})
}

// sanitizeProperties drops keys that would overwrite projection fields.
func sanitizeProperties(props map[string]any, logger *slog.Logger) map[string]any {
	clean := make(map[string]any, len(props))
	for k, v := range props {
		if k == "" || reservedKeys[k] {
			logger.Warn("ignoring reserved relationship property", slog.String("key", k))
			continue
		}
		clean[k] = v
	}
	return clean
}
