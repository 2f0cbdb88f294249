package subscriptions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/systemshift/relgraph/internal/server/graph"
)

// Matcher evaluates events against subscription patterns
type Matcher struct {
	exec   graph.Executor
	logger *slog.Logger
}

// NewMatcher creates a pattern matcher. exec may be nil, in which case
// Cypher patterns never match.
func NewMatcher(exec graph.Executor, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{exec: exec, logger: logger}
}

// Match evaluates if an event matches a subscription pattern
// Returns (matched, cypherResults)
func (m *Matcher) Match(ctx context.Context, event Event, pattern SubscriptionPattern) (bool, []map[string]any) {
	if !matchSimple(event, pattern) {
		return false, nil
	}

	if pattern.Cypher != "" {
		results, err := m.matchCypher(ctx, event, pattern.Cypher)
		if err != nil {
			m.logger.Warn("cypher pattern match failed", slog.String("error", err.Error()))
			return false, nil
		}
		// Cypher must return at least one result to match
		if len(results) == 0 {
			return false, nil
		}
		return true, results
	}

	return true, nil
}

// matchSimple evaluates simple pattern criteria (in Go, no database)
func matchSimple(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !contains(pattern.EventTypes, event.Type) {
		return false
	}

	if len(pattern.RelationshipTypes) > 0 && !contains(pattern.RelationshipTypes, event.RelationshipType) {
		return false
	}

	if len(pattern.EntityTypes) > 0 &&
		!contains(pattern.EntityTypes, event.SourceType) &&
		!contains(pattern.EntityTypes, event.TargetType) {
		return false
	}

	for key, expected := range pattern.PropertyMatch {
		actual, exists := event.Properties[key]
		if !exists || !matchValue(expected, actual) {
			return false
		}
	}

	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// matchCypher evaluates a Cypher query pattern
func (m *Matcher) matchCypher(ctx context.Context, event Event, cypher string) ([]map[string]any, error) {
	if m.exec == nil {
		return nil, &CypherValidationError{Message: "cypher patterns need a graph executor"}
	}
	if err := validateCypher(cypher); err != nil {
		return nil, err
	}

	params := map[string]any{
		"event_type":        event.Type,
		"event_rel_type":    event.RelationshipType,
		"event_source_id":   event.SourceID,
		"event_source_type": event.SourceType,
		"event_target_id":   event.TargetID,
		"event_target_type": event.TargetType,
	}

	result, err := m.exec.ExecuteRead(ctx, graph.Query{Cypher: cypher, Params: params})
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// matchValue compares expected and actual values with type flexibility
func matchValue(expected, actual any) bool {
	if expected == actual {
		return true
	}

	// String comparison (case-insensitive)
	expectedStr, ok1 := expected.(string)
	actualStr, ok2 := actual.(string)
	if ok1 && ok2 {
		return strings.EqualFold(expectedStr, actualStr)
	}

	// Numeric comparison with type coercion
	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}

	return false
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

var (
	cypherWriteKeyword = regexp.MustCompile(`(?i)\b(CREATE|DELETE|SET|REMOVE|MERGE|DETACH|DROP|CALL)\b`)
	cypherMatch        = regexp.MustCompile(`(?i)\bMATCH\b`)
	cypherReturn       = regexp.MustCompile(`(?i)\bRETURN\b`)
)

// validateCypher rejects anything but read queries. Keywords are matched
// as whole words so identifiers like createdAt or Asset are allowed.
func validateCypher(cypher string) error {
	if kw := cypherWriteKeyword.FindString(cypher); kw != "" {
		return &CypherValidationError{
			Message: "cypher query contains forbidden keyword: " + strings.ToUpper(kw),
		}
	}

	if !cypherMatch.MatchString(cypher) || !cypherReturn.MatchString(cypher) {
		return &CypherValidationError{
			Message: "cypher query must contain MATCH and RETURN",
		}
	}

	return nil
}

// CypherValidationError indicates a Cypher query failed validation
type CypherValidationError struct {
	Message string
}

func (e *CypherValidationError) Error() string {
	return e.Message
}
