package relationships

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/systemshift/relgraph/internal/server/registry"
)

// temporal is satisfied by every driver-native temporal value
// (neo4j.Date, neo4j.LocalDateTime, neo4j.LocalTime, neo4j.Time).
type temporal interface {
	Time() time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizer shapes result rows into Relationship values.
type normalizer struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// relationship converts one projected row. supplied holds the caller's
// properties on create and is nil on read.
func (n *normalizer) relationship(row map[string]any, supplied map[string]any) *Relationship {
	base := Relationship{
		SourceID:   stringValue(row[ColSourceID]),
		SourceType: n.registry.LogicalType(stringValue(row[ColSourceType])),
		TargetID:   stringValue(row[ColTargetID]),
		TargetType: n.registry.LogicalType(stringValue(row[ColTargetType])),
		Type:       stringValue(row[ColType]),
	}
	if t, ok := toTime(row[ColCreatedAt]); ok {
		base.CreatedAt = t
	}

	props := make(map[string]any)
	if stored, ok := row[ColProperties].(map[string]any); ok {
		for k, v := range stored {
			if reservedKeys[k] {
				continue
			}
			props[k] = normalizeValue(v)
		}
	}
	for k, v := range supplied {
		if v == nil || reservedKeys[k] {
			continue
		}
		if _, present := props[k]; !present {
			props[k] = v
		}
	}

	rel, err := NewRelationship(base, props)
	if err != nil {
		n.logger.Warn("relationship does not fit strict shape, keeping extra properties",
			slog.String("type", base.Type),
			slog.String("source", base.SourceType+":"+base.SourceID),
			slog.String("target", base.TargetType+":"+base.TargetID),
			slog.String("reason", err.Error()),
		)
		return looseRelationship(base, props)
	}
	return rel
}

// normalizeValue converts temporal values, including those nested in lists.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case temporal:
		return val.Time().UTC()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

// toTime converts a store-native or serialized timestamp to UTC time.
func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return val.UTC(), true
	case temporal:
		return val.Time().UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}
