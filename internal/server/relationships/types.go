package relationships

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Projection columns shared by every compiled query and by the SQLite backend.
const (
	ColSourceID   = "source_id"
	ColSourceType = "source_type"
	ColTargetID   = "target_id"
	ColTargetType = "target_type"
	ColType       = "type"
	ColCreatedAt  = "createdAt"
	ColProperties = "properties"
)

var reservedKeys = map[string]bool{
	ColSourceID:   true,
	ColSourceType: true,
	ColTargetID:   true,
	ColTargetType: true,
	ColType:       true,
	ColCreatedAt:  true,
}

// EntityRef identifies a node by logical type and identifier. The identifier
// matches either the type's legacy id field or the universal id field.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Valid reports whether both parts are present.
func (r EntityRef) Valid() bool {
	return strings.TrimSpace(r.Type) != "" && strings.TrimSpace(r.ID) != ""
}

func (r EntityRef) String() string {
	return r.Type + ":" + r.ID
}

// Direction selects which side of an edge the queried entity is on.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// ParseDirection accepts "outgoing", "incoming" or "both" (case-insensitive).
// The short forms "out" and "in" are accepted too.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outgoing", "out":
		return Outgoing, nil
	case "incoming", "in":
		return Incoming, nil
	case "both", "any":
		return Both, nil
	}
	return "", fmt.Errorf("invalid direction: %q", s)
}

// Filter narrows a read. Empty fields do not constrain the match.
type Filter struct {
	// Type restricts the relationship type.
	Type string

	// RelatedType restricts the logical type of the entity on the other side.
	RelatedType string
}

// Relationship is the portable form of a stored edge. Properties holds the
// values that passed strict validation; Extra holds everything else, so
// field access through Get never depends on which path built the value.
type Relationship struct {
	SourceID   string
	SourceType string
	TargetID   string
	TargetType string
	Type       string
	CreatedAt  time.Time
	Properties map[string]any
	Extra      map[string]any
}

// InvalidRelationshipError lists why strict construction failed.
type InvalidRelationshipError struct {
	MissingFields []string
	InvalidKeys   []string
}

func (e *InvalidRelationshipError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidKeys) > 0 {
		parts = append(parts, "invalid properties: "+strings.Join(e.InvalidKeys, ", "))
	}
	return "invalid relationship: " + strings.Join(parts, "; ")
}

// NewRelationship builds a Relationship, rejecting missing endpoint fields
// and properties the graph store could not hold as edge properties.
func NewRelationship(base Relationship, props map[string]any) (*Relationship, error) {
	rel, invalid := partition(base, props)

	var missing []string
	for name, v := range map[string]string{
		ColSourceID:   base.SourceID,
		ColSourceType: base.SourceType,
		ColTargetID:   base.TargetID,
		ColTargetType: base.TargetType,
		ColType:       base.Type,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		sort.Strings(missing)
		return nil, &InvalidRelationshipError{MissingFields: missing, InvalidKeys: invalid}
	}
	return rel, nil
}

// looseRelationship keeps every value, parking the ones strict construction
// rejected in Extra.
func looseRelationship(base Relationship, props map[string]any) *Relationship {
	rel, _ := partition(base, props)
	return rel
}

func partition(base Relationship, props map[string]any) (*Relationship, []string) {
	rel := base
	rel.Properties = make(map[string]any, len(props))
	rel.Extra = nil

	var invalid []string
	for k, v := range props {
		if k == "" || reservedKeys[k] || !validPropertyValue(v) {
			if rel.Extra == nil {
				rel.Extra = make(map[string]any)
			}
			rel.Extra[k] = v
			invalid = append(invalid, k)
			continue
		}
		rel.Properties[k] = v
	}
	sort.Strings(invalid)
	return &rel, invalid
}

// validPropertyValue reports whether v is a scalar or a homogeneous list of
// scalars, the shapes a graph edge property can hold.
func validPropertyValue(v any) bool {
	switch val := v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint8, uint16, uint32,
		float32, float64, time.Time:
		return true
	case []string, []int64, []float64, []bool, []int:
		return true
	case []any:
		var kind string
		for _, item := range val {
			k := fmt.Sprintf("%T", item)
			if kind == "" {
				kind = k
			} else if k != kind {
				return false
			}
			switch item.(type) {
			case string, bool, int, int64, float64, time.Time:
			default:
				return false
			}
		}
		return true
	}
	return false
}

// Get returns a field or property by its projection name.
func (r *Relationship) Get(key string) (any, bool) {
	switch key {
	case ColSourceID:
		return r.SourceID, true
	case ColSourceType:
		return r.SourceType, true
	case ColTargetID:
		return r.TargetID, true
	case ColTargetType:
		return r.TargetType, true
	case ColType:
		return r.Type, true
	case ColCreatedAt:
		return r.CreatedAt, true
	}
	if v, ok := r.Properties[key]; ok {
		return v, true
	}
	if v, ok := r.Extra[key]; ok {
		return v, true
	}
	return nil, false
}

// Strict reports whether every property passed validation.
func (r *Relationship) Strict() bool {
	return len(r.Extra) == 0
}

// AsMap flattens the relationship into a single property map.
func (r *Relationship) AsMap() map[string]any {
	m := make(map[string]any, 6+len(r.Properties)+len(r.Extra))
	for k, v := range r.Extra {
		m[k] = v
	}
	for k, v := range r.Properties {
		m[k] = v
	}
	m[ColSourceID] = r.SourceID
	m[ColSourceType] = r.SourceType
	m[ColTargetID] = r.TargetID
	m[ColTargetType] = r.TargetType
	m[ColType] = r.Type
	if !r.CreatedAt.IsZero() {
		m[ColCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	} else {
		m[ColCreatedAt] = nil
	}
	return m
}

// MarshalJSON encodes the flattened form.
func (r *Relationship) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.AsMap())
}

// UnmarshalJSON decodes the flattened form written by MarshalJSON. Whole
// numbers decode as int64. Properties that fail strict validation land in
// Extra.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	props, err := decodeProperties(string(data))
	if err != nil {
		return err
	}

	base := Relationship{
		SourceID:   stringValue(props[ColSourceID]),
		SourceType: stringValue(props[ColSourceType]),
		TargetID:   stringValue(props[ColTargetID]),
		TargetType: stringValue(props[ColTargetType]),
		Type:       stringValue(props[ColType]),
	}
	if t, ok := toTime(props[ColCreatedAt]); ok {
		base.CreatedAt = t
	}
	for k := range reservedKeys {
		delete(props, k)
	}

	*r = *looseRelationship(base, props)
	return nil
}
