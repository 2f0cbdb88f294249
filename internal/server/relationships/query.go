package relationships

import (
	"fmt"
	"sort"
	"strings"

	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/registry"
)

// queryKind selects one of the fixed query templates.
type queryKind int

const (
	kindCreate queryKind = iota
	kindReadOutgoing
	kindReadIncoming
	kindReadBoth
	kindDelete
)

func (k queryKind) String() string {
	switch k {
	case kindCreate:
		return "create"
	case kindReadOutgoing:
		return "read/outgoing"
	case kindReadIncoming:
		return "read/incoming"
	case kindReadBoth:
		return "read/both"
	case kindDelete:
		return "delete"
	}
	return "unknown"
}

// Template placeholders are {{name}}. Only quoted identifiers and
// registry-derived expressions are substituted; values travel as parameters.
var templates = map[queryKind]string{
	kindCreate: `
MATCH (s:{{source_label}})
WHERE {{source_match}}
MATCH (t:{{target_label}})
WHERE {{target_match}}
WITH s, t LIMIT 1
MERGE (s)-[r:{{rel_type}}]->(t)
SET r.createdAt = coalesce(r.createdAt, datetime())
SET r += $props
RETURN {{source_id}} AS source_id,
       $source_type AS source_type,
       {{target_id}} AS target_id,
       $target_type AS target_type,
       type(r) AS type,
       r.createdAt AS createdAt,
       properties(r) AS properties`,

	kindReadOutgoing: `
MATCH (e:{{entity_label}})-[r{{rel_filter}}]->(o{{related_filter}})
WHERE {{entity_match}}
RETURN {{entity_id}} AS source_id,
       $entity_type AS source_type,
       {{related_id}} AS target_id,
       {{related_type}} AS target_type,
       type(r) AS type,
       r.createdAt AS createdAt,
       properties(r) AS properties
ORDER BY createdAt`,

	kindReadIncoming: `
MATCH (o{{related_filter}})-[r{{rel_filter}}]->(e:{{entity_label}})
WHERE {{entity_match}}
RETURN {{related_id}} AS source_id,
       {{related_type}} AS source_type,
       {{entity_id}} AS target_id,
       $entity_type AS target_type,
       type(r) AS type,
       r.createdAt AS createdAt,
       properties(r) AS properties
ORDER BY createdAt`,

	kindReadBoth: `
MATCH (e:{{entity_label}})-[r{{rel_filter}}]-(o{{related_filter}})
WHERE {{entity_match}}
WITH e, r, o, startNode(r) = e AS anchored
RETURN CASE WHEN anchored THEN {{entity_id}} ELSE {{related_id}} END AS source_id,
       CASE WHEN anchored THEN $entity_type ELSE {{related_type}} END AS source_type,
       CASE WHEN anchored THEN {{related_id}} ELSE {{entity_id}} END AS target_id,
       CASE WHEN anchored THEN {{related_type}} ELSE $entity_type END AS target_type,
       type(r) AS type,
       r.createdAt AS createdAt,
       properties(r) AS properties
ORDER BY createdAt`,

	kindDelete: `
MATCH (s:{{source_label}})
WHERE {{source_match}}
MATCH (t:{{target_label}})
WHERE {{target_match}}
MATCH (s)-[r:{{rel_type}}]->(t)
DELETE r
RETURN count(r) AS deleted`,
}

// Compiler turns relationship operations into parameterized Cypher. It does
// no I/O.
type Compiler struct {
	registry *registry.Registry
}

// NewCompiler creates a compiler bound to a registry.
func NewCompiler(reg *registry.Registry) *Compiler {
	return &Compiler{registry: reg}
}

// Create compiles the idempotent edge upsert.
func (c *Compiler) Create(source, target EntityRef, relType string, props map[string]any) graph.Query {
	if props == nil {
		props = map[string]any{}
	}
	cypher := render(templates[kindCreate], map[string]string{
		"source_label": quote(c.registry.Label(source.Type)),
		"source_match": c.matchExpr("s", source.Type, "source_id"),
		"target_label": quote(c.registry.Label(target.Type)),
		"target_match": c.matchExpr("t", target.Type, "target_id"),
		"rel_type":     quote(relType),
		"source_id":    c.idExpr("s", source.Type),
		"target_id":    c.idExpr("t", target.Type),
	})
	return graph.Query{
		Cypher: cypher,
		Params: map[string]any{
			"source_id":   source.ID,
			"source_type": source.Type,
			"target_id":   target.ID,
			"target_type": target.Type,
			"props":       props,
		},
	}
}

// Read compiles the lookup of edges around one entity.
func (c *Compiler) Read(entity EntityRef, dir Direction, f Filter) (graph.Query, error) {
	var kind queryKind
	switch dir {
	case Outgoing:
		kind = kindReadOutgoing
	case Incoming:
		kind = kindReadIncoming
	case Both:
		kind = kindReadBoth
	default:
		return graph.Query{}, fmt.Errorf("invalid direction: %q", dir)
	}

	params := map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entity.Type,
	}

	relFilter := ""
	if f.Type != "" {
		relFilter = ":" + quote(f.Type)
	}

	relatedFilter := ""
	relatedType := "head(labels(o))"
	if f.RelatedType != "" {
		relatedFilter = ":" + quote(c.registry.Label(f.RelatedType))
		relatedType = "$related_type"
		params["related_type"] = f.RelatedType
	}

	cypher := render(templates[kind], map[string]string{
		"entity_label":   quote(c.registry.Label(entity.Type)),
		"entity_match":   c.matchExpr("e", entity.Type, "entity_id"),
		"entity_id":      c.idExpr("e", entity.Type),
		"rel_filter":     relFilter,
		"related_filter": relatedFilter,
		"related_id":     c.idExpr("o", f.RelatedType),
		"related_type":   relatedType,
	})

	return graph.Query{Cypher: cypher, Params: params}, nil
}

// Delete compiles removal of the typed edge between two entities.
func (c *Compiler) Delete(source, target EntityRef, relType string) graph.Query {
	cypher := render(templates[kindDelete], map[string]string{
		"source_label": quote(c.registry.Label(source.Type)),
		"source_match": c.matchExpr("s", source.Type, "source_id"),
		"target_label": quote(c.registry.Label(target.Type)),
		"target_match": c.matchExpr("t", target.Type, "target_id"),
		"rel_type":     quote(relType),
	})
	return graph.Query{
		Cypher: cypher,
		Params: map[string]any{
			"source_id": source.ID,
			"target_id": target.ID,
		},
	}
}

// matchExpr ORs the legacy id field and the universal id field.
func (c *Compiler) matchExpr(v, logical, param string) string {
	universal := c.registry.UniversalIDField()
	idField := c.registry.IDField(logical)
	if idField == universal {
		return fmt.Sprintf("%s.%s = $%s", v, quote(universal), param)
	}
	return fmt.Sprintf("(%s.%s = $%s OR %s.%s = $%s)",
		v, quote(idField), param, v, quote(universal), param)
}

// idExpr projects a node's identifier, preferring the universal id. When the
// node type is not known up front, the legacy field is chosen by label.
func (c *Compiler) idExpr(v, logical string) string {
	universal := c.registry.UniversalIDField()
	if logical != "" {
		idField := c.registry.IDField(logical)
		if idField == universal {
			return fmt.Sprintf("%s.%s", v, quote(universal))
		}
		return fmt.Sprintf("coalesce(%s.%s, %s.%s)", v, quote(universal), v, quote(idField))
	}

	var cases []string
	for _, t := range c.registry.Types() {
		if t.IDField == universal {
			continue
		}
		cases = append(cases, fmt.Sprintf("WHEN %s:%s THEN %s.%s", v, quote(t.Label), v, quote(t.IDField)))
	}
	if len(cases) == 0 {
		return fmt.Sprintf("%s.%s", v, quote(universal))
	}
	sort.Strings(cases)
	return fmt.Sprintf("coalesce(%s.%s, CASE %s END)", v, quote(universal), strings.Join(cases, " "))
}

// quote escapes an identifier for use as a label, type or property key.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(tmpl))
}
