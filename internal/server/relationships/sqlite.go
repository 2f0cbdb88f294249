package relationships

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
)

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectRelationships = `
SELECT s.label, s.uid, t.label, t.uid, r.type, r.created_at, r.properties
FROM relationships r
JOIN nodes s ON s.rowid = r.source_rowid
JOIN nodes t ON t.rowid = r.target_rowid`

// SQLiteStore implements the relationship operations on an embedded SQLite
// database. Nodes carry a label, a universal id and a JSON property bag;
// legacy id fields are looked up inside the bag.
type SQLiteStore struct {
	db        *sql.DB
	registry  *registry.Registry
	normalize *normalizer
	logger    *slog.Logger
	emit      func(subscriptions.Event)
	now       func() time.Time
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string, reg *registry.Registry, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection keeps pragmas and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	o := buildOptions(opts)
	return &SQLiteStore{
		db:        db,
		registry:  reg,
		normalize: &normalizer{registry: reg, logger: o.logger},
		logger:    o.logger,
		emit:      o.emit,
		now:       time.Now,
	}, nil
}

// Close closes the SQLite connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Registry returns the entity type registry the store resolves against.
func (s *SQLiteStore) Registry() *registry.Registry {
	return s.registry
}

// UpsertNode creates the node (entityType, uid) or merges props into the
// existing one. Supplied keys replace stored values whole; nil values
// remove the property.
func (s *SQLiteStore) UpsertNode(ctx context.Context, entityType, uid string, props map[string]any) error {
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(uid) == "" {
		return fmt.Errorf("node type and uid are required")
	}

	encoded, err := encodeProperties(props)
	if err != nil {
		return err
	}

	now := s.timestamp()
	merge, mergeArgs := mergeProperties("nodes.properties", props, encoded)
	args := append([]any{s.registry.Label(entityType), uid, encoded, now, now}, mergeArgs...)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, uid, properties, created_at, modified_at)
		VALUES (?, ?, json_patch('{}', ?), ?, ?)
		ON CONFLICT(label, uid) DO UPDATE SET
			properties = `+merge+`,
			modified_at = excluded.modified_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upserting node %s:%s: %w", entityType, uid, err)
	}
	return nil
}

// DeleteNode removes every node ref resolves to along with its
// relationships. It returns the number of nodes removed.
func (s *SQLiteStore) DeleteNode(ctx context.Context, ref EntityRef) (int, error) {
	if !ref.Valid() {
		return 0, nil
	}

	match, args := s.nodeMatch("n", ref)
	nodes := "SELECT n.rowid FROM nodes n WHERE " + match

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	relArgs := append(append([]any{}, args...), args...)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relationships WHERE source_rowid IN ("+nodes+") OR target_rowid IN ("+nodes+")",
		relArgs...); err != nil {
		return 0, fmt.Errorf("deleting relationships of %s: %w", ref, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE rowid IN ("+nodes+")", args...)
	if err != nil {
		return 0, fmt.Errorf("deleting node %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing node delete: %w", err)
	}
	return int(n), nil
}

// CreateRelationship creates the edge source -[relType]-> target or merges
// props into the existing one. Merging matches Neo4j's SET r += $props:
// top-level keys are overwritten, nested objects are not merged. It returns nil without error when either
// endpoint does not resolve to a node.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, source, target EntityRef, relType string, props map[string]any) (*Relationship, error) {
	if !source.Valid() || !target.Valid() || strings.TrimSpace(relType) == "" {
		return nil, nil
	}

	props = sanitizeProperties(props, s.logger)
	encoded, err := encodeProperties(props)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	sourceRow, ok, err := s.resolveNode(ctx, tx, source)
	if err != nil || !ok {
		return nil, err
	}
	targetRow, ok, err := s.resolveNode(ctx, tx, target)
	if err != nil || !ok {
		return nil, err
	}

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM relationships WHERE source_rowid = ? AND target_rowid = ? AND type = ?`,
		sourceRow, targetRow, relType).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return nil, fmt.Errorf("checking relationship: %w", err)
	}

	now := s.timestamp()
	merge, mergeArgs := mergeProperties("relationships.properties", props, encoded)
	args := append([]any{sourceRow, targetRow, relType, encoded, now, now}, mergeArgs...)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships (source_rowid, target_rowid, type, properties, created_at, modified_at)
		VALUES (?, ?, ?, json_patch('{}', ?), ?, ?)
		ON CONFLICT(source_rowid, target_rowid, type) DO UPDATE SET
			properties = `+merge+`,
			modified_at = excluded.modified_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("creating relationship %s -[%s]-> %s: %w", source, relType, target, err)
	}

	rows, err := tx.QueryContext(ctx,
		selectRelationships+` WHERE r.source_rowid = ? AND r.target_rowid = ? AND r.type = ?`,
		sourceRow, targetRow, relType)
	if err != nil {
		return nil, fmt.Errorf("reading created relationship: %w", err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("relationship %s -[%s]-> %s vanished after upsert", source, relType, target)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing relationship: %w", err)
	}

	rel := s.normalize.relationship(records[0], props)
	eventType := subscriptions.EventRelationshipUpdated
	if created {
		eventType = subscriptions.EventRelationshipCreated
	}
	publish(s.emit, eventType, rel)
	return rel, nil
}

// GetRelationships lists edges around entity ordered by creation time.
func (s *SQLiteStore) GetRelationships(ctx context.Context, entity EntityRef, dir Direction, f Filter) ([]*Relationship, error) {
	if !entity.Valid() {
		return []*Relationship{}, nil
	}

	var (
		where []string
		args  []any
	)

	// side builds the predicate for entity sitting at alias, with the
	// related node at other.
	side := func(alias, other string) string {
		match, margs := s.nodeMatch(alias, entity)
		args = append(args, margs...)
		if f.RelatedType != "" {
			args = append(args, s.registry.Label(f.RelatedType))
			return "(" + match + " AND " + other + ".label = ?)"
		}
		return "(" + match + ")"
	}

	switch dir {
	case Outgoing:
		where = append(where, side("s", "t"))
	case Incoming:
		where = append(where, side("t", "s"))
	case Both:
		out := side("s", "t")
		in := side("t", "s")
		where = append(where, "("+out+" OR "+in+")")
	default:
		return nil, fmt.Errorf("invalid direction: %q", dir)
	}

	if f.Type != "" {
		where = append(where, "r.type = ?")
		args = append(args, f.Type)
	}

	query := selectRelationships + " WHERE " + strings.Join(where, " AND ") + " ORDER BY r.created_at, r.id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading relationships of %s: %w", entity, err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("reading relationships of %s: %w", entity, err)
	}

	rels := make([]*Relationship, 0, len(records))
	for _, row := range records {
		rels = append(rels, s.normalize.relationship(row, nil))
	}
	return rels, nil
}

// DeleteRelationship removes the edge source -[relType]-> target. It
// reports whether at least one edge was removed.
func (s *SQLiteStore) DeleteRelationship(ctx context.Context, source, target EntityRef, relType string) (bool, error) {
	if !source.Valid() || !target.Valid() || strings.TrimSpace(relType) == "" {
		return false, nil
	}

	sourceMatch, sourceArgs := s.nodeMatch("s", source)
	targetMatch, targetArgs := s.nodeMatch("t", target)

	args := []any{relType}
	args = append(args, sourceArgs...)
	args = append(args, targetArgs...)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE type = ?
		  AND source_rowid IN (SELECT s.rowid FROM nodes s WHERE `+sourceMatch+`)
		  AND target_rowid IN (SELECT t.rowid FROM nodes t WHERE `+targetMatch+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("deleting relationship %s -[%s]-> %s: %w", source, relType, target, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	publish(s.emit, subscriptions.EventRelationshipDeleted, &Relationship{
		SourceID:   source.ID,
		SourceType: source.Type,
		TargetID:   target.ID,
		TargetType: target.Type,
		Type:       relType,
	})
	return true, nil
}

// nodeMatch returns a predicate matching ref by label and either its legacy
// id field or its uid.
func (s *SQLiteStore) nodeMatch(alias string, ref EntityRef) (string, []any) {
	label := s.registry.Label(ref.Type)
	idField := s.registry.IDField(ref.Type)

	if idField == s.registry.UniversalIDField() {
		return fmt.Sprintf("%s.label = ? AND %s.uid = ?", alias, alias), []any{label, ref.ID}
	}
	return fmt.Sprintf("%s.label = ? AND (%s.uid = ? OR json_extract(%s.properties, ?) = ?)", alias, alias, alias),
		[]any{label, ref.ID, jsonPath(idField), ref.ID}
}

// resolveNode returns the lowest rowid matching ref.
func (s *SQLiteStore) resolveNode(ctx context.Context, q queryer, ref EntityRef) (int64, bool, error) {
	match, args := s.nodeMatch("n", ref)

	var rowid int64
	err := q.QueryRowContext(ctx, "SELECT n.rowid FROM nodes n WHERE "+match+" ORDER BY n.rowid LIMIT 1", args...).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("endpoint not found", slog.String("entity", ref.String()))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving %s: %w", ref, err)
	}
	return rowid, true, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		var sourceLabel, sourceUID, targetLabel, targetUID, relType, createdAt, props string
		if err := rows.Scan(&sourceLabel, &sourceUID, &targetLabel, &targetUID, &relType, &createdAt, &props); err != nil {
			return nil, err
		}
		decoded, err := decodeProperties(props)
		if err != nil {
			return nil, err
		}
		records = append(records, map[string]any{
			ColSourceID:   sourceUID,
			ColSourceType: sourceLabel,
			ColTargetID:   targetUID,
			ColTargetType: targetLabel,
			ColType:       relType,
			ColCreatedAt:  createdAt,
			ColProperties: decoded,
		})
	}
	return records, rows.Err()
}

// mergeProperties returns a SQL expression applying props to the JSON
// object in column, plus its bind arguments. Supplied keys are removed first
// so json_patch writes them whole instead of merging nested objects.
func mergeProperties(column string, props map[string]any, encoded string) (string, []any) {
	keys := slices.Sorted(maps.Keys(props))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, jsonPath(k))
	}
	args = append(args, encoded)
	return "json_patch(json_remove(" + column + strings.Repeat(", ?", len(keys)) + "), ?)", args
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func encodeProperties(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding properties: %w", err)
	}
	return string(data), nil
}

// decodeProperties parses a stored property bag. Whole numbers come back as
// int64 and everything else keeps its JSON type.
func decodeProperties(text string) (map[string]any, error) {
	props := map[string]any{}
	if text == "" {
		return props, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	return NormalizeNumbers(props), nil
}

// NormalizeNumbers replaces json.Number values in props, decoded with
// UseNumber, by int64 for whole numbers and float64 otherwise. Nested
// lists and objects are converted too. props is modified in place.
func NormalizeNumbers(props map[string]any) map[string]any {
	for k, v := range props {
		props[k] = fromJSON(v)
	}
	return props
}

func fromJSON(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i, item := range val {
			val[i] = fromJSON(item)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = fromJSON(item)
		}
		return val
	}
	return v
}
