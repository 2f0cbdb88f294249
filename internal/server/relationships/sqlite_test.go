package relationships

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
)

func newTestStore(t *testing.T) (*SQLiteStore, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	store, err := OpenSQLite(context.Background(), ":memory:", registry.Default(),
		WithLogger(discardLogger()), WithEventEmitter(rec.emit))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// deterministic, strictly increasing timestamps
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store, rec
}

func seedNodes(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, "Agent", "agent-uid-1", map[string]any{"agentId": "A1", "name": "Ada"}))
	require.NoError(t, store.UpsertNode(ctx, "Agent", "agent-uid-2", map[string]any{"agentId": "A2"}))
	require.NoError(t, store.UpsertNode(ctx, "Project", "project-uid-1", map[string]any{"projectId": "P1"}))
	require.NoError(t, store.UpsertNode(ctx, "Skill", "skill-uid-1", map[string]any{"skillId": "S1"}))
	require.NoError(t, store.UpsertNode(ctx, "Win", "win-uid-1", map[string]any{"winId": "W1"}))
}

func TestSQLiteCreateManagesProject(t *testing.T) {
	ctx := context.Background()
	store, rec := newTestStore(t)
	seedNodes(t, store)

	rel, err := store.CreateRelationship(ctx,
		EntityRef{Type: "Agent", ID: "A1"},
		EntityRef{Type: "Project", ID: "P1"},
		"MANAGES_PROJECT",
		map[string]any{"role": "lead", "allocation": 0.5},
	)
	require.NoError(t, err)
	require.NotNil(t, rel)

	assert.Equal(t, "agent-uid-1", rel.SourceID)
	assert.Equal(t, "Agent", rel.SourceType)
	assert.Equal(t, "project-uid-1", rel.TargetID)
	assert.Equal(t, "Project", rel.TargetType)
	assert.Equal(t, "MANAGES_PROJECT", rel.Type)
	assert.False(t, rel.CreatedAt.IsZero())
	assert.Equal(t, "lead", rel.Properties["role"])
	assert.Equal(t, 0.5, rel.Properties["allocation"])

	out, err := store.GetRelationships(ctx, EntityRef{Type: "Agent", ID: "agent-uid-1"}, Outgoing, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rel.CreatedAt, out[0].CreatedAt)

	in, err := store.GetRelationships(ctx, EntityRef{Type: "Project", ID: "P1"}, Incoming, Filter{})
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "agent-uid-1", in[0].SourceID)

	assert.Equal(t, []string{subscriptions.EventRelationshipCreated}, rec.types())
}

func TestSQLiteCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, rec := newTestStore(t)
	seedNodes(t, store)

	a := EntityRef{Type: "Agent", ID: "A1"}
	p := EntityRef{Type: "Project", ID: "project-uid-1"}

	first, err := store.CreateRelationship(ctx, a, p, "MANAGES_PROJECT", map[string]any{"role": "lead", "weight": 1})
	require.NoError(t, err)
	second, err := store.CreateRelationship(ctx, a, p, "MANAGES_PROJECT", map[string]any{"weight": 2, "role": nil})
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, int64(2), second.Properties["weight"])
	assert.NotContains(t, second.Properties, "role")

	rels, err := store.GetRelationships(ctx, a, Both, Filter{})
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	assert.Equal(t, []string{
		subscriptions.EventRelationshipCreated,
		subscriptions.EventRelationshipUpdated,
	}, rec.types())
}

func TestSQLiteCreateMergesAdditively(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	a := EntityRef{Type: "Agent", ID: "A1"}
	p := EntityRef{Type: "Project", ID: "P1"}

	_, err := store.CreateRelationship(ctx, a, p, "MANAGES_PROJECT", map[string]any{"a": 1})
	require.NoError(t, err)
	rel, err := store.CreateRelationship(ctx, a, p, "MANAGES_PROJECT", map[string]any{"b": 2})
	require.NoError(t, err)
	require.NotNil(t, rel)

	assert.Equal(t, int64(1), rel.Properties["a"])
	assert.Equal(t, int64(2), rel.Properties["b"])

	out, err := store.GetRelationships(ctx, a, Outgoing, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(2)}, out[0].Properties)
}

func TestSQLiteCreateReplacesNestedValues(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	a := EntityRef{Type: "Agent", ID: "A1"}
	s := EntityRef{Type: "Skill", ID: "S1"}

	_, err := store.CreateRelationship(ctx, a, s, "HAS_SKILL",
		map[string]any{"meta": map[string]any{"x": 1, "y": 2}, "level": "senior"})
	require.NoError(t, err)
	rel, err := store.CreateRelationship(ctx, a, s, "HAS_SKILL",
		map[string]any{"meta": map[string]any{"x": 5}})
	require.NoError(t, err)
	require.NotNil(t, rel)

	meta, ok := rel.Get("meta")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": int64(5)}, meta)
	assert.Equal(t, "senior", rel.Properties["level"])

	require.NoError(t, store.UpsertNode(ctx, "Agent", "agent-uid-1", map[string]any{"profile": map[string]any{"tz": "UTC", "lang": "en"}}))
	require.NoError(t, store.UpsertNode(ctx, "Agent", "agent-uid-1", map[string]any{"profile": map[string]any{"tz": "CET"}}))
	var profile string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT json_extract(properties, '$.profile') FROM nodes WHERE uid = ?`, "agent-uid-1").Scan(&profile))
	assert.JSONEq(t, `{"tz":"CET"}`, profile)
}

func TestSQLiteManagerRoleLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.UpsertNode(ctx, "Agent", "agent-1", nil))
	require.NoError(t, store.UpsertNode(ctx, "Project", "proj-1", nil))

	agent := EntityRef{Type: "Agent", ID: "agent-1"}
	project := EntityRef{Type: "Project", ID: "proj-1"}

	first, err := store.CreateRelationship(ctx, agent, project, "MANAGES_PROJECT",
		map[string]any{"role": "project_manager", "is_primary": true})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Agent", first.SourceType)
	assert.Equal(t, "Project", first.TargetType)
	assert.Equal(t, "MANAGES_PROJECT", first.Type)
	assert.Equal(t, "project_manager", first.Properties["role"])

	second, err := store.CreateRelationship(ctx, agent, project, "MANAGES_PROJECT",
		map[string]any{"role": "sponsor"})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "sponsor", second.Properties["role"])
	assert.Equal(t, true, second.Properties["is_primary"])
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	ok, err := store.DeleteRelationship(ctx, agent, project, "MANAGES_PROJECT")
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := store.GetRelationships(ctx, agent, Outgoing, Filter{Type: "MANAGES_PROJECT"})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSQLiteBothFromTargetSide(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	_, err := store.CreateRelationship(ctx,
		EntityRef{Type: "Agent", ID: "A1"}, EntityRef{Type: "Win", ID: "W1"}, "ACHIEVED_WIN", nil)
	require.NoError(t, err)

	rels, err := store.GetRelationships(ctx, EntityRef{Type: "Win", ID: "W1"}, Both, Filter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "Agent", rels[0].SourceType)
	assert.Equal(t, "agent-uid-1", rels[0].SourceID)
	assert.Equal(t, "Win", rels[0].TargetType)
	assert.Equal(t, "win-uid-1", rels[0].TargetID)
	assert.Equal(t, "ACHIEVED_WIN", rels[0].Type)
}

func TestSQLiteCreateMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	store, rec := newTestStore(t)
	seedNodes(t, store)

	tests := []struct {
		name   string
		source EntityRef
		target EntityRef
	}{
		{"unknown source", EntityRef{Type: "Agent", ID: "nobody"}, EntityRef{Type: "Project", ID: "P1"}},
		{"unknown target", EntityRef{Type: "Agent", ID: "A1"}, EntityRef{Type: "Project", ID: "nothing"}},
		{"wrong label", EntityRef{Type: "Skill", ID: "A1"}, EntityRef{Type: "Project", ID: "P1"}},
		{"blank id", EntityRef{Type: "Agent", ID: " "}, EntityRef{Type: "Project", ID: "P1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := store.CreateRelationship(ctx, tt.source, tt.target, "MANAGES_PROJECT", nil)
			assert.NoError(t, err)
			assert.Nil(t, rel)
		})
	}
	assert.Empty(t, rec.types())
}

func TestSQLiteGetFilters(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	a1 := EntityRef{Type: "Agent", ID: "A1"}
	mustCreate := func(source, target EntityRef, relType string) {
		t.Helper()
		rel, err := store.CreateRelationship(ctx, source, target, relType, nil)
		require.NoError(t, err)
		require.NotNil(t, rel)
	}
	mustCreate(a1, EntityRef{Type: "Project", ID: "P1"}, "MANAGES_PROJECT")
	mustCreate(a1, EntityRef{Type: "Skill", ID: "S1"}, "HAS_SKILL")
	mustCreate(a1, EntityRef{Type: "Win", ID: "W1"}, "ACHIEVED_WIN")
	mustCreate(EntityRef{Type: "Agent", ID: "A2"}, a1, "GIVES_RECOGNITION")

	tests := []struct {
		name      string
		dir       Direction
		filter    Filter
		wantTypes []string
	}{
		{"outgoing", Outgoing, Filter{}, []string{"MANAGES_PROJECT", "HAS_SKILL", "ACHIEVED_WIN"}},
		{"incoming", Incoming, Filter{}, []string{"GIVES_RECOGNITION"}},
		{"both", Both, Filter{}, []string{"MANAGES_PROJECT", "HAS_SKILL", "ACHIEVED_WIN", "GIVES_RECOGNITION"}},
		{"by type", Both, Filter{Type: "HAS_SKILL"}, []string{"HAS_SKILL"}},
		{"by related type", Outgoing, Filter{RelatedType: "Win"}, []string{"ACHIEVED_WIN"}},
		{"related agent both ways", Both, Filter{RelatedType: "Agent"}, []string{"GIVES_RECOGNITION"}},
		{"no match", Incoming, Filter{Type: "HAS_SKILL"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels, err := store.GetRelationships(ctx, a1, tt.dir, tt.filter)
			require.NoError(t, err)
			got := make([]string, 0, len(rels))
			for _, r := range rels {
				got = append(got, r.Type)
			}
			assert.Equal(t, tt.wantTypes, got)
		})
	}

	wins, err := store.GetRelationships(ctx, a1, Outgoing, Filter{RelatedType: "Win"})
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, "Win", wins[0].TargetType)
	assert.Equal(t, "win-uid-1", wins[0].TargetID)

	incoming, err := store.GetRelationships(ctx, a1, Incoming, Filter{})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "agent-uid-2", incoming[0].SourceID)
	assert.Equal(t, "agent-uid-1", incoming[0].TargetID)
}

func TestSQLiteGetEdgeCases(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	rels, err := store.GetRelationships(ctx, EntityRef{Type: "Agent", ID: "ghost"}, Both, Filter{})
	require.NoError(t, err)
	assert.NotNil(t, rels)
	assert.Empty(t, rels)

	rels, err = store.GetRelationships(ctx, EntityRef{}, Both, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rels)

	_, err = store.GetRelationships(ctx, EntityRef{Type: "Agent", ID: "A1"}, Direction("up"), Filter{})
	assert.Error(t, err)
}

func TestSQLiteDelete(t *testing.T) {
	ctx := context.Background()
	store, rec := newTestStore(t)
	seedNodes(t, store)

	a := EntityRef{Type: "Agent", ID: "A1"}
	s := EntityRef{Type: "Skill", ID: "skill-uid-1"}
	_, err := store.CreateRelationship(ctx, a, s, "HAS_SKILL", nil)
	require.NoError(t, err)

	ok, err := store.DeleteRelationship(ctx, a, s, "REQUIRES_SKILL")
	require.NoError(t, err)
	assert.False(t, ok, "wrong type leaves the edge")

	ok, err = store.DeleteRelationship(ctx, s, a, "HAS_SKILL")
	require.NoError(t, err)
	assert.False(t, ok, "direction matters")

	ok, err = store.DeleteRelationship(ctx, EntityRef{Type: "Agent", ID: "agent-uid-1"}, EntityRef{Type: "Skill", ID: "S1"}, "HAS_SKILL")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DeleteRelationship(ctx, a, s, "HAS_SKILL")
	require.NoError(t, err)
	assert.False(t, ok)

	rels, err := store.GetRelationships(ctx, a, Both, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rels)

	assert.Equal(t, []string{
		subscriptions.EventRelationshipCreated,
		subscriptions.EventRelationshipDeleted,
	}, rec.types())
}

func TestSQLiteDeleteNodeCascades(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	seedNodes(t, store)

	a := EntityRef{Type: "Agent", ID: "A1"}
	_, err := store.CreateRelationship(ctx, a, EntityRef{Type: "Project", ID: "P1"}, "MANAGES_PROJECT", nil)
	require.NoError(t, err)

	n, err := store.DeleteNode(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rels, err := store.GetRelationships(ctx, EntityRef{Type: "Project", ID: "P1"}, Both, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rels)

	n, err = store.DeleteNode(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteUpsertNode(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	assert.Error(t, store.UpsertNode(ctx, "", "x", nil))
	assert.Error(t, store.UpsertNode(ctx, "Agent", "", nil))

	require.NoError(t, store.UpsertNode(ctx, "Agent", "u1", map[string]any{"agentId": "old"}))
	require.NoError(t, store.UpsertNode(ctx, "Agent", "u1", map[string]any{"agentId": "new"}))
	require.NoError(t, store.UpsertNode(ctx, "Project", "p", nil))

	rel, err := store.CreateRelationship(ctx, EntityRef{Type: "Agent", ID: "new"}, EntityRef{Type: "Project", ID: "p"}, "MANAGES_PROJECT", nil)
	require.NoError(t, err)
	require.NotNil(t, rel)

	rel, err = store.CreateRelationship(ctx, EntityRef{Type: "Agent", ID: "old"}, EntityRef{Type: "Project", ID: "p"}, "MANAGES_PROJECT", nil)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relgraph.db")

	store, err := OpenSQLite(ctx, path, registry.Default(), WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, store.UpsertNode(ctx, "Agent", "a", nil))
	require.NoError(t, store.UpsertNode(ctx, "Tension", "t", map[string]any{"tensionId": "T-1"}))
	_, err = store.CreateRelationship(ctx, EntityRef{Type: "Agent", ID: "a"}, EntityRef{Type: "Tension", ID: "T-1"}, "RAISES_TENSION", map[string]any{"severity": "high"})
	require.NoError(t, err)
	require.NoError(t, store.Health(ctx))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path, registry.Default(), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer reopened.Close()

	rels, err := reopened.GetRelationships(ctx, EntityRef{Type: "Tension", ID: "t"}, Incoming, Filter{Type: "RAISES_TENSION"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "high", rels[0].Properties["severity"])
}

func TestDecodeProperties(t *testing.T) {
	props, err := decodeProperties(`{"n": 3, "f": 2.5, "list": [1, 2], "s": "x", "b": true}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), props["n"])
	assert.Equal(t, 2.5, props["f"])
	assert.Equal(t, []any{int64(1), int64(2)}, props["list"])
	assert.Equal(t, "x", props["s"])
	assert.Equal(t, true, props["b"])

	_, err = decodeProperties("{not json")
	assert.Error(t, err)
}
