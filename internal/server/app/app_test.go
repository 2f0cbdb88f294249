package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/systemshift/relgraph/internal/server/config"
	"github.com/systemshift/relgraph/internal/server/telemetry"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "relgraph.db"),
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, sqliteConfig(t), quiet())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))
	require.NotNil(t, a.SQLite)

	require.NoError(t, a.SQLite.UpsertNode(ctx, "Agent", "agent-uid", map[string]any{"agentId": "A-1"}))
	require.NoError(t, a.SQLite.UpsertNode(ctx, "Project", "project-uid", map[string]any{"projectId": "P-1"}))

	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"source":     map[string]string{"type": "Agent", "id": "A-1"},
		"target":     map[string]string{"type": "Project", "id": "P-1"},
		"type":       "MANAGES_PROJECT",
		"properties": map[string]any{"role": "lead"},
	})
	resp, err := http.Post(ts.URL+"/api/relationships", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/entities/Project/project-uid/relationships?direction=incoming")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Relationships []map[string]any `json:"relationships"`
		Count         int              `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "agent-uid", list.Relationships[0]["source_id"])
	assert.Equal(t, "lead", list.Relationships[0]["role"])

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestNewWithFiles(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "registry.yaml")
	subPath := filepath.Join(dir, "subscriptions.yaml")

	require.NoError(t, os.WriteFile(regPath, []byte(`
universal_id_field: uid
types:
  - name: Doc
    id_field: docId
`), 0o644))
	require.NoError(t, os.WriteFile(subPath, []byte(`
subscriptions:
  - id: citations
    name: citations
    webhook: http://example.com/hook
`), 0o644))

	cfg := sqliteConfig(t)
	cfg.RegistryFile = regPath
	cfg.SubscriptionsFile = subPath

	a, err := New(context.Background(), cfg, quiet())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "docId", a.Registry.IDField("Doc"))
	_, err = a.Subscriptions.Get("citations")
	assert.NoError(t, err)
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing registry file", func(c *config.Config) { c.RegistryFile = "/nonexistent/registry.yaml" }},
		{"missing subscriptions file", func(c *config.Config) { c.SubscriptionsFile = "/nonexistent/subs.yaml" }},
		{"unknown backend", func(c *config.Config) { c.Backend = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqliteConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, quiet())
			assert.Error(t, err)
		})
	}
}

func TestNewInstallsTracerProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := sqliteConfig(t)
	cfg.Tracing = telemetry.Config{Enabled: true, ServiceName: "relgraph-test", SampleRate: 1}

	a, err := New(context.Background(), cfg, quiet())
	require.NoError(t, err)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok, "global tracer provider should be the sdk provider")

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, a.Close())
	_, span = tp.Tracer("test").Start(context.Background(), "after-close")
	assert.False(t, span.SpanContext().IsValid(), "provider should be shut down by Close")
}
