package graph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty URI", mutate: func(c *Config) { c.URI = "" }, wantErr: true},
		{name: "empty username", mutate: func(c *Config) { c.Username = "" }, wantErr: true},
		{name: "empty password allowed", mutate: func(c *Config) { c.Password = "" }},
		{name: "zero connection timeout", mutate: func(c *Config) { c.ConnectionTimeout = 0 }, wantErr: true},
		{name: "negative retry time", mutate: func(c *Config) { c.MaxTransactionRetryTime = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "bolt://localhost:7687", cfg.URI)
	assert.Equal(t, "neo4j", cfg.Username)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, 50, cfg.MaxConnectionPoolSize)
	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{config: DefaultConfig()}

	_, err := c.ExecuteRead(context.Background(), Query{Cypher: "RETURN 1"})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.ExecuteWrite(context.Background(), Query{Cypher: "RETURN 1"})
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, c.Health(context.Background()), ErrClosed)
	assert.NoError(t, c.Close(context.Background()))
}

// stubDriver implements only the driver methods Health and Close use.
type stubDriver struct {
	neo4j.DriverWithContext
	closes atomic.Int32
}

func (d *stubDriver) VerifyConnectivity(context.Context) error { return nil }

func (d *stubDriver) Close(context.Context) error {
	d.closes.Add(1)
	return nil
}

func TestClient_CloseConcurrentWithHealth(t *testing.T) {
	driver := &stubDriver{}
	c := &Client{config: DefaultConfig(), driver: driver, logger: slog.Default()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := c.Health(context.Background())
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Close(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), driver.closes.Load(), "driver closed exactly once")
	assert.ErrorIs(t, c.Health(context.Background()), ErrClosed)
	_, err := c.ExecuteRead(context.Background(), Query{Cypher: "RETURN 1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConvertResult(t *testing.T) {
	records := []*neo4j.Record{
		{Keys: []string{"source_id", "type"}, Values: []any{"agent-1", "MANAGES_PROJECT"}},
		{Keys: []string{"source_id", "type"}, Values: []any{"agent-2", "HAS_SKILL"}},
	}

	result := convertResult(records, nil)

	assert.Equal(t, []string{"source_id", "type"}, result.Keys)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "agent-1", result.Records[0]["source_id"])
	assert.Equal(t, "HAS_SKILL", result.Records[1]["type"])
	assert.Equal(t, 0, result.Summary.RelationshipsCreated)
}

func TestConvertResult_Empty(t *testing.T) {
	result := convertResult(nil, nil)

	assert.NotNil(t, result.Records)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Keys)
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(CodeUnavailable, "write", "running query", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "GRAPH_UNAVAILABLE")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMockExecutor(t *testing.T) {
	m := NewMockExecutor()
	m.QueueRecords(map[string]any{"n": 1})

	r, err := m.ExecuteWrite(context.Background(), Query{Cypher: "CREATE ()"})
	require.NoError(t, err)
	require.Len(t, r.Records, 1)

	r, err = m.ExecuteRead(context.Background(), Query{Cypher: "MATCH (n) RETURN n"})
	require.NoError(t, err)
	assert.Empty(t, r.Records)

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "write", calls[0].Mode)
	assert.Equal(t, "read", calls[1].Mode)

	m.SetError(ErrUnavailable)
	_, err = m.ExecuteRead(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestInstrumentedExecutor(t *testing.T) {
	m := NewMockExecutor()
	m.QueueResult(&Result{
		Records: []map[string]any{{"deleted": int64(1)}},
		Summary: Summary{RelationshipsDeleted: 1},
	})

	exec := Instrument(m)

	r, err := exec.ExecuteWrite(context.Background(), Query{Cypher: "MATCH ()-[r]->() DELETE r"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Summary.RelationshipsDeleted)

	m.SetError(newError(CodeUnavailable, "read", "down", nil))
	_, err = exec.ExecuteRead(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "unavailable", outcome(err))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInstrumentedExecutorSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	m := NewMockExecutor()
	m.QueueResult(&Result{
		Records: []map[string]any{{"source": "a"}, {"source": "b"}},
		Summary: Summary{RelationshipsCreated: 2, RelationshipsDeleted: 1},
	})
	exec := Instrument(m, WithTracer(tp.Tracer("test")))

	_, err := exec.ExecuteWrite(context.Background(), Query{
		Cypher: "MERGE (a)-[r:KNOWS]->(b)",
		Params: map[string]any{"a": 1, "b": 2},
	})
	require.NoError(t, err)

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	write := spans[0]
	assert.Equal(t, SpanGraphWrite, write.Name())
	assert.Equal(t, codes.Ok, write.Status().Code)

	attrs := spanAttrs(write)
	assert.Equal(t, "neo4j", attrs["db.system"].AsString())
	assert.Equal(t, "write", attrs["db.operation"].AsString())
	assert.Equal(t, int64(2), attrs["db.params"].AsInt64())
	assert.Equal(t, int64(2), attrs["relgraph.records"].AsInt64())
	assert.Equal(t, int64(2), attrs["relgraph.relationships_created"].AsInt64())
	assert.Equal(t, int64(1), attrs["relgraph.relationships_deleted"].AsInt64())

	exporter.Reset()
	m.SetError(newError(CodeUnavailable, "read", "down", nil))
	_, err = exec.ExecuteRead(context.Background(), Query{})
	require.Error(t, err)

	spans = exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanGraphRead, spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotContains(t, spanAttrs(spans[0]), attribute.Key("relgraph.relationships_created"))
}
