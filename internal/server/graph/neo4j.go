package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Client runs queries against Neo4j. It may be used by many goroutines;
// the driver handle is guarded so Close can race with in-flight calls.
type Client struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	driver neo4j.DriverWithContext
}

// New creates a Neo4j client and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
			c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
			c.MaxTransactionRetryTime = cfg.MaxTransactionRetryTime
		},
	)
	if err != nil {
		return nil, newError(CodeInvalidConfig, "connect", "creating neo4j driver", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, newError(CodeUnavailable, "connect", "connecting to neo4j", err)
	}

	logger.Info("connected to neo4j", slog.String("uri", cfg.URI), slog.String("database", cfg.Database))

	return &Client{config: cfg, driver: driver, logger: logger}, nil
}

// Close closes the driver and its pool. Later calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()

	if driver == nil {
		return nil
	}
	if err := driver.Close(ctx); err != nil {
		return newError(CodeClosed, "close", "closing driver", err)
	}
	return nil
}

func (c *Client) currentDriver() neo4j.DriverWithContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver
}

// Health verifies connectivity with a bounded timeout.
func (c *Client) Health(ctx context.Context) error {
	driver := c.currentDriver()
	if driver == nil {
		return newError(CodeClosed, "health", "driver not initialized", nil)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(healthCtx); err != nil {
		return newError(CodeUnavailable, "health", "connectivity check failed", err)
	}
	return nil
}

// ExecuteRead runs q in a read-mode transaction.
func (c *Client) ExecuteRead(ctx context.Context, q Query) (*Result, error) {
	return c.execute(ctx, neo4j.AccessModeRead, "read", q)
}

// ExecuteWrite runs q in a write-mode transaction and commits it.
func (c *Client) ExecuteWrite(ctx context.Context, q Query) (*Result, error) {
	return c.execute(ctx, neo4j.AccessModeWrite, "write", q)
}

// execute opens one session and one explicit transaction. Explicit
// transactions are not retried by the driver; failures go straight back
// to the caller.
func (c *Client) execute(ctx context.Context, mode neo4j.AccessMode, op string, q Query) (*Result, error) {
	driver := c.currentDriver()
	if driver == nil {
		return nil, newError(CodeClosed, op, "driver not connected", nil)
	}

	start := time.Now()

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return nil, classify(op, "beginning transaction", err)
	}
	defer tx.Close(ctx)

	res, err := tx.Run(ctx, q.Cypher, q.Params)
	if err != nil {
		return nil, classify(op, "running query", err)
	}

	records, err := res.Collect(ctx)
	if err != nil {
		return nil, classify(op, "collecting records", err)
	}

	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, classify(op, "consuming result", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(op, "committing transaction", err)
	}

	result := convertResult(records, summary)
	result.Summary.ExecutionTime = time.Since(start)

	c.logger.Debug("graph query executed",
		slog.String("mode", op),
		slog.Int("records", len(result.Records)),
		slog.Duration("duration", result.Summary.ExecutionTime),
	)

	return result, nil
}

// classify separates "could not reach the store" from query failures.
func classify(op, msg string, err error) error {
	if neo4j.IsConnectivityError(err) {
		return newError(CodeUnavailable, op, msg, err)
	}
	return newError(CodeQueryFailed, op, msg, err)
}

// convertResult copies driver records and counters into a Result.
func convertResult(records []*neo4j.Record, summary neo4j.ResultSummary) *Result {
	result := &Result{
		Keys:    []string{},
		Records: make([]map[string]any, 0, len(records)),
	}

	if len(records) > 0 {
		result.Keys = records[0].Keys
	}

	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			if i < len(record.Values) {
				row[key] = record.Values[i]
			}
		}
		result.Records = append(result.Records, row)
	}

	if summary != nil && summary.Counters() != nil {
		counters := summary.Counters()
		result.Summary = Summary{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
		}
	}

	return result
}
