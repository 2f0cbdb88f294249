package graph

import (
	"context"
	"time"
)

// Query is a parameterized Cypher statement.
type Query struct {
	Cypher string
	Params map[string]any
}

// Executor runs exactly one query per call inside its own transaction.
// Implementations must be safe for concurrent use.
type Executor interface {
	// ExecuteRead runs the query in a read transaction.
	ExecuteRead(ctx context.Context, q Query) (*Result, error)

	// ExecuteWrite runs the query in a write transaction and commits it.
	ExecuteWrite(ctx context.Context, q Query) (*Result, error)
}

// Result holds the records and write summary of one query.
type Result struct {
	// Keys are the projected column names.
	Keys []string

	// Records contains the result rows as maps of column name to value.
	Records []map[string]any

	Summary Summary
}

// Summary carries the mutation counters reported by the store.
type Summary struct {
	ExecutionTime        time.Duration
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
}

// Config contains connection options for the Neo4j client.
type Config struct {
	// URI is the connection URI, e.g. "bolt://host:7687" or "neo4j+s://host".
	URI string

	Username string
	Password string

	// Database name; empty uses the server default.
	Database string

	// MaxConnectionPoolSize limits the pool. Zero or negative uses the driver default.
	MaxConnectionPoolSize int

	// ConnectionTimeout bounds connection acquisition.
	ConnectionTimeout time.Duration

	// MaxTransactionRetryTime is handed to the driver. Queries run in explicit
	// transactions, which the driver does not retry.
	MaxTransactionRetryTime time.Duration
}

// DefaultConfig returns a Config with local development defaults.
func DefaultConfig() Config {
	return Config{
		URI:                     "bolt://localhost:7687",
		Username:                "neo4j",
		Password:                "password",
		Database:                "",
		MaxConnectionPoolSize:   50,
		ConnectionTimeout:       30 * time.Second,
		MaxTransactionRetryTime: 30 * time.Second,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.URI == "" {
		return newError(CodeInvalidConfig, "validate", "URI cannot be empty", nil)
	}
	if c.Username == "" {
		return newError(CodeInvalidConfig, "validate", "username cannot be empty", nil)
	}
	if c.ConnectionTimeout <= 0 {
		return newError(CodeInvalidConfig, "validate", "connection timeout must be positive", nil)
	}
	if c.MaxTransactionRetryTime < 0 {
		return newError(CodeInvalidConfig, "validate", "transaction retry time cannot be negative", nil)
	}
	return nil
}
