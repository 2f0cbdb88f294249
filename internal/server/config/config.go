package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/telemetry"
)

// Backend names
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
)

// Config holds all server configuration
type Config struct {
	// Server settings
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// Storage
	Backend    string `env:"GRAPH_BACKEND" envDefault:"neo4j"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"relgraph.db"`
	Neo4j      Neo4jConfig

	// Registry and subscriptions
	RegistryFile      string `env:"REGISTRY_FILE"`
	SubscriptionsFile string `env:"SUBSCRIPTIONS_FILE"`

	// Event publication
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"relgraph"`

	// Tracing
	Tracing telemetry.Config
}

// Neo4jConfig holds Neo4j connection settings
type Neo4jConfig struct {
	URI                     string        `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	User                    string        `env:"NEO4J_USER" envDefault:"neo4j"`
	Password                string        `env:"NEO4J_PASSWORD" envDefault:"password"`
	Database                string        `env:"NEO4J_DATABASE" envDefault:"neo4j"`
	MaxPoolSize             int           `env:"NEO4J_MAX_POOL_SIZE" envDefault:"50"`
	ConnectionTimeout       time.Duration `env:"NEO4J_CONNECTION_TIMEOUT" envDefault:"30s"`
	MaxTransactionRetryTime time.Duration `env:"NEO4J_MAX_TX_RETRY_TIME" envDefault:"30s"`
}

// Graph converts the settings into a driver configuration.
func (n Neo4jConfig) Graph() graph.Config {
	return graph.Config{
		URI:                     n.URI,
		Username:                n.User,
		Password:                n.Password,
		Database:                n.Database,
		MaxConnectionPoolSize:   n.MaxPoolSize,
		ConnectionTimeout:       n.ConnectionTimeout,
		MaxTransactionRetryTime: n.MaxTransactionRetryTime,
	}
}

// Load reads optional dotenv files, then parses the environment. Values
// already present in the environment win over dotenv values; missing
// dotenv files are skipped.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown GRAPH_BACKEND %q (want %s or %s)", c.Backend, BackendNeo4j, BackendSQLite)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return c.Tracing.Validate()
}
