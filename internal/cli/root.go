// Package cli implements the relgraph command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemshift/relgraph/internal/client"
	"github.com/systemshift/relgraph/internal/server/app"
	"github.com/systemshift/relgraph/internal/server/config"
	"github.com/systemshift/relgraph/internal/server/logging"
	"github.com/systemshift/relgraph/internal/server/relationships"
)

// engine is the relationship surface shared by an in-process backend and a
// remote server.
type engine interface {
	CreateRelationship(ctx context.Context, source, target relationships.EntityRef, relType string, props map[string]any) (*relationships.Relationship, error)
	GetRelationships(ctx context.Context, entity relationships.EntityRef, dir relationships.Direction, f relationships.Filter) ([]*relationships.Relationship, error)
	DeleteRelationship(ctx context.Context, source, target relationships.EntityRef, relType string) (bool, error)
	Health(ctx context.Context) error
}

// local adapts an App to engine.
type local struct {
	*app.App
}

func (l local) CreateRelationship(ctx context.Context, source, target relationships.EntityRef, relType string, props map[string]any) (*relationships.Relationship, error) {
	return l.Store.CreateRelationship(ctx, source, target, relType, props)
}

func (l local) GetRelationships(ctx context.Context, entity relationships.EntityRef, dir relationships.Direction, f relationships.Filter) ([]*relationships.Relationship, error) {
	return l.Store.GetRelationships(ctx, entity, dir, f)
}

func (l local) DeleteRelationship(ctx context.Context, source, target relationships.EntityRef, relType string) (bool, error) {
	return l.Store.DeleteRelationship(ctx, source, target, relType)
}

// globals holds the persistent flag values shared by every subcommand.
type globals struct {
	envFile    string
	server     string
	backend    string
	sqlitePath string
	logLevel   string
	output     string
	out        io.Writer
	errOut     io.Writer
}

// NewRootCommand builds the command tree writing to out and logging to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	g := &globals{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "relgraph",
		Short: "Manage typed relationships between graph entities",
		Long: `relgraph creates, lists and deletes typed relationships between entities
stored in Neo4j or an embedded SQLite database.

Configuration comes from the environment (and an optional .env file);
the flags below override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&g.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&g.server, "server", os.Getenv("RELGRAPH_SERVER"), "relgraph server URL; when set, relationship commands go over HTTP")
	flags.StringVar(&g.backend, "backend", "", "graph backend (neo4j or sqlite)")
	flags.StringVar(&g.sqlitePath, "sqlite-path", "", "path of the sqlite database")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVarP(&g.output, "output", "o", "json", "output format (json or table)")

	root.AddCommand(
		newServeCommand(g),
		newCreateCommand(g),
		newGetCommand(g),
		newDeleteCommand(g),
		newTypesCommand(g),
		newNodeCommand(g),
		newHealthCommand(g),
	)
	return root
}

// Execute runs the CLI against the process streams.
func Execute() error {
	return NewRootCommand(os.Stdout, os.Stderr).Execute()
}

func (g *globals) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = g.backend
	}
	if flags.Changed("sqlite-path") {
		cfg.SQLitePath = g.sqlitePath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globals) logger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, g.errOut)
}

// withApp loads configuration, opens the engine, runs fn and closes it.
func (g *globals) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := g.config(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, g.logger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// withEngine runs fn against the remote server when --server is set and
// against an in-process backend otherwise.
func (g *globals) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e engine) error) error {
	if g.server != "" {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(ctx, client.New(g.server))
	}
	return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
		return fn(ctx, local{a})
	})
}

func requireSQLite(a *app.App) error {
	if a.SQLite == nil {
		return fmt.Errorf("node commands need the sqlite backend (use --backend sqlite)")
	}
	return nil
}
