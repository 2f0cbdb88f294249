package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systemshift/relgraph/internal/server/app"
	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/relationships"
)

func newServeCommand(g *globals) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, g.logger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Start(ctx); err != nil {
				return err
			}
			return a.Serve(ctx, cfg.Port, cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

func newCreateCommand(g *globals) *cobra.Command {
	var (
		source, target, relType string
		props                   []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or update a relationship",
		Example: `  relgraph create --source Agent:agent-1 --target Project:p-9 --type MANAGES_PROJECT --prop role=lead
  relgraph create --source Agent:a1 --target Skill:go --type HAS_SKILL --prop level=3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseRef(source)
			if err != nil {
				return fmt.Errorf("--source: %w", err)
			}
			tgt, err := parseRef(target)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}
			properties, err := parseProps(props)
			if err != nil {
				return err
			}
			if !registry.IsKnownRelationshipType(relType) {
				fmt.Fprintf(g.errOut, "warning: %s is not in the %s relationship vocabulary\n", relType, registry.OntologyVersion)
			}

			return g.withEngine(cmd, func(ctx context.Context, e engine) error {
				rel, err := e.CreateRelationship(ctx, src, tgt, relType, properties)
				if err != nil {
					return err
				}
				if rel == nil {
					return fmt.Errorf("source %s or target %s not found", src, tgt)
				}
				return g.printRelationships([]*relationships.Relationship{rel})
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source entity as Type:ID")
	cmd.Flags().StringVar(&target, "target", "", "target entity as Type:ID")
	cmd.Flags().StringVar(&relType, "type", "", "relationship type")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "property key=value (repeatable; JSON values are decoded)")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newGetCommand(g *globals) *cobra.Command {
	var direction, relType, relatedType string

	cmd := &cobra.Command{
		Use:   "get Type:ID",
		Short: "List relationships around an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseRef(args[0])
			if err != nil {
				return err
			}
			dir, err := relationships.ParseDirection(direction)
			if err != nil {
				return err
			}

			return g.withEngine(cmd, func(ctx context.Context, e engine) error {
				rels, err := e.GetRelationships(ctx, entity, dir, relationships.Filter{
					Type:        relType,
					RelatedType: relatedType,
				})
				if err != nil {
					return err
				}
				return g.printRelationships(rels)
			})
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "both", "outgoing, incoming or both")
	cmd.Flags().StringVar(&relType, "type", "", "only this relationship type")
	cmd.Flags().StringVar(&relatedType, "related-type", "", "only relationships to this entity type")
	return cmd
}

func newDeleteCommand(g *globals) *cobra.Command {
	var source, target, relType string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a relationship",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseRef(source)
			if err != nil {
				return fmt.Errorf("--source: %w", err)
			}
			tgt, err := parseRef(target)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}

			return g.withEngine(cmd, func(ctx context.Context, e engine) error {
				deleted, err := e.DeleteRelationship(ctx, src, tgt, relType)
				if err != nil {
					return err
				}
				return g.printJSON(map[string]bool{"deleted": deleted})
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source entity as Type:ID")
	cmd.Flags().StringVar(&target, "target", "", "target entity as Type:ID")
	cmd.Flags().StringVar(&relType, "type", "", "relationship type")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newTypesCommand(g *globals) *cobra.Command {
	var registryFile string

	cmd := &cobra.Command{
		Use:   "types",
		Short: "Show the entity type registry and relationship vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.Default()
			if registryFile != "" {
				loaded, err := registry.Load(registryFile)
				if err != nil {
					return err
				}
				reg = loaded
			}
			return g.printTypes(reg)
		},
	}
	cmd.Flags().StringVar(&registryFile, "registry", "", "registry YAML file (default: built-in types)")
	return cmd
}

func newNodeCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage nodes in the sqlite backend",
	}

	var props []string
	put := &cobra.Command{
		Use:   "put Type UID",
		Short: "Create a node or merge properties into it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			properties, err := parseProps(props)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := requireSQLite(a); err != nil {
					return err
				}
				if err := a.SQLite.UpsertNode(ctx, args[0], args[1], properties); err != nil {
					return err
				}
				return g.printJSON(map[string]string{"type": args[0], "uid": args[1]})
			})
		},
	}
	put.Flags().StringArrayVar(&props, "prop", nil, "property key=value (repeatable; JSON values are decoded)")

	del := &cobra.Command{
		Use:   "delete Type:ID",
		Short: "Delete a node and its relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := requireSQLite(a); err != nil {
					return err
				}
				n, err := a.SQLite.DeleteNode(ctx, ref)
				if err != nil {
					return err
				}
				return g.printJSON(map[string]int{"deleted": n})
			})
		},
	}

	cmd.AddCommand(put, del)
	return cmd
}

func newHealthCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend (or --server) is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e engine) error {
				if err := e.Health(ctx); err != nil {
					return err
				}
				return g.printJSON(map[string]string{"status": "ok"})
			})
		},
	}
}

// parseRef splits "Type:ID". The id may itself contain colons.
func parseRef(s string) (relationships.EntityRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	ref := relationships.EntityRef{Type: typ, ID: id}
	if !ok || !ref.Valid() {
		return relationships.EntityRef{}, fmt.Errorf("invalid entity %q, want Type:ID", s)
	}
	return ref, nil
}

// parseProps turns key=value pairs into a property map. Values that parse
// as JSON keep their JSON type; anything else is a string.
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		props[key] = v
	}
	return props, nil
}
