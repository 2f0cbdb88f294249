package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/relationships"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func (g *globals) printJSON(v any) error {
	enc := json.NewEncoder(g.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (g *globals) printRelationships(rels []*relationships.Relationship) error {
	if g.output != "table" {
		if rels == nil {
			rels = []*relationships.Relationship{}
		}
		return g.printJSON(rels)
	}

	rows := make([][]string, 0, len(rels))
	for _, r := range rels {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = humanize.Time(r.CreatedAt)
		}
		rows = append(rows, []string{
			r.SourceType + ":" + r.SourceID,
			r.Type,
			r.TargetType + ":" + r.TargetID,
			created,
			formatProps(r),
		})
	}
	return g.printTable([]string{"SOURCE", "TYPE", "TARGET", "CREATED", "PROPERTIES"}, rows)
}

func (g *globals) printTypes(reg *registry.Registry) error {
	if g.output != "table" {
		return g.printJSON(map[string]any{
			"universal_id_field": reg.UniversalIDField(),
			"types":              reg.Types(),
			"relationship_types": registry.RelationshipTypes(),
			"version":            registry.OntologyVersion,
		})
	}

	rows := make([][]string, 0, len(reg.Types()))
	for _, t := range reg.Types() {
		rows = append(rows, []string{t.Name, t.Label, t.IDField})
	}
	if err := g.printTable([]string{"TYPE", "LABEL", "ID FIELD"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(g.out, "\nrelationship types (%s): %s\n",
		registry.OntologyVersion, strings.Join(registry.RelationshipTypes(), ", "))
	return err
}

func (g *globals) printTable(headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(g.out, t.Render())
	return err
}

func formatProps(r *relationships.Relationship) string {
	m := r.AsMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case relationships.ColSourceID, relationships.ColSourceType,
			relationships.ColTargetID, relationships.ColTargetType,
			relationships.ColType, relationships.ColCreatedAt:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
