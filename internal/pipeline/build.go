package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// DAG is the complete graph of nodes for one subject's run.
type DAG struct {
	Subject string
	Nodes   []*node.Node
	Edges   []stage.Edge
	// Units group nodes by the stage that must be recorded in the ledger
	// once all of them succeed.
	Units   []stage.Unit
	Outputs port.Bindings
}

// Len returns the number of nodes.
func (d *DAG) Len() int { return len(d.Nodes) }

// DependenciesOf returns the canonical addresses of id's direct
// dependencies in edge order.
func (d *DAG) DependenciesOf(id string) []string {
	var deps []string
	for _, e := range d.Edges {
		if e.To.String() == id {
			deps = append(deps, e.From.String())
		}
	}
	return deps
}

// Build freezes the pipeline configuration, expands every stage for the
// subject described by env, and validates the resulting graph. On error
// no DAG is returned.
func (p *Pipeline) Build(ctx context.Context, env stage.Env, in port.Bindings) (*DAG, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", p.name, "subject", env.Subject)
	logger.Debug("Building DAG.")

	p.cfg.Freeze()

	g, outs, err := p.Expand(ctx, env, in)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, failure.GraphConstruction(p.name, err)
	}
	if err := detectCycles(g); err != nil {
		return nil, failure.GraphConstruction(p.name, err)
	}

	logger.Debug("DAG built.", "nodes", g.Len(), "edges", len(g.Edges), "units", len(g.Units))
	return &DAG{
		Subject: env.Subject,
		Nodes:   g.Nodes,
		Edges:   g.Edges,
		Units:   g.Units,
		Outputs: outs,
	}, nil
}

// detectCycles runs a depth-first search with temporary and permanent
// marks over the consumer edges.
func detectCycles(g *stage.Subgraph) error {
	dependents := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		from := e.From.String()
		dependents[from] = append(dependents[from], e.To.String())
	}

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("%w involving node %q", ErrCycle, id)
		}
		temporary[id] = true
		for _, next := range dependents[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range slices.Sorted(maps.Keys(dependents)) {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
