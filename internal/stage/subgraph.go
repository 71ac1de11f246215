package stage

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/port"
)

// Edge says To consumes an output of From.
type Edge struct {
	From nodeid.Address
	To   nodeid.Address
}

func (e Edge) String() string {
	return e.From.String() + " -> " + e.To.String()
}

// Unit records which nodes must all succeed before Entry is marked complete.
type Unit struct {
	Entry ledger.Entry
	Nodes []nodeid.Address
}

// Subgraph is the set of nodes and edges built by one expansion. Nodes and
// edges keep insertion order so that repeated expansions compare equal.
type Subgraph struct {
	Nodes []*node.Node
	Edges []Edge
	Units []Unit
}

// NewSubgraph returns an empty subgraph.
func NewSubgraph() *Subgraph {
	return &Subgraph{}
}

// Add appends n and an edge from the producer of every bound input.
// Inputs bound to external data add no edge.
func (g *Subgraph) Add(n *node.Node, inputs ...port.Binding) *node.Node {
	g.Nodes = append(g.Nodes, n)
	for _, in := range inputs {
		if in.IsExternal() {
			continue
		}
		g.addEdge(Edge{From: *in.Producer, To: n.ID})
	}
	return n
}

// After adds ordering edges from each of deps to n, for tools that read
// upstream results from a shared directory rather than a named file.
func (g *Subgraph) After(n *node.Node, deps ...*node.Node) {
	for _, d := range deps {
		g.addEdge(Edge{From: d.ID, To: n.ID})
	}
}

func (g *Subgraph) addEdge(e Edge) {
	if slices.ContainsFunc(g.Edges, func(x Edge) bool { return x.From.Equal(&e.From) && x.To.Equal(&e.To) }) {
		return
	}
	g.Edges = append(g.Edges, e)
}

// Merge appends other's nodes, edges, and units.
func (g *Subgraph) Merge(other *Subgraph) {
	if other == nil {
		return
	}
	g.Nodes = append(g.Nodes, other.Nodes...)
	for _, e := range other.Edges {
		g.addEdge(e)
	}
	g.Units = append(g.Units, other.Units...)
}

// Len returns the number of nodes.
func (g *Subgraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Nodes)
}

// Node finds a node by canonical address.
func (g *Subgraph) Node(id string) (*node.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID.String() == id {
			return n, true
		}
	}
	return nil, false
}

// NodeIDs returns the canonical addresses of all nodes in order.
func (g *Subgraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID.String())
	}
	return ids
}

// Validate checks that node addresses are unique and that every edge
// joins two nodes of the subgraph.
func (g *Subgraph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		id := n.ID.String()
		if seen[id] {
			return fmt.Errorf("duplicate node %q", id)
		}
		seen[id] = true
	}
	for _, e := range g.Edges {
		if !seen[e.From.String()] {
			return fmt.Errorf("edge %s: unknown producer", e)
		}
		if !seen[e.To.String()] {
			return fmt.Errorf("edge %s: unknown consumer", e)
		}
	}
	return nil
}
