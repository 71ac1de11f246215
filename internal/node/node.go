// Package node defines the unit of work handed to the execution engine:
// one external tool invocation with fully resolved arguments.
package node

import (
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/port"
)

// Output is a file or value a node declares it will produce.
type Output struct {
	Kind port.Kind
	Path string
	// Literal marks a value that is not a filesystem path, such as a
	// FreeSurfer subject ID.
	Literal bool
}

// Node is one vertex of a subject's DAG. Nodes are built by stage
// expansion and never shared across runs.
type Node struct {
	// ID is the unique address of the node within the DAG.
	ID nodeid.Address
	// Stage is the canonical address of the stage that built the node.
	Stage string
	// Tool is the short tool name, used for logs and metrics labels.
	Tool string
	// Command is the program followed by its resolved arguments.
	Command []string
	// Env holds extra environment variables for the invocation.
	Env map[string]string
	// Threads is the thread count requested from the tool.
	Threads int
	// Outputs maps output slot names to the artifacts the tool writes.
	Outputs map[string]Output
}

// New creates a node at addr running tool with argv.
func New(addr *nodeid.Address, tool string, argv ...string) *Node {
	stage := ""
	if p := addr.Parent(); p != nil {
		stage = p.String()
	}
	return &Node{
		ID:      *addr,
		Stage:   stage,
		Tool:    tool,
		Command: argv,
		Threads: 1,
		Outputs: make(map[string]Output),
	}
}

// WithOutput declares an output slot.
func (n *Node) WithOutput(slot string, kind port.Kind, path string) *Node {
	n.Outputs[slot] = Output{Kind: kind, Path: path}
	return n
}

// WithValue declares an output slot carrying a literal value.
func (n *Node) WithValue(slot string, kind port.Kind, value string) *Node {
	n.Outputs[slot] = Output{Kind: kind, Path: value, Literal: true}
	return n
}

// WithEnv adds environment variables. Later keys overwrite earlier ones.
func (n *Node) WithEnv(env map[string]string) *Node {
	if len(env) == 0 {
		return n
	}
	if n.Env == nil {
		n.Env = make(map[string]string, len(env))
	}
	maps.Copy(n.Env, env)
	return n
}

// WithThreads sets the thread hint. Values below one are ignored.
func (n *Node) WithThreads(threads int) *Node {
	if threads >= 1 {
		n.Threads = threads
	}
	return n
}

// Output returns a binding to the artifact in slot. It panics if the slot
// was never declared, which is a bug in the stage that built the node.
func (n *Node) Output(slot string) port.Binding {
	out, ok := n.Outputs[slot]
	if !ok {
		panic(fmt.Sprintf("node %s has no output slot %q", n.ID.String(), slot))
	}
	id := n.ID
	return port.Binding{Kind: out.Kind, Value: out.Path, Producer: &id, Slot: slot}
}

// OutputPaths returns the declared output files in slot order.
func (n *Node) OutputPaths() []string {
	return n.outputs(func(o Output) bool { return !o.Literal && o.Kind != port.Directory })
}

// OutputDirs returns the declared output directories in slot order.
func (n *Node) OutputDirs() []string {
	return n.outputs(func(o Output) bool { return !o.Literal && o.Kind == port.Directory })
}

func (n *Node) outputs(keep func(Output) bool) []string {
	var paths []string
	for _, s := range slices.Sorted(maps.Keys(n.Outputs)) {
		if o := n.Outputs[s]; keep(o) {
			paths = append(paths, o.Path)
		}
	}
	return paths
}
