// Package topologystore defines the interface for storing and retrieving the
// static structure of a subject's DAG.
//
// The topology store holds the immutable structure (nodes and their
// dependency edges) apart from the mutable execution state kept by
// nodestore. It is created once per session, populated from the built DAG,
// and only read while the DAG executes: the scheduler walks DependenciesOf
// and DependentsOf, the executor looks nodes up with GetNode.
package topologystore

import (
	"context"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

// Store manages the static topology of a directed acyclic graph.
//
// Implementations MUST be safe for concurrent use.
type Store interface {
	// AddNode registers a node. Adding the same address twice is a no-op.
	AddNode(ctx context.Context, n *node.Node) error

	// AddDependency records that 'to' consumes an output of 'from', so
	// 'from' must complete successfully before 'to' can start. Both nodes
	// must already exist.
	AddDependency(ctx context.Context, from, to nodeid.Address) error

	// GetNode retrieves a single node by its address.
	GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns every node in insertion order. The returned slice is
	// a snapshot owned by the caller.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the direct upstream nodes of id, in the order
	// the edges were added. It fails if id is unknown.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)

	// DependentsOf returns the direct downstream nodes of id, in the order
	// the edges were added. It fails if id is unknown.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)
}
