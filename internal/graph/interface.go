package graph

import (
	"context"
	"errors"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

// ErrInvalidTransition is returned when a Mark* call does not match the
// node's current status, e.g. completing a node that never started.
var ErrInvalidTransition = errors.New("invalid node status transition")

// Graph is a unified interface for interacting with the execution DAG,
// combining static topology queries with dynamic state updates.
//
// Implementations MUST be thread-safe.
type Graph interface {
	// Node retrieves a node by its address.
	Node(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// DependenciesOf returns the full nodes that id directly depends on.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// DependentsOf returns the full nodes that directly consume an output
	// of id.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// NodeStatus retrieves the current execution status of a node. It
	// reports false for addresses outside the topology.
	NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool)

	// NodeResult returns the recorded tool outcome of a node, if it ran.
	NodeResult(ctx context.Context, id nodeid.Address) (node.Result, bool)

	// NodeError returns why a node failed or was skipped.
	NodeError(ctx context.Context, id nodeid.Address) error

	// AllNodes returns all nodes in the order they were added.
	AllNodes(ctx context.Context) []*node.Node

	// MarkRunning transitions Pending → Running.
	MarkRunning(ctx context.Context, id nodeid.Address) error

	// MarkCompleted transitions Running → Completed and records the result.
	MarkCompleted(ctx context.Context, id nodeid.Address, res node.Result) error

	// MarkFailed transitions Running → Failed and records the result and
	// the error.
	MarkFailed(ctx context.Context, id nodeid.Address, res node.Result, nodeErr error) error

	// MarkSkipped transitions Pending → Skipped and records the reason.
	MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error
}
