// Package nodestore defines the interface for the mutable execution state of
// nodes while a subject's DAG runs.
//
// State lives apart from the static structure kept by topologystore. The
// store is created once per session with every node implicitly Pending,
// mutated by the executor as tools start and finish, and discarded with the
// session. Nodes move Pending → Running → Completed or Failed; a node whose
// upstream failed, or that never started before cancellation, moves
// Pending → Skipped.
package nodestore

import (
	"context"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

// Store manages the per-node execution state.
//
// Implementations MUST be safe for concurrent use.
type Store interface {
	// SetStatus updates the execution status of a node.
	SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error

	// CompareAndSetStatus moves a node from old to status and reports
	// whether the swap happened.
	CompareAndSetStatus(ctx context.Context, id nodeid.Address, old, status node.Status) (bool, error)

	// GetStatus returns StatusPending if no status has been set yet.
	GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error)

	// SetResult records the outcome of a node's tool invocation, whether it
	// succeeded or not.
	SetResult(ctx context.Context, id nodeid.Address, res node.Result) error

	// GetResult reports false if the node never ran.
	GetResult(ctx context.Context, id nodeid.Address) (node.Result, bool, error)

	// SetError records why a node failed or was skipped.
	SetError(ctx context.Context, id nodeid.Address, nodeErr error) error

	// GetError returns nil if the node succeeded or hasn't executed yet.
	GetError(ctx context.Context, id nodeid.Address) (error, error)
}
