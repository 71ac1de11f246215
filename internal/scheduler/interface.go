package scheduler

import (
	"context"
	"errors"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

var (
	// ErrUpstreamFailed is the reason recorded on nodes skipped because a
	// node they depend on did not complete.
	ErrUpstreamFailed = errors.New("upstream node did not complete")
	// ErrNoRoots is returned for a non-empty graph in which no node is
	// free of dependencies.
	ErrNoRoots = errors.New("graph has no node without dependencies")
)

// Scheduler streams ready nodes to the executor.
//
// A node is ready when it is Pending and all of its dependencies are
// Completed. Each node is emitted at most once. The executor reports every
// node it takes off the channel back through Settle once the node reaches a
// terminal status; the channel is closed after every node of the graph has
// settled.
type Scheduler interface {
	// ReadyNodes returns the channel of ready nodes. Every call returns the
	// same channel.
	ReadyNodes() <-chan *node.Node

	// Settle reports that id reached a terminal status. Completing a node
	// may release its dependents; a failed or skipped node marks all of its
	// transitive dependents Skipped.
	Settle(ctx context.Context, id nodeid.Address) error
}
