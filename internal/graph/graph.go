package graph

import (
	"context"
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/nodestore"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/topologystore"
)

// Manager provides a high-level, thread-safe interface to the execution graph
// by composing and orchestrating lower-level storage backends.
type Manager struct {
	topology  topologystore.Store
	nodeState nodestore.Store
}

// New creates a new graph manager.
func New(ts topologystore.Store, ns nodestore.Store) Graph {
	return &Manager{topology: ts, nodeState: ns}
}

// Populate writes nodes and edges into ts. Edges must reference added nodes.
func Populate(ctx context.Context, ts topologystore.Store, nodes []*node.Node, edges []stage.Edge) error {
	for _, n := range nodes {
		if err := ts.AddNode(ctx, n); err != nil {
			return fmt.Errorf("adding node %s: %w", n.ID.String(), err)
		}
	}
	for _, e := range edges {
		if err := ts.AddDependency(ctx, e.From, e.To); err != nil {
			return fmt.Errorf("adding edge %s: %w", e, err)
		}
	}
	ctxlog.FromContext(ctx).Debug("Topology populated.", "nodes", len(nodes), "edges", len(edges))
	return nil
}

func (m *Manager) Node(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	return m.topology.GetNode(ctx, id)
}

func (m *Manager) DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependentsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) resolve(ctx context.Context, ids []nodeid.Address) ([]*node.Node, error) {
	nodes := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := m.topology.GetNode(ctx, id)
		if !ok {
			return nil, fmt.Errorf("node '%s' referenced by an edge is not in the topology", id.String())
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (m *Manager) NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool) {
	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return node.StatusPending, false
	}
	status, err := m.nodeState.GetStatus(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read node status.", "node", id.String(), "error", err)
		return node.StatusPending, false
	}
	return status, true
}

func (m *Manager) NodeResult(ctx context.Context, id nodeid.Address) (node.Result, bool) {
	res, ok, err := m.nodeState.GetResult(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read node result.", "node", id.String(), "error", err)
		return node.Result{}, false
	}
	return res, ok
}

func (m *Manager) NodeError(ctx context.Context, id nodeid.Address) error {
	nodeErr, err := m.nodeState.GetError(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read node error.", "node", id.String(), "error", err)
		return nil
	}
	return nodeErr
}

func (m *Manager) AllNodes(ctx context.Context) []*node.Node {
	return m.topology.AllNodes(ctx)
}

func (m *Manager) MarkRunning(ctx context.Context, id nodeid.Address) error {
	return m.transition(ctx, id, node.StatusPending, node.StatusRunning)
}

func (m *Manager) MarkCompleted(ctx context.Context, id nodeid.Address, res node.Result) error {
	if err := m.nodeState.SetResult(ctx, id, res); err != nil {
		return err
	}
	return m.transition(ctx, id, node.StatusRunning, node.StatusCompleted)
}

func (m *Manager) MarkFailed(ctx context.Context, id nodeid.Address, res node.Result, nodeErr error) error {
	if err := m.nodeState.SetResult(ctx, id, res); err != nil {
		return err
	}
	if err := m.nodeState.SetError(ctx, id, nodeErr); err != nil {
		return err
	}
	return m.transition(ctx, id, node.StatusRunning, node.StatusFailed)
}

func (m *Manager) MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error {
	if err := m.transition(ctx, id, node.StatusPending, node.StatusSkipped); err != nil {
		return err
	}
	return m.nodeState.SetError(ctx, id, reason)
}

func (m *Manager) transition(ctx context.Context, id nodeid.Address, from, to node.Status) error {
	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return fmt.Errorf("node '%s' not found in topology", id.String())
	}
	ok, err := m.nodeState.CompareAndSetStatus(ctx, id, from, to)
	if err != nil {
		return err
	}
	if !ok {
		current, _ := m.nodeState.GetStatus(ctx, id)
		return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id.String(), current, from)
	}
	ctxlog.FromContext(ctx).Debug("Node status changed.", "node", id.String(), "from", from, "to", to)
	return nil
}
