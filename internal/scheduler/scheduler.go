package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/graph"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

// DefaultScheduler counts unsatisfied dependencies per node.
//
// The ready channel is buffered to the size of the graph, so neither the
// scheduler nor Settle ever blocks on a slow consumer.
type DefaultScheduler struct {
	g         graph.Graph
	mu        sync.Mutex
	waiting   map[string]int // Key: node ID, Value: dependencies not yet completed
	unsettled int
	ready     chan *node.Node
}

// New creates a scheduler over g and queues the nodes that have no
// dependencies.
func New(ctx context.Context, g graph.Graph) (*DefaultScheduler, error) {
	nodes := g.AllNodes(ctx)
	s := &DefaultScheduler{
		g:         g,
		waiting:   make(map[string]int, len(nodes)),
		unsettled: len(nodes),
		ready:     make(chan *node.Node, len(nodes)),
	}

	var roots []*node.Node
	for _, n := range nodes {
		deps, err := g.DependenciesOf(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		s.waiting[n.ID.String()] = len(deps)
		if len(deps) == 0 {
			roots = append(roots, n)
		}
	}
	if len(nodes) > 0 && len(roots) == 0 {
		return nil, ErrNoRoots
	}

	for _, n := range roots {
		s.ready <- n
	}
	if s.unsettled == 0 {
		close(s.ready)
	}
	ctxlog.FromContext(ctx).Debug("Scheduler initialized.", "nodes", len(nodes), "roots", len(roots))
	return s, nil
}

// ReadyNodes implements the Scheduler interface.
func (s *DefaultScheduler) ReadyNodes() <-chan *node.Node {
	return s.ready
}

// Settle implements the Scheduler interface.
func (s *DefaultScheduler) Settle(ctx context.Context, id nodeid.Address) error {
	status, ok := s.g.NodeStatus(ctx, id)
	if !ok {
		return fmt.Errorf("node '%s' not found in graph", id.String())
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot settle node '%s' in status %s", id.String(), status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsettled == 0 {
		return fmt.Errorf("cannot settle node '%s': every node has already settled", id.String())
	}
	s.unsettled--

	var err error
	if status == node.StatusCompleted {
		err = s.release(ctx, id)
	} else {
		reason := fmt.Errorf("%w: %s %s", ErrUpstreamFailed, id.String(), status)
		err = s.skipDownstream(ctx, id, reason)
	}

	if s.unsettled == 0 {
		close(s.ready)
	}
	return err
}

func (s *DefaultScheduler) release(ctx context.Context, id nodeid.Address) error {
	dependents, err := s.g.DependentsOf(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range dependents {
		key := d.ID.String()
		s.waiting[key]--
		if s.waiting[key] > 0 {
			continue
		}
		if status, _ := s.g.NodeStatus(ctx, d.ID); status == node.StatusPending {
			ctxlog.FromContext(ctx).Debug("Unlocking dependent node.", "node", key, "after", id.String())
			s.ready <- d
		}
	}
	return nil
}

func (s *DefaultScheduler) skipDownstream(ctx context.Context, id nodeid.Address, reason error) error {
	logger := ctxlog.FromContext(ctx)
	queue := []nodeid.Address{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dependents, err := s.g.DependentsOf(ctx, current)
		if err != nil {
			return err
		}
		for _, d := range dependents {
			err := s.g.MarkSkipped(ctx, d.ID, reason)
			if errors.Is(err, graph.ErrInvalidTransition) {
				// Already skipped through another failed dependency.
				continue
			}
			if err != nil {
				return err
			}
			logger.Debug("Skipping node.", "node", d.ID.String(), "reason", reason)
			s.unsettled--
			queue = append(queue, d.ID)
		}
	}
	return nil
}
