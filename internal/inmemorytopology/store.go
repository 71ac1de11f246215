package inmemorytopology

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/topologystore"
)

// Store implements topologystore.Store with maps guarded by an RWMutex.
type Store struct {
	mu         sync.RWMutex
	order      []string
	nodes      map[string]*node.Node
	deps       map[string][]nodeid.Address // Key: node ID, Value: upstream nodes
	dependents map[string][]nodeid.Address // Key: node ID, Value: downstream nodes
}

// New creates a new, empty in-memory topology store.
func New() topologystore.Store {
	return &Store{
		nodes:      make(map[string]*node.Node),
		deps:       make(map[string][]nodeid.Address),
		dependents: make(map[string][]nodeid.Address),
	}
}

// AddNode adds a new node to the store.
func (s *Store) AddNode(ctx context.Context, n *node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := n.ID.String()
	if _, exists := s.nodes[key]; exists {
		return nil
	}
	s.nodes[key] = n
	s.order = append(s.order, key)
	return nil
}

// AddDependency creates a dependency link from one node to another.
// Repeating an existing edge is a no-op.
func (s *Store) AddDependency(ctx context.Context, from, to nodeid.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromKey := from.String()
	toKey := to.String()

	if _, exists := s.nodes[fromKey]; !exists {
		return fmt.Errorf("dependency source node '%s' not found in topology", fromKey)
	}
	if _, exists := s.nodes[toKey]; !exists {
		return fmt.Errorf("dependency target node '%s' not found in topology", toKey)
	}
	if slices.ContainsFunc(s.deps[toKey], func(a nodeid.Address) bool { return a.Equal(&from) }) {
		return nil
	}

	s.deps[toKey] = append(s.deps[toKey], from)
	s.dependents[fromKey] = append(s.dependents[fromKey], to)
	return nil
}

// GetNode retrieves a single node by its address.
func (s *Store) GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id.String()]
	return n, ok
}

// AllNodes returns a slice of all nodes in insertion order.
func (s *Store) AllNodes(ctx context.Context) []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*node.Node, 0, len(s.order))
	for _, key := range s.order {
		nodes = append(nodes, s.nodes[key])
	}
	return nodes
}

// DependenciesOf returns the addresses of all nodes that the given node depends on.
func (s *Store) DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.edges(s.deps, id)
}

// DependentsOf returns the addresses of all nodes that depend on the given node.
func (s *Store) DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error) {
	return s.edges(s.dependents, id)
}

func (s *Store) edges(m map[string][]nodeid.Address, id nodeid.Address) ([]nodeid.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := id.String()
	if _, exists := s.nodes[key]; !exists {
		return nil, fmt.Errorf("node '%s' not found in topology", key)
	}
	return slices.Clone(m[key]), nil
}
