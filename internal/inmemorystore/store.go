package inmemorystore

import (
	"context"
	"sync"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
//
// Each node's state is independent and written from the worker that runs
// it, so the three maps are sync.Maps keyed by the canonical node address.
type Store struct {
	states  sync.Map // Key: node ID string, Value: node.Status
	results sync.Map // Key: node ID string, Value: node.Result
	errors  sync.Map // Key: node ID string, Value: error
}

// New creates a new, empty in-memory node state store.
func New() nodestore.Store {
	return &Store{}
}

// SetStatus updates the execution status of a specific node.
func (s *Store) SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error {
	s.states.Store(id.String(), status)
	return nil
}

// CompareAndSetStatus implements nodestore.Store. A node with no recorded
// status is Pending.
func (s *Store) CompareAndSetStatus(ctx context.Context, id nodeid.Address, old, status node.Status) (bool, error) {
	key := id.String()
	if old == node.StatusPending {
		if _, loaded := s.states.LoadOrStore(key, status); !loaded {
			return true, nil
		}
	}
	return s.states.CompareAndSwap(key, old, status), nil
}

// GetStatus retrieves the execution status of a specific node.
func (s *Store) GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error) {
	status, ok := s.states.Load(id.String())
	if !ok {
		return node.StatusPending, nil
	}
	return status.(node.Status), nil
}

// SetResult records the outcome of a node's tool invocation.
func (s *Store) SetResult(ctx context.Context, id nodeid.Address, res node.Result) error {
	s.results.Store(id.String(), res)
	return nil
}

// GetResult retrieves the recorded outcome of a node.
func (s *Store) GetResult(ctx context.Context, id nodeid.Address) (node.Result, bool, error) {
	res, ok := s.results.Load(id.String())
	if !ok {
		return node.Result{}, false, nil
	}
	return res.(node.Result), true, nil
}

// SetError records the failure error of a node.
func (s *Store) SetError(ctx context.Context, id nodeid.Address, nodeErr error) error {
	s.errors.Store(id.String(), nodeErr)
	return nil
}

// GetError retrieves the recorded error of a failed node.
func (s *Store) GetError(ctx context.Context, id nodeid.Address) (error, error) {
	err, ok := s.errors.Load(id.String())
	if !ok {
		return nil, nil
	}
	return err.(error), nil
}
