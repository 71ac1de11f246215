// Package session defines the core interfaces for creating and managing the
// execution session of one subject's DAG. It abstracts away the details of
// how and where the nodes run.
package session

import (
	"context"

	"github.com/specialistvlad/connectogrid/internal/executor"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
)

// SessionFactory creates an execution Session for a built DAG. Different
// implementations can support various backends, such as local or
// cluster execution.
type SessionFactory interface {
	NewSession(ctx context.Context, dag *pipeline.DAG) (Session, error)
}

// Session represents a single subject's execution run and manages its
// lifecycle.
type Session interface {
	GetExecutor() (executor.Executor, error)
	// Close releases any resources held by the session. It accepts a context
	// to allow for graceful cleanup operations.
	Close(ctx context.Context) error
}
