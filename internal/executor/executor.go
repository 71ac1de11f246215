// Package executor defines the interface for the DAG execution engine and
// the report it produces for one subject.
package executor

import "context"

// Executor is responsible for running a subject's DAG to a terminal state.
// It manages concurrency, interacts with the scheduler, runs tools and
// records completed stages in the run ledger.
type Executor interface {
	// Execute returns a report even when err is non-nil. err is the first
	// node failure in DAG order, or the context error if the run was
	// cancelled before every node settled.
	Execute(ctx context.Context) (*Report, error)
}
