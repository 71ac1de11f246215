// Package localsession provides a concrete implementation of the session.Session
// and session.SessionFactory interfaces for local, in-process execution.
package localsession

import (
	"context"
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/executor"
	"github.com/specialistvlad/connectogrid/internal/graph"
	"github.com/specialistvlad/connectogrid/internal/inmemorystore"
	"github.com/specialistvlad/connectogrid/internal/inmemorytopology"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/localexecutor"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/scheduler"
	"github.com/specialistvlad/connectogrid/internal/session"
	"github.com/specialistvlad/connectogrid/internal/toolrun"
)

// SessionFactory implements session.SessionFactory for local runs. One
// factory is shared by all subjects; every session gets its own stores.
type SessionFactory struct {
	Runner toolrun.Runner
	// Threads is the thread budget of each subject's session.
	Threads int
	// Ledger records completed stages. Nil disables recording.
	Ledger ledger.Ledger
}

var _ session.SessionFactory = (*SessionFactory)(nil)

// NewSession creates and configures a new local session.
func (f *SessionFactory) NewSession(ctx context.Context, dag *pipeline.DAG) (session.Session, error) {
	logger := ctxlog.FromContext(ctx).With("subject", dag.Subject)
	logger.Debug("Creating local session.", "nodes", dag.Len())

	topoStore := inmemorytopology.New()
	if err := graph.Populate(ctx, topoStore, dag.Nodes, dag.Edges); err != nil {
		return nil, fmt.Errorf("loading DAG of %s: %w", dag.Subject, err)
	}
	g := graph.New(topoStore, inmemorystore.New())
	sched, err := scheduler.New(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("scheduling DAG of %s: %w", dag.Subject, err)
	}
	exec := localexecutor.New(sched, g, f.Runner, localexecutor.Config{
		Subject: dag.Subject,
		Threads: f.Threads,
		Ledger:  f.Ledger,
		Units:   dag.Units,
	})

	return &Session{subject: dag.Subject, executor: exec}, nil
}

// Session implements session.Session for local runs.
type Session struct {
	subject  string
	executor executor.Executor
}

// GetExecutor returns the executor that was created and wired up by the factory.
func (s *Session) GetExecutor() (executor.Executor, error) {
	return s.executor, nil
}

// Close has nothing to release: every tool invocation has exited by the
// time Execute returns.
func (s *Session) Close(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Local session closed.", "subject", s.subject)
	return nil
}
