// Package participant fans a pipeline out across subjects. Each subject
// gets its own freshly constructed Pipeline, its own DAG and its own
// execution session; a failing subject never cancels or affects another.
package participant

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/executor"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/metrics"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/session"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"golang.org/x/sync/errgroup"
)

// Plan is everything one subject's run needs. Pipeline must not be shared
// with any other subject.
type Plan struct {
	Pipeline *pipeline.Pipeline
	Env      stage.Env
	Inputs   port.Bindings
}

// Planner constructs the plan of one subject. An error fails only that
// subject.
type Planner func(ctx context.Context, subject string) (*Plan, error)

// Scheduler runs subjects concurrently with bounded parallelism.
type Scheduler struct {
	plan     Planner
	sessions session.SessionFactory
}

// New creates a Scheduler.
func New(plan Planner, sessions session.SessionFactory) *Scheduler {
	return &Scheduler{plan: plan, sessions: sessions}
}

// Run processes every subject, at most maxParallel at a time, and returns
// once all of them finished or ctx was cancelled. Subjects that had not
// started when ctx was cancelled are reported as cancelled.
func (s *Scheduler) Run(ctx context.Context, subjects []string, maxParallel int) *Summary {
	logger := ctxlog.FromContext(ctx)
	if maxParallel < 1 {
		maxParallel = 1
	}
	logger.Info("Processing participants.", "subjects", len(subjects), "parallel", maxParallel)

	started := time.Now()
	results := make([]Result, len(subjects))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, subject := range subjects {
		g.Go(func() error {
			results[i] = s.runSubject(ctx, subject)
			return nil
		})
	}
	_ = g.Wait() // every outcome is captured in results

	sum := &Summary{Results: results, Duration: time.Since(started)}
	logger.Info("Participants processed.",
		"succeeded", sum.Count(StatusSucceeded),
		"failed", sum.Count(StatusFailed),
		"cancelled", sum.Count(StatusCancelled),
		"duration", sum.Duration)
	return sum
}

func (s *Scheduler) runSubject(ctx context.Context, subject string) (res Result) {
	ctx = ctxlog.With(ctx, "subject", subject)
	logger := ctxlog.FromContext(ctx)
	res.Subject = subject

	if err := ctx.Err(); err != nil {
		res.Status = StatusCancelled
		res.Err = err
		metrics.SubjectsTotal.WithLabelValues(res.Status.String()).Inc()
		return res
	}

	started := time.Now()
	metrics.SubjectsActive.Inc()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Subject run panicked.", "panic", r, "stack", string(debug.Stack()))
			res = failed(subject, fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(started)
		metrics.SubjectsActive.Dec()
		metrics.SubjectsTotal.WithLabelValues(res.Status.String()).Inc()
		metrics.SubjectDuration.WithLabelValues(res.Status.String()).Observe(res.Duration.Seconds())
	}()

	logger.Info("Subject started.")
	report, err := s.execute(ctx, subject)
	res = classify(ctx, subject, report, err)

	switch res.Status {
	case StatusSucceeded:
		logger.Info("Subject finished.")
	case StatusCancelled:
		logger.Warn("Subject cancelled.", "error", err)
	default:
		logger.Error("Subject failed.", "stage", res.Stage, "node", res.Node, "error", err)
	}
	return res
}

func (s *Scheduler) execute(ctx context.Context, subject string) (*executor.Report, error) {
	plan, err := s.plan(ctx, subject)
	if err != nil {
		return nil, err
	}
	dag, err := plan.Pipeline.Build(ctx, plan.Env, plan.Inputs)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("DAG built.", "nodes", dag.Len(), "units", len(dag.Units))

	sess, err := s.sessions.NewSession(ctx, dag)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(ctx); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to close session.", "error", err)
		}
	}()

	exec, err := sess.GetExecutor()
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx)
}

func classify(ctx context.Context, subject string, report *executor.Report, err error) Result {
	switch {
	case err == nil:
		return Result{Subject: subject, Status: StatusSucceeded, Report: report}
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Result{Subject: subject, Status: StatusCancelled, Err: err, Report: report}
	}
	res := failed(subject, err)
	res.Report = report
	return res
}

func failed(subject string, err error) Result {
	res := Result{Subject: subject, Status: StatusFailed, Err: err}
	if fe, ok := failure.As(err); ok {
		res.Kind = fe.Kind.String()
		res.Stage = fe.Stage
		res.Node = fe.Node
		res.Diagnostic = fe.Diagnostic
	}
	return res
}
