// Package localexecutor provides a concrete, in-process implementation of the
// executor.Executor interface: ready nodes run as local subprocesses on a
// worker pool bounded by a thread budget.
package localexecutor

import (
	"context"
	"sync"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/executor"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/graph"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/metrics"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/scheduler"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/toolrun"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config holds the per-subject settings of an Executor.
type Config struct {
	Subject string
	// Threads is the thread budget shared by all running nodes. A node
	// holds as many slots as its thread hint, capped by the budget.
	Threads int
	// Ledger receives a completion record for every unit whose nodes all
	// complete. Nil disables recording.
	Ledger ledger.Ledger
	Units  []stage.Unit
}

// Executor implements the executor.Executor interface for local execution.
type Executor struct {
	sched  scheduler.Scheduler
	g      graph.Graph
	runner toolrun.Runner
	cfg    Config
	slots  *semaphore.Weighted

	mu       sync.Mutex
	waiting  []int            // per unit: nodes not yet completed
	unitsOf  map[string][]int // Key: node ID, Value: indexes into cfg.Units
	recorded []string
}

// New creates a new local executor.
func New(sch scheduler.Scheduler, g graph.Graph, runner toolrun.Runner, cfg Config) *Executor {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	e := &Executor{
		sched:   sch,
		g:       g,
		runner:  runner,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(int64(cfg.Threads)),
		waiting: make([]int, len(cfg.Units)),
		unitsOf: make(map[string][]int),
	}
	for i, u := range cfg.Units {
		e.waiting[i] = len(u.Nodes)
		for _, id := range u.Nodes {
			e.unitsOf[id.String()] = append(e.unitsOf[id.String()], i)
		}
	}
	return e
}

var _ executor.Executor = (*Executor)(nil)

// Execute implements executor.Executor.
func (e *Executor) Execute(ctx context.Context) (*executor.Report, error) {
	ctx = ctxlog.With(ctx, "subject", e.cfg.Subject)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Executing DAG.", "threads", e.cfg.Threads, "units", len(e.cfg.Units))
	e.invalidate(ctx)

	var workers errgroup.Group
	for n := range e.sched.ReadyNodes() {
		if err := ctx.Err(); err != nil {
			e.skip(ctx, n, err)
			continue
		}
		weight := e.weight(n)
		if err := e.slots.Acquire(ctx, weight); err != nil {
			e.skip(ctx, n, err)
			continue
		}
		if err := e.g.MarkRunning(ctx, n.ID); err != nil {
			e.slots.Release(weight)
			logger.Error("Cannot start node.", "node", n.ID.String(), "error", err)
			e.skip(ctx, n, err)
			continue
		}
		metrics.ThreadsInUse.Add(float64(weight))

		workers.Go(func() error {
			defer func() {
				e.slots.Release(weight)
				metrics.ThreadsInUse.Sub(float64(weight))
			}()
			e.run(ctx, n)
			return nil
		})
	}
	_ = workers.Wait() // failures are recorded in the graph

	report := e.report(ctx)
	if first, ok := report.FirstFailure(); ok {
		return report, first.Err
	}
	if err := ctx.Err(); err != nil && report.Count(node.StatusCompleted) < len(report.Nodes) {
		return report, err
	}
	logger.Debug("DAG executed.", "nodes", len(report.Nodes), "recorded", len(report.Recorded))
	return report, nil
}

func (e *Executor) weight(n *node.Node) int64 {
	return int64(min(max(n.Threads, 1), e.cfg.Threads))
}

func (e *Executor) run(ctx context.Context, n *node.Node) {
	logger := ctxlog.FromContext(ctx).With("node", n.ID.String(), "tool", n.Tool)
	logger.Info("Running node.", "threads", n.Threads)

	res, err := e.runner.Run(ctx, n)
	if err != nil {
		nodeErr := failure.Execution(n.Stage, n.ID.String(), res.Diagnostic, err)
		logger.Error("Node failed.", "exit_code", res.ExitCode, "error", err, "diagnostic", res.Diagnostic)
		if markErr := e.g.MarkFailed(ctx, n.ID, res, nodeErr); markErr != nil {
			logger.Error("Failed to record node failure.", "error", markErr)
		}
		observe(n, "failed", res)
	} else {
		logger.Info("Node completed.", "duration", res.Duration())
		if markErr := e.g.MarkCompleted(ctx, n.ID, res); markErr != nil {
			logger.Error("Failed to record node completion.", "error", markErr)
		}
		observe(n, "completed", res)
		e.completeUnits(ctx, n)
	}

	if err := e.sched.Settle(ctx, n.ID); err != nil {
		logger.Error("Failed to settle node.", "error", err)
	}
}

func (e *Executor) skip(ctx context.Context, n *node.Node, reason error) {
	logger := ctxlog.FromContext(ctx).With("node", n.ID.String())
	logger.Debug("Skipping node.", "reason", reason)
	if err := e.g.MarkSkipped(ctx, n.ID, reason); err != nil {
		logger.Error("Failed to skip node.", "error", err)
	}
	if err := e.sched.Settle(ctx, n.ID); err != nil {
		logger.Error("Failed to settle node.", "error", err)
	}
}

// invalidate drops the completion record of every unit about to be
// recomputed, so a run that fails part-way never leaves the old record
// vouching for partly rewritten artifacts.
func (e *Executor) invalidate(ctx context.Context) {
	if e.cfg.Ledger == nil {
		return
	}
	for _, u := range e.cfg.Units {
		if err := e.cfg.Ledger.Invalidate(ctx, u.Entry); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to invalidate stage completion.",
				"stage", u.Entry.Stage, "error", failure.Resumability(u.Entry.Stage, err))
		}
	}
}

// completeUnits records every unit that n was the last outstanding node of.
func (e *Executor) completeUnits(ctx context.Context, n *node.Node) {
	var done []stage.Unit
	e.mu.Lock()
	for _, i := range e.unitsOf[n.ID.String()] {
		e.waiting[i]--
		if e.waiting[i] == 0 {
			done = append(done, e.cfg.Units[i])
		}
	}
	e.mu.Unlock()

	for _, u := range done {
		e.record(ctx, u)
	}
}

func (e *Executor) record(ctx context.Context, u stage.Unit) {
	if e.cfg.Ledger == nil {
		return
	}
	logger := ctxlog.FromContext(ctx).With("stage", u.Entry.Stage)
	if err := e.cfg.Ledger.RecordComplete(ctx, u.Entry); err != nil {
		metrics.StagesRecorded.WithLabelValues(stageLabel(u), "error").Inc()
		logger.Warn("Failed to record stage completion; it will be recomputed next run.",
			"error", failure.Resumability(u.Entry.Stage, err))
		return
	}
	metrics.StagesRecorded.WithLabelValues(stageLabel(u), "success").Inc()
	logger.Info("Stage completed.")

	e.mu.Lock()
	e.recorded = append(e.recorded, u.Entry.Stage)
	e.mu.Unlock()
}

func (e *Executor) report(ctx context.Context) *executor.Report {
	r := &executor.Report{Subject: e.cfg.Subject}
	for _, n := range e.g.AllNodes(ctx) {
		status, _ := e.g.NodeStatus(ctx, n.ID)
		res, _ := e.g.NodeResult(ctx, n.ID)
		r.Nodes = append(r.Nodes, executor.NodeReport{
			ID:     n.ID.String(),
			Stage:  n.Stage,
			Tool:   n.Tool,
			Status: status,
			Result: res,
			Err:    e.g.NodeError(ctx, n.ID),
		})
		if status == node.StatusSkipped {
			metrics.NodesTotal.WithLabelValues(n.Tool, "skipped").Inc()
		}
	}
	r.Stages = executor.StageStates(r.Nodes)

	e.mu.Lock()
	r.Recorded = append([]string(nil), e.recorded...)
	e.mu.Unlock()
	return r
}

func observe(n *node.Node, status string, res node.Result) {
	metrics.NodesTotal.WithLabelValues(n.Tool, status).Inc()
	metrics.NodeDuration.WithLabelValues(n.Tool, status).Observe(res.Duration().Seconds())
}

// stageLabel is the stage's own name, which keeps metric cardinality
// independent of nesting depth.
func stageLabel(u stage.Unit) string {
	if len(u.Nodes) == 0 {
		return u.Entry.Stage
	}
	if p := u.Nodes[0].Parent(); p != nil {
		return p.Name()
	}
	return u.Entry.Stage
}
