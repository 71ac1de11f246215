package localexecutor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/connectogrid/internal/executor"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/graph"
	"github.com/specialistvlad/connectogrid/internal/inmemorystore"
	"github.com/specialistvlad/connectogrid/internal/inmemorytopology"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/localexecutor"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/scheduler"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/testutil"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDAG wires first -> second (a chain) plus an independent "side"
// stage fed from the same raw input.
func buildDAG(t *testing.T, ctx context.Context, root string) *pipeline.DAG {
	t.Helper()
	return buildDAGWith(t, ctx, root, nil)
}

// buildDAGWith builds the same DAG, reusing stages l reports complete.
func buildDAGWith(t *testing.T, ctx context.Context, root string, l ledger.Ledger) *pipeline.DAG {
	t.Helper()
	p := pipeline.New("anatomical",
		[]port.Spec{port.Required("t1", port.Volume)},
		[]port.Spec{port.Required("result", port.Volume)})
	for _, name := range []string{"first", "second", "side"} {
		require.NoError(t, p.AddStage(testutil.NewToyStage(name)))
	}
	require.NoError(t, p.ConnectInput("t1", "first", "image"))
	require.NoError(t, p.Connect("first", "result", "second", "image"))
	require.NoError(t, p.ConnectInput("t1", "side", "image"))
	require.NoError(t, p.ConnectOutput("second", "result", "result"))

	env := stage.NewEnv("sub-01", root, toolchain.Toolchain{}, 0, l)
	dag, err := p.Build(ctx, env, port.Bindings{"t1": port.External(port.Volume, "/bids/sub-01/anat/sub-01_T1w.nii.gz")})
	require.NoError(t, err)
	return dag
}

func newExecutor(t *testing.T, ctx context.Context, nodes []*node.Node, edges []stage.Edge, runner *testutil.FakeRunner, cfg localexecutor.Config) *localexecutor.Executor {
	t.Helper()
	ts := inmemorytopology.New()
	require.NoError(t, graph.Populate(ctx, ts, nodes, edges))
	g := graph.New(ts, inmemorystore.New())
	sch, err := scheduler.New(ctx, g)
	require.NoError(t, err)
	return localexecutor.New(sch, g, runner, cfg)
}

func markerPath(root, stageName string) string {
	return filepath.Join(root, "sub-01", stageName, ledger.MarkerName)
}

func TestExecute_Success(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	dag := buildDAG(t, ctx, root)
	runner := testutil.NewFakeRunner()

	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 2, Ledger: ledger.New(ledger.Trust, "run-1"), Units: dag.Units,
	})
	report, err := e.Execute(ctx)
	require.NoError(t, err)

	assert.Len(t, runner.Executed(), 6)
	assert.Equal(t, 6, report.Count(node.StatusCompleted))
	assert.ElementsMatch(t, []string{"first", "second", "side"}, report.Recorded)
	assert.Equal(t, map[string]executor.StageState{
		"first":  executor.StageCompleted,
		"second": executor.StageCompleted,
		"side":   executor.StageCompleted,
	}, report.Stages)

	for _, s := range []string{"first", "second", "side"} {
		assert.FileExists(t, markerPath(root, s))
	}
	assert.Less(t, indexOf(runner.Executed(), "first.process"), indexOf(runner.Executed(), "second.convert"),
		"a consumer never starts before its producer completes")
}

func TestExecute_FailureIsolatesIndependentBranch(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	dag := buildDAG(t, ctx, root)
	runner := testutil.NewFakeRunner().FailNode("first.process", "ERROR: process failed to converge")

	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 1, Ledger: ledger.New(ledger.Trust, "run-1"), Units: dag.Units,
	})
	report, err := e.Execute(ctx)
	require.Error(t, err)

	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindExecution, fe.Kind)
	assert.Equal(t, "first", fe.Stage)
	assert.Equal(t, "first.process", fe.Node)
	assert.Equal(t, "ERROR: process failed to converge", fe.Diagnostic)

	assert.NotContains(t, runner.Executed(), "second.convert")
	assert.Contains(t, runner.Executed(), "side.process", "independent branch runs to completion")
	assert.Equal(t, executor.StageFailed, report.Stages["first"])
	assert.Equal(t, executor.StageNotRun, report.Stages["second"])
	assert.Equal(t, executor.StageCompleted, report.Stages["side"])
	assert.Equal(t, 2, report.Count(node.StatusSkipped))

	assert.Equal(t, []string{"side"}, report.Recorded)
	assert.NoFileExists(t, markerPath(root, "first"), "a failed stage leaves no ledger entry")
	assert.NoFileExists(t, markerPath(root, "second"))
}

func TestExecute_CancellationWritesNoPartialEntries(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	root := t.TempDir()
	dag := buildDAG(t, ctx, root)

	runner := testutil.NewFakeRunner()
	runner.BlockNode("first.process")
	runner.BlockNode("side.process")
	time.AfterFunc(50*time.Millisecond, cancel)

	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 4, Ledger: ledger.New(ledger.Trust, "run-1"), Units: dag.Units,
	})
	report, err := e.Execute(ctx)
	require.ErrorIs(t, err, context.Canceled)

	for _, n := range report.Nodes {
		assert.True(t, n.Status.Terminal(), "node %s left in %s", n.ID, n.Status)
	}
	assert.Empty(t, report.Recorded)
	for _, s := range []string{"first", "second", "side"} {
		assert.NoFileExists(t, markerPath(root, s))
	}
}

func TestExecute_ThreadBudget(t *testing.T) {
	ctx, _ := testutil.Context(t)
	var nodes []*node.Node
	for i := range 6 {
		nodes = append(nodes, node.New(nodeid.New("tractography", fmt.Sprintf("tckgen_%d", i)), "tckgen").WithThreads(2))
	}
	runner := testutil.NewFakeRunner()
	runner.Delay = 20 * time.Millisecond

	e := newExecutor(t, ctx, nodes, nil, runner, localexecutor.Config{Subject: "sub-01", Threads: 4})
	report, err := e.Execute(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Count(node.StatusCompleted))
	assert.LessOrEqual(t, runner.MaxThreads(), 4)
	assert.LessOrEqual(t, runner.MaxConcurrency(), 2)
}

func TestExecute_OversizedThreadHintIsCapped(t *testing.T) {
	ctx, _ := testutil.Context(t)
	nodes := []*node.Node{node.New(nodeid.New("segmentation", "recon_all"), "recon-all").WithThreads(64)}

	e := newExecutor(t, ctx, nodes, nil, testutil.NewFakeRunner(), localexecutor.Config{Subject: "sub-01", Threads: 2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Execute(ctx)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("node requesting more threads than the budget never ran")
	}
}

func TestExecute_FailedStageIsRecomputed(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	l := ledger.New(ledger.Trust, "run-1")
	dag := buildDAG(t, ctx, root)
	runner := testutil.NewFakeRunner().FailNode("first.process", "Segmentation fault")
	runner.OutputsOnFailure = true

	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 1, Ledger: l, Units: dag.Units,
	})
	_, err := e.Execute(ctx)
	require.Error(t, err)
	require.FileExists(t, filepath.Join(root, "sub-01", "first", "process", "result.nii.gz"))

	rebuilt := buildDAGWith(t, ctx, root, l)
	assert.Contains(t, stagesOf(rebuilt.Nodes), "first", "outputs of a failed stage are not reused")
	assert.NotContains(t, stagesOf(rebuilt.Nodes), "side")
}

func TestExecute_InvalidatesStaleRecord(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	l := ledger.New(ledger.Trust, "run-1")
	dag := buildDAG(t, ctx, root)

	// A record left by an older run of a stage that is now expanded again.
	testutil.WriteFiles(t, root, map[string]string{"sub-01/first/process/result.nii.gz": "old voxels"})
	var first ledger.Entry
	for _, u := range dag.Units {
		if u.Entry.Stage == "first" {
			first = u.Entry
		}
	}
	require.NotEmpty(t, first.Artifacts)
	require.NoError(t, l.RecordComplete(ctx, first))

	runner := testutil.NewFakeRunner().FailNode("first.convert", "killed")
	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 1, Ledger: l, Units: dag.Units,
	})
	_, err := e.Execute(ctx)
	require.Error(t, err)
	assert.NoFileExists(t, markerPath(root, "first"))
	assert.False(t, l.IsComplete(ctx, first))
}

func TestExecute_NodeThatCannotStartIsSettled(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	dag := buildDAG(t, ctx, root)

	ts := inmemorytopology.New()
	require.NoError(t, graph.Populate(ctx, ts, dag.Nodes, dag.Edges))
	g := graph.New(ts, inmemorystore.New())
	sch, err := scheduler.New(ctx, g)
	require.NoError(t, err)
	stuck := &refusingGraph{Graph: g, refuse: "first.convert"}
	runner := testutil.NewFakeRunner()

	e := localexecutor.New(sch, stuck, runner, localexecutor.Config{Subject: "sub-01", Threads: 1})
	done := make(chan struct{})
	var report *executor.Report
	go func() {
		defer close(done)
		report, _ = e.Execute(ctx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after a node could not be started")
	}

	assert.NotContains(t, runner.Executed(), "first.convert")
	assert.NotContains(t, runner.Executed(), "second.convert", "dependants of the unstarted node are skipped")
	assert.Contains(t, runner.Executed(), "side.process")
	assert.Equal(t, 4, report.Count(node.StatusSkipped))
}

// refusingGraph fails MarkRunning for one node without changing its status.
type refusingGraph struct {
	graph.Graph
	refuse string
}

func (g *refusingGraph) MarkRunning(ctx context.Context, id nodeid.Address) error {
	if id.String() == g.refuse {
		return fmt.Errorf("node store unavailable")
	}
	return g.Graph.MarkRunning(ctx, id)
}

func stagesOf(nodes []*node.Node) []string {
	var stages []string
	for _, n := range nodes {
		stages = append(stages, n.Stage)
	}
	return stages
}

func TestExecute_EmptyGraph(t *testing.T) {
	ctx, _ := testutil.Context(t)
	e := newExecutor(t, ctx, nil, nil, testutil.NewFakeRunner(), localexecutor.Config{Subject: "sub-01"})

	report, err := e.Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Nodes)
}

func TestExecute_RecordFailureIsAWarning(t *testing.T) {
	ctx, logs := testutil.Context(t)
	root := t.TempDir()
	dag := buildDAG(t, ctx, root)
	runner := testutil.NewFakeRunner()
	runner.SkipOutputs = true

	e := newExecutor(t, ctx, dag.Nodes, dag.Edges, runner, localexecutor.Config{
		Subject: "sub-01", Threads: 2, Ledger: ledger.New(ledger.Trust, "run-1"), Units: dag.Units,
	})
	report, err := e.Execute(ctx)
	require.NoError(t, err, "a ledger problem does not fail the subject")
	assert.Empty(t, report.Recorded)
	assert.Contains(t, logs.String(), "ResumabilityError")
	_, statErr := os.Stat(markerPath(root, "first"))
	assert.True(t, os.IsNotExist(statErr))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
