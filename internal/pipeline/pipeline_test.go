package pipeline_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/testutil"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

var (
	ioIn  = []port.Spec{port.Required("t1", port.Volume)}
	ioOut = []port.Spec{port.Required("result", port.Volume)}
)

func rawInputs() port.Bindings {
	return port.Bindings{"t1": port.External(port.Volume, "/bids/sub-01/anat/sub-01_T1w.nii.gz")}
}

// newChain returns first -> second, wired to the pipeline's ports.
func newChain(t *testing.T, name string) (*pipeline.Pipeline, *testutil.ToyStage, *testutil.ToyStage) {
	t.Helper()
	p := pipeline.New(name, ioIn, ioOut)
	first, second := testutil.NewToyStage("first"), testutil.NewToyStage("second")
	require.NoError(t, p.AddStage(first))
	require.NoError(t, p.AddStage(second))
	require.NoError(t, p.ConnectInput("t1", "first", "image"))
	require.NoError(t, p.Connect("first", "result", "second", "image"))
	require.NoError(t, p.ConnectOutput("second", "result", "result"))
	return p, first, second
}

func newEnv(t *testing.T, root string, l ledger.Ledger) stage.Env {
	t.Helper()
	return stage.NewEnv("sub-01", root, toolchain.Toolchain{}, 0, l)
}

func TestBuild_Chain(t *testing.T) {
	ctx, _ := testutil.Context(t)
	p, _, _ := newChain(t, "anatomical")

	dag, err := p.Build(ctx, newEnv(t, t.TempDir(), nil), rawInputs())
	require.NoError(t, err)

	ids := make([]string, 0, dag.Len())
	for _, n := range dag.Nodes {
		ids = append(ids, n.ID.String())
	}
	assert.Equal(t, []string{"first.convert", "first.process", "second.convert", "second.process"}, ids)
	assert.Equal(t, []string{"first.process"}, dag.DependenciesOf("second.convert"))
	assert.Empty(t, dag.DependenciesOf("first.convert"), "raw inputs add no edges")

	require.Contains(t, dag.Outputs, "result")
	assert.Equal(t, "second.process", dag.Outputs["result"].Producer.String())

	require.Len(t, dag.Units, 2)
	assert.Equal(t, "first", dag.Units[0].Entry.Stage)
	assert.Len(t, dag.Units[0].Nodes, 2)
}

func TestBuild_UnconnectedRequiredInput(t *testing.T) {
	ctx, _ := testutil.Context(t)
	p := pipeline.New("anatomical", ioIn, nil)
	require.NoError(t, p.AddStage(testutil.NewToyStage("first")))
	require.NoError(t, p.AddStage(testutil.NewToyStage("second")))
	require.NoError(t, p.ConnectInput("t1", "first", "image"))

	dag, err := p.Build(ctx, newEnv(t, t.TempDir(), nil), rawInputs())
	require.ErrorIs(t, err, pipeline.ErrUnconnectedRequiredInput)
	assert.Nil(t, dag)

	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.KindGraphConstruction, fe.Kind)
	assert.Equal(t, "second", fe.Stage)
}

func TestBuild_MissingPipelineInput(t *testing.T) {
	ctx, _ := testutil.Context(t)
	p, _, _ := newChain(t, "anatomical")

	_, err := p.Build(ctx, newEnv(t, t.TempDir(), nil), port.Bindings{})
	assert.ErrorIs(t, err, stage.ErrMissingRequiredInput)
}

func TestConnect_Errors(t *testing.T) {
	newPipeline := func(t *testing.T) *pipeline.Pipeline {
		p := pipeline.New("p", ioIn, ioOut)
		surfaces := testutil.NewToyStage("surfaces")
		surfaces.InKind = port.Surface
		require.NoError(t, p.AddStage(testutil.NewToyStage("first")))
		require.NoError(t, p.AddStage(testutil.NewToyStage("second")))
		require.NoError(t, p.AddStage(surfaces))
		return p
	}

	testCases := []struct {
		name    string
		connect func(p *pipeline.Pipeline) error
		wantErr error
	}{
		{
			name:    "volume into surface port",
			connect: func(p *pipeline.Pipeline) error { return p.Connect("first", "result", "surfaces", "image") },
			wantErr: pipeline.ErrPortTypeMismatch,
		},
		{
			name: "destination already bound",
			connect: func(p *pipeline.Pipeline) error {
				if err := p.ConnectInput("t1", "second", "image"); err != nil {
					return err
				}
				return p.Connect("first", "result", "second", "image")
			},
			wantErr: pipeline.ErrDuplicateConnection,
		},
		{
			name:    "backwards connection",
			connect: func(p *pipeline.Pipeline) error { return p.Connect("second", "result", "first", "image") },
			wantErr: pipeline.ErrStageOrder,
		},
		{
			name:    "unknown stage",
			connect: func(p *pipeline.Pipeline) error { return p.Connect("first", "result", "ghost", "image") },
			wantErr: pipeline.ErrUnknownStage,
		},
		{
			name:    "unknown port",
			connect: func(p *pipeline.Pipeline) error { return p.Connect("first", "brain", "second", "image") },
			wantErr: pipeline.ErrUnknownPort,
		},
		{
			name: "output exposed twice",
			connect: func(p *pipeline.Pipeline) error {
				if err := p.ConnectOutput("first", "result", "result"); err != nil {
					return err
				}
				return p.ConnectOutput("second", "result", "result")
			},
			wantErr: pipeline.ErrDuplicateConnection,
		},
		{
			name:    "unknown pipeline input",
			connect: func(p *pipeline.Pipeline) error { return p.ConnectInput("dwi", "first", "image") },
			wantErr: pipeline.ErrUnknownPort,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.connect(newPipeline(t))
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, failure.KindGraphConstruction, failure.KindOf(err))
		})
	}
}

func TestAddStage_Duplicate(t *testing.T) {
	p := pipeline.New("p", nil, nil)
	require.NoError(t, p.AddStage(testutil.NewToyStage("first")))
	assert.ErrorIs(t, p.AddStage(testutil.NewToyStage("first")), pipeline.ErrDuplicateStage)
}

func TestBuild_ReusesCompletedStage(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	artifact := filepath.Join(root, "sub-01", "first", "process", "result.nii.gz")
	testutil.WriteFiles(t, root, map[string]string{"sub-01/first/process/result.nii.gz": "voxels"})

	p, first, _ := newChain(t, "anatomical")
	l := ledger.New(ledger.Trust, "run")
	env := newEnv(t, root, l)
	require.NoError(t, l.RecordComplete(ctx, first.Completion(env.Child("first")).Entry))

	dag, err := p.Build(ctx, env, rawInputs())
	require.NoError(t, err)

	for _, n := range dag.Nodes {
		assert.NotEqual(t, "first", n.Stage, "completed stage must contribute no nodes")
	}
	assert.Equal(t, 2, dag.Len())
	assert.Empty(t, dag.DependenciesOf("second.convert"))

	convert := dag.Nodes[0]
	assert.Contains(t, convert.Command, artifact, "downstream input bound to the existing artifact")
}

func TestBuild_ForcedRecomputation(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{"sub-01/first/process/result.nii.gz": "voxels"})

	p, first, _ := newChain(t, "anatomical")
	require.NoError(t, first.Object().Set(stage.OptReuse, cty.False))

	dag, err := p.Build(ctx, newEnv(t, root, ledger.New(ledger.Trust, "run")), rawInputs())
	require.NoError(t, err)
	assert.Equal(t, 4, dag.Len())
}

func TestBuild_FreezesConfiguration(t *testing.T) {
	ctx, _ := testutil.Context(t)
	p, first, _ := newChain(t, "anatomical")
	require.NoError(t, p.Config().Set("first.tool", cty.StringVal("ToolB")))

	_, err := p.Build(ctx, newEnv(t, t.TempDir(), nil), rawInputs())
	require.NoError(t, err)

	assert.ErrorIs(t, first.Object().Set("tool", cty.StringVal("ToolA")), option.ErrFrozen)
	assert.ErrorIs(t, p.Config().Set("second.tool", cty.StringVal("ToolB")), option.ErrFrozen)
}

func TestBuild_Idempotent(t *testing.T) {
	ctx, _ := testutil.Context(t)
	p, _, _ := newChain(t, "anatomical")
	env := newEnv(t, t.TempDir(), nil)

	first, err := p.Build(ctx, env, rawInputs())
	require.NoError(t, err)
	second, err := p.Build(ctx, env, rawInputs())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("build is not deterministic (-first +second):\n%s", diff)
	}
}

func TestNesting(t *testing.T) {
	ctx, _ := testutil.Context(t)
	inner, _, _ := newChain(t, "anatomical")

	outer := pipeline.New("subject", ioIn, ioOut)
	require.NoError(t, outer.AddStage(inner))
	require.NoError(t, outer.AddStage(testutil.NewToyStage("connectome")))
	require.NoError(t, outer.ConnectInput("t1", "anatomical", "t1"))

	err := outer.Connect("anatomical", "second.result", "connectome", "image")
	require.ErrorIs(t, err, pipeline.ErrUnknownPort, "internal names must not be addressable from outside")

	require.NoError(t, outer.Connect("anatomical", "result", "connectome", "image"))
	require.NoError(t, outer.ConnectOutput("connectome", "result", "result"))

	assert.Equal(t, []string{"t1"}, portNames(inner.Inputs()))
	assert.Equal(t, []string{"result"}, portNames(inner.Outputs()))

	require.NoError(t, outer.Config().Set("anatomical.second.tool", cty.StringVal("ToolB")))

	dag, err := outer.Build(ctx, newEnv(t, t.TempDir(), nil), rawInputs())
	require.NoError(t, err)

	assert.Equal(t, []string{"result"}, keys(dag.Outputs))
	assert.Equal(t, []string{"anatomical.second.mrconvert"}, dag.DependenciesOf("connectome.convert"))

	_, ok := findNode(dag, "anatomical.first.convert")
	assert.True(t, ok)
	for _, u := range dag.Units {
		assert.NotEqual(t, "anatomical", u.Entry.Stage, "a pipeline is never a ledger unit of its own")
	}
}

func portNames(specs []port.Spec) []string {
	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

func keys(b port.Bindings) []string {
	var out []string
	for k := range b {
		out = append(out, k)
	}
	return out
}

func findNode(dag *pipeline.DAG, id string) (int, bool) {
	for i, n := range dag.Nodes {
		if n.ID.String() == id {
			return i, true
		}
	}
	return -1, false
}
