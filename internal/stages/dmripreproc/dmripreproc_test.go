package dmripreproc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/stages/dmripreproc"
	"github.com/specialistvlad/connectogrid/internal/testutil"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testEnv(t *testing.T) stage.Env {
	t.Helper()
	return stage.NewEnv("sub-01", t.TempDir(), toolchain.Toolchain{}, 4, nil).Child(dmripreproc.Name)
}

func rawDWI() port.Bindings {
	return port.Bindings{
		dmripreproc.InDWI:   port.External(port.Volume, "/bids/sub-01/dwi/sub-01_dwi.nii.gz"),
		dmripreproc.InBvecs: port.External(port.Gradients, "/bids/sub-01/dwi/sub-01_dwi.bvec"),
		dmripreproc.InBvals: port.External(port.Gradients, "/bids/sub-01/dwi/sub-01_dwi.bval"),
	}
}

func TestExpand_OptionalSteps(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]cty.Value
		want []string
	}{
		{
			name: "defaults",
			want: []string{"eddy", "resample"},
		},
		{
			name: "nothing optional",
			opts: map[string]cty.Value{dmripreproc.OptEddy: cty.False},
			want: []string{"resample"},
		},
		{
			name: "everything",
			opts: map[string]cty.Value{
				dmripreproc.OptDenoising: cty.True,
				dmripreproc.OptBiasField: cty.True,
			},
			want: []string{"denoise", "bias_correct", "eddy", "resample"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			s := dmripreproc.New()
			for k, v := range tt.opts {
				require.NoError(t, s.Object().Set(k, v))
			}

			g, out, err := s.Expand(ctx, testEnv(t), rawDWI())
			require.NoError(t, err)
			require.NoError(t, g.Validate())

			want := make([]string, len(tt.want))
			for i, n := range tt.want {
				want[i] = dmripreproc.Name + "." + n
			}
			assert.Equal(t, want, g.NodeIDs())
			for i := 1; i < len(want); i++ {
				assert.Contains(t, g.Edges, edge(t, g, want[i-1], want[i]), "steps are chained")
			}
			assert.Equal(t, dmripreproc.Name+".resample", out[dmripreproc.OutDWI].Producer.String())
		})
	}
}

func edge(t *testing.T, g *stage.Subgraph, from, to string) stage.Edge {
	t.Helper()
	for _, e := range g.Edges {
		if e.From.String() == from && e.To.String() == to {
			return e
		}
	}
	t.Fatalf("no edge %s -> %s in %v", from, to, g.Edges)
	return stage.Edge{}
}

func TestExpand_FSLEddy(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := t.TempDir()
	acqp := filepath.Join(dir, "acqp.txt")
	index := filepath.Join(dir, "index.txt")
	require.NoError(t, os.WriteFile(acqp, []byte("0 -1 0 0.05"), 0o644))
	require.NoError(t, os.WriteFile(index, []byte("1 1 1"), 0o644))

	s := dmripreproc.New()
	for k, v := range map[string]cty.Value{
		dmripreproc.OptEddyAlgo:  cty.StringVal(dmripreproc.Eddy),
		dmripreproc.OptEddyAcqp:  cty.StringVal(acqp),
		dmripreproc.OptEddyIndex: cty.StringVal(index),
		dmripreproc.OptEddyArgs:  cty.StringVal("--repol --slm=linear"),
	} {
		require.NoError(t, s.Object().Set(k, v))
	}

	g, _, err := s.Expand(ctx, testEnv(t), rawDWI())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"dmri_preprocessing.extract_b0",
		"dmri_preprocessing.eddy_mask",
		"dmri_preprocessing.eddy",
		"dmri_preprocessing.resample",
	}, g.NodeIDs())

	eddy, _ := g.Node("dmri_preprocessing.eddy")
	assert.Contains(t, eddy.Command, "--acqp="+acqp)
	assert.Subset(t, eddy.Command, []string{"--repol", "--slm=linear"})

	resample, _ := g.Node("dmri_preprocessing.resample")
	assert.Contains(t, resample.Command, eddy.Outputs["rotated_bvecs"].Path, "rotated gradients feed the resampling")
}

func TestExpand_FSLEddyRequiresAcquisitionFiles(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := dmripreproc.New()
	require.NoError(t, s.Object().Set(dmripreproc.OptEddyAlgo, cty.StringVal(dmripreproc.Eddy)))

	_, _, err := s.Expand(ctx, testEnv(t), rawDWI())
	assert.ErrorIs(t, err, stage.ErrUnsupportedConfiguration)
}

func TestExpand_Resampling(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := dmripreproc.New()
	require.NoError(t, s.Object().Set(dmripreproc.OptResampling, cty.NumberFloatVal(1.25)))

	g, _, err := s.Expand(ctx, testEnv(t), rawDWI())
	require.NoError(t, err)
	resample, _ := g.Node("dmri_preprocessing.resample")
	assert.Subset(t, resample.Command, []string{"-voxel", "1.25", "-interp", "cubic"})
}

func TestExpand_Deterministic(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := dmripreproc.New()
	require.NoError(t, s.Object().Set(dmripreproc.OptDenoising, cty.True))
	env := testEnv(t)

	first, _, err := s.Expand(ctx, env, rawDWI())
	require.NoError(t, err)
	second, _, err := s.Expand(ctx, env, rawDWI())
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("expand is not deterministic (-first +second):\n%s", diff)
	}
}

func TestCompletion(t *testing.T) {
	env := testEnv(t)
	c := dmripreproc.New().Completion(env)
	assert.Len(t, c.Entry.Artifacts, 3)
	assert.Equal(t, port.Gradients, c.Outputs[dmripreproc.OutBvecs].Kind)
	assert.True(t, c.Outputs[dmripreproc.OutDWI].IsExternal())
}
