package connectome_test

import (
	"testing"

	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/stages/connectome"
	"github.com/specialistvlad/connectogrid/internal/testutil"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testEnv(t *testing.T) stage.Env {
	t.Helper()
	return stage.NewEnv("sub-01", t.TempDir(), toolchain.Toolchain{}, 0, nil).Child(connectome.Name)
}

func inputs() port.Bindings {
	return port.Bindings{
		connectome.InStreamlines: port.External(port.Tractogram, "/t/streamlines.tck"),
		connectome.InROIVolume:   port.External(port.Volume, "/r/roi.nii.gz"),
	}
}

func TestExpand_Defaults(t *testing.T) {
	ctx, _ := testutil.Context(t)
	env := testEnv(t)
	g, out, err := connectome.New().Expand(ctx, env, inputs())
	require.NoError(t, err)

	assert.Equal(t, []string{"connectome.tck2connectome"}, g.NodeIDs())
	n, _ := g.Node("connectome.tck2connectome")
	assert.Equal(t, []string{
		"tck2connectome", "/t/streamlines.tck", "/r/roi.nii.gz", env.Path("connectome_count.csv"),
		"-assignment_radial_search", "2", "-symmetric", "-zero_diagonal", "-force",
	}, n.Command)
	assert.Equal(t, port.Matrix, out[connectome.OutMatrix].Kind)
	assert.NotContains(t, out, connectome.OutLengthMatrix)
}

func TestExpand_LengthMatrixAndMetric(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := connectome.New()
	require.NoError(t, s.Object().Set(connectome.OptLength, cty.True))
	require.NoError(t, s.Object().Set(connectome.OptMetric, cty.StringVal("invnodevol")))
	require.NoError(t, s.Object().Set(connectome.OptAssignment, cty.StringVal("end")))
	require.NoError(t, s.Object().Set(connectome.OptSymmetric, cty.False))

	g, out, err := s.Expand(ctx, testEnv(t), inputs())
	require.NoError(t, err)
	assert.Equal(t, []string{"connectome.tck2connectome", "connectome.length_matrix"}, g.NodeIDs())

	conn, _ := g.Node("connectome.tck2connectome")
	assert.Contains(t, conn.Command, "-scale_invnodevol")
	assert.Contains(t, conn.Command, "-assignment_end_voxels")
	assert.NotContains(t, conn.Command, "-symmetric")

	length, _ := g.Node("connectome.length_matrix")
	assert.Subset(t, length.Command, []string{"-scale_length", "-stat_edge", "mean"})
	assert.NotContains(t, length.Command, "-scale_invnodevol")
	assert.Equal(t, "connectome.length_matrix", out[connectome.OutLengthMatrix].Producer.String())
}

func TestExpand_MissingInput(t *testing.T) {
	ctx, _ := testutil.Context(t)
	_, _, err := connectome.New().Expand(ctx, testEnv(t), port.Bindings{})
	assert.ErrorIs(t, err, stage.ErrMissingRequiredInput)
}

func TestCompletion_TracksMetric(t *testing.T) {
	env := testEnv(t)
	s := connectome.New()
	require.NoError(t, s.Object().Set(connectome.OptMetric, cty.StringVal("invlength")))
	assert.Equal(t, []string{env.Path("connectome_invlength.csv")}, s.Completion(env).Entry.Artifacts)
}
