// Package connectome builds structural connectivity matrices by
// assigning streamlines to pairs of regions of interest.
package connectome

import (
	"context"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "connectome"

const (
	InStreamlines = "streamlines"
	InROIVolume   = "roi_volume_registered"

	OutMatrix       = "connectivity_matrix"
	OutLengthMatrix = "length_matrix"
)

const (
	OptAssignment   = "assignment"
	OptMetric       = "metric"
	OptLength       = "compute_length_matrix"
	OptSymmetric    = "symmetric"
	OptZeroDiagonal = "zero_diagonal"
)

var assignmentFlags = map[string][]string{
	"radial":  {"-assignment_radial_search", "2"},
	"end":     {"-assignment_end_voxels"},
	"forward": {"-assignment_forward_search", "2"},
}

var metricFlags = map[string][]string{
	"count":      nil,
	"invnodevol": {"-scale_invnodevol"},
	"invlength":  {"-scale_invlength"},
}

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Enum(OptAssignment, "Streamline to node assignment.", "radial", "end", "forward"),
		option.Enum(OptMetric, "Edge weight.", "count", "invnodevol", "invlength"),
		option.Bool(OptLength, false, "Also compute the mean streamline length matrix."),
		option.Bool(OptSymmetric, true, "Write symmetric matrices."),
		option.Bool(OptZeroDiagonal, true, "Zero the matrix diagonal."),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InStreamlines, port.Tractogram),
			port.Required(InROIVolume, port.Volume),
		},
		[]port.Spec{
			port.Required(OutMatrix, port.Matrix),
			port.Optional(OutLengthMatrix, port.Matrix),
		},
	)}
}

func (s *Stage) matrix(env stage.Env) string {
	return env.Path("connectome_" + s.Values().String(OptMetric) + ".csv")
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	return stage.Completion{
		Entry:   env.Entry(s.matrix(env)),
		Reuse:   s.Values().Bool(stage.OptReuse),
		Outputs: port.Bindings{OutMatrix: port.External(port.Matrix, s.matrix(env))},
	}
}

func (s *Stage) HasCompleted(ctx context.Context, l ledger.Ledger, env stage.Env) bool {
	return stage.Check(ctx, l, s.Completion(env))
}

func (s *Stage) Expand(_ context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	if err := stage.CheckInputs(Name, s.Inputs(), in); err != nil {
		return nil, nil, err
	}
	v := s.Values()
	tracks, roi := in[InStreamlines], in[InROIVolume]

	common := slices.Clone(assignmentFlags[v.String(OptAssignment)])
	if v.Bool(OptSymmetric) {
		common = append(common, "-symmetric")
	}
	if v.Bool(OptZeroDiagonal) {
		common = append(common, "-zero_diagonal")
	}

	g := stage.NewSubgraph()
	args := append([]string{tracks.Value, roi.Value, s.matrix(env)}, common...)
	args = append(args, metricFlags[v.String(OptMetric)]...)
	conn := g.Add(env.Node("tck2connectome", "tck2connectome", append(args, "-force")...).
		WithOutput("out_file", port.Matrix, s.matrix(env)), tracks, roi)
	out := port.Bindings{OutMatrix: conn.Output("out_file")}

	if v.Bool(OptLength) {
		path := env.Path("connectome_meanlength.csv")
		args := append([]string{tracks.Value, roi.Value, path}, common...)
		length := g.Add(env.Node("length_matrix", "tck2connectome", append(args, "-scale_length", "-stat_edge", "mean", "-force")...).
			WithOutput("out_file", port.Matrix, path), tracks, roi)
		out[OutLengthMatrix] = length.Output("out_file")
	}
	return g, out, nil
}
