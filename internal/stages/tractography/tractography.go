// Package tractography reconstructs local fiber orientations and
// generates whole-brain streamlines with MRtrix3.
package tractography

import (
	"context"
	"strconv"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "tractography"

const (
	InDWI    = "diffusion"
	InBvecs  = "bvecs"
	InBvals  = "bvals"
	InWMMask = "wm_mask_registered"
	InT1     = "T1_registered"

	OutStreamlines = "streamlines"
	OutFOD         = "fod"
	OutFA          = "fa"
)

const (
	OptModel       = "local_model"
	OptMode        = "tracking_mode"
	OptStreamlines = "number_of_streamlines"
	OptMaxLength   = "max_length"
	OptMinLength   = "min_length"
	OptAngle       = "angle"
	OptACT         = "use_act"
	OptSIFT        = "sift"
	OptExtraArgs   = "tckgen_args"
)

// Values of local_model and tracking_mode.
const (
	ModelCSD      = "CSD"
	ModelTensor   = "Tensor"
	Probabilistic = "Probabilistic"
	Deterministic = "Deterministic"
)

// algorithms maps (local_model, tracking_mode) to the tckgen algorithm.
var algorithms = map[[2]string]string{
	{ModelCSD, Probabilistic}:    "iFOD2",
	{ModelCSD, Deterministic}:    "SD_Stream",
	{ModelTensor, Probabilistic}: "Tensor_Prob",
	{ModelTensor, Deterministic}: "Tensor_Det",
}

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Enum(OptModel, "Local diffusion model.", ModelCSD, ModelTensor),
		option.Enum(OptMode, "Streamline tracking mode.", Probabilistic, Deterministic),
		option.Int(OptStreamlines, 1000000, &option.Range{Min: 1, Max: 100000000}, "Number of streamlines to select."),
		option.Number(OptMaxLength, 250, &option.Range{Min: 0, Max: 1000, MinExclusive: true}, "Maximum streamline length in mm."),
		option.Number(OptMinLength, 10, &option.Range{Min: 0, Max: 1000}, "Minimum streamline length in mm."),
		option.Number(OptAngle, 45, &option.Range{Min: 0, Max: 90, MinExclusive: true}, "Maximum angle between steps in degrees."),
		option.Bool(OptACT, false, "Anatomically-constrained tractography from the registered T1."),
		option.Bool(OptSIFT, false, "Filter streamlines with SIFT (CSD only)."),
		option.Args(OptExtraArgs, "Extra tckgen arguments."),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InDWI, port.Volume),
			port.Required(InBvecs, port.Gradients),
			port.Required(InBvals, port.Gradients),
			port.Required(InWMMask, port.Volume),
			port.Optional(InT1, port.Volume),
		},
		[]port.Spec{
			port.Required(OutStreamlines, port.Tractogram),
			port.Optional(OutFOD, port.Volume),
			port.Optional(OutFA, port.Volume),
		},
	)}
}

func (s *Stage) streamlines(env stage.Env) string {
	return env.Path("streamlines.tck")
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	return stage.Completion{
		Entry:   env.Entry(s.streamlines(env)),
		Reuse:   s.Values().Bool(stage.OptReuse),
		Outputs: port.Bindings{OutStreamlines: port.External(port.Tractogram, s.streamlines(env))},
	}
}

func (s *Stage) HasCompleted(ctx context.Context, l ledger.Ledger, env stage.Env) bool {
	return stage.Check(ctx, l, s.Completion(env))
}

func (s *Stage) Expand(ctx context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	if err := stage.CheckInputs(Name, s.Inputs(), in); err != nil {
		return nil, nil, err
	}
	v := s.Values()
	model := v.String(OptModel)
	if v.Bool(OptSIFT) && model != ModelCSD {
		return nil, nil, stage.Unsupported(Name, "%s requires %s=%s", OptSIFT, OptModel, ModelCSD)
	}
	if _, ok := in[InT1]; v.Bool(OptACT) && !ok {
		return nil, nil, stage.Unsupported(Name, "%s requires the %s input", OptACT, InT1)
	}

	t := &tracker{v: v, env: env, in: in, threads: env.Threads(v.Int(stage.OptThreads))}
	branches := stage.Branches{
		ModelCSD:    t.csd,
		ModelTensor: t.tensor,
	}
	ctxlog.FromContext(ctx).Debug("Selected local model.", "stage", env.ID(), OptModel, model, OptMode, v.String(OptMode))

	return branches.Expand(ctx, env, in, Name, OptModel, model)
}

type tracker struct {
	v       option.Values
	env     stage.Env
	in      port.Bindings
	threads int
}

// mrtrix creates an MRtrix node carrying the gradient table and thread count.
func (t *tracker) mrtrix(name, tool string, args ...string) *node.Node {
	args = append(args, "-fslgrad", t.in.Value(InBvecs), t.in.Value(InBvals), "-nthreads", strconv.Itoa(t.threads))
	return t.env.Node(name, tool, args...).WithThreads(t.threads)
}

func (t *tracker) gradients() []port.Binding {
	return []port.Binding{t.in[InDWI], t.in[InBvecs], t.in[InBvals]}
}

// track adds tckgen on source and, for CSD, the optional SIFT filter.
func (t *tracker) track(g *stage.Subgraph, source port.Binding, fod *node.Node) port.Binding {
	algo := algorithms[[2]string{t.v.String(OptModel), t.v.String(OptMode)}]
	out := t.env.Path("streamlines.tck")
	raw := out
	if t.v.Bool(OptSIFT) {
		raw = t.env.Path("tckgen", "tracks_raw.tck")
	}

	args := []string{source.Value, raw,
		"-algorithm", algo,
		"-seed_image", t.in.Value(InWMMask),
		"-select", strconv.Itoa(t.v.Int(OptStreamlines)),
		"-maxlength", option.FormatFloat(t.v.Float(OptMaxLength)),
		"-minlength", option.FormatFloat(t.v.Float(OptMinLength)),
		"-angle", option.FormatFloat(t.v.Float(OptAngle)),
	}
	deps := []port.Binding{source, t.in[InWMMask]}
	if t.v.Bool(OptACT) {
		tt := t.env.Path("act", "5tt.mif")
		act := g.Add(t.env.Node("act", "5ttgen", "fsl", t.in.Value(InT1), tt, "-premasked", "-nthreads", strconv.Itoa(t.threads)).
			WithThreads(t.threads).
			WithOutput("out_file", port.Volume, tt), t.in[InT1])
		args = append(args, "-act", tt, "-backtrack", "-crop_at_gmwmi")
		deps = append(deps, act.Output("out_file"))
	}
	args = append(args, t.v.Args(OptExtraArgs)...)

	var gen *node.Node
	if t.v.String(OptModel) == ModelTensor {
		gen = t.mrtrix("tckgen", "tckgen", args...)
		deps = append(deps, t.gradients()...)
	} else {
		gen = t.env.Node("tckgen", "tckgen", append(args, "-nthreads", strconv.Itoa(t.threads))...).WithThreads(t.threads)
	}
	gen = g.Add(gen.WithOutput("out_file", port.Tractogram, raw), deps...)

	if !t.v.Bool(OptSIFT) {
		return gen.Output("out_file")
	}
	sift := g.Add(t.env.Node("sift", "tcksift", raw, fod.Outputs["out_file"].Path, out, "-nthreads", strconv.Itoa(t.threads)).
		WithThreads(t.threads).
		WithOutput("out_file", port.Tractogram, out), gen.Output("out_file"), fod.Output("out_file"))
	return sift.Output("out_file")
}

func (t *tracker) csd(_ context.Context, env stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	resp := env.Path("response", "response.txt")
	response := g.Add(t.mrtrix("response", "dwi2response", "tournier", t.in.Value(InDWI), resp, "-mask", t.in.Value(InWMMask)).
		WithOutput("out_file", port.Text, resp), append(t.gradients(), t.in[InWMMask])...)

	fodPath := env.Path("fod", "fod.mif")
	fod := g.Add(t.mrtrix("fod", "dwi2fod", "csd", t.in.Value(InDWI), resp, fodPath).
		WithOutput("out_file", port.Volume, fodPath), append(t.gradients(), response.Output("out_file"))...)

	tracks := t.track(g, fod.Output("out_file"), fod)
	return g, port.Bindings{OutStreamlines: tracks, OutFOD: fod.Output("out_file")}, nil
}

func (t *tracker) tensor(_ context.Context, env stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	tensorPath := env.Path("tensor", "tensor.mif")
	tensor := g.Add(t.mrtrix("tensor", "dwi2tensor", t.in.Value(InDWI), tensorPath).
		WithOutput("out_file", port.Volume, tensorPath), t.gradients()...)

	faPath := env.Path("fa", "fa.nii.gz")
	fa := g.Add(env.Node("fa", "tensor2metric", tensorPath, "-fa", faPath).
		WithOutput("out_file", port.Volume, faPath), tensor.Output("out_file"))

	tracks := t.track(g, t.in[InDWI], nil)
	return g, port.Bindings{OutStreamlines: tracks, OutFA: fa.Output("out_file")}, nil
}
