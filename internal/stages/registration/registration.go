// Package registration aligns the anatomical images and masks to the
// diffusion space of the subject, using either ANTs (rigid+affine with
// optional SyN) or FSL flirt.
package registration

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

const Name = "registration"

const (
	InT1        = "T1"
	InBrain     = "brain"
	InWMMask    = "wm_mask"
	InROIVolume = "roi_volume"
	InTarget    = "target"
	InBvecs     = "bvecs"
	InBvals     = "bvals"

	OutT1        = "T1_registered"
	OutWMMask    = "wm_mask_registered"
	OutROIVolume = "roi_volume_registered"
	OutMeanB0    = "mean_b0"
)

const (
	OptMode = "registration_mode"
	OptSyN  = "ants_perform_syn"
	OptDOF  = "flirt_dof"
	OptCost = "flirt_cost"
)

// Values of registration_mode.
const (
	ModeANTs  = "ANTs"
	ModeFlirt = "FSL"
)

// transforms is the subdirectory holding the estimated transforms.
const transforms = "xfm"

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Enum(OptMode, "Registration tool.", ModeANTs, ModeFlirt),
		option.Bool(OptSyN, true, "Add a SyN non-linear step to the ANTs registration."),
		option.Int(OptDOF, 6, &option.Range{Min: 6, Max: 12}, "Degrees of freedom of the flirt registration."),
		option.Enum(OptCost, "flirt cost function.", "normmi", "mutualinfo", "corratio", "normcorr"),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InT1, port.Volume),
			port.Required(InBrain, port.Volume),
			port.Required(InWMMask, port.Volume),
			port.Required(InROIVolume, port.Volume),
			port.Required(InTarget, port.Volume),
			port.Required(InBvecs, port.Gradients),
			port.Required(InBvals, port.Gradients),
		},
		[]port.Spec{
			port.Required(OutT1, port.Volume),
			port.Required(OutWMMask, port.Volume),
			port.Required(OutROIVolume, port.Volume),
			port.Required(OutMeanB0, port.Volume),
		},
	)}
}

func (s *Stage) paths(env stage.Env) map[string]string {
	return map[string]string{
		OutT1:        env.Path("apply_t1", "T1_registered.nii.gz"),
		OutWMMask:    env.Path("apply_wm", "wm_mask_registered.nii.gz"),
		OutROIVolume: env.Path("apply_roi", "roi_volume_registered.nii.gz"),
		OutMeanB0:    env.Path("mean_b0", "mean_b0.nii.gz"),
	}
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	p := s.paths(env)
	out := make(port.Bindings, len(p))
	for name, path := range p {
		out[name] = port.External(port.Volume, path)
	}
	return stage.Completion{
		Entry:   env.Entry(p[OutT1], p[OutWMMask], p[OutROIVolume]),
		Reuse:   s.Values().Bool(stage.OptReuse),
		Outputs: out,
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
	p := s.paths(env)
	threads := env.Threads(v.Int(stage.OptThreads))

	g := stage.NewSubgraph()
	b0s := env.Path("extract_b0", "b0s.nii.gz")
	extract := g.Add(env.Node("extract_b0", "dwiextract", in.Value(InTarget), "-bzero", b0s,
		"-fslgrad", in.Value(InBvecs), in.Value(InBvals)).
		WithOutput("out_file", port.Volume, b0s), in[InTarget], in[InBvecs], in[InBvals])
	mean := g.Add(env.Node("mean_b0", "mrmath", b0s, "mean", p[OutMeanB0], "-axis", "3").
		WithOutput("out_file", port.Volume, p[OutMeanB0]), extract.Output("out_file"))

	r := &registrar{v: v, env: env, paths: p, ref: mean.Output("out_file"), threads: threads}
	branches := stage.Branches{
		ModeANTs:  r.ants,
		ModeFlirt: r.flirt,
	}
	ctxlog.FromContext(ctx).Debug("Selected registration tool.", "stage", env.ID(), OptMode, v.String(OptMode))

	bg, out, err := branches.Expand(ctx, env, in, Name, OptMode, v.String(OptMode))
	if err != nil {
		return nil, nil, err
	}
	g.Merge(bg)
	out[OutMeanB0] = mean.Output("out_file")
	return g, out, nil
}

type registrar struct {
	v       option.Values
	env     stage.Env
	paths   map[string]string
	ref     port.Binding
	threads int
}

// apply adds one resampling node per moved image. newNode builds the
// tool-specific node for (name, input, output, label).
func (r *registrar) apply(g *stage.Subgraph, in port.Bindings, transform *node.Node,
	newNode func(name, input, output string, label bool) *node.Node) port.Bindings {
	moves := []struct {
		name, input, output string
		label               bool
	}{
		{"apply_t1", InT1, OutT1, false},
		{"apply_wm", InWMMask, OutWMMask, true},
		{"apply_roi", InROIVolume, OutROIVolume, true},
	}
	out := make(port.Bindings, len(moves))
	for _, m := range moves {
		n := g.Add(newNode(m.name, in.Value(m.input), r.paths[m.output], m.label).
			WithOutput("out_file", port.Volume, r.paths[m.output]), in[m.input], r.ref)
		g.After(n, transform)
		out[m.output] = n.Output("out_file")
	}
	return out
}

func (r *registrar) ants(_ context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	prefix := env.Path(transforms, "t1_to_b0_")
	kind := "r"
	if r.v.Bool(OptSyN) {
		kind = "s"
	}
	reg := g.Add(env.Node("ants_registration", "antsRegistrationSyNQuick.sh",
		"-d", "3", "-f", r.ref.Value, "-m", in.Value(InBrain), "-o", prefix,
		"-t", kind, "-n", strconv.Itoa(r.threads)).
		WithThreads(r.threads).
		WithOutput("affine", port.Text, prefix+"0GenericAffine.mat"), in[InBrain], r.ref)
	if r.v.Bool(OptSyN) {
		reg.WithOutput("warp", port.Volume, prefix+"1Warp.nii.gz")
	}

	out := r.apply(g, in, reg, func(name, input, output string, label bool) *node.Node {
		interp := "Linear"
		if label {
			interp = "NearestNeighbor"
		}
		args := []string{"-d", "3", "-i", input, "-r", r.ref.Value, "-o", output, "-n", interp}
		if w, ok := reg.Outputs["warp"]; ok {
			args = append(args, "-t", w.Path)
		}
		args = append(args, "-t", reg.Outputs["affine"].Path)
		return env.Node(name, "antsApplyTransforms", args...)
	})
	return g, out, nil
}

func (r *registrar) flirt(_ context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	mat := env.Path(transforms, "t1_to_b0.mat")
	reg := g.Add(env.Node("flirt", "flirt",
		"-in", in.Value(InBrain), "-ref", r.ref.Value, "-omat", mat,
		"-dof", strconv.Itoa(r.v.Int(OptDOF)), "-cost", r.v.String(OptCost)).
		WithOutput("out_matrix_file", port.Text, mat), in[InBrain], r.ref)

	out := r.apply(g, in, reg, func(name, input, output string, label bool) *node.Node {
		interp := "trilinear"
		if label {
			interp = "nearestneighbour"
		}
		return env.Node(name, "flirt", "-in", input, "-ref", r.ref.Value,
			"-applyxfm", "-init", mat, "-out", output, "-interp", interp)
	})
	return g, out, nil
}
