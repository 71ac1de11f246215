// Package dmripreproc prepares diffusion-weighted images for registration
// and tractography: optional denoising, bias field correction, eddy
// current and motion correction, and resampling.
package dmripreproc

import (
	"context"
	"strconv"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "dmri_preprocessing"

const (
	InDWI   = "dwi"
	InBvecs = "bvecs"
	InBvals = "bvals"

	OutDWI   = "diffusion_preproc"
	OutBvecs = "bvecs"
	OutBvals = "bvals"
)

const (
	OptDenoising     = "denoising"
	OptBiasField     = "bias_field_correction"
	OptEddy          = "eddy_current_and_motion_correction"
	OptEddyAlgo      = "eddy_correction_algo"
	OptEddyAcqp      = "eddy_acqp_file"
	OptEddyIndex     = "eddy_index_file"
	OptEddyArgs      = "eddy_args"
	OptResampling    = "resampling"
	OptInterpolation = "interpolation"
)

// Values of eddy_correction_algo.
const (
	EddyCorrect = "FSL eddy_correct"
	Eddy        = "FSL eddy"
)

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Bool(OptDenoising, false, "Denoise with MRtrix dwidenoise (MP-PCA)."),
		option.Bool(OptBiasField, false, "Correct the B1 bias field with dwibiascorrect."),
		option.Bool(OptEddy, true, "Correct eddy currents and head motion."),
		option.Enum(OptEddyAlgo, "Eddy current correction tool.", EddyCorrect, Eddy),
		option.Path(OptEddyAcqp, true, "Acquisition parameters file for FSL eddy."),
		option.Path(OptEddyIndex, true, "Volume index file for FSL eddy."),
		option.Args(OptEddyArgs, "Extra FSL eddy arguments."),
		option.Number(OptResampling, 2, &option.Range{Min: 0, Max: 10, MinExclusive: true}, "Output voxel size in mm."),
		option.Enum(OptInterpolation, "Resampling interpolation.", "cubic", "linear", "nearest", "sinc"),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InDWI, port.Volume),
			port.Required(InBvecs, port.Gradients),
			port.Required(InBvals, port.Gradients),
		},
		[]port.Spec{
			port.Required(OutDWI, port.Volume),
			port.Required(OutBvecs, port.Gradients),
			port.Required(OutBvals, port.Gradients),
		},
	)}
}

func (s *Stage) resampled(env stage.Env) string {
	return env.Path("resample", "dwi_preproc.nii.gz")
}

// Completion implements stage.Stage. Gradients are copied next to the
// resampled image so that a reused stage can bind all three outputs.
func (s *Stage) Completion(env stage.Env) stage.Completion {
	return stage.Completion{
		Entry: env.Entry(s.resampled(env), env.Path("resample", "dwi_preproc.bvec"), env.Path("resample", "dwi_preproc.bval")),
		Reuse: s.Values().Bool(stage.OptReuse),
		Outputs: port.Bindings{
			OutDWI:   port.External(port.Volume, s.resampled(env)),
			OutBvecs: port.External(port.Gradients, env.Path("resample", "dwi_preproc.bvec")),
			OutBvals: port.External(port.Gradients, env.Path("resample", "dwi_preproc.bval")),
		},
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
	threads := env.Threads(v.Int(stage.OptThreads))
	nthreads := strconv.Itoa(threads)
	logger := ctxlog.FromContext(ctx).With("stage", env.ID())

	g := stage.NewSubgraph()
	dwi, bvecs, bvals := in[InDWI], in[InBvecs], in[InBvals]

	if v.Bool(OptDenoising) {
		out := env.Path("denoise", "dwi_denoised.nii.gz")
		n := g.Add(env.Node("denoise", "dwidenoise", dwi.Value, out, "-nthreads", nthreads).
			WithThreads(threads).
			WithOutput("out_file", port.Volume, out), dwi)
		dwi = n.Output("out_file")
	}

	if v.Bool(OptBiasField) {
		out := env.Path("bias_correct", "dwi_biascorr.nii.gz")
		n := g.Add(env.Node("bias_correct", "dwibiascorrect", "ants", dwi.Value, out,
			"-fslgrad", bvecs.Value, bvals.Value, "-nthreads", nthreads).
			WithThreads(threads).
			WithOutput("out_file", port.Volume, out), dwi, bvecs, bvals)
		dwi = n.Output("out_file")
	}

	if v.Bool(OptEddy) {
		branches := stage.Branches{
			EddyCorrect: eddyCorrect(dwi),
			Eddy:        s.eddy(dwi, bvecs, bvals, threads),
		}
		logger.Debug("Selected eddy correction.", OptEddyAlgo, v.String(OptEddyAlgo))
		eg, out, err := branches.Expand(ctx, env, in, Name, OptEddyAlgo, v.String(OptEddyAlgo))
		if err != nil {
			return nil, nil, err
		}
		g.Merge(eg)
		dwi = out[OutDWI]
		if b, ok := out[OutBvecs]; ok {
			bvecs = b
		}
	}

	vox := option.FormatFloat(v.Float(OptResampling))
	out := s.resampled(env)
	resample := g.Add(env.Node("resample", "mrgrid", dwi.Value, "regrid", out,
		"-voxel", vox, "-interp", v.String(OptInterpolation), "-nthreads", nthreads,
		"-fslgrad", bvecs.Value, bvals.Value,
		"-export_grad_fsl", env.Path("resample", "dwi_preproc.bvec"), env.Path("resample", "dwi_preproc.bval")).
		WithThreads(threads).
		WithOutput("out_file", port.Volume, out).
		WithOutput("bvecs", port.Gradients, env.Path("resample", "dwi_preproc.bvec")).
		WithOutput("bvals", port.Gradients, env.Path("resample", "dwi_preproc.bval")),
		dwi, bvecs, bvals)

	logger.Debug("Diffusion preprocessing expanded.", "nodes", g.Len())
	return g, port.Bindings{
		OutDWI:   resample.Output("out_file"),
		OutBvecs: resample.Output("bvecs"),
		OutBvals: resample.Output("bvals"),
	}, nil
}

func eddyCorrect(dwi port.Binding) stage.Branch {
	return func(_ context.Context, env stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
		g := stage.NewSubgraph()
		out := env.Path("eddy", "eddy_corrected.nii.gz")
		n := g.Add(env.Node("eddy", "eddy_correct", dwi.Value, out, "0").
			WithOutput("out_file", port.Volume, out), dwi)
		return g, port.Bindings{OutDWI: n.Output("out_file")}, nil
	}
}

func (s *Stage) eddy(dwi, bvecs, bvals port.Binding, threads int) stage.Branch {
	return func(_ context.Context, env stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
		v := s.Values()
		acqp, index := v.String(OptEddyAcqp), v.String(OptEddyIndex)
		if acqp == "" || index == "" {
			return nil, nil, stage.Unsupported(Name, "%s=%q requires %s and %s", OptEddyAlgo, Eddy, OptEddyAcqp, OptEddyIndex)
		}

		g := stage.NewSubgraph()
		b0 := env.Path("extract_b0", "b0.nii.gz")
		extract := g.Add(env.Node("extract_b0", "fslroi", dwi.Value, b0, "0", "1").
			WithOutput("out_file", port.Volume, b0), dwi)
		mask := env.Path("eddy_mask", "b0_brain_mask.nii.gz")
		masker := g.Add(env.Node("eddy_mask", "bet", b0, env.Path("eddy_mask", "b0_brain"), "-m", "-n", "-f", "0.3").
			WithOutput("mask_file", port.Volume, mask), extract.Output("out_file"))

		prefix := env.Path("eddy", "eddy_corrected")
		args := []string{
			"--imain=" + dwi.Value,
			"--mask=" + mask,
			"--acqp=" + acqp,
			"--index=" + index,
			"--bvecs=" + bvecs.Value,
			"--bvals=" + bvals.Value,
			"--out=" + prefix,
		}
		args = append(args, v.Args(OptEddyArgs)...)
		n := g.Add(env.Node("eddy", "eddy", args...).
			WithEnv(map[string]string{"OMP_NUM_THREADS": strconv.Itoa(threads)}).
			WithThreads(threads).
			WithOutput("out_file", port.Volume, prefix+".nii.gz").
			WithOutput("rotated_bvecs", port.Gradients, prefix+".eddy_rotated_bvecs"),
			dwi, bvecs, bvals, masker.Output("mask_file"))
		return g, port.Bindings{OutDWI: n.Output("out_file"), OutBvecs: n.Output("rotated_bvecs")}, nil
	}
}
