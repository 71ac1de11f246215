// Package fmripreproc prepares resting-state BOLD series: volume
// discarding, despiking, slice timing and motion correction.
package fmripreproc

import (
	"context"
	"strconv"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "fmri_preprocessing"

const (
	InBold = "bold"

	OutFunc   = "functional_preproc"
	OutMean   = "mean_vol"
	OutMotion = "motion_par"
)

const (
	OptDiscard     = "discard_n_volumes"
	OptDespiking   = "despiking"
	OptSliceTiming = "slice_timing"
	OptTR          = "repetition_time"
	OptMotion      = "motion_correction"
)

// sliceTimingFlags holds the slicetimer flags of each acquisition order.
// "none" builds no node.
var sliceTimingFlags = map[string][]string{
	"bottom-top":             nil,
	"bottom-top interleaved": {"--odd"},
	"top-bottom":             {"--down"},
	"top-bottom interleaved": {"--down", "--odd"},
}

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Int(OptDiscard, 5, &option.Range{Min: 0, Max: 100}, "Number of initial volumes to discard."),
		option.Bool(OptDespiking, true, "Remove spikes with AFNI 3dDespike."),
		option.Enum(OptSliceTiming, "Slice acquisition order for slice timing correction.",
			"none", "bottom-top interleaved", "bottom-top", "top-bottom", "top-bottom interleaved"),
		option.Number(OptTR, 2, &option.Range{Min: 0, Max: 60, MinExclusive: true}, "Repetition time in seconds."),
		option.Bool(OptMotion, true, "Correct head motion with FSL mcflirt."),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{port.Required(InBold, port.Volume)},
		[]port.Spec{
			port.Required(OutFunc, port.Volume),
			port.Required(OutMean, port.Volume),
			port.Optional(OutMotion, port.Text),
		},
	)}
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	fn, mean := env.Path("mean", "fmri_preproc.nii.gz"), env.Path("mean", "mean_vol.nii.gz")
	return stage.Completion{
		Entry: env.Entry(fn, mean),
		Reuse: s.Values().Bool(stage.OptReuse),
		Outputs: port.Bindings{
			OutFunc: port.External(port.Volume, fn),
			OutMean: port.External(port.Volume, mean),
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
	g := stage.NewSubgraph()
	bold := in[InBold]
	out := port.Bindings{}

	if n := v.Int(OptDiscard); n > 0 {
		path := env.Path("discard", "bold_discarded.nii.gz")
		discard := g.Add(env.Node("discard", "fslroi", bold.Value, path, strconv.Itoa(n), "-1").
			WithOutput("out_file", port.Volume, path), bold)
		bold = discard.Output("out_file")
	}

	if v.Bool(OptDespiking) {
		path := env.Path("despike", "bold_despiked.nii.gz")
		despike := g.Add(env.Node("despike", "3dDespike", "-overwrite", "-prefix", path, bold.Value).
			WithOutput("out_file", port.Volume, path), bold)
		bold = despike.Output("out_file")
	}

	if order := v.String(OptSliceTiming); order != "none" {
		path := env.Path("slice_timing", "bold_st.nii.gz")
		args := []string{"-i", bold.Value, "-o", path, "-r", option.FormatFloat(v.Float(OptTR))}
		st := g.Add(env.Node("slice_timing", "slicetimer", append(args, sliceTimingFlags[order]...)...).
			WithOutput("out_file", port.Volume, path), bold)
		bold = st.Output("out_file")
	}

	if v.Bool(OptMotion) {
		prefix := env.Path("motion", "bold_mcf")
		mc := g.Add(env.Node("motion", "mcflirt", "-in", bold.Value, "-out", prefix, "-plots", "-meanvol").
			WithOutput("out_file", port.Volume, prefix+".nii.gz").
			WithOutput("par_file", port.Text, prefix+".par"), bold)
		bold = mc.Output("out_file")
		out[OutMotion] = mc.Output("par_file")
	}

	// The final copy and the mean share one directory so that a reused
	// stage can bind both.
	fn, mean := env.Path("mean", "fmri_preproc.nii.gz"), env.Path("mean", "mean_vol.nii.gz")
	final := g.Add(env.Node("finalize", "fslmaths", bold.Value, fn).
		WithOutput("out_file", port.Volume, fn), bold)
	meanNode := g.Add(env.Node("mean", "fslmaths", fn, "-Tmean", mean).
		WithOutput("out_file", port.Volume, mean), final.Output("out_file"))

	out[OutFunc] = final.Output("out_file")
	out[OutMean] = meanNode.Output("out_file")
	ctxlog.FromContext(ctx).Debug("Functional preprocessing expanded.", "stage", env.ID(), "nodes", g.Len())
	return g, out, nil
}
