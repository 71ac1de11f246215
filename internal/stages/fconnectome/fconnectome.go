// Package fconnectome computes functional connectivity between regions of
// interest from a preprocessed BOLD series.
package fconnectome

import (
	"context"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "functional_connectome"

const (
	InFunc      = "functional_preproc"
	InMean      = "mean_vol"
	InROIVolume = "roi_volume"
	InMotion    = "motion_par"

	OutMatrix     = "connectivity_matrix"
	OutTimeSeries = "timeseries"
)

const (
	OptDetrending = "detrending"
	OptFiltering  = "bandpass_filtering"
	OptHighpass   = "highpass_hz"
	OptLowpass    = "lowpass_hz"
	OptMotionReg  = "motion_regression"
	OptFisherZ    = "fisher_z"
)

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Bool(OptDetrending, true, "Remove quadratic trends."),
		option.Bool(OptFiltering, true, "Band-pass filter the series."),
		option.Number(OptHighpass, 0.01, &option.Range{Min: 0, Max: 10}, "High-pass cutoff in Hz."),
		option.Number(OptLowpass, 0.1, &option.Range{Min: 0, Max: 10, MinExclusive: true}, "Low-pass cutoff in Hz."),
		option.Bool(OptMotionReg, true, "Regress out motion parameters when available."),
		option.Bool(OptFisherZ, true, "Also write Fisher z-transformed correlations."),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InFunc, port.Volume),
			port.Required(InMean, port.Volume),
			port.Required(InROIVolume, port.Volume),
			port.Optional(InMotion, port.Text),
		},
		[]port.Spec{
			port.Required(OutMatrix, port.Matrix),
			port.Required(OutTimeSeries, port.TimeSeries),
		},
	)}
}

func (s *Stage) prefix(env stage.Env) string {
	return env.Path("netcorr", "fconnectome")
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	p := s.prefix(env)
	return stage.Completion{
		Entry: env.Entry(p+"_000.netcc", p+"_000.netts"),
		Reuse: s.Values().Bool(stage.OptReuse),
		Outputs: port.Bindings{
			OutMatrix:     port.External(port.Matrix, p+"_000.netcc"),
			OutTimeSeries: port.External(port.TimeSeries, p+"_000.netts"),
		},
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
	filtering := v.Bool(OptFiltering)
	hp, lp := v.Float(OptHighpass), v.Float(OptLowpass)
	if filtering && hp >= lp {
		return nil, nil, stage.Unsupported(Name, "%s (%g) must be below %s (%g)", OptHighpass, hp, OptLowpass, lp)
	}

	g := stage.NewSubgraph()
	roiPath := env.Path("register_roi", "roi_func.nii.gz")
	roi := g.Add(env.Node("register_roi", "flirt",
		"-in", in.Value(InROIVolume), "-ref", in.Value(InMean), "-out", roiPath,
		"-applyxfm", "-usesqform", "-interp", "nearestneighbour").
		WithOutput("out_file", port.Volume, roiPath), in[InROIVolume], in[InMean])

	fn := in[InFunc]
	args := []string{}
	if v.Bool(OptDetrending) {
		args = append(args, "-polort", "2")
	}
	if filtering {
		args = append(args, "-passband", option.FormatFloat(hp), option.FormatFloat(lp))
	}
	motion, hasMotion := in[InMotion]
	useMotion := hasMotion && v.Bool(OptMotionReg)
	if useMotion {
		args = append(args, "-ort", motion.Value)
	}
	if len(args) > 0 {
		path := env.Path("clean", "bold_clean.nii.gz")
		deps := []port.Binding{fn}
		if useMotion {
			deps = append(deps, motion)
		}
		full := append([]string{"-overwrite", "-input", fn.Value, "-prefix", path}, args...)
		clean := g.Add(env.Node("clean", "3dTproject", full...).
			WithOutput("out_file", port.Volume, path), deps...)
		fn = clean.Output("out_file")
	}

	p := s.prefix(env)
	netArgs := []string{"-overwrite", "-prefix", p, "-inset", fn.Value, "-in_rois", roiPath, "-ts_out"}
	if v.Bool(OptFisherZ) {
		netArgs = append(netArgs, "-fish_z")
	}
	net := g.Add(env.Node("netcorr", "3dNetCorr", netArgs...).
		WithOutput("matrix", port.Matrix, p+"_000.netcc").
		WithOutput("timeseries", port.TimeSeries, p+"_000.netts"),
		fn, roi.Output("out_file"))

	return g, port.Bindings{
		OutMatrix:     net.Output("matrix"),
		OutTimeSeries: net.Output("timeseries"),
	}, nil
}
