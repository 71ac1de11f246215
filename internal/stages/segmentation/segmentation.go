// Package segmentation reconstructs the anatomy of a subject with
// FreeSurfer recon-all, optionally replacing FreeSurfer's skull stripping
// with FSL BET, ANTs brain extraction or a precomputed mask.
package segmentation

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// Name is the stage name used in pipelines and on disk.
const Name = "segmentation"

// Ports.
const (
	InT1         = "T1"
	InBrainMask  = "brain_mask"
	OutSubjects  = "subjects_dir"
	OutSubjectID = "subject_id"
	OutWMMask    = "custom_wm_mask"
	OutBrainMask = "brain_mask"
	OutBrain     = "brain"
)

// Stage is the segmentation stage.
type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

// New returns a segmentation stage with default options.
func New() *Stage {
	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, options(), derivations()...),
		[]port.Spec{
			port.Required(InT1, port.Volume),
			port.Optional(InBrainMask, port.Volume),
		},
		[]port.Spec{
			port.Required(OutSubjects, port.Directory),
			port.Required(OutSubjectID, port.Text),
			port.Optional(OutWMMask, port.Volume),
			port.Required(OutBrainMask, port.Volume),
			port.Required(OutBrain, port.Volume),
		},
	)}
}

// layout resolves where the FreeSurfer subject lives for env.
type layout struct {
	subjectsDir string
	subjectID   string
}

func (l layout) dir(parts ...string) string {
	return filepath.Join(append([]string{l.subjectsDir, l.subjectID}, parts...)...)
}

func (s *Stage) layout(env stage.Env) layout {
	v := s.Values()
	l := layout{subjectsDir: v.String(OptSubjectsDir), subjectID: v.String(OptSubjectID)}
	if l.subjectsDir == "" {
		l.subjectsDir = env.Path("freesurfer")
	}
	if l.subjectID == "" {
		l.subjectID = env.Subject
	}
	return l
}

// exportedMask is where an externally computed or supplied brain mask is
// copied when it replaces FreeSurfer's brainmask.mgz as the mask output.
func exportedMask(env stage.Env) string {
	return env.Path("export_mask", "brain_mask.nii.gz")
}

// exportsMask reports whether the brain_mask output is the external mask.
func (s *Stage) exportsMask() bool {
	v := s.Values()
	return v.String(OptBrainMaskTool) != MaskFreeSurfer && v.Bool(OptUseFSLBrainMask)
}

// finalOutputs binds the output ports to the artifacts of a finished
// reconstruction, without producers. They name the same files Expand binds.
func (s *Stage) finalOutputs(env stage.Env, l layout) port.Bindings {
	out := port.Bindings{
		OutSubjects:  port.External(port.Directory, l.subjectsDir),
		OutSubjectID: port.External(port.Text, l.subjectID),
		OutBrainMask: port.External(port.Volume, l.dir("mri", "brainmask.mgz")),
		OutBrain:     port.External(port.Volume, l.dir("mri", "brain.mgz")),
	}
	if s.exportsMask() {
		out[OutBrainMask] = port.External(port.Volume, exportedMask(env))
	}
	s.bindWMMask(out)
	return out
}

func (s *Stage) bindWMMask(out port.Bindings) {
	if wm := s.Values().String(OptWhiteMatterMask); wm != "" {
		out[OutWMMask] = port.External(port.Volume, wm)
	}
}

// Completion implements stage.Stage. The designated artifact is the
// subcortical segmentation written by the last recon-all step.
func (s *Stage) Completion(env stage.Env) stage.Completion {
	v := s.Values()
	l := s.layout(env)
	entry := env.Entry(l.dir("mri", "aseg.mgz"), l.dir("mri", "brainmask.mgz"))
	if s.exportsMask() {
		entry.Artifacts = append(entry.Artifacts, exportedMask(env))
	}
	entry.External = v.Bool(OptUseExisting)
	return stage.Completion{
		Entry:   entry,
		Reuse:   v.Bool(stage.OptReuse),
		Outputs: s.finalOutputs(env, l),
	}
}

// HasCompleted implements stage.Stage.
func (s *Stage) HasCompleted(ctx context.Context, l ledger.Ledger, env stage.Env) bool {
	return stage.Check(ctx, l, s.Completion(env))
}

// Expand implements stage.Stage.
func (s *Stage) Expand(ctx context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	if err := stage.CheckInputs(Name, s.Inputs(), in); err != nil {
		return nil, nil, err
	}
	v := s.Values()
	l := s.layout(env)

	if v.Bool(OptUseExisting) {
		if err := s.checkExisting(v); err != nil {
			return nil, nil, err
		}
		ctxlog.FromContext(ctx).Debug("Using existing FreeSurfer data.", "stage", env.ID(), "subject_dir", l.dir())
		return stage.NewSubgraph(), s.finalOutputs(env, l), nil
	}

	b := &builder{v: v, env: env, l: l, threads: env.Threads(v.Int(stage.OptThreads))}
	branches := stage.Branches{
		MaskFreeSurfer: b.freesurfer,
		MaskBET:        b.externalMask(b.bet),
		MaskANTs:       b.externalMask(b.ants),
	}
	tool := v.String(OptBrainMaskTool)
	ctxlog.FromContext(ctx).Debug("Selected segmentation branch.", "stage", env.ID(), OptBrainMaskTool, tool)

	g, out, err := branches.Expand(ctx, env, in, Name, OptBrainMaskTool, tool)
	if err != nil {
		return nil, nil, err
	}
	s.bindWMMask(out)
	return g, out, nil
}

// checkExisting rejects combinations that would both reuse and recompute
// the reconstruction.
func (s *Stage) checkExisting(v option.Values) error {
	if tool := v.String(OptBrainMaskTool); tool != MaskFreeSurfer {
		return stage.Unsupported(Name, "%s together with %s=%q", OptUseExisting, OptBrainMaskTool, tool)
	}
	if v.Bool(OptMakeIsotropic) {
		return stage.Unsupported(Name, "%s together with %s", OptUseExisting, OptMakeIsotropic)
	}
	if v.String(OptSubjectsDir) == "" || v.String(OptSubjectID) == "" {
		return stage.Unsupported(Name, "%s requires %s and %s", OptUseExisting, OptSubjectsDir, OptSubjectID)
	}
	if id := v.String(OptSubjectID); !slices.Contains(v.Strings(OptSubjectIDs), id) {
		return stage.Unsupported(Name, "subject %q not found in %s", id, v.String(OptSubjectsDir))
	}
	return nil
}
