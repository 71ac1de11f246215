// Package parcellation derives the cortical and subcortical regions of
// interest from a FreeSurfer reconstruction and the tissue masks used by
// the diffusion pipeline.
package parcellation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

const Name = "parcellation"

const (
	InSubjects   = "subjects_dir"
	InSubjectID  = "subject_id"
	InWMMask     = "custom_wm_mask"
	OutT1        = "T1"
	OutBrain     = "brain"
	OutWMMask    = "wm_mask"
	OutGMMask    = "gm_mask"
	OutAseg      = "aseg"
	OutROIVolume = "roi_volume"
	OutScheme    = "parcellation_scheme"
)

const (
	OptScheme      = "parcellation_scheme"
	OptAtlasDir    = "atlas_dir"
	OptScale       = "lausanne_scale"
	OptHippocampus = "segment_hippocampal_subfields"
	OptBrainstem   = "segment_brainstem"
	OptThalamus    = "include_thalamic_nuclei_parcellation"
)

// Parcellation schemes.
const (
	SchemeNative     = "NativeFreesurfer"
	SchemeLausanne18 = "Lausanne2018"
)

type Stage struct {
	stage.Base
}

var _ stage.Stage = (*Stage)(nil)

func New() *Stage {
	opts := append([]option.Option{
		option.Enum(OptScheme, "Parcellation scheme.", SchemeNative, SchemeLausanne18),
		option.Path(OptAtlasDir, true, "Directory holding the Lausanne2018 fsaverage annotations."),
		option.Int(OptScale, 1, &option.Range{Min: 1, Max: 5}, "Lausanne2018 scale exposed as roi_volume."),
		option.Bool(OptHippocampus, true, "Segment hippocampal subfields (Lausanne2018)."),
		option.Bool(OptBrainstem, true, "Segment brainstem structures (Lausanne2018)."),
		option.Bool(OptThalamus, true, "Parcellate thalamic nuclei (Lausanne2018)."),
	}, stage.CommonOptions()...)

	return &Stage{Base: stage.NewBase(Name,
		option.MustNew(Name, opts),
		[]port.Spec{
			port.Required(InSubjects, port.Directory),
			port.Required(InSubjectID, port.Text),
			port.Optional(InWMMask, port.Volume),
		},
		[]port.Spec{
			port.Required(OutT1, port.Volume),
			port.Required(OutBrain, port.Volume),
			port.Required(OutWMMask, port.Volume),
			port.Required(OutGMMask, port.Volume),
			port.Required(OutAseg, port.Volume),
			port.Required(OutROIVolume, port.Volume),
			port.Required(OutScheme, port.Text),
		},
	)}
}

// atlasName is the annotation name recon-all subjects carry for the
// configured scheme.
func atlasName(v option.Values) string {
	if v.String(OptScheme) == SchemeLausanne18 {
		return fmt.Sprintf("lausanne2018.scale%d", v.Int(OptScale))
	}
	return "aparc"
}

func (s *Stage) paths(env stage.Env) map[string]string {
	return map[string]string{
		OutT1:        env.Path("T1.nii.gz"),
		OutBrain:     env.Path("brain.nii.gz"),
		OutWMMask:    env.Path("wm_mask.nii.gz"),
		OutGMMask:    env.Path("gm_mask.nii.gz"),
		OutAseg:      env.Path("aseg.nii.gz"),
		OutROIVolume: env.Path("ROIv_" + atlasName(s.Values()) + ".nii.gz"),
	}
}

func (s *Stage) Completion(env stage.Env) stage.Completion {
	p := s.paths(env)
	out := port.Bindings{OutScheme: port.External(port.Text, s.Values().String(OptScheme))}
	for name, path := range p {
		out[name] = port.External(port.Volume, path)
	}
	return stage.Completion{
		Entry:   env.Entry(p[OutROIVolume], p[OutWMMask], p[OutAseg]),
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
	if v.String(OptScheme) == SchemeLausanne18 && v.String(OptAtlasDir) == "" {
		return nil, nil, stage.Unsupported(Name, "%s=%s requires %s", OptScheme, SchemeLausanne18, OptAtlasDir)
	}

	b := &builder{
		v:        v,
		env:      env,
		paths:    s.paths(env),
		subjects: in[InSubjects],
		id:       in[InSubjectID],
		threads:  env.Threads(v.Int(stage.OptThreads)),
	}
	ctxlog.FromContext(ctx).Debug("Selected parcellation scheme.", "stage", env.ID(), OptScheme, v.String(OptScheme))

	branches := stage.Branches{
		SchemeNative:     b.native,
		SchemeLausanne18: b.lausanne,
	}
	g, out, err := branches.Expand(ctx, env, in, Name, OptScheme, v.String(OptScheme))
	if err != nil {
		return nil, nil, err
	}
	b.common(g, out, in)
	return g, out, nil
}

type builder struct {
	v        option.Values
	env      stage.Env
	paths    map[string]string
	subjects port.Binding
	id       port.Binding
	threads  int
}

// fs returns a path inside the FreeSurfer subject directory.
func (b *builder) fs(parts ...string) string {
	return filepath.Join(append([]string{b.subjects.Value, b.id.Value}, parts...)...)
}

// add adds n as a consumer of the FreeSurfer subject plus inputs.
func (b *builder) add(g *stage.Subgraph, n *node.Node, inputs ...port.Binding) *node.Node {
	n.WithEnv(map[string]string{"SUBJECTS_DIR": b.subjects.Value})
	return g.Add(n, append([]port.Binding{b.subjects, b.id}, inputs...)...)
}

func (b *builder) convert(g *stage.Subgraph, name, src, dst string, nearest bool, after ...*node.Node) *node.Node {
	args := []string{"--out_type", "nii"}
	if nearest {
		args = append(args, "--resample_type", "nearest")
	}
	n := b.add(g, b.env.Node(name, "mri_convert", append(args, src, dst)...).
		WithOutput("out_file", port.Volume, dst))
	g.After(n, after...)
	return n
}

// labelVolume maps the annotation atlas onto the volume and converts it
// into the roi_volume output.
func (b *builder) labelVolume(g *stage.Subgraph, atlas string, after ...*node.Node) *node.Node {
	vol := b.fs("mri", atlas+"+aseg.mgz")
	aparc := b.add(g, b.env.Node("aparc2aseg", "mri_aparc2aseg",
		"--s", b.id.Value, "--annot", atlas, "--o", vol, "--nthreads", fmt.Sprint(b.threads)).
		WithThreads(b.threads).
		WithOutput("out_file", port.Volume, vol))
	g.After(aparc, after...)
	return b.convert(g, "roi_convert", vol, b.paths[OutROIVolume], true, aparc)
}

func (b *builder) native(_ context.Context, _ stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	roi := b.labelVolume(g, "aparc")
	return g, port.Bindings{OutROIVolume: roi.Output("out_file")}, nil
}

func (b *builder) lausanne(_ context.Context, _ stage.Env, _ port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	atlas := atlasName(b.v)

	var pre []*node.Node
	for _, hemi := range []string{"lh", "rh"} {
		dst := b.fs("label", hemi+"."+atlas+".annot")
		pre = append(pre, b.add(g, b.env.Node(hemi+"_annot", "mri_surf2surf",
			"--srcsubject", "fsaverage",
			"--trgsubject", b.id.Value,
			"--hemi", hemi,
			"--sval-annot", filepath.Join(b.v.String(OptAtlasDir), hemi+"."+atlas+".annot"),
			"--tval", dst).
			WithOutput("out_file", port.Text, dst)))
	}

	subfields := []struct {
		opt, name, tool string
		args            []string
	}{
		{OptHippocampus, "hippocampal_subfields", "segmentHA_T1.sh", []string{b.id.Value, b.subjects.Value}},
		{OptBrainstem, "brainstem", "segmentBS.sh", []string{b.id.Value, b.subjects.Value}},
		{OptThalamus, "thalamic_nuclei", "segmentThalamicNuclei.sh", []string{b.id.Value, b.subjects.Value}},
	}
	for _, sf := range subfields {
		if !b.v.Bool(sf.opt) {
			continue
		}
		pre = append(pre, b.add(g, b.env.Node(sf.name, sf.tool, sf.args...).
			WithEnv(map[string]string{"ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS": fmt.Sprint(b.threads)}).
			WithThreads(b.threads)))
	}

	roi := b.labelVolume(g, atlas, pre...)
	return g, port.Bindings{OutROIVolume: roi.Output("out_file")}, nil
}

// common adds the scheme-independent conversions and tissue masks.
func (b *builder) common(g *stage.Subgraph, out port.Bindings, in port.Bindings) {
	t1 := b.convert(g, "t1_convert", b.fs("mri", "T1.mgz"), b.paths[OutT1], false)
	brain := b.convert(g, "brain_convert", b.fs("mri", "brain.mgz"), b.paths[OutBrain], false)
	aseg := b.convert(g, "aseg_convert", b.fs("mri", "aseg.mgz"), b.paths[OutAseg], true)

	out[OutT1] = t1.Output("out_file")
	out[OutBrain] = brain.Output("out_file")
	out[OutAseg] = aseg.Output("out_file")
	out[OutScheme] = port.External(port.Text, b.v.String(OptScheme))

	if wm, ok := in[InWMMask]; ok {
		out[OutWMMask] = wm
	} else {
		wmMask := b.add(g, b.env.Node("wm_mask", "mri_binarize",
			"--i", b.fs("mri", "aseg.mgz"), "--all-wm", "--o", b.paths[OutWMMask]).
			WithOutput("out_file", port.Volume, b.paths[OutWMMask]))
		out[OutWMMask] = wmMask.Output("out_file")
	}

	gm := b.add(g, b.env.Node("gm_mask", "mri_binarize",
		"--i", b.fs("mri", "aparc+aseg.mgz"), "--gm", "--o", b.paths[OutGMMask]).
		WithOutput("out_file", port.Volume, b.paths[OutGMMask]))
	out[OutGMMask] = gm.Output("out_file")
}
