package segmentation

import (
	"context"
	"strconv"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// builder holds what every branch constructor needs.
type builder struct {
	v       option.Values
	env     stage.Env
	l       layout
	threads int
}

// extraction adds the skull-stripping nodes fed by nu and returns the
// brain image and the brain mask they produce.
type extraction func(g *stage.Subgraph, nu port.Binding) (brain, mask port.Binding)

func (b *builder) node(name, tool string, args ...string) *node.Node {
	return b.env.Node(name, tool, args...).
		WithEnv(map[string]string{"SUBJECTS_DIR": b.l.subjectsDir})
}

// reconAll runs one recon-all invocation on the stage's subject.
func (b *builder) reconAll(name string, directives ...string) *node.Node {
	args := []string{"-subjid", b.l.subjectID, "-sd", b.l.subjectsDir}
	args = append(args, directives...)
	args = append(args, "-no-isrunning", "-parallel", "-openmp", strconv.Itoa(b.threads))
	args = append(args, b.v.Args(OptFreeSurferArgs)...)
	return b.node(name, "recon-all", args...).WithThreads(b.threads)
}

// importT1 converts the T1 to mgz, resampling it when requested, and
// places it where recon-all expects the first original volume.
func (b *builder) importT1(g *stage.Subgraph, t1 port.Binding) *node.Node {
	out := b.env.Path("mgz_convert", "T1.mgz")
	args := []string{"--out_type", "mgz"}
	if b.v.Bool(OptMakeIsotropic) {
		vs := option.FormatFloat(b.v.Float(OptIsotropicVoxSize))
		args = append(args, "-vs", vs, vs, vs, "-rt", b.v.String(OptIsotropicInterpolation))
	}
	args = append(args, t1.Value, out)
	convert := g.Add(b.node("mgz_convert", "mri_convert", args...).
		WithOutput("out_file", port.Volume, out), t1)

	orig := b.l.dir("mri", "orig", "001.mgz")
	return g.Add(b.node("copy_orig", "cp", convert.Output("out_file").Value, orig).
		WithOutput("out_file", port.Volume, orig), convert.Output("out_file"))
}

// outputs binds the ports to the artifacts of the recon-all node last.
func (b *builder) outputs(last *node.Node) port.Bindings {
	return port.Bindings{
		OutSubjects:  last.Output("subjects_dir"),
		OutSubjectID: last.Output("subject_id"),
		OutBrainMask: last.Output("brainmask"),
		OutBrain:     last.Output("brain"),
	}
}

// withReconOutputs declares the artifacts every complete reconstruction
// leaves in the subject directory.
func (b *builder) withReconOutputs(n *node.Node) *node.Node {
	return n.
		WithOutput("subjects_dir", port.Directory, b.l.subjectsDir).
		WithValue("subject_id", port.Text, b.l.subjectID).
		WithOutput("aseg", port.Volume, b.l.dir("mri", "aseg.mgz")).
		WithOutput("brainmask", port.Volume, b.l.dir("mri", "brainmask.mgz")).
		WithOutput("brain", port.Volume, b.l.dir("mri", "brain.mgz"))
}

func (b *builder) freesurfer(_ context.Context, _ stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	orig := b.importT1(g, in[InT1])
	recon := g.Add(b.withReconOutputs(b.reconAll("recon_all", "-all")), orig.Output("out_file"))
	return g, b.outputs(recon), nil
}

// externalMask builds the chain that runs autorecon1 without trusting its
// skull strip, computes a brain mask with extract (or applies a supplied
// one), copies it into the subject and finishes with autorecon2/3.
func (b *builder) externalMask(extract extraction) stage.Branch {
	return func(_ context.Context, _ stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
		supplied, hasSupplied := in[InBrainMask]
		if path := b.v.String(OptBrainMaskPath); path != "" {
			if hasSupplied {
				return nil, nil, stage.Unsupported(Name, "%s together with a connected %s input", OptBrainMaskPath, InBrainMask)
			}
			supplied, hasSupplied = port.External(port.Volume, path), true
		}

		if !hasSupplied && b.v.String(OptBrainMaskTool) == MaskANTs &&
			(b.v.String(OptAntsTemplate) == "" || b.v.String(OptAntsProbMask) == "") {
			return nil, nil, stage.Unsupported(Name, "%s=%s requires %s and %s", OptBrainMaskTool, MaskANTs, OptAntsTemplate, OptAntsProbMask)
		}

		g := stage.NewSubgraph()
		orig := b.importT1(g, in[InT1])

		directives := []string{"-autorecon1"}
		if b.v.String(OptBrainMaskTool) == MaskANTs {
			directives = append(directives, "-noskullstrip")
		}
		ar1 := g.Add(b.reconAll("autorecon1", directives...).
			WithOutput("nu", port.Volume, b.l.dir("mri", "nu.mgz")), orig.Output("out_file"))

		nuPath := b.env.Path("niigz_convert", "nu.nii.gz")
		nu := g.Add(b.node("niigz_convert", "mri_convert", "--out_type", "niigz", ar1.Output("nu").Value, nuPath).
			WithOutput("out_file", port.Volume, nuPath), ar1.Output("nu"))

		var brain, mask port.Binding
		if hasSupplied {
			out := b.env.Path("apply_mask", "brain.nii.gz")
			applied := g.Add(b.node("apply_mask", "fslmaths", nu.Output("out_file").Value, "-mas", supplied.Value, out).
				WithOutput("out_file", port.Volume, out), nu.Output("out_file"), supplied)
			brain, mask = applied.Output("out_file"), supplied
		} else {
			brain, mask = extract(g, nu.Output("out_file"))
		}

		bmPath := b.env.Path("brainmask_convert", "brainmask.mgz")
		bm := g.Add(b.node("brainmask_convert", "mri_convert", "--out_type", "mgz", brain.Value, bmPath).
			WithOutput("out_file", port.Volume, bmPath), brain)

		fsMask := b.l.dir("mri", "brainmask.mgz")
		copied := g.Add(b.node("copy_brainmask", "cp", bm.Output("out_file").Value, fsMask).
			WithOutput("out_file", port.Volume, fsMask), bm.Output("out_file"))
		g.After(copied, ar1)

		ar23 := g.Add(b.withReconOutputs(b.reconAll("autorecon23", "-autorecon2", "-autorecon3")), copied.Output("out_file"))

		out := b.outputs(ar23)
		if b.v.Bool(OptUseFSLBrainMask) {
			exported := exportedMask(b.env)
			n := g.Add(b.node("export_mask", "cp", mask.Value, exported).
				WithOutput("out_file", port.Volume, exported), mask)
			out[OutBrainMask] = n.Output("out_file")
		}
		return g, out, nil
	}
}

func (b *builder) bet(g *stage.Subgraph, nu port.Binding) (brain, mask port.Binding) {
	out := b.env.Path("fsl_bet", "brain.nii.gz")
	n := g.Add(b.node("fsl_bet", "bet", nu.Value, out, "-m", "-s", "-R").
		WithOutput("out_file", port.Volume, out).
		WithOutput("mask_file", port.Volume, b.env.Path("fsl_bet", "brain_mask.nii.gz")), nu)
	return n.Output("out_file"), n.Output("mask_file")
}

func (b *builder) ants(g *stage.Subgraph, nu port.Binding) (brain, mask port.Binding) {
	prefix := b.env.Path("ants_bet", "ants_bet_")
	threads := strconv.Itoa(b.threads)
	args := []string{
		"-d", "3",
		"-a", nu.Value,
		"-e", b.v.String(OptAntsTemplate),
		"-m", b.v.String(OptAntsProbMask),
	}
	if reg := b.v.String(OptAntsRegMask); reg != "" {
		args = append(args, "-f", reg)
	}
	args = append(args, "-o", prefix)
	n := g.Add(b.node("ants_bet", "antsBrainExtraction.sh", args...).
		WithEnv(map[string]string{"ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS": threads}).
		WithThreads(b.threads).
		WithOutput("brain", port.Volume, prefix+"BrainExtractionBrain.nii.gz").
		WithOutput("mask", port.Volume, prefix+"BrainExtractionMask.nii.gz"), nu)
	return n.Output("brain"), n.Output("mask")
}
