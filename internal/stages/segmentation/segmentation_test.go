package segmentation_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/stages/segmentation"
	"github.com/specialistvlad/connectogrid/internal/testutil"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testEnv(t *testing.T) stage.Env {
	t.Helper()
	return stage.NewEnv("sub-01", t.TempDir(), toolchain.Toolchain{}, 8, nil).Child(segmentation.Name)
}

func t1() port.Bindings {
	return port.Bindings{segmentation.InT1: port.External(port.Volume, "/bids/sub-01/anat/sub-01_T1w.nii.gz")}
}

func set(t *testing.T, s *segmentation.Stage, values map[string]cty.Value) {
	t.Helper()
	for k, v := range values {
		require.NoError(t, s.Object().Set(k, v), k)
	}
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestExpand_Branches(t *testing.T) {
	templates := t.TempDir()
	antsOpts := map[string]cty.Value{
		segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskANTs),
		segmentation.OptAntsTemplate:  cty.StringVal(touch(t, filepath.Join(templates, "template.nii.gz"))),
		segmentation.OptAntsProbMask:  cty.StringVal(touch(t, filepath.Join(templates, "prob.nii.gz"))),
	}

	tests := []struct {
		name string
		opts map[string]cty.Value
		want []string
	}{
		{
			name: "freesurfer",
			want: []string{"mgz_convert", "copy_orig", "recon_all"},
		},
		{
			name: "bet",
			opts: map[string]cty.Value{segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET)},
			want: []string{"mgz_convert", "copy_orig", "autorecon1", "niigz_convert", "fsl_bet", "brainmask_convert", "copy_brainmask", "autorecon23"},
		},
		{
			name: "ants",
			opts: antsOpts,
			want: []string{"mgz_convert", "copy_orig", "autorecon1", "niigz_convert", "ants_bet", "brainmask_convert", "copy_brainmask", "autorecon23"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			s := segmentation.New()
			set(t, s, tt.opts)

			g, out, err := s.Expand(ctx, testEnv(t), t1())
			require.NoError(t, err)
			require.NoError(t, g.Validate())

			want := make([]string, len(tt.want))
			for i, n := range tt.want {
				want[i] = "segmentation." + n
			}
			assert.Equal(t, want, g.NodeIDs())

			last := tt.want[len(tt.want)-1]
			for _, p := range []string{segmentation.OutSubjects, segmentation.OutSubjectID, segmentation.OutBrainMask, segmentation.OutBrain} {
				require.NotNil(t, out[p].Producer, p)
				assert.Equal(t, "segmentation."+last, out[p].Producer.String(), p)
			}
			assert.NotContains(t, out, segmentation.OutWMMask)
		})
	}
}

func TestExpand_FreeSurferCommands(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := segmentation.New()
	set(t, s, map[string]cty.Value{
		segmentation.OptFreeSurferArgs: cty.StringVal(`-hires -expert "/opt/expert file.txt"`),
		stage.OptThreads:               cty.NumberIntVal(16),
	})
	env := testEnv(t)

	g, out, err := s.Expand(ctx, env, t1())
	require.NoError(t, err)

	convert, _ := g.Node("segmentation.mgz_convert")
	assert.NotContains(t, convert.Command, "-vs")

	recon, ok := g.Node("segmentation.recon_all")
	require.True(t, ok)
	subjects := env.Path("freesurfer")
	assert.Equal(t, []string{
		"recon-all", "-subjid", "sub-01", "-sd", subjects, "-all",
		"-no-isrunning", "-parallel", "-openmp", "8",
		"-hires", "-expert", "/opt/expert file.txt",
	}, recon.Command)
	assert.Equal(t, 8, recon.Threads, "thread hint is capped by the budget")
	assert.Equal(t, subjects, recon.Env["SUBJECTS_DIR"])

	orig, _ := g.Node("segmentation.copy_orig")
	assert.Equal(t, filepath.Join(subjects, "sub-01", "mri", "orig", "001.mgz"), orig.Outputs["out_file"].Path)
	assert.Equal(t, subjects, out[segmentation.OutSubjects].Value)
	assert.Equal(t, "sub-01", out[segmentation.OutSubjectID].Value)
}

func TestExpand_Isotropic(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := segmentation.New()
	set(t, s, map[string]cty.Value{
		segmentation.OptMakeIsotropic:          cty.True,
		segmentation.OptIsotropicInterpolation: cty.StringVal("sinc"),
	})

	g, _, err := s.Expand(ctx, testEnv(t), t1())
	require.NoError(t, err)
	convert, _ := g.Node("segmentation.mgz_convert")
	assert.Subset(t, convert.Command, []string{"-vs", "1.2", "-rt", "sinc"})
}

func TestExpand_ANTsFlags(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := t.TempDir()
	s := segmentation.New()
	set(t, s, map[string]cty.Value{
		segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskANTs),
		segmentation.OptAntsTemplate:  cty.StringVal(touch(t, filepath.Join(dir, "t.nii.gz"))),
		segmentation.OptAntsProbMask:  cty.StringVal(touch(t, filepath.Join(dir, "p.nii.gz"))),
		stage.OptThreads:              cty.NumberIntVal(4),
	})

	g, _, err := s.Expand(ctx, testEnv(t), t1())
	require.NoError(t, err)

	ar1, _ := g.Node("segmentation.autorecon1")
	assert.Contains(t, ar1.Command, "-noskullstrip")
	ants, _ := g.Node("segmentation.ants_bet")
	assert.Equal(t, "4", ants.Env["ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS"])
	assert.NotContains(t, ants.Command, "-f", "registration mask is optional")

	ar23, _ := g.Node("segmentation.autorecon23")
	assert.Subset(t, ar23.Command, []string{"-autorecon2", "-autorecon3"})
	assert.Contains(t, g.NodeIDs(), "segmentation.copy_brainmask")
}

func TestExpand_BETKeepsFreeSurferSkullStrip(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := segmentation.New()
	set(t, s, map[string]cty.Value{
		segmentation.OptBrainMaskTool:   cty.StringVal(segmentation.MaskBET),
		segmentation.OptUseFSLBrainMask: cty.True,
	})

	g, out, err := s.Expand(ctx, testEnv(t), t1())
	require.NoError(t, err)
	ar1, _ := g.Node("segmentation.autorecon1")
	assert.NotContains(t, ar1.Command, "-noskullstrip")

	mask := out[segmentation.OutBrainMask]
	require.NotNil(t, mask.Producer)
	assert.Equal(t, "segmentation.export_mask", mask.Producer.String())
	export, _ := g.Node("segmentation.export_mask")
	bet, _ := g.Node("segmentation.fsl_bet")
	assert.Contains(t, export.Command, bet.Outputs["mask_file"].Path, "the BET mask is exported")
}

func TestExpand_SuppliedMaskReplacesExtraction(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := segmentation.New()
	set(t, s, map[string]cty.Value{segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET)})

	in := t1()
	in[segmentation.InBrainMask] = port.External(port.Volume, "/masks/sub-01_mask.nii.gz")
	g, _, err := s.Expand(ctx, testEnv(t), in)
	require.NoError(t, err)

	ids := g.NodeIDs()
	assert.Contains(t, ids, "segmentation.apply_mask")
	assert.NotContains(t, ids, "segmentation.fsl_bet")
	apply, _ := g.Node("segmentation.apply_mask")
	assert.Contains(t, apply.Command, "/masks/sub-01_mask.nii.gz")
}

func TestExpand_UnsupportedConfigurations(t *testing.T) {
	dir := t.TempDir()
	mask := touch(t, filepath.Join(dir, "mask.nii.gz"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fs", "bert"), 0o755))

	tests := []struct {
		name string
		opts map[string]cty.Value
		in   port.Bindings
	}{
		{
			name: "ants without template",
			opts: map[string]cty.Value{segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskANTs)},
		},
		{
			name: "mask path and mask input",
			opts: map[string]cty.Value{
				segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET),
				segmentation.OptBrainMaskPath: cty.StringVal(mask),
			},
			in: port.Bindings{segmentation.InBrainMask: port.External(port.Volume, mask)},
		},
		{
			name: "existing data with external mask tool",
			opts: map[string]cty.Value{
				segmentation.OptUseExisting:   cty.True,
				segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET),
			},
		},
		{
			name: "existing data with resampling",
			opts: map[string]cty.Value{
				segmentation.OptUseExisting:   cty.True,
				segmentation.OptMakeIsotropic: cty.True,
			},
		},
		{
			name: "existing data without subjects dir",
			opts: map[string]cty.Value{segmentation.OptUseExisting: cty.True},
		},
		{
			name: "existing data with unknown subject",
			opts: map[string]cty.Value{
				segmentation.OptUseExisting: cty.True,
				segmentation.OptSubjectsDir: cty.StringVal(filepath.Join(dir, "fs")),
				segmentation.OptSubjectID:   cty.StringVal("ernie"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			s := segmentation.New()
			set(t, s, tt.opts)
			in := t1()
			for k, v := range tt.in {
				in[k] = v
			}

			g, _, err := s.Expand(ctx, testEnv(t), in)
			require.ErrorIs(t, err, stage.ErrUnsupportedConfiguration)
			assert.Nil(t, g)
		})
	}
}

func TestExpand_ExistingFreeSurferData(t *testing.T) {
	ctx, _ := testutil.Context(t)
	subjects := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(subjects, "bert", "mri"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(subjects, "fsaverage"), 0o755))

	s := segmentation.New()
	require.NoError(t, s.Object().Set(segmentation.OptSubjectsDir, cty.StringVal(subjects)))
	assert.Equal(t, []string{"bert", "fsaverage"}, s.Values().Strings(segmentation.OptSubjectIDs))
	set(t, s, map[string]cty.Value{
		segmentation.OptSubjectID:   cty.StringVal("bert"),
		segmentation.OptUseExisting: cty.True,
	})

	env := testEnv(t)
	g, out, err := s.Expand(ctx, env, t1())
	require.NoError(t, err)
	assert.Zero(t, g.Len())
	assert.Equal(t, port.External(port.Directory, subjects), out[segmentation.OutSubjects])
	assert.Equal(t, port.External(port.Text, "bert"), out[segmentation.OutSubjectID])
	assert.Equal(t, filepath.Join(subjects, "bert", "mri", "brainmask.mgz"), out[segmentation.OutBrainMask].Value)

	c := s.Completion(env)
	assert.True(t, c.Entry.External)
	assert.Equal(t, []string{
		filepath.Join(subjects, "bert", "mri", "aseg.mgz"),
		filepath.Join(subjects, "bert", "mri", "brainmask.mgz"),
	}, c.Entry.Artifacts)
}

func TestSubjectsDirDerivation(t *testing.T) {
	s := segmentation.New()
	assert.Empty(t, s.Values().Strings(segmentation.OptSubjectIDs))

	err := s.Object().Set(segmentation.OptSubjectsDir, cty.StringVal(filepath.Join(t.TempDir(), "missing")))
	require.ErrorIs(t, err, option.ErrDependencyUnavailable)
	assert.Empty(t, s.Values().String(segmentation.OptSubjectsDir), "failed Set leaves the object unchanged")

	err = s.Object().Set(segmentation.OptSubjectIDs, option.StringsVal([]string{"x"}))
	assert.ErrorIs(t, err, option.ErrReadOnly)
}

func TestOptionDomains(t *testing.T) {
	s := segmentation.New()
	for name, v := range map[string]cty.Value{
		segmentation.OptIsotropicVoxSize:       cty.NumberIntVal(0),
		segmentation.OptIsotropicInterpolation: cty.StringVal("bilinear"),
		segmentation.OptBrainMaskTool:          cty.StringVal("Custom"),
		segmentation.OptWhiteMatterMask:        cty.StringVal("/does/not/exist.nii.gz"),
		segmentation.OptFreeSurferArgs:         cty.StringVal(`"unterminated`),
	} {
		assert.ErrorIs(t, s.Object().Set(name, v), option.ErrInvalidValue, name)
	}
}

func TestExpand_WhiteMatterMask(t *testing.T) {
	ctx, _ := testutil.Context(t)
	wm := touch(t, filepath.Join(t.TempDir(), "wm.nii.gz"))
	s := segmentation.New()
	set(t, s, map[string]cty.Value{segmentation.OptWhiteMatterMask: cty.StringVal(wm)})

	_, out, err := s.Expand(ctx, testEnv(t), t1())
	require.NoError(t, err)
	assert.Equal(t, port.External(port.Volume, wm), out[segmentation.OutWMMask])
}

func TestExpand_Deterministic(t *testing.T) {
	ctx, _ := testutil.Context(t)
	s := segmentation.New()
	set(t, s, map[string]cty.Value{segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET)})
	env := testEnv(t)

	first, _, err := s.Expand(ctx, env, t1())
	require.NoError(t, err)
	second, _, err := s.Expand(ctx, env, t1())
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("expand is not deterministic (-first +second):\n%s", diff)
	}
}

func TestCompletion_DefaultLayout(t *testing.T) {
	env := testEnv(t)
	c := segmentation.New().Completion(env)

	assert.True(t, c.Reuse)
	assert.False(t, c.Entry.External)
	assert.Equal(t, "segmentation", c.Entry.Stage)
	assert.Equal(t, filepath.Join(env.Dir, "freesurfer", "sub-01", "mri", "aseg.mgz"), c.Entry.Artifacts[0])
	assert.Equal(t, port.External(port.Text, "sub-01"), c.Outputs[segmentation.OutSubjectID])
}

func TestCompletion_OutputsMatchExpansion(t *testing.T) {
	templates := t.TempDir()
	suppliedMask := touch(t, filepath.Join(templates, "sub-01_mask.nii.gz"))
	ants := map[string]cty.Value{
		segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskANTs),
		segmentation.OptAntsTemplate:  cty.StringVal(touch(t, filepath.Join(templates, "template.nii.gz"))),
		segmentation.OptAntsProbMask:  cty.StringVal(touch(t, filepath.Join(templates, "prob.nii.gz"))),
	}
	withFSLMask := func(opts map[string]cty.Value) map[string]cty.Value {
		out := map[string]cty.Value{segmentation.OptUseFSLBrainMask: cty.True}
		for k, v := range opts {
			out[k] = v
		}
		return out
	}
	bet := map[string]cty.Value{segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET)}

	tests := []struct {
		name     string
		opts     map[string]cty.Value
		in       port.Bindings
		exported bool
	}{
		{name: "freesurfer"},
		{name: "freesurfer ignores use_fsl_brain_mask", opts: withFSLMask(nil)},
		{name: "bet", opts: bet},
		{name: "bet mask", opts: withFSLMask(bet), exported: true},
		{name: "ants", opts: ants},
		{name: "ants mask", opts: withFSLMask(ants), exported: true},
		{
			name: "brain_mask_path",
			opts: withFSLMask(map[string]cty.Value{
				segmentation.OptBrainMaskTool: cty.StringVal(segmentation.MaskBET),
				segmentation.OptBrainMaskPath: cty.StringVal(suppliedMask),
			}),
			exported: true,
		},
		{
			name:     "connected mask",
			opts:     withFSLMask(bet),
			in:       port.Bindings{segmentation.InBrainMask: port.External(port.Volume, suppliedMask)},
			exported: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			s := segmentation.New()
			set(t, s, tt.opts)
			env := testEnv(t)
			in := t1()
			for k, v := range tt.in {
				in[k] = v
			}

			_, fresh, err := s.Expand(ctx, env, in)
			require.NoError(t, err)
			c := s.Completion(env)

			require.Len(t, c.Outputs, len(fresh))
			for name, b := range fresh {
				assert.Equal(t, b.Value, c.Outputs[name].Value, name)
			}
			if tt.exported {
				assert.Equal(t, env.Path("export_mask", "brain_mask.nii.gz"), c.Outputs[segmentation.OutBrainMask].Value)
				assert.Contains(t, c.Entry.Artifacts, env.Path("export_mask", "brain_mask.nii.gz"))
			}
		})
	}
}
