package segmentation

import (
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/fsutil"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/zclconf/go-cty/cty"
)

// Option names.
const (
	OptSegTool                = "seg_tool"
	OptMakeIsotropic          = "make_isotropic"
	OptIsotropicVoxSize       = "isotropic_vox_size"
	OptIsotropicInterpolation = "isotropic_interpolation"
	OptBrainMaskTool          = "brain_mask_extraction_tool"
	OptAntsTemplate           = "ants_templatefile"
	OptAntsProbMask           = "ants_probmaskfile"
	OptAntsRegMask            = "ants_regmaskfile"
	OptUseFSLBrainMask        = "use_fsl_brain_mask"
	OptBrainMaskPath          = "brain_mask_path"
	OptUseExisting            = "use_existing_freesurfer_data"
	OptSubjectsDir            = "freesurfer_subjects_dir"
	OptSubjectIDs             = "freesurfer_subject_id_trait"
	OptSubjectID              = "freesurfer_subject_id"
	OptFreeSurferArgs         = "freesurfer_args"
	OptWhiteMatterMask        = "white_matter_mask"
)

// Values of brain_mask_extraction_tool.
const (
	MaskFreeSurfer = "Freesurfer"
	MaskBET        = "BET"
	MaskANTs       = "ANTs"
)

func options() []option.Option {
	return append([]option.Option{
		option.Enum(OptSegTool, "Segmentation tool.", "Freesurfer"),
		option.Bool(OptMakeIsotropic, false, "Resample T1 to isotropic voxels before reconstruction."),
		option.Number(OptIsotropicVoxSize, 1.2, &option.Range{Min: 0, Max: 10, MinExclusive: true}, "Isotropic voxel size in mm."),
		option.Enum(OptIsotropicInterpolation, "Interpolation used for isotropic resampling.",
			"cubic", "weighted", "nearest", "sinc", "interpolate"),
		option.Enum(OptBrainMaskTool, "Tool computing the brain mask.", MaskFreeSurfer, MaskBET, MaskANTs),
		option.Path(OptAntsTemplate, true, "ANTs brain extraction template."),
		option.Path(OptAntsProbMask, true, "ANTs brain probability mask."),
		option.Path(OptAntsRegMask, true, "ANTs extraction registration mask."),
		option.Bool(OptUseFSLBrainMask, false, "Expose the BET mask instead of the FreeSurfer brainmask."),
		option.Path(OptBrainMaskPath, true, "Precomputed brain mask replacing BET or ANTs extraction."),
		option.Bool(OptUseExisting, false, "Use an existing FreeSurfer reconstruction instead of running recon-all."),
		option.Path(OptSubjectsDir, false, "FreeSurfer SUBJECTS_DIR. Defaults to <stage>/freesurfer."),
		option.StringList(OptSubjectIDs, "Subject directories found in freesurfer_subjects_dir."),
		option.String(OptSubjectID, "", "FreeSurfer subject ID. Defaults to the subject label."),
		option.Args(OptFreeSurferArgs, "Extra recon-all arguments."),
		option.Path(OptWhiteMatterMask, true, "Custom white matter mask."),
	}, stage.CommonOptions()...)
}

// listSubjects keeps freesurfer_subject_id_trait in step with the
// directories present in freesurfer_subjects_dir.
func listSubjects(v option.Values) (map[string]cty.Value, error) {
	dir := v.String(OptSubjectsDir)
	if dir == "" {
		return map[string]cty.Value{OptSubjectIDs: option.StringsVal(nil)}, nil
	}
	names, err := fsutil.ListSubdirectories(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	return map[string]cty.Value{OptSubjectIDs: option.StringsVal(names)}, nil
}

func derivations() []option.Derivation {
	return []option.Derivation{{
		Sources: []string{OptSubjectsDir},
		Targets: []string{OptSubjectIDs},
		Compute: listSubjects,
	}}
}
