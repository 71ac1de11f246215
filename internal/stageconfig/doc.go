// Package stageconfig reads the per-domain HCL configuration files and
// applies them to the stages of a pipeline.
//
// A file holds one block per stage, named by the stage:
//
//	stage "segmentation" {
//	  brain_mask_extraction_tool = "BET"
//	  make_isotropic             = true
//	  freesurfer_subjects_dir    = "${dataset_dir}/derivatives/freesurfer"
//	}
//
// Attribute expressions may reference output_dir, dataset_dir and subject.
// They are evaluated per subject, so one parsed File serves every subject.
package stageconfig
