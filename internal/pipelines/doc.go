// Package pipelines assembles the concrete stages into the anatomical,
// diffusion and functional pipelines, and nests them into the pipeline
// run for each subject.
//
//	subject
//	├── anatomical:  segmentation → parcellation
//	├── diffusion:   dmri_preprocessing → registration → tractography → connectome
//	└── functional:  fmri_preprocessing → functional_connectome
//
// Diffusion and functional are optional; both consume the anatomical
// outputs.
package pipelines
