// Package toolchain resolves external tool names to executables and
// carries the environment every tool invocation receives. It is filled
// from the command line once and passed into stage construction, so graph
// expansion never reads the process environment.
package toolchain

import (
	"fmt"
	"maps"
	"path/filepath"
)

// Package is a third-party software suite providing one or more tools.
type Package string

const (
	FreeSurfer Package = "freesurfer"
	FSL        Package = "fsl"
	ANTs       Package = "ants"
	MRtrix     Package = "mrtrix"
	AFNI       Package = "afni"
	// System tools come from PATH.
	System Package = "system"
)

// Packages lists the packages a BinDirs entry may name.
var Packages = []Package{FreeSurfer, FSL, ANTs, MRtrix, AFNI}

// ParsePackage maps a package name such as "fsl" to its Package.
func ParsePackage(s string) (Package, error) {
	for _, p := range Packages {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown tool package %q, expected one of %v", s, Packages)
}

// packageOf maps each tool the stages invoke to its package.
var packageOf = map[string]Package{
	"mri_convert":                 FreeSurfer,
	"recon-all":                   FreeSurfer,
	"mri_aparc2aseg":              FreeSurfer,
	"mri_surf2surf":               FreeSurfer,
	"mri_binarize":                FreeSurfer,
	"segmentHA_T1.sh":             FreeSurfer,
	"segmentBS.sh":                FreeSurfer,
	"segmentThalamicNuclei.sh":    FreeSurfer,
	"bet":                         FSL,
	"flirt":                       FSL,
	"eddy":                        FSL,
	"eddy_correct":                FSL,
	"mcflirt":                     FSL,
	"slicetimer":                  FSL,
	"fslmaths":                    FSL,
	"fslroi":                      FSL,
	"antsBrainExtraction.sh":      ANTs,
	"antsRegistrationSyNQuick.sh": ANTs,
	"antsApplyTransforms":         ANTs,
	"dwidenoise":                  MRtrix,
	"dwibiascorrect":              MRtrix,
	"dwiextract":                  MRtrix,
	"mrconvert":                   MRtrix,
	"mrmath":                      MRtrix,
	"mrgrid":                      MRtrix,
	"dwi2response":                MRtrix,
	"dwi2fod":                     MRtrix,
	"dwi2tensor":                  MRtrix,
	"tensor2metric":               MRtrix,
	"5ttgen":                      MRtrix,
	"tckgen":                      MRtrix,
	"tcksift":                     MRtrix,
	"tck2connectome":              MRtrix,
	"3dDespike":                   AFNI,
	"3dTproject":                  AFNI,
	"3dNetCorr":                   AFNI,
}

// Toolchain locates tools and supplies their common environment.
type Toolchain struct {
	// BinDirs maps a package to the directory holding its executables.
	// Packages without an entry resolve from PATH.
	BinDirs map[Package]string
	// Env is added to every node's environment.
	Env map[string]string
}

// Command returns argv for tool followed by args.
func (t Toolchain) Command(tool string, args ...string) []string {
	exe := tool
	if dir, ok := t.BinDirs[packageOf[tool]]; ok && dir != "" {
		exe = filepath.Join(dir, tool)
	}
	return append([]string{exe}, args...)
}

// Environ returns the shared environment merged with extra; extra wins.
func (t Toolchain) Environ(extra map[string]string) map[string]string {
	env := make(map[string]string, len(t.Env)+len(extra))
	maps.Copy(env, t.Env)
	maps.Copy(env, extra)
	return env
}

// PackageOf reports which package provides tool.
func PackageOf(tool string) Package {
	if p, ok := packageOf[tool]; ok {
		return p
	}
	return System
}
