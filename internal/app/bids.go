package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/fsutil"
	"github.com/specialistvlad/connectogrid/internal/pipelines"
	"github.com/specialistvlad/connectogrid/internal/port"
)

// ErrMissingInput is returned when a subject lacks an image a selected
// pipeline needs.
var ErrMissingInput = errors.New("missing input image")

const niftiExt = ".nii.gz"

// unit is what one DAG is built for: a subject, or one session of a
// subject when the dataset has sessions.
type unit struct {
	Label string
	Dir   string
}

// discoverUnits lists the units of bidsDir. Without participants every
// sub-* directory is used; without sessions every ses-* directory is.
func discoverUnits(ctx context.Context, bidsDir string, participants, sessions []string) ([]unit, error) {
	logger := ctxlog.FromContext(ctx)
	var subjects []string
	if len(participants) == 0 {
		dirs, err := fsutil.ListSubdirectoriesWithPrefix(bidsDir, "sub-")
		if err != nil {
			return nil, err
		}
		subjects = dirs
	} else {
		for _, p := range participants {
			name := "sub-" + p
			if info, err := os.Stat(filepath.Join(bidsDir, name)); err != nil || !info.IsDir() {
				return nil, fmt.Errorf("participant %q not found in %s", p, bidsDir)
			}
			subjects = append(subjects, name)
		}
	}

	var units []unit
	for _, sub := range subjects {
		subDir := filepath.Join(bidsDir, sub)
		sesDirs, err := fsutil.ListSubdirectoriesWithPrefix(subDir, "ses-")
		if err != nil {
			return nil, err
		}
		if len(sesDirs) == 0 {
			if len(sessions) > 0 {
				logger.Warn("Participant has no sessions, session filter ignored.", "participant", sub, "sessions", sessions)
			}
			units = append(units, unit{Label: sub, Dir: subDir})
			continue
		}
		matched := 0
		for _, ses := range sesDirs {
			if len(sessions) > 0 && !slices.Contains(sessions, strings.TrimPrefix(ses, "ses-")) {
				logger.Debug("Session not selected.", "participant", sub, "session", ses)
				continue
			}
			units = append(units, unit{Label: sub + "_" + ses, Dir: filepath.Join(subDir, ses)})
			matched++
		}
		if matched == 0 {
			logger.Warn("No session of participant matches the session filter, skipping it.",
				"participant", sub, "available", sesDirs, "sessions", sessions)
		}
	}
	return units, nil
}

// locateInputs finds the raw images of u that the modalities m need.
func locateInputs(u unit, m pipelines.Modalities) (port.Bindings, error) {
	images, err := fsutil.FindFilesByExtension(u.Dir, niftiExt)
	if err != nil {
		return nil, err
	}
	slices.Sort(images)

	in := make(port.Bindings)
	t1, err := findImage(images, "anat", "_T1w"+niftiExt, "")
	if err != nil {
		return nil, err
	}
	in[pipelines.T1] = port.External(port.Volume, t1)

	if m.Diffusion {
		dwi, err := findImage(images, "dwi", "_dwi"+niftiExt, "")
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(dwi, niftiExt)
		for _, side := range []struct{ port, ext string }{
			{pipelines.Bvecs, ".bvec"},
			{pipelines.Bvals, ".bval"},
		} {
			if _, err := os.Stat(base + side.ext); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrMissingInput, base+side.ext)
			}
			in[side.port] = port.External(port.Gradients, base+side.ext)
		}
		in[pipelines.DWI] = port.External(port.Volume, dwi)
	}

	if m.Functional {
		bold, err := findImage(images, "func", "_bold"+niftiExt, "task-rest")
		if err != nil {
			return nil, err
		}
		in[pipelines.Bold] = port.External(port.Volume, bold)
	}
	return in, nil
}

// findImage returns the first of images inside a modality directory with
// the given suffix, preferring names containing prefer.
func findImage(images []string, modality, suffix, prefer string) (string, error) {
	var matches []string
	for _, img := range images {
		if filepath.Base(filepath.Dir(img)) == modality && strings.HasSuffix(img, suffix) {
			matches = append(matches, img)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no %s/*%s", ErrMissingInput, modality, suffix)
	}
	if prefer != "" {
		for _, img := range matches {
			if strings.Contains(filepath.Base(img), prefer) {
				return img, nil
			}
		}
	}
	return matches[0], nil
}
