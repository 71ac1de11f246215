package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/participant"
	"github.com/specialistvlad/connectogrid/internal/pipelines"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/specialistvlad/connectogrid/internal/stageconfig"
)

func (a *App) modalities() pipelines.Modalities {
	return pipelines.Modalities{
		Diffusion:  a.files.dwi != nil,
		Functional: a.files.fn != nil,
	}
}

// planner builds a fresh subject pipeline per unit, configured from the
// domain files with the unit's variables.
func (a *App) planner(units map[string]unit) participant.Planner {
	return func(ctx context.Context, label string) (*participant.Plan, error) {
		u, ok := units[label]
		if !ok {
			return nil, fmt.Errorf("no dataset entry for %q", label)
		}
		m := a.modalities()

		in, err := locateInputs(u, m)
		if err != nil {
			return nil, failure.Configuration("", err)
		}
		p, err := pipelines.Subject(m)
		if err != nil {
			return nil, err
		}

		vars := stageconfig.Vars{
			OutputDir:  a.config.OutputDir,
			DatasetDir: a.config.BIDSDir,
			Subject:    label,
		}
		for _, d := range []struct {
			name string
			file *stageconfig.File
		}{
			{pipelines.AnatomicalName, a.files.anat},
			{pipelines.DiffusionName, a.files.dwi},
			{pipelines.FunctionalName, a.files.fn},
		} {
			if d.file == nil {
				continue
			}
			s, _ := p.Stage(d.name)
			target, ok := s.(stageconfig.Target)
			if !ok {
				return nil, fmt.Errorf("stage %q cannot be configured from a file", d.name)
			}
			if err := d.file.Apply(ctx, target, vars); err != nil {
				return nil, err
			}
		}

		ctxlog.FromContext(ctx).Debug("Subject planned.", "dir", u.Dir, "inputs", len(in))
		return &participant.Plan{
			Pipeline: p,
			Env:      stage.NewEnv(label, a.config.OutputDir, a.tools, a.config.ThreadsPerParticipant(), a.ledger),
			Inputs:   in,
		}, nil
	}
}
