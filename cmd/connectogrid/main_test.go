package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/connectogrid/internal/app"
	"github.com/specialistvlad/connectogrid/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
	require.Equal(t, cli.CodeUsage, cli.ExitCode(err))
}

func TestRun_InvalidStageConfig(t *testing.T) {
	t.Parallel()

	bids := t.TempDir()
	anat := filepath.Join(t.TempDir(), "anat.hcl")
	require.NoError(t, os.WriteFile(anat, []byte(`stage "segmentation" {`), 0o644))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{
		bids, t.TempDir(), "participant", "--anat_pipeline_config", anat,
	})

	require.Error(t, err)
	require.Equal(t, cli.CodeUsage, cli.ExitCode(err))
}

func TestRun_GroupLevel(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{t.TempDir(), t.TempDir(), "group"})

	require.ErrorIs(t, err, app.ErrGroupLevel)
	require.Equal(t, cli.CodeFailure, cli.ExitCode(err))
}
