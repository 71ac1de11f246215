package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
)

// Analysis levels.
const (
	LevelParticipant = "participant"
	LevelGroup       = "group"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	BIDSDir       string
	OutputDir     string
	AnalysisLevel string

	// Participants and Sessions are labels without the "sub-" and "ses-"
	// prefixes. Empty means every one found in the dataset.
	Participants []string
	Sessions     []string

	// Per-domain stage configuration files. The diffusion and functional
	// pipelines run only when their file is given.
	AnatConfig string
	DWIConfig  string
	FuncConfig string

	// Threads is the budget of the whole run; it is split evenly between
	// the participants processed in parallel.
	Threads              int
	ParallelParticipants int
	NodeTimeout          time.Duration

	FSLicense  string
	ANTsSeed   *int
	MRtrixSeed *int
	ITKThreads int
	MKLThreads int
	// ToolDirs maps a tool package name ("freesurfer", "fsl", ...) to its
	// bin directory.
	ToolDirs map[string]string

	// ExternalData is the ledger policy for data produced outside this
	// system: "trust" or "verify".
	ExternalData string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// NewConfig validates cfg and normalizes its labels.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.BIDSDir == "" {
		return nil, errors.New("bids_dir is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output_dir is required")
	}
	if info, err := os.Stat(cfg.BIDSDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("bids_dir %q is not a directory", cfg.BIDSDir)
	}
	switch cfg.AnalysisLevel {
	case LevelParticipant, LevelGroup:
	default:
		return nil, fmt.Errorf("invalid analysis_level %q: must be %q or %q", cfg.AnalysisLevel, LevelParticipant, LevelGroup)
	}

	if cfg.Threads < 1 {
		return nil, fmt.Errorf("number_of_threads must be at least 1, got %d", cfg.Threads)
	}
	if cfg.ParallelParticipants < 1 {
		return nil, fmt.Errorf("number_of_participants_processed_in_parallel must be at least 1, got %d", cfg.ParallelParticipants)
	}
	if cfg.ITKThreads < 1 || cfg.MKLThreads < 1 {
		return nil, errors.New("ITK and MKL thread counts must be at least 1")
	}
	if cfg.NodeTimeout < 0 {
		return nil, fmt.Errorf("node_timeout must not be negative, got %s", cfg.NodeTimeout)
	}

	for _, path := range []string{cfg.AnatConfig, cfg.DWIConfig, cfg.FuncConfig, cfg.FSLicense} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
	}
	if (cfg.DWIConfig != "" || cfg.FuncConfig != "") && cfg.AnatConfig == "" {
		return nil, errors.New("anat_pipeline_config is required by the diffusion and functional pipelines")
	}

	for name := range cfg.ToolDirs {
		if _, err := toolchain.ParsePackage(name); err != nil {
			return nil, err
		}
	}
	if _, err := ledger.ParsePolicy(cfg.ExternalData); err != nil {
		return nil, err
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if _, ok := logLevels[cfg.LogLevel]; !ok {
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	cfg.Participants = trimLabels(cfg.Participants, "sub-")
	cfg.Sessions = trimLabels(cfg.Sessions, "ses-")
	return &cfg, nil
}

// ThreadsPerParticipant is the thread budget of one participant's session.
func (c *Config) ThreadsPerParticipant() int {
	return max(1, c.Threads/max(1, c.ParallelParticipants))
}

func trimLabels(labels []string, prefix string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimPrefix(strings.TrimSpace(l), prefix); l != "" {
			out = append(out, l)
		}
	}
	return out
}
