package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/specialistvlad/connectogrid/internal/app"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// Exit codes.
const (
	CodeFailure = 1
	CodeUsage   = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitCode maps err to the process exit status: 0 for nil, the code of an
// ExitError, and CodeFailure otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return CodeFailure
}

// defaultThreads is the number of logical CPUs minus one, at least one.
func defaultThreads() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 2 {
		return 1
	}
	return n - 1
}

type flags struct {
	participants []string
	sessions     []string
	anatConfig   string
	dwiConfig    string
	funcConfig   string
	threads      int
	parallel     int
	fsLicense    string
	antsSeed     int
	mrtrixSeed   int
	itkThreads   int
	mklThreads   int
	toolDirs     map[string]string
	externalData string
	nodeTimeout  time.Duration
	logFormat    string
	logLevel     string
	healthPort   int
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var (
		f      flags
		config *app.Config
	)

	cmd := &cobra.Command{
		Use:   "connectogrid BIDS_DIR OUTPUT_DIR {participant,group}",
		Short: "Multi-scale connectome mapping of BIDS datasets",
		Long: `Connectogrid builds structural and functional connectomes from a BIDS
dataset. Each participant runs the anatomical pipeline, plus the diffusion
and functional pipelines when their configuration file is given.

Arguments:
  BIDS_DIR        The directory with the input dataset formatted according to BIDS.
  OUTPUT_DIR      The directory where the output files are stored.
  analysis_level  "participant" or "group". Participant analyses may run
                  independently in parallel on the same OUTPUT_DIR.`,
		Version:       Version,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, pos []string) error {
			c, err := f.config(cmd, pos)
			if err != nil {
				return err
			}
			config = c
			return nil
		},
	}
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	fl := cmd.Flags()
	fl.SortFlags = false
	fl.StringSliceVar(&f.participants, "participant_label", nil, "Participant label(s) without the \"sub-\" prefix. Repeatable; default is every participant.")
	fl.StringSliceVar(&f.sessions, "session_label", nil, "Session label(s) without the \"ses-\" prefix. Repeatable; default is every session.")
	fl.StringVar(&f.anatConfig, "anat_pipeline_config", "", "HCL configuration of the anatomical pipeline stages.")
	fl.StringVar(&f.dwiConfig, "dwi_pipeline_config", "", "HCL configuration of the diffusion pipeline stages. Enables the diffusion pipeline.")
	fl.StringVar(&f.funcConfig, "func_pipeline_config", "", "HCL configuration of the functional pipeline stages. Enables the functional pipeline.")
	fl.IntVar(&f.threads, "number_of_threads", defaultThreads(), "Total thread budget, split between participants processed in parallel and shared by FreeSurfer, FSL, ANTs, MRtrix3 and AFNI.")
	fl.IntVar(&f.parallel, "number_of_participants_processed_in_parallel", 1, "Number of participants processed concurrently.")
	fl.StringVar(&f.fsLicense, "fs_license", "", "FreeSurfer license.txt.")
	fl.IntVar(&f.antsSeed, "set_ants_random_seed", 0, "Fix the ANTs random number generator seed.")
	fl.IntVar(&f.mrtrixSeed, "set_mrtrix_rng_seed", 0, "Fix the MRtrix3 random number generator seed.")
	fl.IntVar(&f.itkThreads, "set_itk_global_default_number_of_threads", 1, "Number of ITK threads used by ANTs.")
	fl.IntVar(&f.mklThreads, "set_mkl_num_threads", 1, "Number of MKL threads.")
	fl.StringToStringVar(&f.toolDirs, "tool_dir", nil, "Bin directory of a tool package, e.g. freesurfer=/opt/freesurfer/bin. Repeatable.")
	fl.StringVar(&f.externalData, "external_data_policy", "trust", "How existing external data is judged complete: 'trust' or 'verify'.")
	fl.DurationVar(&f.nodeTimeout, "node_timeout", 0, "Time limit of a single tool invocation. 0 is unlimited.")
	fl.StringVar(&f.logFormat, "log-format", "json", "Log output format. Options: 'text' or 'json'.")
	fl.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fl.IntVar(&f.healthPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		fmt.Fprintln(output, cmd.UsageString())
		return nil, false, &ExitError{Code: CodeUsage, Message: err.Error()}
	}
	if config == nil {
		// --help or --version was handled by cobra.
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "bids_dir", config.BIDSDir, "output_dir", config.OutputDir)
	return config, false, nil
}

func (f *flags) config(cmd *cobra.Command, pos []string) (*app.Config, error) {
	c := app.Config{
		BIDSDir:              pos[0],
		OutputDir:            pos[1],
		AnalysisLevel:        strings.ToLower(pos[2]),
		Participants:         f.participants,
		Sessions:             f.sessions,
		AnatConfig:           f.anatConfig,
		DWIConfig:            f.dwiConfig,
		FuncConfig:           f.funcConfig,
		Threads:              f.threads,
		ParallelParticipants: f.parallel,
		NodeTimeout:          f.nodeTimeout,
		FSLicense:            f.fsLicense,
		ITKThreads:           f.itkThreads,
		MKLThreads:           f.mklThreads,
		ToolDirs:             f.toolDirs,
		ExternalData:         strings.ToLower(f.externalData),
		LogFormat:            strings.ToLower(f.logFormat),
		LogLevel:             strings.ToLower(f.logLevel),
		HealthcheckPort:      f.healthPort,
	}
	if cmd.Flags().Changed("set_ants_random_seed") {
		c.ANTsSeed = &f.antsSeed
	}
	if cmd.Flags().Changed("set_mrtrix_rng_seed") {
		c.MRtrixSeed = &f.mrtrixSeed
	}

	config, err := app.NewConfig(c)
	if err != nil {
		return nil, &ExitError{Code: CodeUsage, Message: err.Error()}
	}
	return config, nil
}
