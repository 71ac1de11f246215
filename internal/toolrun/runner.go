// Package toolrun runs the external tool invocation of a Node as a local
// subprocess and captures the tool's raw diagnostic output.
package toolrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/node"
)

const (
	// ExitTimeout is reported when a node exceeds its time limit.
	ExitTimeout = 124
	// ExitCancelled is reported when the run is cancelled under a node.
	ExitCancelled = 130
	// DefaultTailLines is the number of stderr lines kept as diagnostic.
	DefaultTailLines = 40
	// DefaultWaitDelay is how long output pipes are kept open after a tool
	// exits or is cancelled.
	DefaultWaitDelay = 10 * time.Second
	// MaxLineBytes bounds one logged output line; longer lines are cut.
	MaxLineBytes = 1024 * 1024
)

var (
	// ErrToolFailed is returned when a tool exits with a non-zero status.
	ErrToolFailed = errors.New("tool failed")
	// ErrEmptyCommand is returned for a node without a command line.
	ErrEmptyCommand = errors.New("empty command")
)

// Runner executes a node's tool invocation to completion. The returned
// Result is meaningful even when err is non-nil.
type Runner interface {
	Run(ctx context.Context, n *node.Node) (node.Result, error)
}

// Config holds the configuration of a CommandRunner.
type Config struct {
	// Env is added to the environment of every invocation, after the
	// process environment and before the node's own variables.
	Env map[string]string
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
	// TailLines bounds the stderr tail kept as diagnostic.
	TailLines int
	// WaitDelay bounds how long background processes started by a tool may
	// hold its output open after the tool itself exits.
	WaitDelay time.Duration
}

// CommandRunner runs nodes with os/exec. Each tool runs in its own process
// group, which is killed as a whole on cancellation.
type CommandRunner struct {
	env       map[string]string
	timeout   time.Duration
	tailLines int
	waitDelay time.Duration
}

// NewCommandRunner creates a runner. A nil cfg uses defaults.
func NewCommandRunner(cfg *Config) *CommandRunner {
	if cfg == nil {
		cfg = &Config{}
	}
	tail := cfg.TailLines
	if tail <= 0 {
		tail = DefaultTailLines
	}
	waitDelay := cfg.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	return &CommandRunner{env: cfg.Env, timeout: cfg.Timeout, tailLines: tail, waitDelay: waitDelay}
}

// Run implements Runner. Directory outputs and the parent directories of
// every declared output file are created first.
func (r *CommandRunner) Run(ctx context.Context, n *node.Node) (node.Result, error) {
	logger := ctxlog.FromContext(ctx).With("node", n.ID.String(), "tool", n.Tool)
	res := node.Result{Started: time.Now()}
	fail := func(code int, err error) (node.Result, error) {
		res.ExitCode = code
		res.Finished = time.Now()
		return res, err
	}

	if len(n.Command) == 0 {
		return fail(1, ErrEmptyCommand)
	}
	for _, p := range n.OutputPaths() {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fail(1, fmt.Errorf("preparing output directory: %w", err))
		}
	}
	for _, d := range n.OutputDirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fail(1, fmt.Errorf("preparing output directory: %w", err))
		}
	}

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, n.Command[0], n.Command[1:]...)
	c.Env = mergeEnv(os.Environ(), r.env, n.Env)
	c.WaitDelay = r.waitDelay
	setProcessGroup(c)

	tail := newTail(r.tailLines)
	stdout := newLineWriter(MaxLineBytes, func(line string) { logger.Debug(line, "stream", "stdout") })
	stderr := newLineWriter(MaxLineBytes, func(line string) {
		tail.add(line)
		logger.Debug(line, "stream", "stderr")
	})
	c.Stdout, c.Stderr = stdout, stderr

	logger.Debug("Starting tool.", "command", n.Command, "threads", n.Threads)
	if err := c.Start(); err != nil {
		return fail(1, fmt.Errorf("start: %w", err))
	}

	err := c.Wait()
	stdout.Flush()
	stderr.Flush()
	if errors.Is(err, exec.ErrWaitDelay) {
		logger.Warn("Tool exited but left processes holding its output; killing them.", "wait_delay", r.waitDelay)
		killProcessGroup(c)
		err = nil
	}
	res.Finished = time.Now()
	res.Diagnostic = tail.String()
	if err == nil {
		logger.Debug("Tool finished.", "duration", res.Duration())
		return res, nil
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = ExitTimeout
		return res, fmt.Errorf("%w: %s timed out after %s", ErrToolFailed, n.Tool, r.timeout)
	case ctx.Err() != nil:
		res.ExitCode = ExitCancelled
		return res, fmt.Errorf("%s interrupted: %w", n.Tool, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("%w: %s exited with code %d", ErrToolFailed, n.Tool, res.ExitCode)
	}
	res.ExitCode = 1
	return res, fmt.Errorf("%w: %s: %w", ErrToolFailed, n.Tool, err)
}

// mergeEnv appends layers in order; later keys win because exec keeps the
// last value of a duplicated variable.
func mergeEnv(base []string, layers ...map[string]string) []string {
	env := append([]string(nil), base...)
	for _, layer := range layers {
		for k, v := range layer {
			env = append(env, k+"="+v)
		}
	}
	return env
}
