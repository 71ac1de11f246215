package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/toolrun"
)

// FakeRunner is a scripted toolrun.Runner. Nodes succeed by default and
// write a small placeholder file at every declared output path.
type FakeRunner struct {
	// Delay is how long every invocation takes.
	Delay time.Duration
	// SkipOutputs leaves declared outputs unwritten.
	SkipOutputs bool
	// OutputsOnFailure makes failing nodes write their outputs before they
	// exit, like a tool that crashes after a partial write.
	OutputsOnFailure bool

	mu         sync.Mutex
	failures   map[string]string
	matchers   []matcher
	blocks     map[string]chan struct{}
	executed   []string
	running    int
	maxRunning int
	threads    int
	maxThreads int
}

// NewFakeRunner returns a runner where every node succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		failures: make(map[string]string),
		blocks:   make(map[string]chan struct{}),
	}
}

// FailNode makes the node with the canonical address id exit with code 1
// and the given stderr diagnostic.
func (r *FakeRunner) FailNode(id, diagnostic string) *FakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = diagnostic
	return r
}

type matcher struct {
	match      func(*node.Node) bool
	diagnostic string
}

// FailMatching makes every node for which match returns true fail like
// FailNode does.
func (r *FakeRunner) FailMatching(match func(*node.Node) bool, diagnostic string) *FakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, matcher{match: match, diagnostic: diagnostic})
	return r
}

// BlockNode makes the node id wait until the returned function is called
// or its context is cancelled.
func (r *FakeRunner) BlockNode(id string) (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.blocks[id] = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Run implements toolrun.Runner.
func (r *FakeRunner) Run(ctx context.Context, n *node.Node) (node.Result, error) {
	id := n.ID.String()
	res := node.Result{Started: time.Now()}

	r.mu.Lock()
	r.running++
	r.threads += n.Threads
	r.maxRunning = max(r.maxRunning, r.running)
	r.maxThreads = max(r.maxThreads, r.threads)
	diagnostic, fail := r.failures[id]
	for _, m := range r.matchers {
		if !fail && m.match(n) {
			diagnostic, fail = m.diagnostic, true
		}
	}
	block := r.blocks[id]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running--
		r.threads -= n.Threads
		r.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
		}
	}
	res.Finished = time.Now()
	if err := ctx.Err(); err != nil {
		res.ExitCode = toolrun.ExitCancelled
		return res, fmt.Errorf("%s interrupted: %w", n.Tool, err)
	}

	r.mu.Lock()
	r.executed = append(r.executed, id)
	r.mu.Unlock()

	if fail {
		if r.OutputsOnFailure {
			if err := writeOutputs(n, id); err != nil {
				return res, err
			}
		}
		res.ExitCode = 1
		res.Diagnostic = diagnostic
		return res, fmt.Errorf("%w: %s exited with code 1", toolrun.ErrToolFailed, n.Tool)
	}
	if !r.SkipOutputs {
		if err := writeOutputs(n, id); err != nil {
			return res, err
		}
	}
	return res, nil
}

func writeOutputs(n *node.Node, id string) error {
	for _, d := range n.OutputDirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	for _, p := range n.OutputPaths() {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte("output of "+id), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Executed returns the nodes that ran to completion or failure, in order.
func (r *FakeRunner) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

// MaxConcurrency is the highest number of simultaneous invocations seen.
func (r *FakeRunner) MaxConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning
}

// MaxThreads is the highest sum of thread hints of simultaneous invocations.
func (r *FakeRunner) MaxThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxThreads
}

var _ toolrun.Runner = (*FakeRunner)(nil)
