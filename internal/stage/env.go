package stage

import (
	"path/filepath"
	"strings"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
)

// Env is the per-subject context a stage expands in.
type Env struct {
	// Subject is the subject/session label, e.g. "sub-01_ses-01".
	Subject string
	// Addr is the stage's own address; nodes are its children.
	Addr *nodeid.Address
	// Dir is the directory the stage owns exclusively.
	Dir string
	// Tools resolves executables and supplies the shared tool environment.
	Tools toolchain.Toolchain
	// MaxThreads caps per-node thread hints. Zero means no cap.
	MaxThreads int
	// Ledger is consulted for reuse decisions. Nil disables reuse.
	Ledger ledger.Ledger
}

// NewEnv returns the root Env of a subject: nodes are addressed from the
// top-level stages down and artifacts live under <outputRoot>/<subject>.
func NewEnv(subject, outputRoot string, tools toolchain.Toolchain, maxThreads int, l ledger.Ledger) Env {
	return Env{
		Subject:    subject,
		Dir:        filepath.Join(outputRoot, subject),
		Tools:      tools,
		MaxThreads: maxThreads,
		Ledger:     l,
	}
}

// Child returns the Env of a stage named name nested in e.
func (e Env) Child(name string) Env {
	c := e
	c.Addr = e.Addr.Child(name)
	c.Dir = filepath.Join(e.Dir, name)
	return c
}

// Path joins parts onto the stage directory.
func (e Env) Path(parts ...string) string {
	return filepath.Join(append([]string{e.Dir}, parts...)...)
}

// ID returns the canonical address of the stage.
func (e Env) ID() string {
	return e.Addr.String()
}

// Threads caps n by MaxThreads.
func (e Env) Threads(n int) int {
	if e.MaxThreads > 0 && n > e.MaxThreads {
		return e.MaxThreads
	}
	return n
}

// Node creates a node named name that runs tool with args. The tool is
// resolved through the toolchain and the node gets its shared environment.
func (e Env) Node(name, tool string, args ...string) *node.Node {
	return node.New(e.Addr.Child(name), tool, e.Tools.Command(tool, args...)...).
		WithEnv(e.Tools.Environ(nil))
}

// Entry builds the ledger entry for artifacts of this stage.
func (e Env) Entry(artifacts ...string) ledger.Entry {
	return ledger.Entry{
		Subject:   e.Subject,
		Stage:     e.ID(),
		Dir:       e.Dir,
		Artifacts: artifacts,
	}
}

// Label is a filesystem-safe rendering of the stage address.
func (e Env) Label() string {
	return strings.Join(e.Addr.Names(), "_")
}
