package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
)

var (
	// ErrMissingRequiredInput is returned by Expand when a required input
	// port has no binding.
	ErrMissingRequiredInput = errors.New("missing required input")
	// ErrUnsupportedConfiguration is returned by Expand when the options
	// select a combination that is mutually exclusive by contract.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
)

// Stage is implemented by every processing step and by pipeline.Pipeline.
type Stage interface {
	// Name is unique within the enclosing pipeline.
	Name() string
	// Inputs and Outputs are fixed and independent of configuration.
	Inputs() []port.Spec
	Outputs() []port.Spec
	Config() option.Config
	// Expand builds the nodes of the selected branch and binds every
	// produced output port.
	Expand(ctx context.Context, env Env, in port.Bindings) (*Subgraph, port.Bindings, error)
	// Completion describes how the stage is recognized as already done.
	Completion(env Env) Completion
	// HasCompleted consults the ledger. It must not change any state.
	HasCompleted(ctx context.Context, l ledger.Ledger, env Env) bool
}

// Completion ties a stage to the ledger.
type Completion struct {
	// Entry lists the designated artifacts recorded once the stage's nodes
	// have all succeeded.
	Entry ledger.Entry
	// Reuse reflects the stage's "reuse existing output" option.
	Reuse bool
	// Outputs binds each output port to the artifact a previous run left
	// behind; used instead of expansion when the stage is reused.
	Outputs port.Bindings
}

// Check is the HasCompleted implementation shared by concrete stages.
func Check(ctx context.Context, l ledger.Ledger, c Completion) bool {
	if l == nil || len(c.Entry.Artifacts) == 0 {
		return false
	}
	return l.IsComplete(ctx, c.Entry)
}

// CheckInputs verifies that every required port of specs is bound.
func CheckInputs(name string, specs []port.Spec, in port.Bindings) error {
	for _, s := range specs {
		if s.Optional {
			continue
		}
		if _, ok := in[s.Name]; !ok {
			return failure.GraphConstruction(name, fmt.Errorf("%w: port %q", ErrMissingRequiredInput, s.Name))
		}
	}
	return nil
}

// Unsupported reports a contradictory option combination on stage name.
func Unsupported(name, format string, args ...any) error {
	return failure.Configuration(name, fmt.Errorf("%w: %s", ErrUnsupportedConfiguration, fmt.Sprintf(format, args...)))
}

// Branch builds the subgraph of one discriminant value.
type Branch func(ctx context.Context, env Env, in port.Bindings) (*Subgraph, port.Bindings, error)

// Branches maps each value of a discriminant option to its constructor.
type Branches map[string]Branch

// Expand runs the constructor registered for value.
func (b Branches) Expand(ctx context.Context, env Env, in port.Bindings, stageName, discriminant, value string) (*Subgraph, port.Bindings, error) {
	fn, ok := b[value]
	if !ok {
		return nil, nil, Unsupported(stageName, "%s=%q has no construction branch", discriminant, value)
	}
	return fn(ctx, env, in)
}

// CommonOptions are declared by every concrete stage.
func CommonOptions() []option.Option {
	return []option.Option{
		option.Bool(OptReuse, true, "Reuse outputs of a previous run when the ledger reports the stage complete."),
		option.Int(OptThreads, 1, &option.Range{Min: 1, Max: 256}, "Threads requested from the stage's tools."),
	}
}

// Names of the options returned by CommonOptions.
const (
	OptReuse   = "reuse_existing_output"
	OptThreads = "number_of_threads"
)

// Base implements the configuration-independent part of Stage for
// concrete stages, which embed it.
type Base struct {
	name    string
	cfg     *option.Object
	inputs  []port.Spec
	outputs []port.Spec
}

// NewBase returns a Base for a stage with the given ports.
func NewBase(name string, cfg *option.Object, inputs, outputs []port.Spec) Base {
	return Base{name: name, cfg: cfg, inputs: inputs, outputs: outputs}
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Config() option.Config { return b.cfg }
func (b *Base) Inputs() []port.Spec   { return b.inputs }
func (b *Base) Outputs() []port.Spec  { return b.outputs }

// Object returns the concrete configuration object.
func (b *Base) Object() *option.Object { return b.cfg }

// Values snapshots the current option values.
func (b *Base) Values() option.Values { return b.cfg.Values() }
