package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/metrics"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// self is the pseudo stage name of the pipeline's own ports.
const self = ""

type endpoint struct {
	Stage string
	Port  string
}

func (e endpoint) String() string {
	if e.Stage == self {
		return "input " + e.Port
	}
	return e.Stage + "." + e.Port
}

// Pipeline is an ordered composition of stages.
type Pipeline struct {
	name    string
	inputs  []port.Spec
	outputs []port.Spec
	stages  []stage.Stage
	index   map[string]int
	links   map[endpoint]endpoint // destination input -> source
	exports map[string]endpoint   // pipeline output -> source
	cfg     *option.Aggregate
}

// New creates an empty pipeline exposing the given ports.
func New(name string, inputs, outputs []port.Spec) *Pipeline {
	return &Pipeline{
		name:    name,
		inputs:  inputs,
		outputs: outputs,
		index:   make(map[string]int),
		links:   make(map[endpoint]endpoint),
		exports: make(map[string]endpoint),
		cfg:     option.NewAggregate(),
	}
}

var _ stage.Stage = (*Pipeline)(nil)

func (p *Pipeline) Name() string          { return p.name }
func (p *Pipeline) Inputs() []port.Spec   { return p.inputs }
func (p *Pipeline) Outputs() []port.Spec  { return p.outputs }
func (p *Pipeline) Config() option.Config { return p.cfg }

// Stages returns the stages in declaration order.
func (p *Pipeline) Stages() []stage.Stage {
	return slices.Clone(p.stages)
}

// Stage looks up a direct child stage by name.
func (p *Pipeline) Stage(name string) (stage.Stage, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.stages[i], true
}

// AddStage appends s. Names must be unique within the pipeline.
func (p *Pipeline) AddStage(s stage.Stage) error {
	if _, dup := p.index[s.Name()]; dup || s.Name() == self {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name()))
	}
	p.index[s.Name()] = len(p.stages)
	p.stages = append(p.stages, s)
	p.cfg.Add(s.Name(), s.Config())
	return nil
}

// Connect feeds dstPort of dst from srcPort of src.
func (p *Pipeline) Connect(src, srcPort, dst, dstPort string) error {
	srcSpec, err := p.outputSpec(src, srcPort)
	if err != nil {
		return err
	}
	if p.index[src] >= p.indexOrMax(dst) {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %s.%s -> %s.%s", ErrStageOrder, src, srcPort, dst, dstPort))
	}
	return p.link(endpoint{src, srcPort}, srcSpec, dst, dstPort)
}

// ConnectInput feeds dstPort of dst from the pipeline's own input inPort.
func (p *Pipeline) ConnectInput(inPort, dst, dstPort string) error {
	spec, ok := port.Lookup(p.inputs, inPort)
	if !ok {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: pipeline %q has no input %q", ErrUnknownPort, p.name, inPort))
	}
	return p.link(endpoint{self, inPort}, spec, dst, dstPort)
}

// ConnectOutput exposes srcPort of src as the pipeline output outPort.
func (p *Pipeline) ConnectOutput(src, srcPort, outPort string) error {
	srcSpec, err := p.outputSpec(src, srcPort)
	if err != nil {
		return err
	}
	outSpec, ok := port.Lookup(p.outputs, outPort)
	if !ok {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: pipeline %q has no output %q", ErrUnknownPort, p.name, outPort))
	}
	if !port.Compatible(srcSpec.Kind, outSpec.Kind) {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %s.%s (%s) -> output %s (%s)", ErrPortTypeMismatch, src, srcPort, srcSpec.Kind, outPort, outSpec.Kind))
	}
	if prev, dup := p.exports[outPort]; dup {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: output %q already bound to %s", ErrDuplicateConnection, outPort, prev))
	}
	p.exports[outPort] = endpoint{src, srcPort}
	return nil
}

func (p *Pipeline) link(src endpoint, srcSpec port.Spec, dst, dstPort string) error {
	i, ok := p.index[dst]
	if !ok {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %q", ErrUnknownStage, dst))
	}
	dstSpec, ok := port.Lookup(p.stages[i].Inputs(), dstPort)
	if !ok {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: stage %q has no input %q", ErrUnknownPort, dst, dstPort))
	}
	if !port.Compatible(srcSpec.Kind, dstSpec.Kind) {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %s (%s) -> %s.%s (%s)", ErrPortTypeMismatch, src, srcSpec.Kind, dst, dstPort, dstSpec.Kind))
	}
	to := endpoint{dst, dstPort}
	if prev, dup := p.links[to]; dup {
		return failure.GraphConstruction(p.name, fmt.Errorf("%w: %s already fed by %s", ErrDuplicateConnection, to, prev))
	}
	p.links[to] = src
	return nil
}

func (p *Pipeline) outputSpec(src, srcPort string) (port.Spec, error) {
	i, ok := p.index[src]
	if !ok {
		return port.Spec{}, failure.GraphConstruction(p.name, fmt.Errorf("%w: %q", ErrUnknownStage, src))
	}
	spec, ok := port.Lookup(p.stages[i].Outputs(), srcPort)
	if !ok {
		return port.Spec{}, failure.GraphConstruction(p.name, fmt.Errorf("%w: stage %q has no output %q", ErrUnknownPort, src, srcPort))
	}
	return spec, nil
}

func (p *Pipeline) indexOrMax(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	return len(p.stages)
}

// validate checks the connectivity invariant before anything is expanded.
func (p *Pipeline) validate() error {
	for _, s := range p.stages {
		for _, in := range s.Inputs() {
			if _, ok := p.links[endpoint{s.Name(), in.Name}]; !ok && !in.Optional {
				return failure.GraphConstruction(s.Name(), fmt.Errorf("%w: %s.%s", ErrUnconnectedRequiredInput, s.Name(), in.Name))
			}
		}
	}
	for _, out := range p.outputs {
		if _, ok := p.exports[out.Name]; !ok && !out.Optional {
			return failure.GraphConstruction(p.name, fmt.Errorf("%w: %q", ErrUnboundOutput, out.Name))
		}
	}
	return nil
}

// Expand implements stage.Stage.
func (p *Pipeline) Expand(ctx context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", p.name)

	if err := stage.CheckInputs(p.name, p.inputs, in); err != nil {
		return nil, nil, err
	}
	if err := p.validate(); err != nil {
		return nil, nil, err
	}

	g := stage.NewSubgraph()
	produced := make(map[endpoint]port.Binding)
	for name, b := range in {
		produced[endpoint{self, name}] = b
	}

	for _, s := range p.stages {
		senv := env.Child(s.Name())
		sin, err := p.resolveInputs(s, produced)
		if err != nil {
			return nil, nil, err
		}

		var (
			sg   *stage.Subgraph
			outs port.Bindings
		)
		comp := s.Completion(senv)
		if comp.Reuse && s.HasCompleted(ctx, env.Ledger, senv) {
			logger.Debug("Stage already complete, reusing artifacts.", "stage", senv.ID())
			metrics.StagesReused.WithLabelValues(s.Name()).Inc()
			outs = comp.Outputs
		} else {
			sg, outs, err = s.Expand(ctx, senv, sin)
			if err != nil {
				return nil, nil, failure.GraphConstruction(s.Name(), err)
			}
			logger.Debug("Stage expanded.", "stage", senv.ID(), "nodes", sg.Len())
			if sg.Len() > 0 && len(comp.Entry.Artifacts) > 0 {
				sg.Units = append(sg.Units, stage.Unit{Entry: comp.Entry, Nodes: unitNodes(sg, senv)})
			}
			g.Merge(sg)
		}

		if err := checkOutputs(s, outs); err != nil {
			return nil, nil, err
		}
		for name, b := range outs {
			produced[endpoint{s.Name(), name}] = b
		}
	}

	outs := make(port.Bindings, len(p.exports))
	for outPort, src := range p.exports {
		if b, ok := produced[src]; ok {
			outs[outPort] = b
		} else if spec, _ := port.Lookup(p.outputs, outPort); !spec.Optional {
			return nil, nil, failure.GraphConstruction(p.name, fmt.Errorf("%w: %q (source %s produced nothing)", ErrUnboundOutput, outPort, src))
		}
	}
	return g, outs, nil
}

// resolveInputs gathers the bindings feeding s.
func (p *Pipeline) resolveInputs(s stage.Stage, produced map[endpoint]port.Binding) (port.Bindings, error) {
	sin := make(port.Bindings)
	for _, spec := range s.Inputs() {
		src, linked := p.links[endpoint{s.Name(), spec.Name}]
		if !linked {
			continue
		}
		b, ok := produced[src]
		if !ok {
			if spec.Optional {
				continue
			}
			return nil, failure.GraphConstruction(s.Name(), fmt.Errorf("%w: %s.%s (source %s produced nothing)", ErrUnconnectedRequiredInput, s.Name(), spec.Name, src))
		}
		if !port.Compatible(b.Kind, spec.Kind) {
			return nil, failure.GraphConstruction(s.Name(), fmt.Errorf("%w: %s bound %s to %s.%s (%s)", ErrPortTypeMismatch, src, b.Kind, s.Name(), spec.Name, spec.Kind))
		}
		sin[spec.Name] = b
	}
	return sin, nil
}

// checkOutputs enforces the fixed output contract of s.
func checkOutputs(s stage.Stage, outs port.Bindings) error {
	for name := range outs {
		if _, ok := port.Lookup(s.Outputs(), name); !ok {
			return failure.GraphConstruction(s.Name(), fmt.Errorf("%w: stage bound undeclared output %q", ErrUnknownPort, name))
		}
	}
	for _, spec := range s.Outputs() {
		if _, ok := outs[spec.Name]; !ok && !spec.Optional {
			return failure.GraphConstruction(s.Name(), fmt.Errorf("%w: stage did not bind output %q", ErrUnboundOutput, spec.Name))
		}
	}
	return nil
}

// unitNodes returns the nodes built directly by the stage at senv, not
// those of stages nested inside it.
func unitNodes(sg *stage.Subgraph, senv stage.Env) []nodeid.Address {
	var ids []nodeid.Address
	for _, n := range sg.Nodes {
		if n.Stage == senv.ID() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Completion implements stage.Stage. A pipeline is never reused as a
// whole; each of its stages decides for itself.
func (p *Pipeline) Completion(env stage.Env) stage.Completion {
	return stage.Completion{}
}

// HasCompleted reports whether every stage of the pipeline has completed.
func (p *Pipeline) HasCompleted(ctx context.Context, l ledger.Ledger, env stage.Env) bool {
	if len(p.stages) == 0 {
		return false
	}
	for _, s := range p.stages {
		if !s.HasCompleted(ctx, l, env.Child(s.Name())) {
			return false
		}
	}
	return true
}
