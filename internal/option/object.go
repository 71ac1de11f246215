package option

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Config is the surface shared by a single stage's Object and a
// pipeline's Aggregate.
type Config interface {
	Get(name string) (cty.Value, error)
	Set(name string, v cty.Value) error
	Names() []string
	Freeze()
}

// Derivation recomputes Targets whenever any of Sources changes. Compute
// receives the candidate values (with the pending change applied) and
// returns the new value for each target.
type Derivation struct {
	Sources []string
	Targets []string
	Compute func(Values) (map[string]cty.Value, error)
}

// Object is the configuration of a single stage.
type Object struct {
	name        string
	mu          sync.RWMutex
	order       []string
	defs        map[string]Option
	derived     map[string]bool
	derivations []Derivation
	values      map[string]cty.Value
	frozen      bool
}

// New builds an Object from its option declarations. Derivations run once
// against the defaults so that derived options are consistent from the
// start.
func New(name string, opts []Option, derivations ...Derivation) (*Object, error) {
	o := &Object{
		name:        name,
		defs:        make(map[string]Option, len(opts)),
		derived:     make(map[string]bool),
		derivations: derivations,
		values:      make(map[string]cty.Value, len(opts)),
	}

	for _, opt := range opts {
		if _, dup := o.defs[opt.Name]; dup {
			return nil, fmt.Errorf("option %q declared twice in %q", opt.Name, name)
		}
		def, err := convert.Convert(opt.Default, opt.Type)
		if err != nil {
			return nil, fmt.Errorf("default of %q: %w", opt.Name, err)
		}
		if !opt.MustExist {
			if err := opt.validate(def); err != nil {
				return nil, fmt.Errorf("default of %q: %w", opt.Name, err)
			}
		}
		o.defs[opt.Name] = opt
		o.order = append(o.order, opt.Name)
		o.values[opt.Name] = def
	}

	for i, d := range derivations {
		for _, n := range slices.Concat(d.Sources, d.Targets) {
			if _, ok := o.defs[n]; !ok {
				return nil, fmt.Errorf("derivation %d of %q references undeclared option %q", i, name, n)
			}
		}
		for _, t := range d.Targets {
			o.derived[t] = true
		}
	}

	next, err := o.recompute(maps.Clone(o.values), func(Derivation) bool { return true })
	if err != nil {
		return nil, err
	}
	o.values = next
	return o, nil
}

// MustNew is New for statically declared option sets; it panics on error.
func MustNew(name string, opts []Option, derivations ...Derivation) *Object {
	o, err := New(name, opts, derivations...)
	if err != nil {
		panic(err)
	}
	return o
}

// Name returns the name of the owning stage.
func (o *Object) Name() string { return o.name }

// Names returns the declared option names in declaration order.
func (o *Object) Names() []string { return slices.Clone(o.order) }

// Option returns the declaration of name.
func (o *Object) Option(name string) (Option, bool) {
	opt, ok := o.defs[name]
	return opt, ok
}

// Get returns the current value of name.
func (o *Object) Get(name string) (cty.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	v, ok := o.values[name]
	if !ok {
		return cty.NilVal, fmt.Errorf("%w: %q is not an option of %q", ErrInvalidOption, name, o.name)
	}
	return v, nil
}

// Set validates v against the option's domain, recomputes every derived
// option that depends on it, and commits all changes at once.
func (o *Object) Set(name string, v cty.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.frozen {
		return fmt.Errorf("%w: cannot set %q on %q", ErrFrozen, name, o.name)
	}
	def, ok := o.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidOption, name, o.name)
	}
	if o.derived[name] {
		return fmt.Errorf("%w: %q", ErrReadOnly, name)
	}

	conv, err := convert.Convert(v, def.Type)
	if err != nil {
		return fmt.Errorf("%w: %q expects %s: %w", ErrInvalidValue, name, def.Type.FriendlyName(), err)
	}
	if err := def.validate(conv); err != nil {
		return err
	}

	next := maps.Clone(o.values)
	next[name] = conv
	changed := map[string]bool{name: true}

	next, err = o.recompute(next, func(d Derivation) bool {
		hit := slices.ContainsFunc(d.Sources, func(s string) bool { return changed[s] })
		if hit {
			for _, t := range d.Targets {
				changed[t] = true
			}
		}
		return hit
	})
	if err != nil {
		return err
	}

	o.values = next
	return nil
}

// recompute runs, in declaration order, every derivation selected by run,
// writing its results into next.
func (o *Object) recompute(next map[string]cty.Value, run func(Derivation) bool) (map[string]cty.Value, error) {
	for _, d := range o.derivations {
		if !run(d) {
			continue
		}
		out, err := d.Compute(Values(next))
		if err != nil {
			return nil, fmt.Errorf("%w: recomputing %v of %q: %w", ErrDependencyUnavailable, d.Targets, o.name, err)
		}
		for _, t := range d.Targets {
			val, ok := out[t]
			if !ok {
				return nil, fmt.Errorf("%w: derivation did not produce %q", ErrDependencyUnavailable, t)
			}
			def := o.defs[t]
			conv, err := convert.Convert(val, def.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: derived %q: %w", ErrInvalidValue, t, err)
			}
			if err := def.validate(conv); err != nil {
				return nil, fmt.Errorf("derived %q: %w", t, err)
			}
			next[t] = conv
		}
	}
	return next, nil
}

// Values returns a snapshot of all current values.
func (o *Object) Values() Values {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Values(maps.Clone(o.values))
}

// Freeze makes the object immutable. It is idempotent.
func (o *Object) Freeze() {
	o.mu.Lock()
	o.frozen = true
	o.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (o *Object) Frozen() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.frozen
}
