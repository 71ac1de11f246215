package option

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Aggregate exposes the configurations of several named children under
// dotted names ("segmentation.make_isotropic"). Pipelines use it to
// present the options of every nested stage as one Config.
type Aggregate struct {
	order    []string
	children map[string]Config
}

// NewAggregate returns an empty Aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{children: make(map[string]Config)}
}

// Add registers c under prefix. A later Add with the same prefix replaces
// the earlier child.
func (a *Aggregate) Add(prefix string, c Config) {
	if _, ok := a.children[prefix]; !ok {
		a.order = append(a.order, prefix)
	}
	a.children[prefix] = c
}

// Child returns the configuration registered under prefix.
func (a *Aggregate) Child(prefix string) (Config, bool) {
	c, ok := a.children[prefix]
	return c, ok
}

func (a *Aggregate) route(name string) (Config, string, error) {
	prefix, rest, ok := strings.Cut(name, ".")
	if !ok {
		return nil, "", fmt.Errorf("%w: %q is not qualified by a stage name", ErrInvalidOption, name)
	}
	c, found := a.children[prefix]
	if !found {
		return nil, "", fmt.Errorf("%w: no stage %q", ErrInvalidOption, prefix)
	}
	return c, rest, nil
}

// Get returns the value of a dotted option name.
func (a *Aggregate) Get(name string) (cty.Value, error) {
	c, rest, err := a.route(name)
	if err != nil {
		return cty.NilVal, err
	}
	return c.Get(rest)
}

// Set sets a dotted option name on the owning child.
func (a *Aggregate) Set(name string, v cty.Value) error {
	c, rest, err := a.route(name)
	if err != nil {
		return err
	}
	return c.Set(rest, v)
}

// Names lists every option of every child, qualified by its prefix.
func (a *Aggregate) Names() []string {
	var names []string
	for _, p := range a.order {
		for _, n := range a.children[p].Names() {
			names = append(names, p+"."+n)
		}
	}
	return names
}

// Freeze freezes every child.
func (a *Aggregate) Freeze() {
	for _, p := range a.order {
		a.children[p].Freeze()
	}
}
