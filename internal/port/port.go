// Package port describes the typed, named inputs and outputs through which
// stages are wired together, and the bindings that carry concrete
// artifact paths across those connections.
package port

import (
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/nodeid"
)

// Kind is the semantic type of the data flowing through a port.
type Kind string

const (
	Volume     Kind = "volume"
	Surface    Kind = "surface"
	Directory  Kind = "directory"
	Text       Kind = "text"
	Gradients  Kind = "gradients"
	Tractogram Kind = "tractogram"
	Matrix     Kind = "matrix"
	TimeSeries Kind = "timeseries"
	// Any is compatible with every kind.
	Any Kind = "any"
)

// Compatible reports whether data of kind src may feed a port of kind dst.
func Compatible(src, dst Kind) bool {
	return src == dst || src == Any || dst == Any
}

// Spec declares one named port of a stage.
type Spec struct {
	Name     string
	Kind     Kind
	Optional bool
}

// Required declares a required port.
func Required(name string, kind Kind) Spec {
	return Spec{Name: name, Kind: kind}
}

// Optional declares a port that may stay unbound.
func Optional(name string, kind Kind) Spec {
	return Spec{Name: name, Kind: kind, Optional: true}
}

// Lookup finds the spec named name.
func Lookup(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Binding is the concrete value behind a port: an artifact path or a
// literal such as a subject ID. When Producer is set the value is written
// by that node, and anything consuming the binding depends on it.
type Binding struct {
	Kind     Kind
	Value    string
	Producer *nodeid.Address
	Slot     string
}

// External binds a value that already exists outside the DAG: raw input
// data, or artifacts reused from a previous run.
func External(kind Kind, value string) Binding {
	return Binding{Kind: kind, Value: value}
}

// IsExternal reports whether no node in the DAG produces the binding.
func (b Binding) IsExternal() bool {
	return b.Producer == nil
}

func (b Binding) String() string {
	if b.IsExternal() {
		return fmt.Sprintf("%s(%s)", b.Kind, b.Value)
	}
	return fmt.Sprintf("%s(%s.%s -> %s)", b.Kind, b.Producer, b.Slot, b.Value)
}

// Bindings maps port names to their bindings.
type Bindings map[string]Binding

// Value returns the value bound to name, or "" when unbound.
func (b Bindings) Value(name string) string {
	return b[name].Value
}
