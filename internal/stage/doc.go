// Package stage defines the orchestration unit: a Stage owns one
// configuration object, declares named input and output ports, and
// expands into a subgraph of concrete nodes for the branch its
// discriminant options select.
//
// Expansion is a pure, synchronous function of the stage's configuration,
// its Env and its input bindings. It performs no I/O, and nodes for
// unselected branches are never constructed.
package stage
