// Package failure defines the error categories reported by the
// orchestration core. Every error that crosses a package boundary on its
// way to the participant report is wrapped in an *Error carrying its Kind
// and the stage or node that produced it.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how the engine must react to it.
type Kind int

const (
	// KindConfiguration marks invalid or contradictory options. Raised before
	// any Node is built.
	KindConfiguration Kind = iota + 1
	// KindGraphConstruction marks unconnected or mismatched ports.
	KindGraphConstruction
	// KindExecution marks a failed external tool invocation.
	KindExecution
	// KindResumability marks a ledger/artifact inconsistency. It is logged
	// as a warning and never aborts a run.
	KindResumability
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindGraphConstruction:
		return "GraphConstructionError"
	case KindExecution:
		return "ExecutionError"
	case KindResumability:
		return "ResumabilityError"
	default:
		return "UnknownError"
	}
}

// Error is a categorized error. Stage and Node are set when known;
// Diagnostic holds raw tool output for execution failures.
type Error struct {
	Kind       Kind
	Stage      string
	Node       string
	Diagnostic string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Stage != "" {
		fmt.Fprintf(&sb, " in stage %q", e.Stage)
	}
	if e.Node != "" {
		fmt.Fprintf(&sb, " at node %q", e.Node)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a ConfigurationError attributed to stage.
func Configuration(stage string, err error) error {
	return wrap(KindConfiguration, stage, err)
}

// GraphConstruction wraps err as a GraphConstructionError attributed to stage.
func GraphConstruction(stage string, err error) error {
	return wrap(KindGraphConstruction, stage, err)
}

// Resumability wraps err as a ResumabilityError attributed to stage.
func Resumability(stage string, err error) error {
	return wrap(KindResumability, stage, err)
}

// Execution builds an ExecutionError for a failed node.
func Execution(stage, node, diagnostic string, err error) error {
	return &Error{Kind: KindExecution, Stage: stage, Node: node, Diagnostic: diagnostic, Err: err}
}

// wrap keeps the innermost categorized error: an error that already
// carries a Kind is returned unchanged so the original stage name survives
// nesting.
func wrap(kind Kind, stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf reports the Kind of the first categorized error in err's chain,
// or zero when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// As returns the first categorized error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}
