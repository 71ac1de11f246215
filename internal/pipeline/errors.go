package pipeline

import "errors"

var (
	// ErrPortTypeMismatch is returned when connecting ports of incompatible kinds.
	ErrPortTypeMismatch = errors.New("port type mismatch")
	// ErrDuplicateConnection is returned when a destination port is already bound.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrUnconnectedRequiredInput is returned by Build when a required
	// stage input is left without a source.
	ErrUnconnectedRequiredInput = errors.New("unconnected required input")
	// ErrUnboundOutput is returned by Build when a required pipeline
	// output is not produced.
	ErrUnboundOutput  = errors.New("unbound pipeline output")
	ErrUnknownStage   = errors.New("unknown stage")
	ErrUnknownPort    = errors.New("unknown port")
	ErrDuplicateStage = errors.New("duplicate stage")
	// ErrStageOrder is returned when a connection would feed a stage from
	// one declared after it.
	ErrStageOrder = errors.New("source stage must be declared before destination")
	ErrCycle      = errors.New("dependency cycle")
)
