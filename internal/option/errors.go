package option

import "errors"

var (
	// ErrInvalidOption is returned for option names the object does not declare.
	ErrInvalidOption = errors.New("invalid option")
	// ErrInvalidValue is returned when a value falls outside the option's domain.
	ErrInvalidValue = errors.New("invalid value")
	// ErrDependencyUnavailable is returned when a derived option cannot be
	// recomputed because the external state it depends on is unavailable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrReadOnly is returned when setting a derived option directly.
	ErrReadOnly = errors.New("option is derived and cannot be set")
	// ErrFrozen is returned by Set once the object has been frozen for expansion.
	ErrFrozen = errors.New("configuration is frozen")
)
