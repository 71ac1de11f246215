package node

import "time"

// Result describes one finished tool invocation.
type Result struct {
	ExitCode int
	Started  time.Time
	Finished time.Time
	// Diagnostic is the tail of the tool's stderr, kept verbatim.
	Diagnostic string
}

// Duration returns the wall time of the invocation.
func (r Result) Duration() time.Duration {
	if r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
