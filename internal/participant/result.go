package participant

import (
	"time"

	"github.com/specialistvlad/connectogrid/internal/executor"
)

// Status is the final outcome of one subject.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one subject. For a failed subject Stage and
// Node identify the first failure and Diagnostic carries the tool's raw
// output; Node is empty when the run failed before any node was built.
type Result struct {
	Subject    string
	Status     Status
	Kind       string
	Stage      string
	Node       string
	Diagnostic string
	Err        error
	Duration   time.Duration
	// Report is nil when the subject never reached execution.
	Report *executor.Report
}

// Summary aggregates the results of a Run in subject order.
type Summary struct {
	Results  []Result
	Duration time.Duration
}

// Count returns the number of subjects with status st.
func (s *Summary) Count(st Status) int {
	c := 0
	for _, r := range s.Results {
		if r.Status == st {
			c++
		}
	}
	return c
}

// OK reports whether every subject succeeded.
func (s *Summary) OK() bool {
	return s.Count(StatusSucceeded) == len(s.Results)
}

// Result returns the result of subject.
func (s *Summary) Result(subject string) (Result, bool) {
	for _, r := range s.Results {
		if r.Subject == subject {
			return r, true
		}
	}
	return Result{}, false
}
