package executor

import (
	"github.com/specialistvlad/connectogrid/internal/node"
)

// StageState is the execution-state flag of a stage. It only moves
// forward: not-run, running, then completed or failed.
type StageState int

const (
	StageNotRun StageState = iota
	StageRunning
	StageCompleted
	StageFailed
)

func (s StageState) String() string {
	switch s {
	case StageNotRun:
		return "not-run"
	case StageRunning:
		return "running"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeReport is the final state of one node.
type NodeReport struct {
	ID     string
	Stage  string
	Tool   string
	Status node.Status
	Result node.Result
	Err    error
}

// Report summarizes one execution.
type Report struct {
	Subject string
	// Nodes are in DAG order.
	Nodes []NodeReport
	// Stages maps the canonical stage address to its state.
	Stages map[string]StageState
	// Recorded lists the stages written to the run ledger, in the order
	// they completed.
	Recorded []string
}

// FirstFailure returns the first failed node in DAG order.
func (r *Report) FirstFailure() (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.Status == node.StatusFailed {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Count returns the number of nodes in status s.
func (r *Report) Count(s node.Status) int {
	c := 0
	for _, n := range r.Nodes {
		if n.Status == s {
			c++
		}
	}
	return c
}

// StageStates derives each stage's state from its nodes. A stage fails if
// any node failed and completes only if every node completed; a stage with
// some but not all nodes finished is still running.
func StageStates(nodes []NodeReport) map[string]StageState {
	type tally struct{ total, completed, started, failed int }
	counts := make(map[string]*tally)
	for _, n := range nodes {
		t, ok := counts[n.Stage]
		if !ok {
			t = &tally{}
			counts[n.Stage] = t
		}
		t.total++
		switch n.Status {
		case node.StatusCompleted:
			t.completed++
			t.started++
		case node.StatusRunning:
			t.started++
		case node.StatusFailed:
			t.failed++
		}
	}

	states := make(map[string]StageState, len(counts))
	for stage, t := range counts {
		switch {
		case t.failed > 0:
			states[stage] = StageFailed
		case t.completed == t.total:
			states[stage] = StageCompleted
		case t.started > 0:
			states[stage] = StageRunning
		default:
			states[stage] = StageNotRun
		}
	}
	return states
}
