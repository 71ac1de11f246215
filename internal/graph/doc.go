// Package graph provides a unified facade over the execution graph of one
// subject, combining static topology (DAG structure) and dynamic state
// (execution status).
//
// # Architecture
//
// The Graph is a thin facade over two specialized stores:
//
//	┌─────────────────────────────────────┐
//	│           Graph Facade              │
//	│  (Unified API for executor/         │
//	│   scheduler to query & update)      │
//	└──────────┬────────────┬─────────────┘
//	           │            │
//	           ▼            ▼
//	  ┌────────────┐  ┌────────────┐
//	  │  Topology  │  │ Node State │
//	  │   Store    │  │   Store    │
//	  │ (Structure)│  │  (Status)  │
//	  └────────────┘  └────────────┘
//
// **Topology Store** (topologystore.Store) holds the nodes and dependency
// edges of the built DAG. It is written once by Populate and only read
// afterwards.
//
// **Node Store** (nodestore.Store) holds status, tool results and errors,
// and is updated through the Mark* methods as nodes run.
//
// # Usage Patterns
//
// The scheduler finds ready nodes:
//
//	for _, n := range g.AllNodes(ctx) {
//	    deps, _ := g.DependenciesOf(ctx, n.ID)
//	    status, _ := g.NodeStatus(ctx, n.ID)
//	    // a Pending node whose deps are all Completed is ready
//	}
//
// The executor records what happened:
//
//	g.MarkRunning(ctx, n.ID)
//	res, err := runner.Run(ctx, n)
//	if err != nil {
//	    g.MarkFailed(ctx, n.ID, res, err)
//	} else {
//	    g.MarkCompleted(ctx, n.ID, res)
//	}
//
// # Thread-Safety
//
// All Graph methods are thread-safe; Manager delegates to the thread-safe
// stores and uses compare-and-set for every status transition.
package graph
