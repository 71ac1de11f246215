// Package scheduler decides which nodes of a subject's DAG may run next.
// It tracks unsatisfied dependencies, releases a node once every upstream
// node has completed, and skips everything downstream of a node that
// failed or was skipped so independent branches can still finish.
package scheduler
