// Package inmemorytopology provides a thread-safe, in-memory implementation
// of the topologystore.Store interface. A subject's DAG is a few hundred
// nodes at most, so it always fits comfortably in memory.
package inmemorytopology
