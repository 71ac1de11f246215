// Package inmemorystore provides a thread-safe, in-memory implementation
// of the nodestore.Store interface. Node state only lives as long as one
// subject's session, so nothing is persisted.
package inmemorystore
