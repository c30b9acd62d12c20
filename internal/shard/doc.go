// Package shard implements the fundamental storage unit for Weaver's
// distributed property graph: a self-contained, thread-safe partition of
// the node table, generalized from the teacher's flat key-value partition
// to a node/edge graph one.
//
// # Overview
//
// A Shard owns a deterministic subset of node handles (by FNV-1a hash modulo
// the shard count, same scheme as the teacher's OwnsKey), a storage.NodeStore, and a
// nodeprog.Dispatcher. It is the only thing that ever mutates the nodes it
// owns: every graph-mutation request (CreateNode, CreateEdge, DeleteNode,
// DeleteEdge, AddEdgeProperty, DeleteEdgeProperty) and every node-program
// dispatch for a locally owned handle goes through it.
//
// # Concurrency
//
// A single shard-wide mutex guards node mutation and is held for the whole
// of each dispatch; the per-request program-state table (StateSlot/
// DropRequest) has a mutex of its own. This is coarser than locking
// per node, traded for simplicity: a shard's working set is small enough,
// and dispatch cycles short enough, that the difference is not worth a
// striped or per-node lock. Statistics are atomic counters, read without
// the mutex.
//
// # State machine
//
// A shard records a ShardState (active, migrating or deleted), set through
// SetState. No method of Shard consults it: reads, dispatch and mutations
// are served the same way in every state.
package shard
