// Package storage defines the per-shard node storage abstraction and its
// two concrete backends.
//
// # Overview
//
// A shard owns a NodeStore: the thing that actually holds graph.Node values
// in whatever form the backend chooses, while the rest of the shard
// (nodeprog dispatch, edge/property mutation handlers) only ever sees the
// interface. Swapping MemoryStore for BadgerStore changes nothing above
// this package.
//
//	Dispatcher / shard handlers
//	          │
//	          ▼
//	      NodeStore
//	     /         \
//	MemoryStore   BadgerStore
//
// # Implementations
//
// MemoryStore keeps every node in a Go map behind a sync.RWMutex. Nothing
// survives a restart; this is the default for tests and for shards where
// losing state on crash is acceptable.
//
// BadgerStore layers the same in-memory working set over an embedded
// badger database (github.com/dgraph-io/badger/v4), loading every row at
// open time and mirroring every creation, deletion, and explicit Save back
// to disk. It is what the teacher's storage layer's "future: RocksDB,
// BadgerDB, or an embedded graph store like Kuzu" comment was pointing at.
//
// # Concurrency
//
// Both implementations guarantee the same thing nodeprog's Dispatcher
// relies on: GetOrCreate returns a stable *graph.Node pointer for a given
// handle across calls, so mutations one caller makes under a node's lock
// are visible to the next caller that locks the same handle. Locking the
// node itself (as opposed to the store's internal map) is shard's
// responsibility, not NodeStore's.
package storage
