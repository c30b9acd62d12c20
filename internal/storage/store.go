// Package storage defines the node-level storage abstraction a shard runs
// its graph against, and provides two concrete backends: an in-memory one
// for tests and small clusters, and a badger-backed one for data that must
// survive a restart.
package storage

import (
	"errors"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// ErrNodeNotFound is returned when a handle this shard does not (or no
// longer) own is looked up.
var ErrNodeNotFound = errors.New("storage: node not found")

// NodeStore is the per-shard storage contract: node lookup and creation,
// and a property-graph-shaped iteration surface over what a shard owns. All
// implementations must be safe for concurrent use; nodeprog's Dispatcher
// relies on GetOrCreate returning the same *graph.Node pointer across calls
// for a given handle so state mutations made under one call are visible to
// the next.
type NodeStore interface {
	// GetOrCreate returns the node for handle, creating it stamped at
	// createdAt if it does not already exist.
	GetOrCreate(handle uint64, createdAt vclock.Clock) *graph.Node
	// Get returns the node for handle, or ErrNodeNotFound if this store
	// never held it.
	Get(handle uint64) (*graph.Node, error)
	// Delete soft-deletes the node stamped at deletedAt. Deleting a node
	// that does not exist is a no-op, matching the tombstone model: a
	// delete of something already gone leaves no further trace.
	Delete(handle uint64, deletedAt vclock.Clock) error
	// Handles returns every handle this store currently holds, live or
	// tombstoned, in no particular order.
	Handles() []uint64
	// PurgeDeletedBefore permanently removes every node (and the edges it
	// owns) whose DeletedAt is at or before cutoff (vclock.LessOrEqual), freeing storage that no
	// live or future request can ever observe again.
	PurgeDeletedBefore(cutoff vclock.Clock) int
	// Close releases any resources the store holds (file handles, open
	// database connections). A store that needs none is a no-op.
	Close() error
}

// MemoryStore implements NodeStore entirely in heap memory, with no
// persistence across restarts. It is the default backend for tests and for
// clusters where losing a shard's contents on crash is acceptable.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[uint64]*graph.Node

	// creates collapses concurrent GetOrCreate calls for the same handle
	// into one creation: two goroutines racing to dispatch a program to a
	// handle neither shard has seen yet should not both pay the creation
	// path.
	creates singleflight.Group
}

// NewMemoryStore returns an empty in-memory node store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[uint64]*graph.Node)}
}

func (m *MemoryStore) GetOrCreate(handle uint64, createdAt vclock.Clock) *graph.Node {
	v, _, _ := m.creates.Do(strconv.FormatUint(handle, 10), func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		n, ok := m.nodes[handle]
		if !ok {
			n = graph.NewNode(handle, createdAt)
			m.nodes[handle] = n
		}
		return n, nil
	})
	return v.(*graph.Node)
}

func (m *MemoryStore) Get(handle uint64) (*graph.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[handle]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

func (m *MemoryStore) Delete(handle uint64, deletedAt vclock.Clock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[handle]
	if !ok {
		return nil
	}
	stamp := deletedAt
	n.DeletedAt = &stamp
	return nil
}

func (m *MemoryStore) Handles() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.nodes))
	for h := range m.nodes {
		out = append(out, h)
	}
	return out
}

func (m *MemoryStore) PurgeDeletedBefore(cutoff vclock.Clock) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for h, n := range m.nodes {
		if n.DeletedAt != nil && vclock.LessOrEqual(*n.DeletedAt, cutoff) {
			delete(m.nodes, h)
			purged++
		}
	}
	return purged
}

func (m *MemoryStore) Close() error { return nil }
