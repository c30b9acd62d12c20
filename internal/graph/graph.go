// Package graph defines the versioned property-graph entities a shard
// stores — nodes, edges, properties, and remote-node handles — along with
// the vector-clock visibility predicate a running node program uses to
// decide what exists at its logical instant.
//
// Every entity here is a plain value or a struct behind a pointer owned by
// its containing node; a RemoteNode is the only thing that crosses shard
// boundaries, and it is a bare identifier, never an owning reference. The
// graph is logically cyclic through RemoteNode handles, but the
// object-ownership graph never is.
package graph

import "github.com/theseusyang/weaver/internal/vclock"

// RemoteNode globally identifies a node: the shard that (is believed to)
// own it, and the node's id within that shard. Copying a RemoteNode is free
// and implies no lifetime relationship with the node it names.
type RemoteNode struct {
	Loc    int    // shard id
	Handle uint64 // node id, unique within that shard
}

// Property is an opaque key/value pair stamped with the vector clock at
// which it was added and, if it has since been removed, the clock at which
// that happened.
type Property struct {
	Key       string
	Value     []byte
	CreatedAt vclock.Clock
	DeletedAt *vclock.Clock // nil means never deleted
}

// Visible reports whether p exists from the point of view of a request
// observing the graph at clock req.
func (p Property) Visible(req vclock.Clock) bool {
	return visible(p.CreatedAt, p.DeletedAt, req)
}

// Edge is a directed edge owned exclusively by its source node; Edge values
// are only ever reached through a Node's OutEdges/InEdges maps, never held
// independently.
type Edge struct {
	ID         uint64
	CreatedAt  vclock.Clock
	DeletedAt  *vclock.Clock
	Properties []Property
	Neighbor   RemoteNode
}

// Visible reports whether the edge exists from the point of view of a
// request observing the graph at clock req.
func (e *Edge) Visible(req vclock.Clock) bool {
	return visible(e.CreatedAt, e.DeletedAt, req)
}

// Node is a versioned vertex resident on exactly one shard at a time. Its
// out-edge map is populated iff this shard currently owns the node; its
// in-edge map records edges other shards' nodes have pointed at it, kept
// for reverse-traversal and reference counting during migration.
type Node struct {
	ID            uint64
	CreatedAt     vclock.Clock
	DeletedAt     *vclock.Clock
	Properties    []Property
	OutEdges      map[uint64]*Edge
	InEdges       map[uint64]*Edge
	UpdateCount   uint64
	MessageCount  uint64
}

// NewNode constructs a node created at clock createdAt, with empty edge
// maps ready for population.
func NewNode(id uint64, createdAt vclock.Clock) *Node {
	return &Node{
		ID:        id,
		CreatedAt: createdAt,
		OutEdges:  make(map[uint64]*Edge),
		InEdges:   make(map[uint64]*Edge),
	}
}

// Visible reports whether the node exists from the point of view of a
// request observing the graph at clock req.
func (n *Node) Visible(req vclock.Clock) bool {
	return visible(n.CreatedAt, n.DeletedAt, req)
}

// visible implements MVCC visibility: an entity is visible to a request
// with clock req iff it was created at or before req and either has no
// deletion clock or was deleted strictly after req.
func visible(createdAt vclock.Clock, deletedAt *vclock.Clock, req vclock.Clock) bool {
	if !vclock.LessOrEqual(createdAt, req) {
		return false
	}
	if deletedAt == nil {
		return true
	}
	return vclock.Compare(*deletedAt, req) == vclock.After
}

// VisibleOutEdges returns the subset of n's outgoing edges visible to a
// request observing the graph at clock req. It is the helper node programs
// call to decide which edges to traverse.
func VisibleOutEdges(n *Node, req vclock.Clock) []*Edge {
	var out []*Edge
	for _, e := range n.OutEdges {
		if e.Visible(req) {
			out = append(out, e)
		}
	}
	return out
}

// VisibleInEdges is the symmetric helper for incoming edges.
func VisibleInEdges(n *Node, req vclock.Clock) []*Edge {
	var out []*Edge
	for _, e := range n.InEdges {
		if e.Visible(req) {
			out = append(out, e)
		}
	}
	return out
}

// VisibleProperties returns the subset of a property set visible to a
// request observing the graph at clock req.
func VisibleProperties(props []Property, req vclock.Clock) []Property {
	var out []Property
	for _, p := range props {
		if p.Visible(req) {
			out = append(out, p)
		}
	}
	return out
}

// AddProperty appends a newly-created property to props, stamped at
// createdAt, and returns the updated slice.
func AddProperty(props []Property, key string, value []byte, createdAt vclock.Clock) []Property {
	return append(props, Property{Key: key, Value: value, CreatedAt: createdAt})
}

// DeleteProperty soft-deletes every still-live property matching key by
// stamping it with deletedAt, returning how many were stamped.
func DeleteProperty(props []Property, key string, deletedAt vclock.Clock) int {
	n := 0
	for i := range props {
		if props[i].Key == key && props[i].DeletedAt == nil {
			stamp := deletedAt
			props[i].DeletedAt = &stamp
			n++
		}
	}
	return n
}
