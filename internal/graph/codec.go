package graph

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/vclock"
)

// SizeClock, PackClock, and UnpackClock give vector clocks codec support;
// they live here rather than in package vclock to keep that package free of
// a dependency on the wire format.

// SizeClock returns the encoded size of a vector clock: a count prefix plus
// one uint64 per counter. The Origin field is not part of the wire form —
// it only matters for the local tie-break and is never compared across
// processes — so it is not encoded.
func SizeClock(c vclock.Clock) int {
	return codec.SizeOfUint64 + len(c.Counters)*codec.SizeOfUint64
}

// PackClock encodes a vector clock as (count, counter_0, …, counter_n-1).
func PackClock(w *codec.Writer, c vclock.Clock) {
	codec.PackSlice(w, c.Counters, func(w *codec.Writer, v uint64) { w.PutUint64(v) })
}

// UnpackClock decodes a vector clock. Origin is left at zero; callers that
// need a particular origin (e.g. when re-stamping a freshly received clock
// as "this shard's view") set it explicitly afterward.
func UnpackClock(r *codec.Reader) (vclock.Clock, error) {
	counters, err := codec.UnpackSlice(r, func(r *codec.Reader) (uint64, error) { return r.Uint64() })
	if err != nil {
		return vclock.Clock{}, err
	}
	return vclock.Clock{Counters: counters}, nil
}

// SizeOptionalClock returns the encoded size of a possibly-absent deletion
// clock: a presence flag plus the clock itself when present.
func SizeOptionalClock(c *vclock.Clock) int {
	if c == nil {
		return codec.SizeOfBool
	}
	return codec.SizeOfBool + SizeClock(*c)
}

// PackOptionalClock encodes a possibly-absent deletion clock as a presence
// flag followed by the clock when present.
func PackOptionalClock(w *codec.Writer, c *vclock.Clock) {
	w.PutBool(c != nil)
	if c != nil {
		PackClock(w, *c)
	}
}

// UnpackOptionalClock decodes a possibly-absent deletion clock.
func UnpackOptionalClock(r *codec.Reader) (*vclock.Clock, error) {
	present, err := r.Bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	c, err := UnpackClock(r)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SizeRemoteNode returns the encoded size of a remote-node handle: a shard
// id and a node id.
func SizeRemoteNode(RemoteNode) int {
	return codec.SizeOfUint32 + codec.SizeOfUint64
}

// PackRemoteNode encodes a remote-node handle as (shard-id, node-id).
func PackRemoteNode(w *codec.Writer, rn RemoteNode) {
	w.PutUint32(uint32(rn.Loc))
	w.PutUint64(rn.Handle)
}

// UnpackRemoteNode decodes a remote-node handle.
func UnpackRemoteNode(r *codec.Reader) (RemoteNode, error) {
	loc, err := r.Uint32()
	if err != nil {
		return RemoteNode{}, err
	}
	handle, err := r.Uint64()
	if err != nil {
		return RemoteNode{}, err
	}
	return RemoteNode{Loc: int(loc), Handle: handle}, nil
}

// SizeProperty returns the encoded size of a property: its opaque key and
// value, its creation clock, and its optional deletion clock.
func SizeProperty(p Property) int {
	return codec.SizeString(p.Key) + codec.SizeBytes(len(p.Value)) +
		SizeClock(p.CreatedAt) + SizeOptionalClock(p.DeletedAt)
}

// PackProperty encodes a property as (key, value, creation-vc, deletion-vc).
func PackProperty(w *codec.Writer, p Property) {
	w.PutString(p.Key)
	w.PutBytes(p.Value)
	PackClock(w, p.CreatedAt)
	PackOptionalClock(w, p.DeletedAt)
}

// UnpackProperty decodes a property.
func UnpackProperty(r *codec.Reader) (Property, error) {
	key, err := r.String()
	if err != nil {
		return Property{}, err
	}
	value, err := r.Bytes()
	if err != nil {
		return Property{}, err
	}
	valueCopy := append([]byte(nil), value...)
	createdAt, err := UnpackClock(r)
	if err != nil {
		return Property{}, err
	}
	deletedAt, err := UnpackOptionalClock(r)
	if err != nil {
		return Property{}, err
	}
	return Property{Key: key, Value: valueCopy, CreatedAt: createdAt, DeletedAt: deletedAt}, nil
}

// SizeProperties returns the encoded size of a property set.
func SizeProperties(props []Property) int {
	return codec.SizeSlice(props, SizeProperty)
}

// PackProperties encodes a property set as (count, prop_0, …).
func PackProperties(w *codec.Writer, props []Property) {
	codec.PackSet(w, props, PackProperty)
}

// UnpackProperties decodes a property set.
func UnpackProperties(r *codec.Reader) ([]Property, error) {
	return codec.UnpackSet(r, UnpackProperty)
}

// SizeEdge returns the encoded size of an edge: its creation/deletion
// clocks, its properties, and its neighbor handle. The edge id is not part
// of the edge body — it travels alongside the body as the key of the owning
// node's edge map (see packEdgeMap/unpackEdgeMap).
func SizeEdge(e *Edge) int {
	return SizeClock(e.CreatedAt) + SizeOptionalClock(e.DeletedAt) +
		SizeProperties(e.Properties) + SizeRemoteNode(e.Neighbor)
}

// PackEdge encodes an edge as (creation-vc, deletion-vc, properties,
// neighbor-handle).
func PackEdge(w *codec.Writer, e *Edge) {
	PackClock(w, e.CreatedAt)
	PackOptionalClock(w, e.DeletedAt)
	PackProperties(w, e.Properties)
	PackRemoteNode(w, e.Neighbor)
}

// UnpackEdge decodes an edge body; the caller supplies the edge id since it
// travels alongside the edge in its owning map, not inside the edge body
// itself.
func UnpackEdge(r *codec.Reader, id uint64) (*Edge, error) {
	createdAt, err := UnpackClock(r)
	if err != nil {
		return nil, err
	}
	deletedAt, err := UnpackOptionalClock(r)
	if err != nil {
		return nil, err
	}
	props, err := UnpackProperties(r)
	if err != nil {
		return nil, err
	}
	neighbor, err := UnpackRemoteNode(r)
	if err != nil {
		return nil, err
	}
	return &Edge{ID: id, CreatedAt: createdAt, DeletedAt: deletedAt, Properties: props, Neighbor: neighbor}, nil
}

func sizeEdgeMap(m map[uint64]*Edge) int {
	total := codec.SizeOfUint64
	for _, e := range m {
		total += codec.SizeOfUint64 + SizeEdge(e)
	}
	return total
}

func packEdgeMap(w *codec.Writer, m map[uint64]*Edge) {
	w.PutCount(len(m))
	for id, e := range m {
		w.PutUint64(id)
		PackEdge(w, e)
	}
}

func unpackEdgeMap(r *codec.Reader) (map[uint64]*Edge, error) {
	n, err := r.Count()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]*Edge, n)
	for i := 0; i < n; i++ {
		id, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		e, err := UnpackEdge(r, id)
		if err != nil {
			return nil, err
		}
		out[id] = e
	}
	return out, nil
}

// SizeNode returns the encoded size of a node: its creation/deletion
// clocks, properties, outgoing and incoming edges, and its two counters.
func SizeNode(n *Node) int {
	return SizeClock(n.CreatedAt) + SizeOptionalClock(n.DeletedAt) +
		SizeProperties(n.Properties) +
		sizeEdgeMap(n.OutEdges) + sizeEdgeMap(n.InEdges) +
		codec.SizeOfUint64 + codec.SizeOfUint64
}

// PackNode encodes a node as (creation-vc, deletion-vc, properties,
// outgoing edges, incoming edges, update counter, message counter).
func PackNode(w *codec.Writer, n *Node) {
	PackClock(w, n.CreatedAt)
	PackOptionalClock(w, n.DeletedAt)
	PackProperties(w, n.Properties)
	packEdgeMap(w, n.OutEdges)
	packEdgeMap(w, n.InEdges)
	w.PutUint64(n.UpdateCount)
	w.PutUint64(n.MessageCount)
}

// UnpackNode decodes a node body; the caller supplies the node id since, as
// with edges, it is not itself part of the encoded body.
func UnpackNode(r *codec.Reader, id uint64) (*Node, error) {
	createdAt, err := UnpackClock(r)
	if err != nil {
		return nil, err
	}
	deletedAt, err := UnpackOptionalClock(r)
	if err != nil {
		return nil, err
	}
	props, err := UnpackProperties(r)
	if err != nil {
		return nil, err
	}
	outEdges, err := unpackEdgeMap(r)
	if err != nil {
		return nil, err
	}
	inEdges, err := unpackEdgeMap(r)
	if err != nil {
		return nil, err
	}
	updateCount, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	msgCount, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:           id,
		CreatedAt:    createdAt,
		DeletedAt:    deletedAt,
		Properties:   props,
		OutEdges:     outEdges,
		InEdges:      inEdges,
		UpdateCount:  updateCount,
		MessageCount: msgCount,
	}, nil
}
