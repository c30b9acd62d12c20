package message

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// Mutation request/reply framing for the six direct graph-mutation
// operations the client façade exposes: node create/delete, edge
// create/delete, edge property add/delete. The same wire shapes ride both
// legs of a mutation's path — client to coordinator, and coordinator to the
// shard that owns the target handle — with the coordinator substituting its
// own request id on the forwarded copy and translating it back on the way
// out, the same correlation pattern PackNodeProg/ParseNodeProg establishes
// for program dispatch.

// NodeMutation is the wire shape shared by ClientNodeCreateReq and
// ClientNodeDeleteReq: a single node handle plus the clock the sender has
// observed so far.
type NodeMutation struct {
	ReqID  uint64
	Handle uint64
	Clock  vclock.Clock
}

func sizeNodeMutation(m NodeMutation) int {
	return codec.SizeOfUint64*2 + graph.SizeClock(m.Clock)
}

// PackNodeMutation builds a node create/delete envelope tagged kind.
func PackNodeMutation(kind Kind, m NodeMutation) []byte {
	return Prepare(kind, sizeNodeMutation(m), func(w *codec.Writer) {
		w.PutUint64(m.ReqID)
		w.PutUint64(m.Handle)
		graph.PackClock(w, m.Clock)
	})
}

// ParseNodeMutation decodes a node create/delete envelope, enforcing kind.
func ParseNodeMutation(msg Message, kind Kind) (NodeMutation, error) {
	r, err := Parse(msg, kind)
	if err != nil {
		return NodeMutation{}, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return NodeMutation{}, err
	}
	handle, err := r.Uint64()
	if err != nil {
		return NodeMutation{}, err
	}
	clk, err := graph.UnpackClock(r)
	if err != nil {
		return NodeMutation{}, err
	}
	return NodeMutation{ReqID: reqID, Handle: handle, Clock: clk}, nil
}

// EdgeMutation is the wire shape shared by ClientEdgeCreateReq (Dst
// populated) and ClientEdgeDeleteReq (Dst ignored by the receiver).
type EdgeMutation struct {
	ReqID  uint64
	Src    uint64
	EdgeID uint64
	Dst    graph.RemoteNode
	Clock  vclock.Clock
}

func sizeEdgeMutation(m EdgeMutation) int {
	return codec.SizeOfUint64*3 + graph.SizeRemoteNode(m.Dst) + graph.SizeClock(m.Clock)
}

// PackEdgeMutation builds an edge create/delete envelope tagged kind.
func PackEdgeMutation(kind Kind, m EdgeMutation) []byte {
	return Prepare(kind, sizeEdgeMutation(m), func(w *codec.Writer) {
		w.PutUint64(m.ReqID)
		w.PutUint64(m.Src)
		w.PutUint64(m.EdgeID)
		graph.PackRemoteNode(w, m.Dst)
		graph.PackClock(w, m.Clock)
	})
}

// ParseEdgeMutation decodes an edge create/delete envelope, enforcing kind.
func ParseEdgeMutation(msg Message, kind Kind) (EdgeMutation, error) {
	r, err := Parse(msg, kind)
	if err != nil {
		return EdgeMutation{}, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return EdgeMutation{}, err
	}
	src, err := r.Uint64()
	if err != nil {
		return EdgeMutation{}, err
	}
	edgeID, err := r.Uint64()
	if err != nil {
		return EdgeMutation{}, err
	}
	dst, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return EdgeMutation{}, err
	}
	clk, err := graph.UnpackClock(r)
	if err != nil {
		return EdgeMutation{}, err
	}
	return EdgeMutation{ReqID: reqID, Src: src, EdgeID: edgeID, Dst: dst, Clock: clk}, nil
}

// EdgePropertyMutation is the wire shape shared by ClientAddEdgeProp (Value
// populated) and ClientDelEdgeProp (Value ignored by the receiver).
type EdgePropertyMutation struct {
	ReqID  uint64
	Src    uint64
	EdgeID uint64
	Key    string
	Value  []byte
	Clock  vclock.Clock
}

func sizeEdgePropertyMutation(m EdgePropertyMutation) int {
	return codec.SizeOfUint64*3 + codec.SizeString(m.Key) + codec.SizeBytes(len(m.Value)) + graph.SizeClock(m.Clock)
}

// PackEdgePropertyMutation builds an edge-property add/delete envelope
// tagged kind.
func PackEdgePropertyMutation(kind Kind, m EdgePropertyMutation) []byte {
	return Prepare(kind, sizeEdgePropertyMutation(m), func(w *codec.Writer) {
		w.PutUint64(m.ReqID)
		w.PutUint64(m.Src)
		w.PutUint64(m.EdgeID)
		w.PutString(m.Key)
		w.PutBytes(m.Value)
		graph.PackClock(w, m.Clock)
	})
}

// ParseEdgePropertyMutation decodes an edge-property add/delete envelope,
// enforcing kind.
func ParseEdgePropertyMutation(msg Message, kind Kind) (EdgePropertyMutation, error) {
	r, err := Parse(msg, kind)
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	src, err := r.Uint64()
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	edgeID, err := r.Uint64()
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	key, err := r.String()
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	value, err := r.Bytes()
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	valueCopy := append([]byte(nil), value...)
	clk, err := graph.UnpackClock(r)
	if err != nil {
		return EdgePropertyMutation{}, err
	}
	return EdgePropertyMutation{ReqID: reqID, Src: src, EdgeID: edgeID, Key: key, Value: valueCopy, Clock: clk}, nil
}

// ReverseEdgeMutation is the shard-to-shard envelope CreateEdge's caller sends
// when the new edge's neighbor lives on a different shard than the edge's
// source: it carries just enough for the receiving shard to record the
// matching in-edge via Shard.ReceiveReverseEdge without that shard needing
// to look anything up first. Dst is the local handle on the receiving
// shard; Src names the edge's origin (its own shard and handle), the
// RemoteNode the in-edge will point back at.
type ReverseEdgeMutation struct {
	Dst    uint64
	EdgeID uint64
	Src    graph.RemoteNode
	Clock  vclock.Clock
}

func sizeReverseEdgeMutation(m ReverseEdgeMutation) int {
	return codec.SizeOfUint64*2 + graph.SizeRemoteNode(m.Src) + graph.SizeClock(m.Clock)
}

// PackReverseEdgeCreate builds a REVERSE_EDGE_CREATE envelope.
func PackReverseEdgeCreate(m ReverseEdgeMutation) []byte {
	return Prepare(ReverseEdgeCreate, sizeReverseEdgeMutation(m), func(w *codec.Writer) {
		w.PutUint64(m.Dst)
		w.PutUint64(m.EdgeID)
		graph.PackRemoteNode(w, m.Src)
		graph.PackClock(w, m.Clock)
	})
}

// ParseReverseEdgeCreate decodes a REVERSE_EDGE_CREATE envelope.
func ParseReverseEdgeCreate(msg Message) (ReverseEdgeMutation, error) {
	r, err := Parse(msg, ReverseEdgeCreate)
	if err != nil {
		return ReverseEdgeMutation{}, err
	}
	dst, err := r.Uint64()
	if err != nil {
		return ReverseEdgeMutation{}, err
	}
	edgeID, err := r.Uint64()
	if err != nil {
		return ReverseEdgeMutation{}, err
	}
	src, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return ReverseEdgeMutation{}, err
	}
	clk, err := graph.UnpackClock(r)
	if err != nil {
		return ReverseEdgeMutation{}, err
	}
	return ReverseEdgeMutation{Dst: dst, EdgeID: edgeID, Src: src, Clock: clk}, nil
}

// MutationReply is the terminal ClientReply every mutation request
// receives: whether it succeeded, the clock it was applied at (zero if
// Err is set), and a human-readable error when it was not.
type MutationReply struct {
	ReqID uint64
	OK    bool
	Clock vclock.Clock
	Err   string
}

func sizeMutationReply(m MutationReply) int {
	return codec.SizeOfUint64 + codec.SizeOfBool + graph.SizeClock(m.Clock) + codec.SizeString(m.Err)
}

// PackMutationReply builds a CLIENT_REPLY envelope.
func PackMutationReply(m MutationReply) []byte {
	return Prepare(ClientReply, sizeMutationReply(m), func(w *codec.Writer) {
		w.PutUint64(m.ReqID)
		w.PutBool(m.OK)
		graph.PackClock(w, m.Clock)
		w.PutString(m.Err)
	})
}

// ParseMutationReply decodes a CLIENT_REPLY envelope.
func ParseMutationReply(msg Message) (MutationReply, error) {
	r, err := Parse(msg, ClientReply)
	if err != nil {
		return MutationReply{}, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return MutationReply{}, err
	}
	ok, err := r.Bool()
	if err != nil {
		return MutationReply{}, err
	}
	clk, err := graph.UnpackClock(r)
	if err != nil {
		return MutationReply{}, err
	}
	errStr, err := r.String()
	if err != nil {
		return MutationReply{}, err
	}
	return MutationReply{ReqID: reqID, OK: ok, Clock: clk, Err: errStr}, nil
}
