package message

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
)

// Client-to-coordinator node-program request framing. ReqID here is a
// correlation id the client mints itself — it has nothing to do
// with the coordinator's own internal request id, which never crosses the
// wire to a client. The coordinator just mirrors it back on the matching
// reply so the client's own pending-reply table can find the right waiter.

// startsAndDest is the (starting nodes, destination, optional hop bound)
// shape ClientReachableReq and ClientDijkstraReq share.
type startsAndDest struct {
	ReqID   uint64
	Starts  []graph.RemoteNode
	Dest    graph.RemoteNode
	MaxHops uint32
}

func sizeStartsAndDest(s startsAndDest) int {
	return codec.SizeOfUint64 + codec.SizeSlice(s.Starts, graph.SizeRemoteNode) +
		graph.SizeRemoteNode(s.Dest) + codec.SizeOfUint32
}

func packStartsAndDest(w *codec.Writer, s startsAndDest) {
	w.PutUint64(s.ReqID)
	codec.PackSlice(w, s.Starts, graph.PackRemoteNode)
	graph.PackRemoteNode(w, s.Dest)
	w.PutUint32(s.MaxHops)
}

func unpackStartsAndDest(r *codec.Reader) (startsAndDest, error) {
	reqID, err := r.Uint64()
	if err != nil {
		return startsAndDest{}, err
	}
	starts, err := codec.UnpackSlice(r, graph.UnpackRemoteNode)
	if err != nil {
		return startsAndDest{}, err
	}
	dest, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return startsAndDest{}, err
	}
	maxHops, err := r.Uint32()
	if err != nil {
		return startsAndDest{}, err
	}
	return startsAndDest{ReqID: reqID, Starts: starts, Dest: dest, MaxHops: maxHops}, nil
}

// PackReachableReq builds a CLIENT_REACHABLE_REQ envelope. maxHops of 0
// means unbounded, matching nodeprog.ReachParams.
func PackReachableReq(reqID uint64, starts []graph.RemoteNode, dest graph.RemoteNode, maxHops uint32) []byte {
	s := startsAndDest{ReqID: reqID, Starts: starts, Dest: dest, MaxHops: maxHops}
	return Prepare(ClientReachableReq, sizeStartsAndDest(s), func(w *codec.Writer) { packStartsAndDest(w, s) })
}

// ParseReachableReq decodes a CLIENT_REACHABLE_REQ envelope.
func ParseReachableReq(m Message) (reqID uint64, starts []graph.RemoteNode, dest graph.RemoteNode, maxHops uint32, err error) {
	r, err := Parse(m, ClientReachableReq)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, 0, err
	}
	s, err := unpackStartsAndDest(r)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, 0, err
	}
	return s.ReqID, s.Starts, s.Dest, s.MaxHops, nil
}

// PackDijkstraReq builds a CLIENT_DIJKSTRA_REQ envelope. MaxHops is unused
// by Dijkstra and always encoded as zero.
func PackDijkstraReq(reqID uint64, starts []graph.RemoteNode, dest graph.RemoteNode) []byte {
	s := startsAndDest{ReqID: reqID, Starts: starts, Dest: dest}
	return Prepare(ClientDijkstraReq, sizeStartsAndDest(s), func(w *codec.Writer) { packStartsAndDest(w, s) })
}

// ParseDijkstraReq decodes a CLIENT_DIJKSTRA_REQ envelope.
func ParseDijkstraReq(m Message) (reqID uint64, starts []graph.RemoteNode, dest graph.RemoteNode, err error) {
	r, err := Parse(m, ClientDijkstraReq)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	s, err := unpackStartsAndDest(r)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	return s.ReqID, s.Starts, s.Dest, nil
}

// PackClusteringReq builds a CLIENT_CLUSTERING_REQ envelope.
func PackClusteringReq(reqID uint64, target graph.RemoteNode) []byte {
	size := codec.SizeOfUint64 + graph.SizeRemoteNode(target)
	return Prepare(ClientClusteringReq, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		graph.PackRemoteNode(w, target)
	})
}

// ParseClusteringReq decodes a CLIENT_CLUSTERING_REQ envelope.
func ParseClusteringReq(m Message) (reqID uint64, target graph.RemoteNode, err error) {
	r, err := Parse(m, ClientClusteringReq)
	if err != nil {
		return 0, graph.RemoteNode{}, err
	}
	reqID, err = r.Uint64()
	if err != nil {
		return 0, graph.RemoteNode{}, err
	}
	target, err = graph.UnpackRemoteNode(r)
	if err != nil {
		return 0, graph.RemoteNode{}, err
	}
	return reqID, target, nil
}

// PackEdgeCountReq builds a CLIENT_NODE_PROG_REQ envelope: the façade's
// generic "run a program" entry point, used for EdgeCount since
// Reachability, Dijkstra, and Clustering each already have a dedicated
// request kind.
func PackEdgeCountReq(reqID uint64, starts []graph.RemoteNode, superNode graph.RemoteNode) []byte {
	size := codec.SizeOfUint64 + codec.SizeSlice(starts, graph.SizeRemoteNode) + graph.SizeRemoteNode(superNode)
	return Prepare(ClientNodeProgReq, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		codec.PackSlice(w, starts, graph.PackRemoteNode)
		graph.PackRemoteNode(w, superNode)
	})
}

// ParseEdgeCountReq decodes a CLIENT_NODE_PROG_REQ envelope.
func ParseEdgeCountReq(m Message) (reqID uint64, starts []graph.RemoteNode, superNode graph.RemoteNode, err error) {
	r, err := Parse(m, ClientNodeProgReq)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	reqID, err = r.Uint64()
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	starts, err = codec.UnpackSlice(r, graph.UnpackRemoteNode)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	superNode, err = graph.UnpackRemoteNode(r)
	if err != nil {
		return 0, nil, graph.RemoteNode{}, err
	}
	return reqID, starts, superNode, nil
}

// PackDijkstraReply builds a CLIENT_DIJKSTRA_REPLY envelope.
func PackDijkstraReply(reqID uint64, found bool, distance uint64, path []graph.RemoteNode) []byte {
	size := codec.SizeOfUint64 + codec.SizeOfBool + codec.SizeOfUint64 + codec.SizeSlice(path, graph.SizeRemoteNode)
	return Prepare(ClientDijkstraReply, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		w.PutBool(found)
		w.PutUint64(distance)
		codec.PackSlice(w, path, graph.PackRemoteNode)
	})
}

// ParseDijkstraReply decodes a CLIENT_DIJKSTRA_REPLY envelope.
func ParseDijkstraReply(m Message) (reqID uint64, found bool, distance uint64, path []graph.RemoteNode, err error) {
	r, err := Parse(m, ClientDijkstraReply)
	if err != nil {
		return 0, false, 0, nil, err
	}
	reqID, err = r.Uint64()
	if err != nil {
		return 0, false, 0, nil, err
	}
	found, err = r.Bool()
	if err != nil {
		return 0, false, 0, nil, err
	}
	distance, err = r.Uint64()
	if err != nil {
		return 0, false, 0, nil, err
	}
	path, err = codec.UnpackSlice(r, graph.UnpackRemoteNode)
	if err != nil {
		return 0, false, 0, nil, err
	}
	return reqID, found, distance, path, nil
}

// PackClusteringReply builds a CLIENT_CLUSTERING_REPLY envelope.
func PackClusteringReply(reqID uint64, coefficient float64) []byte {
	size := codec.SizeOfUint64 + codec.SizeOfDouble
	return Prepare(ClientClusteringReply, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		w.PutDouble(coefficient)
	})
}

// ParseClusteringReply decodes a CLIENT_CLUSTERING_REPLY envelope.
func ParseClusteringReply(m Message) (reqID uint64, coefficient float64, err error) {
	r, err := Parse(m, ClientClusteringReply)
	if err != nil {
		return 0, 0, err
	}
	reqID, err = r.Uint64()
	if err != nil {
		return 0, 0, err
	}
	coefficient, err = r.Double()
	if err != nil {
		return 0, 0, err
	}
	return reqID, coefficient, nil
}

// PackReachableReply and PackEdgeCountReply both ride CLIENT_NODE_PROG_REPLY
// tagged with a bool discriminator (true means the reachability shape,
// false the edge-count shape) since neither has its own dedicated reply
// kind in the wire vocabulary — Reachability and EdgeCount are the two
// programs the client façade reaches over its generic reply path.

// PackReachableReply builds a CLIENT_NODE_PROG_REPLY envelope carrying a
// reachability result.
func PackReachableReply(reqID uint64, found bool, hops uint32) []byte {
	size := codec.SizeOfUint64 + codec.SizeOfBool*2 + codec.SizeOfUint32
	return Prepare(ClientNodeProgReply, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		w.PutBool(true)
		w.PutBool(found)
		w.PutUint32(hops)
	})
}

// PackEdgeCountReply builds a CLIENT_NODE_PROG_REPLY envelope carrying an
// edge-count result.
func PackEdgeCountReply(reqID uint64, total uint64) []byte {
	size := codec.SizeOfUint64 + codec.SizeOfBool + codec.SizeOfUint64
	return Prepare(ClientNodeProgReply, size, func(w *codec.Writer) {
		w.PutUint64(reqID)
		w.PutBool(false)
		w.PutUint64(total)
	})
}

// NodeProgReply is the decoded form of a CLIENT_NODE_PROG_REPLY envelope.
// Exactly one of the reachability or edge-count fields is meaningful,
// selected by Reachability.
type NodeProgReply struct {
	ReqID        uint64
	Reachability bool
	Found        bool   // reachability only
	Hops         uint32 // reachability only
	Total        uint64 // edge count only
}

// ParseNodeProgReply decodes a CLIENT_NODE_PROG_REPLY envelope.
func ParseNodeProgReply(m Message) (NodeProgReply, error) {
	r, err := Parse(m, ClientNodeProgReply)
	if err != nil {
		return NodeProgReply{}, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return NodeProgReply{}, err
	}
	isReach, err := r.Bool()
	if err != nil {
		return NodeProgReply{}, err
	}
	if isReach {
		found, err := r.Bool()
		if err != nil {
			return NodeProgReply{}, err
		}
		hops, err := r.Uint32()
		if err != nil {
			return NodeProgReply{}, err
		}
		return NodeProgReply{ReqID: reqID, Reachability: true, Found: found, Hops: hops}, nil
	}
	total, err := r.Uint64()
	if err != nil {
		return NodeProgReply{}, err
	}
	return NodeProgReply{ReqID: reqID, Total: total}, nil
}
