package message

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// NodeProgHeader is the fixed-shape prefix of every NODE_PROG message body:
// which program, which request, at what clock, addressed to which node. The
// remainder of the body is a program-specific Params or terminal Result
// payload whose schema depends on ProgType — packed and unpacked by the
// caller, since this package has no dependency on package nodeprog.
type NodeProgHeader struct {
	ProgType uint32
	ReqID    uint64
	ReqClock vclock.Clock
	Target   graph.RemoteNode
}

func sizeNodeProgHeader(h NodeProgHeader) int {
	return codec.SizeOfUint32 + codec.SizeOfUint64 + graph.SizeClock(h.ReqClock) + graph.SizeRemoteNode(h.Target)
}

func packNodeProgHeader(w *codec.Writer, h NodeProgHeader) {
	w.PutUint32(h.ProgType)
	w.PutUint64(h.ReqID)
	graph.PackClock(w, h.ReqClock)
	graph.PackRemoteNode(w, h.Target)
}

// PackNodeProg builds a complete NODE_PROG envelope: the kind tag, the fixed
// header, then whatever packBody writes for the program-specific payload.
// bodySize must equal the number of bytes packBody writes, exactly as
// Prepare requires for its own bodySize argument.
func PackNodeProg(h NodeProgHeader, bodySize int, packBody func(*codec.Writer)) []byte {
	return Prepare(NodeProg, sizeNodeProgHeader(h)+bodySize, func(w *codec.Writer) {
		packNodeProgHeader(w, h)
		packBody(w)
	})
}

// ParseNodeProg enforces m.Kind == NodeProg, decodes the fixed header, and
// returns a Reader positioned at the start of the program-specific payload
// for the caller to unpack according to ProgType.
func ParseNodeProg(m Message) (NodeProgHeader, *codec.Reader, error) {
	r, err := Parse(m, NodeProg)
	if err != nil {
		return NodeProgHeader{}, nil, err
	}
	progType, err := r.Uint32()
	if err != nil {
		return NodeProgHeader{}, nil, err
	}
	reqID, err := r.Uint64()
	if err != nil {
		return NodeProgHeader{}, nil, err
	}
	reqClock, err := graph.UnpackClock(r)
	if err != nil {
		return NodeProgHeader{}, nil, err
	}
	target, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return NodeProgHeader{}, nil, err
	}
	return NodeProgHeader{ProgType: progType, ReqID: reqID, ReqClock: reqClock, Target: target}, r, nil
}
