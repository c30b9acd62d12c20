package nodeprog

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// EdgeCountParams is the fan-in edge-counting program: the coordinator picks
// a super node and a set of starting nodes (which may include the super node
// itself), and hands each of them a copy of these params with Returning
// false. Every non-super node immediately reports its own visible out-degree
// back to SuperNode; the super node sums what it sees — including its own
// degree, on its own first visit — and, once ResponsesLeft reaches zero,
// forwards the total to VtsNode.
type EdgeCountParams struct {
	SuperNode     graph.RemoteNode
	VtsNode       graph.RemoteNode
	Returning     bool
	NumEdges      uint64
	ResponsesLeft uint64 // only meaningful on the super node's first visit
}

func (p *EdgeCountParams) Size() int {
	return graph.SizeRemoteNode(p.SuperNode) + graph.SizeRemoteNode(p.VtsNode) +
		codec.SizeOfBool + codec.SizeOfUint64*2
}

func (p *EdgeCountParams) Pack(w *codec.Writer) {
	graph.PackRemoteNode(w, p.SuperNode)
	graph.PackRemoteNode(w, p.VtsNode)
	w.PutBool(p.Returning)
	w.PutUint64(p.NumEdges)
	w.PutUint64(p.ResponsesLeft)
}

func (p *EdgeCountParams) Unpack(r *codec.Reader) error {
	superNode, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	vtsNode, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	returning, err := r.Bool()
	if err != nil {
		return err
	}
	numEdges, err := r.Uint64()
	if err != nil {
		return err
	}
	left, err := r.Uint64()
	if err != nil {
		return err
	}
	*p = EdgeCountParams{SuperNode: superNode, VtsNode: vtsNode, Returning: returning, NumEdges: numEdges, ResponsesLeft: left}
	return nil
}

// EdgeCountResult is the terminal payload delivered to VtsNode once every
// starting node has reported in.
type EdgeCountResult struct {
	Total uint64
}

func (r *EdgeCountResult) Size() int        { return codec.SizeOfUint64 }
func (r *EdgeCountResult) Pack(w *codec.Writer) { w.PutUint64(r.Total) }
func (r *EdgeCountResult) Unpack(rd *codec.Reader) error {
	v, err := rd.Uint64()
	if err != nil {
		return err
	}
	r.Total = v
	return nil
}

// EdgeCountState is the super node's running tally, seeded from
// ResponsesLeft on its first visit for this request and decremented once per
// starting node (including itself).
type EdgeCountState struct {
	ResponsesLeft uint64
	Total         uint64
	Initialized   bool
}

func (s *EdgeCountState) Size() int { return codec.SizeOfUint64*2 + codec.SizeOfBool }
func (s *EdgeCountState) Pack(w *codec.Writer) {
	w.PutUint64(s.ResponsesLeft)
	w.PutUint64(s.Total)
	w.PutBool(s.Initialized)
}
func (s *EdgeCountState) Unpack(r *codec.Reader) error {
	left, err := r.Uint64()
	if err != nil {
		return err
	}
	total, err := r.Uint64()
	if err != nil {
		return err
	}
	init, err := r.Bool()
	if err != nil {
		return err
	}
	*s = EdgeCountState{ResponsesLeft: left, Total: total, Initialized: init}
	return nil
}

// EdgeCountProgram sums visible out-degree across a caller-chosen set of
// starting nodes via a super node and a fixed responses-left countdown,
// grounded directly in the triangle-counting fan-in pattern: no credit
// scheme is needed here because the coordinator already knows the exact
// branch count up front.
type EdgeCountProgram struct{}

func (EdgeCountProgram) Type() ProgType      { return EdgeCount }
func (EdgeCountProgram) NewParams() Packable { return &EdgeCountParams{} }
func (EdgeCountProgram) NewState() Packable  { return &EdgeCountState{} }

func (EdgeCountProgram) Run(reqClock vclock.Clock, node *graph.Node, self graph.RemoteNode, params Packable, state StateAccessor) ([]Continuation, error) {
	p := params.(*EdgeCountParams)

	if self == p.SuperNode {
		st := state().(*EdgeCountState)
		if !st.Initialized {
			st.Initialized = true
			st.ResponsesLeft = p.ResponsesLeft
		}
		if p.Returning {
			st.Total += p.NumEdges
		} else {
			st.Total += uint64(len(graph.VisibleOutEdges(node, reqClock)))
		}
		if st.ResponsesLeft > 0 {
			st.ResponsesLeft--
		}
		if st.ResponsesLeft != 0 {
			return nil, nil
		}
		return []Continuation{{Target: p.VtsNode, Params: &EdgeCountResult{Total: st.Total}}}, nil
	}

	n := uint64(len(graph.VisibleOutEdges(node, reqClock)))
	return []Continuation{{Target: p.SuperNode, Params: &EdgeCountParams{SuperNode: p.SuperNode, VtsNode: p.VtsNode, Returning: true, NumEdges: n}}}, nil
}
