package nodeprog

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// ClusteringParams plays three roles depending on where it lands. At the
// target node itself (self == SuperNode, Returning == false) it starts the
// computation. At a neighbor (self != SuperNode) it asks "how many of these
// other neighbors are you yourself connected to?". Back at the target
// (self == SuperNode, Returning == true) it carries one neighbor's overlap
// count into the running total.
type ClusteringParams struct {
	SuperNode     graph.RemoteNode
	ReplyTo       graph.RemoteNode
	Neighbors     []graph.RemoteNode
	Returning     bool
	OverlapCount  uint32
	ResponsesLeft uint32 // not read by Run: the super node seeds its countdown from its visible neighbor count
}

func (p *ClusteringParams) Size() int {
	return graph.SizeRemoteNode(p.SuperNode) + graph.SizeRemoteNode(p.ReplyTo) +
		codec.SizeSlice(p.Neighbors, graph.SizeRemoteNode) +
		codec.SizeOfBool + codec.SizeOfUint32*2
}

func (p *ClusteringParams) Pack(w *codec.Writer) {
	graph.PackRemoteNode(w, p.SuperNode)
	graph.PackRemoteNode(w, p.ReplyTo)
	codec.PackSlice(w, p.Neighbors, graph.PackRemoteNode)
	w.PutBool(p.Returning)
	w.PutUint32(p.OverlapCount)
	w.PutUint32(p.ResponsesLeft)
}

func (p *ClusteringParams) Unpack(r *codec.Reader) error {
	superNode, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	replyTo, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	neighbors, err := codec.UnpackSlice(r, graph.UnpackRemoteNode)
	if err != nil {
		return err
	}
	returning, err := r.Bool()
	if err != nil {
		return err
	}
	overlap, err := r.Uint32()
	if err != nil {
		return err
	}
	left, err := r.Uint32()
	if err != nil {
		return err
	}
	*p = ClusteringParams{SuperNode: superNode, ReplyTo: replyTo, Neighbors: neighbors, Returning: returning, OverlapCount: overlap, ResponsesLeft: left}
	return nil
}

// ClusteringResult is the terminal payload delivered to ReplyTo once every
// neighbor has reported its overlap count.
type ClusteringResult struct {
	Coefficient float64
}

func (r *ClusteringResult) Size() int { return codec.SizeOfDouble }
func (r *ClusteringResult) Pack(w *codec.Writer) { w.PutDouble(r.Coefficient) }
func (r *ClusteringResult) Unpack(rd *codec.Reader) error {
	v, err := rd.Double()
	if err != nil {
		return err
	}
	r.Coefficient = v
	return nil
}

// ClusteringState is the super node's running tally: how many neighbor
// reports are still outstanding, how many connected pairs have been found
// so far, and how many neighbors there are in total (needed to compute the
// denominator once every report is in).
type ClusteringState struct {
	ResponsesLeft uint32
	NeighborCount uint32
	TotalOverlap  uint64
	Initialized   bool
}

func (s *ClusteringState) Size() int {
	return codec.SizeOfUint32*2 + codec.SizeOfUint64 + codec.SizeOfBool
}
func (s *ClusteringState) Pack(w *codec.Writer) {
	w.PutUint32(s.ResponsesLeft)
	w.PutUint32(s.NeighborCount)
	w.PutUint64(s.TotalOverlap)
	w.PutBool(s.Initialized)
}
func (s *ClusteringState) Unpack(r *codec.Reader) error {
	left, err := r.Uint32()
	if err != nil {
		return err
	}
	count, err := r.Uint32()
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
	*s = ClusteringState{ResponsesLeft: left, NeighborCount: count, TotalOverlap: total, Initialized: init}
	return nil
}

// ClusteringProgram computes a node's local clustering coefficient: the
// fraction of ordered pairs among its visible neighbors that are themselves
// connected by a visible edge. It is a two-round fan-out/fan-in: the target
// asks each neighbor to count its overlap with the rest, then sums what
// comes back.
type ClusteringProgram struct{}

func (ClusteringProgram) Type() ProgType      { return Clustering }
func (ClusteringProgram) NewParams() Packable { return &ClusteringParams{} }
func (ClusteringProgram) NewState() Packable  { return &ClusteringState{} }

func (ClusteringProgram) Run(reqClock vclock.Clock, node *graph.Node, self graph.RemoteNode, params Packable, state StateAccessor) ([]Continuation, error) {
	p := params.(*ClusteringParams)

	if self == p.SuperNode && !p.Returning {
		neighbors := neighborHandles(node, reqClock)
		if len(neighbors) < 2 {
			return []Continuation{{Target: p.ReplyTo, Params: &ClusteringResult{Coefficient: 0}}}, nil
		}
		st := state().(*ClusteringState)
		st.Initialized = true
		st.NeighborCount = uint32(len(neighbors))
		st.ResponsesLeft = uint32(len(neighbors))

		out := make([]Continuation, 0, len(neighbors))
		for _, nb := range neighbors {
			out = append(out, Continuation{Target: nb, Params: &ClusteringParams{SuperNode: p.SuperNode, ReplyTo: p.ReplyTo, Neighbors: neighbors}})
		}
		return out, nil
	}

	if self != p.SuperNode {
		count := uint32(0)
		for _, nb := range p.Neighbors {
			if nb == self {
				continue
			}
			if hasVisibleEdgeTo(node, reqClock, nb) {
				count++
			}
		}
		return []Continuation{{Target: p.SuperNode, Params: &ClusteringParams{SuperNode: p.SuperNode, ReplyTo: p.ReplyTo, Returning: true, OverlapCount: count}}}, nil
	}

	// self == SuperNode && p.Returning: fold one neighbor's report in.
	st := state().(*ClusteringState)
	st.TotalOverlap += uint64(p.OverlapCount)
	if st.ResponsesLeft > 0 {
		st.ResponsesLeft--
	}
	if st.ResponsesLeft != 0 {
		return nil, nil
	}
	denom := uint64(st.NeighborCount) * uint64(st.NeighborCount-1)
	var coeff float64
	if denom > 0 {
		coeff = float64(st.TotalOverlap) / float64(denom)
	}
	return []Continuation{{Target: p.ReplyTo, Params: &ClusteringResult{Coefficient: coeff}}}, nil
}

func neighborHandles(n *graph.Node, reqClock vclock.Clock) []graph.RemoteNode {
	seen := make(map[graph.RemoteNode]bool)
	var out []graph.RemoteNode
	for _, e := range graph.VisibleOutEdges(n, reqClock) {
		if !seen[e.Neighbor] {
			seen[e.Neighbor] = true
			out = append(out, e.Neighbor)
		}
	}
	return out
}

func hasVisibleEdgeTo(n *graph.Node, reqClock vclock.Clock, target graph.RemoteNode) bool {
	for _, e := range graph.VisibleOutEdges(n, reqClock) {
		if e.Neighbor == target {
			return true
		}
	}
	return false
}
