package nodeprog

import (
	"encoding/binary"

	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// edgeWeightKey is the edge property holding a path's per-hop cost. An edge
// without it costs 1, so Dijkstra degrades to unweighted shortest-hop-count
// when no weights have been set.
const edgeWeightKey = "weight"

func edgeWeight(e *graph.Edge, reqClock vclock.Clock) uint64 {
	for _, p := range graph.VisibleProperties(e.Properties, reqClock) {
		if p.Key == edgeWeightKey && len(p.Value) == 8 {
			return binary.BigEndian.Uint64(p.Value)
		}
	}
	return 1
}

// DijkstraParams rides both directions of the shortest-path program: a
// forward hop carries the accumulated distance and path so far; a branch
// that has stopped improving reports its best finding back to ReplyTo.
type DijkstraParams struct {
	Dest      graph.RemoteNode
	Distance  uint64
	Path      []graph.RemoteNode
	Credit    uint64
	ReplyTo   graph.RemoteNode
	Returning bool
	Found     bool
}

func (p *DijkstraParams) Size() int {
	return graph.SizeRemoteNode(p.Dest) + codec.SizeOfUint64 +
		codec.SizeSlice(p.Path, graph.SizeRemoteNode) +
		codec.SizeOfUint64 + graph.SizeRemoteNode(p.ReplyTo) + codec.SizeOfBool*2
}

func (p *DijkstraParams) Pack(w *codec.Writer) {
	graph.PackRemoteNode(w, p.Dest)
	w.PutUint64(p.Distance)
	codec.PackSlice(w, p.Path, graph.PackRemoteNode)
	w.PutUint64(p.Credit)
	graph.PackRemoteNode(w, p.ReplyTo)
	w.PutBool(p.Returning)
	w.PutBool(p.Found)
}

func (p *DijkstraParams) Unpack(r *codec.Reader) error {
	dest, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	distance, err := r.Uint64()
	if err != nil {
		return err
	}
	path, err := codec.UnpackSlice(r, graph.UnpackRemoteNode)
	if err != nil {
		return err
	}
	credit, err := r.Uint64()
	if err != nil {
		return err
	}
	replyTo, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	returning, err := r.Bool()
	if err != nil {
		return err
	}
	found, err := r.Bool()
	if err != nil {
		return err
	}
	*p = DijkstraParams{Dest: dest, Distance: distance, Path: path, Credit: credit, ReplyTo: replyTo, Returning: returning, Found: found}
	return nil
}

// DijkstraState holds the best distance this request has found its way to
// this node by so far. A continuation that cannot beat it is a dead end: the
// program stops exploring from there and returns its credit unspent.
type DijkstraState struct {
	BestDistance uint64
	Touched      bool
}

const noDistanceYet = ^uint64(0)

func (s *DijkstraState) Size() int { return codec.SizeOfUint64 + codec.SizeOfBool }
func (s *DijkstraState) Pack(w *codec.Writer) {
	w.PutUint64(s.BestDistance)
	w.PutBool(s.Touched)
}
func (s *DijkstraState) Unpack(r *codec.Reader) error {
	d, err := r.Uint64()
	if err != nil {
		return err
	}
	t, err := r.Bool()
	if err != nil {
		return err
	}
	s.BestDistance, s.Touched = d, t
	return nil
}

// DijkstraProgram finds a shortest weighted path to Dest by relaxation:
// every node forwards only along edges that strictly improve on the best
// distance it has already seen for this request, which is exactly the
// condition under which flooding a distributed Bellman-Ford relaxation is
// guaranteed to quiesce on a graph with non-negative edge weights.
type DijkstraProgram struct{}

func (DijkstraProgram) Type() ProgType      { return Dijkstra }
func (DijkstraProgram) NewParams() Packable { return &DijkstraParams{} }
func (DijkstraProgram) NewState() Packable  { return &DijkstraState{BestDistance: noDistanceYet} }

func (DijkstraProgram) Run(reqClock vclock.Clock, node *graph.Node, self graph.RemoteNode, params Packable, state StateAccessor) ([]Continuation, error) {
	p := params.(*DijkstraParams)
	st := state().(*DijkstraState)

	improved := !st.Touched || p.Distance < st.BestDistance
	if improved {
		st.BestDistance = p.Distance
		st.Touched = true
	}

	report := func(found bool) []Continuation {
		path := append(append([]graph.RemoteNode(nil), p.Path...), self)
		return []Continuation{{Target: p.ReplyTo, Params: &DijkstraParams{Returning: true, Found: found, Distance: p.Distance, Path: path, Credit: p.Credit}}}
	}

	if self == p.Dest {
		return report(true), nil
	}
	if !improved {
		return report(false), nil
	}

	edges := graph.VisibleOutEdges(node, reqClock)
	if len(edges) == 0 {
		return report(false), nil
	}

	shares := SplitCredit(p.Credit, len(edges))
	path := append(append([]graph.RemoteNode(nil), p.Path...), self)
	out := make([]Continuation, 0, len(edges))
	for i, e := range edges {
		out = append(out, Continuation{
			Target: e.Neighbor,
			Params: &DijkstraParams{Dest: p.Dest, Distance: p.Distance + edgeWeight(e, reqClock), Path: path, Credit: shares[i], ReplyTo: p.ReplyTo},
		})
	}
	return out, nil
}

// DijkstraAggregate is the coordinator-side accumulator: it keeps the best
// (lowest-distance) found report seen so far and declares the request
// resolved once every unit of credit handed out has been returned.
type DijkstraAggregate struct {
	CreditSeen uint64
	Found      bool
	Distance   uint64
	Path       []graph.RemoteNode
}

// Observe folds one returning branch's report into the aggregate and
// reports whether every unit of credit has now been accounted for.
func (a *DijkstraAggregate) Observe(p *DijkstraParams) (done bool) {
	a.CreditSeen += p.Credit
	if p.Found && (!a.Found || p.Distance < a.Distance) {
		a.Found = true
		a.Distance = p.Distance
		a.Path = p.Path
	}
	return a.CreditSeen >= RootCredit
}
