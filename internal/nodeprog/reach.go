package nodeprog

import (
	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// ReachParams is both directions' wire shape for the Reachability program: a
// forward hop carries (Dest, Hops, MaxHops, Credit, ReplyTo); a branch that
// has stopped exploring carries the result back to ReplyTo with Returning
// set. Sharing one struct keeps the wire schema — and the ProgType tag a
// receiving shard dispatches on — singular per program.
type ReachParams struct {
	Dest      graph.RemoteNode
	Hops      uint32
	MaxHops   uint32 // 0 means unbounded
	Credit    uint64
	ReplyTo   graph.RemoteNode
	Returning bool
	Reachable bool
}

func (p *ReachParams) Size() int {
	return graph.SizeRemoteNode(p.Dest) + codec.SizeOfUint32*2 + codec.SizeOfUint64 +
		graph.SizeRemoteNode(p.ReplyTo) + codec.SizeOfBool*2
}

func (p *ReachParams) Pack(w *codec.Writer) {
	graph.PackRemoteNode(w, p.Dest)
	w.PutUint32(p.Hops)
	w.PutUint32(p.MaxHops)
	w.PutUint64(p.Credit)
	graph.PackRemoteNode(w, p.ReplyTo)
	w.PutBool(p.Returning)
	w.PutBool(p.Reachable)
}

func (p *ReachParams) Unpack(r *codec.Reader) error {
	dest, err := graph.UnpackRemoteNode(r)
	if err != nil {
		return err
	}
	hops, err := r.Uint32()
	if err != nil {
		return err
	}
	maxHops, err := r.Uint32()
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
	reachable, err := r.Bool()
	if err != nil {
		return err
	}
	*p = ReachParams{Dest: dest, Hops: hops, MaxHops: maxHops, Credit: credit, ReplyTo: replyTo, Returning: returning, Reachable: reachable}
	return nil
}

// ReachState remembers whether this request has already visited this node,
// so a cycle in the graph can't re-explore the same node twice for the same
// request — and so revisiting returns its credit immediately instead of
// leaking it.
type ReachState struct {
	Visited bool
}

func (s *ReachState) Size() int        { return codec.SizeOfBool }
func (s *ReachState) Pack(w *codec.Writer) { w.PutBool(s.Visited) }
func (s *ReachState) Unpack(r *codec.Reader) error {
	v, err := r.Bool()
	if err != nil {
		return err
	}
	s.Visited = v
	return nil
}

// ReachProgram implements reachability: starting from one node, hop along
// visible out-edges looking for Dest, optionally bounded by MaxHops. Every
// branch that stops — by finding Dest, running out of hops, or running out
// of unvisited edges — reports back to ReplyTo carrying the credit share it
// was exploring with; the aggregator at ReplyTo declares the query resolved
// once the credit it has seen sums back to RootCredit.
type ReachProgram struct{}

func (ReachProgram) Type() ProgType      { return Reachability }
func (ReachProgram) NewParams() Packable { return &ReachParams{} }
func (ReachProgram) NewState() Packable  { return &ReachState{} }

func (ReachProgram) Run(reqClock vclock.Clock, node *graph.Node, self graph.RemoteNode, params Packable, state StateAccessor) ([]Continuation, error) {
	p := params.(*ReachParams)
	st := state().(*ReachState)

	report := func(reachable bool, hops uint32, credit uint64) []Continuation {
		return []Continuation{{Target: p.ReplyTo, Params: &ReachParams{Returning: true, Reachable: reachable, Hops: hops, Credit: credit}}}
	}

	if st.Visited {
		return report(false, 0, p.Credit), nil
	}
	st.Visited = true

	if self == p.Dest {
		return report(true, p.Hops, p.Credit), nil
	}
	if p.MaxHops > 0 && p.Hops >= p.MaxHops {
		return report(false, 0, p.Credit), nil
	}

	edges := graph.VisibleOutEdges(node, reqClock)
	if len(edges) == 0 {
		return report(false, 0, p.Credit), nil
	}

	shares := SplitCredit(p.Credit, len(edges))
	out := make([]Continuation, 0, len(edges))
	for i, e := range edges {
		out = append(out, Continuation{
			Target: e.Neighbor,
			Params: &ReachParams{Dest: p.Dest, Hops: p.Hops + 1, MaxHops: p.MaxHops, Credit: shares[i], ReplyTo: p.ReplyTo},
		})
	}
	return out, nil
}

// ReachAggregate is the coordinator-side accumulator for an in-flight
// Reachability request: it is not a Program run through the Dispatcher (the
// coordinator hosts no graph nodes) but tracks the same fields a
// Dispatch-driven aggregator would.
type ReachAggregate struct {
	CreditSeen uint64
	Found      bool
	Hops       uint32
}

// Observe folds one returning branch's report into the aggregate and
// reports whether every unit of credit has now been accounted for.
func (a *ReachAggregate) Observe(p *ReachParams) (done bool) {
	a.CreditSeen += p.Credit
	if p.Reachable && !a.Found {
		a.Found = true
		a.Hops = p.Hops
	}
	return a.CreditSeen >= RootCredit
}
