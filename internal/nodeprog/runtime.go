// Package nodeprog implements the node-program runtime: the hop-by-hop
// execution loop that dispatches a program at a visited node, collects the
// continuations it returns, and groups them by the shard that must execute
// them next.
//
// A node program itself is kept deliberately pure — Run never touches a
// lock, a socket, or a clock source; the Dispatcher supplies everything it
// needs and owns every side effect the program's return value implies.
package nodeprog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/vclock"
)

// ProgType identifies a registered node program. Like message.Kind, its
// numeric value is part of the wire ABI — ridden inside every NODE_PROG
// message body so the receiving shard knows which registry entry to
// dispatch to and which Params/State schema to decode.
type ProgType uint32

const (
	// Reachability hops along visible out-edges toward a destination
	// handle, optionally bounded by a maximum hop count.
	Reachability ProgType = iota
	// Dijkstra relaxes a weighted-edge property toward a destination,
	// carrying the best-known distance and predecessor chain.
	Dijkstra
	// Clustering computes the local clustering coefficient of a node:
	// the fraction of visible neighbor pairs that are themselves
	// connected.
	Clustering
	// EdgeCount is the edge-count fan-in program grounded in the
	// spec's triangle-program fragment: it sums the visible out-degree
	// across a caller-supplied set of starting nodes via a super node.
	EdgeCount
)

func (t ProgType) String() string {
	switch t {
	case Reachability:
		return "REACHABILITY"
	case Dijkstra:
		return "DIJKSTRA"
	case Clustering:
		return "CLUSTERING"
	case EdgeCount:
		return "EDGE_COUNT"
	default:
		return fmt.Sprintf("ProgType(%d)", uint32(t))
	}
}

// Packable is the capability set a program's parameters or per-node state
// must provide to ride the wire; it is exactly codec.Packable, aliased here
// so callers only importing nodeprog don't also need to name codec.
type Packable = codec.Packable

// StateAccessor returns this invocation's program-state slot by reference,
// creating it with program-supplied defaults on first touch. The runtime —
// not the program — controls when the slot is created and under which
// lock, which is why Run receives a closure instead of the slot itself.
type StateAccessor func() Packable

// Continuation is a (remote_node, params) pair: "deliver params to target;
// run me there next." Returning an empty continuation list terminates the
// program at the current node for this request.
type Continuation struct {
	Target graph.RemoteNode
	Params Packable
}

// Program is a registered node program: a pure function from (request
// clock, visited node, its own handle, incoming params, state accessor) to
// a list of continuations, plus the factories the runtime needs to decode
// its Params and State off the wire without the runtime knowing their
// concrete types.
type Program interface {
	Type() ProgType
	NewParams() Packable
	NewState() Packable
	Run(reqClock vclock.Clock, node *graph.Node, self graph.RemoteNode, params Packable, state StateAccessor) ([]Continuation, error)
}

// Registry maps a ProgType to its Program implementation. Adding a program
// type is one Register call; nothing else in the runtime needs to change.
type Registry struct {
	mu       sync.RWMutex
	programs map[ProgType]Program
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[ProgType]Program)}
}

// Register adds p to the registry, keyed by p.Type(). Registering the same
// type twice replaces the previous entry.
func (r *Registry) Register(p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.Type()] = p
}

// Get looks up the Program registered for t.
func (r *Registry) Get(t ProgType) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[t]
	return p, ok
}

// ErrUnknownProgram is returned when a message names a ProgType with no
// registered Program.
var ErrUnknownProgram = errors.New("nodeprog: unknown program type")

// ErrUnknownNode is returned when a continuation targets a node this shard
// does not own and never did — a forwarding bug or a stale client request,
// never a routine condition.
var ErrUnknownNode = errors.New("nodeprog: unknown node")

// StateKey identifies a program-state slot: the triple a state accessor is
// scoped to.
type StateKey struct {
	ProgType ProgType
	ReqID    uint64
	NodeID   uint64
}

// NodeHost is the shard-side contract the Dispatcher needs: node lookup
// under lock, program-state slot access scoped to that lock, and ownership
// queries for routing decisions. Package shard implements this over its
// storage.NodeStore; nodeprog never depends on shard or storage directly,
// keeping the runtime a pure function of whatever host it's given.
type NodeHost interface {
	// ShardID is this host's own shard id, used to group outgoing
	// continuations addressed to the local shard for in-place execution.
	ShardID() int
	// OwnsNode reports whether this shard currently owns handle.
	OwnsNode(handle uint64) bool
	// LockNode returns the node for handle and an unlock function. ok is
	// false if this shard does not own handle (never has, or it has
	// since migrated away); the caller must not call unlock in that case.
	LockNode(handle uint64) (node *graph.Node, unlock func(), ok bool)
	// StateSlot returns the program-state slot for key, creating it via
	// newState on first touch. Must be called only while the
	// corresponding node's lock (key.NodeID) is held.
	StateSlot(key StateKey, newState func() Packable) Packable
	// DropRequest discards every program-state slot this shard holds for
	// reqID, implementing CANCEL(reqID).
	DropRequest(reqID uint64)
}

// Dispatcher executes one hop of the dispatch cycle: look up or create the
// target node, obtain its program-state slot, invoke the program, and group
// the resulting continuations by owning shard.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher builds a Dispatcher over the given program registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Outgoing is one group of continuations bound for the same shard, still
// holding live Params values — package shard packs each group into a single
// NODE_PROG message before sending.
type Outgoing struct {
	ShardID       int
	Continuations []Continuation
}

// Dispatch runs progType's Run function at target on host, and groups the
// returned continuations by destination shard. A continuation whose target
// is host's own shard is returned in its own group (ShardID == host's id)
// so the caller can choose to execute it in place rather than round-trip
// it through the transport.
func (d *Dispatcher) Dispatch(host NodeHost, progType ProgType, reqID uint64, reqClock vclock.Clock, target graph.RemoteNode, params Packable) ([]Outgoing, error) {
	prog, ok := d.registry.Get(progType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, progType)
	}

	node, unlock, ok := host.LockNode(target.Handle)
	if !ok {
		return nil, fmt.Errorf("%w: shard %d does not own node %d", ErrUnknownNode, host.ShardID(), target.Handle)
	}
	defer unlock()

	key := StateKey{ProgType: progType, ReqID: reqID, NodeID: target.Handle}
	accessor := func() Packable {
		return host.StateSlot(key, prog.NewState)
	}

	continuations, err := prog.Run(reqClock, node, target, params, accessor)
	if err != nil {
		return nil, err
	}
	node.MessageCount++

	return groupByShard(continuations), nil
}

func groupByShard(continuations []Continuation) []Outgoing {
	if len(continuations) == 0 {
		return nil
	}
	order := make([]int, 0, len(continuations))
	byShard := make(map[int][]Continuation, len(continuations))
	for _, c := range continuations {
		if _, seen := byShard[c.Target.Loc]; !seen {
			order = append(order, c.Target.Loc)
		}
		byShard[c.Target.Loc] = append(byShard[c.Target.Loc], c)
	}
	out := make([]Outgoing, 0, len(order))
	for _, shardID := range order {
		out = append(out, Outgoing{ShardID: shardID, Continuations: byShard[shardID]})
	}
	return out
}
