package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/metrics"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/transport"
	"github.com/theseusyang/weaver/internal/vclock"
)

// CoordinatorOrigin is the vector-clock origin the coordinator stamps onto
// every fresh request clock it mints. It never collides with a real shard
// id (shard ids start at 0), so a clock's Origin alone tells a reader
// whether it was last ticked by the coordinator or by a shard.
const CoordinatorOrigin = -1

// CoordinatorLoc is the reserved graph.RemoteNode.Loc value naming the
// coordinator's own terminal pseudo-node: the address a program's ReplyTo,
// SuperNode, or VtsNode field points at when the final answer belongs to
// the client, not to another shard. The coordinator is not a shard and
// hosts no nodeprog.NodeHost — it special-cases NODE_PROG messages
// addressed here instead of pretending to own a partition.
const CoordinatorLoc = -1

var (
	// ErrTimeout is surfaced to the client when a request's wall-clock
	// deadline expires before its aggregator completes.
	ErrTimeout = errors.New("coordinator: request timed out")
	// ErrCancelled is returned by a wait that was abandoned via Cancel
	// before the aggregator completed.
	ErrCancelled = errors.New("coordinator: request cancelled")
	// ErrNodeUnregistered is returned when a shard id has no known
	// owning node, or a node id has no known network location.
	ErrNodeUnregistered = errors.New("coordinator: node not registered")
)

// pendingRequest accumulates the in-flight aggregation state for one
// client request, keyed by its request id. Exactly one of the four
// aggregate fields is live, chosen by progType.
type pendingRequest struct {
	progType nodeprog.ProgType

	mu       sync.Mutex
	done     chan struct{}
	closed   bool
	reach    nodeprog.ReachAggregate
	dijkstra nodeprog.DijkstraAggregate
	cluster  *nodeprog.ClusteringResult
	edges    *nodeprog.EdgeCountResult
}

func newPendingRequest(progType nodeprog.ProgType) *pendingRequest {
	return &pendingRequest{progType: progType, done: make(chan struct{})}
}

func (p *pendingRequest) finish() {
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}

// observe folds one NODE_PROG reply addressed to the coordinator into this
// request's aggregate, under its own lock so concurrent transport reader
// goroutines can deliver replies for the same request safely.
func (p *pendingRequest) observe(r *codec.Reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	switch p.progType {
	case nodeprog.Reachability:
		params := &nodeprog.ReachParams{}
		if err := params.Unpack(r); err != nil {
			return err
		}
		if p.reach.Observe(params) {
			p.finish()
		}
	case nodeprog.Dijkstra:
		params := &nodeprog.DijkstraParams{}
		if err := params.Unpack(r); err != nil {
			return err
		}
		if p.dijkstra.Observe(params) {
			p.finish()
		}
	case nodeprog.Clustering:
		result := &nodeprog.ClusteringResult{}
		if err := result.Unpack(r); err != nil {
			return err
		}
		p.cluster = result
		p.finish()
	case nodeprog.EdgeCount:
		result := &nodeprog.EdgeCountResult{}
		if err := result.Unpack(r); err != nil {
			return err
		}
		p.edges = result
		p.finish()
	default:
		return fmt.Errorf("coordinator: unexpected prog type %s in reply", p.progType)
	}
	return nil
}

// Coordinator assigns request identity, splits a client's starting nodes
// across the shards that own them, and aggregates the node-program replies
// that eventually land on CoordinatorLoc — the orchestration role,
// generalized from the teacher's key-range ShardRegistry and HealthMonitor
// to full request lifecycle management.
type Coordinator struct {
	registry *ShardRegistry
	tr       transport.Transport
	log      *zap.Logger
	metrics  metrics.Sink
	timeout  time.Duration

	nextReqID uint64

	nodesMu  sync.RWMutex
	nodeLocs map[string]transport.Location // nodeID -> network location

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest

	nextMutReqID uint64
	mutMu        sync.Mutex
	mutPending   map[uint64]mutationWaiter
}

// mutationWaiter remembers, for one forwarded mutation, who to reply to and
// under which request id the original caller is expecting the reply.
type mutationWaiter struct {
	loc         transport.Location
	clientReqID uint64
}

// NewCoordinator builds a Coordinator over registry (shard-to-node
// assignments) and tr (the transport it sends continuations and receives
// replies on). A nil log or metrics sink falls back to a no-op
// implementation, matching the teacher's NewHealthMonitor nil-guard
// pattern.
func NewCoordinator(registry *ShardRegistry, tr transport.Transport, timeout time.Duration, log *zap.Logger, sink metrics.Sink) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = metrics.NoopSink
	}
	return &Coordinator{
		registry: registry,
		tr:       tr,
		log:      log,
		metrics:  sink,
		timeout:  timeout,
		nodeLocs:   make(map[string]transport.Location),
		pending:    make(map[uint64]*pendingRequest),
		mutPending: make(map[uint64]mutationWaiter),
	}
}

// RegisterNode records where a node id can be reached on the wire. The
// shard registry already knows which node id owns which shard; this is the
// last hop from node id to network address.
func (c *Coordinator) RegisterNode(nodeID string, loc transport.Location) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	c.nodeLocs[nodeID] = loc
}

// UnregisterNode drops a node's known location, e.g. once HealthMonitor
// reports it gone for good.
func (c *Coordinator) UnregisterNode(nodeID string) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	delete(c.nodeLocs, nodeID)
}

func (c *Coordinator) locationForNode(nodeID string) (transport.Location, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	loc, ok := c.nodeLocs[nodeID]
	return loc, ok
}

// shardForHandle reuses ShardRegistry's FNV-1a key hash over the handle's
// decimal form, the same hash package shard's OwnsNode applies to the
// handle directly — the two must agree for coordinator-computed routing to
// land on the shard that will actually claim ownership.
func (c *Coordinator) shardForHandle(handle uint64) int {
	return c.registry.GetShardForKey(strconv.FormatUint(handle, 10))
}

// locationForHandle resolves a node handle all the way to a network
// location: handle -> shard id -> owning node id -> address.
func (c *Coordinator) locationForHandle(handle uint64) (transport.Location, error) {
	shardID := c.shardForHandle(handle)
	assignment := c.registry.GetAssignment(shardID)
	if assignment == nil {
		return transport.Location{}, fmt.Errorf("%w: shard %d unassigned", ErrNodeUnregistered, shardID)
	}
	loc, ok := c.locationForNode(assignment.NodeID)
	if !ok {
		return transport.Location{}, fmt.Errorf("%w: node %s", ErrNodeUnregistered, assignment.NodeID)
	}
	return loc, nil
}

// ResolveShardLocation exposes locationForHandle for the client façade's
// direct graph-mutation requests, which address a shard by node handle
// without going through a node-program request.
func (c *Coordinator) ResolveShardLocation(handle uint64) (transport.Location, error) {
	return c.locationForHandle(handle)
}

// Serve runs the coordinator's inbound message loop: every NODE_PROG reply
// addressed to CoordinatorLoc is folded into its pendingRequest. Blocks
// until the transport's Serve returns (normally via Close).
func (c *Coordinator) Serve() error {
	return c.tr.Serve(c.handleMessage)
}

// Close releases the coordinator's transport.
func (c *Coordinator) Close() error {
	return c.tr.Close()
}

func (c *Coordinator) handleMessage(from transport.Location, payload []byte) {
	m, err := message.Decode(payload)
	if err != nil {
		c.log.Warn("coordinator: malformed message", zap.Stringer("from", from), zap.Error(err))
		return
	}

	switch m.Kind {
	case message.NodeProg:
		c.handleNodeProg(m)
	case message.ClientReply:
		c.handleMutationReply(m)
	case message.ClientNodeCreateReq, message.ClientNodeDeleteReq:
		go c.serveNodeMutation(from, m, m.Kind)
	case message.ClientEdgeCreateReq, message.ClientEdgeDeleteReq:
		go c.serveEdgeMutation(from, m, m.Kind)
	case message.ClientAddEdgeProp, message.ClientDelEdgeProp:
		go c.serveEdgePropertyMutation(from, m, m.Kind)
	case message.ClientReachableReq:
		go c.serveReachableReq(from, m)
	case message.ClientDijkstraReq:
		go c.serveDijkstraReq(from, m)
	case message.ClientClusteringReq:
		go c.serveClusteringReq(from, m)
	case message.ClientNodeProgReq:
		go c.serveEdgeCountReq(from, m)
	default:
		c.log.Warn("coordinator: unexpected message kind", zap.Stringer("kind", m.Kind), zap.Stringer("from", from))
	}
}

func (c *Coordinator) handleNodeProg(m message.Message) {
	header, r, err := message.ParseNodeProg(m)
	if err != nil {
		c.log.Warn("coordinator: bad NODE_PROG envelope", zap.Error(err))
		return
	}
	if header.Target.Loc != CoordinatorLoc {
		c.log.Warn("coordinator: NODE_PROG not addressed to coordinator", zap.Int("loc", header.Target.Loc))
		return
	}

	c.pendingMu.Lock()
	pr := c.pending[header.ReqID]
	c.pendingMu.Unlock()
	if pr == nil {
		// Already completed, cancelled, or timed out: a straggler reply
		// from a branch that hadn't yet returned its credit. Dropping it
		// is correct — the aggregator already declared the request done.
		return
	}

	if err := pr.observe(r); err != nil {
		c.log.Warn("coordinator: failed to decode NODE_PROG reply", zap.Uint64("req_id", header.ReqID), zap.Error(err))
	}
}

func (c *Coordinator) register(progType nodeprog.ProgType) (uint64, *pendingRequest) {
	reqID := atomic.AddUint64(&c.nextReqID, 1)
	pr := newPendingRequest(progType)
	c.pendingMu.Lock()
	c.pending[reqID] = pr
	c.pendingMu.Unlock()
	return reqID, pr
}

func (c *Coordinator) unregister(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// wait blocks until pr completes, ctx is done, or the coordinator's
// request_timeout_ms elapses, whichever comes first. On timeout or
// cancellation it broadcasts CANCEL(reqID) so shards drop the request's
// state instead of exploring it to completion for nothing.
func (c *Coordinator) wait(ctx context.Context, reqID uint64, pr *pendingRequest) error {
	defer c.unregister(reqID)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-pr.done:
		return nil
	case <-ctx.Done():
		c.broadcastCancel(reqID)
		return ErrCancelled
	case <-timer.C:
		c.broadcastCancel(reqID)
		return ErrTimeout
	}
}

// Cancel abandons reqID from the caller's side: it broadcasts
// CANCEL(reqID) and unblocks any goroutine waiting on it.
func (c *Coordinator) Cancel(reqID uint64) {
	c.pendingMu.Lock()
	pr := c.pending[reqID]
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
	if pr != nil {
		pr.mu.Lock()
		pr.finish()
		pr.mu.Unlock()
	}
	c.broadcastCancel(reqID)
}

// broadcastCancel fans CANCEL(reqID) out to every known node concurrently,
// joining all sends via errgroup as the ambient-stack notes prescribe for
// broadcast-and-join operations; a node that is unreachable simply never
// gets to hold state for reqID, so a send failure here is logged, not
// fatal to the cancel itself.
func (c *Coordinator) broadcastCancel(reqID uint64) {
	c.nodesMu.RLock()
	locs := make([]transport.Location, 0, len(c.nodeLocs))
	for _, loc := range c.nodeLocs {
		locs = append(locs, loc)
	}
	c.nodesMu.RUnlock()

	payload := message.PackCancel(reqID)
	var g errgroup.Group
	for _, loc := range locs {
		loc := loc
		g.Go(func() error {
			if err := c.tr.Send(loc, payload); err != nil {
				c.log.Warn("coordinator: cancel broadcast failed", zap.Stringer("to", loc), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// dispatchInitial sends one NODE_PROG message per starting continuation,
// addressed to the shard that owns its target handle. One message per
// continuation rather than batching continuations bound for the same shard
// into a single envelope — a documented simplification over the dispatch
// cycle's own "pack them into one message" grouping optimization.
func (c *Coordinator) dispatchInitial(reqID uint64, reqClock vclock.Clock, progType nodeprog.ProgType, targets []graph.RemoteNode, params []nodeprog.Packable) error {
	for i, target := range targets {
		loc, err := c.locationForHandle(target.Handle)
		if err != nil {
			return err
		}
		p := params[i]
		payload := message.PackNodeProg(message.NodeProgHeader{
			ProgType: uint32(progType),
			ReqID:    reqID,
			ReqClock: reqClock,
			Target:   target,
		}, p.Size(), p.Pack)
		if err := c.tr.Send(loc, payload); err != nil {
			return fmt.Errorf("coordinator: dispatch to %s: %w", loc, err)
		}
	}
	return nil
}

func (c *Coordinator) requestClock() vclock.Clock {
	return vclock.New(CoordinatorOrigin)
}

func (c *Coordinator) replyTo(reqID uint64) graph.RemoteNode {
	return graph.RemoteNode{Loc: CoordinatorLoc, Handle: reqID}
}

// RunReachability starts a Reachability program at every node in starts
// and blocks until every unit of termination credit has returned to the
// coordinator or the request times out.
func (c *Coordinator) RunReachability(ctx context.Context, starts []graph.RemoteNode, dest graph.RemoteNode, maxHops uint32) (*nodeprog.ReachAggregate, error) {
	if len(starts) == 0 {
		return nil, errors.New("coordinator: reachability needs at least one starting node")
	}
	reqID, pr := c.register(nodeprog.Reachability)
	reqClock := c.requestClock()
	replyTo := c.replyTo(reqID)

	shares := nodeprog.SplitCredit(nodeprog.RootCredit, len(starts))
	params := make([]nodeprog.Packable, len(starts))
	for i := range starts {
		params[i] = &nodeprog.ReachParams{Dest: dest, MaxHops: maxHops, Credit: shares[i], ReplyTo: replyTo}
	}

	if err := c.dispatchInitial(reqID, reqClock, nodeprog.Reachability, starts, params); err != nil {
		c.Cancel(reqID)
		return nil, err
	}
	c.metrics.IncClientRequest("reachability")

	if err := c.wait(ctx, reqID, pr); err != nil {
		return nil, err
	}
	result := pr.reach
	return &result, nil
}

// RunDijkstra starts a Dijkstra program at every node in starts and blocks
// until every unit of termination credit has returned to the coordinator
// or the request times out.
func (c *Coordinator) RunDijkstra(ctx context.Context, starts []graph.RemoteNode, dest graph.RemoteNode) (*nodeprog.DijkstraAggregate, error) {
	if len(starts) == 0 {
		return nil, errors.New("coordinator: dijkstra needs at least one starting node")
	}
	reqID, pr := c.register(nodeprog.Dijkstra)
	reqClock := c.requestClock()
	replyTo := c.replyTo(reqID)

	shares := nodeprog.SplitCredit(nodeprog.RootCredit, len(starts))
	params := make([]nodeprog.Packable, len(starts))
	for i := range starts {
		params[i] = &nodeprog.DijkstraParams{Dest: dest, Credit: shares[i], ReplyTo: replyTo}
	}

	if err := c.dispatchInitial(reqID, reqClock, nodeprog.Dijkstra, starts, params); err != nil {
		c.Cancel(reqID)
		return nil, err
	}
	c.metrics.IncClientRequest("dijkstra")

	if err := c.wait(ctx, reqID, pr); err != nil {
		return nil, err
	}
	result := pr.dijkstra
	return &result, nil
}

// RunClustering computes target's local clustering coefficient.
func (c *Coordinator) RunClustering(ctx context.Context, target graph.RemoteNode) (*nodeprog.ClusteringResult, error) {
	reqID, pr := c.register(nodeprog.Clustering)
	reqClock := c.requestClock()
	replyTo := c.replyTo(reqID)

	params := &nodeprog.ClusteringParams{SuperNode: target, ReplyTo: replyTo}
	if err := c.dispatchInitial(reqID, reqClock, nodeprog.Clustering, []graph.RemoteNode{target}, []nodeprog.Packable{params}); err != nil {
		c.Cancel(reqID)
		return nil, err
	}
	c.metrics.IncClientRequest("clustering")

	if err := c.wait(ctx, reqID, pr); err != nil {
		return nil, err
	}
	return pr.cluster, nil
}

// RunEdgeCount sums visible out-degree across starts via superNode, which
// must be one of starts (the program seeds its own degree on its first
// visit, as EdgeCountProgram.Run documents).
func (c *Coordinator) RunEdgeCount(ctx context.Context, starts []graph.RemoteNode, superNode graph.RemoteNode) (*nodeprog.EdgeCountResult, error) {
	if len(starts) == 0 {
		return nil, errors.New("coordinator: edge count needs at least one starting node")
	}
	reqID, pr := c.register(nodeprog.EdgeCount)
	reqClock := c.requestClock()
	vtsNode := c.replyTo(reqID)

	params := make([]nodeprog.Packable, len(starts))
	for i, start := range starts {
		p := &nodeprog.EdgeCountParams{SuperNode: superNode, VtsNode: vtsNode}
		if start == superNode {
			p.ResponsesLeft = uint64(len(starts))
		}
		params[i] = p
	}

	if err := c.dispatchInitial(reqID, reqClock, nodeprog.EdgeCount, starts, params); err != nil {
		c.Cancel(reqID)
		return nil, err
	}
	c.metrics.IncClientRequest("edge_count")

	if err := c.wait(ctx, reqID, pr); err != nil {
		return nil, err
	}
	return pr.edges, nil
}
