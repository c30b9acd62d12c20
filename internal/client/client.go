// Package client implements the thin façade a process outside the cluster
// uses to talk to a running coordinator: direct graph mutations and
// node-program requests, both riding the same binary wire protocol
// internal/coordinator and internal/shard speak to each other, generalized
// from the teacher's cluster.httpClient/PostJSON/GetJSON request/response
// idiom to a persistent transport.Transport connection instead of one-shot
// HTTP calls.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/transport"
	"github.com/theseusyang/weaver/internal/vclock"
)

// ErrTimeout is returned when a request's context is done before its reply
// arrives. The coordinator times out and cancels node-program requests on
// its own side too; this is the client's independent, possibly shorter,
// deadline.
var ErrTimeout = errors.New("client: request timed out")

// ErrMutationFailed wraps the server-reported reason a mutation could not
// be applied (unknown node, unknown edge, and similar — see
// message.MutationReply.Err).
type ErrMutationFailed struct{ Reason string }

func (e *ErrMutationFailed) Error() string { return "client: mutation failed: " + e.Reason }

// waiter is a single outstanding request: a channel the reply is delivered
// on, closed at most once.
type waiter struct {
	ch chan message.Message
}

// Client is a connection to one coordinator. It mints its own outgoing
// request ids (a space entirely private to this Client — the coordinator
// never sees or cares how a client numbers its own requests) and resolves
// them as replies arrive on its own transport's Serve loop.
type Client struct {
	coordLoc transport.Location
	tr       transport.Transport
	log      *zap.Logger

	nextReqID uint64

	mu      sync.Mutex
	waiters map[uint64]*waiter
}

// New builds a Client that sends to coordLoc over tr. The caller must have
// already bound tr to its own local address (e.g. via
// transport.NewTCPTransport) and must call Serve before issuing any
// request, the same way a shard or coordinator process does.
func New(coordLoc transport.Location, tr transport.Transport, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{coordLoc: coordLoc, tr: tr, log: log, waiters: make(map[uint64]*waiter)}
}

// Serve runs the client's inbound message loop, resolving replies against
// outstanding requests. Blocks until Close is called; run it in its own
// goroutine.
func (c *Client) Serve() error {
	return c.tr.Serve(c.handleMessage)
}

// Close releases the client's transport.
func (c *Client) Close() error {
	return c.tr.Close()
}

func (c *Client) handleMessage(_ transport.Location, payload []byte) {
	m, err := message.Decode(payload)
	if err != nil {
		c.log.Warn("client: malformed reply", zap.Error(err))
		return
	}
	reqID, err := peekReqID(m)
	if err != nil {
		c.log.Warn("client: reply missing a request id", zap.Stringer("kind", m.Kind), zap.Error(err))
		return
	}
	c.mu.Lock()
	w, ok := c.waiters[reqID]
	if ok {
		delete(c.waiters, reqID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	w.ch <- m
}

// peekReqID decodes just enough of m to learn which outstanding request it
// answers, without committing to a full Parse of its particular shape —
// every reply kind the client receives starts with a uint64 request id,
// mutation.go's and clientprog.go's Parse* helpers all reproduce this
// decode immediately afterward.
func peekReqID(m message.Message) (uint64, error) {
	switch m.Kind {
	case message.ClientReply:
		r, err := message.ParseMutationReply(m)
		return r.ReqID, err
	case message.ClientDijkstraReply:
		reqID, _, _, _, err := message.ParseDijkstraReply(m)
		return reqID, err
	case message.ClientClusteringReply:
		reqID, _, err := message.ParseClusteringReply(m)
		return reqID, err
	case message.ClientNodeProgReply:
		r, err := message.ParseNodeProgReply(m)
		return r.ReqID, err
	default:
		return 0, errors.New("client: unexpected reply kind")
	}
}

func (c *Client) register() (uint64, *waiter) {
	id := atomic.AddUint64(&c.nextReqID, 1)
	w := &waiter{ch: make(chan message.Message, 1)}
	c.mu.Lock()
	c.waiters[id] = w
	c.mu.Unlock()
	return id, w
}

func (c *Client) abandon(id uint64) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func (c *Client) roundTrip(ctx context.Context, payload []byte, id uint64, w *waiter) (message.Message, error) {
	if err := c.tr.Send(c.coordLoc, payload); err != nil {
		c.abandon(id)
		return message.Message{}, err
	}
	select {
	case m := <-w.ch:
		return m, nil
	case <-ctx.Done():
		c.abandon(id)
		return message.Message{}, ErrTimeout
	}
}

func mutationResult(m message.Message) (vclock.Clock, error) {
	reply, err := message.ParseMutationReply(m)
	if err != nil {
		return vclock.Clock{}, err
	}
	if !reply.OK {
		return vclock.Clock{}, &ErrMutationFailed{Reason: reply.Err}
	}
	return reply.Clock, nil
}

// CreateNode asks the coordinator to create handle, returning the vector
// clock it was stamped at.
func (c *Client) CreateNode(ctx context.Context, handle uint64, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackNodeMutation(message.ClientNodeCreateReq, message.NodeMutation{ReqID: id, Handle: handle, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// DeleteNode asks the coordinator to soft-delete handle.
func (c *Client) DeleteNode(ctx context.Context, handle uint64, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackNodeMutation(message.ClientNodeDeleteReq, message.NodeMutation{ReqID: id, Handle: handle, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// CreateEdge asks the coordinator to add a directed edge from src to dst,
// identified by edgeID (caller-assigned, unique per src).
func (c *Client) CreateEdge(ctx context.Context, src uint64, edgeID uint64, dst graph.RemoteNode, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackEdgeMutation(message.ClientEdgeCreateReq, message.EdgeMutation{ReqID: id, Src: src, EdgeID: edgeID, Dst: dst, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// DeleteEdge asks the coordinator to soft-delete edgeID on src.
func (c *Client) DeleteEdge(ctx context.Context, src uint64, edgeID uint64, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackEdgeMutation(message.ClientEdgeDeleteReq, message.EdgeMutation{ReqID: id, Src: src, EdgeID: edgeID, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// AddEdgeProperty appends a property to edge edgeID on node src.
func (c *Client) AddEdgeProperty(ctx context.Context, src uint64, edgeID uint64, key string, value []byte, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackEdgePropertyMutation(message.ClientAddEdgeProp, message.EdgePropertyMutation{ReqID: id, Src: src, EdgeID: edgeID, Key: key, Value: value, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// DeleteEdgeProperty soft-deletes every live property named key on edge
// edgeID.
func (c *Client) DeleteEdgeProperty(ctx context.Context, src uint64, edgeID uint64, key string, observed vclock.Clock) (vclock.Clock, error) {
	id, w := c.register()
	payload := message.PackEdgePropertyMutation(message.ClientDelEdgeProp, message.EdgePropertyMutation{ReqID: id, Src: src, EdgeID: edgeID, Key: key, Clock: observed})
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return vclock.Clock{}, err
	}
	return mutationResult(m)
}

// ReachableResult is the client-visible outcome of a Reachable call.
type ReachableResult struct {
	Found bool
	Hops  uint32
}

// Reachable asks whether dest can be reached from any of starts by hopping
// along visible out-edges, optionally bounded by maxHops (0 means
// unbounded).
func (c *Client) Reachable(ctx context.Context, starts []graph.RemoteNode, dest graph.RemoteNode, maxHops uint32) (*ReachableResult, error) {
	id, w := c.register()
	payload := message.PackReachableReq(id, starts, dest, maxHops)
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return nil, err
	}
	reply, err := message.ParseNodeProgReply(m)
	if err != nil {
		return nil, err
	}
	return &ReachableResult{Found: reply.Found, Hops: reply.Hops}, nil
}

// DijkstraResult is the client-visible outcome of a Dijkstra call.
type DijkstraResult struct {
	Found    bool
	Distance uint64
	Path     []graph.RemoteNode
}

// Dijkstra asks for the shortest weighted path from any of starts to dest.
func (c *Client) Dijkstra(ctx context.Context, starts []graph.RemoteNode, dest graph.RemoteNode) (*DijkstraResult, error) {
	id, w := c.register()
	payload := message.PackDijkstraReq(id, starts, dest)
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return nil, err
	}
	_, found, distance, path, err := message.ParseDijkstraReply(m)
	if err != nil {
		return nil, err
	}
	return &DijkstraResult{Found: found, Distance: distance, Path: path}, nil
}

// Clustering asks for target's local clustering coefficient.
func (c *Client) Clustering(ctx context.Context, target graph.RemoteNode) (float64, error) {
	id, w := c.register()
	payload := message.PackClusteringReq(id, target)
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return 0, err
	}
	_, coeff, err := message.ParseClusteringReply(m)
	return coeff, err
}

// EdgeCount sums visible out-degree across starts via superNode, which
// must be one of starts.
func (c *Client) EdgeCount(ctx context.Context, starts []graph.RemoteNode, superNode graph.RemoteNode) (uint64, error) {
	id, w := c.register()
	payload := message.PackEdgeCountReq(id, starts, superNode)
	m, err := c.roundTrip(ctx, payload, id, w)
	if err != nil {
		return 0, err
	}
	reply, err := message.ParseNodeProgReply(m)
	if err != nil {
		return 0, err
	}
	return reply.Total, nil
}

// WithTimeout is a small convenience matching the coordinator's own
// request_timeout_ms convention: build a context bounded by d for a single
// call.
func WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
