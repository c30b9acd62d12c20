package coordinator

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/transport"
)

// This file wires the coordinator's client-facing wire surface: the six
// direct graph-mutation requests, forwarded to whichever shard owns the
// target handle and relayed back once that shard replies, and the four
// node-program request kinds, served in-process against the Run* methods
// in coordinator.go. Both halves reuse the pendingRequest/mutationWaiter
// register-dispatch-wait-reply shape rather than introducing a third one.

// registerMutation mints a fresh coordinator-local id for a forwarded
// mutation and remembers where its reply belongs and under which id the
// original caller is waiting for it, the same correlation trick
// dispatchInitial/handleNodeProg use for node programs, scoped to its own
// id space and map so a mutation's id can never collide with a
// node-program request's.
func (c *Coordinator) registerMutation(from transport.Location, clientReqID uint64) uint64 {
	id := atomic.AddUint64(&c.nextMutReqID, 1)
	c.mutMu.Lock()
	c.mutPending[id] = mutationWaiter{loc: from, clientReqID: clientReqID}
	c.mutMu.Unlock()
	return id
}

func (c *Coordinator) takeMutation(id uint64) (mutationWaiter, bool) {
	c.mutMu.Lock()
	defer c.mutMu.Unlock()
	w, ok := c.mutPending[id]
	if ok {
		delete(c.mutPending, id)
	}
	return w, ok
}

// handleMutationReply relays a CLIENT_REPLY from a shard back to the
// client that originated the forwarded mutation, substituting the client's
// own request id back in.
func (c *Coordinator) handleMutationReply(m message.Message) {
	reply, err := message.ParseMutationReply(m)
	if err != nil {
		c.log.Warn("coordinator: malformed mutation reply", zap.Error(err))
		return
	}
	w, ok := c.takeMutation(reply.ReqID)
	if !ok {
		// Already relayed, or this reply belongs to a request issued
		// directly between two shards rather than forwarded by us.
		return
	}
	reply.ReqID = w.clientReqID
	c.send(w.loc, message.PackMutationReply(reply))
}

func (c *Coordinator) replyMutationErr(to transport.Location, clientReqID uint64, err error) {
	c.send(to, message.PackMutationReply(message.MutationReply{ReqID: clientReqID, OK: false, Err: err.Error()}))
}

// forwardMutation resolves the shard owning handle, mints a coordinator-local
// id for the forward, and sends the rebuilt envelope (with that id in place
// of the client's own) to the owning shard. The shard's eventual CLIENT_REPLY
// is relayed back to from by handleMutationReply.
func (c *Coordinator) forwardMutation(clientReqID uint64, from transport.Location, handle uint64, rebuild func(internalReqID uint64) []byte) {
	shardLoc, err := c.locationForHandle(handle)
	if err != nil {
		c.replyMutationErr(from, clientReqID, err)
		return
	}
	internalID := c.registerMutation(from, clientReqID)
	if err := c.tr.Send(shardLoc, rebuild(internalID)); err != nil {
		c.takeMutation(internalID)
		c.replyMutationErr(from, clientReqID, err)
	}
}

func (c *Coordinator) serveNodeMutation(from transport.Location, m message.Message, kind message.Kind) {
	req, err := message.ParseNodeMutation(m, kind)
	if err != nil {
		c.log.Warn("coordinator: malformed node mutation", zap.Error(err))
		return
	}
	c.forwardMutation(req.ReqID, from, req.Handle, func(internalReqID uint64) []byte {
		req.ReqID = internalReqID
		return message.PackNodeMutation(kind, req)
	})
}

func (c *Coordinator) serveEdgeMutation(from transport.Location, m message.Message, kind message.Kind) {
	req, err := message.ParseEdgeMutation(m, kind)
	if err != nil {
		c.log.Warn("coordinator: malformed edge mutation", zap.Error(err))
		return
	}
	c.forwardMutation(req.ReqID, from, req.Src, func(internalReqID uint64) []byte {
		req.ReqID = internalReqID
		return message.PackEdgeMutation(kind, req)
	})
}

func (c *Coordinator) serveEdgePropertyMutation(from transport.Location, m message.Message, kind message.Kind) {
	req, err := message.ParseEdgePropertyMutation(m, kind)
	if err != nil {
		c.log.Warn("coordinator: malformed edge property mutation", zap.Error(err))
		return
	}
	c.forwardMutation(req.ReqID, from, req.Src, func(internalReqID uint64) []byte {
		req.ReqID = internalReqID
		return message.PackEdgePropertyMutation(kind, req)
	})
}

func (c *Coordinator) runCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *Coordinator) serveReachableReq(from transport.Location, m message.Message) {
	clientReqID, starts, dest, maxHops, err := message.ParseReachableReq(m)
	if err != nil {
		c.log.Warn("coordinator: malformed reachability request", zap.Error(err))
		return
	}
	ctx, cancel := c.runCtx()
	defer cancel()
	result, err := c.RunReachability(ctx, starts, dest, maxHops)
	if err != nil {
		c.log.Warn("coordinator: reachability request failed", zap.Uint64("client_req_id", clientReqID), zap.Error(err))
		return
	}
	c.send(from, message.PackReachableReply(clientReqID, result.Found, result.Hops))
}

func (c *Coordinator) serveDijkstraReq(from transport.Location, m message.Message) {
	clientReqID, starts, dest, err := message.ParseDijkstraReq(m)
	if err != nil {
		c.log.Warn("coordinator: malformed dijkstra request", zap.Error(err))
		return
	}
	ctx, cancel := c.runCtx()
	defer cancel()
	result, err := c.RunDijkstra(ctx, starts, dest)
	if err != nil {
		c.log.Warn("coordinator: dijkstra request failed", zap.Uint64("client_req_id", clientReqID), zap.Error(err))
		return
	}
	c.send(from, message.PackDijkstraReply(clientReqID, result.Found, result.Distance, result.Path))
}

func (c *Coordinator) serveClusteringReq(from transport.Location, m message.Message) {
	clientReqID, target, err := message.ParseClusteringReq(m)
	if err != nil {
		c.log.Warn("coordinator: malformed clustering request", zap.Error(err))
		return
	}
	ctx, cancel := c.runCtx()
	defer cancel()
	result, err := c.RunClustering(ctx, target)
	if err != nil {
		c.log.Warn("coordinator: clustering request failed", zap.Uint64("client_req_id", clientReqID), zap.Error(err))
		return
	}
	c.send(from, message.PackClusteringReply(clientReqID, result.Coefficient))
}

func (c *Coordinator) serveEdgeCountReq(from transport.Location, m message.Message) {
	clientReqID, starts, superNode, err := message.ParseEdgeCountReq(m)
	if err != nil {
		c.log.Warn("coordinator: malformed edge count request", zap.Error(err))
		return
	}
	ctx, cancel := c.runCtx()
	defer cancel()
	result, err := c.RunEdgeCount(ctx, starts, superNode)
	if err != nil {
		c.log.Warn("coordinator: edge count request failed", zap.Uint64("client_req_id", clientReqID), zap.Error(err))
		return
	}
	c.send(from, message.PackEdgeCountReply(clientReqID, result.Total))
}

func (c *Coordinator) send(to transport.Location, payload []byte) {
	if err := c.tr.Send(to, payload); err != nil {
		c.log.Warn("coordinator: failed to send client reply", zap.Stringer("to", to), zap.Error(err))
	}
}
