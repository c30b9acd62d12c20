package shard

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/theseusyang/weaver/internal/codec"
	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/metrics"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/transport"
	"github.com/theseusyang/weaver/internal/vclock"
)

// CoordinatorLoc mirrors coordinator.CoordinatorLoc: the reserved
// graph.RemoteNode.Loc value naming the coordinator's own terminal
// pseudo-node. Package shard cannot import package coordinator (that
// direction would be circular — the coordinator dispatches to shards, not
// the reverse), so the wire-protocol sentinel is redeclared here. The two
// must always agree; it is a protocol constant, not an implementation
// detail either package owns.
const CoordinatorLoc = -1

// ShardLocator resolves a peer shard id to the network location its server
// listens on, the routing table a Server needs to forward a continuation
// addressed to a shard other than its own.
type ShardLocator interface {
	Location(shardID int) (transport.Location, error)
}

// StaticLocator is a fixed shardID -> Location table, the locator a
// single-process deployment or test wires up directly; a cluster that
// rebalances shards at runtime would refresh this from the coordinator's
// registry instead.
type StaticLocator map[int]transport.Location

func (m StaticLocator) Location(shardID int) (transport.Location, error) {
	loc, ok := m[shardID]
	if !ok {
		return transport.Location{}, fmt.Errorf("shard: no known location for shard %d", shardID)
	}
	return loc, nil
}

// Server is the wire-facing half of a shard process: it decodes inbound
// envelopes, drives Shard's mutation and dispatch methods, and re-packs
// outgoing continuations and replies. Grounded in the teacher's node-side
// HTTP handlers, generalized from JSON request handlers to the binary
// message.Kind switch every shard-to-shard and client-to-shard exchange
// rides on.
//
// CreateEdge only ever records a node's own out-edge on its local shard; a
// successful cross-shard create additionally triggers sendReverseEdge,
// which notifies the neighbor's owning shard over REVERSE_EDGE_CREATE so it
// can record the matching in-edge via Shard.ReceiveReverseEdge.
type Server struct {
	shard    *Shard
	reg      *nodeprog.Registry
	tr       transport.Transport
	peers    ShardLocator
	coordLoc transport.Location
	log      *zap.Logger
	metrics  metrics.Sink
	sem      *semaphore.Weighted
}

// NewServer builds a Server over s, using reg to decode incoming NODE_PROG
// params (the same registry s's own Dispatcher was built from), tr for wire
// I/O, peers to resolve other shards' continuations, and coordLoc to
// resolve continuations addressed to CoordinatorLoc. A nil log or metrics
// sink falls back to a no-op implementation. workerThreads bounds the
// number of NODE_PROG hops and client mutations this server executes
// concurrently (config's worker_threads); zero or negative leaves
// admission unbounded, the shape tests that construct a Server directly
// want.
func NewServer(s *Shard, reg *nodeprog.Registry, tr transport.Transport, peers ShardLocator, coordLoc transport.Location, log *zap.Logger, sink metrics.Sink, workerThreads int) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = metrics.NoopSink
	}
	var sem *semaphore.Weighted
	if workerThreads > 0 {
		sem = semaphore.NewWeighted(int64(workerThreads))
	}
	return &Server{shard: s, reg: reg, tr: tr, peers: peers, coordLoc: coordLoc, log: log, metrics: sink, sem: sem}
}

// admit blocks until a worker slot is free (a no-op when the server was
// built with unbounded workerThreads), returning a func to release it.
// Only called at a request's entry point (handleNodeProg, the three
// handle*Mutation methods, handleReverseEdge) — never inside runHop's own-shard recursion,
// which would deadlock a single-worker server waiting on a slot its own
// outer call already holds.
func (s *Server) admit() func() {
	if s.sem == nil {
		return func() {}
	}
	_ = s.sem.Acquire(context.Background(), 1)
	return func() { s.sem.Release(1) }
}

// Serve runs the server's inbound message loop until Close is called.
func (s *Server) Serve() error {
	return s.tr.Serve(s.handleMessage)
}

// Close releases the server's transport.
func (s *Server) Close() error {
	return s.tr.Close()
}

func (s *Server) handleMessage(from transport.Location, payload []byte) {
	m, err := message.Decode(payload)
	if err != nil {
		s.log.Warn("shard: malformed message", zap.Stringer("from", from), zap.Error(err))
		return
	}

	switch m.Kind {
	case message.NodeProg:
		s.handleNodeProg(m)
	case message.CancelRequest:
		s.handleCancel(m)
	case message.ClientNodeCreateReq, message.ClientNodeDeleteReq:
		s.handleNodeMutation(from, m, m.Kind)
	case message.ClientEdgeCreateReq, message.ClientEdgeDeleteReq:
		s.handleEdgeMutation(from, m, m.Kind)
	case message.ClientAddEdgeProp, message.ClientDelEdgeProp:
		s.handleEdgePropertyMutation(from, m, m.Kind)
	case message.ReverseEdgeCreate:
		s.handleReverseEdge(m)
	default:
		s.log.Warn("shard: unexpected message kind", zap.Stringer("kind", m.Kind), zap.Stringer("from", from))
	}
}

func (s *Server) handleCancel(m message.Message) {
	reqID, err := message.ParseCancel(m)
	if err != nil {
		s.log.Warn("shard: malformed cancel", zap.Error(err))
		return
	}
	s.shard.DropRequest(reqID)
}

// handleNodeProg decodes one hop of a node program and drives it to
// completion from this shard's side: run it, then either execute each
// resulting continuation in place (it targets this shard) or forward it
// over the wire (it targets a peer shard or the coordinator's pseudo-node).
func (s *Server) handleNodeProg(m message.Message) {
	release := s.admit()
	defer release()
	header, r, err := message.ParseNodeProg(m)
	if err != nil {
		s.log.Warn("shard: bad NODE_PROG envelope", zap.Error(err))
		return
	}
	progType := nodeprog.ProgType(header.ProgType)
	prog, ok := s.reg.Get(progType)
	if !ok {
		s.log.Warn("shard: unknown program type", zap.Uint32("prog_type", header.ProgType))
		return
	}
	params := prog.NewParams()
	if err := params.Unpack(r); err != nil {
		s.log.Warn("shard: failed to decode NODE_PROG params", zap.Error(err))
		return
	}
	s.runHop(progType, header.ReqID, header.ReqClock, header.Target, params)
}

// runHop dispatches one (progType, target, params) hop and drains the
// resulting continuations: same-shard continuations recurse in place
// rather than round-tripping through the transport, the behavior
// groupByShard's own-shard grouping exists to make possible. Continuations
// bound for a peer shard or the coordinator are each packed into their own
// NODE_PROG message and sent, carrying the same ReqClock forward unchanged
// — the clock is fixed for the life of a request, not re-ticked per hop.
func (s *Server) runHop(progType nodeprog.ProgType, reqID uint64, reqClock vclock.Clock, target graph.RemoteNode, params nodeprog.Packable) {
	out, err := s.shard.Dispatch(progType, reqID, reqClock, target, params)
	if err != nil {
		s.metrics.IncDispatchError(s.shard.ID, progType.String())
		s.log.Warn("shard: dispatch failed",
			zap.Int("shard", s.shard.ID), zap.Stringer("prog", progType),
			zap.Uint64("req_id", reqID), zap.Uint64("handle", target.Handle), zap.Error(err))
		return
	}
	s.metrics.IncDispatch(s.shard.ID, progType.String())

	for _, group := range out {
		if group.ShardID == s.shard.ID {
			for _, cont := range group.Continuations {
				s.runHop(progType, reqID, reqClock, cont.Target, cont.Params)
			}
			continue
		}
		s.sendContinuations(progType, reqID, reqClock, group)
	}
}

func (s *Server) sendContinuations(progType nodeprog.ProgType, reqID uint64, reqClock vclock.Clock, group nodeprog.Outgoing) {
	dest, err := s.locationFor(group.ShardID)
	if err != nil {
		s.log.Warn("shard: cannot route continuation", zap.Int("dest_shard", group.ShardID), zap.Error(err))
		return
	}
	for _, cont := range group.Continuations {
		header := message.NodeProgHeader{ProgType: uint32(progType), ReqID: reqID, ReqClock: reqClock, Target: cont.Target}
		payload := message.PackNodeProg(header, cont.Params.Size(), func(w *codec.Writer) { cont.Params.Pack(w) })
		if err := s.tr.Send(dest, payload); err != nil {
			s.log.Warn("shard: failed to forward continuation",
				zap.Stringer("to", dest), zap.Uint64("handle", cont.Target.Handle), zap.Error(err))
		}
	}
}

func (s *Server) locationFor(shardID int) (transport.Location, error) {
	if shardID == CoordinatorLoc {
		return s.coordLoc, nil
	}
	return s.peers.Location(shardID)
}

func (s *Server) replyMutationErr(to transport.Location, reqID uint64, err error) {
	s.send(to, message.PackMutationReply(message.MutationReply{ReqID: reqID, OK: false, Err: err.Error()}))
}

func (s *Server) replyMutationOK(to transport.Location, reqID uint64, at vclock.Clock) {
	s.send(to, message.PackMutationReply(message.MutationReply{ReqID: reqID, OK: true, Clock: at}))
}

func (s *Server) send(to transport.Location, payload []byte) {
	if err := s.tr.Send(to, payload); err != nil {
		s.log.Warn("shard: failed to send reply", zap.Stringer("to", to), zap.Error(err))
	}
}

func (s *Server) handleNodeMutation(from transport.Location, m message.Message, kind message.Kind) {
	release := s.admit()
	defer release()
	req, err := message.ParseNodeMutation(m, kind)
	if err != nil {
		s.log.Warn("shard: malformed node mutation", zap.Error(err))
		return
	}
	s.metrics.IncClientRequest(kind.String())
	switch kind {
	case message.ClientNodeCreateReq:
		at := s.shard.CreateNode(req.Handle, req.Clock)
		s.replyMutationOK(from, req.ReqID, at)
	case message.ClientNodeDeleteReq:
		at, err := s.shard.DeleteNode(req.Handle, req.Clock)
		if err != nil {
			s.replyMutationErr(from, req.ReqID, err)
			return
		}
		s.replyMutationOK(from, req.ReqID, at)
	}
}

func (s *Server) handleEdgeMutation(from transport.Location, m message.Message, kind message.Kind) {
	release := s.admit()
	defer release()
	req, err := message.ParseEdgeMutation(m, kind)
	if err != nil {
		s.log.Warn("shard: malformed edge mutation", zap.Error(err))
		return
	}
	s.metrics.IncClientRequest(kind.String())
	switch kind {
	case message.ClientEdgeCreateReq:
		at, err := s.shard.CreateEdge(req.Src, req.EdgeID, req.Dst, req.Clock)
		if err != nil {
			s.replyMutationErr(from, req.ReqID, err)
			return
		}
		if req.Dst.Loc != s.shard.ID {
			s.sendReverseEdge(req.Dst, req.EdgeID, req.Src, at)
		}
		s.replyMutationOK(from, req.ReqID, at)
	case message.ClientEdgeDeleteReq:
		at, err := s.shard.DeleteEdge(req.Src, req.EdgeID, req.Clock)
		if err != nil {
			s.replyMutationErr(from, req.ReqID, err)
			return
		}
		s.replyMutationOK(from, req.ReqID, at)
	}
}

// sendReverseEdge notifies dst's owning shard of the in-edge CreateEdge just
// recorded on this shard, so VisibleInEdges sees a cross-shard edge from
// either end. srcHandle is local to this shard, so the neighbor the
// receiving shard must record points back here.
func (s *Server) sendReverseEdge(dst graph.RemoteNode, edgeID uint64, srcHandle uint64, at vclock.Clock) {
	loc, err := s.locationFor(dst.Loc)
	if err != nil {
		s.log.Warn("shard: cannot route reverse edge", zap.Int("dest_shard", dst.Loc), zap.Error(err))
		return
	}
	src := graph.RemoteNode{Loc: s.shard.ID, Handle: srcHandle}
	payload := message.PackReverseEdgeCreate(message.ReverseEdgeMutation{
		Dst: dst.Handle, EdgeID: edgeID, Src: src, Clock: at,
	})
	if err := s.tr.Send(loc, payload); err != nil {
		s.log.Warn("shard: failed to send reverse edge",
			zap.Stringer("to", loc), zap.Uint64("dst", dst.Handle), zap.Error(err))
	}
}

func (s *Server) handleReverseEdge(m message.Message) {
	release := s.admit()
	defer release()
	req, err := message.ParseReverseEdgeCreate(m)
	if err != nil {
		s.log.Warn("shard: malformed reverse edge", zap.Error(err))
		return
	}
	if err := s.shard.ReceiveReverseEdge(req.Dst, req.EdgeID, req.Src, req.Clock); err != nil {
		s.log.Warn("shard: failed to record reverse edge",
			zap.Uint64("dst", req.Dst), zap.Uint64("edge_id", req.EdgeID), zap.Error(err))
	}
}

func (s *Server) handleEdgePropertyMutation(from transport.Location, m message.Message, kind message.Kind) {
	release := s.admit()
	defer release()
	req, err := message.ParseEdgePropertyMutation(m, kind)
	if err != nil {
		s.log.Warn("shard: malformed edge property mutation", zap.Error(err))
		return
	}
	s.metrics.IncClientRequest(kind.String())
	switch kind {
	case message.ClientAddEdgeProp:
		at, err := s.shard.AddEdgeProperty(req.Src, req.EdgeID, req.Key, req.Value, req.Clock)
		if err != nil {
			s.replyMutationErr(from, req.ReqID, err)
			return
		}
		s.replyMutationOK(from, req.ReqID, at)
	case message.ClientDelEdgeProp:
		at, _, err := s.shard.DeleteEdgeProperty(req.Src, req.EdgeID, req.Key, req.Clock)
		if err != nil {
			s.replyMutationErr(from, req.ReqID, err)
			return
		}
		s.replyMutationOK(from, req.ReqID, at)
	}
}
