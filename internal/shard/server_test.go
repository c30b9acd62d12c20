package shard

import (
	"sync"
	"testing"

	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/storage"
	"github.com/theseusyang/weaver/internal/transport"
	"github.com/theseusyang/weaver/internal/vclock"
)

// fakeTransport is an in-memory transport.Transport double, the same shape
// coordinator's tests use: Send records the payload, and the test drives
// further messages into the server by calling its handler directly.
type fakeTransport struct {
	mu      sync.Mutex
	handler transport.Handler
	sent    []sentPayload
}

type sentPayload struct {
	to      transport.Location
	payload []byte
}

func (f *fakeTransport) Send(to transport.Location, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPayload{to: to, payload: payload})
	return nil
}

func (f *fakeTransport) Serve(h transport.Handler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) lastSent() sentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func newTestServer(t *testing.T, id int) (*Server, *Shard, *fakeTransport) {
	t.Helper()
	registry := nodeprog.NewRegistry()
	registry.Register(nodeprog.ReachProgram{})
	s := NewShard(id, true, storage.NewMemoryStore(), registry)
	tr := &fakeTransport{}
	srv := NewServer(s, registry, tr, StaticLocator{}, transport.Location{Host: "coord", Port: 1}, nil, nil, 0)
	if err := srv.Serve(); err != nil {
		t.Fatal(err)
	}
	return srv, s, tr
}

func TestHandleNodeMutationCreate(t *testing.T) {
	srv, s, tr := newTestServer(t, 0)
	from := transport.Location{Host: "client", Port: 1}

	payload := message.PackNodeMutation(message.ClientNodeCreateReq, message.NodeMutation{ReqID: 1, Handle: 42, Clock: vclock.New(0)})
	srv.handleMessage(from, payload)

	if _, err := s.Store.Get(42); err != nil {
		t.Fatalf("expected node 42 to exist: %v", err)
	}
	reply, err := message.ParseMutationReply(decodeLast(t, tr))
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReqID != 1 || !reply.OK {
		t.Errorf("got %+v", reply)
	}
}

func TestHandleNodeMutationDeleteUnknown(t *testing.T) {
	srv, _, tr := newTestServer(t, 0)
	from := transport.Location{Host: "client", Port: 1}

	payload := message.PackNodeMutation(message.ClientNodeDeleteReq, message.NodeMutation{ReqID: 2, Handle: 99, Clock: vclock.New(0)})
	srv.handleMessage(from, payload)

	reply, err := message.ParseMutationReply(decodeLast(t, tr))
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReqID != 2 || reply.OK {
		t.Errorf("expected failure reply, got %+v", reply)
	}
}

func TestHandleEdgeMutationCreate(t *testing.T) {
	srv, s, tr := newTestServer(t, 0)
	from := transport.Location{Host: "client", Port: 1}
	s.CreateNode(1, vclock.New(0))
	s.CreateNode(2, vclock.New(0))

	in := message.EdgeMutation{ReqID: 5, Src: 1, EdgeID: 7, Dst: graph.RemoteNode{Loc: 0, Handle: 2}, Clock: vclock.New(0)}
	srv.handleMessage(from, message.PackEdgeMutation(message.ClientEdgeCreateReq, in))

	node, err := s.Store.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := node.OutEdges[7]; !ok {
		t.Fatal("expected edge 7 on node 1")
	}
	reply, err := message.ParseMutationReply(decodeLast(t, tr))
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReqID != 5 || !reply.OK {
		t.Errorf("got %+v", reply)
	}
}

func TestHandleEdgeMutationCreateCrossShardSendsReverseEdge(t *testing.T) {
	registry := nodeprog.NewRegistry()
	s := NewShard(0, true, storage.NewMemoryStore(), registry)
	tr := &fakeTransport{}
	peerLoc := transport.Location{Host: "shard-1", Port: 2}
	srv := NewServer(s, registry, tr, StaticLocator{1: peerLoc}, transport.Location{Host: "coord", Port: 1}, nil, nil, 0)
	if err := srv.Serve(); err != nil {
		t.Fatal(err)
	}
	s.CreateNode(1, vclock.New(0))
	from := transport.Location{Host: "client", Port: 1}

	in := message.EdgeMutation{ReqID: 5, Src: 1, EdgeID: 7, Dst: graph.RemoteNode{Loc: 1, Handle: 2}, Clock: vclock.New(0)}
	srv.handleMessage(from, message.PackEdgeMutation(message.ClientEdgeCreateReq, in))

	node, err := s.Store.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := node.OutEdges[7]; !ok {
		t.Fatal("expected edge 7 on node 1")
	}

	tr.mu.Lock()
	sent := append([]sentPayload(nil), tr.sent...)
	tr.mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected a reverse edge message and a mutation reply, got %d sends", len(sent))
	}
	if sent[0].to != peerLoc {
		t.Fatalf("expected the reverse edge sent to the neighbor's shard %v, got %v", peerLoc, sent[0].to)
	}
	rev, err := message.ParseReverseEdgeCreate(mustDecode(t, sent[0].payload))
	if err != nil {
		t.Fatal(err)
	}
	if rev.Dst != 2 || rev.EdgeID != 7 || rev.Src != (graph.RemoteNode{Loc: 0, Handle: 1}) {
		t.Fatalf("got %+v", rev)
	}

	reply, err := message.ParseMutationReply(mustDecode(t, sent[1].payload))
	if err != nil {
		t.Fatal(err)
	}
	if reply.ReqID != 5 || !reply.OK {
		t.Errorf("got %+v", reply)
	}
}

func TestHandleEdgeMutationCreateSameShardSkipsReverseEdge(t *testing.T) {
	srv, s, tr := newTestServer(t, 0)
	from := transport.Location{Host: "client", Port: 1}
	s.CreateNode(1, vclock.New(0))
	s.CreateNode(2, vclock.New(0))

	in := message.EdgeMutation{ReqID: 5, Src: 1, EdgeID: 7, Dst: graph.RemoteNode{Loc: 0, Handle: 2}, Clock: vclock.New(0)}
	srv.handleMessage(from, message.PackEdgeMutation(message.ClientEdgeCreateReq, in))

	tr.mu.Lock()
	n := len(tr.sent)
	tr.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected only the mutation reply for a same-shard edge, got %d sends", n)
	}
}

func TestHandleReverseEdgePopulatesInEdges(t *testing.T) {
	srv, s, _ := newTestServer(t, 1)
	s.CreateNode(2, vclock.New(0))

	rev := message.ReverseEdgeMutation{Dst: 2, EdgeID: 7, Src: graph.RemoteNode{Loc: 0, Handle: 1}, Clock: vclock.New(0)}
	srv.handleMessage(transport.Location{}, message.PackReverseEdgeCreate(rev))

	node, err := s.Store.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	edge, ok := node.InEdges[7]
	if !ok {
		t.Fatal("expected edge 7 recorded as an in-edge on node 2")
	}
	if edge.Neighbor != (graph.RemoteNode{Loc: 0, Handle: 1}) {
		t.Fatalf("got neighbor %+v", edge.Neighbor)
	}
}

func TestHandleCancelDropsState(t *testing.T) {
	srv, s, _ := newTestServer(t, 0)
	s.CreateNode(1, vclock.New(0))
	key := nodeprog.StateKey{ProgType: nodeprog.Reachability, ReqID: 9, NodeID: 1}
	s.StateSlot(key, func() nodeprog.Packable { return &nodeprog.ReachState{} })

	srv.handleMessage(transport.Location{}, message.PackCancel(9))

	if slot := s.StateSlot(key, func() nodeprog.Packable { return &nodeprog.ReachState{Visited: true} }); slot.(*nodeprog.ReachState).Visited != true {
		t.Fatal("expected a fresh slot after cancel dropped the old one")
	}
}

func TestRunHopReachabilitySameShardRecursion(t *testing.T) {
	srv, s, tr := newTestServer(t, 0)
	s.CreateNode(1, vclock.New(0))
	s.CreateNode(2, vclock.New(0))
	edgeAt, err := s.CreateEdge(1, 100, graph.RemoteNode{Loc: 0, Handle: 2}, vclock.New(0))
	if err != nil {
		t.Fatal(err)
	}

	coordTarget := graph.RemoteNode{Loc: CoordinatorLoc, Handle: 0}
	params := &nodeprog.ReachParams{Dest: graph.RemoteNode{Loc: 0, Handle: 2}, MaxHops: 0, Credit: nodeprog.RootCredit, ReplyTo: coordTarget}

	header := message.NodeProgHeader{ProgType: uint32(nodeprog.Reachability), ReqID: 1, ReqClock: edgeAt, Target: graph.RemoteNode{Loc: 0, Handle: 1}}
	srv.handleNodeProg(mustDecode(t, message.PackNodeProg(header, params.Size(), params.Pack)))

	sent := tr.lastSent()
	if sent.to != (transport.Location{Host: "coord", Port: 1}) {
		t.Fatalf("expected the terminal report to route to the coordinator, got %v", sent.to)
	}
	gotHeader, r, err := message.ParseNodeProg(mustDecode(t, sent.payload))
	if err != nil {
		t.Fatal(err)
	}
	var out nodeprog.ReachParams
	if err := out.Unpack(r); err != nil {
		t.Fatal(err)
	}
	if !out.Returning || !out.Reachable {
		t.Errorf("expected a reachable report, got %+v (header %+v)", out, gotHeader)
	}
}

func decodeLast(t *testing.T, tr *fakeTransport) message.Message {
	t.Helper()
	return mustDecode(t, tr.lastSent().payload)
}

func mustDecode(t *testing.T, payload []byte) message.Message {
	t.Helper()
	m, err := message.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
