package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/theseusyang/weaver/internal/graph"
	"github.com/theseusyang/weaver/internal/message"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/transport"
)

// fakeTransport is an in-memory transport.Transport double: Send records
// the payload instead of putting it on a wire, and the test drives replies
// back into the coordinator by calling its handler directly.
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

func newTestCoordinator(t *testing.T, numShards int) (*Coordinator, *fakeTransport) {
	t.Helper()
	registry := NewShardRegistry(numShards)
	for i := 0; i < numShards; i++ {
		if err := registry.AssignShard(i, "node-0", true); err != nil {
			t.Fatal(err)
		}
	}
	tr := &fakeTransport{}
	c := NewCoordinator(registry, tr, 2*time.Second, nil, nil)
	c.RegisterNode("node-0", transport.Location{Host: "127.0.0.1", Port: 9000})
	return c, tr
}

func TestRunEdgeCountSingleStart(t *testing.T) {
	c, tr := newTestCoordinator(t, 1)

	start := graph.RemoteNode{Loc: 0, Handle: 1}
	resultCh := make(chan *nodeprog.EdgeCountResult, 1)
	errCh := make(chan error, 1)

	go func() {
		res, err := c.RunEdgeCount(context.Background(), []graph.RemoteNode{start}, start)
		resultCh <- res
		errCh <- err
	}()

	sent := waitForSend(t, tr)
	m, err := message.Decode(sent.payload)
	if err != nil {
		t.Fatal(err)
	}
	header, r, err := message.ParseNodeProg(m)
	if err != nil {
		t.Fatal(err)
	}
	params := &nodeprog.EdgeCountParams{}
	if err := params.Unpack(r); err != nil {
		t.Fatal(err)
	}
	if params.ResponsesLeft != 1 {
		t.Fatalf("ResponsesLeft = %d, want 1 (single self-seeding start)", params.ResponsesLeft)
	}

	reply := message.PackNodeProg(message.NodeProgHeader{
		ProgType: uint32(nodeprog.EdgeCount),
		ReqID:    header.ReqID,
		Target:   params.VtsNode,
	}, (&nodeprog.EdgeCountResult{Total: 7}).Size(), (&nodeprog.EdgeCountResult{Total: 7}).Pack)
	c.handleMessage(transport.Location{Host: "node-0"}, reply)

	select {
	case res := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
		if res.Total != 7 {
			t.Errorf("Total = %d, want 7", res.Total)
		}
	case <-time.After(time.Second):
		t.Fatal("RunEdgeCount did not return after reply delivered")
	}
}

func TestRunClusteringSingleTarget(t *testing.T) {
	c, tr := newTestCoordinator(t, 1)
	target := graph.RemoteNode{Loc: 0, Handle: 5}

	resultCh := make(chan *nodeprog.ClusteringResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := c.RunClustering(context.Background(), target)
		resultCh <- res
		errCh <- err
	}()

	sent := waitForSend(t, tr)
	m, err := message.Decode(sent.payload)
	if err != nil {
		t.Fatal(err)
	}
	header, _, err := message.ParseNodeProg(m)
	if err != nil {
		t.Fatal(err)
	}

	result := &nodeprog.ClusteringResult{Coefficient: 0.5}
	reply := message.PackNodeProg(message.NodeProgHeader{
		ProgType: uint32(nodeprog.Clustering),
		ReqID:    header.ReqID,
		Target:   graph.RemoteNode{Loc: CoordinatorLoc, Handle: header.ReqID},
	}, result.Size(), result.Pack)
	c.handleMessage(transport.Location{Host: "node-0"}, reply)

	select {
	case res := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
		if res.Coefficient != 0.5 {
			t.Errorf("Coefficient = %v, want 0.5", res.Coefficient)
		}
	case <-time.After(time.Second):
		t.Fatal("RunClustering did not return after reply delivered")
	}
}

func TestRunReachabilityTimesOut(t *testing.T) {
	registry := NewShardRegistry(1)
	if err := registry.AssignShard(0, "node-0", true); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	c := NewCoordinator(registry, tr, 20*time.Millisecond, nil, nil)
	c.RegisterNode("node-0", transport.Location{Host: "127.0.0.1", Port: 9000})

	start := graph.RemoteNode{Loc: 0, Handle: 9}
	dest := graph.RemoteNode{Loc: 0, Handle: 10}

	_, err := c.RunReachability(context.Background(), []graph.RemoteNode{start}, dest, 0)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(c.pending) != 0 {
		t.Error("pending request was not cleaned up after timeout")
	}
}

func TestResolveShardLocationUnregisteredNode(t *testing.T) {
	registry := NewShardRegistry(1)
	if err := registry.AssignShard(0, "node-0", true); err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(registry, &fakeTransport{}, time.Second, nil, nil)

	if _, err := c.ResolveShardLocation(1); err == nil {
		t.Fatal("expected an error resolving a node that was never registered")
	}
}

func waitForSend(t *testing.T, tr *fakeTransport) sentPayload {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		n := len(tr.sent)
		tr.mu.Unlock()
		if n > 0 {
			return tr.lastSent()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for coordinator to send a message")
	return sentPayload{}
}
