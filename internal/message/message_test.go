package message

import (
	"testing"

	"github.com/theseusyang/weaver/internal/codec"
)

func TestPrepareAndParseRoundTrip(t *testing.T) {
	bodySize := codec.SizeString("hello")
	buf := Prepare(NodeProg, bodySize, func(w *codec.Writer) {
		w.PutString("hello")
	})

	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != NodeProg {
		t.Fatalf("kind = %v, want %v", msg.Kind, NodeProg)
	}

	r, err := Parse(msg, NodeProg)
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.String()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Errorf("body = %q, want %q", s, "hello")
	}
}

func TestParseRejectsKindMismatch(t *testing.T) {
	buf := Prepare(ClientReply, 0, func(*codec.Writer) {})
	msg, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(msg, ClientNodeProgReq); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestDecodeTruncatedKindFails(t *testing.T) {
	if _, err := Decode([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected decode failure on a too-short buffer")
	}
}

func TestKindOrderingIsStableABI(t *testing.T) {
	// The numeric ordering of the enum is part of the ABI: verify a few
	// load-bearing positions directly rather than relying on iota drift
	// going unnoticed in a refactor.
	if ClientNodeCreateReq != 0 {
		t.Fatalf("ClientNodeCreateReq must be the first kind, got %d", ClientNodeCreateReq)
	}
	if ErrorKind <= NodeProg {
		t.Fatalf("ErrorKind must come after NodeProg in the ABI ordering")
	}
}

func TestKindStringKnownAndUnknown(t *testing.T) {
	if NodeProg.String() != "NODE_PROG" {
		t.Errorf("String() = %q", NodeProg.String())
	}
	unknown := Kind(9999)
	if unknown.String() != "UNKNOWN_KIND" {
		t.Errorf("String() = %q, want UNKNOWN_KIND", unknown.String())
	}
}
