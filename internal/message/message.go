package message

import (
	"fmt"

	"github.com/theseusyang/weaver/internal/codec"
)

// sizeOfKind is the on-wire width of a Kind tag: a 32-bit unsigned integer.
const sizeOfKind = codec.SizeOfUint32

// Message is a decoded envelope: a kind tag plus the body bytes that follow
// it, not yet unpacked into their kind-specific fields.
type Message struct {
	Kind Kind
	Body []byte
}

// Prepare packs a message whose body is produced by packBody, called with a
// Writer pre-sized for bodySize, and returns the encoded (kind, body)
// envelope ready to hand to a transport for framing. bodySize must equal
// the number of bytes packBody writes — callers compute it the same way
// they would compute Size(args...) in the codec's sizing rules.
func Prepare(kind Kind, bodySize int, packBody func(*codec.Writer)) []byte {
	w := codec.NewWriter(sizeOfKind + bodySize)
	w.PutUint32(uint32(kind))
	packBody(w)
	return w.Bytes()
}

// Decode splits a raw envelope (as produced by Prepare, after the
// transport header has been stripped) into its Kind and Body.
func Decode(buf []byte) (Message, error) {
	r := codec.NewReader(buf)
	kindTag, err := r.Uint32()
	if err != nil {
		return Message{}, fmt.Errorf("message: decode kind: %w", err)
	}
	return Message{Kind: Kind(kindTag), Body: buf[r.Offset():]}, nil
}

// Parse enforces that m has the expected kind and returns a Reader
// positioned at the start of its body, ready for the caller to unpack its
// kind-specific arguments. A kind mismatch is a fatal protocol error, not a
// recoverable one — it means a shard's routing table and its peer's message
// kind disagree about what is at the other end of a request id.
func Parse(m Message, expected Kind) (*codec.Reader, error) {
	if m.Kind != expected {
		return nil, fmt.Errorf("message: %w: got %s, expected %s", codec.ErrTypeMismatch, m.Kind, expected)
	}
	return codec.NewReader(m.Body), nil
}
