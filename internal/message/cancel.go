package message

import "github.com/theseusyang/weaver/internal/codec"

// PackCancel builds a CANCEL_REQUEST envelope: the coordinator broadcasts
// one of these per abandoned or timed-out request, and every shard that
// receives it drops whatever state it holds for reqID unconditionally,
// whether or not it was ever involved in that request.
func PackCancel(reqID uint64) []byte {
	return Prepare(CancelRequest, codec.SizeOfUint64, func(w *codec.Writer) {
		w.PutUint64(reqID)
	})
}

// ParseCancel decodes a CANCEL_REQUEST envelope's request id.
func ParseCancel(m Message) (uint64, error) {
	r, err := Parse(m, CancelRequest)
	if err != nil {
		return 0, err
	}
	return r.Uint64()
}
