package message

import "testing"

func TestPackParseCancelRoundTrip(t *testing.T) {
	raw := PackCancel(42)
	m, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	reqID, err := ParseCancel(m)
	if err != nil {
		t.Fatal(err)
	}
	if reqID != 42 {
		t.Errorf("reqID = %d, want 42", reqID)
	}
}
