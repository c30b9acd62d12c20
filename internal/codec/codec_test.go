package codec

import (
	"math"
	"sort"
	"testing"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.PutBool(true)
	w.PutBool(false)
	w.PutUint16(0xBEEF)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(0x0123456789ABCDEF)
	w.PutInt64(-42)
	w.PutDouble(3.14159265358979)
	w.PutString("hello, graph")

	r := NewReader(w.Bytes())
	if b, err := r.Bool(); err != nil || b != true {
		t.Fatalf("Bool() = %v, %v", b, err)
	}
	if b, err := r.Bool(); err != nil || b != false {
		t.Fatalf("Bool() = %v, %v", b, err)
	}
	if v, err := r.Uint16(); err != nil || v != 0xBEEF {
		t.Fatalf("Uint16() = %x, %v", v, err)
	}
	if v, err := r.Uint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("Uint32() = %x, %v", v, err)
	}
	if v, err := r.Uint64(); err != nil || v != 0x0123456789ABCDEF {
		t.Fatalf("Uint64() = %x, %v", v, err)
	}
	if v, err := r.Int64(); err != nil || v != -42 {
		t.Fatalf("Int64() = %d, %v", v, err)
	}
	if v, err := r.Double(); err != nil || v != 3.14159265358979 {
		t.Fatalf("Double() = %v, %v", v, err)
	}
	if s, err := r.String(); err != nil || s != "hello, graph" {
		t.Fatalf("String() = %q, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected no leftover bytes, got %d", r.Remaining())
	}
}

func TestDoubleIsBitPatternNotNumericConversion(t *testing.T) {
	// NaN round-trips exactly as a bit pattern would, but would not
	// survive a naive numeric comparison-based re-encoding.
	nan := math.NaN()
	w := NewWriter(SizeOfDouble)
	w.PutDouble(nan)
	r := NewReader(w.Bytes())
	got, err := r.Double()
	if err != nil {
		t.Fatal(err)
	}
	if math.Float64bits(got) != math.Float64bits(nan) {
		t.Errorf("bit pattern mismatch: got %x want %x", math.Float64bits(got), math.Float64bits(nan))
	}
}

func TestSizeMatchesBytesWritten(t *testing.T) {
	cases := []struct {
		name string
		size int
		pack func(*Writer)
	}{
		{"bool", SizeOfBool, func(w *Writer) { w.PutBool(true) }},
		{"uint16", SizeOfUint16, func(w *Writer) { w.PutUint16(7) }},
		{"uint32", SizeOfUint32, func(w *Writer) { w.PutUint32(7) }},
		{"uint64", SizeOfUint64, func(w *Writer) { w.PutUint64(7) }},
		{"double", SizeOfDouble, func(w *Writer) { w.PutDouble(7) }},
		{"string", SizeString("abcd"), func(w *Writer) { w.PutString("abcd") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter(tc.size)
			tc.pack(w)
			if w.Len() != tc.size {
				t.Errorf("wrote %d bytes, Size said %d", w.Len(), tc.size)
			}
		})
	}
}

func TestSliceRoundTrip(t *testing.T) {
	vals := []uint32{1, 2, 3, 400000}
	size := SizeSlice(vals, func(uint32) int { return SizeOfUint32 })
	w := NewWriter(size)
	PackSlice(w, vals, func(w *Writer, v uint32) { w.PutUint32(v) })
	if w.Len() != size {
		t.Fatalf("wrote %d, wanted %d", w.Len(), size)
	}

	r := NewReader(w.Bytes())
	got, err := UnpackSlice(r, func(r *Reader) (uint32, error) { return r.Uint32() })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(vals) {
		t.Fatalf("len = %d, want %d", len(got), len(vals))
	}
	for i := range vals {
		if got[i] != vals[i] {
			t.Errorf("elem %d = %d, want %d", i, got[i], vals[i])
		}
	}
}

func TestSetRoundTripIsSetSemantic(t *testing.T) {
	vals := []uint32{5, 1, 9, 3}
	size := SizeSlice(vals, func(uint32) int { return SizeOfUint32 })
	w := NewWriter(size)
	PackSet(w, vals, func(w *Writer, v uint32) { w.PutUint32(v) })

	r := NewReader(w.Bytes())
	got, err := UnpackSet(r, func(r *Reader) (uint32, error) { return r.Uint32() })
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	for i := range vals {
		if got[i] != vals[i] {
			t.Errorf("set mismatch at %d: got %d want %d", i, got[i], vals[i])
		}
	}
}

func TestMapRoundTrip(t *testing.T) {
	m := map[uint32]string{1: "a", 2: "bb", 3: "ccc"}
	size := SizeMap(m, func(uint32) int { return SizeOfUint32 }, func(s string) int { return SizeString(s) })
	w := NewWriter(size)
	PackMap(w, m, func(w *Writer, k uint32) { w.PutUint32(k) }, func(w *Writer, v string) { w.PutString(v) })
	if w.Len() != size {
		t.Fatalf("wrote %d, wanted %d", w.Len(), size)
	}

	r := NewReader(w.Bytes())
	got, err := UnpackMap(r,
		func(r *Reader) (uint32, error) { return r.Uint32() },
		func(r *Reader) (string, error) { return r.String() })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(m) {
		t.Fatalf("len = %d, want %d", len(got), len(m))
	}
	for k, v := range m {
		if got[k] != v {
			t.Errorf("key %d = %q, want %q", k, got[k], v)
		}
	}
}

func TestTruncatedInputFailsCleanly(t *testing.T) {
	w := NewWriter(32)
	w.PutUint64(42)
	w.PutString("payload")
	full := w.Bytes()

	for k := 1; k < len(full); k++ {
		truncated := full[:len(full)-k]
		r := NewReader(truncated)
		if _, err := r.Uint64(); err != nil {
			if err != ErrTruncated {
				t.Errorf("k=%d: expected ErrTruncated, got %v", k, err)
			}
			continue
		}
		if _, err := r.String(); err != nil && err != ErrTruncated && err != ErrOverrun {
			t.Errorf("k=%d: expected ErrTruncated or ErrOverrun, got %v", k, err)
		}
	}
}

func TestCorruptCountReturnsOverrun(t *testing.T) {
	w := NewWriter(8)
	w.PutUint64(1 << 40) // absurd element count, far larger than any buffer
	r := NewReader(w.Bytes())
	if _, err := r.Count(); err != ErrOverrun {
		t.Errorf("expected ErrOverrun, got %v", err)
	}
}

func TestEmptyContainersRoundTrip(t *testing.T) {
	w := NewWriter(SizeOfUint64)
	PackSlice(w, []uint32(nil), func(w *Writer, v uint32) { w.PutUint32(v) })
	r := NewReader(w.Bytes())
	got, err := UnpackSlice(r, func(r *Reader) (uint32, error) { return r.Uint32() })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}
