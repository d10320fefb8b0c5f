package hpack

import "testing"

func TestDecodeSpecExampleBlock(t *testing.T) {
	// spec §8 scenario 4: 82 86 84 01 0f "www.example.com"
	wire := []byte{0x82, 0x86, 0x84, 0x01, 0x0f}
	wire = append(wire, []byte("www.example.com")...)

	var got []HeaderField
	d := NewDecoder(4096, func(f HeaderField) { got = append(got, f) })
	if err := d.Write(wire); err != nil {
		t.Fatal(err)
	}
	want := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "http"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "www.example.com"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fields, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/a/b/c?x=1"},
		{Name: "user-agent", Value: "httpcore/1.0 (test; round-trip)"},
		{Name: "x-custom", Value: "some-value-with-UPPER-and-digits-0123456789"},
		{Name: "cookie", Value: "a=1; b=2"},
	}
	enc := NewEncoder(4096)
	var wire []byte
	for _, f := range fields {
		wire = enc.WriteField(wire, f)
	}

	var got []HeaderField
	dec := NewDecoder(4096, func(f HeaderField) { got = append(got, f) })
	if err := dec.Write(wire); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(fields) {
		t.Fatalf("got %d, want %d", len(got), len(fields))
	}
	for i := range fields {
		if got[i].Name != fields[i].Name || got[i].Value != fields[i].Value {
			t.Fatalf("field %d = %+v, want %+v", i, got[i], fields[i])
		}
	}
	if enc.dyn.size != dec.dyn.size || enc.dyn.len() != dec.dyn.len() {
		t.Fatalf("dynamic tables diverged: enc size=%d len=%d dec size=%d len=%d",
			enc.dyn.size, enc.dyn.len(), dec.dyn.size, dec.dyn.len())
	}
}

func TestHuffmanRoundTripArbitraryBytes(t *testing.T) {
	samples := []string{
		"",
		"a",
		"hello world",
		"MiXeD CaSe 123 !@#$%^&*()",
		string([]byte{0, 1, 2, 255, 254, 10, 13}),
	}
	for _, s := range samples {
		enc := HuffmanEncode(nil, s)
		var buf []byte
		bw := &byteSliceWriter{&buf}
		if err := HuffmanDecode(bw, enc); err != nil {
			t.Fatalf("decode(%q) error: %v", s, err)
		}
		if string(buf) != s {
			t.Fatalf("round trip mismatch: got %q, want %q", buf, s)
		}
	}
}

func TestUppercaseNameRejected(t *testing.T) {
	// Literal without indexing, name given inline (idx=0), name "Bad-Name".
	var wire []byte
	wire = appendVarInt(wire, 4, 0, 0x00)
	wire = append(wire, 8, 'B', 'a', 'd', '-', 'N', 'a', 'm', 'e')
	wire = append(wire, 1, 'v')
	d := NewDecoder(4096, func(HeaderField) {})
	if err := d.Write(wire); err == nil {
		t.Fatal("expected protocol error for uppercase header name")
	}
}

func TestDynamicTableSizeUpdateMustBeFirst(t *testing.T) {
	var wire []byte
	wire = appendVarInt(wire, 7, 2, 0x80) // indexed field first
	wire = appendVarInt(wire, 5, 100, 0x20) // then a size update: invalid
	d := NewDecoder(4096, func(HeaderField) {})
	if err := d.Write(wire); err == nil {
		t.Fatal("expected protocol error for late dynamic-table-size-update")
	}
}

type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) WriteByte(b byte) error {
	*w.buf = append(*w.buf, b)
	return nil
}
