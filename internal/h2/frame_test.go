package h2

import (
	"bytes"
	"testing"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{Length: 12345, Type: FrameHeaders, Flags: FlagEndHeaders | FlagEndStream, StreamID: 0x7fffffff}
	var buf [frameHeaderLen]byte
	h.encode(buf[:])
	got := decodeFrameHeader(buf[:])
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestFrameHeaderStreamIDReservedBitIgnored(t *testing.T) {
	h := FrameHeader{Length: 1, Type: FrameData, StreamID: 3}
	var buf [frameHeaderLen]byte
	h.encode(buf[:])
	buf[5] |= 0x80 // set the reserved bit on the wire
	got := decodeFrameHeader(buf[:])
	if got.StreamID != 3 {
		t.Fatalf("reserved bit leaked into StreamID: got %d", got.StreamID)
	}
}

func TestFramerWriteReadSettings(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	want := []Setting{
		{ID: SettingHeaderTableSize, Value: 4096},
		{ID: SettingInitialWindowSize, Value: 65535},
	}
	if err := fr.WriteSettingsFrame(want); err != nil {
		t.Fatal(err)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	sp, ok := f.Payload.(SettingsPayload)
	if !ok {
		t.Fatalf("payload type = %T, want SettingsPayload", f.Payload)
	}
	if len(sp.Settings) != len(want) {
		t.Fatalf("got %d settings, want %d", len(sp.Settings), len(want))
	}
	for i := range want {
		if sp.Settings[i] != want[i] {
			t.Fatalf("setting %d = %+v, want %+v", i, sp.Settings[i], want[i])
		}
	}
}

func TestFramerWriteReadHeadersWithPriority(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	block := []byte{0x82, 0x86, 0x84}
	if err := fr.WriteHeadersFrame(1, true, true, block); err != nil {
		t.Fatal(err)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	hp, ok := f.Payload.(HeadersPayload)
	if !ok {
		t.Fatalf("payload type = %T, want HeadersPayload", f.Payload)
	}
	if !bytes.Equal(hp.HeaderBlockFragment, block) {
		t.Fatalf("block = %x, want %x", hp.HeaderBlockFragment, block)
	}
	if !f.Header.Flags.Has(FlagEndStream) || !f.Header.Flags.Has(FlagEndHeaders) {
		t.Fatalf("flags = %v, want END_STREAM|END_HEADERS", f.Header.Flags)
	}
}

func TestFramerGoAwayRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	if err := fr.WriteGoAwayFrame(41, ErrCodeProtocol, []byte("bad juju")); err != nil {
		t.Fatal(err)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	gp := f.Payload.(GoAwayPayload)
	if gp.LastStreamID != 41 || gp.ErrCode != ErrCodeProtocol || string(gp.DebugData) != "bad juju" {
		t.Fatalf("got %+v", gp)
	}
}

func TestFramerRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, &buf)
	fr.SetMaxReadFrameSize(16384)
	oversized := FrameHeader{Length: 20000, Type: FrameData}
	var head [frameHeaderLen]byte
	oversized.encode(head[:])
	buf.Write(head[:])
	buf.Write(make([]byte, 20000))

	if _, err := fr.ReadFrame(); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}
