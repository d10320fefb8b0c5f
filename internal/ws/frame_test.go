package ws

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTripClientMasked(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Fin: true, Opcode: OpText, Payload: []byte("hello websocket")}
	if err := WriteFrame(&buf, want, false); err != nil {
		t.Fatal(err)
	}
	// a masked client frame must have the mask bit set on the wire
	if buf.Bytes()[1]&0x80 == 0 {
		t.Fatal("expected mask bit set on client frame")
	}
	got, err := ReadFrame(&buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Payload, want.Payload) || got.Opcode != want.Opcode {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFrameRejectsUnmaskedClientFrame(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Payload: []byte("x")}, true) // server-style, unmasked
	if _, err := ReadFrame(&buf, true); err != ErrUnmaskedClientFrame {
		t.Fatalf("err = %v, want ErrUnmaskedClientFrame", err)
	}
}

func TestReadFrameRejectsMaskedServerFrame(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Payload: []byte("x")}, false) // client-style, masked
	if _, err := ReadFrame(&buf, false); err != ErrMaskedServerFrame {
		t.Fatalf("err = %v, want ErrMaskedServerFrame", err)
	}
}

func TestExtendedLengthFraming(t *testing.T) {
	for _, n := range []int{125, 126, 65535, 65536} {
		var buf bytes.Buffer
		payload := bytes.Repeat([]byte{'a'}, n)
		if err := WriteFrame(&buf, Frame{Fin: true, Opcode: OpBinary, Payload: payload}, true); err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		got, err := ReadFrame(&buf, false)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(got.Payload) != n {
			t.Fatalf("n=%d: got payload len %d", n, len(got.Payload))
		}
	}
}

func TestControlFrameOver125BytesRejected(t *testing.T) {
	var buf bytes.Buffer
	big := bytes.Repeat([]byte{'a'}, 126)
	if err := WriteFrame(&buf, Frame{Fin: true, Opcode: OpPing, Payload: big}, true); err != ErrControlFrameTooLarge {
		t.Fatalf("err = %v, want ErrControlFrameTooLarge", err)
	}
}

func TestControlFrameFragmentedRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Fin: false, Opcode: OpPing}, true); err != ErrControlFrameFragmented {
		t.Fatalf("err = %v, want ErrControlFrameFragmented", err)
	}
}

func TestCloseEncodeDecodeRoundTrip(t *testing.T) {
	payload, err := EncodeClose(CloseNormal, "bye")
	if err != nil {
		t.Fatal(err)
	}
	code, reason := DecodeClose(payload)
	if code != CloseNormal || reason != "bye" {
		t.Fatalf("got code=%d reason=%q", code, reason)
	}
}

func TestCloseReasonTooLongRejected(t *testing.T) {
	reason := string(bytes.Repeat([]byte{'a'}, 124))
	if _, err := EncodeClose(CloseNormal, reason); err != ErrBadCloseReason {
		t.Fatalf("err = %v, want ErrBadCloseReason", err)
	}
}

func TestAcceptValueKnownVector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := AcceptValue("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
