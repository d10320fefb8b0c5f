package h2

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/badu/httpcore/internal/h2/hpack"
)

// fakeServer speaks just enough HTTP/2 over one end of a net.Pipe to
// exercise Conn's client-side behavior: it verifies the preface, acks
// the client's SETTINGS, waits for the client's HEADERS, and answers with a HEADERS+DATA response; it
// drains but does not answer any later frames (PING included).
func runFakeServer(t *testing.T, nc net.Conn, done chan<- error) {
	go func() {
		preface := make([]byte, len(ClientPreface))
		if _, err := io.ReadFull(nc, preface); err != nil {
			done <- err
			return
		}
		if string(preface) != ClientPreface {
			done <- io.ErrUnexpectedEOF
			return
		}
		fr := NewFramer(nc, nc)

		// client's initial SETTINGS
		f, err := fr.ReadFrame()
		if err != nil {
			done <- err
			return
		}
		if _, ok := f.Payload.(SettingsPayload); !ok {
			done <- io.ErrUnexpectedEOF
			return
		}
		if err := fr.WriteSettingsAckFrame(); err != nil {
			done <- err
			return
		}
		if err := fr.WriteSettingsFrame(nil); err != nil {
			done <- err
			return
		}

		// client's SETTINGS ack and its HEADERS for stream 1 may arrive
		// in either order; skip frames until the HEADERS.
		var hf Frame
		for {
			hf, err = fr.ReadFrame()
			if err != nil {
				done <- err
				return
			}
			if _, isHeaders := hf.Payload.(HeadersPayload); isHeaders {
				break
			}
		}
		hp, ok := hf.Payload.(HeadersPayload)
		if !ok || hf.Header.StreamID != 1 {
			done <- io.ErrUnexpectedEOF
			return
		}
		var got []hpack.HeaderField
		dec := hpack.NewDecoder(4096, func(f hpack.HeaderField) { got = append(got, f) })
		if err := dec.Write(hp.HeaderBlockFragment); err != nil {
			done <- err
			return
		}

		// net.Pipe is unbuffered: keep reading the client's remaining
		// frames (such as a late SETTINGS ack) so its writes never block
		// ours. The drain ends when the test closes the pipe.
		go func() {
			for {
				if _, err := fr.ReadFrame(); err != nil {
					return
				}
			}
		}()

		enc := hpack.NewEncoder(4096)
		var block []byte
		block = enc.WriteField(block, hpack.HeaderField{Name: ":status", Value: "200"})
		if err := fr.WriteHeadersFrame(1, false, true, block); err != nil {
			done <- err
			return
		}
		if err := fr.WriteDataFrame(1, true, []byte("hello from server")); err != nil {
			done <- err
			return
		}
		done <- nil
	}()
}

func TestClientConnRequestResponse(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	srvDone := make(chan error, 1)
	runFakeServer(t, serverSide, srvDone)

	conn, err := NewClientConn(clientSide, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	go conn.Serve()

	st, err := conn.OpenStream([]HeaderFieldLike{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "example.com"},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	body, err := io.ReadAll(readerFunc(st.Source.Read))
	if err != nil && err != errEOFStream {
		t.Fatal(err)
	}
	if !bytes.Equal(body, []byte("hello from server")) {
		t.Fatalf("body = %q, want %q", body, "hello from server")
	}

	select {
	case err := <-srvDone:
		if err != nil {
			t.Fatalf("fake server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fake server")
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
