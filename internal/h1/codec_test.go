package h1

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/badu/httpcore/internal/hdr"
)

func pipePair() (client net.Conn, serverBR *bufio.Reader, serverW io.Writer, serverConn net.Conn) {
	c, s := net.Pipe()
	return c, bufio.NewReader(s), s, s
}

func TestSimpleGETRoundTrip(t *testing.T) {
	client, serverBR, serverW, serverConn := pipePair()
	defer client.Close()
	defer serverConn.Close()

	codec := NewCodec(client, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		line, _ := serverBR.ReadString('\n')
		if line != "GET /a HTTP/1.1\r\n" {
			t.Errorf("request line = %q", line)
		}
		for {
			l, _ := serverBR.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		io.WriteString(serverW, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	}()

	var h hdr.Header
	h.Add("Connection", "keep-alive")
	if err := codec.WriteRequestHeaders("GET", "/a", "x.test", h); err != nil {
		t.Fatal(err)
	}
	if err := codec.FinishRequestBody(); err != nil {
		t.Fatal(err)
	}
	sl, respHeaders, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatal(err)
	}
	if sl.StatusCode != 200 {
		t.Fatalf("status = %d", sl.StatusCode)
	}
	if respHeaders.Get("Content-Length") != "5" {
		t.Fatalf("content-length = %q", respHeaders.Get("Content-Length"))
	}
	body, err := codec.OpenResponseBodySource(BodyFixed, 5)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(body, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("body = %q", buf)
	}
	<-done
	if codec.State() != Idle {
		t.Fatalf("state after full read = %v, want IDLE", codec.State())
	}
}

func TestChunkedResponseWithTrailers(t *testing.T) {
	client, serverBR, serverW, serverConn := pipePair()
	defer client.Close()
	defer serverConn.Close()

	codec := NewCodec(client, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			l, _ := serverBR.ReadString('\n')
			if l == "\r\n" || l == "" {
				break
			}
		}
		io.WriteString(serverW, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nTrailer: X-Sum\r\n\r\n5\r\nhello\r\n0\r\nX-Sum: 5\r\n\r\n")
	}()

	var h hdr.Header
	if err := codec.WriteRequestHeaders("GET", "/a", "x.test", h); err != nil {
		t.Fatal(err)
	}
	codec.FinishRequestBody()
	_, _, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatal(err)
	}
	body, err := codec.OpenResponseBodySource(BodyChunked, -1)
	if err != nil {
		t.Fatal(err)
	}
	cr := body.(*chunkedReader)
	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("body = %q", got)
	}
	trailers, err := codec.Trailers(cr)
	if err != nil {
		t.Fatal(err)
	}
	if trailers.Get("X-Sum") != "5" {
		t.Fatalf("trailer X-Sum = %q", trailers.Get("X-Sum"))
	}
	<-done
}

func TestZeroLengthResponseBodyReturnsToIdle(t *testing.T) {
	client, serverBR, serverW, serverConn := pipePair()
	defer client.Close()
	defer serverConn.Close()

	codec := NewCodec(client, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			l, _ := serverBR.ReadString('\n')
			if l == "\r\n" || l == "" {
				break
			}
		}
		io.WriteString(serverW, "HTTP/1.1 302 Found\r\nLocation: /b\r\nContent-Length: 0\r\n\r\n")
	}()

	var h hdr.Header
	if err := codec.WriteRequestHeaders("GET", "/a", "x.test", h); err != nil {
		t.Fatal(err)
	}
	codec.FinishRequestBody()
	sl, _, err := codec.ReadResponseHeaders()
	if err != nil {
		t.Fatal(err)
	}
	if sl.StatusCode != 302 {
		t.Fatalf("status = %d", sl.StatusCode)
	}
	body, err := codec.OpenResponseBodySource(BodyFixed, 0)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	n, err := body.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("Read = (%d, %v), want (0, io.EOF)", n, err)
	}
	<-done
	// A zero-length body must signal completion on its first Read so
	// the codec returns to IDLE without requiring a second call — a
	// caller that discards the body via io.Copy(io.Discard, body)
	// would otherwise leave the connection stuck mid-exchange forever.
	if codec.State() != Idle {
		t.Fatalf("state after zero-length body read = %v, want IDLE", codec.State())
	}
}

func TestProtocolViolationOutOfOrder(t *testing.T) {
	client, _, _, serverConn := pipePair()
	defer client.Close()
	defer serverConn.Close()
	codec := NewCodec(client, nil)
	if _, err := codec.ReadResponseHeaders(); err == nil {
		t.Fatal("expected protocol violation reading headers before writing a request")
	}
	if codec.State() != Closed {
		t.Fatalf("state = %v, want CLOSED after violation", codec.State())
	}
}
