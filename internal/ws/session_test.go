package ws

import (
	"net"
	"testing"
	"time"
)

type recordingListener struct {
	messages chan []byte
	closed   chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{messages: make(chan []byte, 4), closed: make(chan struct{}, 1)}
}

func (l *recordingListener) OnMessage(_ Opcode, data []byte) { l.messages <- append([]byte(nil), data...) }
func (l *recordingListener) OnClosed(CloseCode, string)      { l.closed <- struct{}{} }
func (l *recordingListener) OnFailure(error)                 {}

func TestSessionSendReceiveTextMessage(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	clientListener := newRecordingListener()
	serverListener := newRecordingListener()

	client := NewSession(clientConn, false, DeflateParams{}, clientListener)
	server := NewSession(serverConn, true, DeflateParams{}, serverListener)
	defer client.Close(CloseNormal, "")
	defer server.Close(CloseNormal, "")

	if err := client.SendText([]byte("hi there")); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-serverListener.messages:
		if string(msg) != "hi there" {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSessionOutboundQueueCapTearsDownSocket(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	clientListener := newRecordingListener()
	client := NewSession(clientConn, false, DeflateParams{}, clientListener)

	big := make([]byte, maxOutboundQueueBytes+1)
	if err := client.SendBinary(big); err != ErrOutboundQueueFull {
		t.Fatalf("err = %v, want ErrOutboundQueueFull", err)
	}
}
