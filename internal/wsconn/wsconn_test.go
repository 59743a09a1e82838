package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startUpgradeServer(t *testing.T, out chan<- *Conn) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, 8)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		out <- conn
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConn_SendDeliversToPeer(t *testing.T) {
	conns := make(chan *Conn, 1)
	srv := startUpgradeServer(t, conns)
	client := dial(t, srv)

	server := <-conns
	if err := server.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", msg)
	}
}

func TestConn_InboundCarriesPeerFrames(t *testing.T) {
	conns := make(chan *Conn, 1)
	srv := startUpgradeServer(t, conns)
	client := dial(t, srv)

	server := <-conns
	if err := client.WriteMessage(websocket.TextMessage, []byte("ack")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case msg := <-server.Inbound:
		if string(msg) != "ack" {
			t.Fatalf("expected %q, got %q", "ack", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound frame")
	}
}

func TestConn_CloseIsIdempotentAndSignalsDone(t *testing.T) {
	conns := make(chan *Conn, 1)
	srv := startUpgradeServer(t, conns)
	_ = dial(t, srv)

	server := <-conns
	if err := server.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}

	select {
	case <-server.Done():
	default:
		t.Fatalf("expected Done() to be closed")
	}

	if err := server.Send([]byte("too late")); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestConn_PeerDisconnectClosesDone(t *testing.T) {
	conns := make(chan *Conn, 1)
	srv := startUpgradeServer(t, conns)
	client := dial(t, srv)

	server := <-conns
	_ = client.Close()

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Done() to close after peer disconnect")
	}
}
