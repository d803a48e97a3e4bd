package wstransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/posener/wstest"

	"github.com/resgateio/resclient-go/internal/connmgr"
)

// echoUpgrader upgrades every request and echoes back each text frame it
// receives, prefixed, so a test can tell request and reply apart.
type echoUpgrader struct {
	upgrader websocket.Upgrader
	received chan []byte
}

func (e *echoUpgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if e.received != nil {
			e.received <- data
		}
		reply := append([]byte("echo:"), data...)
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// dialViaWstest wires posener/wstest's in-process dialer (no real socket)
// in place of websocket.DefaultDialer, matching the teacher's own use of
// this dependency for its handler tests.
func dialViaWstest(h http.Handler) *Dialer {
	return &Dialer{WSDialer: wstest.NewDialer(h)}
}

func TestTransportOpenSendReceive(t *testing.T) {
	h := &echoUpgrader{received: make(chan []byte, 1)}
	tr := dialViaWstest(h).New()

	opened := make(chan struct{}, 1)
	messages := make(chan []byte, 1)
	tr.SetHandlers(connmgr.Handlers{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(data []byte) { messages <- data },
	})

	if err := tr.Open("ws://example.invalid/ws"); err != nil {
		t.Fatalf("Open: %s", err)
	}

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	if err := tr.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %s", err)
	}

	select {
	case got := <-h.received:
		if string(got) != "hello" {
			t.Fatalf("server received %q, want %q", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	select {
	case got := <-messages:
		if string(got) != "echo:hello" {
			t.Fatalf("OnMessage got %q, want %q", got, "echo:hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed reply")
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
}

func TestTransportOpenDialFailureReportsOnError(t *testing.T) {
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	tr := dialViaWstest(failing).New()

	errCh := make(chan error, 1)
	tr.SetHandlers(connmgr.Handlers{
		OnError: func(err error) { errCh <- err },
	})

	if err := tr.Open("ws://example.invalid/ws"); err != nil {
		t.Fatalf("Open: %s", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a non-nil dial error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnError")
	}
}

func TestTransportCloseReportsOnClose(t *testing.T) {
	h := &echoUpgrader{}
	tr := dialViaWstest(h).New()

	opened := make(chan struct{}, 1)
	closed := make(chan error, 1)
	tr.SetHandlers(connmgr.Handlers{
		OnOpen:  func() { opened <- struct{}{} },
		OnClose: func(err error) { closed <- err },
	})

	if err := tr.Open("ws://example.invalid/ws"); err != nil {
		t.Fatalf("Open: %s", err)
	}
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnClose after local Close")
	}
}
