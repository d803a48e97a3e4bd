// Package wstransport is the default connmgr.Transport implementation,
// backed by gorilla/websocket (the teacher's own dependency for every
// client<->gateway connection, here turned around to dial outward instead
// of accepting an upgrade).
package wstransport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resgateio/resclient-go/internal/connmgr"
)

// WriteWait is the deadline for a single write, matching the teacher's own
// wsConn write timeout convention.
const WriteWait = 10 * time.Second

// Dialer dials a websocket connection to serve as a connmgr.Transport.
// The zero value is ready to use.
type Dialer struct {
	// WSDialer overrides the gorilla/websocket dialer. Defaults to
	// websocket.DefaultDialer.
	WSDialer *websocket.Dialer
}

// Dial returns a Transport that dials url lazily on Open.
func Dial() connmgr.Transport {
	return &transport{dialer: websocket.DefaultDialer}
}

// New returns a Transport using d's configured dialer.
func (d Dialer) New() connmgr.Transport {
	wd := d.WSDialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	return &transport{dialer: wd}
}

type transport struct {
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	h    connmgr.Handlers
}

func (t *transport) SetHandlers(h connmgr.Handlers) {
	t.mu.Lock()
	t.h = h
	t.mu.Unlock()
}

// Open dials url in a new goroutine and starts the read pump once
// connected, reporting success/failure via the registered Handlers.
func (t *transport) Open(url string) error {
	go func() {
		conn, _, err := t.dialer.Dial(url, nil)
		t.mu.Lock()
		h := t.h
		if err != nil {
			t.mu.Unlock()
			if h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		t.conn = conn
		t.mu.Unlock()

		if h.OnOpen != nil {
			h.OnOpen()
		}
		t.readPump(conn, h)
	}()
	return nil
}

// readPump reads frames until the connection closes or errors, reporting
// each through the Handlers captured at Open time (matching the teacher's
// own one-reader-goroutine-per-connection pattern).
func (t *transport) readPump(conn *websocket.Conn, h connmgr.Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.conn = nil
			t.mu.Unlock()
			if h.OnClose != nil {
				h.OnClose(err)
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

// Send writes a single text frame.
func (t *transport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	_ = conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection, if any.
func (t *transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
