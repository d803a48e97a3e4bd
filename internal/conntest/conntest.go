// Package conntest provides a scripted fake transport and request/event
// helpers for driving a resclient.Client end-to-end in tests, in the
// shape of the teacher's own test.Session/runTest/GetRequest helpers
// (test/13query_event_test.go), retargeted from a server-accepting-
// connections harness to a client-dialing-out one.
package conntest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/resgateio/resclient-go/internal/connmgr"
)

// Timeout bounds how long helpers wait for scripted traffic.
const Timeout = time.Second

// Transport is a fake connmgr.Transport driven entirely by test code:
// Open always "succeeds" asynchronously: call PushOpen/PushError to
// complete it, NextRequest to inspect frames the Client sent, and
// PushMessage/PushClose to deliver inbound traffic.
type Transport struct {
	mu  sync.Mutex
	h   connmgr.Handlers
	out chan []byte
}

// New creates an unopened fake Transport.
func New() *Transport {
	return &Transport{out: make(chan []byte, 64)}
}

func (t *Transport) SetHandlers(h connmgr.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h = h
}

func (t *Transport) handlers() connmgr.Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.h
}

// Open is a no-op; the test drives completion via PushOpen/PushError.
func (t *Transport) Open(url string) error { return nil }

// Send records an outgoing frame for NextRequest to observe.
func (t *Transport) Send(data []byte) error {
	t.out <- append([]byte(nil), data...)
	return nil
}

// Close reports the close to the registered handler, as a real transport
// would once its read loop unwinds.
func (t *Transport) Close() error {
	if h := t.handlers(); h.OnClose != nil {
		go h.OnClose(nil)
	}
	return nil
}

// PushOpen simulates a successful dial.
func (t *Transport) PushOpen() {
	if h := t.handlers(); h.OnOpen != nil {
		go h.OnOpen()
	}
}

// PushError simulates a dial/read error.
func (t *Transport) PushError(err error) {
	if h := t.handlers(); h.OnError != nil {
		go h.OnError(err)
	}
}

// PushClose simulates the remote end closing the connection.
func (t *Transport) PushClose(err error) {
	if h := t.handlers(); h.OnClose != nil {
		go h.OnClose(err)
	}
}

// PushMessage delivers a raw inbound frame.
func (t *Transport) PushMessage(data []byte) {
	if h := t.handlers(); h.OnMessage != nil {
		go h.OnMessage(data)
	}
}

// PushEvent delivers a "<rid>.<name>" event frame with the given data.
func (t *Transport) PushEvent(rid, name string, data interface{}) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: rid + "." + name, Data: raw})
	t.PushMessage(frame)
}

// Request is a decoded outgoing request frame.
type Request struct {
	ID     uint64
	Method string
	Params json.RawMessage
	t      *Transport
}

// NextRequest blocks (up to Timeout) for the next outgoing frame and
// decodes it as a request, failing t on timeout or malformed JSON.
func (t *Transport) NextRequest(tb testing.TB) *Request {
	tb.Helper()
	select {
	case data := <-t.out:
		var r struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &r); err != nil {
			tb.Fatalf("malformed outgoing request: %s", err)
		}
		return &Request{ID: r.ID, Method: r.Method, Params: r.Params, t: t}
	case <-time.After(Timeout):
		tb.Fatal("timed out waiting for outgoing request")
		return nil
	}
}

// AssertMethod fails tb unless the request's method equals want.
func (r *Request) AssertMethod(tb testing.TB, want string) *Request {
	tb.Helper()
	if r.Method != want {
		tb.Fatalf("expected request method %q, got %q", want, r.Method)
	}
	return r
}

// RespondSuccess delivers {id, result} for this request.
func (r *Request) RespondSuccess(result interface{}) {
	raw, _ := json.Marshal(result)
	frame, _ := json.Marshal(struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
	}{ID: r.ID, Result: raw})
	r.t.PushMessage(frame)
}

// RespondError delivers {id, error:{code,message}} for this request.
func (r *Request) RespondError(code, message string) {
	frame, _ := json.Marshal(struct {
		ID    uint64 `json:"id"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{ID: r.ID, Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}})
	r.t.PushMessage(frame)
}

// ModelResult builds a subscribe/get "model" result payload.
func ModelResult(data map[string]interface{}) json.RawMessage {
	raw, _ := json.Marshal(struct {
		Model map[string]interface{} `json:"model"`
	}{Model: data})
	return raw
}

// CollectionResult builds a subscribe/get "collection" result payload from
// a list of child rids with optional inline data (nil entries omit data).
func CollectionResult(children ...interface{}) json.RawMessage {
	raw, _ := json.Marshal(struct {
		Collection []interface{} `json:"collection"`
	}{Collection: children})
	return raw
}

// Ref builds a {"rid": rid} or {"rid": rid, "data": data} collection
// element, for use with CollectionResult.
func Ref(rid string, data interface{}) map[string]interface{} {
	m := map[string]interface{}{"rid": rid}
	if data != nil {
		m["data"] = data
	}
	return m
}
