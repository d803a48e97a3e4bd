package connmgr

// Transport is the framed text-message interface SPEC_FULL.md §6 treats
// as an external collaborator: only this surface is consumed. Handlers
// are registered once via SetHandlers; Open dials asynchronously and the
// transport calls OnOpen/OnError/OnClose/OnMessage as connection-lifecycle
// events occur, matching the spec's onopen/onmessage/onerror/onclose
// callback shape.
type Transport interface {
	// Open begins connecting to url. It returns immediately; completion
	// is reported via the registered Handlers.OnOpen or Handlers.OnError.
	Open(url string) error
	// Send writes a single framed text message.
	Send(data []byte) error
	// Close closes the transport. If a connection is open,
	// Handlers.OnClose is invoked once the close completes; with no open
	// connection an implementation may return without invoking it.
	Close() error
	// SetHandlers installs the callbacks the transport invokes. Called
	// once, before the first Open.
	SetHandlers(h Handlers)
}

// Handlers are the callbacks a Transport implementation invokes. All
// callbacks are invoked from whatever goroutine the transport's internal
// read/dial loop runs on; Manager itself does not assume a particular
// calling goroutine, but it is not safe for concurrent use, so a caller
// wiring a Transport into a Manager must serialize these callbacks
// through the same dispatcher the rest of the client uses (resclient.Client
// does this by funneling them through its single command channel).
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(err error)
}
