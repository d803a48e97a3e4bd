// Package connmgr implements the ConnectionManager component of
// SPEC_FULL.md §4.5: owns the transport handle, drives connect and
// reconnect-with-backoff, re-subscribes stale resources on open, and
// marks the cache stale on close.
package connmgr

import (
	"time"

	"github.com/rs/xid"

	"github.com/resgateio/resclient-go/internal/metrics"
	"github.com/resgateio/resclient-go/logger"
	"github.com/resgateio/resclient-go/reserr"
)

// State is the connection lifecycle state (spec.md §4.5 state table).
type State byte

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ReconnectDelay is the fixed delay between reconnect attempts
// (SPEC_FULL.md §6 Defaults). A var, not a const, solely so tests can
// shrink it instead of sleeping three seconds.
var ReconnectDelay = 3000 * time.Millisecond

// Hooks are the callbacks the owning Client supplies for cache-wide
// transitions driven by the connection lifecycle.
type Hooks struct {
	// OnConnect is the optional async user callback run before anything
	// else on open (spec.md §4.5 onConnectHook). If it returns an error,
	// the transport is closed without resolving the connect future.
	OnConnect func() error
	// ResubscribeStale is called once the transport is open and
	// OnConnect has succeeded.
	ResubscribeStale func()
	// MarkAllStale is called when the transport closes.
	MarkAllStale func()
	// HandleMessage routes one inbound frame (codec.Receive + event
	// dispatch); owned by the Client dispatcher.
	HandleMessage func(data []byte)
	// FailPending fails every in-flight RPC with err whenever the
	// transport goes down (SPEC_FULL.md §9 open-question decision: pending
	// RPCs ARE failed with TransportError on close, never left hanging).
	FailPending func(err error)
	// EmitConnect/EmitClose/EmitError mirror the client-level bus events
	// of spec.md §6 ("connect", "close", "error").
	EmitConnect func()
	EmitClose   func()
	EmitError   func(err error)
}

// Manager is the ConnectionManager.
type Manager struct {
	transport Transport
	url       string
	hooks     Hooks
	log       logger.Logger
	metrics   *metrics.Collector

	state      State
	tryConnect bool
	cid        string

	waiters []chan error

	reconnectTimer *time.Timer
}

// New creates a Manager for the given transport, url, and hooks.
func New(transport Transport, url string, hooks Hooks, log logger.Logger, m *metrics.Collector) *Manager {
	mgr := &Manager{transport: transport, url: url, hooks: hooks, log: log, metrics: m}
	transport.SetHandlers(Handlers{
		OnOpen:    mgr.handleOpen,
		OnMessage: mgr.handleMessage,
		OnError:   mgr.handleError,
		OnClose:   mgr.handleClose,
	})
	return mgr
}

// SetOnConnectHook replaces the hook run right after the transport opens
// and before the connect future resolves or any resource is resubscribed
// (spec.md §6 setOnConnect).
func (m *Manager) SetOnConnectHook(hook func() error) { m.hooks.OnConnect = hook }

// State returns the current connection state.
func (m *Manager) State() State { return m.state }

// Connected reports whether the connection is currently Open.
func (m *Manager) Connected() bool { return m.state == Open }

// Connect implements the `connect()` transitions of spec.md §4.5's state
// table: Idle starts connecting; Connecting/Reconnecting reuse/replace
// the pending future; Open returns immediately resolved.
func (m *Manager) Connect() <-chan error {
	ch := make(chan error, 1)

	switch m.state {
	case Open:
		ch <- nil
		return ch
	case Connecting, Reconnecting:
		m.waiters = append(m.waiters, ch)
		return ch
	}

	m.tryConnect = true
	m.state = Connecting
	m.cid = xid.New().String()
	m.waiters = append(m.waiters, ch)

	if err := m.transport.Open(m.url); err != nil {
		m.handleError(err)
	}
	return ch
}

// Disconnect implements the `disconnect()` column: rejects any pending
// connect future and closes the transport.
func (m *Manager) Disconnect() {
	m.tryConnect = false
	m.cancelReconnectTimer()
	m.failWaiters(&reserr.TransportError{})
	if m.state == Open || m.state == Connecting || m.state == Reconnecting {
		m.state = Idle
		_ = m.transport.Close()
	}
}

func (m *Manager) handleOpen() {
	if m.hooks.OnConnect != nil {
		if err := m.hooks.OnConnect(); err != nil {
			m.log.Logf("[%s] onConnect hook failed, closing transport: %s", m.cid, err)
			_ = m.transport.Close()
			m.failWaiters(err)
			return
		}
	}

	m.state = Open
	m.log.Tracef("[%s] connected to %s", m.cid, m.url)
	if m.hooks.ResubscribeStale != nil {
		m.hooks.ResubscribeStale()
	}
	m.resolveWaiters(nil)
	if m.hooks.EmitConnect != nil {
		m.hooks.EmitConnect()
	}
}

func (m *Manager) handleMessage(data []byte) {
	if m.hooks.HandleMessage != nil {
		m.hooks.HandleMessage(data)
	}
}

func (m *Manager) handleError(err error) {
	wasOpen := m.state == Open
	m.failWaiters(&reserr.TransportError{Cause: err})
	if m.hooks.EmitError != nil {
		m.hooks.EmitError(err)
	}
	if !wasOpen {
		m.scheduleReconnect()
	}
}

func (m *Manager) handleClose(err error) {
	wasOpen := m.state == Open
	m.log.Logf("[%s] connection closed: %s", m.cid, err)
	m.state = Idle

	if m.hooks.FailPending != nil {
		m.hooks.FailPending(&reserr.TransportError{Cause: err})
	}

	if wasOpen {
		if m.hooks.MarkAllStale != nil {
			m.hooks.MarkAllStale()
		}
		if m.hooks.EmitClose != nil {
			m.hooks.EmitClose()
		}
	} else {
		m.failWaiters(&reserr.TransportError{Cause: err})
	}

	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if !m.tryConnect {
		return
	}
	m.state = Reconnecting
	m.cancelReconnectTimer()
	cid := m.cid
	m.log.Tracef("[%s] reconnecting in %s", cid, ReconnectDelay)
	m.reconnectTimer = time.AfterFunc(ReconnectDelay, func() {
		if m.metrics != nil {
			m.metrics.IncReconnect()
		}
		m.cid = xid.New().String()
		m.log.Tracef("[%s] reconnect attempt (previous cycle %s)", m.cid, cid)
		if err := m.transport.Open(m.url); err != nil {
			m.handleError(err)
		}
	})
}

func (m *Manager) cancelReconnectTimer() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) resolveWaiters(err error) {
	ws := m.waiters
	m.waiters = nil
	for _, ch := range ws {
		ch <- err
		close(ch)
	}
}

func (m *Manager) failWaiters(err error) {
	m.resolveWaiters(err)
}

// CID returns the current connection cycle's correlation id, used for
// log tagging (SPEC_FULL.md §4.5 addition).
func (m *Manager) CID() string { return m.cid }

// Send writes data via the underlying transport, failing with
// *reserr.TransportError if not currently open.
func (m *Manager) Send(data []byte) error {
	if m.state != Open {
		return &reserr.TransportError{}
	}
	return m.transport.Send(data)
}
