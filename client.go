// Package resclient implements a client for the RES (REsource
// Subscription) protocol served by resgate: remote resources - key/value
// Models or ordered Collections of Models - are presented as local,
// live-updating Go values, kept in sync through a reference-counted
// cache that multiplexes subscriptions and resynchronizes on reconnect.
package resclient

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/resgateio/resclient-go/internal/codec"
	"github.com/resgateio/resclient-go/internal/connmgr"
	"github.com/resgateio/resclient-go/internal/events"
	"github.com/resgateio/resclient-go/internal/metrics"
	"github.com/resgateio/resclient-go/internal/rescache"
	isync "github.com/resgateio/resclient-go/internal/sync"
	"github.com/resgateio/resclient-go/logger"
	"github.com/resgateio/resclient-go/reserr"
)

// deleteSentinel is the type of Delete.
type deleteSentinel struct{}

// Delete is the sentinel value for a deleted key in SetModel's props map,
// translated at the codec boundary to the wire's {"action":"delete"}
// (spec.md §6 setModel, invariant 6).
var Delete = deleteSentinel{}

// Client-level (connection-lifecycle) event names, for Client.On.
const (
	EventConnect = "connect"
	EventClose   = "close"
	EventError   = "error"
)

// Client is the ClientFacade of SPEC_FULL.md §2: it owns a single internal
// dispatcher goroutine that serializes every mutation of the codec,
// resource cache, and connection state machine. Public methods hand work
// to that goroutine over a command channel and block (respecting ctx)
// for the result, mirroring the teacher's own Enqueue-onto-one-worker
// pattern (server.ConnSubscriber.Enqueue).
type Client struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.Collector

	codec  *codec.Codec
	cache  *rescache.Cache
	types  *rescache.TypeRegistry
	bus    *events.Bus
	engine *isync.Engine
	conn   *connmgr.Manager

	// collIDCallbacks maps a collection rid's type prefix to the
	// IDCallback newly constructed Collections for that prefix are given
	// (spec.md §6 ResourceValue contract "Optional idCallback"). Written
	// only via RegisterCollectionIDCallback and read only from
	// defaultCollectionFactory, both always on the dispatcher goroutine.
	collIDCallbacks map[string]IDCallback

	cmdCh chan func()
	done  chan struct{}
}

// New constructs a Client wired per cfg. It does not connect; call
// Connect to start the connection lifecycle.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, &reserr.ConfigError{Reason: "Config.Transport is required"}
	}
	if cfg.URL == "" {
		return nil, &reserr.ConfigError{Reason: "Config.URL is required"}
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, &reserr.ConfigError{Reason: "Config.URL must be an absolute ws:// or wss:// URL: " + cfg.URL}
	}

	c := &Client{
		cfg:             cfg,
		log:             cfg.logger(),
		codec:           codec.New(),
		bus:             events.NewBus(),
		cmdCh:           make(chan func()),
		done:            make(chan struct{}),
		collIDCallbacks: make(map[string]IDCallback),
	}
	if cfg.MetricsRegisterer != nil {
		c.metrics = metrics.NewCollector(cfg.MetricsRegisterer)
	}

	c.types = rescache.NewTypeRegistry(defaultModelFactory(c), defaultCollectionFactory(c))
	c.cache = rescache.New(c.types, clientRequester{c}, c.log)
	c.engine = isync.New(c.cache, c.bus, cfg.namespace())
	c.cache.SetSyncer(c.engine.AsSyncer())

	c.conn = connmgr.New(dispatchingTransport{c, cfg.Transport}, cfg.URL, connmgr.Hooks{
		ResubscribeStale: c.cache.ResubscribeStale,
		MarkAllStale:     c.cache.MarkAllStale,
		HandleMessage:    c.handleMessage,
		FailPending:      c.codec.FailAll,
		EmitConnect:      func() { c.bus.Emit(cfg.namespace(), "client", EventConnect, nil) },
		EmitClose:        func() { c.bus.Emit(cfg.namespace(), "client", EventClose, nil) },
		EmitError:        func(err error) { c.bus.Emit(cfg.namespace(), "client", EventError, err) },
	}, c.log, c.metrics)

	go c.run()
	return c, nil
}

func (c *Client) run() {
	for {
		select {
		case f := <-c.cmdCh:
			f()
		case <-c.done:
			return
		}
	}
}

// enqueue schedules f to run on the dispatcher goroutine, respecting ctx
// cancellation and Client shutdown while waiting for a free slot.
func (c *Client) enqueue(ctx context.Context, f func()) error {
	select {
	case c.cmdCh <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return &reserr.TransportError{}
	}
}

// sendCmd schedules f to run on the dispatcher goroutine, reporting false
// instead of blocking forever if the Client has already been Closed.
func (c *Client) sendCmd(f func()) bool {
	select {
	case c.cmdCh <- f:
		return true
	case <-c.done:
		return false
	}
}

// SetOnConnect registers a hook run on the dispatcher goroutine right
// after the transport opens and before the connect future resolves or any
// resource is resubscribed (spec.md §6 setOnConnect). If it returns an
// error, the transport is closed and the connect future fails.
func (c *Client) SetOnConnect(hook func() error) {
	done := make(chan struct{})
	if c.sendCmd(func() {
		c.conn.SetOnConnectHook(hook)
		close(done)
	}) {
		<-done
	}
}

// Connect opens the connection, or returns immediately if already open.
// It blocks until the connection opens, fails, or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	fut := make(chan (<-chan error), 1)
	if err := c.enqueue(ctx, func() { fut <- c.conn.Connect() }); err != nil {
		return err
	}
	var errCh <-chan error
	select {
	case errCh = <-fut:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return &reserr.TransportError{}
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and stops automatic reconnects.
func (c *Client) Disconnect() {
	done := make(chan struct{})
	if c.sendCmd(func() {
		c.conn.Disconnect()
		close(done)
	}) {
		<-done
	}
}

// Close disconnects and stops the dispatcher goroutine. The Client must
// not be used after Close returns (SPEC_FULL.md §5 "graceful shutdown").
func (c *Client) Close(ctx context.Context) error {
	c.Disconnect()
	close(c.done)
	return nil
}

// Connected reports whether the connection is currently open.
func (c *Client) Connected() bool {
	ch := make(chan bool, 1)
	if !c.sendCmd(func() { ch <- c.conn.Connected() }) {
		return false
	}
	return <-ch
}

// On registers h for one or more client-level events ("connect", "close",
// "error"). It returns an unsubscribe function.
func (c *Client) On(names []string, h func(data interface{})) (unsubscribe func()) {
	token := c.bus.On(c.cfg.namespace(), "client", names, h)
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		c.bus.Off(c.cfg.namespace(), "client", names, token)
	}
}

func (c *Client) handleMessage(data []byte) {
	ev, err := c.codec.Receive(data)
	if err != nil {
		c.log.Logf("[%s] malformed inbound message: %s", c.conn.CID(), err)
		c.bus.Emit(c.cfg.namespace(), "client", EventError, err)
		return
	}
	if ev == nil {
		return
	}
	entry := c.cache.Get(ev.RID)
	if entry == nil || !entry.Subscribed() {
		c.log.Tracef("[%s] event for unknown/unsubscribed resource %s: %s", c.conn.CID(), ev.RID, ev.Name)
		return
	}
	if err := c.engine.HandleEvent(entry, ev); err != nil {
		c.log.Logf("[%s] handling event %s.%s: %s", c.conn.CID(), ev.RID, ev.Name, err)
		c.bus.Emit(c.cfg.namespace(), "client", EventError, err)
	}
	c.reportCacheStats()
}

// reportCacheStats pushes the current cache composition to the
// Prometheus gauges (SPEC_FULL.md §4.2 "ResourceCache.Stats()"). Must
// only be called from the dispatcher goroutine, same as every other
// c.cache access. A nil c.metrics (no Config.MetricsRegisterer) makes
// this a no-op via Collector's own nil receiver methods.
func (c *Client) reportCacheStats() {
	s := c.cache.Stats()
	c.metrics.SetCacheStats(s.Subscribed, s.Stale, s.Pending)
}

// OnResourceEvent registers h for a single named event on rid, contributing
// one direct cache reference until the returned unsubscribe function runs.
// It is the generic counterpart of Model.OnChange/Collection.OnAdd/OnRemove,
// for a custom ModelValue's own event wiring (its ModelFactory is handed
// the owning *Client for exactly this purpose).
func (c *Client) OnResourceEvent(rid, name string, h func(data interface{})) (unsubscribe func()) {
	return c.onResourceEvent(rid, name, h)
}

// onResourceEvent registers h for a single resource event, contributing
// one direct cache reference for rid (spec.md §3/§4.6: "a direct
// reference is a user-attached listener") until the returned unsubscribe
// function runs.
func (c *Client) onResourceEvent(rid, name string, h func(data interface{})) (unsubscribe func()) {
	done := make(chan struct{})
	if c.sendCmd(func() {
		c.cache.AddDirect(rid)
		c.reportCacheStats()
		close(done)
	}) {
		<-done
	}

	token := c.bus.On(c.cfg.namespace(), "resource."+rid, []string{name}, h)

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		c.bus.Off(c.cfg.namespace(), "resource."+rid, []string{name}, token)
		removed := make(chan struct{})
		if c.sendCmd(func() {
			c.cache.RemoveDirect(rid)
			c.reportCacheStats()
			close(removed)
		}) {
			<-removed
		}
	}
}

// GetResource fetches (or returns the already-cached) value for rid,
// subscribing if necessary. The returned value is *Model, *Collection, or
// a registered custom ModelValue.
func (c *Client) GetResource(ctx context.Context, rid string) (interface{}, error) {
	type itemResult struct {
		item rescache.Item
		err  error
	}
	resCh := make(chan itemResult, 1)
	if err := c.enqueue(ctx, func() {
		c.cache.GetOrFetch(rid, func(item rescache.Item, err error) {
			c.reportCacheStats()
			resCh <- itemResult{item, err}
		})
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, r.err
		}
		return unwrapAdapter(r.item), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, &reserr.TransportError{}
	}
}

// rpc sends method/params and waits for the correlated response or
// rejection, all funneled through the dispatcher goroutine. Round-trip
// latency and outcome are recorded under method's verb (the segment
// before its first dot: "call" or "auth"; subscribe/unsubscribe requests
// go through clientRequester and are not recorded).
func (c *Client) rpc(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	type rpcResult struct {
		result json.RawMessage
		err    error
	}
	resCh := make(chan rpcResult, 1)
	start := time.Now()
	verb := method
	if i := strings.IndexByte(method, '.'); i >= 0 {
		verb = method[:i]
	}

	if err := c.enqueue(ctx, func() {
		if !c.conn.Connected() {
			resCh <- rpcResult{err: &reserr.TransportError{}}
			return
		}
		sendErr := c.codec.Send(c.conn, method, params,
			func(result json.RawMessage) { resCh <- rpcResult{result: result} },
			func(err error) { resCh <- rpcResult{err: err} },
		)
		if sendErr != nil {
			resCh <- rpcResult{err: sendErr}
		}
	}); err != nil {
		return nil, err
	}

	observe := func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.ObserveRequest(verb, outcome, time.Since(start).Seconds())
	}

	select {
	case r := <-resCh:
		observe(r.err)
		return r.result, r.err
	case <-ctx.Done():
		observe(ctx.Err())
		return nil, ctx.Err()
	case <-c.done:
		observe(&reserr.TransportError{})
		return nil, &reserr.TransportError{}
	}
}

// CreateModel calls the "new" action on collectionRid with props and
// returns the newly created Model (spec.md §6 createModel).
func (c *Client) CreateModel(ctx context.Context, collectionRid string, props map[string]interface{}) (interface{}, error) {
	params, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	result, err := c.rpc(ctx, "call."+collectionRid+".new", params)
	if err != nil {
		return nil, err
	}
	return c.ingestCallResult(ctx, result)
}

// RemoveModel calls the "delete" action on collectionRid for rid
// (spec.md §6 removeModel).
func (c *Client) RemoveModel(ctx context.Context, collectionRid, rid string) error {
	params, err := json.Marshal(map[string]string{"rid": rid})
	if err != nil {
		return err
	}
	_, err = c.rpc(ctx, "call."+collectionRid+".delete", params)
	return err
}

// SetModel calls the "set" action on rid with props, translating any
// value equal to Delete to the wire delete sentinel (spec.md §6 setModel,
// invariant 6).
func (c *Client) SetModel(ctx context.Context, rid string, props map[string]interface{}) error {
	params, err := codec.EncodeChangeParams(props, func(v interface{}) bool { return v == Delete })
	if err != nil {
		return err
	}
	_, err = c.rpc(ctx, "call."+rid+".set", params)
	return err
}

// CallModel invokes an arbitrary named call action on rid (spec.md §6
// callModel) and returns the raw decoded result.
func (c *Client) CallModel(ctx context.Context, rid, method string, params interface{}) (json.RawMessage, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return c.rpc(ctx, "call."+rid+"."+method, p)
}

// Authenticate invokes an auth action on rid (spec.md §6 authenticate).
func (c *Client) Authenticate(ctx context.Context, rid, method string, params interface{}) (json.RawMessage, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return c.rpc(ctx, "auth."+rid+"."+method, p)
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// ingestCallResult decodes a "new" call's {rid} result and resolves it to
// the created resource's value the same way GetResource would.
func (c *Client) ingestCallResult(ctx context.Context, result json.RawMessage) (interface{}, error) {
	var ref struct {
		RID string `json:"rid"`
	}
	if err := json.Unmarshal(result, &ref); err != nil || ref.RID == "" {
		return nil, &reserr.ProtocolError{Reason: "new call result has no rid"}
	}
	return c.GetResource(ctx, ref.RID)
}

// RegisterModelType registers a custom ModelValue factory under a
// two-segment type prefix (spec.md §3 ModelType registry). change is
// optional (at most one may be given): when present, it replaces the
// model's own ApplyChange for every change/resync delta routed to it
// (spec.md §4.4 custom change handler delegation).
func (c *Client) RegisterModelType(id string, factory ModelFactory, change ...ModelChangeFunc) error {
	if len(change) > 1 {
		return &reserr.ConfigError{Reason: "RegisterModelType accepts at most one change handler"}
	}
	mt := &rescache.ModelType{ID: id, Factory: wrapModelFactory(c, factory)}
	if len(change) == 1 {
		mt.Change = wrapModelChange(change[0])
	}
	ch := make(chan error, 1)
	if !c.sendCmd(func() {
		ch <- c.types.Register(mt)
	}) {
		return &reserr.TransportError{}
	}
	return <-ch
}

// UnregisterModelType removes the ModelType registered under id.
func (c *Client) UnregisterModelType(id string) {
	done := make(chan struct{})
	if c.sendCmd(func() {
		c.types.Unregister(id)
		close(done)
	}) {
		<-done
	}
}

// unwrapAdapter strips the internal modelItemAdapter wrapper so callers
// that registered a custom ModelFactory see their own ModelValue back.
func unwrapAdapter(item rescache.Item) interface{} {
	if a, ok := item.(modelItemAdapter); ok {
		return a.ModelValue
	}
	return item
}

func defaultModelFactory(c *Client) rescache.ModelFactory {
	return func(rid string, data map[string]codec.Value) (rescache.ModelItem, error) {
		return newModel(c, rid, data)
	}
}

func defaultCollectionFactory(c *Client) rescache.CollectionFactory {
	return func(rid string) (rescache.CollectionItem, error) {
		return newCollection(c, rid, c.collIDCallbacks[rescache.TypePrefix(rid)]), nil
	}
}

// RegisterCollectionIDCallback configures the IDCallback every Collection
// whose rid's type prefix matches prefix is constructed with (spec.md §6
// ResourceValue contract "Optional idCallback builds a secondary
// id-lookup map"). prefix must match `^[^.]+\.[^.]+$`; registering a
// duplicate prefix fails with *reserr.ConfigError, the same as
// RegisterModelType.
func (c *Client) RegisterCollectionIDCallback(prefix string, cb IDCallback) error {
	if !rescache.ValidTypePrefixPattern(prefix) {
		return &reserr.ConfigError{Reason: "collection id callback prefix must match <segment>.<segment>: " + prefix}
	}
	ch := make(chan error, 1)
	if !c.sendCmd(func() {
		if _, exists := c.collIDCallbacks[prefix]; exists {
			ch <- &reserr.ConfigError{Reason: "duplicate collection id callback prefix: " + prefix}
			return
		}
		c.collIDCallbacks[prefix] = cb
		ch <- nil
	}) {
		return &reserr.TransportError{}
	}
	return <-ch
}

// UnregisterCollectionIDCallback removes the IDCallback registered for
// prefix, if any. Collections already constructed keep whichever
// IDCallback they were given at construction time.
func (c *Client) UnregisterCollectionIDCallback(prefix string) {
	done := make(chan struct{})
	if c.sendCmd(func() {
		delete(c.collIDCallbacks, prefix)
		close(done)
	}) {
		<-done
	}
}

// clientRequester adapts Client to rescache.Requester.
type clientRequester struct{ c *Client }

func (r clientRequester) Connected() bool { return r.c.conn.Connected() }

func (r clientRequester) Subscribe(rid string, cb func(*codec.GetResult, error)) {
	err := r.c.codec.Send(r.c.conn, "subscribe."+rid, nil,
		func(result json.RawMessage) {
			gr, derr := codec.DecodeGetResult(result)
			cb(gr, derr)
		},
		func(err error) { cb(nil, err) },
	)
	if err != nil {
		cb(nil, err)
	}
}

func (r clientRequester) Unsubscribe(rid string, cb func(error)) {
	err := r.c.codec.Send(r.c.conn, "unsubscribe."+rid, nil,
		func(json.RawMessage) { cb(nil) },
		func(err error) { cb(err) },
	)
	if err != nil {
		cb(err)
	}
}

// dispatchingTransport wraps the user-supplied Transport so every
// callback it invokes (from whatever goroutine the transport's own
// read/dial loop runs on) is funneled onto the Client's single dispatcher
// goroutine before touching any dispatcher-owned state, matching the
// teacher's own ConnSubscriber.Enqueue serialization pattern.
type dispatchingTransport struct {
	c *Client
	connmgr.Transport
}

func (d dispatchingTransport) SetHandlers(h connmgr.Handlers) {
	d.Transport.SetHandlers(connmgr.Handlers{
		OnOpen: func() {
			d.c.sendCmd(func() {
				if h.OnOpen != nil {
					h.OnOpen()
				}
			})
		},
		OnMessage: func(data []byte) {
			d.c.sendCmd(func() {
				if h.OnMessage != nil {
					h.OnMessage(data)
				}
			})
		},
		OnError: func(err error) {
			d.c.sendCmd(func() {
				if h.OnError != nil {
					h.OnError(err)
				}
			})
		},
		OnClose: func(err error) {
			d.c.sendCmd(func() {
				if h.OnClose != nil {
					h.OnClose(err)
				}
			})
		},
	})
}
