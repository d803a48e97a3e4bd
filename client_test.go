package resclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/resgateio/resclient-go/internal/conntest"
	isync "github.com/resgateio/resclient-go/internal/sync"
)

func newTestClient(t *testing.T) (*Client, *conntest.Transport) {
	t.Helper()
	tr := conntest.New()
	c, err := New(Config{URL: "ws://example.invalid/ws", Transport: tr})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
		defer cancel()
		c.Close(ctx)
	})
	return c, tr
}

func connect(t *testing.T, c *Client, tr *conntest.Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx) }()
	tr.PushOpen()
	if err := <-errCh; err != nil {
		t.Fatalf("connect failed: %s", err)
	}
}

func TestClientConnectSubscribeModel(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := c.GetResource(ctx, "example.user.42")
		resCh <- v
		errCh <- err
	}()

	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.user.42")
	req.RespondSuccess(conntest.ModelResult(map[string]interface{}{"name": "Bob", "age": 42}))

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	v := <-resCh
	model, ok := v.(*Model)
	if !ok {
		t.Fatalf("expected *Model, got %T", v)
	}
	if name, ok := model.Get("name"); !ok || name != "Bob" {
		t.Fatalf("unexpected name: %v, ok=%v", name, ok)
	}
}

func TestClientChangeEventUpdatesModel(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	go func() {
		v, _ := c.GetResource(ctx, "example.user.42")
		resCh <- v
	}()
	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.user.42")
	req.RespondSuccess(conntest.ModelResult(map[string]interface{}{"name": "Bob"}))
	model := (<-resCh).(*Model)

	changeCh := make(chan *isync.ChangeEvent, 1)
	unsub := model.OnChange(func(ev *isync.ChangeEvent) { changeCh <- ev })
	defer unsub()

	tr.PushEvent("example.user.42", "change", map[string]interface{}{"name": "Alice"})

	select {
	case ev := <-changeCh:
		if ev.Values["name"] != "Bob" {
			t.Fatalf("expected old value Bob, got %v", ev.Values["name"])
		}
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for change event")
	}

	if name, _ := model.Get("name"); name != "Alice" {
		t.Fatalf("expected model updated to Alice, got %v", name)
	}
}

func TestClientSetModelEncodesDeleteSentinel(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.SetModel(ctx, "example.user.42", map[string]interface{}{
			"name": "Bob",
			"age":  Delete,
		})
	}()

	req := tr.NextRequest(t).AssertMethod(t, "call.example.user.42.set")
	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatal(err)
	}
	age, ok := params["age"].(map[string]interface{})
	if !ok || age["action"] != "delete" {
		t.Fatalf("expected age to carry the delete action, got %v", params["age"])
	}
	req.RespondSuccess(map[string]interface{}{})

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}

func TestClientCreateModelResolvesNewResource(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := c.CreateModel(ctx, "example.users", map[string]interface{}{"name": "Carl"})
		resCh <- v
		errCh <- err
	}()

	newReq := tr.NextRequest(t).AssertMethod(t, "call.example.users.new")
	newReq.RespondSuccess(map[string]interface{}{"rid": "example.user.7"})

	subReq := tr.NextRequest(t).AssertMethod(t, "subscribe.example.user.7")
	subReq.RespondSuccess(conntest.ModelResult(map[string]interface{}{"name": "Carl"}))

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	model, ok := (<-resCh).(*Model)
	if !ok {
		t.Fatal("expected created resource to resolve to a *Model")
	}
	if name, _ := model.Get("name"); name != "Carl" {
		t.Fatalf("unexpected name: %v", name)
	}
}

func TestClientDisconnectFailsPendingRPC(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallModel(ctx, "example.user.42", "dosomething", nil)
		errCh <- err
	}()
	tr.NextRequest(t).AssertMethod(t, "call.example.user.42.dosomething")

	c.Disconnect()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected pending RPC to fail once the transport disconnects")
		}
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for pending RPC to fail")
	}
}

func TestClientOnConnectEventFires(t *testing.T) {
	c, tr := newTestClient(t)

	fired := make(chan struct{}, 1)
	unsub := c.On([]string{EventConnect}, func(interface{}) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer unsub()

	connect(t, c, tr)

	select {
	case <-fired:
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for connect event")
	}
}

func TestClientRecordsPrometheusMetrics(t *testing.T) {
	tr := conntest.New()
	reg := prometheus.NewRegistry()
	c, err := New(Config{URL: "ws://example.invalid/ws", Transport: tr, MetricsRegisterer: reg})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
		defer cancel()
		c.Close(ctx)
	})
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallModel(ctx, "example.user.42", "dosomething", nil)
		errCh <- err
	}()
	req := tr.NextRequest(t).AssertMethod(t, "call.example.user.42.dosomething")
	req.RespondSuccess(map[string]interface{}{})
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sawRequestsTotal, sawDuration bool
	for _, mf := range mfs {
		switch mf.GetName() {
		case "resclient_requests_total":
			sawRequestsTotal = true
		case "resclient_request_duration_seconds":
			sawDuration = true
		}
	}
	if !sawRequestsTotal {
		t.Fatal("expected resclient_requests_total to be registered and populated")
	}
	if !sawDuration {
		t.Fatal("expected resclient_request_duration_seconds to be registered and populated")
	}
}
