package resclient

import (
	"context"
	"testing"
	"time"

	"github.com/resgateio/resclient-go/internal/conntest"
	"github.com/resgateio/resclient-go/internal/rescache"
	isync "github.com/resgateio/resclient-go/internal/sync"
	"github.com/resgateio/resclient-go/reserr"
)

func TestClientSubscribeNestedCollection(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := c.GetResource(ctx, "example.users")
		resCh <- v
		errCh <- err
	}()

	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.users")
	req.RespondSuccess(conntest.CollectionResult(
		conntest.Ref("example.user.1", map[string]interface{}{"name": "Alice"}),
		conntest.Ref("example.user.2", map[string]interface{}{"name": "Bob"}),
	))

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	coll, ok := (<-resCh).(*Collection)
	if !ok {
		t.Fatalf("expected *Collection, got %T", coll)
	}
	if coll.Length() != 2 {
		t.Fatalf("expected 2 elements, got %d", coll.Length())
	}
	first, ok := coll.At(0).(*Model)
	if !ok || first.RID() != "example.user.1" {
		t.Fatalf("unexpected first element: %+v", coll.At(0))
	}
	if name, _ := first.Get("name"); name != "Alice" {
		t.Fatalf("unexpected inline-decoded name: %v", name)
	}
}

func TestClientCollectionAddRemoveEvents(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	go func() {
		v, _ := c.GetResource(ctx, "example.users")
		resCh <- v
	}()
	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.users")
	req.RespondSuccess(conntest.CollectionResult(
		conntest.Ref("example.user.1", map[string]interface{}{"name": "Alice"}),
	))
	coll := (<-resCh).(*Collection)

	addCh := make(chan *isync.AddEvent, 1)
	unsubAdd := coll.OnAdd(func(ev *isync.AddEvent) { addCh <- ev })
	defer unsubAdd()

	tr.PushMessage([]byte(`{"event":"example.users.add","data":{"idx":1,"value":{"rid":"example.user.2","data":{"name":"Bob"}}}}`))

	select {
	case ev := <-addCh:
		if ev.Idx != 1 || ev.Item.RID() != "example.user.2" {
			t.Fatalf("unexpected add event: %+v", ev)
		}
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for add event")
	}
	if coll.Length() != 2 {
		t.Fatalf("expected 2 elements after add, got %d", coll.Length())
	}

	removeCh := make(chan *isync.RemoveEvent, 1)
	unsubRemove := coll.OnRemove(func(ev *isync.RemoveEvent) { removeCh <- ev })
	defer unsubRemove()

	tr.PushEvent("example.users", "remove", map[string]interface{}{"idx": 0})

	select {
	case ev := <-removeCh:
		if ev.Idx != 0 || ev.Item.RID() != "example.user.1" {
			t.Fatalf("unexpected remove event: %+v", ev)
		}
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for remove event")
	}
	if coll.Length() != 1 {
		t.Fatalf("expected 1 element after remove, got %d", coll.Length())
	}
	if coll.At(0).RID() != "example.user.2" {
		t.Fatalf("expected remaining element to be example.user.2, got %s", coll.At(0).RID())
	}
}

func nameIDCallback(item rescache.Item) string {
	m := item.(*Model)
	name, _ := m.Get("name")
	s, _ := name.(string)
	return s
}

func TestClientCollectionIDCallbackGetByID(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	if err := c.RegisterCollectionIDCallback("example.users", nameIDCallback); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := c.GetResource(ctx, "example.users")
		resCh <- v
		errCh <- err
	}()

	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.users")
	req.RespondSuccess(conntest.CollectionResult(
		conntest.Ref("example.user.1", map[string]interface{}{"name": "Alice"}),
		conntest.Ref("example.user.2", map[string]interface{}{"name": "Bob"}),
	))

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	coll := (<-resCh).(*Collection)

	item, ok := coll.GetByID("Bob")
	if !ok || item.RID() != "example.user.2" {
		t.Fatalf("expected GetByID(\"Bob\") to return example.user.2, got %+v, %v", item, ok)
	}
	if _, ok := coll.GetByID("Carol"); ok {
		t.Fatal("expected GetByID(\"Carol\") to report not found")
	}

	// A live "add" introducing a second "Bob" must fail instead of
	// silently overwriting the existing byID entry.
	tr.PushMessage([]byte(`{"event":"example.users.add","data":{"idx":2,"value":{"rid":"example.user.3","data":{"name":"Bob"}}}}`))
	time.Sleep(conntest.Timeout / 10)
	if coll.Length() != 2 {
		t.Fatalf("expected duplicate-id add to be rejected, collection length is %d", coll.Length())
	}
}

func TestClientCollectionIDCallbackDuplicateInSnapshotFailsInit(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	if err := c.RegisterCollectionIDCallback("example.users", nameIDCallback); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetResource(ctx, "example.users")
		errCh <- err
	}()

	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.users")
	req.RespondSuccess(conntest.CollectionResult(
		conntest.Ref("example.user.1", map[string]interface{}{"name": "Alice"}),
		conntest.Ref("example.user.2", map[string]interface{}{"name": "Alice"}),
	))

	err := <-errCh
	if _, ok := err.(*reserr.CacheIntegrityError); !ok {
		t.Fatalf("expected *reserr.CacheIntegrityError for duplicate id snapshot, got %T: %v", err, err)
	}
}

func TestClientRegisterCollectionIDCallbackValidation(t *testing.T) {
	c, tr := newTestClient(t)
	connect(t, c, tr)

	if err := c.RegisterCollectionIDCallback("badprefix", nameIDCallback); err == nil {
		t.Fatal("expected error for malformed prefix")
	}

	if err := c.RegisterCollectionIDCallback("example.users", nameIDCallback); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterCollectionIDCallback("example.users", nameIDCallback); err == nil {
		t.Fatal("expected error for duplicate prefix registration")
	}

	_ = tr
}
