package resclient

import (
	"context"
	"testing"
	"time"

	"github.com/resgateio/resclient-go/internal/conntest"
)

type counterModel struct {
	client *Client
	rid    string
	count  int
}

func newCounterModel(client *Client, rid string, data map[string]ChangeValue) (ModelValue, error) {
	cm := &counterModel{client: client, rid: rid}
	if v, ok := data["count"]; ok {
		if n, ok := v.Value.(float64); ok {
			cm.count = int(n)
		}
	}
	return cm, nil
}

func (cm *counterModel) RID() string { return cm.rid }

func (cm *counterModel) ApplyChange(changed map[string]ChangeValue) (map[string]ChangeValue, error) {
	old := make(map[string]ChangeValue, len(changed))
	if v, ok := changed["count"]; ok {
		n, _ := v.Value.(float64)
		old["count"] = ChangeValue{Type: ChangePrimitive, Value: float64(cm.count)}
		cm.count = int(n)
	}
	return old, nil
}

func TestRegisterModelTypeUsesCustomFactory(t *testing.T) {
	c, tr := newTestClient(t)

	if err := c.RegisterModelType("example.counter", newCounterModel); err != nil {
		t.Fatal(err)
	}

	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := c.GetResource(ctx, "example.counter.1")
		resCh <- v
		errCh <- err
	}()

	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.counter.1")
	req.RespondSuccess(conntest.ModelResult(map[string]interface{}{"count": 5}))

	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	cm, ok := (<-resCh).(*counterModel)
	if !ok {
		t.Fatalf("expected *counterModel (unwrapped from the internal adapter), got %T", cm)
	}
	if cm.count != 5 {
		t.Fatalf("expected initial count 5, got %d", cm.count)
	}
}

func TestRegisterModelTypeDuplicateFails(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.RegisterModelType("example.counter", newCounterModel); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterModelType("example.counter", newCounterModel); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

// clampedModel's own ApplyChange would store whatever value it is given
// unmodified; its registered ModelChangeFunc instead clamps "count" to
// at most 100, so TestRegisterModelTypeChangeHandlerIsUsed can tell
// which one actually ran.
type clampedModel struct {
	rid   string
	count int
}

func newClampedModel(client *Client, rid string, data map[string]ChangeValue) (ModelValue, error) {
	m := &clampedModel{rid: rid}
	if v, ok := data["count"]; ok {
		if n, ok := v.Value.(float64); ok {
			m.count = int(n)
		}
	}
	return m, nil
}

func (m *clampedModel) RID() string { return m.rid }

func (m *clampedModel) ApplyChange(changed map[string]ChangeValue) (map[string]ChangeValue, error) {
	old := make(map[string]ChangeValue, len(changed))
	if v, ok := changed["count"]; ok {
		n, _ := v.Value.(float64)
		old["count"] = ChangeValue{Type: ChangePrimitive, Value: float64(m.count)}
		m.count = int(n)
	}
	return old, nil
}

func clampChangeHandler(value ModelValue, changed map[string]ChangeValue) (map[string]ChangeValue, error) {
	m := value.(*clampedModel)
	old := make(map[string]ChangeValue, len(changed))
	if v, ok := changed["count"]; ok {
		n, _ := v.Value.(float64)
		if n > 100 {
			n = 100
		}
		old["count"] = ChangeValue{Type: ChangePrimitive, Value: float64(m.count)}
		m.count = int(n)
	}
	return old, nil
}

func TestRegisterModelTypeChangeHandlerIsUsed(t *testing.T) {
	c, tr := newTestClient(t)
	if err := c.RegisterModelType("example.clamped", newClampedModel, clampChangeHandler); err != nil {
		t.Fatal(err)
	}
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	go func() {
		v, _ := c.GetResource(ctx, "example.clamped.1")
		resCh <- v
	}()
	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.clamped.1")
	req.RespondSuccess(conntest.ModelResult(map[string]interface{}{"count": 5}))
	cm := (<-resCh).(*clampedModel)

	changed := make(chan struct{}, 1)
	unsub := c.OnResourceEvent(cm.rid, "change", func(data interface{}) {
		changed <- struct{}{}
	})
	defer unsub()

	tr.PushEvent("example.clamped.1", "change", map[string]interface{}{"count": 9000})

	select {
	case <-changed:
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for change event on custom change handler")
	}
	if cm.count != 100 {
		t.Fatalf("expected change handler to clamp count to 100, got %d", cm.count)
	}
}

func TestRegisterModelTypeRejectsMultipleChangeHandlers(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.RegisterModelType("example.clamped", newClampedModel, clampChangeHandler, clampChangeHandler)
	if err == nil {
		t.Fatal("expected error when registering more than one change handler")
	}
}

func TestCustomModelTypeChangeEventViaOnResourceEvent(t *testing.T) {
	c, tr := newTestClient(t)
	if err := c.RegisterModelType("example.counter", newCounterModel); err != nil {
		t.Fatal(err)
	}
	connect(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), conntest.Timeout)
	defer cancel()

	resCh := make(chan interface{}, 1)
	go func() {
		v, _ := c.GetResource(ctx, "example.counter.1")
		resCh <- v
	}()
	req := tr.NextRequest(t).AssertMethod(t, "subscribe.example.counter.1")
	req.RespondSuccess(conntest.ModelResult(map[string]interface{}{"count": 5}))
	cm := (<-resCh).(*counterModel)

	changed := make(chan struct{}, 1)
	unsub := cm.client.OnResourceEvent(cm.rid, "change", func(data interface{}) {
		changed <- struct{}{}
	})
	defer unsub()

	tr.PushEvent("example.counter.1", "change", map[string]interface{}{"count": 9})

	select {
	case <-changed:
	case <-time.After(conntest.Timeout):
		t.Fatal("timed out waiting for change event on custom model type")
	}
	if cm.count != 9 {
		t.Fatalf("expected count updated to 9, got %d", cm.count)
	}
}
