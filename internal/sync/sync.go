// Package sync implements the SyncEngine component of SPEC_FULL.md §4.3
// and the live-event handling of §4.4: reconciling a stale cached
// resource with a freshly delivered snapshot, and applying incoming
// change/add/remove/unsubscribe events to cached resources, dispatching
// the resulting observable events on the event bus in both cases.
package sync

import (
	"encoding/json"

	"github.com/resgateio/resclient-go/internal/codec"
	"github.com/resgateio/resclient-go/internal/events"
	"github.com/resgateio/resclient-go/internal/rescache"
	"github.com/resgateio/resclient-go/reserr"
)

// ChangeEvent is the payload of a "change" bus event.
type ChangeEvent struct {
	Values map[string]interface{}
}

// AddEvent is the payload of a collection "add" bus event.
type AddEvent struct {
	Item rescache.Item
	Idx  int
}

// RemoveEvent is the payload of a collection "remove" bus event.
type RemoveEvent struct {
	Item rescache.Item
	Idx  int
}

// UnsubscribeEvent is the payload of an "unsubscribe" bus event.
type UnsubscribeEvent struct {
	Item rescache.Item
}

// Engine ties the cache to the event bus, namespaced per SPEC_FULL.md §6
// Defaults ("resclient").
type Engine struct {
	cache     *rescache.Cache
	bus       *events.Bus
	namespace string
}

// New creates an Engine bound to cache and bus under namespace.
func New(cache *rescache.Cache, bus *events.Bus, namespace string) *Engine {
	return &Engine{cache: cache, bus: bus, namespace: namespace}
}

// AsSyncer adapts Engine.Reconcile to the rescache.Syncer signature, for
// wiring into Cache.SetSyncer.
func (en *Engine) AsSyncer() rescache.Syncer { return en.Reconcile }

// Reconcile implements spec.md §4.3: an already-bound entry is
// reconciled against a freshly delivered snapshot.
func (en *Engine) Reconcile(entry *rescache.Entry, result *codec.GetResult) error {
	isCollectionSnapshot := result.Model == nil
	if isCollectionSnapshot != (entry.Kind() == rescache.KindCollection) {
		return &reserr.ResourceTypeInconsistencyError{RID: entry.RID()}
	}

	if entry.Kind() == rescache.KindModel {
		return en.syncModel(entry, result.Model)
	}
	return en.syncCollection(entry, result.Collection)
}

func (en *Engine) syncModel(entry *rescache.Entry, data map[string]codec.Value) error {
	mi, ok := entry.Item().(rescache.ModelItem)
	if !ok {
		return &reserr.CacheIntegrityError{Reason: "entry " + entry.RID() + " item is not a ModelItem"}
	}
	return en.applyModelChange(entry, mi, data)
}

func (en *Engine) syncCollection(entry *rescache.Entry, snapshot []codec.Value) error {
	coll, ok := entry.Item().(rescache.CollectionItem)
	if !ok {
		return &reserr.CacheIntegrityError{Reason: "entry " + entry.RID() + " item is not a CollectionItem"}
	}

	current := make([]string, coll.Len())
	for i := 0; i < coll.Len(); i++ {
		current[i] = coll.At(i).RID()
	}

	target := make([]string, len(snapshot))
	dataByRID := make(map[string]codec.Value, len(snapshot))
	for i, v := range snapshot {
		target[i] = v.RID
		dataByRID[v.RID] = v
	}

	// Step 1: for unchanged elements with non-null inline data, route
	// through IngestSnapshot so nested children update in place.
	for i := 0; i < coll.Len(); i++ {
		rid := coll.At(i).RID()
		v, ok := dataByRID[rid]
		if !ok || len(v.Data) == 0 {
			continue
		}
		nested, err := codec.DecodeNestedData(v.Data)
		if err != nil {
			return err
		}
		if nested == nil {
			continue
		}
		if _, err := en.cache.IngestSnapshot(rid, nested, false); err != nil {
			return err
		}
	}

	ops := lcsDiff(current, target)
	for _, op := range ops {
		if op.remove {
			item, err := coll.RemoveAt(op.idx)
			if err != nil {
				return err
			}
			en.bus.Emit(en.namespace, "resource."+entry.RID(), codec.EventRemove, &RemoveEvent{Item: item, Idx: op.idx})
			en.cache.ReleaseReference(item.RID())
			continue
		}
		if err := en.applyAddAt(entry, coll, op.rid, op.idx, dataByRID[op.rid]); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent implements spec.md §4.4: live incoming events routed by
// rid to the cached entry.
func (en *Engine) HandleEvent(entry *rescache.Entry, ev *codec.Event) error {
	switch ev.Name {
	case codec.EventChange:
		return en.handleChange(entry, ev)
	case codec.EventAdd:
		return en.handleAdd(entry, ev)
	case codec.EventRemove:
		return en.handleRemove(entry, ev)
	case codec.EventUnsubscribe:
		return en.handleUnsubscribe(entry)
	default:
		en.bus.Emit(en.namespace, "resource."+entry.RID(), ev.Name, ev.Data)
		return nil
	}
}

func (en *Engine) handleChange(entry *rescache.Entry, ev *codec.Event) error {
	props, err := codec.DecodeChangeEvent(ev.Data)
	if err != nil {
		return err
	}
	mi, ok := entry.Item().(rescache.ModelItem)
	if !ok {
		return &reserr.CacheIntegrityError{Reason: "entry " + entry.RID() + " item is not a ModelItem"}
	}
	return en.applyModelChange(entry, mi, props)
}

// applyModelChange is the shared implementation behind both live
// "change" events (§4.4) and resync-driven model sync (§4.3): apply the
// delta via the model's private update hook, or, if entry's ModelType
// registered a custom change handler, delegate to that instead (spec.md
// §4.4 "If the model type has a custom change handler, delegate") - and,
// if anything actually changed, emit "change".
func (en *Engine) applyModelChange(entry *rescache.Entry, mi rescache.ModelItem, props map[string]codec.Value) error {
	rid := entry.RID()
	for k, v := range props {
		if v.Type == codec.ValueTypeResource {
			return &reserr.ProtocolError{Reason: "unsupported nested resource value for model key " + k + " in " + rid}
		}
	}

	apply := mi.ApplyChange
	if mt := entry.ModelType(); mt != nil && mt.Change != nil {
		apply = func(changed map[string]codec.Value) (map[string]codec.Value, error) {
			return mt.Change(mi, changed)
		}
	}
	changed, err := apply(props)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	old := make(map[string]interface{}, len(changed))
	for k, v := range changed {
		old[k] = valueToGo(v)
	}
	en.bus.Emit(en.namespace, "resource."+rid, codec.EventChange, &ChangeEvent{Values: old})
	return nil
}

func (en *Engine) handleAdd(entry *rescache.Entry, ev *codec.Event) error {
	coll, ok := entry.Item().(rescache.CollectionItem)
	if !ok {
		return &reserr.CacheIntegrityError{Reason: "entry " + entry.RID() + " item is not a CollectionItem"}
	}
	params, err := codec.DecodeAddEvent(ev.Data)
	if err != nil {
		return err
	}
	v, err := codec.DecodeValue(params.Value)
	if err != nil {
		return err
	}
	if v.Type != codec.ValueTypeResource {
		return &reserr.ProtocolError{Reason: "add event value in " + entry.RID() + " is not a resource reference"}
	}
	return en.applyAddAt(entry, coll, v.RID, params.Idx, v)
}

func (en *Engine) applyAddAt(entry *rescache.Entry, coll rescache.CollectionItem, rid string, idx int, v codec.Value) error {
	nested, err := codec.DecodeNestedData(v.Data)
	if err != nil {
		return err
	}
	childItem, err := en.cache.IngestChild(rid, nested)
	if err != nil {
		return err
	}
	if err := coll.InsertAt(idx, childItem); err != nil {
		return err
	}
	en.bus.Emit(en.namespace, "resource."+entry.RID(), codec.EventAdd, &AddEvent{Item: childItem, Idx: idx})
	return nil
}

func (en *Engine) handleRemove(entry *rescache.Entry, ev *codec.Event) error {
	coll, ok := entry.Item().(rescache.CollectionItem)
	if !ok {
		return &reserr.CacheIntegrityError{Reason: "entry " + entry.RID() + " item is not a CollectionItem"}
	}
	params, err := codec.DecodeRemoveEvent(ev.Data)
	if err != nil {
		return err
	}
	item, err := coll.RemoveAt(params.Idx)
	if err != nil {
		return err
	}
	en.bus.Emit(en.namespace, "resource."+entry.RID(), codec.EventRemove, &RemoveEvent{Item: item, Idx: params.Idx})
	en.cache.ReleaseReference(item.RID())
	return nil
}

func (en *Engine) handleUnsubscribe(entry *rescache.Entry) error {
	en.cache.MarkUnsubscribed(entry.RID())
	en.bus.Emit(en.namespace, "resource."+entry.RID(), codec.EventUnsubscribe, &UnsubscribeEvent{Item: entry.Item()})
	return nil
}

// valueToGo converts a decoded codec.Value to the plain Go representation
// exposed through bus events (nil for a delete, the raw JSON value
// otherwise - callers that need typed access use Model.Get).
func valueToGo(v codec.Value) interface{} {
	if v.Type == codec.ValueTypeDelete {
		return nil
	}
	var out interface{}
	_ = json.Unmarshal(v.Raw, &out)
	return out
}
