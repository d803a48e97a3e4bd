package resclient

import (
	"sync"

	"github.com/resgateio/resclient-go/internal/rescache"
	isync "github.com/resgateio/resclient-go/internal/sync"
	"github.com/resgateio/resclient-go/reserr"
)

// IDCallback extracts a secondary lookup key from a collection item, used
// by Collection.GetByID. Configure one per resource type with
// Client.RegisterCollectionIDCallback; a Collection built for a type
// prefix with none registered simply has no GetByID support (SPEC_FULL.md
// §9 "Collection.add always consults its own idCallback" - here every
// insert keeps byID in sync, and a duplicate id fails the mutation, per
// spec.md §6 "duplicate ids fail initialization or insertion").
type IDCallback func(item rescache.Item) string

// Collection is the default ResourceValue implementation for ordered
// sequences of Models identified by child rid (spec.md §3 Data Model).
type Collection struct {
	rid    string
	client *Client

	mu         sync.RWMutex
	items      []rescache.Item
	idCallback IDCallback
	byID       map[string]rescache.Item
}

func newCollection(client *Client, rid string, idCallback IDCallback) *Collection {
	return &Collection{rid: rid, client: client, idCallback: idCallback}
}

// RID returns the collection's resource id.
func (c *Collection) RID() string { return c.rid }

// Query returns the "?query" portion of this collection's rid (without the
// leading "?"), or "" if the rid carries none (SPEC_FULL.md A.6 query
// resources - resgate's query collections are the common case of a rid
// with a query string attached).
func (c *Collection) Query() string {
	_, q := splitQuery(c.rid)
	return q
}

// Length returns the number of elements currently in the collection.
func (c *Collection) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// At returns the element at idx, or nil if out of range.
func (c *Collection) At(idx int) rescache.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.items) {
		return nil
	}
	return c.items[idx]
}

// ToSlice returns a snapshot copy of the collection's current elements.
func (c *Collection) ToSlice() []rescache.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]rescache.Item, len(c.items))
	copy(out, c.items)
	return out
}

// GetByID looks up an element by the key IDCallback derives from it. It
// returns (nil, false) if no IDCallback was configured or the id is absent.
func (c *Collection) GetByID(id string) (rescache.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.byID == nil {
		return nil, false
	}
	item, ok := c.byID[id]
	return item, ok
}

// OnAdd registers h to run whenever an element is inserted.
func (c *Collection) OnAdd(h func(ev *isync.AddEvent)) (unsubscribe func()) {
	return c.client.onResourceEvent(c.rid, "add", func(data interface{}) {
		if ev, ok := data.(*isync.AddEvent); ok {
			h(ev)
		}
	})
}

// OnRemove registers h to run whenever an element is removed.
func (c *Collection) OnRemove(h func(ev *isync.RemoveEvent)) (unsubscribe func()) {
	return c.client.onResourceEvent(c.rid, "remove", func(data interface{}) {
		if ev, ok := data.(*isync.RemoveEvent); ok {
			h(ev)
		}
	})
}

// Init is the private mutation hook populating the collection's initial
// elements from a subscribe snapshot (spec.md §4.2 ingestSnapshot). It
// fails if IDCallback is configured and the snapshot carries a duplicate
// id (spec.md §6 "duplicate ids fail initialization or insertion").
func (c *Collection) Init(items []rescache.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, err := c.buildIndex(items)
	if err != nil {
		return err
	}
	c.items = append([]rescache.Item(nil), items...)
	c.byID = byID
	return nil
}

// InsertAt is the private mutation hook for a collection "add" (live event
// or resync diff), inserting item at idx. It fails if IDCallback is
// configured and item's id already exists in the collection (spec.md §6
// "duplicate ids fail initialization or insertion").
func (c *Collection) InsertAt(idx int, item rescache.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx > len(c.items) {
		return &reserr.ProtocolError{Reason: "add index out of range for " + c.rid}
	}
	if c.idCallback != nil {
		id := c.idCallback(item)
		if _, exists := c.byID[id]; exists {
			return &reserr.CacheIntegrityError{Reason: "duplicate id " + id + " in collection " + c.rid}
		}
	}
	c.items = append(c.items, nil)
	copy(c.items[idx+1:], c.items[idx:])
	c.items[idx] = item
	c.indexAdd(item)
	return nil
}

// RemoveAt is the private mutation hook for a collection "remove".
func (c *Collection) RemoveAt(idx int) (rescache.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.items) {
		return nil, &reserr.ProtocolError{Reason: "remove index out of range for " + c.rid}
	}
	item := c.items[idx]
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.indexRemove(item)
	return item, nil
}

// Len returns the collection's length (rescache.CollectionItem contract).
func (c *Collection) Len() int { return c.Length() }

// IndexOf returns the index of item in the collection via a linear scan
// (SPEC_FULL.md §9: "implemented as a straightforward linear scan of the
// backing slice"), or -1 if absent.
func (c *Collection) IndexOf(item rescache.Item) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, it := range c.items {
		if it == item {
			return i
		}
	}
	return -1
}

// buildIndex computes the byID map for items from scratch, failing if
// IDCallback is configured and two items share an id.
func (c *Collection) buildIndex(items []rescache.Item) (map[string]rescache.Item, error) {
	if c.idCallback == nil {
		return nil, nil
	}
	byID := make(map[string]rescache.Item, len(items))
	for _, item := range items {
		id := c.idCallback(item)
		if _, exists := byID[id]; exists {
			return nil, &reserr.CacheIntegrityError{Reason: "duplicate id " + id + " in collection " + c.rid}
		}
		byID[id] = item
	}
	return byID, nil
}

func (c *Collection) indexAdd(item rescache.Item) {
	if c.idCallback == nil {
		return
	}
	if c.byID == nil {
		c.byID = make(map[string]rescache.Item)
	}
	c.byID[c.idCallback(item)] = item
}

func (c *Collection) indexRemove(item rescache.Item) {
	if c.idCallback == nil || c.byID == nil {
		return
	}
	delete(c.byID, c.idCallback(item))
}
