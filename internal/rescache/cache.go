// Package rescache implements the ResourceCache and CacheEntry components
// of SPEC_FULL.md §4.2: the rid-keyed cache with its reference-count
// invariants, creation/lookup/release lifecycle, and ownership
// transitions between direct, indirect, and subscribed interest.
//
// Cache is not safe for concurrent use; like Codec, it is owned
// exclusively by the client's single dispatcher goroutine.
package rescache

import (
	"time"

	"github.com/jirenius/timerqueue"

	"github.com/resgateio/resclient-go/internal/codec"
	"github.com/resgateio/resclient-go/logger"
	"github.com/resgateio/resclient-go/reserr"
)

// StaleResubscribeDelay is the default delay before a stale (unsubscribed
// but still directly referenced) entry is resubscribed (spec.md §4.2,
// §6 Defaults).
const StaleResubscribeDelay = 2000 * time.Millisecond

// Requester issues the subscribe/unsubscribe RPCs the cache needs and
// reports connectivity. Implemented by the dispatcher in package
// resclient; kept as an interface here to avoid an import cycle.
type Requester interface {
	Subscribe(rid string, cb func(*codec.GetResult, error))
	Unsubscribe(rid string, cb func(error))
	Connected() bool
}

// Syncer reconciles an already-bound entry with a fresh snapshot,
// dispatching add/remove/change events as it goes (SPEC_FULL.md §4.3).
// Implemented by package sync and injected via SetSyncer, to keep the
// rescache -> sync import edge one-directional.
type Syncer func(entry *Entry, result *codec.GetResult) error

// Cache is the ResourceCache: a map from rid to Entry plus the types
// registry used to bind Model snapshots to a concrete ModelItem.
type Cache struct {
	entries map[string]*Entry
	types   *TypeRegistry
	req     Requester
	log     logger.Logger
	sync    Syncer
	timers  *timerqueue.Queue
}

// New creates an empty Cache.
func New(types *TypeRegistry, req Requester, log logger.Logger) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		types:   types,
		req:     req,
		log:     log,
	}
	c.timers = timerqueue.New(c.onStaleTimeout, StaleResubscribeDelay)
	return c
}

// SetSyncer wires the SyncEngine implementation. Must be called before
// any ingestSnapshot on an already-bound entry occurs.
func (c *Cache) SetSyncer(s Syncer) { c.sync = s }

// Len returns the number of cached entries, for metrics/tests.
func (c *Cache) Len() int { return len(c.entries) }

// Get returns the entry for rid, or nil if not cached.
func (c *Cache) Get(rid string) *Entry { return c.entries[rid] }

// GetOrFetch returns the entry's bound item if already present, waits on
// an in-flight fetch, or starts a new subscribe (spec.md §4.2).
func (c *Cache) GetOrFetch(rid string, cb func(Item, error)) {
	e, ok := c.entries[rid]
	if ok {
		if e.hasItem() {
			cb(e.item, nil)
			return
		}
		// In-flight fetch: queue behind it.
		e.waiters = append(e.waiters, cb)
		return
	}

	e = &Entry{rid: rid, subscribed: true, fetching: true}
	c.entries[rid] = e
	e.waiters = append(e.waiters, cb)

	c.req.Subscribe(rid, func(result *codec.GetResult, err error) {
		e.fetching = false
		if err != nil {
			e.subscribed = false
			waiters := e.waiters
			e.waiters = nil
			c.tryRelease(e)
			for _, w := range waiters {
				w(nil, err)
			}
			return
		}

		if _, ierr := c.IngestSnapshot(rid, result, false); ierr != nil {
			waiters := e.waiters
			e.waiters = nil
			e.subscribed = false
			c.tryRelease(e)
			for _, w := range waiters {
				w(nil, ierr)
			}
			return
		}

		waiters := e.waiters
		e.waiters = nil
		for _, w := range waiters {
			w(e.item, nil)
		}
	})
}

// IngestSnapshot binds rid's entry to a freshly delivered snapshot,
// creating the entry if necessary, or routes the snapshot through the
// Syncer if the entry is already bound (spec.md §4.2).
func (c *Cache) IngestSnapshot(rid string, result *codec.GetResult, addIndirect bool) (*Entry, error) {
	e, ok := c.entries[rid]
	if !ok {
		e = &Entry{rid: rid}
		c.entries[rid] = e
	}

	if e.hasItem() {
		if c.sync == nil {
			return nil, &reserr.CacheIntegrityError{Reason: "no syncer configured for stale entry " + rid}
		}
		if err := c.sync(e, result); err != nil {
			return nil, err
		}
		if addIndirect {
			e.indirect++
		}
		return e, nil
	}

	if result.Model != nil {
		mt := c.types.Lookup(rid)
		factory := c.types.DefaultFactory()
		if mt != nil {
			factory = mt.Factory
		}
		item, err := factory(rid, result.Model)
		if err != nil {
			return nil, err
		}
		e.kind = KindModel
		e.item = item
		e.modelType = mt
	} else {
		collFactory := c.types.CollectionFactory()
		coll, err := collFactory(rid)
		if err != nil {
			return nil, err
		}

		children := make([]Item, len(result.Collection))
		for i, v := range result.Collection {
			if v.Type != codec.ValueTypeResource {
				return nil, &reserr.ProtocolError{Reason: "collection element in " + rid + " is not a resource reference"}
			}
			childResult, derr := codec.DecodeNestedData(v.Data)
			if derr != nil {
				return nil, derr
			}
			child, cerr := c.ingestChild(v.RID, childResult)
			if cerr != nil {
				return nil, cerr
			}
			children[i] = child
		}

		if err := coll.Init(children); err != nil {
			return nil, err
		}
		e.kind = KindCollection
		e.item = coll
	}

	if addIndirect {
		e.indirect++
	}
	return e, nil
}

// IngestChild resolves a single collection element for a caller adding one
// rid to a collection it owns: reuse an already cached+bound entry, or
// bind nested (if the add carried inline data), contributing one indirect
// reference either way. Exposed for package sync's live "add" event
// handling, which needs the same existing-entry-reuse behavior as the
// initial collection snapshot walk below.
func (c *Cache) IngestChild(rid string, nested *codec.GetResult) (Item, error) {
	return c.ingestChild(rid, nested)
}

// ingestChild resolves a single collection element: reuse an already
// cached+bound entry, or bind childResult (if the parent snapshot inlined
// it), contributing one indirect reference either way.
func (c *Cache) ingestChild(rid string, childResult *codec.GetResult) (Item, error) {
	if existing, ok := c.entries[rid]; ok && existing.hasItem() {
		existing.indirect++
		return existing.item, nil
	}
	if childResult == nil {
		return nil, &reserr.ProtocolError{Reason: "collection element " + rid + " has no cached entry and no inline data"}
	}
	childEntry, err := c.IngestSnapshot(rid, childResult, true)
	if err != nil {
		return nil, err
	}
	return childEntry.item, nil
}

// AddDirect increments rid's direct reference count, creating the entry
// if necessary (used when a caller attaches a listener to a resource
// already known by rid alone, e.g. via event-bus On before GetResource
// resolves).
func (c *Cache) AddDirect(rid string) {
	e, ok := c.entries[rid]
	if !ok {
		e = &Entry{rid: rid}
		c.entries[rid] = e
	}
	e.direct++
}

// RemoveDirect decrements rid's direct reference count and runs the
// teardown sequence of spec.md §4.6 once it reaches zero interest from
// this caller's perspective (the release callback fires tryRelease/
// unsubscribe as appropriate).
func (c *Cache) RemoveDirect(rid string) {
	e, ok := c.entries[rid]
	if !ok {
		return
	}
	e.direct--
	c.teardownDirect(e)
}

// teardownDirect implements spec.md §4.6: when a listener count reaches
// zero release condition, resubscribe any child about to lose its
// only indirect ref while still directly observed, then unsubscribe (if
// subscribed) or release immediately.
func (c *Cache) teardownDirect(e *Entry) {
	if e.direct > 0 {
		return
	}
	if !e.subscribed {
		c.tryRelease(e)
		return
	}

	if e.kind == KindCollection {
		if coll, ok := e.item.(CollectionItem); ok {
			for i := 0; i < coll.Len(); i++ {
				child := coll.At(i)
				if ce, ok := c.entries[child.RID()]; ok {
					if ce.direct > 0 && ce.indirect == 1 && !ce.subscribed {
						c.resubscribe(ce)
					}
				}
			}
		}
	}

	if !c.req.Connected() {
		e.subscribed = false
		c.tryRelease(e)
		return
	}

	c.req.Unsubscribe(e.rid, func(error) {
		e.subscribed = false
		c.tryRelease(e)
	})
}

// MarkUnsubscribed clears rid's subscribed flag (a server-initiated
// "unsubscribe" event, spec.md §4.4) and runs TryRelease, which arms the
// stale-resubscribe timer if direct references remain.
func (c *Cache) MarkUnsubscribed(rid string) {
	e, ok := c.entries[rid]
	if !ok {
		return
	}
	e.subscribed = false
	c.tryRelease(e)
}

// ReleaseReference decrements rid's indirect count by one and runs
// TryRelease, used when a collection loses a child (sync engine remove
// handling, spec.md §4.4 "remove").
func (c *Cache) ReleaseReference(rid string) {
	e, ok := c.entries[rid]
	if !ok {
		return
	}
	e.indirect--
	c.tryRelease(e)
}

// TryRelease is the central GC decision (spec.md §4.2): an entry is
// removed from the cache only once direct==0, indirect==0, and
// !subscribed. If released and the entry is a Collection, every child's
// indirect count is decremented and TryRelease is applied recursively.
func (c *Cache) TryRelease(e *Entry) { c.tryRelease(e) }

func (c *Cache) tryRelease(e *Entry) {
	if e.indirect > 0 {
		return
	}
	if e.direct > 0 {
		if !e.subscribed && c.req.Connected() {
			c.armStaleTimer(e)
		}
		return
	}
	if e.subscribed {
		return
	}

	c.disarmStaleTimer(e)

	if e.kind == KindCollection {
		if coll, ok := e.item.(CollectionItem); ok {
			for i := 0; i < coll.Len(); i++ {
				child := coll.At(i)
				if ce, ok := c.entries[child.RID()]; ok {
					ce.indirect--
					c.tryRelease(ce)
				}
			}
		}
	}

	if e.releaseCallback != nil {
		e.releaseCallback()
	}
	delete(c.entries, e.rid)
}

// SetReleaseCallback installs the callback invoked when rid's entry is
// finally dropped from the cache (spec.md §3 CacheEntry.releaseCallback).
func (c *Cache) SetReleaseCallback(rid string, cb func()) {
	if e, ok := c.entries[rid]; ok {
		e.releaseCallback = cb
	}
}

// armStaleTimer schedules a resubscribe attempt for e after
// StaleResubscribeDelay (spec.md §4.2 "Stale-resubscribe timer").
func (c *Cache) armStaleTimer(e *Entry) {
	if e.staleTimerArmed {
		return
	}
	e.staleTimerArmed = true
	c.timers.Add(e.rid)
}

func (c *Cache) disarmStaleTimer(e *Entry) {
	if !e.staleTimerArmed {
		return
	}
	e.staleTimerArmed = false
	c.timers.Remove(e.rid)
}

func (c *Cache) onStaleTimeout(v interface{}) {
	rid, _ := v.(string)
	e, ok := c.entries[rid]
	if !ok {
		return
	}
	e.staleTimerArmed = false
	if e.subscribed || e.direct == 0 || !c.req.Connected() {
		return
	}
	c.resubscribe(e)
}

// resubscribe re-issues a subscribe for an already-bound stale entry and
// routes the fresh snapshot through the Syncer.
func (c *Cache) resubscribe(e *Entry) {
	c.req.Subscribe(e.rid, func(result *codec.GetResult, err error) {
		if err != nil {
			e.subscribed = false
			c.tryRelease(e)
			return
		}
		e.subscribed = true
		if _, ierr := c.IngestSnapshot(e.rid, result, false); ierr != nil {
			c.log.Logf("resync of %s failed: %s", e.rid, ierr)
		}
	})
}

// ResubscribeStale re-subscribes every entry that is retained other than
// purely indirectly and is not already subscribed (spec.md §4.5
// "Resubscribe-stale", run once per connection-open).
func (c *Cache) ResubscribeStale() {
	for _, e := range c.entries {
		if e.subscribed {
			continue
		}
		if e.direct == 0 && e.indirect > 0 {
			continue
		}
		e.subscribed = true
		c.resubscribe(e)
	}
}

// MarkAllStale clears Subscribed on every entry and runs TryRelease on
// each (spec.md §4.5 Open state "On transport close").
func (c *Cache) MarkAllStale() {
	for _, e := range c.entries {
		if !e.subscribed {
			continue
		}
		e.subscribed = false
		c.tryRelease(e)
	}
}

// Stats summarizes entry states for metrics (SPEC_FULL.md A.3).
type Stats struct {
	Total      int
	Subscribed int
	Stale      int
	Pending    int
}

// Stats computes the current cache composition.
func (c *Cache) Stats() Stats {
	var s Stats
	s.Total = len(c.entries)
	for _, e := range c.entries {
		switch {
		case e.fetching:
			s.Pending++
		case e.subscribed:
			s.Subscribed++
		default:
			s.Stale++
		}
	}
	return s
}
