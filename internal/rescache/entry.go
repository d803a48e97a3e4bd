package rescache

// waiter is a pending getOrFetch callback, queued while a subscribe
// request is in flight.
type waiter func(Item, error)

// Entry is the per-resource cache entry (spec.md §3 CacheEntry). All
// fields are owned exclusively by Cache's single dispatcher-goroutine
// caller; Entry itself does no internal locking (spec.md §5: "no internal
// mutual exclusion is required").
type Entry struct {
	rid  string
	kind Kind
	item Item

	modelType *ModelType // set only for Model entries

	direct     int
	indirect   int
	subscribed bool

	fetching bool
	waiters  []waiter

	releaseCallback func()

	// staleTimerArmed tracks whether a stale-resubscribe timer is
	// currently pending for this rid, so Cache doesn't double-schedule.
	staleTimerArmed bool
}

// RID returns the entry's resource id.
func (e *Entry) RID() string { return e.rid }

// Kind returns the entry's resource kind, or KindUnset if no snapshot has
// bound an item yet.
func (e *Entry) Kind() Kind { return e.kind }

// Item returns the entry's bound ResourceValue, or nil if unbound.
func (e *Entry) Item() Item { return e.item }

// Direct returns the number of direct (user-attached) references.
func (e *Entry) Direct() int { return e.direct }

// Indirect returns the number of indirect (parent-collection) references.
func (e *Entry) Indirect() int { return e.indirect }

// Subscribed reports whether the server is currently pushing updates for
// this rid on the current connection.
func (e *Entry) Subscribed() bool { return e.subscribed }

// ModelType returns the ModelType this entry's Model snapshot was bound
// with, or nil if it was bound by the default factory or is a Collection
// (set once, at bind time, never for a Collection entry).
func (e *Entry) ModelType() *ModelType { return e.modelType }

// hasItem reports whether a snapshot has bound this entry's item.
func (e *Entry) hasItem() bool { return e.item != nil }
