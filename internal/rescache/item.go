package rescache

import "github.com/resgateio/resclient-go/internal/codec"

// Kind identifies whether a cached resource is a Model or Collection.
// It is unset until the first snapshot binds an Item to the entry.
type Kind byte

const (
	KindUnset Kind = iota
	KindModel
	KindCollection
)

// Item is the minimal contract a ResourceValue must satisfy to be held in
// the cache (spec.md §6 ResourceValue contract).
type Item interface {
	RID() string
}

// ModelItem is the private mutation hook for cached Models (spec.md §3:
// "their internal mutation methods are invoked only by SyncEngine").
// ApplyChange merges changed into the model and returns the subset of
// keys that actually changed, each mapped to its OLD value, or nil if
// nothing changed. These methods are exported because Go interfaces
// cannot otherwise be implemented across package boundaries, but they
// are not part of the library's public stability contract: call them
// only from rescache/sync internals.
type ModelItem interface {
	Item
	ApplyChange(changed map[string]codec.Value) (map[string]codec.Value, error)
}

// CollectionItem is the private mutation hook for cached Collections.
type CollectionItem interface {
	Item
	Init(items []Item) error
	InsertAt(idx int, item Item) error
	RemoveAt(idx int) (Item, error)
	Len() int
	At(idx int) Item
	IndexOf(item Item) int
}

// ModelFactory constructs a Model Item from a decoded snapshot. The
// client reference a user factory needs is bound into the closure by the
// caller of RegisterModelType (resclient.Client), so this package never
// needs to know about *resclient.Client and no import cycle results.
type ModelFactory func(rid string, data map[string]codec.Value) (ModelItem, error)

// CollectionFactory constructs a Collection Item. Collections do not
// participate in the ModelType registry (spec.md: registry lookup is
// Models-only; "A default factory is used when no prefix matches" never
// applies to collections, which are always built the same way).
type CollectionFactory func(rid string) (CollectionItem, error)
