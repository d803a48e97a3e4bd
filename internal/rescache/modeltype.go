package rescache

import (
	"regexp"
	"strings"

	"github.com/resgateio/resclient-go/internal/codec"
	"github.com/resgateio/resclient-go/reserr"
)

var typePrefixPattern = regexp.MustCompile(`^[^.]+\.[^.]+$`)

// ValidTypePrefixPattern reports whether prefix matches the
// `^[^.]+\.[^.]+$` shape required of a registered type prefix - shared by
// ModelType registration here and by resclient.Client's analogous
// collection-IDCallback registration.
func ValidTypePrefixPattern(prefix string) bool {
	return typePrefixPattern.MatchString(prefix)
}

// ModelType is a registered factory plus its optional custom change
// handler (spec.md §3 ModelType registry / §4.4).
type ModelType struct {
	ID      string
	Factory ModelFactory
	// Change, when set, is invoked instead of the default ApplyChange
	// merge-and-diff behavior (spec.md §4.4 "If the model type has a
	// custom change handler, delegate").
	Change func(item ModelItem, changed map[string]codec.Value) (map[string]codec.Value, error)
}

// TypeRegistry maps a two-segment rid type prefix to a ModelType.
type TypeRegistry struct {
	types   map[string]*ModelType
	coll    CollectionFactory
	dflt    ModelFactory
}

// NewTypeRegistry creates a registry with the given default model factory
// and collection factory.
func NewTypeRegistry(defaultModel ModelFactory, collection CollectionFactory) *TypeRegistry {
	return &TypeRegistry{
		types: make(map[string]*ModelType),
		coll:  collection,
		dflt:  defaultModel,
	}
}

// Register adds a ModelType under id. id must match `^[^.]+\.[^.]+$`;
// registering a duplicate id fails with *reserr.ConfigError.
func (r *TypeRegistry) Register(mt *ModelType) error {
	if !typePrefixPattern.MatchString(mt.ID) {
		return &reserr.ConfigError{Reason: "model type id must match <segment>.<segment>: " + mt.ID}
	}
	if _, exists := r.types[mt.ID]; exists {
		return &reserr.ConfigError{Reason: "duplicate model type id: " + mt.ID}
	}
	r.types[mt.ID] = mt
	return nil
}

// Unregister removes and returns the ModelType for id, or nil if absent.
func (r *TypeRegistry) Unregister(id string) *ModelType {
	mt, ok := r.types[id]
	if !ok {
		return nil
	}
	delete(r.types, id)
	return mt
}

// Lookup finds the ModelType registered for rid's type prefix (first two
// dot-segments, or the whole id if shorter), or nil if none matches.
func (r *TypeRegistry) Lookup(rid string) *ModelType {
	prefix := TypePrefix(rid)
	return r.types[prefix]
}

// DefaultFactory returns the fallback Model factory used when no
// registered type prefix matches.
func (r *TypeRegistry) DefaultFactory() ModelFactory {
	return r.dflt
}

// CollectionFactory returns the single factory used for every Collection.
func (r *TypeRegistry) CollectionFactory() CollectionFactory {
	return r.coll
}

// TypePrefix returns rid's type prefix: its first two dot-segments, or
// the whole id if it has fewer than two segments (spec.md §3). Any
// "?query" suffix (SPEC_FULL.md A.6 query resources) is stripped first, so
// a query attached directly to a two-segment model rid still matches its
// registered ModelType.
func TypePrefix(rid string) string {
	if i := strings.IndexByte(rid, '?'); i >= 0 {
		rid = rid[:i]
	}
	dots := 0
	for i, c := range rid {
		if c == '.' {
			dots++
			if dots == 2 {
				return rid[:i]
			}
		}
	}
	return rid
}
