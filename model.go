package resclient

import (
	"encoding/json"
	"sync"

	"github.com/resgateio/resclient-go/internal/codec"
	isync "github.com/resgateio/resclient-go/internal/sync"
)

// Model is the default ResourceValue implementation for key/value
// resources (spec.md §3 Data Model, §6 ResourceValue contract). A custom
// ModelType may substitute its own type instead, as long as it
// implements the same rescache.ModelItem mutation hook.
type Model struct {
	rid    string
	client *Client

	mu     sync.RWMutex
	values map[string]codec.Value
}

func newModel(client *Client, rid string, data map[string]codec.Value) (*Model, error) {
	values := make(map[string]codec.Value, len(data))
	for k, v := range data {
		if v.Type == codec.ValueTypeResource {
			return nil, &unsupportedModelValueError{key: k, rid: rid}
		}
		values[k] = v
	}
	return &Model{rid: rid, client: client, values: values}, nil
}

// RID returns the model's resource id.
func (m *Model) RID() string { return m.rid }

// Query returns the "?query" portion of this model's rid (without the
// leading "?"), or "" if the rid carries none (SPEC_FULL.md A.6 query
// resources).
func (m *Model) Query() string {
	_, q := splitQuery(m.rid)
	return q
}

// TypePrefix returns the rid's registered-ModelType lookup key: its first
// two dot-segments, ignoring any "?query" suffix (spec.md §3 ModelType
// registry). Useful for generic handling of a mix of default and custom
// Model types sharing a single OnChange/event-routing code path.
func (m *Model) TypePrefix() string { return typePrefix(m.rid) }

// Get returns the current value for key and whether it is present.
func (m *Model) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	var out interface{}
	_ = json.Unmarshal(v.Raw, &out)
	return out, true
}

// Keys returns the model's current property names.
func (m *Model) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// ToMap returns a snapshot copy of the model's current data.
func (m *Model) ToMap() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		var val interface{}
		_ = json.Unmarshal(v.Raw, &val)
		out[k] = val
	}
	return out
}

// OnChange registers h to run whenever this model's data changes. It
// contributes one direct cache reference (spec.md §3/§4.6) until the
// returned unsubscribe function is called.
func (m *Model) OnChange(h func(ev *isync.ChangeEvent)) (unsubscribe func()) {
	return m.client.onResourceEvent(m.rid, codec.EventChange, func(data interface{}) {
		if ev, ok := data.(*isync.ChangeEvent); ok {
			h(ev)
		}
	})
}

// ApplyChange is the private mutation hook invoked only by the resource
// cache / sync engine (spec.md §3: "their internal mutation methods are
// invoked only by SyncEngine"). It merges changed into the model and
// returns the subset of keys that actually changed, mapped to their old
// value (codec.DeleteValue meaning "previously absent").
func (m *Model) ApplyChange(changed map[string]codec.Value) (map[string]codec.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := make(map[string]codec.Value, len(changed))
	for k, v := range changed {
		if v.Type == codec.ValueTypeResource {
			return nil, &unsupportedModelValueError{key: k, rid: m.rid}
		}

		cur, existed := m.values[k]
		if v.Type == codec.ValueTypeDelete {
			if !existed {
				continue
			}
			old[k] = cur
			delete(m.values, k)
			continue
		}

		if existed && cur.Equal(v) {
			continue
		}
		if existed {
			old[k] = cur
		} else {
			old[k] = codec.DeleteValue
		}
		m.values[k] = v
	}

	if len(old) == 0 {
		return nil, nil
	}
	return old, nil
}

type unsupportedModelValueError struct {
	key string
	rid string
}

func (e *unsupportedModelValueError) Error() string {
	return "model " + e.rid + " key " + e.key + ": nested resource references are not supported in Models"
}
