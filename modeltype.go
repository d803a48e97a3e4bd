package resclient

import (
	"encoding/json"

	"github.com/resgateio/resclient-go/internal/codec"
	"github.com/resgateio/resclient-go/internal/rescache"
)

// ChangeType mirrors codec.ValueType for the public custom-model-type
// surface, without leaking the internal/codec package.
type ChangeType byte

const (
	// ChangePrimitive is an ordinary JSON scalar value.
	ChangePrimitive ChangeType = iota
	// ChangeDelete is the wire delete sentinel: the key is removed.
	ChangeDelete
)

// ChangeValue is one property's new (or old) value in a model change,
// exposed to custom ModelType change handlers.
type ChangeValue struct {
	Type  ChangeType
	Value interface{}
}

func changeValueFromCodec(v codec.Value) ChangeValue {
	if v.Type == codec.ValueTypeDelete {
		return ChangeValue{Type: ChangeDelete}
	}
	var out interface{}
	_ = json.Unmarshal(v.Raw, &out)
	return ChangeValue{Type: ChangePrimitive, Value: out}
}

func changeValueToCodec(v ChangeValue) (codec.Value, error) {
	if v.Type == ChangeDelete {
		return codec.DeleteValue, nil
	}
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return codec.Value{}, err
	}
	return codec.Value{Type: codec.ValueTypePrimitive, Raw: raw}, nil
}

// ModelValue is the contract a custom model type implements in place of
// the default Model (spec.md §3 "ModelType registry"). ApplyChange is the
// private mutation hook: it is exported only because Go interfaces cannot
// be satisfied across package boundaries otherwise, but it is not part of
// this library's stability contract and must only be called by the
// resource cache.
type ModelValue interface {
	rescache.Item
	ApplyChange(changed map[string]ChangeValue) (map[string]ChangeValue, error)
}

// ModelFactory builds a custom ModelValue from the owning Client, a
// resource id, and its initial decoded data. The Client reference lets a
// custom type register its own event listeners via Client.OnResourceEvent
// (spec.md §3 ModelType registry: "factory(*Client, rid, initialData)").
type ModelFactory func(client *Client, rid string, data map[string]ChangeValue) (ModelValue, error)

// modelItemAdapter lets a public ModelValue satisfy rescache.ModelItem
// without internal/codec leaking into the public API surface.
type modelItemAdapter struct {
	ModelValue
}

func (a modelItemAdapter) ApplyChange(changed map[string]codec.Value) (map[string]codec.Value, error) {
	in := make(map[string]ChangeValue, len(changed))
	for k, v := range changed {
		in[k] = changeValueFromCodec(v)
	}
	out, err := a.ModelValue.ApplyChange(in)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	result := make(map[string]codec.Value, len(out))
	for k, v := range out {
		cv, err := changeValueToCodec(v)
		if err != nil {
			return nil, err
		}
		result[k] = cv
	}
	return result, nil
}

func wrapModelFactory(client *Client, f ModelFactory) rescache.ModelFactory {
	return func(rid string, data map[string]codec.Value) (rescache.ModelItem, error) {
		in := make(map[string]ChangeValue, len(data))
		for k, v := range data {
			in[k] = changeValueFromCodec(v)
		}
		mv, err := f(client, rid, in)
		if err != nil {
			return nil, err
		}
		return modelItemAdapter{mv}, nil
	}
}

// ModelChangeFunc replaces a custom model type's own ApplyChange for one
// incoming delta (spec.md §3/§4.4: "(+ optional custom change handler)" -
// "If the model type has a custom change handler, delegate"), e.g. to
// apply validation or derived fields a plain merge-and-diff can't express.
type ModelChangeFunc func(value ModelValue, changed map[string]ChangeValue) (map[string]ChangeValue, error)

func wrapModelChange(f ModelChangeFunc) func(rescache.ModelItem, map[string]codec.Value) (map[string]codec.Value, error) {
	return func(item rescache.ModelItem, changed map[string]codec.Value) (map[string]codec.Value, error) {
		a, ok := item.(modelItemAdapter)
		if !ok {
			return nil, &unsupportedModelValueError{rid: item.RID(), key: "<custom change handler>"}
		}
		in := make(map[string]ChangeValue, len(changed))
		for k, v := range changed {
			in[k] = changeValueFromCodec(v)
		}
		out, err := f(a.ModelValue, in)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, nil
		}
		result := make(map[string]codec.Value, len(out))
		for k, v := range out {
			cv, err := changeValueToCodec(v)
			if err != nil {
				return nil, err
			}
			result[k] = cv
		}
		return result, nil
	}
}
