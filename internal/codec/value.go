package codec

import (
	"bytes"
	"encoding/json"
)

// ValueType identifies the kind of a decoded Value, mirroring resgate's
// server/codec.ValueType: a model/collection property is either a plain
// JSON primitive, a reference to another resource ({"rid": "..."}), or an
// action value ({"action": "delete"}). A soft reference
// ({"rid": "...", "soft": true}) is a resource reference with Soft set.
type ValueType byte

const (
	ValueTypePrimitive ValueType = iota
	ValueTypeResource
	ValueTypeDelete
)

// DeleteValue is the decoded form of the wire delete sentinel
// {"action":"delete"}, used to mark a key removed in a change event.
var DeleteValue = Value{Type: ValueTypeDelete}

// Value is a single decoded model/collection element, analogous to the
// teacher's codec.Value. Collection elements are always ValueTypeResource
// (spec.md data model: a Collection is an ordered sequence of Models
// identified by child rid); Data optionally carries that child's inline
// snapshot so the subscribe response can deliver a whole resource graph
// in one round trip (ResourceCache.ingestSnapshot recurses into it).
type Value struct {
	Type ValueType
	RID  string
	Soft bool
	Data json.RawMessage
	Raw  json.RawMessage
}

type resourceRef struct {
	RID  string          `json:"rid"`
	Soft bool            `json:"soft,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type actionValue struct {
	Action string `json:"action"`
}

// DecodeValue decodes a single raw JSON value into a Value, detecting
// resource references and the delete action sentinel.
func DecodeValue(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Value{Type: ValueTypePrimitive, Raw: raw}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		// Not an object after all (e.g. malformed) - treat as primitive
		// and let downstream JSON consumers report the real error.
		return Value{Type: ValueTypePrimitive, Raw: raw}, nil
	}

	if ridRaw, ok := probe["rid"]; ok {
		var ref resourceRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return Value{}, err
		}
		_ = ridRaw
		return Value{Type: ValueTypeResource, RID: ref.RID, Soft: ref.Soft, Data: ref.Data, Raw: raw}, nil
	}

	if actionRaw, ok := probe["action"]; ok {
		var action string
		if err := json.Unmarshal(actionRaw, &action); err == nil && action == "delete" {
			return Value{Type: ValueTypeDelete}, nil
		}
		return Value{}, &DecodeError{Reason: "unsupported action value"}
	}

	// A JSON object that is neither a resource reference nor the delete
	// action is not a valid model/collection value per the RES protocol.
	return Value{}, &DecodeError{Reason: "unsupported object value"}
}

// Equal reports whether two Values carry the same data, used by model
// change merging to skip keys whose value did not change.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueTypeResource:
		return v.RID == o.RID
	case ValueTypeDelete:
		return true
	default:
		return bytes.Equal(bytes.TrimSpace(v.Raw), bytes.TrimSpace(o.Raw))
	}
}

// MarshalJSON re-serializes the Value to its wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ValueTypeResource:
		return json.Marshal(resourceRef{RID: v.RID, Soft: v.Soft, Data: v.Data})
	case ValueTypeDelete:
		return json.Marshal(actionValue{Action: "delete"})
	default:
		if v.Raw == nil {
			return []byte("null"), nil
		}
		return v.Raw, nil
	}
}

// DecodeError is a malformed-frame or malformed-value protocol error
// raised by the codec package itself. Callers pass it on unchanged; it is
// not converted to reserr.ProtocolError.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode error: " + e.Reason }
