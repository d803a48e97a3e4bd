package codec

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Request is a client->server frame: {id, method, params?}.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorObject is the error shape inside a server response.
type ErrorObject struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// rawIncoming is used to sniff whether an inbound frame is a response
// (has "id") or an event (has "event"), without committing to either
// shape up front.
type rawIncoming struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ErrorObject    `json:"error"`
	Event  *string         `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Response is a decoded server->client response frame.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *ErrorObject
}

// Event is a decoded server->client event frame, already split into its
// rid and event-name parts.
type Event struct {
	RID  string
	Name string
	Data json.RawMessage
}

// Parse decodes a single inbound text frame into either a Response or an
// Event. Exactly one of the two return values is non-nil on success.
func Parse(raw []byte) (*Response, *Event, error) {
	var in rawIncoming
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, nil, &DecodeError{Reason: "malformed message: " + err.Error()}
	}

	if in.ID != nil {
		return &Response{ID: *in.ID, Result: in.Result, Error: in.Error}, nil, nil
	}

	if in.Event != nil {
		rid, name, err := SplitEvent(*in.Event)
		if err != nil {
			return nil, nil, err
		}
		return nil, &Event{RID: rid, Name: name, Data: in.Data}, nil
	}

	return nil, nil, &DecodeError{Reason: "message has neither id nor event"}
}

// SplitEvent splits a "<rid>.<name>" event path on the LAST dot, since the
// rid itself may contain dots.
func SplitEvent(event string) (rid, name string, err error) {
	i := strings.LastIndexByte(event, '.')
	if i < 0 || i == len(event)-1 {
		return "", "", &DecodeError{Reason: "malformed event name: " + event}
	}
	return event[:i], event[i+1:], nil
}

// Well-known event names, routed specially by the resource cache rather
// than passed through verbatim to the bus.
const (
	EventChange      = "change"
	EventAdd         = "add"
	EventRemove      = "remove"
	EventUnsubscribe = "unsubscribe"
	// EventQuery is additive (see SPEC_FULL.md A.6): a server-pushed
	// notification that a query resource should be refreshed by the
	// caller. It is forwarded to the bus like any other "other" event.
	EventQuery = "query"
)

// AddEventParams is the payload of a collection "add" event/request.
type AddEventParams struct {
	Idx   int             `json:"idx"`
	Value json.RawMessage `json:"value"`
}

// RemoveEventParams is the payload of a collection "remove" event.
type RemoveEventParams struct {
	Idx int `json:"idx"`
}

// DecodeAddEvent decodes an "add" event payload.
func DecodeAddEvent(raw json.RawMessage) (AddEventParams, error) {
	var p AddEventParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &DecodeError{Reason: "malformed add event: " + err.Error()}
	}
	return p, nil
}

// DecodeRemoveEvent decodes a "remove" event payload.
func DecodeRemoveEvent(raw json.RawMessage) (RemoveEventParams, error) {
	var p RemoveEventParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &DecodeError{Reason: "malformed remove event: " + err.Error()}
	}
	return p, nil
}

// DecodeChangeEvent decodes a "change" event payload into a key->Value map.
func DecodeChangeEvent(raw json.RawMessage) (map[string]Value, error) {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, &DecodeError{Reason: "malformed change event: " + err.Error()}
	}
	out := make(map[string]Value, len(props))
	for k, v := range props {
		val, err := DecodeValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// GetResult is the decoded result of a "subscribe"/"get" response: exactly
// one of Model or Collection is set.
type GetResult struct {
	Model      map[string]Value
	Collection []Value
}

type getResultWire struct {
	Model      map[string]json.RawMessage `json:"model"`
	Collection []json.RawMessage          `json:"collection"`
}

// DecodeGetResult decodes a subscribe/get response's "result" field.
func DecodeGetResult(raw json.RawMessage) (*GetResult, error) {
	var w getResultWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Reason: "malformed get result: " + err.Error()}
	}
	if w.Model != nil {
		m := make(map[string]Value, len(w.Model))
		for k, v := range w.Model {
			val, err := DecodeValue(v)
			if err != nil {
				return nil, err
			}
			m[k] = val
		}
		return &GetResult{Model: m}, nil
	}

	c := make([]Value, len(w.Collection))
	for i, v := range w.Collection {
		val, err := DecodeValue(v)
		if err != nil {
			return nil, err
		}
		c[i] = val
	}
	return &GetResult{Collection: c}, nil
}

// DecodeNestedData decodes the optional inline "data" accompanying a
// collection element's resource reference: either a model's raw property
// object or a collection's raw value array. Returns nil if data is empty
// (the child was not inlined and must be resolved from the cache/fetched
// separately).
func DecodeNestedData(data json.RawMessage) (*GetResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, &DecodeError{Reason: "malformed nested collection data: " + err.Error()}
		}
		vals := make([]Value, len(arr))
		for i, v := range arr {
			val, err := DecodeValue(v)
			if err != nil {
				return nil, err
			}
			vals[i] = val
		}
		return &GetResult{Collection: vals}, nil
	}
	return DecodeGetResult([]byte(`{"model":` + string(trimmed) + `}`))
}

// EncodeChangeParams serializes a setModel/change params map, translating
// every value for which isDelete reports true (e.g. resclient.Delete) to
// the wire's {"action":"delete"}.
func EncodeChangeParams(props map[string]interface{}, isDelete func(interface{}) bool) (json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(props))
	for k, v := range props {
		if isDelete(v) {
			b, err := json.Marshal(actionValue{Action: "delete"})
			if err != nil {
				return nil, err
			}
			out[k] = b
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.Marshal(out)
}
