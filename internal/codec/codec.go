// Package codec implements the ProtocolCodec component of SPEC_FULL.md
// §4.1: request/response correlation over monotonically increasing ids,
// and parsing of inbound frames into responses or events.
//
// Codec is not safe for concurrent use; it is designed to be owned
// exclusively by the client's single dispatcher goroutine (SPEC_FULL.md §5).
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/resgateio/resclient-go/reserr"
)

// Sender is the minimal transport surface the codec needs to write a
// serialized request frame.
type Sender interface {
	Send(data []byte) error
}

// PendingRequest records an in-flight request awaiting correlation.
type PendingRequest struct {
	ID     uint64
	Method string
	Params json.RawMessage
	Resolve func(result json.RawMessage)
	Reject  func(err error)
}

// Codec assigns request ids, tracks pending requests, and decodes
// inbound frames.
type Codec struct {
	nextID  uint64
	pending map[uint64]*PendingRequest
}

// New creates an empty Codec.
func New() *Codec {
	return &Codec{pending: make(map[uint64]*PendingRequest)}
}

// NextID returns the next monotonically increasing request id. Ids are
// unique for the lifetime of the Codec (spec.md invariant 7).
func (c *Codec) NextID() uint64 {
	c.nextID++
	return c.nextID
}

// Send serializes method/params under a fresh request id, registers the
// pending request, and writes it via s. On write failure the pending
// request is not registered and the error is returned directly.
func (c *Codec) Send(s Sender, method string, params json.RawMessage, resolve func(json.RawMessage), reject func(error)) error {
	id := c.NextID()
	req := Request{ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.pending[id] = &PendingRequest{ID: id, Method: method, Params: params, Resolve: resolve, Reject: reject}

	if err := s.Send(data); err != nil {
		delete(c.pending, id)
		return err
	}
	return nil
}

// Receive parses a single inbound frame. If it correlates to a pending
// request, the request is resolved/rejected and removed; the returned
// *Event is nil in that case. If the frame is an event, it is returned
// for the caller to route; PendingRequest handling returns nil, nil for
// the event slot in that branch.
//
// The returned error is non-nil only for malformed frames or responses
// with no matching pending request (both ProtocolError-class failures);
// server-side `error` results are delivered via PendingRequest.Reject,
// not returned here.
func (c *Codec) Receive(raw []byte) (*Event, error) {
	resp, ev, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if ev != nil {
		return ev, nil
	}

	pr, ok := c.pending[resp.ID]
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("response for unknown request id %d", resp.ID)}
	}
	delete(c.pending, resp.ID)

	if resp.Error != nil {
		pr.Reject(&reserr.Error{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
			Method:  pr.Method,
			Params:  pr.Params,
		})
		return nil, nil
	}

	pr.Resolve(resp.Result)
	return nil, nil
}

// FailAll rejects every pending request with err. Called when the
// transport closes (SPEC_FULL.md open-question decision: pending RPCs are
// failed on disconnect rather than left hanging).
func (c *Codec) FailAll(err error) {
	pending := c.pending
	c.pending = make(map[uint64]*PendingRequest)
	for _, pr := range pending {
		pr.Reject(err)
	}
}

// Pending returns the number of in-flight requests, for metrics.
func (c *Codec) Pending() int {
	return len(c.pending)
}
