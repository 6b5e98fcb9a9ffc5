// Package jsonrpc holds the JSON-RPC 2.0 values exchanged by the signing
// proxy and the error codes it produces.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// ID is a request id. An empty ID marks a notification; the JSON literal
// null is a valid, non-notification id.
type ID json.RawMessage

// NullID is the id used for errors that cannot be tied to a request.
var NullID = ID("null")

// NumberID returns the numeric id n.
func NumberID(n int64) ID { return ID(fmt.Sprintf("%d", n)) }

// StringID returns the string id s.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// IsNotification reports whether the id is absent.
func (id ID) IsNotification() bool { return len(id) == 0 }

func (id ID) String() string {
	if id.IsNotification() {
		return "<notification>"
	}
	return string(id)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNotification() {
		return []byte("null"), nil
	}
	return id, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("empty id")
	case data[0] == '"', data[0] == 'n':
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("malformed numeric request-id: %w", err)
		}
		if _, err := n.Int64(); err != nil {
			return fmt.Errorf("malformed numeric request-id: %w", err)
		}
	default:
		return fmt.Errorf("invalid id type")
	}
	*id = append((*id)[:0], data...)
	return nil
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// NewRequest builds a request. params is marshalled unless nil.
func NewRequest(id ID, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: Version, Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params of %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// Validate validates the JSON-RPC request
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("JSON-RPC 2.0 required")
	}
	if r.Method == "" {
		return fmt.Errorf("method missing or invalid type")
	}
	return nil
}

// MarshalJSON omits the id of notifications.
func (r *Request) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
		ID      *ID             `json:"id,omitempty"`
	}
	w := wire{JSONRPC: r.JSONRPC, Method: r.Method, Params: r.Params}
	if !r.ID.IsNotification() {
		w.ID = &r.ID
	}
	return json.Marshal(w)
}

func (r *Request) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return r.Method
	}
	return string(b)
}

// ParseRequest decodes a single request. Every failure is returned as a
// JSON-RPC error addressed to the request id when one could be read.
func ParseRequest(data []byte) (*Request, *Error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			return nil, NewErrorWithMessage(InvalidRequest, "vector requests not supported", nil).WithID(NullID)
		}
		if json.Valid(data) {
			return nil, NewErrorWithMessage(InvalidRequest, "not a JSON-RPC request", nil).WithID(NullID)
		}
		return nil, NewError(ParseError, err.Error()).WithID(NullID)
	}

	var req Request
	if raw, ok := fields["id"]; ok {
		if err := req.ID.UnmarshalJSON(raw); err != nil {
			return nil, NewErrorWithMessage(InvalidRequest, err.Error(), nil).WithID(NullID)
		}
	}
	fail := func(msg string) (*Request, *Error) {
		return nil, NewErrorWithMessage(InvalidRequest, msg, nil).WithID(req.ID.orNull())
	}
	for k := range fields {
		switch k {
		case "jsonrpc", "method", "params", "id":
		default:
			return fail("extraneous fields in otherwise valid JSON-RPC request")
		}
	}
	if err := json.Unmarshal(fields["jsonrpc"], &req.JSONRPC); err != nil || req.JSONRPC != Version {
		return fail("JSON-RPC 2.0 required")
	}
	if err := json.Unmarshal(fields["method"], &req.Method); err != nil || req.Method == "" {
		return fail("method missing or invalid type")
	}
	if p, ok := fields["params"]; ok && !bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
		req.Params = p
	}
	return &req, nil
}

func (id ID) orNull() ID {
	if id.IsNotification() {
		return NullID
	}
	return id
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// SuccessResponse creates a successful JSON-RPC response
func SuccessResponse(id ID, result any) (json.RawMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return json.Marshal(Response{JSONRPC: Version, Result: raw, ID: id})
}

// ErrorResponse renders err as a response addressed to its id.
func ErrorResponse(err *Error) json.RawMessage {
	b, _ := json.Marshal(Response{JSONRPC: Version, Error: err, ID: err.ID.orNull()})
	return b
}

// ParseResponse decodes a response message. A message carrying an error
// object is returned as that error.
func ParseResponse(data []byte) (*Response, *Error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewError(ParseError, err.Error())
	}
	if resp.JSONRPC != Version {
		return nil, NewErrorWithMessage(InvalidRequest, "JSON-RPC 2.0 required", nil)
	}
	if resp.Error != nil {
		resp.Error.ID = resp.ID
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, NewErrorWithMessage(InvalidRequest, "missing response or error", nil).WithID(resp.ID)
	}
	return &resp, nil
}
