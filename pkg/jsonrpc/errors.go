package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// ServerError is the start of the server band. Failed upstream requests
	// and non-OK upstream HTTP statuses are reported with it.
	ServerError = -32000
	// NonceError means no nonce could be assigned to a transaction.
	NonceError = -32001
	// SigningError means the proxy failed to sign a transaction.
	SigningError = -32002
	// GasEstimationError means gas or gas price could not be estimated.
	GasEstimationError = -32003
	// NoResponse marks a message that is handled but has no body to send,
	// e.g. the answer to a notification.
	NoResponse = -32004
)

var errorMessages = map[int]string{
	ParseError:         "Parse error",
	InvalidRequest:     "Invalid Request",
	MethodNotFound:     "Method not found",
	InvalidParams:      "Invalid params",
	InternalError:      "Internal error",
	ServerError:        "Server error",
	NonceError:         "Nonce generation error",
	SigningError:       "Signing error",
	GasEstimationError: "Gas estimation error",
	NoResponse:         "no response",
}

// Error represents a JSON-RPC 2.0 error. ID is the request it answers and is
// not part of the error object on the wire.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	ID      ID     `json:"-"`
}

// NewError creates a new JSON-RPC error
func NewError(code int, data any) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{Code: code, Message: msg, Data: data}
}

// NewErrorWithMessage creates a new JSON-RPC error with a custom message
func NewErrorWithMessage(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewNoResponse returns the no-response sentinel. It is never addressed to a
// request, so transports drop it instead of writing it.
func NewNoResponse(data any) *Error {
	return NewError(NoResponse, data)
}

// WithID returns a copy of e addressed to id.
func (e *Error) WithID(id ID) *Error {
	c := *e
	c.ID = id
	return &c
}

// Error method to comply with error interface
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// IsNoContent reports whether e should produce no output: answers to
// notifications carry nothing back to the client.
func (e *Error) IsNoContent() bool {
	return e.ID.IsNotification()
}

// Response renders e as a JSON-RPC response, or nil when it has no content.
func (e *Error) Response() json.RawMessage {
	if e.IsNoContent() {
		return nil
	}
	return ErrorResponse(e)
}
