// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
)

// Kind defines error kind
type Kind int

const (
	// KindUnknown is used for errors that were never classified.
	KindUnknown Kind = iota
	// KindConfiguration The project configuration is malformed,
	// references a missing network profile or contains bad paths.
	KindConfiguration
	// KindParse A source file, JSON document or URL could not be parsed
	KindParse
	// KindIO Reading, writing or canonicalizing a file failed
	KindIO
	// KindPipelineFatal A proxy pipeline can no longer make progress
	// (channel closed, websocket write failed, unsupported URL scheme, wallet construction)
	KindPipelineFatal
	// KindProtocol A JSON-RPC error value
	KindProtocol
	// KindContract ABI mismatch, contract not deployed, deployment failure or reverted call
	KindContract
	// KindSupervision A local chain timed out or terminated before becoming ready
	KindSupervision
	// KindExternalTool A package manager, compiler or binary download failed
	KindExternalTool
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindParse:
		return "parse"
	case KindIO:
		return "io"
	case KindPipelineFatal:
		return "pipeline fatal"
	case KindProtocol:
		return "protocol"
	case KindContract:
		return "contract"
	case KindSupervision:
		return "supervision"
	case KindExternalTool:
		return "external tool"
	default:
		return "unknown"
	}
}

// Error is a classified error used all over the packages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error method to comply with error interface
func (err *Error) Error() string {
	switch {
	case err.Message != "" && err.Err != nil:
		return err.Message + ": " + err.Err.Error()
	case err.Err != nil:
		return err.Err.Error()
	default:
		return err.Message
	}
}

// Unwrap returns the underlying error
func (err *Error) Unwrap() error {
	return err.Err
}

// Is checks that provided error is an *Error with desired Kind
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error, message string) error {
	if err == nil && message == "" {
		message = kind.String() + " error"
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// ConfigurationError returns an error with kind KindConfiguration
func ConfigurationError(err error, message string) error {
	return newError(KindConfiguration, err, message)
}

// ParseError returns an error with kind KindParse
func ParseError(err error, message string) error {
	return newError(KindParse, err, message)
}

// IOError returns an error with kind KindIO
func IOError(err error, message string) error {
	return newError(KindIO, err, message)
}

// PipelineFatalError returns an error with kind KindPipelineFatal
func PipelineFatalError(err error, message string) error {
	return newError(KindPipelineFatal, err, message)
}

// ProtocolError returns an error with kind KindProtocol
func ProtocolError(err error, message string) error {
	return newError(KindProtocol, err, message)
}

// ContractError returns an error with kind KindContract
func ContractError(err error, message string) error {
	return newError(KindContract, err, message)
}

// SupervisionError returns an error with kind KindSupervision
func SupervisionError(err error, message string) error {
	return newError(KindSupervision, err, message)
}

// ExternalToolError returns an error with kind KindExternalTool
func ExternalToolError(err error, message string) error {
	return newError(KindExternalTool, err, message)
}
