package ai

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class identifies which failure mode produced an Error.
type Class string

const (
	ClassTransport  Class = "transport"  // no response
	ClassParse      Class = "parse"      // response did not match the expected schema
	ClassBackend    Class = "backend"    // provider returned an error envelope
	ClassCredential Class = "credential" // no usable key and trial exhausted
	ClassStorage    Class = "storage"    // local state could not be read or written
)

// Error is returned by every backend. Message is the text shown to users for
// backend and credential errors.
type Error struct {
	Class   Class
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s error", e.Class)
	if e.Kind != "" {
		s += fmt.Sprintf(" (%s)", e.Kind)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies github.com/pkg/errors causer.
func (e *Error) Cause() error { return e.Err }

func transportError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Class: ClassTransport, Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

func parseError(kind Kind, format string, args ...any) *Error {
	return &Error{Class: ClassParse, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func backendError(kind Kind, message string) *Error {
	return &Error{Class: ClassBackend, Kind: kind, Message: message}
}

// CredentialError wraps a usage gate refusal.
func CredentialError(err error) *Error {
	return &Error{Class: ClassCredential, Message: err.Error()}
}

// StorageError wraps a failure of local state, such as the trial ledger.
func StorageError(err error) *Error {
	return &Error{Class: ClassStorage, Err: err}
}

// ClassOf returns the failure class of err, or "" when err is not an *Error.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

const genericFailure = "Something went wrong talking to the AI service. Check your connection and the endpoint in settings, then regenerate the response."

// UserMessage renders err for display in the conversation log. Backend and
// credential messages pass through verbatim; everything else shares one
// generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Class {
	case ClassBackend, ClassCredential:
		if e.Message != "" {
			return e.Message
		}
		return e.Error()
	default:
		return genericFailure
	}
}
