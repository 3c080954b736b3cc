package graphql

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a loader failure
type Kind string

const (
	// NotFound means a lookup matched no record. It drives the create
	// branch of find-or-create and is never fatal on its own.
	NotFound Kind = "not_found"

	// MalformedResponse means the endpoint answered but the body did not
	// have the expected shape.
	MalformedResponse Kind = "malformed_response"

	// RemoteRejected means the endpoint reported GraphQL errors, e.g. a
	// constraint violation or a permission error.
	RemoteRejected Kind = "remote_rejected"

	// IOFailure covers transport, file and HTTP-status failures.
	IOFailure Kind = "io_failure"

	// InvalidInput means a source value could not be interpreted.
	InvalidInput Kind = "invalid_input"
)

// Error is the typed error returned by the client, the schema adapters and
// the record source.
type Error struct {
	Kind Kind

	// Op is the GraphQL operation or loader step that failed
	Op string

	// Messages holds the remote error messages for RemoteRejected
	Messages []string

	// Code is the first remote extensions.code, if any
	Code string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error of the given kind with a formatted cause
func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap builds an *Error of the given kind around err
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound lookup miss
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}
