// Package errkind defines the semantic error taxonomy shared by every
// component that can fail a request at the reply boundary. Components
// return ordinary Go errors; errkind classifies them with errors.Is so the
// reply server can turn any error into a Response{error_code, error_message}
// without components needing to know about the wire format.
package errkind

import "errors"

// Kind is one of the taxonomy's semantic classes.
type Kind int

const (
	// Unknown is the fallback classification for errors that don't match
	// any sentinel below.
	Unknown Kind = iota
	NotFound
	InvalidArgument
	BadMessage
	Busy
	NotPermitted
	ResourceUnavailable
	ExecutableFormat
	Transient
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case BadMessage:
		return "BadMessage"
	case Busy:
		return "Busy"
	case NotPermitted:
		return "NotPermitted"
	case ResourceUnavailable:
		return "ResourceUnavailable"
	case ExecutableFormat:
		return "ExecutableFormat"
	case Transient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// kindError pairs a Kind with an underlying cause so errors.Is/As keep
// working across the classification.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.err }

// New creates an error of the given kind carrying msg.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Wrap creates an error of the given kind wrapping an existing cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &kindError{kind: kind, msg: msg, err: cause}
}

// Of classifies err, walking its Unwrap chain for a *kindError. Returns
// Unknown if none is found (including for a nil error).
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}
