// Package fault holds the error value operations fail with.
//
// An Error has a symbolic kind, a human message and structured details:
//
//	err := fault.New(fault.Validation, fault.Details(map[string][]string{"name": {"is missing"}}))
//	err.Message // "Validation failed"
//
// Messages default to the registered message for the kind and otherwise to the kind
// rendered as a sentence.
package fault

import (
	"errors"
	"strings"
	"sync"

	"github.com/hashicorp/errwrap"
)

// Kind is the symbolic identifier of an error
type Kind string

// The conventional kinds, operations are free to use their own
const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	Forbidden    Kind = "forbidden"
	Unauthorized Kind = "unauthorized"
)

// NormalizeKind renders a kind in its canonical form: trimmed, lower case, with spaces
// and dashes turned into underscores.
func NormalizeKind(kind string) Kind {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return Kind(k)
}

var (
	messagesLock    sync.RWMutex
	defaultMessages = map[Kind]string{
		NotFound:     "Not found",
		Forbidden:    "Forbidden",
		Unauthorized: "Unauthorized",
		Validation:   "Validation failed",
	}
)

// RegisterMessage sets the default message used for errors of this kind.
// Registration is meant to happen at init time, before operations are called.
func RegisterMessage(kind Kind, message string) {
	messagesLock.Lock()
	defaultMessages[kind] = message
	messagesLock.Unlock()
}

// DefaultMessage for a kind: the registered one or the humanized kind
func DefaultMessage(kind Kind) string {
	messagesLock.RLock()
	msg, ok := defaultMessages[kind]
	messagesLock.RUnlock()
	if ok {
		return msg
	}
	return Humanize(string(kind))
}

// Humanize turns a snake cased identifier into a sentence: "not_found" becomes "Not found"
func Humanize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Option to configure an error on construction
type Option func(*Error)

// Message overrides the default message
func Message(msg string) Option {
	return func(e *Error) {
		if msg != "" {
			e.Message = msg
		}
	}
}

// Details attaches a structured payload, typically a field to complaints map
func Details(details any) Option {
	return func(e *Error) {
		if details != nil {
			e.Details = details
		}
	}
}

// Cause records the underlying error
func Cause(err error) Option {
	return func(e *Error) { e.Cause = err }
}

// Error is the value carried by a failed result
type Error struct {
	Kind    Kind
	Message string
	Details any
	Cause   error
}

// New creates an error of the given kind, details default to an empty map
func New(kind Kind, opts ...Option) *Error {
	e := &Error{Kind: NormalizeKind(string(kind))}
	for _, o := range opts {
		o(e)
	}
	if e.Message == "" {
		e.Message = DefaultMessage(e.Kind)
	}
	if e.Details == nil {
		e.Details = map[string][]string{}
	}
	return e
}

// Wrap an underlying error in an error of the given kind
func Wrap(kind Kind, err error, opts ...Option) *Error {
	return New(kind, append([]Option{Cause(err)}, opts...)...)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the cause, enabling errors.Is and errors.As
func (e *Error) Unwrap() error { return e.Cause }

// WrappedErrors implements errwrap.Wrapper from https://github.com/hashicorp/errwrap
func (e *Error) WrappedErrors() []error {
	if e.Cause == nil {
		return nil
	}
	return []error{e.Cause}
}

// Deconstruct into kind, message and details
func (e *Error) Deconstruct() (Kind, string, any) {
	return e.Kind, e.Message, e.Details
}

// Is matches another *Error with the same kind, so sentinel values work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// FieldErrors returns the details as a field to complaints map, when they are one
func (e *Error) FieldErrors() (map[string][]string, bool) {
	m, ok := e.Details.(map[string][]string)
	return m, ok
}

// From finds the first *Error in the chain of err
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if found := errwrap.GetType(err, (*Error)(nil)); found != nil {
		if fe, ok := found.(*Error); ok {
			return fe, true
		}
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf reports the kind of the first *Error in the chain of err, empty when there is none
func KindOf(err error) Kind {
	if fe, ok := From(err); ok {
		return fe.Kind
	}
	return ""
}

// IsKind is true when err carries an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
