// Package apperr defines the sentinel errors shared across tiwaz and the
// coded Error type that carries need/document context for them.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Build-aborting errors.
var (
	ErrDuplicateID          = errors.New("duplicate id")
	ErrMissingID            = errors.New("missing id")
	ErrInvalidID            = errors.New("invalid id")
	ErrUnknownType          = errors.New("unknown need type")
	ErrStatusNotAllowed     = errors.New("status not allowed")
	ErrTagNotAllowed        = errors.New("tag not allowed")
	ErrConstraintNotAllowed = errors.New("constraint not allowed")
	ErrConstraintFailed     = errors.New("constraint failed")
	ErrExtendTarget         = errors.New("extend target does not exist")
	ErrFilterRejected       = errors.New("filter rejected")
	ErrMalformedExport      = errors.New("malformed needs export")
	ErrDuplicateFunction    = errors.New("dynamic function already registered")
	ErrConfig               = errors.New("invalid configuration")
)

// Error is a sentinel error enriched with the need and source location it
// refers to. errors.Is matches the wrapped sentinel.
type Error struct {
	Kind    error
	NeedID  string
	DocName string
	Line    int
	Msg     string
}

// New builds an Error of the given kind.
func New(kind error, needID, msg string) *Error {
	return &Error{Kind: kind, NeedID: needID, Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind error, needID, format string, args ...any) *Error {
	return New(kind, needID, fmt.Sprintf(format, args...))
}

// At attaches a document location and returns the receiver.
func (e *Error) At(docName string, line int) *Error {
	e.DocName = docName
	e.Line = line
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%v] %s", e.Kind, e.Msg)
	switch {
	case e.NeedID != "" && e.DocName != "":
		fmt.Fprintf(&b, " (need %s, %s)", e.NeedID, location(e.DocName, e.Line))
	case e.NeedID != "":
		fmt.Fprintf(&b, " (need %s)", e.NeedID)
	case e.DocName != "":
		fmt.Fprintf(&b, " (%s)", location(e.DocName, e.Line))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func location(doc string, line int) string {
	if line > 0 {
		return fmt.Sprintf("%s:%d", doc, line)
	}
	return doc
}

var fatal = []error{
	ErrDuplicateID, ErrMissingID, ErrInvalidID, ErrUnknownType,
	ErrStatusNotAllowed, ErrTagNotAllowed, ErrConstraintNotAllowed,
	ErrConstraintFailed, ErrExtendTarget, ErrFilterRejected,
	ErrMalformedExport, ErrDuplicateFunction, ErrConfig,
}

// IsFatal reports whether err belongs to the build-aborting class.
func IsFatal(err error) bool {
	for _, k := range fatal {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
