// Package paprikaerr implements the store's error taxonomy (spec.md §7).
package paprikaerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a store error without requiring callers to string-match
// messages (spec.md §7 "Error taxonomy").
type Kind int

const (
	// KindNotFound marks a normal, non-fatal "no such key" result.
	KindNotFound Kind = iota
	// KindOutOfSpace: the page manager has no free pages and cannot extend.
	KindOutOfSpace
	// KindCorruption: a loaded page failed a structural check.
	KindCorruption
	// KindIO: the backing store reported a fault during flush/page-fault.
	KindIO
	// KindInvalidArgument: a caller-level contract violation.
	KindInvalidArgument
	// KindReorgTargetNotFound: an unknown state hash was requested.
	KindReorgTargetNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindOutOfSpace:
		return "OutOfSpace"
	case KindCorruption:
		return "Corruption"
	case KindIO:
		return "IoError"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindReorgTargetNotFound:
		return "ReorgTargetNotFound"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind, satisfying errors.Unwrap so
// errors.Is/errors.As work against both the Kind sentinels below and the
// wrapped cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("paprika: %s: %v", e.kind, e.err) }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// New builds a Kind-tagged error from a format string, with a stack trace
// attached via github.com/pkg/errors (spec.md §7: fatal paths should carry
// enough context for operators to diagnose a corrupted or exhausted store).
func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: pkgerrors.WithStack(fmt.Errorf(format, args...))}
}

// Wrap tags an existing error with kind and always attaches a fresh stack
// trace via pkgerrors.WithStack.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: pkgerrors.WithStack(err)}
}

// ErrNotFound is the sentinel normal "no such key" result (spec.md §7:
// "NotFound ... returned as a normal sentinel, not an error"). It
// deliberately carries no stack trace.
var ErrNotFound = &Error{kind: KindNotFound, err: errors.New("not found")}

// Is reports whether err (or anything it wraps) is a paprikaerr.Error of
// kind k.
func Is(err error, k Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.kind == k
	}
	return false
}
