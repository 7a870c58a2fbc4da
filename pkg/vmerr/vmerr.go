// Package vmerr defines the fatal error taxonomy of the QSIL runtime.
//
// Every error the interpreter can raise is one of a fixed set of kinds.
// All of them are fatal: the runtime does not attempt to recover from any
// of them, it best-effort persists the current image and terminates.
package vmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the fixed fatal error categories.
type Kind int

const (
	// MalformedImage means the image file failed to parse: truncated,
	// wrong magic, a storage count that overruns the record.
	MalformedImage Kind = iota
	// DanglingReference means a pointer slot named an object id that does
	// not exist in the object memory.
	DanglingReference
	// UnknownBytecode means the interpreter fetched an opcode with no
	// defined behavior.
	UnknownBytecode
	// DoesNotUnderstand means method lookup walked the full superclass
	// chain without finding an admissible method for the selector.
	DoesNotUnderstand
	// TypeError means an operation received storage of the wrong shape
	// for what it expected (e.g. PRIM_ADD on a non-integer).
	TypeError
	// StackUnderflow means a pop (explicit or implicit) was attempted on
	// an empty context stack.
	StackUnderflow
	// IndexOutOfRange means a literal, arg, or temp index named a slot
	// beyond the bounds of its collection.
	IndexOutOfRange
)

func (k Kind) String() string {
	switch k {
	case MalformedImage:
		return "MALFORMED_IMAGE"
	case DanglingReference:
		return "DANGLING_REFERENCE"
	case UnknownBytecode:
		return "UNKNOWN_BYTECODE"
	case DoesNotUnderstand:
		return "DOES_NOT_UNDERSTAND"
	case TypeError:
		return "TYPE_ERROR"
	case StackUnderflow:
		return "STACK_UNDERFLOW"
	case IndexOutOfRange:
		return "INDEX_OUT_OF_RANGE"
	default:
		return "UNKNOWN_ERROR_KIND"
	}
}

// Position names the bytecode location an error occurred at: a method
// context's method object id (0 for a block context) and the pc.
type Position struct {
	MethodID uint32
	PC       int
}

func (p Position) String() string {
	return fmt.Sprintf("method=%d pc=%d", p.MethodID, p.PC)
}

// Error is a fatal QSIL runtime error carrying its kind and the bytecode
// position it was raised at. It wraps github.com/pkg/errors so callers
// get a captured stack trace for free via errors.WithStack at the call
// site, the same shape the teacher's RuntimeError gave by hand.
type Error struct {
	Kind Kind
	Pos  Position
	Msg  string
	Err  error // wrapped cause, if any; nil for a fresh error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Pos, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Pos, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fatal Error of the given kind at pos, with a captured
// stack trace.
func New(kind Kind, pos Position, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		Kind: kind,
		Pos:  pos,
		Msg:  fmt.Sprintf(format, args...),
	})
}

// Wrap builds a fatal Error of the given kind at pos around an
// underlying cause, with a captured stack trace.
func Wrap(err error, kind Kind, pos Position, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		Kind: kind,
		Pos:  pos,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	})
}

// As recovers the *Error from err, unwrapping through any wrapping layers.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
