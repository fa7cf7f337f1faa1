// Package engine defines the capability set the runtime host uses to drive
// a script engine, independent of which interpreter backs it (spec §4.2).
// The host never names a backend directly; it only calls through Backend.
package engine

import "fmt"

// Kind narrows a Value's JS-shaped type without naming any backend type.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Mode selects how source text is evaluated: as a module body (top-level
// await/import semantics) or as a classic script (JSON modules and CJS
// wrappers need classic mode — spec §4.2).
type Mode int

const (
	ModeModule Mode = iota
	ModeClassic
)

// TypedArrayKind names the element layout of a typed array.
type TypedArrayKind int

const (
	Uint8Array TypedArrayKind = iota
	Int32Array
	Float32Array
	Float64Array
)

// Value is an opaque handle to a script-engine value: an (engine pointer,
// engine-context pointer) pair per spec §3. Equality is identity under the
// owning backend. Only the backend that produced a Value may operate on it.
type Value interface {
	// Backend identifies which Backend instance produced this value, so the
	// host can refuse to mix values across engine instances.
	Backend() Backend
}

// NativeFunc is a host callback invokable from script. args are already
// backend Values bound to this Backend; the return Value (or error) is
// converted back into the script's call convention by the backend.
type NativeFunc func(this Value, args []Value) (Value, error)

// Backend is the capability set every script-engine implementation must
// provide (spec §4.2). A process selects exactly one Backend at build time;
// there is no hot-swap.
type Backend interface {
	// Eval evaluates src under name (used for stack traces) in the given
	// mode and returns its completion value.
	Eval(src, name string, mode Mode) (Value, error)

	Undefined() Value
	Null() Value
	NewBool(b bool) Value
	NewNumber(n float64) Value
	NewString(s string) Value
	NewObject() Value
	NewArray(length int) Value
	NewFunction(fn NativeFunc) Value

	// NewTypedArray allocates a typed array backed by newly engine-owned
	// storage, copying src if non-nil.
	NewTypedArray(kind TypedArrayKind, length int, src []byte) (Value, error)
	// NewExternalTypedArray wraps backing (native memory not owned by the
	// engine) without copying. backing's lifetime must exceed the array's;
	// the host guarantees this by pairing the array with private data and
	// releasing both together (spec §4.2 Semantics).
	NewExternalTypedArray(kind TypedArrayKind, backing []byte) (Value, error)

	GetProperty(obj Value, name string) (Value, error)
	SetProperty(obj Value, name string, v Value) error
	GetIndex(obj Value, index int) (Value, error)
	SetIndex(obj Value, index int, v Value) error

	// Call invokes fn with the given this-binding and argument vector.
	Call(fn Value, this Value, args []Value) (Value, error)

	// SetGlobal and GetGlobal bind a name directly into the engine's global
	// scope, used by the runtime host to install the DOM-shaped surface
	// (console, setTimeout, fetch, ...) scripts see at their top level.
	SetGlobal(name string, v Value) error
	GetGlobal(name string) (Value, error)

	ToBool(v Value) bool
	ToNumber(v Value) (float64, error)
	ToString(v Value) (string, error)
	TypeOf(v Value) Kind

	// Protect roots v against GC. Reference-counted; Unprotect must be
	// paired one-to-one (spec §3 invariants, §8 "Callback balance").
	Protect(v Value) Value
	Unprotect(v Value)

	// SetPrivate/GetPrivate attach a native pointer to a JS object, used to
	// pair JS wrappers with native resources (e.g. a GPU texture, an audio
	// source node).
	SetPrivate(obj Value, ptr any)
	GetPrivate(obj Value) (any, bool)

	// PendingException returns the last thrown-but-uncaught exception, if
	// any. ClearException resets it. Throw records a new exception for the
	// host to surface after the current script entry returns.
	PendingException() (Value, bool)
	ClearException()
	Throw(v Value)

	// Close releases all engine resources. Not safe to call concurrently
	// with any other Backend method.
	Close()
}

// ErrCrossEngineValue is returned when a Value produced by one Backend
// instance is passed to a different instance's operation.
var ErrCrossEngineValue = fmt.Errorf("engine: value does not belong to this backend instance")
