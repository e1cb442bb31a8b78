package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception Handling Infrastructure
// ---------------------------------------------------------------------------
//
// Guest errors are values, not Go panics. Every fallible operation returns
// an *ExceptionObject alongside its result; the dispatch loop routes it
// through the block-stack unwinder. Go's panic machinery is reserved for
// host bugs (wrong-kind accessors, corrupt bytecode).

// ExceptionObject represents a raised exception instance.
type ExceptionObject struct {
	Class   string           // class name within the fixed taxonomy
	Message string           // human-readable description
	Cause   *ExceptionObject // exception active when this one was raised, if any
	Line    int32            // source line of the raise site
}

// The fixed exception taxonomy. Parent links define ancestor matching for
// class filters; "Exception" is the root and catches everything.
var exceptionParent = map[string]string{
	"ArithmeticError":   "Exception",
	"ZeroDivisionError": "ArithmeticError",
	"LookupError":       "Exception",
	"IndexError":        "LookupError",
	"KeyError":          "LookupError",
	"TypeError":         "Exception",
	"ValueError":        "Exception",
	"AttributeError":    "Exception",
	"NameError":         "Exception",
	"RuntimeError":      "Exception",
}

// KnownExceptionClass reports whether name is part of the taxonomy.
func KnownExceptionClass(name string) bool {
	if name == "Exception" {
		return true
	}
	_, ok := exceptionParent[name]
	return ok
}

// NewException creates an exception of the given class.
func NewException(class, message string) *ExceptionObject {
	return &ExceptionObject{Class: class, Message: message}
}

// newExceptionf creates an exception with a formatted message.
func newExceptionf(class, format string, args ...any) *ExceptionObject {
	return &ExceptionObject{Class: class, Message: fmt.Sprintf(format, args...)}
}

// IsKindOf reports whether the exception's class is target or a descendant
// of target.
func (e *ExceptionObject) IsKindOf(target string) bool {
	for c := e.Class; c != ""; c = exceptionParent[c] {
		if c == target {
			return true
		}
	}
	return false
}

// String renders the exception in "Class: message" form.
func (e *ExceptionObject) String() string {
	if e.Message == "" {
		return e.Class
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// AsValue wraps the exception as a user object so handlers can read its
// class, message and line as ordinary attributes.
func (e *ExceptionObject) AsValue() Value {
	v := NewObject(e.Class)
	obj := v.Object()
	class := StrValue(e.Class)
	obj.SetAttr("class", class)
	class.Release()
	message := StrValue(e.Message)
	obj.SetAttr("message", message)
	message.Release()
	obj.SetAttr("line", IntValue(int64(e.Line)))
	return v
}

// ---------------------------------------------------------------------------
// Terminal host errors
// ---------------------------------------------------------------------------

// UnhandledError is returned by Run when an exception propagates off the
// bottom of the call stack.
type UnhandledError struct {
	Exc *ExceptionObject
}

func (e *UnhandledError) Error() string {
	if e.Exc.Line > 0 {
		return fmt.Sprintf("unhandled exception at line %d: %s", e.Exc.Line, e.Exc)
	}
	return fmt.Sprintf("unhandled exception: %s", e.Exc)
}

// StackOverflowError is returned by Run when a call would exceed the
// configured maximum depth. It is fatal: the guest never sees it.
type StackOverflowError struct {
	Depth int
}

func (e *StackOverflowError) Error() string {
	return fmt.Sprintf("stack overflow: call depth limit %d exceeded", e.Depth)
}
