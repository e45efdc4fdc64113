// Package mantle is a concurrent, deferred reference-counting runtime
// for heap objects shared across threads.
package mantle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/behrlich/mantle/internal/object"
)

// Code categorizes a mantle error.
type Code string

const (
	ErrCodeProtocolViolation Code = "protocol violation"
	ErrCodeConfiguration     Code = "invalid configuration"
	ErrCodeFinalizer         Code = "finalizer error"
	ErrCodeOverDecrement     Code = "reference count underflow"
	ErrCodeShutdown          Code = "runtime shut down"
)

// Error is a structured mantle error, carrying enough context to trace
// a failure back to the region and cycle it happened in.
type Error struct {
	Op       string           // Operation that failed (e.g. "Region.Stop", "Domain.Bind")
	RegionID object.RegionID  // Region the failure concerns (InvalidRegionID if not applicable)
	Cycle    uint64           // Coherence cycle the failure happened in
	Code     Code             // High-level error category
	Msg      string           // Human-readable message
	Inner    error            // Wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.RegionID != object.InvalidRegionID {
		parts = append(parts, fmt.Sprintf("region=%d", e.RegionID))
	}
	if e.Cycle != 0 {
		parts = append(parts, fmt.Sprintf("cycle=%d", e.Cycle))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("mantle: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("mantle: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no region/cycle context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, RegionID: object.InvalidRegionID, Code: code, Msg: msg}
}

// NewRegionError creates a structured error attributed to a region.
func NewRegionError(op string, regionID object.RegionID, code Code, msg string) *Error {
	return &Error{Op: op, RegionID: regionID, Code: code, Msg: msg}
}

// NewControllerError creates a structured error attributed to a
// controller's region at a specific cycle.
func NewControllerError(op string, regionID object.RegionID, cycle uint64, code Code, msg string) *Error {
	return &Error{Op: op, RegionID: regionID, Cycle: cycle, Code: code, Msg: msg}
}

// WrapError wraps inner with mantle context, preserving its code if it
// is already a structured error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if me, ok := inner.(*Error); ok {
		return &Error{Op: op, RegionID: me.RegionID, Cycle: me.Cycle, Code: me.Code, Msg: me.Msg, Inner: me.Inner}
	}
	return &Error{Op: op, RegionID: object.InvalidRegionID, Code: ErrCodeFinalizer, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is, or wraps, a structured Error with the
// given code.
func IsCode(err error, code Code) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// panicProtocol aborts the process for a spec-mandated protocol
// violation: a full stream, binding an already-bound object, a second
// region on one goroutine, or an apply-time decrement of a
// controller-owned object with no matching grouper entry. These are
// invariant breaks, not recoverable errors, so they panic rather than
// return an *Error.
func panicProtocol(op, msg string) {
	panic((&Error{Op: op, RegionID: object.InvalidRegionID, Code: ErrCodeProtocolViolation, Msg: msg}).Error())
}
