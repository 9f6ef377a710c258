package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification carried on
// operations and findings.
type Kind string

const (
	KindNone              Kind = ""
	KindPathUnsafe        Kind = "path-unsafe"
	KindToolUnavailable   Kind = "tool-unavailable"
	KindPermissionDenied  Kind = "permission-denied"
	KindTimeout           Kind = "timeout"
	KindExecutionFailed   Kind = "execution-failed"
	KindPartialRunFailure Kind = "partial-run-failure"
	KindProfileUnresolved Kind = "profile-unresolved"
	KindCancelled         Kind = "cancelled"
	KindRunActive         Kind = "run-active"
	KindAuditActive       Kind = "audit-active"
	KindNoCategories      Kind = "no-categories"
	KindInvalidConfig     Kind = "invalid-config"
)

// Sentinel errors, one per kind
var (
	// ErrPathUnsafe indicates the classifier refused a target
	ErrPathUnsafe = errors.New("path unsafe")

	// ErrToolUnavailable indicates a package manager binary or command template is missing
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrPermissionDenied indicates escalation was refused or the OS denied access
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTimeout indicates a bounded operation exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrExecutionFailed indicates an external command returned non-zero or unexpected output
	ErrExecutionFailed = errors.New("execution failed")

	// ErrPartialRunFailure indicates at least one target failed in a completed run
	ErrPartialRunFailure = errors.New("partial run failure")

	// ErrProfileUnresolved indicates no supported package manager was detected
	ErrProfileUnresolved = errors.New("profile unresolved")

	ErrCancelled     = errors.New("cancelled")
	ErrRunActive     = errors.New("cleanup run already active")
	ErrAuditActive   = errors.New("audit already active")
	ErrNoCategories  = errors.New("no categories requested")
	ErrInvalidConfig = errors.New("invalid configuration")
)

var sentinels = map[Kind]error{
	KindPathUnsafe:        ErrPathUnsafe,
	KindToolUnavailable:   ErrToolUnavailable,
	KindPermissionDenied:  ErrPermissionDenied,
	KindTimeout:           ErrTimeout,
	KindExecutionFailed:   ErrExecutionFailed,
	KindPartialRunFailure: ErrPartialRunFailure,
	KindProfileUnresolved: ErrProfileUnresolved,
	KindCancelled:         ErrCancelled,
	KindRunActive:         ErrRunActive,
	KindAuditActive:       ErrAuditActive,
	KindNoCategories:      ErrNoCategories,
	KindInvalidConfig:     ErrInvalidConfig,
}

// Error attaches a Kind and the failing operation to an underlying cause
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if sentinel, ok := sentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrTimeout) and friends match on Kind
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

// New creates a classified error. A nil cause is allowed.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Newf creates a classified error with formatting
func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Cause: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first classified error in the chain,
// falling back to matching sentinels, or KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindExecutionFailed
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
