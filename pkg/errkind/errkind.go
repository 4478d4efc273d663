// Package errkind defines the typed error vocabulary shared by every podder
// component (store, registry, importer, mount planner, launcher, lifecycle
// tracker) so that a single CLI boundary can map any failure to an exit
// code without each package inventing its own sentinel errors.
package errkind

import (
	"errors"
	"fmt"
)

// Kind enumerates the error kinds surfaced by the core, as named in the
// specification's error handling design.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	Exists
	Cycle
	BrokenParent
	InUse
	HasChildren
	AlreadyRunning
	AuthRequired
	AuthFailed
	DigestMismatch
	UnsupportedMediaType
	NoMatchingPlatform
	Network
	MountFailed
	NamespaceSetupFailed
	ExecFailed
	Permission
	ConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case Cycle:
		return "Cycle"
	case BrokenParent:
		return "BrokenParent"
	case InUse:
		return "InUse"
	case HasChildren:
		return "HasChildren"
	case AlreadyRunning:
		return "AlreadyRunning"
	case AuthRequired:
		return "AuthRequired"
	case AuthFailed:
		return "AuthFailed"
	case DigestMismatch:
		return "DigestMismatch"
	case UnsupportedMediaType:
		return "UnsupportedMediaType"
	case NoMatchingPlatform:
		return "NoMatchingPlatform"
	case Network:
		return "Network"
	case MountFailed:
		return "MountFailed"
	case NamespaceSetupFailed:
		return "NamespaceSetupFailed"
	case ExecFailed:
		return "ExecFailed"
	case Permission:
		return "Permission"
	case ConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable error carrying the operation and target (e.g.
// a layer or image reference name) that failed.
type Error struct {
	Kind   Kind
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Target, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Target, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, errkind.New(errkind.NotFound, "", "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op, target string) *Error {
	return &Error{Kind: kind, Op: op, Target: target}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, op, target string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: cause}
}

// Of extracts the Kind from err, walking the chain with errors.As. Returns
// Unknown if err is nil or does not carry a Kind.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// ExitCode maps err to the process exit code named in the specification's
// external interfaces section. Generic errors (including nil Kind) map to 1;
// a nil err maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Of(err) {
	case NotFound:
		return 2
	case AlreadyRunning:
		return 3
	case AuthRequired, AuthFailed:
		return 4
	case DigestMismatch:
		return 5
	case NoMatchingPlatform:
		return 6
	default:
		return 1
	}
}
