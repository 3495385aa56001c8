package kms

import (
	"errors"
	"fmt"
)

// Failure categories. Errors returned by this package match one of
// them with errors.Is.
var (
	ErrOpenFailed            = errors.New("open failed")
	ErrCapabilityUnsupported = errors.New("capability unsupported")
	ErrMastershipUnavailable = errors.New("mastership unavailable")
	ErrResourceQueryFailed   = errors.New("resource query failed")
	ErrAllocationFailed      = errors.New("allocation failed")
	ErrMapHandleFailed       = errors.New("map handle failed")
	ErrMapFailed             = errors.New("map failed")
	ErrRegisterFailed        = errors.New("framebuffer register failed")
	ErrBindFailed            = errors.New("bind failed")
	ErrRestoreFailed         = errors.New("restore failed")
	ErrDestroyFailed         = errors.New("destroy failed")

	// ErrPrecondition reports a call made in the wrong lifecycle state,
	// such as mapping twice or binding a disconnected output. No kernel
	// call is issued when it is returned.
	ErrPrecondition = errors.New("precondition violated")
)

// Error describes a failed operation. Kind is one of the Err* values
// above; Err is the underlying cause, usually a unix.Errno.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func precondition(format string, args ...any) error {
	return &Error{Op: fmt.Sprintf(format, args...), Kind: ErrPrecondition}
}
