// Package failure carries the two error kinds buckle reports: user errors
// (misconfiguration, failing scripts) and system errors (OS-level failures).
// Both carry a human-readable description plus advice on how to fix it.
package failure

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind separates misconfiguration from environment failures.
type Kind int

const (
	KindUser Kind = iota
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	default:
		return "user"
	}
}

// AdviceReadCause is the generic advice for failures whose cause says it all.
const AdviceReadCause = "Read the internal error message and take the appropriate steps to resolve the issue."

var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrMissingDependency    = errors.New("missing dependency")
	ErrDependencyCycle      = errors.New("dependency cycle")
	ErrManifest             = errors.New("invalid package manifest")
	ErrCommandFailed        = errors.New("command failed")
	ErrTemplate             = errors.New("template error")
)

// Error is a reportable failure with guidance attached.
type Error struct {
	Kind        Kind
	Description string
	Advice      string
	Cause       error

	sentinel error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Description
	}
	return e.Description + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.sentinel != nil {
		out = append(out, e.sentinel)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Tag marks the error so callers can match it with errors.Is.
func (e *Error) Tag(sentinel error) *Error {
	e.sentinel = sentinel
	return e
}

// User reports a misconfiguration the operator can fix.
func User(description, advice string) *Error {
	return &Error{Kind: KindUser, Description: description, Advice: advice}
}

// UserWrap is User with an underlying cause.
func UserWrap(cause error, description, advice string) *Error {
	return &Error{Kind: KindUser, Description: description, Advice: advice, Cause: cause}
}

// System reports an OS-level failure. The cause keeps its stack for diagnostics.
func System(cause error, description, advice string) *Error {
	if cause != nil {
		cause = pkgerrors.WithStack(cause)
	}
	return &Error{Kind: KindSystem, Description: description, Advice: advice, Cause: cause}
}

// Userf formats the description.
func Userf(advice, format string, args ...any) *Error {
	return User(fmt.Sprintf(format, args...), advice)
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsUser reports whether err carries a user failure.
func IsUser(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindUser
}

// IsSystem reports whether err carries a system failure.
func IsSystem(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindSystem
}

// Hint returns the advice attached to err, or "".
func Hint(err error) string {
	fe, ok := As(err)
	if !ok {
		return ""
	}
	return strings.TrimSpace(fe.Advice)
}

// Detailed builds the cause attached to a failed script run.
func Detailed(stdout, stderr []byte) error {
	return fmt.Errorf("---- STDOUT: ----\n%s\n\n---- STDERR: ----\n%s", string(stdout), string(stderr))
}

// Wrap annotates err with a message while keeping it matchable.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithMessagef(err, format, args...)
}
