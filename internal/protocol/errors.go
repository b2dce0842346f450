package protocol

import (
	"fmt"

	"github.com/osinstall/osinstall/internal/common"
)

// ErrorKind classifies every error reported on the session channel. The
// wire representation is the kind name itself, so front-ends can switch on
// it without a numeric registry.
type ErrorKind int

const (
	// bad invocation, reported before any session exists
	KindUsageError ErrorKind = iota

	// malformed message, terminates the session
	KindProtocolError

	// bad configuration value, session stays in Configuring
	KindValidationError

	// begin issued with required fields missing
	KindIncompleteConfigError

	// command not valid in the current state
	KindInvalidStateError

	// a step failed, session moves to Failed
	KindStepFailure

	// snapshot write or probe failure, fatal to dump mode
	KindIOError
)

func getErrorKindMapping() map[string]int {
	return map[string]int{
		"UsageError":            int(KindUsageError),
		"ProtocolError":         int(KindProtocolError),
		"ValidationError":       int(KindValidationError),
		"IncompleteConfigError": int(KindIncompleteConfigError),
		"InvalidStateError":     int(KindInvalidStateError),
		"StepFailure":           int(KindStepFailure),
		"IOError":               int(KindIOError),
	}
}

func (k ErrorKind) String() string {
	s, ok := common.EnumToString(getErrorKindMapping(), int(k))
	if !ok {
		panic("invalid error kind value")
	}
	return s
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(k), getErrorKindMapping(), "is not a valid error kind value")
}

func (k *ErrorKind) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid error kind string", " is not a valid error kind", getErrorKindMapping())
	if err != nil {
		return err
	}
	*k = ErrorKind(value)
	return nil
}

// IsFatal tells whether an error of this kind terminates the process rather
// than the current command.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindUsageError, KindProtocolError, KindIOError:
		return true
	default:
		return false
	}
}

// Error is the structured error payload of the wire protocol. It doubles as
// a Go error so handlers can return it directly.
type Error struct {
	Kind    ErrorKind   `json:"kind"`
	Reason  string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewError builds a wire error. Details are optional; passing more than one
// keeps them all, like a varargs printf would.
func NewError(kind ErrorKind, reason string, details ...interface{}) *Error {
	e := &Error{
		Kind:   kind,
		Reason: reason,
	}
	switch len(details) {
	case 0:
	case 1:
		e.Details = details[0]
	default:
		e.Details = details
	}
	return e
}

// Errorf builds a wire error with a formatted reason.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// AsError coerces any error into a wire error, wrapping foreign errors under
// the given fallback kind.
func AsError(err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	if werr, ok := err.(*Error); ok {
		return werr
	}
	return NewError(fallback, err.Error())
}
