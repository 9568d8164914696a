package vss

import "fmt"

// Kind classifies a failure the way the command processor needs to shape it
// into a response envelope. It is never returned to a transport directly;
// CommandProcessor maps it to a numeric code and reason string.
type Kind int

const (
	KindMalformedRequest Kind = iota
	KindMalformedPath
	KindSchemaError
	KindPathNotFound
	KindPathNotValid
	KindNotALeaf
	KindNotSingleSignal
	KindTypeMismatch
	KindOutOfBounds
	KindNoPermission
	KindInvalidToken
	KindDaemonUnavailable
	KindGenericError
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "MalformedRequest"
	case KindMalformedPath:
		return "MalformedPath"
	case KindSchemaError:
		return "SchemaError"
	case KindPathNotFound:
		return "PathNotFound"
	case KindPathNotValid:
		return "PathNotValid"
	case KindNotALeaf:
		return "NotALeaf"
	case KindNotSingleSignal:
		return "NotSingleSignal"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindOutOfBounds:
		return "OutOfBounds"
	case KindNoPermission:
		return "NoPermission"
	case KindInvalidToken:
		return "InvalidToken"
	case KindDaemonUnavailable:
		return "DaemonUnavailable"
	default:
		return "GenericError"
	}
}

// Error is the typed error every vss operation returns on failure. The
// command processor boundary is the only place that turns it into a wire
// response; callers inside the package just check Kind.
type Error struct {
	Kind    Kind
	Message string
}

func (self *Error) Error() string {
	if self.Message == "" {
		return self.Kind.String()
	}
	return fmt.Sprintf("%s: %s", self.Kind.String(), self.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it is a *Error, else GenericError.
func KindOf(err error) Kind {
	if verr, ok := err.(*Error); ok {
		return verr.Kind
	}
	return KindGenericError
}
