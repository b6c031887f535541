// Package fault classifies errors into the handful of kinds a client is told
// about: bad input, missing permission, unknown room, failed external fetch and
// code conflicts.
package fault

import "errors"

type Kind string

const (
	Validation    Kind = "validation"
	Authorization Kind = "authorization"
	NotFound      Kind = "not_found"
	External      Kind = "external"
	Conflict      Kind = "conflict"
	Internal      Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf reports the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}
