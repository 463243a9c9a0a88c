package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks a request that is malformed regardless of state.
var ErrInvalidArgument = errors.New("invalid argument")

// Reference kinds carried by UnknownReferenceError.
const (
	RefPattern      = "pattern"
	RefIntervention = "intervention"
	RefAlert        = "alert"
	RefSession      = "session"
	RefEvent        = "event"
)

// UnknownReferenceError reports a request naming something the engine does
// not know. It never affects other alerts.
type UnknownReferenceError struct {
	Kind string
	ID   string
	Err  error
}

func (e *UnknownReferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unknown %s %q: %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}

func (e *UnknownReferenceError) Unwrap() error { return e.Err }

func unknown(kind, id string, err error) error {
	return &UnknownReferenceError{Kind: kind, ID: id, Err: err}
}
