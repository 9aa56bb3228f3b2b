// Package authstate holds the observable "who is signed in" record.
package authstate

import "github.com/utafrali/EstateDesk/internal/domain"

// Status names the lifecycle position of a State.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusAuthenticated Status = "authenticated"
	StatusLoggedOut     Status = "logged_out"
)

// State is an immutable snapshot. User and Tokens are either both set or
// both nil.
type State struct {
	User      *domain.User   `json:"user"`
	Tokens    *domain.Tokens `json:"-"`
	IsLoading bool           `json:"isLoading"`
}

// Status reports where the snapshot sits in the session lifecycle. A
// loading state without a user has not been resolved yet.
func (s State) Status() Status {
	switch {
	case s.User != nil:
		return StatusAuthenticated
	case s.IsLoading:
		return StatusUnknown
	default:
		return StatusLoggedOut
	}
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.User != nil
}

func (s State) clone() State {
	out := State{IsLoading: s.IsLoading}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.Tokens != nil {
		t := *s.Tokens
		out.Tokens = &t
	}
	return out
}
