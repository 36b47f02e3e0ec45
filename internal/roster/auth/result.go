package auth

import "fmt"

// Result is the outcome of a login or sign-up. It is exactly one of
// Success, Invalid or Unavailable.
type Result interface {
	fmt.Stringer
	isResult()
}

// Success carries the signed-in account.
type Success struct {
	UID string

	// Profile is nil when the account has no stored profile.
	Profile *Profile
}

// Invalid means the request was understood and refused: bad input, wrong
// credentials, an email already in use.
type Invalid struct {
	Reason string
}

// Unavailable means the auth backend could not be reached. Retrying later
// may succeed.
type Unavailable struct {
	Err error
}

func (Success) isResult()     {}
func (Invalid) isResult()     {}
func (Unavailable) isResult() {}

func (r Success) String() string {
	return "signed in as " + r.UID
}

func (r Invalid) String() string {
	return r.Reason
}

func (r Unavailable) String() string {
	return fmt.Sprintf("auth service unavailable: %v", r.Err)
}
