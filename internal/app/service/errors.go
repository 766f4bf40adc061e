package service

import "errors"

// Error taxonomy surfaced to the HTTP boundary. Everything the boundary
// needs to classify is reachable through errors.Is; anything else maps to
// a generic server error so no internal detail crosses the process edge.
var (
	// ErrValidation covers malformed or missing input: empty URL, bad URL
	// syntax, unparseable expiry. Never retried.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound means the identifier or analytics query resolved to
	// nothing.
	ErrNotFound = errors.New("link not found")
	// ErrGone means the link existed but is disabled or expired. Reported
	// distinctly from not-found so clients can tell "never existed" from
	// "no longer usable".
	ErrGone = errors.New("link gone")
	// ErrAuth means a bad or missing password. Deliberately says nothing
	// about whether the link is protected at all.
	ErrAuth = errors.New("invalid password")
	// ErrConflict means identifier collision at insert time after the
	// local regeneration retry was exhausted.
	ErrConflict = errors.New("short id conflict")
)

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsGone reports whether err indicates a disabled or expired link.
func IsGone(err error) bool { return errors.Is(err, ErrGone) }

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }
