package board

import (
	"errors"
)

// Kind classifies failures of board operations
type Kind int

// enum of error kinds
const (
	KindValidation    Kind = iota + 1 // malformed input
	KindAuthorization                 // no session, wrong role, bad credentials
	KindConflict                      // capacity, duplicates, identity mismatch
	KindNotFound                      // missing job
	KindBackend                       // storage failure
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is a failure of a board operation. Msg is the human-readable reason shown to users,
// Reason is a stable machine-readable code. Two errors match with errors.Is when kind and reason match.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

// Error returns the human-readable message
func (e *Error) Error() string { return e.Msg }

// Unwrap returns the underlying error, set for backend failures
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind and reason
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// sentinel errors, messages are shown to users as is
var (
	ErrNoSession          = &Error{Kind: KindAuthorization, Reason: "no_session", Msg: "Not logged in"}
	ErrWrongRole          = &Error{Kind: KindAuthorization, Reason: "wrong_role", Msg: "Not allowed for this role"}
	ErrMissingLoginFields = &Error{Kind: KindValidation, Reason: "missing_fields", Msg: "Missing name or contact"}
	ErrInvalidPasskey     = &Error{Kind: KindValidation, Reason: "invalid_passkey", Msg: "Invalid passkey"}
	ErrInvalidContact     = &Error{Kind: KindValidation, Reason: "invalid_contact", Msg: "Contact must be 10 digits"}
	ErrNameMismatch       = &Error{Kind: KindConflict, Reason: "name_mismatch", Msg: "Contact already registered with a different name"}
	ErrEmailMismatch      = &Error{Kind: KindAuthorization, Reason: "email_mismatch", Msg: "Email does not match configured recruiter"}
	ErrInvalidPassword    = &Error{Kind: KindAuthorization, Reason: "invalid_password", Msg: "Invalid password"}
	ErrJobNotFound        = &Error{Kind: KindNotFound, Reason: "job_not_found", Msg: "Job not found"}
	ErrMissingDetails     = &Error{Kind: KindValidation, Reason: "missing_details", Msg: "Missing required details"}
	ErrJobFilled          = &Error{Kind: KindConflict, Reason: "job_filled", Msg: "Job filled"}
	ErrAlreadySigned      = &Error{Kind: KindConflict, Reason: "already_signed", Msg: "You already signed up"}
	ErrInvalidJob         = &Error{Kind: KindValidation, Reason: "invalid_job", Msg: "Invalid job details"}
)

// KindOf returns the kind of err, backend for errors not produced by the board
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

func invalidJob(msg string) error {
	return &Error{Kind: KindValidation, Reason: ErrInvalidJob.Reason, Msg: msg}
}

// backendError keeps the storage message for users and the full chain for logs
func backendError(err error) error {
	return &Error{Kind: KindBackend, Reason: "backend", Msg: err.Error(), Err: err}
}
