// Package errs contains the application error type and the sentinels used across layers
// for stable error mapping.
package errs

import "errors"

// Kind classifies an AppError for transport mapping.
type Kind int

const (
	// KindInvalid is an expected domain failure (bad request).
	KindInvalid Kind = iota
	// KindNotFound marks a lookup of an id that does not exist or is not visible.
	KindNotFound
	// KindRateLimited indicates a temporary block.
	KindRateLimited
)

// AppError is an expected failure with a client-safe message.
type AppError struct {
	Kind Kind
	Msg  string
}

func (e *AppError) Error() string { return e.Msg }

// New builds an ad hoc AppError.
func New(kind Kind, msg string) *AppError { return &AppError{Kind: kind, Msg: msg} }

// Invalid builds a KindInvalid AppError.
func Invalid(msg string) *AppError { return New(KindInvalid, msg) }

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = New(KindNotFound, "not found")

	// ErrRateLimited indicates temporary authentication lock due to rate limiting.
	ErrRateLimited = New(KindRateLimited, "rate limited")

	// ErrAlreadyExists is folded into a generic message to resist account enumeration.
	ErrAlreadyExists = Invalid("Invalid data")
)

// Account and session.
var (
	ErrInvalidSignature = Invalid("Invalid Signature")
	ErrInvalidAddress   = Invalid("Invalid address used for validation")
	ErrAccountNotFound  = Invalid("Account Not Found")
	ErrInvalidUser      = Invalid("Invalid User")
	ErrInvalidToken     = Invalid("Invalid token")
	ErrTermsNotAccepted = Invalid("Terms must be accepted")
)

// Tribes.
var (
	ErrInvalidTribeName  = Invalid("Tribe name must be between 1 and 24 characters")
	ErrInvalidTribeID    = Invalid("Invalid Tribe Id")
	ErrTooManyTribes     = Invalid("Tribe limit reached")
	ErrTribeFull         = Invalid("Tribe is full")
	ErrAlreadyMember     = Invalid("Already a member of this tribe")
	ErrNotMember         = Invalid("Not a member of this tribe")
	ErrInvalidInviteCode = Invalid("Invalid Invite Code")
	ErrExpiredInviteCode = Invalid("Invite Code has expired")
	ErrSelfRemoval       = Invalid("Use leave to exit a tribe")
)

// Messages.
var (
	ErrInvalidTribeTimestamp = Invalid("Invalid Tribe TimestampId")
	ErrInvalidMessageID      = Invalid("Invalid Message Id")
	ErrMessageNotFound       = New(KindNotFound, "Message Not Found")
	ErrNotSender             = Invalid("Only the sender can delete this message")
	ErrTeaLimit              = New(KindRateLimited, "Daily tea limit reached for this tribe")
	ErrInvalidMessage        = Invalid("Invalid message")
)
