package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind groups domain errors by how callers should react to them.
type ErrorKind int

const (
	KindInternal   ErrorKind = iota
	KindValidation           // malformed input, caller-fixable
	KindNotFound             // referenced entity absent
	KindConflict             // uniqueness or state violation
	KindAuth                 // authentication or authorization failure
	KindTransient            // store failure; nothing was applied
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is the error type returned by every service. Two errors match under
// errors.Is when their codes match, so callers compare against the sentinels
// below even when the message carries extra detail.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// Wallet / social auth
	ErrInvalidAddress   = newError(KindValidation, "INVALID_ADDRESS", "invalid wallet address")
	ErrInvalidAuth      = newError(KindAuth, "INVALID_AUTH", "invalid authentication attempt")
	ErrInvalidSignature = newError(KindAuth, "INVALID_SIGNATURE", "invalid signature")
	ErrProvider         = newError(KindAuth, "PROVIDER_ERROR", "identity provider assertion rejected")
	ErrForbidden        = newError(KindAuth, "FORBIDDEN", "insufficient permissions")

	// Signature verifier
	ErrMalformedSignature = newError(KindValidation, "MALFORMED_SIGNATURE", "malformed signature")

	// Token issuer
	ErrTokenExpired   = newError(KindAuth, "TOKEN_EXPIRED", "token expired")
	ErrTokenMalformed = newError(KindAuth, "TOKEN_MALFORMED", "token malformed")
	ErrTokenInvalid   = newError(KindAuth, "TOKEN_INVALID", "token invalid")

	// Lookups
	ErrUserNotFound       = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrBadgeNotFound      = newError(KindNotFound, "BADGE_NOT_FOUND", "badge not found")
	ErrEventNotFound      = newError(KindNotFound, "EVENT_NOT_FOUND", "event not found")
	ErrConnectionNotFound = newError(KindNotFound, "CONNECTION_NOT_FOUND", "connection not found")
	ErrNotRegistered      = newError(KindNotFound, "NOT_REGISTERED", "user is not registered for this event")
	ErrNotAwarded         = newError(KindNotFound, "NOT_AWARDED", "user does not hold this badge")

	// Conflicts
	ErrAlreadyAwarded     = newError(KindConflict, "ALREADY_AWARDED", "user already has this badge")
	ErrAlreadyRegistered  = newError(KindConflict, "ALREADY_REGISTERED", "user is already registered for this event")
	ErrEventNotPublished  = newError(KindConflict, "EVENT_NOT_PUBLISHED", "event is not open for registration")
	ErrRegistrationClosed = newError(KindConflict, "REGISTRATION_CLOSED", "registration deadline has passed")
	ErrEventStarted       = newError(KindConflict, "EVENT_STARTED", "cannot register for past events")
	ErrEventFull          = newError(KindConflict, "EVENT_FULL", "event has reached maximum participants")
	ErrUsernameTaken      = newError(KindConflict, "USERNAME_TAKEN", "username already taken")
	ErrBadgeExists        = newError(KindConflict, "BADGE_EXISTS", "a badge with this name already exists")

	// Validation
	ErrInvalidPlatform = newError(KindValidation, "INVALID_PLATFORM", "invalid platform")
	ErrInvalidInput    = newError(KindValidation, "INVALID_INPUT", "invalid input")

	// Store
	ErrStoreUnavailable = newError(KindTransient, "STORE_UNAVAILABLE", "storage temporarily unavailable")
)

// invalid returns a validation error carrying a field-specific message.
func invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: ErrInvalidInput.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// storeError passes domain errors through and wraps everything else as a
// transient store failure. The cause is kept for logs.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{
		Kind:    KindTransient,
		Code:    ErrStoreUnavailable.Code,
		Message: ErrStoreUnavailable.Message,
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// notFound maps gorm's missing-record error to the given sentinel.
func notFound(err error, sentinel *Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
