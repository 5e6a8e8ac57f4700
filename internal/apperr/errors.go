package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuth          Kind = "auth"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindDelivery      Kind = "delivery"
	// KindUnavailable covers store and broker outages.
	KindUnavailable Kind = "unavailable"
)

// Auth failure reasons.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
	ReasonExpired = "expired"
)

type AppError struct {
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is lets errors.Is match on kind (and reason when the target sets one).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func New(kind Kind, msg string) error {
	return &AppError{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) error {
	return &AppError{Kind: kind, Message: msg, Cause: cause}
}

func Auth(reason, msg string) error {
	return &AppError{Kind: KindAuth, Reason: reason, Message: msg}
}

func Validation(msg string) error    { return New(KindValidation, msg) }
func Authorization(msg string) error { return New(KindAuthorization, msg) }
func NotFound(msg string) error      { return New(KindNotFound, msg) }
func Delivery(msg string) error      { return New(KindDelivery, msg) }

func Unavailable(msg string, cause error) error {
	return Wrap(KindUnavailable, msg, cause)
}

// Sentinels for errors.Is checks.
var (
	ErrAuth          = &AppError{Kind: KindAuth}
	ErrAuthMissing   = &AppError{Kind: KindAuth, Reason: ReasonMissing}
	ErrAuthInvalid   = &AppError{Kind: KindAuth, Reason: ReasonInvalid}
	ErrAuthExpired   = &AppError{Kind: KindAuth, Reason: ReasonExpired}
	ErrValidation    = &AppError{Kind: KindValidation}
	ErrAuthorization = &AppError{Kind: KindAuthorization}
	ErrNotFound      = &AppError{Kind: KindNotFound}
	ErrDelivery      = &AppError{Kind: KindDelivery}
	ErrUnavailable   = &AppError{Kind: KindUnavailable}
)

// KindOf reports the kind of err. Untyped errors are treated as unavailable.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnavailable
}

// Normalize makes sure err is an *AppError before it leaves a component.
func Normalize(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return err
	}
	return Unavailable(msg, err)
}

// Reason returns the auth reason carried by err, if any.
func Reason(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}
