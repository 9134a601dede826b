package domain

import (
	"errors"
	"time"
)

// Code is a stable, client-visible error identifier. The string values are
// part of the wire contract and must not change.
type Code string

const (
	CodeNotJoined           Code = "NotJoined"
	CodeForbiddenSender     Code = "ForbiddenSender"
	CodeInvalidChat         Code = "InvalidChat"
	CodeMessageTooLarge     Code = "MessageTooLarge"
	CodeRateLimited         Code = "RateLimited"
	CodeDailyQuotaExceeded  Code = "DailyQuotaExceeded"
	CodeProviderUnavailable Code = "ProviderUnavailable"
	CodeInternal            Code = "Internal"

	// CodeBadFrame answers a realtime frame that is not valid JSON or names
	// an unknown op.
	CodeBadFrame Code = "BadFrame"
)

// Error is a coded failure. Two Errors match under errors.Is when their codes
// are equal, so callers can test against the sentinels below regardless of
// the attached reason.
type Error struct {
	Code       Code
	Reason     string
	RetryAfter time.Duration // zero when not applicable
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Reason
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotJoined           = &Error{Code: CodeNotJoined}
	ErrForbiddenSender     = &Error{Code: CodeForbiddenSender}
	ErrInvalidChat         = &Error{Code: CodeInvalidChat}
	ErrMessageTooLarge     = &Error{Code: CodeMessageTooLarge}
	ErrRateLimited         = &Error{Code: CodeRateLimited}
	ErrDailyQuotaExceeded  = &Error{Code: CodeDailyQuotaExceeded}
	ErrProviderUnavailable = &Error{Code: CodeProviderUnavailable}
	ErrInternal            = &Error{Code: CodeInternal}
	ErrBadFrame            = &Error{Code: CodeBadFrame}
)

// NewError builds a coded error with a human-readable reason.
func NewError(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// CodeOf extracts the code from err. Errors that carry no code map to
// CodeInternal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// RetryAfterOf returns the retry hint attached to err, if any.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

// ClientVisible reports whether the code may be shown to the caller with its
// reason. Internal failures are reported without detail.
func ClientVisible(c Code) bool {
	switch c {
	case CodeNotJoined, CodeForbiddenSender, CodeInvalidChat, CodeMessageTooLarge,
		CodeRateLimited, CodeDailyQuotaExceeded, CodeBadFrame:
		return true
	}
	return false
}
