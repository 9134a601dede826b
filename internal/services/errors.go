// Package services holds the application logic behind the HTTP API: chat
// membership, message history, translation review and user administration.
// This file centralizes service-level error values so that callers can map
// them to transport responses consistently.
//
// Failures that are part of the realtime wire contract (InvalidChat,
// ForbiddenSender, ...) are reported as *domain.Error values instead; the
// errors below cover inputs that only the HTTP API accepts.
package services

import "errors"

// Validation errors.
var (
	// ErrEmptyText is returned when a required text field is blank.
	ErrEmptyText = errors.New("text is empty")

	// ErrTextTooLong is returned when a text field exceeds its limit.
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidLanguage is returned for a language code outside the
	// supported set.
	ErrInvalidLanguage = errors.New("unsupported language")

	// ErrInvalidUserID is returned for a non-positive user id.
	ErrInvalidUserID = errors.New("user id must be positive")

	// ErrInvalidKind is returned for a chat kind other than direct or room.
	ErrInvalidKind = errors.New("chat kind must be direct or room")

	// ErrDirectParticipants is returned when a direct chat would not have
	// exactly two participants.
	ErrDirectParticipants = errors.New("a direct chat has exactly two participants")
)

// Lookup and permission errors.
var (
	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotJoinable is returned when joining a direct chat or a private room.
	ErrNotJoinable = errors.New("chat cannot be joined")

	// ErrWrongPassword is returned when a room password does not match.
	ErrWrongPassword = errors.New("wrong room password")

	// ErrSubmissionNotFound indicates an unknown submission id.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrAlreadyReviewed is returned when a submission has already left the
	// pending state.
	ErrAlreadyReviewed = errors.New("submission already reviewed")

	// ErrCacheEntryNotFound indicates an unknown translation cache id.
	ErrCacheEntryNotFound = errors.New("cache entry not found")
)
