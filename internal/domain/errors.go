package domain

import "errors"

// Engine error taxonomy. Callers branch on these with errors.Is; everything
// else wraps one of them or is treated as transient transport failure.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrSessionBusy is returned when an account's session is already held
	// by a live handle. The caller should defer and retry later.
	ErrSessionBusy = errors.New("session already held for account")

	// ErrSessionExpired is returned when a persisted session blob was
	// rejected by the platform and a manual re-login is required.
	ErrSessionExpired = errors.New("session expired, manual login required")

	// ErrQuotaExceeded is returned when a daily action quota is exhausted.
	// This is a scheduling denial, not a failure.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrDuplicateLead is returned when a lead already exists for a post.
	// The existing lead is returned unchanged alongside this error.
	ErrDuplicateLead = errors.New("lead already exists for post")

	// ErrCursorPersist is returned when a group cursor could not be saved.
	// Fatal for the current run: reprocessing a post beats losing progress.
	ErrCursorPersist = errors.New("cursor persist failed")

	// ErrInvalidTransition is returned for illegal status/stage/state moves.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrClassification is returned when the external classifier fails for
	// a single post. Isolated to that post, never aborts the run.
	ErrClassification = errors.New("classification failed")
)
