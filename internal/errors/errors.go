// Package errors re-exports github.com/cockroachdb/errors for dropsminer.
//
// Using cockroachdb/errors instead of the standard library gives every
// wrapped error a stack trace, PII-safe Safe Details, and hint/detail
// annotations that callers can attach and inspect.
//
// Usage:
//
//	err := errors.New("campaign not found")
//	return errors.Wrapf(err, "fetching campaign %s", id)
//	return errors.WithHint(err, "check that the OAuth token has not expired")
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

var (
	Handled                          = crdb.Handled
	HandledWithMessage                = crdb.HandledWithMessage
	WithDomain                        = crdb.WithDomain
	GetDomain                         = crdb.GetDomain
	WithContextTags                   = crdb.WithContextTags
	AssertionFailedf                  = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors shared across packages. Callers should wrap these with
// Wrap/Wrapf rather than reconstructing the message, so Is() checks keep
// working through the call stack.
var (
	// ErrExitRequested signals a user-initiated shutdown; it unwinds the
	// scheduler loop without being logged as a failure.
	ErrExitRequested = New("exit requested")
	// ErrInvalidRequest means the in-flight auth session expired mid
	// request and the caller must restart from device-code login.
	ErrInvalidRequest = New("request invalidated by auth session expiry")
	// ErrRateLimited is returned by ratelimit.Gate when a context is
	// cancelled while waiting for capacity.
	ErrRateLimited = New("rate limit wait cancelled")
	// ErrGQL wraps an unrecoverable GraphQL error payload.
	ErrGQL = New("gql error")
	// ErrCampaignNotFound names a failed campaign lookup; no package in
	// this module currently returns it.
	ErrCampaignNotFound = New("campaign not found")
	// ErrDropNotFound is returned by the scheduler's drop lookups.
	ErrDropNotFound = New("drop not found")
	// ErrPoolFull is returned when the websocket pool cannot place a
	// new topic within MAX_WEBSOCKETS/WS_TOPICS_LIMIT.
	ErrPoolFull = New("websocket pool at capacity")
)
