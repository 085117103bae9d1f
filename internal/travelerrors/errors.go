// Package travelerrors implements the error taxonomy of spec §7 as typed
// kinds layered over Go's sentinel-error idiom, the same shape core/errors.go
// uses for the framework's own error handling.
package travelerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's error kinds. Components raise a Kind;
// ORCH is the single place that maps kinds to user-visible messages
// (spec §7 Propagation).
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindDownstreamUnavailable Kind = "downstream_unavailable"
	KindDownstreamRejected    Kind = "downstream_rejected"
	KindQuoteExpired          Kind = "quote_expired"
	KindBindConflict          Kind = "bind_conflict"
	KindIntegrityViolation    Kind = "integrity_violation"
	KindInternalTimeout       Kind = "internal_timeout"
)

// Sentinel errors for errors.Is() comparison, mirroring core/errors.go's
// convention of exposing comparable base errors alongside the wrapper type.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrNoOffers            = errors.New("insurer returned no applicable offers")
	ErrQuoteNotSelected    = errors.New("no tier selected for the current quote")
	ErrCheckoutNotFound    = errors.New("no checkout in progress")
	ErrInputTooLarge       = errors.New("input exceeds configured size limit")
	ErrInvalidSignature    = errors.New("payment event signature invalid")
)

// TravelError carries a Kind plus structured context, the same shape as
// core.FrameworkError.
type TravelError struct {
	Op      string // operation that failed, e.g. "PRC.quote"
	Kind    Kind
	ID      string // optional entity id, e.g. a session_id
	Message string
	Err     error
}

func (e *TravelError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *TravelError) Unwrap() error {
	return e.Err
}

// New wraps err with a Kind and operation name.
func New(op string, kind Kind, err error) *TravelError {
	return &TravelError{Op: op, Kind: kind, Err: err}
}

// Newf builds a TravelError with a formatted message and no underlying error.
func Newf(op string, kind Kind, format string, args ...interface{}) *TravelError {
	return &TravelError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithID attaches an entity id for logging/debugging.
func (e *TravelError) WithID(id string) *TravelError {
	e.ID = id
	return e
}

// KindOf extracts the Kind from err, walking the chain via errors.As.
// Returns ("", false) if err does not carry a Kind.
func KindOf(err error) (Kind, bool) {
	var te *TravelError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether err's Kind is one the owning component
// should retry within its own budget before surfacing (spec §7:
// DownstreamUnavailable, InternalTimeout).
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindDownstreamUnavailable || k == KindInternalTimeout)
}

// IsUserRecoverable reports whether the error should be resolved by asking
// the user a clarifying question with no state write (spec §7: InvalidInput).
func IsUserRecoverable(err error) bool {
	return Is(err, KindInvalidInput)
}

// RequiresHandoff reports whether ORCH should offer a human handoff: true
// for DownstreamRejected and IntegrityViolation.
func RequiresHandoff(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindDownstreamRejected || k == KindIntegrityViolation)
}
