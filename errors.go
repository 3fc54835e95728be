package go_netdbreq

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Standard NetDB Request Error Types
//
// These errors follow Go 1.13+ error wrapping conventions and can be
// checked using errors.Is() and errors.As(). None of them escape the
// manager as a return value to unrelated callers: they are logged, counted
// and resolved into a failed completion for the affected lookup.

// Sentinel errors for lookup failures
var (
	// ErrNoPeerAvailable indicates the peer selector has no floodfill left
	// that is not already excluded for this lookup. Terminal for the lookup.
	ErrNoPeerAvailable = errors.New("netdb: no floodfill peer available")

	// ErrReplyPathUnavailable indicates no inbound tunnel could be used as a
	// reply path for a non-direct lookup. Counts as a failed attempt only.
	ErrReplyPathUnavailable = errors.New("netdb: reply path unavailable")

	// ErrAttemptTimeout indicates a floodfill did not answer within MIN_REQUEST_TIME
	// and the attempt budget is spent.
	ErrAttemptTimeout = errors.New("netdb: lookup attempts exhausted")

	// ErrLifetimeExceeded indicates a lookup reached its lifetime ceiling
	// before it was resolved.
	ErrLifetimeExceeded = errors.New("netdb: lookup lifetime exceeded")

	// ErrManagerStopped indicates the request manager was stopped while the
	// lookup was pending, or a lookup was created after Stop().
	ErrManagerStopped = errors.New("netdb: request manager stopped")

	// ErrInvalidArgument indicates a nil collaborator or an empty hash was passed.
	ErrInvalidArgument = errors.New("netdb: invalid argument (nil or empty value)")

	// ErrMessageBuild indicates the message builder could not produce a
	// DatabaseLookup message. Counts as a failed attempt only.
	ErrMessageBuild = errors.New("netdb: lookup message construction failed")

	// ErrSendFailed indicates the transport rejected a built lookup. The
	// attempt still counts; the next one follows after MIN_REQUEST_TIME.
	ErrSendFailed = errors.New("netdb: lookup send failed")

	// ErrTransportUnavailable indicates the transport failed too often in a
	// row and sends are failing fast until it recovers.
	ErrTransportUnavailable = errors.New("netdb: transport unavailable")

	// ErrInvalidConfiguration indicates the manager configuration is invalid.
	ErrInvalidConfiguration = errors.New("netdb: invalid configuration")
)

// LookupError represents an error related to one lookup.
// It carries the destination being resolved for debugging and tracing.
type LookupError struct {
	Destination IdentityHash // Key being resolved
	Operation   string       // What operation failed
	Err         error        // Underlying error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("netdb: lookup %s %s failed: %v", shortHash(e.Destination), e.Operation, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError creates a LookupError with the given parameters.
//
// Example:
//
//	if peer, ok := selector.SelectNextFloodfill(dest, excluded); !ok {
//	    return NewLookupError(dest, "select floodfill", ErrNoPeerAvailable)
//	}
func NewLookupError(destination IdentityHash, operation string, err error) error {
	return &LookupError{
		Destination: destination,
		Operation:   operation,
		Err:         err,
	}
}

// wrapCollaboratorError attaches lookup context to an error returned by a
// peer selector, message builder, reply path provider or transport.
func wrapCollaboratorError(err error, sentinel error, destination, peer IdentityHash, operation string) error {
	return oops.
		In("netdb").
		Code(operation).
		With("destination", shortHash(destination)).
		With("peer", shortHash(peer)).
		Wrapf(errors.Join(sentinel, err), "%s", operation)
}

// IsTerminal reports whether err ends a lookup outright rather than only
// spending one attempt.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNoPeerAvailable) ||
		errors.Is(err, ErrAttemptTimeout) ||
		errors.Is(err, ErrLifetimeExceeded) ||
		errors.Is(err, ErrManagerStopped)
}
