// Package backend defines the adapter contract for dispatchable providers and
// the error taxonomy the router relies on.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind distinguishes retryable from non-retryable backend failures.
type ErrorKind int

const (
	// Transient failures (network, 5xx, timeout) may succeed on another backend.
	Transient ErrorKind = iota

	// Permanent failures (malformed request, auth) will fail everywhere the
	// same way; the router still tries other candidates but surfaces the kind.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a terminal backend dispatch failure. MeteredCost carries any partial
// billing the backend reports for the failed call; the router commits it so the
// budget never undercounts.
type Error struct {
	BackendID   string
	Kind        ErrorKind
	MeteredCost float64
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s failure: %v", e.BackendID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent backend failure.
func IsPermanent(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == Permanent
}

// Response is a successful dispatch result.
type Response struct {
	Payload    []byte
	ActualCost float64
}

// Adapter is implemented once per provider.
type Adapter interface {
	// ID returns the stable backend identifier used for breaker and budget keys.
	ID() string

	// EstimatedCost predicts the billing for dispatching payload, used for
	// budget reservation checks before any I/O happens.
	EstimatedCost(payload []byte) float64

	// Dispatch sends the payload and blocks until a terminal outcome. The
	// context carries the per-call timeout; a timeout is a transient failure.
	Dispatch(ctx context.Context, payload []byte) (*Response, error)
}
