package client

import (
	"context"

	"github.com/pkg/errors"

	"httpcore/route"
	"httpcore/transport"
	"httpcore/wire/http1"
)

var (
	// ErrCancelled surfaces when a call is cancelled while in flight.
	ErrCancelled = errors.New("call was cancelled")

	// ErrProtocol marks responses the peer was not allowed to produce.
	// Protocol errors are never retried.
	ErrProtocol = errors.New("protocol error")
)

// RouteError wraps a failure to open or hand-shake one specific route.
// The exchange never started, so the request can be retried on the
// next route without replaying anything.
type RouteError struct {
	cause error
}

func (e *RouteError) Error() string { return "route failed: " + e.cause.Error() }
func (e *RouteError) Unwrap() error { return e.cause }

// isRecoverable decides whether a failed exchange may move on to a
// fresh connection. Malformed peer output, cancellation and timeouts
// are final.
func isRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrProtocol),
		errors.Is(err, http1.ErrMalformedChunk),
		errors.Is(err, http1.ErrLineTooLong):
		return false
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, transport.ErrDeadlineExceeded):
		return false
	case errors.Is(err, route.ErrExhausted),
		errors.Is(err, route.ErrHostNotFound):
		return false
	}
	return true
}
