package access

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaUnavailable the lecture has no playable media reference
	ErrMediaUnavailable = errors.New("no preview available for this lecture")
	// ErrIllegalTransition the event is not allowed in the current state
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrSessionClosed the session has been discarded
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionNotFound no open session with that ID
	ErrSessionNotFound = errors.New("session not found")
	// ErrPaymentBusy an unlock attempt is already outstanding
	ErrPaymentBusy = errors.New("payment already in progress")
	// ErrNoGateway no payment gateway configured
	ErrNoGateway = errors.New("payment gateway is not configured")
	// ErrGatewayPanic the gateway panicked while attempting the payment
	ErrGatewayPanic = errors.New("payment gateway panicked")
	// ErrSurfaceReleased attach/detach on a surface released at session close
	ErrSurfaceReleased = errors.New("media surface already released")
	// ErrNoSurface attach/detach before the surface has been created
	ErrNoSurface = errors.New("media surface does not exist")
)

// TransitionError a forbidden state/trigger pair
type TransitionError struct {
	From    State
	Trigger Trigger
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s on %s (%s)", ErrIllegalTransition, e.Trigger, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
