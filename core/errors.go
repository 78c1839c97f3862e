package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("session is not connected")
	ErrAlreadyConnected   = errors.New("session is already connected")
	ErrTransportSend      = errors.New("failed to send outbound command")
	ErrTransitionRejected = errors.New("transition not allowed in current state")
	ErrNoTransport        = errors.New("no transport configured")
)

// ProtocolError is an error reported by the remote agent.
type ProtocolError struct {
	Type    string
	Code    string
	Message string
	Param   string
	EventID string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Param != "" {
		msg = fmt.Sprintf("%s [param: %s]", msg, e.Param)
	}
	return "remote error: " + msg
}

type transitionError struct {
	state   State
	trigger string
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("%s while %s: %v", e.trigger, e.state, ErrTransitionRejected)
}

func (e *transitionError) Unwrap() error { return ErrTransitionRejected }
