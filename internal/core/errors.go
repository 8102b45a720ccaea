package core

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyTurn       = errors.New("turn has no text, attachments or directive")
	ErrTurnInFlight    = errors.New("a response is already streaming for this session")
	// ErrGateway wraps every failure of the model service; callers treat it
	// as opaque.
	ErrGateway = errors.New("completion service failed")
)
