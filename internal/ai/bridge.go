package ai

import (
	"context"
	"errors"
)

var (
	// ErrSessionDead is returned when a question is asked without a live
	// browser session.
	ErrSessionDead = errors.New("ai session is not open")
	// ErrTimeout is returned when the assistant did not finish answering in
	// time.
	ErrTimeout = errors.New("timed out waiting for the assistant")
	// ErrParseFailure is returned when the page markup could not be driven:
	// no prompt box, or no readable answer element.
	ErrParseFailure = errors.New("could not read the assistant page")
)

// Bridge is a conversational AI session that answers free-form questions.
type Bridge interface {
	Open(ctx context.Context) error
	Ask(ctx context.Context, question string) (string, error)
	Close() error
	Ready() bool
}
