package correlation

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCorrelation   = errors.New("correlation: unknown correlation id")
	ErrAbandoned            = errors.New("correlation: command abandoned")
	ErrDuplicateCorrelation = errors.New("correlation: correlation id already pending")
	ErrDispatcherClosed     = errors.New("correlation: dispatcher closed")
	ErrKindMismatch         = errors.New("correlation: reply does not answer the registered command")
)

// ReplyError is a failure reply from the nukleus.
type ReplyError struct {
	Code    uint32
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("correlation: nukleus rejected command: code=%d", e.Code)
	}
	return fmt.Sprintf("correlation: nukleus rejected command: code=%d: %s", e.Code, e.Message)
}

type abandonError struct {
	cause error
}

func (e *abandonError) Error() string {
	if e.cause == nil {
		return ErrAbandoned.Error()
	}
	return ErrAbandoned.Error() + ": " + e.cause.Error()
}

func (e *abandonError) Is(target error) bool {
	return target == ErrAbandoned
}

func (e *abandonError) Unwrap() error {
	return e.cause
}
