package control

import "errors"

var (
	ErrEncodingOverflow = errors.New("control: encoding overflow")
	ErrInvalidField     = errors.New("control: invalid field")
	ErrInvalidCapacity  = errors.New("control: invalid scratch capacity")
	ErrTruncated        = errors.New("control: truncated data")
	ErrInvalidLength    = errors.New("control: invalid length")
	ErrUnknownKind      = errors.New("control: unknown command kind")
	ErrReleased         = errors.New("control: encoded command already released")
)
