package protocol

import "errors"

var (
	ErrTruncated          = errors.New("protocol: truncated data")
	ErrInvalidLength      = errors.New("protocol: invalid length")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownLevel       = errors.New("protocol: unknown level")
)
