package ringbuff

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNoSpace          = errors.New("no space")
	ErrUnknownMagicCode = errors.New("unknown magic code")
	ErrInvalidChecksum  = errors.New("invalid checksum")
	ErrErased           = errors.New("erased")
	ErrBadRecord        = errors.New("bad record")
	ErrOutOfRange       = errors.New("out of range")
)
