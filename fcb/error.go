package fcb

import (
	ringbuff "github.com/geot0x1/ring-buff"
)

var (
	ErrInvalidArgument  = ringbuff.ErrInvalidArgument
	ErrNoSpace          = ringbuff.ErrNoSpace
	ErrUnknownMagicCode = ringbuff.ErrUnknownMagicCode
	ErrInvalidChecksum  = ringbuff.ErrInvalidChecksum
	ErrErased           = ringbuff.ErrErased
	ErrBadRecord        = ringbuff.ErrBadRecord
	ErrOutOfRange       = ringbuff.ErrOutOfRange
)
