package rxpath

import "errors"

var (
	ErrInvalidDescriptor    = errors.New("invalid descriptor id")
	ErrInvalidEncapsulation = errors.New("invalid data packet encapsulation")
	ErrInvalidPacketType    = errors.New("invalid rx packet type")
	ErrUnknownInterface     = errors.New("unknown virtual interface")
	ErrUnknownCommand       = errors.New("unknown rx command type")
	ErrRearmFailed          = errors.New("rx descriptor re-arm failed")
	ErrQueueFull            = errors.New("rx event queue full")
)
