// Package hal is the boundary between the RX data path and the radio's
// command/event transport. The data path only ever talks to hardware through
// the Link and Guard interfaces.
package hal

import "errors"

var (
	ErrMapRx     = errors.New("map rx buffer failed")
	ErrUnmapRx   = errors.New("unmap rx buffer failed")
	ErrCmdSend   = errors.New("data command send failed")
	ErrNoRxSlots = errors.New("no rx buffer armed for frame")
)

// PhysAddr is the device visible address of a mapped buffer.
type PhysAddr uint32

// Status is the state of the hardware link.
type Status int

const (
	StatusDisabled Status = iota
	StatusEnabled
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusEnabled:
		return "enabled"
	}
	return "unknown"
}

// RxBufCmd tells the radio a receive buffer is ready at Addr.
type RxBufCmd struct {
	Addr PhysAddr
}

// Link maps receive buffers for device writes and issues data commands.
type Link interface {
	// MapRx registers mem as the DMA target of (poolID, bufID).
	MapRx(poolID, bufID int, mem []byte) (PhysAddr, error)
	// UnmapRx takes (poolID, bufID) back from the device after pktLen bytes
	// were received, pktLen is 0 when the buffer is reclaimed unused. It
	// returns the buffer memory.
	UnmapRx(poolID, bufID int, pktLen int) ([]byte, error)
	// SendRxCmd hands a mapped buffer to the radio.
	SendRxCmd(cmd RxBufCmd, descID uint32, poolID int) error
}

// Guard serializes access to the hardware link. Every user of the link takes
// it, RX dispatch included, and it is never taken reentrantly.
type Guard interface {
	Lock()
	Unlock()
	// Status must only be called while holding the guard.
	Status() Status
}
