// Package rxevent models the receive completion events delivered by the radio.
package rxevent

import "fmt"

// PacketType classifies what the radio received.
type PacketType uint8

const (
	PacketData PacketType = iota
	PacketBeaconProbeResp
	PacketRaw
)

func (t PacketType) String() string {
	switch t {
	case PacketData:
		return "data"
	case PacketBeaconProbeResp:
		return "beacon_probe_resp"
	case PacketRaw:
		return "raw"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Encap is the encapsulation of a data packet.
type Encap uint8

const (
	// EncapMPDU is a single frame still carrying its full 802.11 header.
	EncapMPDU Encap = iota
	// EncapAMSDUWithMAC is an aggregate preceded by the 802.11 header.
	EncapAMSDUWithMAC
	// EncapAMSDU is a bare aggregate, starting with the first sub-frame header.
	EncapAMSDU
)

func (e Encap) String() string {
	switch e {
	case EncapMPDU:
		return "mpdu"
	case EncapAMSDUWithMAC:
		return "amsdu_with_mac"
	case EncapAMSDU:
		return "amsdu"
	}
	return fmt.Sprintf("unknown(%d)", uint8(e))
}

// Radio is the per reception metadata reported by the radio.
type Radio struct {
	// Signal is in dBm.
	Signal    int16
	Frequency uint16
	RateFlags uint8
	Rate      uint16
}

// Entry is one completed reception.
type Entry struct {
	DescID     uint32
	Len        int
	PacketType PacketType
	Encap      Encap
	VifID      int
	// MACHeaderLen is the 802.11 header length the radio parsed, 0 means it
	// has to be derived from the frame.
	MACHeaderLen int
	Radio        Radio
}

// Batch is one receive event. It is owned by whoever processes it and
// discarded afterwards.
type Batch struct {
	Entries []Entry
}
