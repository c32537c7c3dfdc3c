// Package ieee80211 converts received 802.11 frames into Ethernet framing for
// the network stack.
package ieee80211

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrTruncated = errors.New("frame truncated")
	ErrNoMemory  = errors.New("no memory for frame copy")
)

const (
	EthAlen      = 6
	EthHeaderLen = 14
	// EtherTypeMin is the smallest value that is an ethertype rather than an
	// 802.3 length.
	EtherTypeMin = 0x0600

	EtherTypeAARP = 0x80f3
	EtherTypeIPX  = 0x8137

	snapHeaderLen = 6
	fcsLen        = 4
)

var (
	rfc1042Header      = []byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00}
	bridgeTunnelHeader = []byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0xf8}
)

// Header holds the fields of an 802.11 MAC header needed to build an Ethernet
// header. Addresses are copies and stay valid when the frame is rewritten.
type Header struct {
	Type  layers.Dot11Type
	Flags layers.Dot11Flags
	Addr1 net.HardwareAddr
	Addr2 net.HardwareAddr
	Addr3 net.HardwareAddr
	Addr4 net.HardwareAddr
	// Len is the length of the MAC header in bytes.
	Len int
}

// ParseHeader decodes the MAC header at the start of frame. The radio hands
// frames over without an FCS, so only the header itself has to be present.
func ParseHeader(frame []byte) (*Header, error) {
	n, err := HeaderLen(frame)
	if err != nil {
		return nil, err
	}

	// Dot11 decoding always chops a trailing FCS, give it a zero one.
	hdr := make([]byte, n+fcsLen)
	copy(hdr, frame[:n])

	var d layers.Dot11
	if err := d.DecodeFromBytes(hdr, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	return &Header{
		Type:  d.Type,
		Flags: d.Flags,
		Addr1: d.Address1,
		Addr2: d.Address2,
		Addr3: d.Address3,
		Addr4: d.Address4,
		Len:   n,
	}, nil
}

// HeaderLen is the length of the MAC header at the start of frame as given by
// its frame control field.
func HeaderLen(frame []byte) (int, error) {
	if len(frame) < 2 {
		return 0, fmt.Errorf("%w: %d byte frame has no frame control", ErrTruncated, len(frame))
	}

	t := layers.Dot11Type(frame[0] >> 2)
	flags := layers.Dot11Flags(frame[1])

	n := 10
	switch t.MainType() {
	case layers.Dot11TypeCtrl:
		switch t {
		case layers.Dot11TypeCtrlRTS, layers.Dot11TypeCtrlPowersavePoll,
			layers.Dot11TypeCtrlCFEnd, layers.Dot11TypeCtrlCFEndAck:
			n += EthAlen
		}
	case layers.Dot11TypeMgmt, layers.Dot11TypeData:
		n = 24
		if t.MainType() == layers.Dot11TypeData && flags.ToDS() && flags.FromDS() {
			n += EthAlen
		}
		if t.QOS() {
			n += 2
		}
		if flags.Order() && (t.QOS() || t.MainType() == layers.Dot11TypeMgmt) {
			n += 4
		}
	}

	if len(frame) < n {
		return 0, fmt.Errorf("%w: %d byte header in %d byte frame", ErrTruncated, n, len(frame))
	}
	return n, nil
}

func cloneAddr(a net.HardwareAddr) net.HardwareAddr {
	if a == nil {
		return nil
	}
	out := make(net.HardwareAddr, len(a))
	copy(out, a)
	return out
}

// EthernetAddrs picks the Ethernet destination and source from the 802.11
// addresses according to the distribution system bits.
func (h *Header) EthernetAddrs() (dst, src net.HardwareAddr) {
	switch {
	case h.Flags.ToDS() && h.Flags.FromDS():
		return h.Addr1, h.Addr4
	case h.Flags.FromDS():
		return h.Addr1, h.Addr3
	case h.Flags.ToDS():
		return h.Addr3, h.Addr2
	default:
		return h.Addr1, h.Addr2
	}
}

// FrameType returns the main type of the frame whose frame control field
// starts fc.
func FrameType(fc []byte) (layers.Dot11Type, bool) {
	if len(fc) < 2 {
		return 0, false
	}
	return (layers.Dot11Type(fc[0]&0xfc) >> 2).MainType(), true
}

// SNAPEtherType inspects the LLC/SNAP header at the start of an MSDU. When it
// is a header that gets translated to Ethernet II, the ethertype and the number
// of bytes to skip are returned, otherwise skip is 0 and the MSDU is passed on
// as 802.3 with its LLC header intact.
func SNAPEtherType(msdu []byte) (etherType uint16, skip int) {
	if len(msdu) < snapHeaderLen+2 {
		return 0, 0
	}

	etherType = binary.BigEndian.Uint16(msdu[snapHeaderLen : snapHeaderLen+2])
	if etherType < EtherTypeMin {
		return 0, 0
	}

	snap := msdu[:snapHeaderLen]
	switch {
	case string(snap) == string(bridgeTunnelHeader):
		return etherType, snapHeaderLen + 2
	case string(snap) == string(rfc1042Header) && etherType != EtherTypeAARP && etherType != EtherTypeIPX:
		return etherType, snapHeaderLen + 2
	}
	return 0, 0
}

// PutEthernetHeader writes an Ethernet header into b, which must be at least
// EthHeaderLen bytes.
func PutEthernetHeader(b []byte, dst, src net.HardwareAddr, proto uint16) {
	copy(b[0:EthAlen], dst)
	copy(b[EthAlen:2*EthAlen], src)
	binary.BigEndian.PutUint16(b[2*EthAlen:EthHeaderLen], proto)
}
