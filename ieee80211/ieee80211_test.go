package ieee80211

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umacif/rxpath/nbuf"
)

var (
	macA = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xaa}
	macB = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xbb}
	macC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xcc}
	macD = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xdd}
)

// dataHeader builds a non QoS data frame header with the given DS flags.
func dataHeader(flags layers.Dot11Flags, a1, a2, a3, a4 net.HardwareAddr) []byte {
	h := []byte{0x08, byte(flags), 0, 0}
	h = append(h, a1...)
	h = append(h, a2...)
	h = append(h, a3...)
	h = append(h, 0x10, 0x00)
	if a4 != nil {
		h = append(h, a4...)
	}
	return h
}

func snap(etherType uint16) []byte {
	b := append([]byte{}, rfc1042Header...)
	return binary.BigEndian.AppendUint16(b, etherType)
}

func loadBuffer(t *testing.T, headroom int, frame []byte) *nbuf.Buffer {
	b := nbuf.New(make([]byte, headroom+len(frame)+16))
	_, err := b.Put(headroom + len(frame))
	require.NoError(t, err)
	require.NoError(t, b.Pull(headroom))
	copy(b.Data(), frame)
	return b
}

func decodeEthernet(t *testing.T, frame []byte) *layers.Ethernet {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok, "delivered frame must decode as ethernet")
	return eth
}

func TestParseHeader_Addresses(t *testing.T) {
	tests := []struct {
		name     string
		flags    layers.Dot11Flags
		a4       net.HardwareAddr
		dst, src net.HardwareAddr
		hdrLen   int
	}{
		{"ibss", 0, nil, macA, macB, 24},
		{"from ds", layers.Dot11FlagsFromDS, nil, macA, macC, 24},
		{"to ds", layers.Dot11FlagsToDS, nil, macC, macB, 24},
		{"wds", layers.Dot11FlagsToDS | layers.Dot11FlagsFromDS, macD, macA, macD, 30},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame := append(dataHeader(tc.flags, macA, macB, macC, tc.a4), snap(0x0800)...)
			h, err := ParseHeader(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.hdrLen, h.Len)
			assert.Equal(t, layers.Dot11TypeData, h.Type)
			dst, src := h.EthernetAddrs()
			assert.Equal(t, tc.dst, dst)
			assert.Equal(t, tc.src, src)
		})
	}

	_, err := ParseHeader([]byte{0x08, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestFrameType(t *testing.T) {
	ft, ok := FrameType([]byte{0x80, 0x00})
	assert.True(t, ok)
	assert.Equal(t, layers.Dot11TypeMgmt, ft)

	ft, _ = FrameType([]byte{0xd4, 0x00})
	assert.Equal(t, layers.Dot11TypeCtrl, ft)

	ft, _ = FrameType([]byte{0x88, 0x01})
	assert.Equal(t, layers.Dot11TypeData, ft)

	_, ok = FrameType([]byte{0x08})
	assert.False(t, ok)
}

func TestSNAPEtherType(t *testing.T) {
	et, skip := SNAPEtherType(snap(0x0800))
	assert.Equal(t, uint16(0x0800), et)
	assert.Equal(t, 8, skip)

	bt := append(append([]byte{}, bridgeTunnelHeader...), 0x81, 0x37)
	et, skip = SNAPEtherType(bt)
	assert.Equal(t, uint16(EtherTypeIPX), et)
	assert.Equal(t, 8, skip)

	// IPX behind RFC1042 stays 802.3.
	_, skip = SNAPEtherType(snap(EtherTypeIPX))
	assert.Equal(t, 0, skip)

	_, skip = SNAPEtherType([]byte{0xe0, 0xe0, 0x03, 0, 0, 0, 0, 0})
	assert.Equal(t, 0, skip)

	_, skip = SNAPEtherType([]byte{0xaa})
	assert.Equal(t, 0, skip)
}

func TestConvertMPDU(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x14, 1, 2, 3, 4}
	frame := append(dataHeader(layers.Dot11FlagsFromDS, macA, macB, macC, nil), snap(0x0800)...)
	frame = append(frame, payload...)

	b := loadBuffer(t, 32, frame)
	require.NoError(t, ConvertMPDU(b, 0))

	assert.Equal(t, EthHeaderLen+len(payload), b.Len())
	eth := decodeEthernet(t, b.Data())
	assert.Equal(t, layers.EthernetTypeIPv4, eth.EthernetType)
	assert.Equal(t, macA, eth.DstMAC)
	assert.Equal(t, macC, eth.SrcMAC)
	assert.Equal(t, payload, b.Data()[EthHeaderLen:])
}

func TestConvertMPDU_ReportedHeaderLen(t *testing.T) {
	// QoS data with a 26 byte header, the radio reports the length.
	h := dataHeader(0, macA, macB, macC, nil)
	h[0] = 0x88
	h = append(h, 0x00, 0x00)
	frame := append(h, snap(0x86dd)...)
	frame = append(frame, 0x60, 0, 0, 0)

	b := loadBuffer(t, 32, frame)
	require.NoError(t, ConvertMPDU(b, 26))
	eth := decodeEthernet(t, b.Data())
	assert.Equal(t, layers.EthernetTypeIPv6, eth.EthernetType)
	assert.Equal(t, []byte{0x60, 0, 0, 0}, b.Data()[EthHeaderLen:])

	b = loadBuffer(t, 32, frame)
	assert.ErrorIs(t, ConvertMPDU(b, 200), ErrTruncated)
}

func TestConvertMPDU_NoSNAP(t *testing.T) {
	llc := []byte{0x42, 0x42, 0x03, 1, 2, 3, 4, 5}
	frame := append(dataHeader(0, macA, macB, macC, nil), llc...)

	b := loadBuffer(t, 32, frame)
	require.NoError(t, ConvertMPDU(b, 0))
	assert.Equal(t, uint16(len(llc)), binary.BigEndian.Uint16(b.Data()[12:14]), "802.3 length field")
	assert.Equal(t, llc, b.Data()[EthHeaderLen:])
}

func TestConvertMPDU_ShortBody(t *testing.T) {
	frame := append(dataHeader(0, macA, macB, macC, nil), 0x01, 0x02)

	b := loadBuffer(t, 32, frame)
	require.NoError(t, ConvertMPDU(b, 0))
	require.Equal(t, EthHeaderLen+2, b.Len())
	assert.Equal(t, []byte(macA), b.Data()[0:6])
	assert.Equal(t, []byte(macB), b.Data()[6:12])
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(b.Data()[12:14]))
	assert.Equal(t, []byte{0x01, 0x02}, b.Data()[EthHeaderLen:])

	// A bare header converts to an empty 802.3 frame.
	b = loadBuffer(t, 32, dataHeader(0, macA, macB, macC, nil))
	require.NoError(t, ConvertMPDU(b, 0))
	assert.Equal(t, EthHeaderLen, b.Len())
}

func TestHeaderLen(t *testing.T) {
	tests := []struct {
		name string
		fc   []byte
		want int
	}{
		{"data", []byte{0x08, 0x00}, 24},
		{"data wds", []byte{0x08, 0x03}, 30},
		{"qos data", []byte{0x88, 0x00}, 26},
		{"qos data wds", []byte{0x88, 0x03}, 32},
		{"qos data htc", []byte{0x88, 0x80}, 30},
		{"data order without qos", []byte{0x08, 0x80}, 24},
		{"beacon", []byte{0x80, 0x00}, 24},
		{"beacon htc", []byte{0x80, 0x80}, 28},
		{"ack", []byte{0xd4, 0x00}, 10},
		{"rts", []byte{0xb4, 0x00}, 16},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame := make([]byte, 40)
			copy(frame, tc.fc)
			n, err := HeaderLen(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)

			_, err = HeaderLen(frame[:tc.want-1])
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}

	_, err := HeaderLen([]byte{0x08})
	assert.ErrorIs(t, err, ErrTruncated)
}

func amsduSubframe(dst, src net.HardwareAddr, msdu []byte, pad bool) []byte {
	b := append(append([]byte{}, dst...), src...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(msdu)))
	b = append(b, msdu...)
	for pad && len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func TestSplitAMSDU(t *testing.T) {
	one := append(snap(0x0800), 1, 2, 3)
	two := append(snap(0x0806), 9)
	agg := append(amsduSubframe(macA, macB, one, true), amsduSubframe(macC, macD, two, false)...)

	subs, err := SplitAMSDU(agg)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, macA, subs[0].Dst)
	assert.Equal(t, macB, subs[0].Src)
	assert.Equal(t, one, subs[0].Body)
	assert.Equal(t, macC, subs[1].Dst)
	assert.Equal(t, two, subs[1].Body)

	_, err = SplitAMSDU(agg[:len(agg)-1])
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = SplitAMSDU(agg[:5])
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = SplitAMSDU(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestConvertAMSDU(t *testing.T) {
	alloc := nbuf.NewHeapAllocator(0, nil)
	one := append(snap(0x0800), 1, 2, 3)
	two := append(snap(0x0806), 9)
	three := append(snap(0x86dd), 7, 7)
	agg := amsduSubframe(macA, macB, one, true)
	agg = append(agg, amsduSubframe(macC, macD, two, true)...)
	agg = append(agg, amsduSubframe(macA, macD, three, false)...)

	b := loadBuffer(t, 32, agg)
	frames, err := ConvertAMSDU(b, alloc, 16)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Same(t, b, frames[0], "first sub-frame is converted in place")

	want := []struct {
		dst, src net.HardwareAddr
		et       layers.EthernetType
		payload  []byte
	}{
		{macA, macB, layers.EthernetTypeIPv4, []byte{1, 2, 3}},
		{macC, macD, layers.EthernetTypeARP, []byte{9}},
		{macA, macD, layers.EthernetTypeIPv6, []byte{7, 7}},
	}
	for i, w := range want {
		data := frames[i].Data()
		require.Len(t, data, EthHeaderLen+len(w.payload))
		assert.Equal(t, []byte(w.dst), data[0:6])
		assert.Equal(t, []byte(w.src), data[6:12])
		assert.Equal(t, uint16(w.et), binary.BigEndian.Uint16(data[12:14]))
		assert.Equal(t, w.payload, data[EthHeaderLen:])
	}
	assert.Equal(t, int64(2), alloc.Stats().Allocs)
}

func TestConvertAMSDU_NoMemory(t *testing.T) {
	alloc := nbuf.NewHeapAllocator(0, nil)
	agg := amsduSubframe(macA, macB, append(snap(0x0800), 1), true)
	agg = append(agg, amsduSubframe(macC, macD, append(snap(0x0800), 2), true)...)
	agg = append(agg, amsduSubframe(macC, macD, append(snap(0x0800), 3), false)...)

	// Room for exactly one copy.
	alloc.SetLimit(16 + EthHeaderLen + 1)
	b := loadBuffer(t, 32, agg)
	before := append([]byte{}, b.Data()...)

	_, err := ConvertAMSDU(b, alloc, 16)
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.Equal(t, before, b.Data(), "original buffer untouched")
	s := alloc.Stats()
	assert.Equal(t, int64(1), s.Allocs)
	assert.Equal(t, int64(1), s.Frees)
}

func TestParseBSS(t *testing.T) {
	beacon := []byte{0x80, 0x00, 0, 0}
	beacon = append(beacon, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	beacon = append(beacon, macB...)
	beacon = append(beacon, macB...)
	beacon = append(beacon, 0x00, 0x00)
	// timestamp, interval, capabilities
	beacon = append(beacon, make([]byte, 8)...)
	beacon = append(beacon, 0x64, 0x00, 0x01, 0x04)
	beacon = append(beacon, 0x00, 4, 'h', 'o', 'm', 'e')
	beacon = append(beacon, 0x03, 1, 6)

	bss, ok := ParseBSS(beacon)
	require.True(t, ok)
	assert.Equal(t, "home", bss.SSID)
	assert.Equal(t, uint8(6), bss.Channel)
	assert.Equal(t, macB, bss.BSSID)

	// A probe response carries the same fixed fields, and a truncated trailing
	// element is ignored.
	probe := append([]byte{}, beacon...)
	probe[0] = 0x50
	probe = append(probe, 0xdd, 9, 1)
	bss, ok = ParseBSS(probe)
	require.True(t, ok)
	assert.Equal(t, "home", bss.SSID)
	assert.Equal(t, uint8(6), bss.Channel)

	// Fixed fields cut short.
	_, ok = ParseBSS(beacon[:30])
	assert.False(t, ok)

	frame := append(dataHeader(0, macA, macB, macC, nil), snap(0x0800)...)
	_, ok = ParseBSS(frame)
	assert.False(t, ok)
}
