package rxpath

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/rxevent"
	"github.com/umacif/rxpath/test"
)

// Two small and two large buffers, descriptors 0-1 and 2-3.
const baseConfig = `
rx:
  headroom: 32
  deferred: false
  pools:
    - buf_size: 256
      num_bufs: 2
    - buf_size: 1600
      num_bufs: 2
  features:
    station: true
    raw_scan_results: true
interfaces:
  - id: 0
`

var (
	macSTA = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	macAP  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	macSrc = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x03}
	macDst = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x04}

	rfc1042 = []byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00}
)

type rxFixture struct {
	ctrl  *Control
	sim   *hal.Sim
	alloc *nbuf.HeapAllocator
	sink  *test.Sink
	reg   metrics.Registry
	c     *config.C
}

func newFixture(t *testing.T, yml string) *rxFixture {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(yml))

	pools, err := pool.NewMapFromConfig(c)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	f := &rxFixture{
		sim:   hal.NewSim(l, pools),
		alloc: nbuf.NewHeapAllocator(0, reg),
		sink:  &test.Sink{},
		reg:   reg,
		c:     c,
	}

	f.ctrl, err = newControl(l, c, f.sim, f.alloc, reg)
	require.NoError(t, err)
	f.ctrl.AddInterface(0, f.sink)
	return f
}

// newStartedFixture brings every descriptor up before returning.
func newStartedFixture(t *testing.T, yml string) *rxFixture {
	f := newFixture(t, yml)
	require.NoError(t, f.ctrl.Start())
	t.Cleanup(func() {
		_ = f.ctrl.Stop()
	})
	return f
}

// receive lets the simulated radio write frame into an armed buffer and
// returns the matching completion entry.
func (f *rxFixture) receive(t *testing.T, frame []byte, e rxevent.Entry) rxevent.Entry {
	id, err := f.sim.Receive(frame)
	require.NoError(t, err)
	e.DescID = id
	e.Len = len(frame)
	return e
}

func (f *rxFixture) process(entries ...rxevent.Entry) (*Report, error) {
	f.sim.Lock()
	defer f.sim.Unlock()
	return f.ctrl.dispatcher.Process(&rxevent.Batch{Entries: entries})
}

func (f *rxFixture) counter(name string) int64 {
	c, ok := f.reg.Get(name).(metrics.Counter)
	if !ok {
		return 0
	}
	return c.Count()
}

// dataFrame is a data frame from the AP carrying an LLC/SNAP encapsulated
// payload from macSrc to macSTA, as the radio hands it over (no FCS).
func dataFrame(etherType uint16, payload []byte) []byte {
	b := []byte{0x08, byte(layers.Dot11FlagsFromDS), 0x00, 0x00}
	b = append(b, macSTA...)
	b = append(b, macAP...)
	b = append(b, macSrc...)
	b = append(b, 0x10, 0x00)
	b = append(b, rfc1042...)
	b = binary.BigEndian.AppendUint16(b, etherType)
	return append(b, payload...)
}

// dataHeader is the MAC header of dataFrame, used in front of aggregates.
func dataHeader() []byte {
	b := []byte{0x08, byte(layers.Dot11FlagsFromDS), 0x00, 0x00}
	b = append(b, macSTA...)
	b = append(b, macAP...)
	b = append(b, macAP...)
	return append(b, 0x10, 0x00)
}

func beaconFrame(ssid string) []byte {
	b := []byte{0x80, 0x00, 0x00, 0x00}
	b = append(b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	b = append(b, macAP...)
	b = append(b, macAP...)
	b = append(b, 0x00, 0x00)
	b = append(b, make([]byte, 8)...)
	b = append(b, 0x64, 0x00, 0x01, 0x04)
	b = append(b, 0x00, byte(len(ssid)))
	b = append(b, ssid...)
	return append(b, 0x03, 0x01, 0x06)
}

// amsdu builds an aggregate of one sub-frame per payload, each sent from
// macSrc to macDst with an IPv4 ethertype.
func amsdu(payloads ...[]byte) []byte {
	var b []byte
	for i, p := range payloads {
		msdu := append(append([]byte{}, rfc1042...), 0x08, 0x00)
		msdu = append(msdu, p...)

		b = append(b, macDst...)
		b = append(b, macSrc...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(msdu)))
		b = append(b, msdu...)
		for i < len(payloads)-1 && len(b)%4 != 0 {
			b = append(b, 0)
		}
	}
	return b
}

func decodeEthernet(t *testing.T, frame []byte) *layers.Ethernet {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok, "delivered frame must decode as ethernet")
	return eth
}
