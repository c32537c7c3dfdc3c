package test

import (
	"sync"

	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/rxevent"
)

type Sniffed struct {
	Buf *nbuf.Buffer
	Hdr rxevent.Radio
	Raw bool
}

type Scan struct {
	// Frame is a copy, the buffer itself is only lent to the sink.
	Frame     []byte
	Frequency uint16
	Signal    int16
}

// Sink records every call an interface receives.
type Sink struct {
	sync.Mutex
	RSSI    []int16
	Frames  []*nbuf.Buffer
	Scans   []Scan
	Sniffed []Sniffed
}

func (s *Sink) OnRSSI(signal int16) {
	s.Lock()
	defer s.Unlock()
	s.RSSI = append(s.RSSI, signal)
}

func (s *Sink) OnFrame(buf *nbuf.Buffer) {
	s.Lock()
	defer s.Unlock()
	s.Frames = append(s.Frames, buf)
}

func (s *Sink) OnBeaconOrProbe(buf *nbuf.Buffer, frequency uint16, signal int16) {
	s.Lock()
	defer s.Unlock()
	s.Scans = append(s.Scans, Scan{Frame: append([]byte{}, buf.Data()...), Frequency: frequency, Signal: signal})
}

func (s *Sink) OnSniffed(buf *nbuf.Buffer, hdr rxevent.Radio, raw bool) {
	s.Lock()
	defer s.Unlock()
	s.Sniffed = append(s.Sniffed, Sniffed{Buf: buf, Hdr: hdr, Raw: raw})
}

// Delivered is the number of buffers the sink took ownership of.
func (s *Sink) Delivered() int {
	s.Lock()
	defer s.Unlock()
	return len(s.Frames) + len(s.Sniffed)
}
