package main

import (
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath"
	"github.com/umacif/rxpath/ieee80211"
	"github.com/umacif/rxpath/nbuf"
)

type packet struct {
	w    *pcapgo.Writer
	ci   gopacket.CaptureInfo
	data []byte
}

// captureSink is the interface the replayed traffic is delivered to. Frames
// and sniffed packets are copied, their buffers freed right away and the
// copies written out by run.
type captureSink struct {
	l     *logrus.Logger
	alloc nbuf.Allocator

	// Either may be nil to discard.
	frames *pcapgo.Writer
	sniff  *pcapgo.Writer

	mu     sync.Mutex
	closed bool
	queue  chan packet
	bss    map[string]ieee80211.BSS

	rssi    metrics.Histogram
	written metrics.Counter
	bytes   metrics.Counter
}

func newCaptureSink(l *logrus.Logger, alloc nbuf.Allocator, frames, sniff *pcapgo.Writer, r metrics.Registry) *captureSink {
	return &captureSink{
		l:       l,
		alloc:   alloc,
		frames:  frames,
		sniff:   sniff,
		queue:   make(chan packet, 256),
		bss:     make(map[string]ieee80211.BSS),
		rssi:    metrics.GetOrRegisterHistogram("replay.rssi", r, metrics.NewUniformSample(1028)),
		written: metrics.GetOrRegisterCounter("replay.written", r),
		bytes:   metrics.GetOrRegisterCounter("replay.bytes", r),
	}
}

func (s *captureSink) OnRSSI(signal int16) {
	s.rssi.Update(int64(signal))
}

func (s *captureSink) OnFrame(buf *nbuf.Buffer) {
	s.write(s.frames, buf)
}

func (s *captureSink) OnSniffed(buf *nbuf.Buffer, _ rxpath.RawHeader, _ bool) {
	s.write(s.sniff, buf)
}

func (s *captureSink) OnBeaconOrProbe(buf *nbuf.Buffer, frequency uint16, signal int16) {
	bss, ok := ieee80211.ParseBSS(buf.Data())
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := bss.BSSID.String()
	if prev, seen := s.bss[key]; seen && prev.SSID == bss.SSID {
		return
	}
	s.bss[key] = bss

	s.l.WithField("bssid", key).
		WithField("ssid", bss.SSID).
		WithField("channel", bss.Channel).
		WithField("frequency", frequency).
		WithField("signal", signal).
		Info("Found BSS")
}

func (s *captureSink) write(w *pcapgo.Writer, buf *nbuf.Buffer) {
	defer s.alloc.Free(buf)
	if w == nil {
		return
	}

	data := append([]byte(nil), buf.Data()...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue <- packet{
		w:    w,
		data: data,
		ci: gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(data),
			Length:        len(data),
		},
	}
}

// run writes queued packets until close is called. After the first write
// error the rest is drained without writing and the error returned.
func (s *captureSink) run() error {
	var err error
	for p := range s.queue {
		if err != nil {
			continue
		}
		if err = p.w.WritePacket(p.ci, p.data); err == nil {
			s.written.Inc(1)
			s.bytes.Inc(int64(len(p.data)))
		}
	}
	return err
}

func (s *captureSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// networks returns every BSS seen so far.
func (s *captureSink) networks() []ieee80211.BSS {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ieee80211.BSS, 0, len(s.bss))
	for _, b := range s.bss {
		out = append(out, b)
	}
	return out
}
