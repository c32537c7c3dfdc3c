package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/ieee80211"
	"github.com/umacif/rxpath/rxevent"
)

const (
	rateFlagHT  uint8 = 1 << 0
	rateFlagVHT uint8 = 1 << 1

	radiotapMinLen = 8
	fcsLen         = 4
)

type replayConfig struct {
	pcap      string
	framesOut string
	sniffOut  string
	batch     int
	vif       int
}

func replayConfigFrom(c *config.C) replayConfig {
	rc := replayConfig{
		pcap:      c.GetString("replay.pcap", ""),
		framesOut: c.GetString("replay.frames_out", ""),
		sniffOut:  c.GetString("replay.sniff_out", ""),
		batch:     c.GetInt("replay.batch", 8),
		vif:       c.GetInt("replay.interface", 0),
	}
	if rc.batch < 1 {
		rc.batch = 1
	}
	return rc
}

type replayStats struct {
	read    int64
	bytes   int64
	skipped int64
	dropped int64
	batches int64
}

// replayer feeds 802.11 captures through a simulated radio into the receive
// path, the way the radio reports completed receptions.
type replayer struct {
	l     *logrus.Logger
	ctrl  *rxpath.Control
	sim   *hal.Sim
	batch int
	vif   int
}

func (r *replayer) run(ctx context.Context, src io.Reader) (replayStats, error) {
	var st replayStats

	rd, err := pcapgo.NewReader(src)
	if err != nil {
		return st, err
	}

	lt := rd.LinkType()
	if lt != layers.LinkTypeIEEE802_11 && lt != layers.LinkTypeIEEE80211Radio {
		return st, fmt.Errorf("unsupported capture link type %s, need 802.11 with or without radiotap", lt)
	}

	var pending []rxevent.Entry
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		b := &rxevent.Batch{Entries: pending}
		pending = nil
		st.batches++

		err := r.ctrl.HandleEvent(b)
		if errors.Is(err, rxpath.ErrQueueFull) {
			if err := r.ctrl.Drain(ctx); err != nil {
				return err
			}
			err = r.ctrl.HandleEvent(b)
		}
		if errors.Is(err, rxpath.ErrQueueFull) {
			return err
		}
		// Entry failures were logged by the receive path.
		return nil
	}

	for ctx.Err() == nil {
		data, _, err := rd.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		st.read++

		frame, radio, ok := decodeRadio(lt, data)
		if !ok {
			st.skipped++
			continue
		}

		id, err := r.sim.Receive(frame)
		if errors.Is(err, hal.ErrNoRxSlots) {
			// Out of armed buffers, let the receive path catch up once.
			if err := flush(); err != nil {
				return st, err
			}
			if err := r.ctrl.Drain(ctx); err != nil {
				return st, err
			}
			id, err = r.sim.Receive(frame)
		}
		if err != nil {
			r.l.WithError(err).WithField("len", len(frame)).Debug("Dropping replayed frame")
			st.dropped++
			continue
		}

		e := entryFor(frame)
		e.DescID = id
		e.Len = len(frame)
		e.VifID = r.vif
		e.Radio = radio
		pending = append(pending, e)
		st.bytes += int64(len(frame))

		if len(pending) >= r.batch {
			if err := flush(); err != nil {
				return st, err
			}
		}
	}

	if err := flush(); err != nil {
		return st, err
	}
	return st, r.ctrl.Drain(ctx)
}

// decodeRadio strips a radiotap header when present and returns the 802.11
// frame along with what the radio would have reported for it.
func decodeRadio(lt layers.LinkType, data []byte) ([]byte, rxevent.Radio, bool) {
	if lt != layers.LinkTypeIEEE80211Radio {
		return data, rxevent.Radio{}, len(data) > 0
	}

	// RadioTap decoding slices past its declared length without checking.
	if len(data) < radiotapMinLen || int(binary.LittleEndian.Uint16(data[2:4])) > len(data) {
		return nil, rxevent.Radio{}, false
	}

	var rt layers.RadioTap
	if err := rt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, rxevent.Radio{}, false
	}

	// The decoded payload always ends in an FCS, the captured one or one the
	// decoder computed. The radio never hands an FCS to the host.
	frame := rt.Payload
	if len(frame) <= fcsLen {
		return nil, rxevent.Radio{}, false
	}
	frame = frame[:len(frame)-fcsLen]

	radio := rxevent.Radio{
		Signal:    int16(rt.DBMAntennaSignal),
		Frequency: uint16(rt.ChannelFrequency),
		Rate:      uint16(rt.Rate),
	}
	if rt.Present.MCS() {
		radio.RateFlags |= rateFlagHT
	}
	if rt.Present.VHT() {
		radio.RateFlags |= rateFlagVHT
	}

	return frame, radio, true
}

// entryFor classifies a frame the way the radio firmware does. Beacons and
// probe responses are scan results, data frames arrive as MPDUs, the rest is
// only of interest to monitor interfaces.
func entryFor(frame []byte) rxevent.Entry {
	if len(frame) == 0 {
		return rxevent.Entry{PacketType: rxevent.PacketRaw}
	}

	t := layers.Dot11Type(frame[0] >> 2)
	switch {
	case t == layers.Dot11TypeMgmtBeacon || t == layers.Dot11TypeMgmtProbeResp:
		return rxevent.Entry{PacketType: rxevent.PacketBeaconProbeResp}
	case t.MainType() == layers.Dot11TypeData:
		e := rxevent.Entry{PacketType: rxevent.PacketData, Encap: rxevent.EncapMPDU}
		if h, err := ieee80211.ParseHeader(frame); err == nil {
			e.MACHeaderLen = h.Len
		}
		return e
	}
	return rxevent.Entry{PacketType: rxevent.PacketRaw}
}
