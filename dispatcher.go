package rxpath

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/ieee80211"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/rxevent"
	"github.com/umacif/rxpath/util"
)

// Features selects which receive handlers are active.
type Features struct {
	// Station converts data frames to Ethernet and delivers them.
	Station bool
	// RawScanResults hands beacons and probe responses to the interface.
	RawScanResults bool
	// Promiscuous enables data frame sniffing and the interface filters.
	Promiscuous bool
	// RawCapture accepts raw (monitor) packets. Implied by Promiscuous.
	RawCapture bool
}

func FeaturesFromConfig(c *config.C) Features {
	return Features{
		Station:        c.GetBool("rx.features.station", true),
		RawScanResults: c.GetBool("rx.features.raw_scan_results", false),
		Promiscuous:    c.GetBool("rx.features.promiscuous", false),
		RawCapture:     c.GetBool("rx.features.raw_capture", false),
	}
}

// EntryResult is the outcome of one batch entry.
type EntryResult struct {
	DescID uint32
	// Delivered is the number of buffers handed to the interface, sniffed
	// copies included.
	Delivered int
	// Rearmed is true when the descriptor was handed back to the radio.
	Rearmed bool
	Err     error
}

// Report is the outcome of one batch.
type Report struct {
	Entries []EntryResult
	Failed  int
}

// Err joins the errors of every failed entry.
func (r *Report) Err() error {
	var errs []error
	for _, e := range r.Entries {
		if e.Err != nil {
			errs = append(errs, e.Err)
		}
	}
	return errors.Join(errs...)
}

type rxContext struct {
	entry *rxevent.Entry
	loc   pool.Location
	vif   *Vif
	buf   *nbuf.Buffer
}

// rxHandler consumes ctx.buf on every path and returns how many buffers it
// delivered.
type rxHandler func(ctx *rxContext) (int, error)

// Dispatcher walks completed receptions, hands their buffers upward and gives
// every descriptor a fresh buffer.
type Dispatcher struct {
	l        *logrus.Logger
	pools    *pool.Map
	table    *descriptor.Table
	link     hal.Link
	alloc    nbuf.Allocator
	cmd      *Commander
	vifs     *vifTable
	features Features
	handlers map[rxevent.PacketType]rxHandler
	metrics  *rxMetrics
}

func newDispatcher(l *logrus.Logger, pools *pool.Map, table *descriptor.Table, link hal.Link, alloc nbuf.Allocator,
	cmd *Commander, vifs *vifTable, f Features, m *rxMetrics) *Dispatcher {

	d := &Dispatcher{
		l:        l,
		pools:    pools,
		table:    table,
		link:     link,
		alloc:    alloc,
		cmd:      cmd,
		vifs:     vifs,
		features: f,
		metrics:  m,
	}

	d.handlers = map[rxevent.PacketType]rxHandler{
		rxevent.PacketData:            d.handleData,
		rxevent.PacketBeaconProbeResp: d.handleBeacon,
	}
	if f.RawCapture || f.Promiscuous {
		d.handlers[rxevent.PacketRaw] = d.handleRaw
	}

	return d
}

// Process handles every entry of b. A failing entry never stops the others,
// the returned error is non nil when at least one entry failed. The caller
// must hold the link guard.
func (d *Dispatcher) Process(b *rxevent.Batch) (*Report, error) {
	r := &Report{Entries: make([]EntryResult, 0, len(b.Entries))}

	for i := range b.Entries {
		res := d.processEntry(&b.Entries[i])
		if res.Err != nil {
			r.Failed++
			d.metrics.Error(res.Err)
			util.LogWithContextIfNeeded("Failed to process RX entry", res.Err, d.l)
		}
		r.Entries = append(r.Entries, res)
	}

	d.metrics.mapped.Update(int64(d.table.MappedCount()))
	return r, r.Err()
}

func (d *Dispatcher) processEntry(e *rxevent.Entry) EntryResult {
	d.metrics.entries.Inc(1)
	res := EntryResult{DescID: e.DescID}
	fields := logrus.Fields{"descId": e.DescID, "pktType": e.PacketType, "vifId": e.VifID}

	if int(e.DescID) >= d.pools.NumDescriptors() {
		res.Err = util.NewContextualError("Invalid descriptor id",
			fields, fmt.Errorf("%w: %d of %d", ErrInvalidDescriptor, e.DescID, d.pools.NumDescriptors()))
		return res
	}

	loc, err := d.pools.Resolve(e.DescID)
	if err != nil {
		res.Err = util.NewContextualError("Failed to map descriptor to a pool", fields, err)
		return res
	}
	fields["poolId"] = loc.PoolID
	fields["bufId"] = loc.BufID

	if _, err := d.link.UnmapRx(loc.PoolID, loc.BufID, e.Len); err != nil {
		res.Err = util.NewContextualError("Failed to unmap RX buffer",
			fields, fmt.Errorf("%w: %w", descriptor.ErrUnmapFailed, err))
		return res
	}

	buf, err := d.table.Detach(e.DescID)
	if err != nil {
		// The radio completed a descriptor we never handed out, there is no
		// buffer to deliver and nothing consistent to re-arm.
		res.Err = util.NewContextualError("Completed descriptor is not mapped", fields, err)
		return res
	}

	res.Delivered, res.Err = d.classify(e, loc, buf, fields)

	if err := d.cmd.Send(CmdInit, e.DescID); err != nil {
		res.Err = errors.Join(res.Err,
			util.NewContextualError("Failed to re-arm RX descriptor", fields, fmt.Errorf("%w: %w", ErrRearmFailed, err)))
	} else {
		res.Rearmed = true
		d.metrics.rearm.Inc(1)
	}

	return res
}

// classify owns buf and either delivers or releases it.
func (d *Dispatcher) classify(e *rxevent.Entry, loc pool.Location, buf *nbuf.Buffer, fields logrus.Fields) (int, error) {
	if err := d.window(buf, e.Len, loc.Headroom); err != nil {
		d.release(buf)
		return 0, util.NewContextualError("RX length does not fit the buffer", fields, err)
	}

	vif := d.vifs.get(e.VifID)
	if vif == nil {
		d.release(buf)
		return 0, util.NewContextualError("RX entry for unknown interface",
			fields, fmt.Errorf("%w: %d", ErrUnknownInterface, e.VifID))
	}

	if e.PacketType != rxevent.PacketRaw {
		vif.sink.OnRSSI(e.Radio.Signal)
	}

	h, ok := d.handlers[e.PacketType]
	if !ok {
		d.release(buf)
		return 0, util.NewContextualError("Unsupported RX packet type",
			fields, fmt.Errorf("%w: %s", ErrInvalidPacketType, e.PacketType))
	}

	n, err := h(&rxContext{entry: e, loc: loc, vif: vif, buf: buf})
	if err != nil {
		return n, util.NewContextualError("RX frame dropped", fields, err)
	}
	return n, nil
}

// window narrows buf to the received payload, which the radio wrote right
// after the headroom.
func (d *Dispatcher) window(buf *nbuf.Buffer, pktLen, headroom int) error {
	buf.Reset()
	if _, err := buf.Put(pktLen + headroom); err != nil {
		return err
	}
	return buf.Pull(headroom)
}

func (d *Dispatcher) release(buf *nbuf.Buffer) {
	d.alloc.Free(buf)
	d.metrics.released.Inc(1)
}

func (d *Dispatcher) handleData(ctx *rxContext) (int, error) {
	delivered := 0
	if d.features.Promiscuous && ctx.vif.Promiscuous() && ctx.vif.Filter().Allows(ctx.buf.Data()) {
		if cp := nbuf.Copy(d.alloc, ctx.buf.Data(), 0); cp != nil {
			ctx.vif.sink.OnSniffed(cp, ctx.entry.Radio, false)
			d.metrics.sniffed.Inc(1)
			delivered++
		} else {
			d.l.WithField("descId", ctx.entry.DescID).WithField("len", ctx.buf.Len()).
				Warn("Out of memory for a sniffed copy")
		}
	}

	if !d.features.Station {
		d.release(ctx.buf)
		return delivered, nil
	}

	var frames []*nbuf.Buffer
	var err error
	switch ctx.entry.Encap {
	case rxevent.EncapMPDU:
		err = ieee80211.ConvertMPDU(ctx.buf, ctx.entry.MACHeaderLen)
		frames = []*nbuf.Buffer{ctx.buf}

	case rxevent.EncapAMSDUWithMAC:
		hdrLen := ctx.entry.MACHeaderLen
		if hdrLen == 0 {
			var h *ieee80211.Header
			if h, err = ieee80211.ParseHeader(ctx.buf.Data()); err == nil {
				hdrLen = h.Len
			}
		}
		if err == nil {
			err = ctx.buf.Pull(hdrLen)
		}
		if err == nil {
			frames, err = ieee80211.ConvertAMSDU(ctx.buf, d.alloc, ctx.loc.Headroom)
		}

	case rxevent.EncapAMSDU:
		frames, err = ieee80211.ConvertAMSDU(ctx.buf, d.alloc, ctx.loc.Headroom)

	default:
		err = fmt.Errorf("%w: %s", ErrInvalidEncapsulation, ctx.entry.Encap)
	}

	if err != nil {
		d.release(ctx.buf)
		return delivered, err
	}

	for _, f := range frames {
		ctx.vif.sink.OnFrame(f)
	}
	d.metrics.frames.Inc(int64(len(frames)))
	return delivered + len(frames), nil
}

func (d *Dispatcher) handleBeacon(ctx *rxContext) (int, error) {
	delivered := 0
	if d.features.RawScanResults {
		ctx.vif.sink.OnBeaconOrProbe(ctx.buf, ctx.entry.Radio.Frequency, ctx.entry.Radio.Signal)
		d.metrics.beacons.Inc(1)
		delivered++
	}
	d.release(ctx.buf)
	return delivered, nil
}

func (d *Dispatcher) handleRaw(ctx *rxContext) (int, error) {
	if d.features.Promiscuous && !ctx.vif.Filter().Allows(ctx.buf.Data()) {
		d.release(ctx.buf)
		return 0, nil
	}

	ctx.vif.sink.OnSniffed(ctx.buf, ctx.entry.Radio, true)
	d.metrics.sniffed.Inc(1)
	return 1, nil
}
