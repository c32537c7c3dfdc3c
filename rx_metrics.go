package rxpath

import (
	"errors"
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/ieee80211"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrInvalidDescriptor, "invalid_descriptor"},
	{pool.ErrNotFound, "pool_resolution"},
	{descriptor.ErrUnmapFailed, "unmap"},
	{descriptor.ErrNotMapped, "not_mapped"},
	{nbuf.ErrOutOfBounds, "bounds"},
	{ErrUnknownInterface, "unknown_vif"},
	{ErrInvalidEncapsulation, "invalid_encap"},
	{ErrInvalidPacketType, "invalid_packet_type"},
	{ieee80211.ErrTruncated, "truncated"},
	{ieee80211.ErrNoMemory, "no_memory"},
	{ErrRearmFailed, "rearm"},
}

type rxMetrics struct {
	entries  metrics.Counter
	frames   metrics.Counter
	sniffed  metrics.Counter
	beacons  metrics.Counter
	released metrics.Counter
	rearm    metrics.Counter

	errs      []metrics.Counter
	errsOther metrics.Counter

	mapped  metrics.Gauge
	pending metrics.Gauge
}

func newRxMetrics(r metrics.Registry) *rxMetrics {
	if r == nil {
		r = metrics.NewRegistry()
	}

	m := &rxMetrics{
		entries:   metrics.GetOrRegisterCounter("rx.entries", r),
		frames:    metrics.GetOrRegisterCounter("rx.frames", r),
		sniffed:   metrics.GetOrRegisterCounter("rx.sniffed", r),
		beacons:   metrics.GetOrRegisterCounter("rx.beacons", r),
		released:  metrics.GetOrRegisterCounter("rx.released", r),
		rearm:     metrics.GetOrRegisterCounter("rx.rearm", r),
		errsOther: metrics.GetOrRegisterCounter("rx.errors.other", r),
		mapped:    metrics.GetOrRegisterGauge("rx.descriptors.mapped", r),
		pending:   metrics.GetOrRegisterGauge("rx.tasklet.pending", r),
	}
	for _, k := range errorKinds {
		m.errs = append(m.errs, metrics.GetOrRegisterCounter(fmt.Sprintf("rx.errors.%s", k.name), r))
	}
	return m
}

// Error counts err under every kind it wraps. An entry may carry more than one,
// a failed conversion followed by a failed re-arm for example.
func (m *rxMetrics) Error(err error) {
	if m == nil || err == nil {
		return
	}

	matched := false
	for i, k := range errorKinds {
		if errors.Is(err, k.err) {
			m.errs[i].Inc(1)
			matched = true
		}
	}
	if !matched {
		m.errsOther.Inc(1)
	}
}
