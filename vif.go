package rxpath

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/filter"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/rxevent"
)

// RawHeader is the radio metadata handed along with sniffed frames.
type RawHeader = rxevent.Radio

// Sink is the upper layer of a virtual interface. The receive path calls it
// with the link guard held, implementations must not block.
type Sink interface {
	// OnRSSI reports the signal of every non raw reception.
	OnRSSI(signal int16)
	// OnFrame hands over a converted Ethernet frame. The sink owns buf.
	OnFrame(buf *nbuf.Buffer)
	// OnBeaconOrProbe reports a scan result. buf is only borrowed for the
	// duration of the call.
	OnBeaconOrProbe(buf *nbuf.Buffer, frequency uint16, signal int16)
	// OnSniffed hands over a captured frame, raw is false for copies of data
	// frames taken in promiscuous mode. The sink owns buf.
	OnSniffed(buf *nbuf.Buffer, hdr RawHeader, raw bool)
}

// Vif is a virtual interface as seen by the receive path.
type Vif struct {
	ID   int
	sink Sink

	promiscuous atomic.Bool
	filter      atomic.Uint32
}

func newVif(id int, sink Sink) *Vif {
	v := &Vif{ID: id, sink: sink}
	v.filter.Store(uint32(filter.All))
	return v
}

func (v *Vif) Promiscuous() bool {
	return v.promiscuous.Load()
}

func (v *Vif) SetPromiscuous(on bool) {
	v.promiscuous.Store(on)
}

func (v *Vif) Filter() filter.Filter {
	return filter.Filter(v.filter.Load())
}

func (v *Vif) SetFilter(f filter.Filter) {
	v.filter.Store(uint32(f))
}

type vifSettings struct {
	promiscuous bool
	filter      filter.Filter
}

// vifTable holds the registered interfaces and the per interface settings
// from config. Settings may exist for ids that were not registered yet.
type vifTable struct {
	l *logrus.Logger

	sync.RWMutex
	vifs     map[int]*Vif
	settings map[int]vifSettings
}

func newVifTableFromConfig(l *logrus.Logger, c *config.C) (*vifTable, error) {
	t := &vifTable{
		l:    l,
		vifs: make(map[int]*Vif),
	}

	if err := t.reload(c, true); err != nil {
		return nil, err
	}

	c.RegisterReloadCallback(func(c *config.C) {
		if err := t.reload(c, false); err != nil {
			l.WithError(err).Error("Failed to reload interfaces")
		}
	})

	return t, nil
}

func (t *vifTable) reload(c *config.C, initial bool) error {
	if !initial && !c.HasChanged("interfaces") {
		return nil
	}

	settings, err := parseVifSettings(c)
	if err != nil {
		return err
	}

	t.Lock()
	defer t.Unlock()
	t.settings = settings
	for id, v := range t.vifs {
		t.apply(v, t.settingsFor(id))
	}

	if !initial {
		t.l.WithField("interfaces", len(settings)).Info("Interface settings reloaded")
	}
	return nil
}

func parseVifSettings(c *config.C) (map[int]vifSettings, error) {
	raw, err := c.GetMapSlice("interfaces")
	if err != nil {
		return nil, err
	}

	out := make(map[int]vifSettings, len(raw))
	for i, m := range raw {
		id, ok := config.AsInt(m["id"])
		if !ok || id < 0 {
			return nil, fmt.Errorf("interfaces[%d].id must be a non negative integer, got %v", i, m["id"])
		}
		if _, ok := out[id]; ok {
			return nil, fmt.Errorf("interfaces[%d].id %d is configured more than once", i, id)
		}

		s := vifSettings{filter: filter.All}
		if v, ok := m["promiscuous"]; ok {
			if s.promiscuous, ok = config.AsBool(v); !ok {
				return nil, fmt.Errorf("interfaces[%d].promiscuous must be a boolean, got %v", i, v)
			}
		}
		if v, ok := m["filter"]; ok {
			names, err := toStrings(v)
			if err != nil {
				return nil, fmt.Errorf("interfaces[%d].filter: %w", i, err)
			}
			if s.filter, err = filter.Parse(names); err != nil {
				return nil, fmt.Errorf("interfaces[%d].filter: %w", i, err)
			}
		}
		out[id] = s
	}
	return out, nil
}

func toStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or a list, got %T", v)
}

// settingsFor must be called with the lock held. Interfaces without config
// are not promiscuous and accept everything.
func (t *vifTable) settingsFor(id int) vifSettings {
	if s, ok := t.settings[id]; ok {
		return s
	}
	return vifSettings{filter: filter.All}
}

func (t *vifTable) apply(v *Vif, s vifSettings) {
	v.SetPromiscuous(s.promiscuous)
	v.SetFilter(s.filter)
}

func (t *vifTable) add(id int, sink Sink) *Vif {
	v := newVif(id, sink)
	t.Lock()
	defer t.Unlock()
	t.apply(v, t.settingsFor(id))
	t.vifs[id] = v
	return v
}

func (t *vifTable) remove(id int) bool {
	t.Lock()
	defer t.Unlock()
	_, ok := t.vifs[id]
	delete(t.vifs, id)
	return ok
}

func (t *vifTable) get(id int) *Vif {
	t.RLock()
	defer t.RUnlock()
	return t.vifs[id]
}
