// Package filter decides which frames a promiscuous or monitor interface
// passes up to the sniffer.
package filter

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/umacif/rxpath/ieee80211"
)

// Filter is a bit set of accepted frame classes.
type Filter uint8

const (
	All Filter = 1 << iota
	Mgmt
	Data
	Ctrl
)

var names = []struct {
	name string
	f    Filter
}{
	{"all", All},
	{"mgmt", Mgmt},
	{"data", Data},
	{"ctrl", Ctrl},
}

// Parse builds a filter from names such as "mgmt" or "data".
func Parse(in []string) (Filter, error) {
	var f Filter
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		found := false
		for _, n := range names {
			if n.name == s {
				f |= n.f
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown packet filter %q, possible values: all, mgmt, data, ctrl", s)
		}
	}
	return f, nil
}

func (f Filter) String() string {
	var parts []string
	for _, n := range names {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Allows checks the frame control field at the start of frame against f.
func (f Filter) Allows(frame []byte) bool {
	if f&All != 0 {
		return true
	}

	t, ok := ieee80211.FrameType(frame)
	if !ok {
		return false
	}

	switch t {
	case layers.Dot11TypeMgmt:
		return f&Mgmt != 0
	case layers.Dot11TypeCtrl:
		return f&Ctrl != 0
	case layers.Dot11TypeData:
		return f&Data != 0
	}
	return false
}
