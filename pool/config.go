package pool

import (
	"fmt"

	"github.com/umacif/rxpath/config"
)

// DefaultHeadroom is reserved in front of every receive buffer when neither
// the pool nor rx.headroom say otherwise.
const DefaultHeadroom = 64

// NewMapFromConfig builds the pool table from rx.pools. Descriptor ids are
// handed out contiguously in the order the pools are listed.
func NewMapFromConfig(c *config.C) (*Map, error) {
	raw, err := c.GetMapSlice("rx.pools")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: rx.pools must list at least one pool", ErrInvalidTopology)
	}

	defHeadroom := c.GetInt("rx.headroom", DefaultHeadroom)
	pools := make([]Info, len(raw))
	var first uint32
	for i, m := range raw {
		bufSize, ok := config.AsInt(m["buf_size"])
		if !ok {
			return nil, fmt.Errorf("rx.pools[%d].buf_size must be an integer, got %v", i, m["buf_size"])
		}
		numBufs, ok := config.AsInt(m["num_bufs"])
		if !ok {
			return nil, fmt.Errorf("rx.pools[%d].num_bufs must be an integer, got %v", i, m["num_bufs"])
		}
		headroom := defHeadroom
		if v, set := m["headroom"]; set {
			headroom, ok = config.AsInt(v)
			if !ok {
				return nil, fmt.Errorf("rx.pools[%d].headroom must be an integer, got %v", i, v)
			}
		}

		pools[i] = Info{
			ID:        i,
			BufSize:   bufSize,
			Headroom:  headroom,
			NumBufs:   numBufs,
			FirstDesc: first,
		}
		if numBufs > 0 {
			first += uint32(numBufs)
		}
	}

	return NewMap(pools)
}
