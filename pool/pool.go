// Package pool describes the static receive buffer pool topology and maps a
// global descriptor id onto the pool that owns it.
package pool

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no configured pool claims a descriptor id.
var ErrNotFound = errors.New("descriptor id not claimed by any pool")

// ErrInvalidTopology is returned when a pool table is not usable.
var ErrInvalidTopology = errors.New("invalid pool topology")

// Info is the static description of one receive buffer pool.
type Info struct {
	ID       int
	BufSize  int
	Headroom int
	NumBufs  int
	// FirstDesc is the first global descriptor id owned by this pool.
	FirstDesc uint32
}

// Contains reports whether descID falls inside this pool's id range.
func (i Info) Contains(descID uint32) bool {
	return descID >= i.FirstDesc && uint64(descID) < uint64(i.FirstDesc)+uint64(i.NumBufs)
}

// AllocSize is the number of bytes each buffer of this pool needs, payload plus headroom.
func (i Info) AllocSize() int {
	return i.BufSize + i.Headroom
}

// Location is the result of resolving a descriptor id.
type Location struct {
	PoolID   int
	BufID    int
	BufSize  int
	Headroom int
}

// Map resolves global descriptor ids to (pool, buffer) pairs.
type Map struct {
	pools []Info
	total int
}

// NewMap validates that the pools are ordered by id and that their descriptor
// ranges are contiguous, starting at 0, and do not overlap.
func NewMap(pools []Info) (*Map, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: no pools configured", ErrInvalidTopology)
	}

	var next uint32
	for i, p := range pools {
		if p.ID != i {
			return nil, fmt.Errorf("%w: pool %d has id %d", ErrInvalidTopology, i, p.ID)
		}
		if p.NumBufs <= 0 {
			return nil, fmt.Errorf("%w: pool %d has no buffers", ErrInvalidTopology, i)
		}
		if p.BufSize <= 0 {
			return nil, fmt.Errorf("%w: pool %d has buffer size %d", ErrInvalidTopology, i, p.BufSize)
		}
		if p.Headroom < 0 {
			return nil, fmt.Errorf("%w: pool %d has negative headroom", ErrInvalidTopology, i)
		}
		if p.FirstDesc != next {
			return nil, fmt.Errorf("%w: pool %d starts at descriptor %d, expected %d", ErrInvalidTopology, i, p.FirstDesc, next)
		}
		next += uint32(p.NumBufs)
	}

	m := &Map{pools: make([]Info, len(pools)), total: int(next)}
	copy(m.pools, pools)
	return m, nil
}

// Resolve returns the location of descID. The pools are scanned in ascending
// id order and the first pool whose range contains descID wins.
func (m *Map) Resolve(descID uint32) (Location, error) {
	for _, p := range m.pools {
		if p.Contains(descID) {
			return Location{
				PoolID:   p.ID,
				BufID:    int(descID - p.FirstDesc),
				BufSize:  p.BufSize,
				Headroom: p.Headroom,
			}, nil
		}
	}

	return Location{}, fmt.Errorf("%w: %d", ErrNotFound, descID)
}

// NumDescriptors is the total number of descriptors across all pools.
func (m *Map) NumDescriptors() int {
	return m.total
}

// Pools returns a copy of the pool table.
func (m *Map) Pools() []Info {
	out := make([]Info, len(m.pools))
	copy(out, m.pools)
	return out
}

// TotalBytes is the memory needed when every descriptor holds a buffer.
func (m *Map) TotalBytes() uint64 {
	var t uint64
	for _, p := range m.pools {
		t += uint64(p.AllocSize()) * uint64(p.NumBufs)
	}
	return t
}
