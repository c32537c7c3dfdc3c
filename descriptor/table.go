// Package descriptor keeps the per descriptor receive buffer state: which
// buffer a descriptor owns and whether that buffer is currently mapped for
// device writes.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
)

var (
	ErrAlreadyMapped = errors.New("descriptor already mapped")
	ErrNotMapped     = errors.New("descriptor not mapped")
	ErrOutOfMemory   = errors.New("no memory for rx buffer")
	ErrMapFailed     = errors.New("hardware map failed")
	ErrUnmapFailed   = errors.New("hardware unmap failed")
	ErrOutOfRange    = errors.New("descriptor id out of range")
)

// Mapper is the part of the hardware link the table needs.
type Mapper interface {
	MapRx(poolID, bufID int, mem []byte) (hal.PhysAddr, error)
	UnmapRx(poolID, bufID int, pktLen int) ([]byte, error)
}

type entry struct {
	buf    *nbuf.Buffer
	mapped bool
}

// Table is an arena of descriptor entries indexed by descriptor id. It is not
// safe for concurrent use, callers hold the hardware guard.
type Table struct {
	entries []entry
	// owners maps a buffer back to the descriptor it was allocated for.
	owners map[*nbuf.Buffer]uint32
	mapper Mapper
	alloc  nbuf.Allocator
}

func NewTable(size int, mapper Mapper, alloc nbuf.Allocator) *Table {
	return &Table{
		entries: make([]entry, size),
		owners:  make(map[*nbuf.Buffer]uint32, size),
		mapper:  mapper,
		alloc:   alloc,
	}
}

func (t *Table) Len() int {
	return len(t.entries)
}

func (t *Table) entry(id uint32) (*entry, error) {
	if int(id) >= len(t.entries) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, id, len(t.entries))
	}
	return &t.entries[id], nil
}

// Init allocates a buffer for descriptor id and maps it for device writes.
// The device address of the buffer is returned. On failure no state changes.
func (t *Table) Init(id uint32, loc pool.Location) (hal.PhysAddr, error) {
	e, err := t.entry(id)
	if err != nil {
		return 0, err
	}
	if e.mapped {
		return 0, fmt.Errorf("%w: %d", ErrAlreadyMapped, id)
	}

	size := loc.BufSize + loc.Headroom
	buf := t.alloc.Alloc(size)
	if buf == nil {
		return 0, fmt.Errorf("%w: %d bytes for descriptor %d", ErrOutOfMemory, size, id)
	}

	addr, err := t.mapper.MapRx(loc.PoolID, loc.BufID, buf.Mem())
	if err != nil {
		t.alloc.Free(buf)
		return 0, fmt.Errorf("%w: descriptor %d: %w", ErrMapFailed, id, err)
	}

	e.buf = buf
	e.mapped = true
	t.owners[buf] = id
	return addr, nil
}

// Deinit takes the buffer of descriptor id back from the device and releases
// it. When the device refuses the entry stays mapped.
func (t *Table) Deinit(id uint32, loc pool.Location) error {
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	if !e.mapped {
		return fmt.Errorf("%w: %d", ErrNotMapped, id)
	}

	if _, err := t.mapper.UnmapRx(loc.PoolID, loc.BufID, 0); err != nil {
		return fmt.Errorf("%w: descriptor %d: %w", ErrUnmapFailed, id, err)
	}

	t.release(e)
	return nil
}

// Detach is used once the device completed a reception into descriptor id and
// the buffer was already unmapped. The descriptor becomes unmapped and the
// buffer is returned to the caller, who now owns it.
func (t *Table) Detach(id uint32) (*nbuf.Buffer, error) {
	e, err := t.entry(id)
	if err != nil {
		return nil, err
	}
	if !e.mapped {
		return nil, fmt.Errorf("%w: %d", ErrNotMapped, id)
	}

	buf := e.buf
	delete(t.owners, buf)
	e.buf = nil
	e.mapped = false
	return buf, nil
}

func (t *Table) release(e *entry) {
	delete(t.owners, e.buf)
	t.alloc.Free(e.buf)
	e.buf = nil
	e.mapped = false
}

// Mapped reports whether descriptor id currently holds a mapped buffer.
func (t *Table) Mapped(id uint32) bool {
	e, err := t.entry(id)
	return err == nil && e.mapped
}

// Buffer returns the buffer held by descriptor id, nil when there is none.
func (t *Table) Buffer(id uint32) *nbuf.Buffer {
	e, err := t.entry(id)
	if err != nil {
		return nil
	}
	return e.buf
}

// Owner returns the descriptor a mapped buffer belongs to.
func (t *Table) Owner(buf *nbuf.Buffer) (uint32, bool) {
	id, ok := t.owners[buf]
	return id, ok
}

func (t *Table) MappedCount() int {
	return len(t.owners)
}

// MappedIDs lists every mapped descriptor in ascending order.
func (t *Table) MappedIDs() []uint32 {
	ids := make([]uint32, 0, len(t.owners))
	for i := range t.entries {
		if t.entries[i].mapped {
			ids = append(ids, uint32(i))
		}
	}
	return ids
}
