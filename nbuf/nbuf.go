// Package nbuf provides the network buffers handed to the radio for DMA and
// passed up to the network stack. A Buffer owns a fixed block of memory and
// exposes a movable data window inside it, leaving headroom in front for
// header rewrites.
package nbuf

import (
	"errors"
	"fmt"
)

var ErrOutOfBounds = errors.New("buffer window out of bounds")

type Buffer struct {
	mem  []byte
	head int
	tail int
	// freed is set by the allocator once the buffer was returned.
	freed bool
}

// New wraps mem in a Buffer with an empty data window at offset 0.
func New(mem []byte) *Buffer {
	return &Buffer{mem: mem}
}

// Data is the current data window.
func (b *Buffer) Data() []byte {
	return b.mem[b.head:b.tail]
}

// Mem is the whole backing memory, used to map the buffer for device writes.
func (b *Buffer) Mem() []byte {
	return b.mem
}

func (b *Buffer) Len() int {
	return b.tail - b.head
}

func (b *Buffer) Cap() int {
	return len(b.mem)
}

// Headroom is the number of bytes available in front of the data window.
func (b *Buffer) Headroom() int {
	return b.head
}

// Tailroom is the number of bytes available after the data window.
func (b *Buffer) Tailroom() int {
	return len(b.mem) - b.tail
}

// Put grows the data window by n bytes at the tail and returns the new bytes.
func (b *Buffer) Put(n int) ([]byte, error) {
	if n < 0 || n > b.Tailroom() {
		return nil, fmt.Errorf("%w: put %d with %d bytes tailroom", ErrOutOfBounds, n, b.Tailroom())
	}
	b.tail += n
	return b.mem[b.tail-n : b.tail], nil
}

// Pull removes n bytes from the front of the data window.
func (b *Buffer) Pull(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("%w: pull %d from %d bytes", ErrOutOfBounds, n, b.Len())
	}
	b.head += n
	return nil
}

// Push grows the data window by n bytes into the headroom and returns the new
// front of the window.
func (b *Buffer) Push(n int) ([]byte, error) {
	if n < 0 || n > b.head {
		return nil, fmt.Errorf("%w: push %d with %d bytes headroom", ErrOutOfBounds, n, b.head)
	}
	b.head -= n
	return b.mem[b.head : b.head+n], nil
}

// Trim shrinks the data window to n bytes.
func (b *Buffer) Trim(n int) error {
	if n < 0 || n > b.Len() {
		return fmt.Errorf("%w: trim to %d from %d bytes", ErrOutOfBounds, n, b.Len())
	}
	b.tail = b.head + n
	return nil
}

// Reserve moves an empty data window n bytes into the buffer, typically to
// leave headroom before copying data in.
func (b *Buffer) Reserve(n int) error {
	if b.Len() != 0 {
		return fmt.Errorf("%w: reserve on a buffer holding %d bytes", ErrOutOfBounds, b.Len())
	}
	if n < 0 || n > len(b.mem) {
		return fmt.Errorf("%w: reserve %d of %d bytes", ErrOutOfBounds, n, len(b.mem))
	}
	b.head, b.tail = n, n
	return nil
}

// Reset empties the data window.
func (b *Buffer) Reset() {
	b.head, b.tail = 0, 0
}
