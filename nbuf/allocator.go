package nbuf

import (
	"sync"

	"github.com/rcrowley/go-metrics"
)

// Allocator hands out and takes back buffers. Alloc returns nil when no memory is available.
type Allocator interface {
	Alloc(size int) *Buffer
	Free(b *Buffer)
}

// Copy allocates a buffer with headroom bytes reserved and fills it with data.
func Copy(a Allocator, data []byte, headroom int) *Buffer {
	b := a.Alloc(headroom + len(data))
	if b == nil {
		return nil
	}
	if err := b.Reserve(headroom); err != nil {
		a.Free(b)
		return nil
	}
	dst, err := b.Put(len(data))
	if err != nil {
		a.Free(b)
		return nil
	}
	copy(dst, data)
	return b
}

type AllocatorStats struct {
	Allocs      int64
	Frees       int64
	Failures    int64
	DoubleFrees int64
	InUse       int64
	InUseBytes  int64
}

// HeapAllocator allocates buffers from the Go heap and keeps accounting in a
// go-metrics registry. A non zero limit caps the bytes outstanding at once.
type HeapAllocator struct {
	mu         sync.Mutex
	limit      int64
	inUseBytes int64

	allocs      metrics.Counter
	frees       metrics.Counter
	failures    metrics.Counter
	doubleFrees metrics.Counter
	inUse       metrics.Gauge
}

// NewHeapAllocator creates an allocator registering its counters in r under
// nbuf.*. When r is nil a private registry is used.
func NewHeapAllocator(limit int, r metrics.Registry) *HeapAllocator {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &HeapAllocator{
		limit:       int64(limit),
		allocs:      metrics.GetOrRegisterCounter("nbuf.alloc", r),
		frees:       metrics.GetOrRegisterCounter("nbuf.free", r),
		failures:    metrics.GetOrRegisterCounter("nbuf.alloc_failed", r),
		doubleFrees: metrics.GetOrRegisterCounter("nbuf.double_free", r),
		inUse:       metrics.GetOrRegisterGauge("nbuf.inuse", r),
	}
}

func (a *HeapAllocator) Alloc(size int) *Buffer {
	if size <= 0 {
		a.failures.Inc(1)
		return nil
	}

	a.mu.Lock()
	if a.limit > 0 && a.inUseBytes+int64(size) > a.limit {
		a.mu.Unlock()
		a.failures.Inc(1)
		return nil
	}
	a.inUseBytes += int64(size)
	a.mu.Unlock()

	a.allocs.Inc(1)
	a.inUse.Update(a.allocs.Count() - a.frees.Count())
	return New(make([]byte, size))
}

func (a *HeapAllocator) Free(b *Buffer) {
	if b == nil {
		return
	}

	a.mu.Lock()
	if b.freed {
		a.mu.Unlock()
		a.doubleFrees.Inc(1)
		return
	}
	b.freed = true
	a.inUseBytes -= int64(len(b.mem))
	a.mu.Unlock()

	a.frees.Inc(1)
	a.inUse.Update(a.allocs.Count() - a.frees.Count())
}

// SetLimit changes the byte limit, 0 removes it.
func (a *HeapAllocator) SetLimit(limit int) {
	a.mu.Lock()
	a.limit = int64(limit)
	a.mu.Unlock()
}

func (a *HeapAllocator) Stats() AllocatorStats {
	a.mu.Lock()
	inUseBytes := a.inUseBytes
	a.mu.Unlock()

	return AllocatorStats{
		Allocs:      a.allocs.Count(),
		Frees:       a.frees.Count(),
		Failures:    a.failures.Count(),
		DoubleFrees: a.doubleFrees.Count(),
		InUse:       a.allocs.Count() - a.frees.Count(),
		InUseBytes:  inUseBytes,
	}
}
