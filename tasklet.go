package rxpath

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/rxevent"
)

// Tasklet queues receive events and processes them later, outside of the
// context that reported them.
type Tasklet struct {
	l     *logrus.Logger
	guard hal.Guard
	d     *Dispatcher
	m     *rxMetrics

	mu    sync.Mutex
	q     *queue.Queue
	depth int

	wake chan struct{}
}

func newTasklet(l *logrus.Logger, guard hal.Guard, d *Dispatcher, depth int, m *rxMetrics) *Tasklet {
	return &Tasklet{
		l:     l,
		guard: guard,
		d:     d,
		m:     m,
		q:     queue.New(),
		depth: depth,
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue adds b to the pending batches and wakes the worker. It fails when
// depth batches are already pending, 0 means unbounded.
func (t *Tasklet) Enqueue(b *rxevent.Batch) error {
	t.mu.Lock()
	if t.depth > 0 && t.q.Length() >= t.depth {
		t.mu.Unlock()
		return ErrQueueFull
	}
	t.q.Add(b)
	t.m.pending.Update(int64(t.q.Length()))
	t.mu.Unlock()

	t.Kick()
	return nil
}

// Kick wakes the worker, for example after the link was enabled again.
func (t *Tasklet) Kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tasklet) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.Length()
}

func (t *Tasklet) dequeue() *rxevent.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.q.Length() == 0 {
		return nil
	}
	b := t.q.Remove().(*rxevent.Batch)
	t.m.pending.Update(int64(t.q.Length()))
	return b
}

// Run processes one pending batch. A disabled link or an empty queue is not an
// error.
func (t *Tasklet) Run() error {
	_, err := t.runOnce()
	return err
}

// runOnce reports whether a batch was taken off the queue.
func (t *Tasklet) runOnce() (bool, error) {
	t.guard.Lock()
	defer t.guard.Unlock()

	if st := t.guard.Status(); st != hal.StatusEnabled {
		t.l.WithField("status", st).Debug("Link is not enabled, leaving RX events queued")
		return false, nil
	}

	b := t.dequeue()
	if b == nil {
		t.l.Error("No RX event pending")
		return false, nil
	}

	_, err := t.d.Process(b)
	return true, err
}

// Start drains the queue every time it is woken until ctx is done.
func (t *Tasklet) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		}

		for t.Pending() > 0 && ctx.Err() == nil {
			// Entry failures were logged by the dispatcher already.
			ran, _ := t.runOnce()
			if !ran {
				break
			}
		}
	}
}
