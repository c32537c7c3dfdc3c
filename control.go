package rxpath

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/rxevent"
	"golang.org/x/sync/errgroup"
)

// Control owns a running receive path. Events from the radio come in through
// HandleEvent, interfaces attach with AddInterface.
type Control struct {
	l          *logrus.Logger
	guard      hal.Guard
	pools      *pool.Map
	table      *descriptor.Table
	cmd        *Commander
	dispatcher *Dispatcher
	tasklet    *Tasklet
	vifs       *vifTable
	metrics    *rxMetrics

	ctx        context.Context
	cancel     context.CancelFunc
	eg         *errgroup.Group
	statsStart func()
}

type ControlStats struct {
	Descriptors   int `json:"descriptors"`
	Mapped        int `json:"mapped"`
	PendingEvents int `json:"pendingEvents"`
}

// Start maps a buffer for every descriptor, hands them to the radio and starts
// the deferred worker. This is a nonblocking call, to block use
// Control.ShutdownBlock(). Descriptors that failed to come up are reported but
// do not stop the others.
func (c *Control) Start() error {
	if c.statsStart != nil {
		go c.statsStart()
	}

	c.guard.Lock()
	err := c.cmd.InitAll()
	c.guard.Unlock()

	c.eg, c.ctx = errgroup.WithContext(c.ctx)
	if c.tasklet != nil {
		c.eg.Go(func() error {
			return c.tasklet.Start(c.ctx)
		})
	}

	c.l.WithField("mapped", c.table.MappedCount()).
		WithField("descriptors", c.pools.NumDescriptors()).
		Info("RX path started")
	return err
}

// Stop halts the deferred worker and takes every buffer back from the radio,
// returns after the teardown is complete.
func (c *Control) Stop() error {
	c.cancel()
	if c.eg != nil {
		if err := c.eg.Wait(); err != nil {
			c.l.WithError(err).Error("RX worker failed")
		}
	}

	c.guard.Lock()
	err := c.cmd.DeinitAll()
	c.guard.Unlock()

	c.l.Info("Goodbye")
	return err
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	if err := c.Stop(); err != nil {
		c.l.WithError(err).Error("RX teardown incomplete")
	}
}

// HandleEvent takes a receive event from the radio. When deferred processing
// is enabled the event is queued, otherwise it is processed right away with
// the link guard held.
func (c *Control) HandleEvent(b *rxevent.Batch) error {
	if c.tasklet != nil {
		if err := c.tasklet.Enqueue(b); err != nil {
			c.l.WithError(err).WithField("entries", len(b.Entries)).Error("Dropping RX event")
			return err
		}
		return nil
	}

	c.guard.Lock()
	defer c.guard.Unlock()
	_, err := c.dispatcher.Process(b)
	return err
}

// Drain blocks until every queued event was processed or ctx is done.
func (c *Control) Drain(ctx context.Context) error {
	if c.tasklet == nil {
		return nil
	}

	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for c.tasklet.Pending() > 0 {
		c.tasklet.Kick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	// The last batch may still be in flight, it holds the guard until done.
	c.guard.Lock()
	c.guard.Unlock()
	return nil
}

// Kick resumes deferred processing, for example after the link was enabled again.
func (c *Control) Kick() {
	if c.tasklet != nil {
		c.tasklet.Kick()
	}
}

// AddInterface attaches sink as virtual interface id, replacing any interface
// with the same id. Promiscuous mode and the packet filter come from config.
func (c *Control) AddInterface(id int, sink Sink) *Vif {
	v := c.vifs.add(id, sink)
	c.l.WithField("vifId", id).
		WithField("promiscuous", v.Promiscuous()).
		WithField("filter", v.Filter()).
		Info("Interface attached")
	return v
}

// RemoveInterface detaches interface id, later receptions for it are dropped.
func (c *Control) RemoveInterface(id int) bool {
	return c.vifs.remove(id)
}

// Interface returns the attached interface id or nil.
func (c *Control) Interface(id int) *Vif {
	return c.vifs.get(id)
}

// Commander is the command issuer driving this receive path.
func (c *Control) Commander() *Commander {
	return c.cmd
}

// Stats takes the link guard, it must not be called from a Sink.
func (c *Control) Stats() ControlStats {
	s := ControlStats{
		Descriptors: c.pools.NumDescriptors(),
	}

	c.guard.Lock()
	s.Mapped = c.table.MappedCount()
	c.guard.Unlock()

	if c.tasklet != nil {
		s.PendingEvents = c.tasklet.Pending()
	}
	return s
}
