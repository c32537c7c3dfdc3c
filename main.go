package rxpath

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/util"
	"go.yaml.in/yaml/v3"
)

// Device is the radio a receive path runs against.
type Device interface {
	hal.Link
	hal.Guard
}

// DefaultQueueDepth bounds the deferred RX event queue unless rx.queue_depth says otherwise.
const DefaultQueueDepth = 64

// Main builds a receive path for dev from c. alloc may be nil, in which case
// a heap allocator limited by rx.memory_limit is used. Nothing is mapped until
// Control.Start is called. With configTest set the config is validated and
// nil is returned.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, dev Device, alloc nbuf.Allocator) (*Control, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	ctrl, err := newControl(l, c, dev, alloc, metrics.DefaultRegistry)
	if err != nil {
		return nil, err
	}

	if configTest {
		return nil, nil
	}

	ctrl.statsStart = statsStart
	return ctrl, nil
}

func newControl(l *logrus.Logger, c *config.C, dev Device, alloc nbuf.Allocator, r metrics.Registry) (*Control, error) {
	pools, err := pool.NewMapFromConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load rx.pools", nil, err)
	}
	for _, p := range pools.Pools() {
		l.WithField("poolId", p.ID).
			WithField("bufSize", humanize.IBytes(uint64(p.BufSize))).
			WithField("headroom", p.Headroom).
			WithField("numBufs", p.NumBufs).
			WithField("firstDesc", p.FirstDesc).
			Debug("RX pool configured")
	}

	if alloc == nil {
		alloc = nbuf.NewHeapAllocator(c.GetInt("rx.memory_limit", 0), r)
	}

	vifs, err := newVifTableFromConfig(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load interfaces", nil, err)
	}

	features := FeaturesFromConfig(c)
	m := newRxMetrics(r)
	table := descriptor.NewTable(pools.NumDescriptors(), dev, alloc)
	cmd := newCommander(l, pools, table, dev, m)
	d := newDispatcher(l, pools, table, dev, alloc, cmd, vifs, features, m)

	ctrl := &Control{
		l:          l,
		guard:      dev,
		pools:      pools,
		table:      table,
		cmd:        cmd,
		dispatcher: d,
		vifs:       vifs,
		metrics:    m,
	}

	if c.GetBool("rx.deferred", true) {
		depth := c.GetInt("rx.queue_depth", DefaultQueueDepth)
		if depth < 0 {
			return nil, fmt.Errorf("rx.queue_depth must not be negative, got %d", depth)
		}
		ctrl.tasklet = newTasklet(l, dev, d, depth, m)
	}

	ctrl.ctx, ctrl.cancel = context.WithCancel(context.Background())

	l.WithField("descriptors", pools.NumDescriptors()).
		WithField("memory", humanize.IBytes(pools.TotalBytes())).
		WithField("deferred", ctrl.tasklet != nil).
		WithField("features", fmt.Sprintf("%+v", features)).
		Info("RX path configured")

	return ctrl, nil
}
