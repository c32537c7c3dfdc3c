package rxpath

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/util"
)

// CmdType selects what Commander.Send does with a descriptor.
type CmdType int

const (
	// CmdInit gives the descriptor a fresh buffer and hands it to the radio.
	CmdInit CmdType = iota
	// CmdDeinit takes the buffer back from the radio and frees it.
	CmdDeinit
)

func (c CmdType) String() string {
	switch c {
	case CmdInit:
		return "init"
	case CmdDeinit:
		return "deinit"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Commander is the only path through which a descriptor is mapped or
// unmapped outside of a completed reception.
type Commander struct {
	l       *logrus.Logger
	pools   *pool.Map
	table   *descriptor.Table
	link    hal.Link
	metrics *rxMetrics
}

func newCommander(l *logrus.Logger, pools *pool.Map, table *descriptor.Table, link hal.Link, m *rxMetrics) *Commander {
	return &Commander{l: l, pools: pools, table: table, link: link, metrics: m}
}

// Send runs cmd for descID. The returned error is a *util.ContextualError.
func (c *Commander) Send(cmd CmdType, descID uint32) error {
	fields := logrus.Fields{"descId": descID, "cmd": cmd}

	loc, err := c.pools.Resolve(descID)
	if err != nil {
		return util.NewContextualError("Failed to map descriptor to a pool", fields, err)
	}
	fields["poolId"] = loc.PoolID
	fields["bufId"] = loc.BufID

	switch cmd {
	case CmdInit:
		addr, err := c.table.Init(descID, loc)
		if err != nil {
			return util.NewContextualError("RX buffer init failed", fields, err)
		}
		// The buffer stays mapped when the radio refuses it, a later deinit
		// reclaims it.
		err = c.link.SendRxCmd(hal.RxBufCmd{Addr: addr}, descID, loc.PoolID)
		if err != nil {
			return util.NewContextualError("Failed to hand RX buffer to the radio", fields, err)
		}

	case CmdDeinit:
		if err := c.table.Deinit(descID, loc); err != nil {
			return util.NewContextualError("RX buffer deinit failed", fields, err)
		}

	default:
		return util.NewContextualError("Unknown RX command", fields, ErrUnknownCommand)
	}

	c.metrics.mapped.Update(int64(c.table.MappedCount()))
	return nil
}

// InitAll gives every descriptor of every pool a buffer. It keeps going past
// failures and returns all of them joined.
func (c *Commander) InitAll() error {
	var errs []error
	for id := 0; id < c.pools.NumDescriptors(); id++ {
		if err := c.Send(CmdInit, uint32(id)); err != nil {
			util.LogWithContextIfNeeded("RX buffer init failed", err, c.l)
			errs = append(errs, err)
		}
	}
	c.metrics.mapped.Update(int64(c.table.MappedCount()))
	return errors.Join(errs...)
}

// DeinitAll takes back every mapped buffer, used at teardown.
func (c *Commander) DeinitAll() error {
	var errs []error
	for _, id := range c.table.MappedIDs() {
		if err := c.Send(CmdDeinit, id); err != nil {
			util.LogWithContextIfNeeded("RX buffer deinit failed", err, c.l)
			errs = append(errs, err)
		}
	}
	c.metrics.mapped.Update(int64(c.table.MappedCount()))
	return errors.Join(errs...)
}
