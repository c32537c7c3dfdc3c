package rxpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umacif/rxpath/descriptor"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/util"
)

func TestCommander_InitDeinitRoundTrip(t *testing.T) {
	f := newFixture(t, baseConfig)
	cmd := f.ctrl.Commander()

	require.NoError(t, cmd.InitAll())
	assert.Equal(t, 4, f.ctrl.table.MappedCount())
	assert.Equal(t, 4, f.sim.Armed())
	assert.True(t, f.sim.Mapped(1, 1))

	// Every buffer is payload plus headroom.
	assert.Equal(t, int64(2*(256+32)+2*(1600+32)), f.alloc.Stats().InUseBytes)

	require.NoError(t, cmd.DeinitAll())
	assert.Zero(t, f.ctrl.table.MappedCount())
	assert.Zero(t, f.sim.Armed())
	assert.False(t, f.sim.Mapped(1, 1))

	s := f.alloc.Stats()
	assert.Zero(t, s.InUse)
	assert.Equal(t, s.Allocs, s.Frees)
}

func TestCommander_RefusedTransitionsDoNotMutate(t *testing.T) {
	f := newFixture(t, baseConfig)
	cmd := f.ctrl.Commander()

	err := cmd.Send(CmdDeinit, 2)
	assert.ErrorIs(t, err, descriptor.ErrNotMapped)
	assert.False(t, f.ctrl.table.Mapped(2))

	require.NoError(t, cmd.Send(CmdInit, 2))
	buf := f.ctrl.table.Buffer(2)
	require.NotNil(t, buf)

	err = cmd.Send(CmdInit, 2)
	assert.ErrorIs(t, err, descriptor.ErrAlreadyMapped)
	assert.Same(t, buf, f.ctrl.table.Buffer(2))
	assert.Equal(t, int64(1), f.alloc.Stats().InUse)
	assert.Equal(t, 1, f.sim.Commands())
}

func TestCommander_Errors(t *testing.T) {
	f := newFixture(t, baseConfig)
	cmd := f.ctrl.Commander()

	err := cmd.Send(CmdInit, 4)
	assert.ErrorIs(t, err, pool.ErrNotFound)

	err = cmd.Send(CmdType(7), 0)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.False(t, f.ctrl.table.Mapped(0))

	var ce *util.ContextualError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint32(0), ce.Fields["descId"])
	assert.Equal(t, 0, ce.Fields["poolId"])
}

func TestCommander_InitAllIsBestEffort(t *testing.T) {
	f := newFixture(t, baseConfig)
	f.sim.FailMap = func(poolID, bufID int) bool { return poolID == 0 && bufID == 1 }
	f.sim.FailCmd = func(descID uint32) bool { return descID == 3 }

	err := f.ctrl.Commander().InitAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, descriptor.ErrMapFailed)

	assert.True(t, f.ctrl.table.Mapped(0))
	assert.False(t, f.ctrl.table.Mapped(1))
	assert.True(t, f.ctrl.table.Mapped(2))
	assert.True(t, f.ctrl.table.Mapped(3), "mapped even though the radio refused it")
	assert.Equal(t, 2, f.sim.Armed())
	assert.Equal(t, int64(3), f.alloc.Stats().InUse)

	require.NoError(t, f.ctrl.Commander().DeinitAll())
	assert.Zero(t, f.alloc.Stats().InUse)
}

func TestCommander_DeinitRefusedByRadio(t *testing.T) {
	f := newFixture(t, baseConfig)
	cmd := f.ctrl.Commander()
	require.NoError(t, cmd.Send(CmdInit, 0))

	f.sim.FailUnmap = func(int, int) bool { return true }
	err := cmd.Send(CmdDeinit, 0)
	assert.ErrorIs(t, err, descriptor.ErrUnmapFailed)
	assert.True(t, f.ctrl.table.Mapped(0))
	assert.Equal(t, int64(1), f.alloc.Stats().InUse)
}

func TestCmdType_String(t *testing.T) {
	assert.Equal(t, "init", CmdInit.String())
	assert.Equal(t, "deinit", CmdDeinit.String())
	assert.Equal(t, "unknown(5)", CmdType(5).String())
}
