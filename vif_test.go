package rxpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/filter"
	"github.com/umacif/rxpath/test"
)

func TestParseVifSettings(t *testing.T) {
	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString(`
interfaces:
  - id: 0
  - id: 1
    promiscuous: yes
    filter: [mgmt, ctrl]
  - id: 2
    filter: data
`))

	s, err := parseVifSettings(c)
	require.NoError(t, err)
	assert.Equal(t, vifSettings{filter: filter.All}, s[0])
	assert.Equal(t, vifSettings{promiscuous: true, filter: filter.Mgmt | filter.Ctrl}, s[1])
	assert.Equal(t, vifSettings{filter: filter.Data}, s[2])
}

func TestParseVifSettings_Errors(t *testing.T) {
	tests := map[string]string{
		"interfaces[0].id must be a non negative integer, got -1": `
interfaces:
  - id: -1
`,
		"interfaces[1].id 0 is configured more than once": `
interfaces:
  - id: 0
  - id: 0
`,
		`interfaces[0].filter: unknown packet filter "beacons", possible values: all, mgmt, data, ctrl`: `
interfaces:
  - id: 0
    filter: [beacons]
`,
		"interfaces[0].promiscuous must be a boolean, got sometimes": `
interfaces:
  - id: 0
    promiscuous: sometimes
`,
		"interfaces is not a list": `
interfaces: 0
`,
	}

	for want, yml := range tests {
		c := config.NewC(test.NewLogger())
		require.NoError(t, c.LoadString(yml))
		_, err := parseVifSettings(c)
		assert.EqualError(t, err, want)
	}
}

func TestVifTable_Reload(t *testing.T) {
	f := newFixture(t, promiscConfig)
	v0 := f.ctrl.Interface(0)
	require.NotNil(t, v0)
	assert.True(t, v0.Promiscuous())
	assert.Equal(t, filter.Data, v0.Filter())

	// No settings for id 5, it gets the defaults.
	v5 := f.ctrl.AddInterface(5, &test.Sink{})
	assert.False(t, v5.Promiscuous())
	assert.Equal(t, filter.All, v5.Filter())

	require.NoError(t, f.c.ReloadConfigString(`
rx:
  headroom: 32
  pools:
    - buf_size: 256
      num_bufs: 2
interfaces:
  - id: 0
    filter: [mgmt]
  - id: 5
    promiscuous: true
`))
	assert.False(t, v0.Promiscuous())
	assert.Equal(t, filter.Mgmt, v0.Filter())
	assert.True(t, v5.Promiscuous())
	assert.Equal(t, filter.All, v5.Filter())

	// A broken reload keeps the running settings.
	require.NoError(t, f.c.ReloadConfigString(`
interfaces:
  - id: 0
    filter: [nope]
`))
	assert.Equal(t, filter.Mgmt, v0.Filter())

	assert.True(t, f.ctrl.RemoveInterface(5))
	assert.False(t, f.ctrl.RemoveInterface(5))
	assert.Nil(t, f.ctrl.Interface(5))
}
