package routing

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

func TestMemoryReplaceRemove(t *testing.T) {
	m := NewMemory()

	r := models.Route{
		Prefix:  netip.MustParsePrefix("10.1.0.5/32"),
		NextHop: netip.MustParseAddr("10.0.0.2"),
		Source:  models.RouteSourceDHCP,
	}
	require.NoError(t, m.Replace(r))

	r.NextHop = netip.MustParseAddr("10.0.0.3")
	require.NoError(t, m.Replace(r))

	got, ok := m.Lookup(r.Prefix)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.3"), got.NextHop)
	assert.Len(t, m.Routes(), 1)

	require.NoError(t, m.Remove(r))
	require.NoError(t, m.Remove(r))
	assert.Empty(t, m.Routes())
}

func TestMemoryRejectsInvalidPrefix(t *testing.T) {
	assert.Error(t, NewMemory().Replace(models.Route{}))
}
