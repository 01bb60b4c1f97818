package fpm

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/opdb"
)

func TestOpDBStoreRoundTrip(t *testing.T) {
	db := opdb.NewMemoryStore()
	s := NewOpDBStore(db)

	rec := models.FpmRecord{
		Prefix:  netip.MustParsePrefix("2001:db8:100::/56"),
		NextHop: netip.MustParseAddr("fe80::2"),
		Type:    models.RouteSourceDHCP,
	}
	require.NoError(t, s.Add(rec))

	got, ok := s.Get(rec.Prefix)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	n, err := db.Count(context.Background(), opdb.NamespaceFPMPrefixes)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored := NewOpDBStore(db)
	require.NoError(t, restored.Restore(context.Background(), db))
	assert.Equal(t, []models.FpmRecord{rec}, restored.List())

	require.NoError(t, s.Remove(rec.Prefix))
	_, ok = s.Get(rec.Prefix)
	assert.False(t, ok)
	n, err = db.Count(context.Background(), opdb.NamespaceFPMPrefixes)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpDBStoreRejectsInvalidPrefix(t *testing.T) {
	assert.Error(t, NewOpDBStore(nil).Add(models.FpmRecord{}))
}
