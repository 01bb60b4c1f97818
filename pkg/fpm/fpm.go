package fpm

import (
	"net/netip"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Store holds delegated prefixes advertised to the routing stack over FPM.
type Store interface {
	Add(rec models.FpmRecord) error
	Remove(prefix netip.Prefix) error
	Get(prefix netip.Prefix) (models.FpmRecord, bool)
	List() []models.FpmRecord
}
