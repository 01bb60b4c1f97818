package routing

import (
	"net/netip"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Store is the route table fed by the relay for clients behind another relay
// hop. Replace is an upsert keyed by prefix.
type Store interface {
	Replace(route models.Route) error
	Remove(route models.Route) error
}

// Lister is implemented by stores that can enumerate what they hold.
type Lister interface {
	Routes() []models.Route
	Lookup(prefix netip.Prefix) (models.Route, bool)
}
