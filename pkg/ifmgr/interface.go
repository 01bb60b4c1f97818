package ifmgr

import (
	"net/netip"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Service resolves relay interfaces by connect point.
type Service interface {
	InterfacesAt(cp models.ConnectPoint) []models.Interface
	InterfaceFor(cp models.ConnectPoint, vlan uint16) (models.Interface, bool)
	Covering(ip netip.Addr) []models.Interface
	All() []models.Interface
}
