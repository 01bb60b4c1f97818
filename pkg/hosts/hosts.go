package hosts

import (
	"net"
	"net/netip"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Service is the host directory: end stations learned from the network or
// published by the relay.
type Service interface {
	Host(id models.HostID) (models.Host, bool)
	HostsByIP(ip netip.Addr) []models.Host
	HostsByMAC(mac net.HardwareAddr) []models.Host

	AddOrUpdate(h models.Host)
	AddIP(id models.HostID, loc models.ConnectPoint, ip netip.Addr)
	RemoveIP(id models.HostID, ip netip.Addr)
	Remove(id models.HostID)

	StartMonitoringIP(ip netip.Addr)
	StopMonitoringIP(ip netip.Addr)
}

// Prober actively solicits the owner of an address (ARP or neighbor
// solicitation) so it shows up in the directory.
type Prober interface {
	Probe(ip netip.Addr)
}
