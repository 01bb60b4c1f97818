package relay

import (
	"net"
	"net/netip"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// ServerInfo is one configured DHCP server target. The next-hop MAC and VLAN
// are filled in once the server (or its gateway) is seen in the host
// directory.
type ServerInfo struct {
	Family        Family
	ServerIP      netip.Addr
	GatewayIP     netip.Addr
	ConnectPoint  models.ConnectPoint
	ServerMAC     net.HardwareAddr
	ServerVLAN    uint16
	RelayAgentIPs map[string]netip.Addr
}

func (s *ServerInfo) Ready() bool {
	return !s.ConnectPoint.IsZero() && len(s.ServerMAC) != 0
}

// NextHopIP is the gateway when one is configured, otherwise the server.
func (s *ServerInfo) NextHopIP() netip.Addr {
	if s.GatewayIP.IsValid() {
		return s.GatewayIP
	}
	return s.ServerIP
}

func (s *ServerInfo) RelayAgentIP(deviceID string) (netip.Addr, bool) {
	ip, ok := s.RelayAgentIPs[deviceID]
	return ip, ok && ip.IsValid()
}

func (s *ServerInfo) Clone() *ServerInfo {
	c := *s
	c.ServerMAC = cloneMAC(s.ServerMAC)
	c.RelayAgentIPs = make(map[string]netip.Addr, len(s.RelayAgentIPs))
	for k, v := range s.RelayAgentIPs {
		c.RelayAgentIPs[k] = v
	}
	return &c
}
