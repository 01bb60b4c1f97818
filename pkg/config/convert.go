package config

import (
	"fmt"
	"net"
	"net/netip"

	"inet.af/netaddr"

	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

type PortBinding struct {
	Interface    string
	ConnectPoint models.ConnectPoint
}

// Ports resolves the dataplane port list. Callers run Validate first.
func (c *Config) Ports() []PortBinding {
	out := make([]PortBinding, 0, len(c.Dataplane.Ports))
	for _, p := range c.Dataplane.Ports {
		cp, _ := models.ParseConnectPoint(p.ConnectPoint)
		out = append(out, PortBinding{Interface: p.Interface, ConnectPoint: cp})
	}
	return out
}

// PortMap maps kernel interface names to connect points.
func (c *Config) PortMap() map[string]models.ConnectPoint {
	out := make(map[string]models.ConnectPoint, len(c.Dataplane.Ports))
	for _, p := range c.Ports() {
		out[p.Interface] = p.ConnectPoint
	}
	return out
}

func (c *Config) RelayInterfaces() ([]models.Interface, error) {
	out := make([]models.Interface, 0, len(c.Interfaces))
	for _, ic := range c.Interfaces {
		cp, err := models.ParseConnectPoint(ic.ConnectPoint)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		mac, err := net.ParseMAC(ic.MAC)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		iface := models.Interface{
			Name:         ic.Name,
			ConnectPoint: cp,
			MAC:          mac,
			VLAN:         ic.VLAN,
		}
		for _, s := range append(append([]string(nil), ic.IPv4...), ic.IPv6...) {
			p, err := netaddr.ParseIPPrefix(s)
			if err != nil {
				return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
			}
			prefix := netip.PrefixFrom(toAddr(p.IP()), int(p.Bits()))
			if prefix.Addr().Is4() {
				iface.IPv4 = append(iface.IPv4, prefix)
			} else {
				iface.IPv6 = append(iface.IPv6, prefix)
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

// ServerInfos builds the targets of family from a server list. An entry
// without a server address of that family is skipped.
func ServerInfos(list []ServerConfig, family relay.Family) ([]*relay.ServerInfo, error) {
	var out []*relay.ServerInfo
	for i, sc := range list {
		cp, err := models.ParseConnectPoint(sc.ConnectPoint)
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", i, err)
		}

		serverIP, ok, err := firstOfFamily(sc.ServerIPs, family)
		if err != nil {
			return nil, fmt.Errorf("server %d server_ips: %w", i, err)
		}
		if !ok {
			continue
		}
		gatewayIP, _, err := firstOfFamily(sc.GatewayIPs, family)
		if err != nil {
			return nil, fmt.Errorf("server %d gateway_ips: %w", i, err)
		}

		info := &relay.ServerInfo{
			Family:        family,
			ServerIP:      serverIP,
			GatewayIP:     gatewayIP,
			ConnectPoint:  cp,
			RelayAgentIPs: make(map[string]netip.Addr),
		}
		for device, ra := range sc.RelayAgentIPs {
			s := ra.IPv4
			if family == relay.FamilyV6 {
				s = ra.IPv6
			}
			if s == "" {
				continue
			}
			ip, err := netaddr.ParseIP(s)
			if err != nil {
				return nil, fmt.Errorf("server %d relay_agent_ips.%s: %w", i, device, err)
			}
			info.RelayAgentIPs[device] = toAddr(ip)
		}
		out = append(out, info)
	}
	return out, nil
}

func firstOfFamily(list []string, family relay.Family) (netip.Addr, bool, error) {
	for _, s := range list {
		ip, err := netaddr.ParseIP(s)
		if err != nil {
			return netip.Addr{}, false, err
		}
		if (family == relay.FamilyV4 && ip.Is4()) || (family == relay.FamilyV6 && ip.Is6()) {
			return toAddr(ip), true, nil
		}
	}
	return netip.Addr{}, false, nil
}

func toAddr(ip netaddr.IP) netip.Addr {
	if ip.Is4() {
		return netip.AddrFrom4(ip.As4())
	}
	return netip.AddrFrom16(ip.As16())
}
