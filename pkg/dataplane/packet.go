package dataplane

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Class is decided once per frame and carried with it.
type Class uint8

const (
	ClassOther Class = iota
	ClassDHCPv4
	ClassDHCPv6
	ClassARP
	ClassNDP
)

func (c Class) String() string {
	switch c {
	case ClassDHCPv4:
		return "dhcpv4"
	case ClassDHCPv6:
		return "dhcpv6"
	case ClassARP:
		return "arp"
	case ClassNDP:
		return "ndp"
	default:
		return "other"
	}
}

type ParsedPacket struct {
	Ingress    models.ConnectPoint
	Class      Class
	VLAN       uint16
	ReceivedAt time.Time

	Ethernet *layers.Ethernet
	Dot1Q    *layers.Dot1Q
	IPv4     *layers.IPv4
	IPv6     *layers.IPv6
	UDP      *layers.UDP
	DHCPv4   *layers.DHCPv4
	DHCPv6   dhcpv6.DHCPv6
	ARP      *layers.ARP
	ICMPv6   *layers.ICMPv6
	NS       *layers.ICMPv6NeighborSolicitation
	NA       *layers.ICMPv6NeighborAdvertisement

	RawPacket []byte
}

func (p *ParsedPacket) HostID() models.HostID {
	return models.NewHostID(p.Ethernet.SrcMAC, p.VLAN)
}

// Parse decodes an Ethernet frame received on ingress. vlanHint carries a tag
// stripped by the NIC; an in-band 802.1Q header takes precedence.
func Parse(data []byte, ingress models.ConnectPoint, vlanHint uint16) (*ParsedPacket, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, fmt.Errorf("no ethernet layer")
	}

	p := &ParsedPacket{
		Ingress:    ingress,
		VLAN:       vlanHint,
		ReceivedAt: time.Now(),
		Ethernet:   eth,
		RawPacket:  data,
	}

	if dot1q, ok := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		p.Dot1Q = dot1q
		p.VLAN = dot1q.VLANIdentifier
	}
	if l, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		p.IPv4 = l
	}
	if l, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		p.IPv6 = l
	}
	if l, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.UDP = l
	}

	switch {
	case p.UDP != nil && p.IPv4 != nil && isDHCPv4Port(p.UDP):
		d, ok := packet.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)
		if !ok {
			return nil, fmt.Errorf("undecodable dhcpv4 payload")
		}
		p.DHCPv4 = d
		p.Class = ClassDHCPv4
	case p.UDP != nil && p.IPv6 != nil && isDHCPv6Port(p.UDP):
		msg, err := dhcpv6.FromBytes(p.UDP.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode dhcpv6: %w", err)
		}
		p.DHCPv6 = msg
		p.Class = ClassDHCPv6
	default:
		if l, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
			p.ARP = l
			p.Class = ClassARP
			break
		}
		if l, ok := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6); ok {
			p.ICMPv6 = l
			if ns, ok := packet.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation); ok {
				p.NS = ns
				p.Class = ClassNDP
			}
			if na, ok := packet.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement); ok {
				p.NA = na
				p.Class = ClassNDP
			}
		}
	}

	return p, nil
}

func isDHCPv4Port(u *layers.UDP) bool {
	return u.DstPort == layers.UDPPort(dhcp.ServerPortV4) || u.DstPort == layers.UDPPort(dhcp.ClientPortV4)
}

func isDHCPv6Port(u *layers.UDP) bool {
	return u.DstPort == layers.UDPPort(dhcp.ServerPortV6) || u.DstPort == layers.UDPPort(dhcp.ClientPortV6)
}
