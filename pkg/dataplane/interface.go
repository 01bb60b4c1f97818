package dataplane

import (
	"github.com/google/gopacket/layers"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Selector names a class of frames a component wants to receive.
// Zero-valued fields match anything.
type Selector struct {
	EtherType  layers.EthernetType
	IPProtocol layers.IPProtocol
	UDPDstPort uint16
	ICMPv6Type uint8
}

func (s Selector) Matches(p *ParsedPacket) bool {
	etherType := p.Ethernet.EthernetType
	if p.Dot1Q != nil {
		etherType = p.Dot1Q.Type
	}
	if s.EtherType != 0 && s.EtherType != etherType {
		return false
	}
	if s.IPProtocol != 0 {
		switch {
		case p.IPv4 != nil:
			if p.IPv4.Protocol != s.IPProtocol {
				return false
			}
		case p.IPv6 != nil:
			if p.IPv6.NextHeader != s.IPProtocol {
				return false
			}
		default:
			return false
		}
	}
	if s.UDPDstPort != 0 && (p.UDP == nil || uint16(p.UDP.DstPort) != s.UDPDstPort) {
		return false
	}
	if s.ICMPv6Type != 0 && (p.ICMPv6 == nil || p.ICMPv6.TypeCode.Type() != s.ICMPv6Type) {
		return false
	}
	return true
}

type Priority int

const (
	PriorityControl Priority = 40000
)

type Processor func(pkt *ParsedPacket)

// PacketService is the packet-in/packet-out boundary of the relay.
type PacketService interface {
	RequestPackets(sel Selector, prio Priority)
	CancelPackets(sel Selector)
	AddProcessor(p Processor) int
	RemoveProcessor(id int)
	Emit(egress models.ConnectPoint, frame []byte) error
}
