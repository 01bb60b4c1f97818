package arp

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	zeroMAC      = net.HardwareAddr{0, 0, 0, 0, 0, 0}
)

const hopLimitND = 255

// Source identifies the relay interface a probe is sent from.
type Source struct {
	MAC  net.HardwareAddr
	VLAN uint16
	IP   netip.Addr
}

var serializeOpts = gopacket.SerializeOptions{
	ComputeChecksums: true,
	FixLengths:       true,
}

func ethernet(src net.HardwareAddr, dst net.HardwareAddr, vlan uint16, inner layers.EthernetType) []gopacket.SerializableLayer {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: inner}
	if vlan == 0 {
		return []gopacket.SerializableLayer{eth}
	}
	eth.EthernetType = layers.EthernetTypeDot1Q
	return []gopacket.SerializableLayer{eth, &layers.Dot1Q{VLANIdentifier: vlan, Type: inner}}
}

// BuildRequest builds a broadcast ARP who-has for target.
func BuildRequest(src Source, target netip.Addr) ([]byte, error) {
	if !src.IP.Is4() || !target.Is4() {
		return nil, fmt.Errorf("arp request needs ipv4 addresses (src %s target %s)", src.IP, target)
	}

	req := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   src.MAC,
		SourceProtAddress: src.IP.AsSlice(),
		DstHwAddress:      zeroMAC,
		DstProtAddress:    target.AsSlice(),
	}

	ls := append(ethernet(src.MAC, broadcastMAC, src.VLAN, layers.EthernetTypeARP), req)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize arp request: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildReply answers req on behalf of src, unicast to the requester.
func BuildReply(src Source, req *layers.ARP) ([]byte, error) {
	if !src.IP.Is4() || len(req.SourceHwAddress) != 6 || len(req.SourceProtAddress) != 4 {
		return nil, fmt.Errorf("arp reply needs an ipv4 source and a well-formed request")
	}

	reply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   src.MAC,
		SourceProtAddress: src.IP.AsSlice(),
		DstHwAddress:      req.SourceHwAddress,
		DstProtAddress:    req.SourceProtAddress,
	}

	ls := append(ethernet(src.MAC, net.HardwareAddr(req.SourceHwAddress), src.VLAN, layers.EthernetTypeARP), reply)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize arp reply: %w", err)
	}
	return buf.Bytes(), nil
}

// SolicitedNode returns the solicited-node multicast group of target and its
// Ethernet mapping.
func SolicitedNode(target netip.Addr) (netip.Addr, net.HardwareAddr) {
	t := target.As16()
	group := [16]byte{0xff, 0x02, 10: 0, 11: 0x01, 12: 0xff, 13: t[13], 14: t[14], 15: t[15]}
	mac := net.HardwareAddr{0x33, 0x33, 0xff, t[13], t[14], t[15]}
	return netip.AddrFrom16(group), mac
}

// BuildNeighborSolicitation builds an NS for target addressed to its
// solicited-node group.
func BuildNeighborSolicitation(src Source, target netip.Addr) ([]byte, error) {
	if !src.IP.Is6() || !target.Is6() || target.Is4In6() {
		return nil, fmt.Errorf("neighbor solicitation needs ipv6 addresses (src %s target %s)", src.IP, target)
	}

	group, dstMAC := SolicitedNode(target)

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   hopLimitND,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      src.IP.AsSlice(),
		DstIP:      group.AsSlice(),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	icmp.SetNetworkLayerForChecksum(ip)
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: src.MAC},
		},
	}

	ls := append(ethernet(src.MAC, dstMAC, src.VLAN, layers.EthernetTypeIPv6), ip, icmp, ns)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize neighbor solicitation: %w", err)
	}
	return buf.Bytes(), nil
}

// Sender extracts the announced binding of an ARP request or reply.
func Sender(p *layers.ARP) (net.HardwareAddr, netip.Addr, bool) {
	if p == nil || len(p.SourceProtAddress) != 4 || len(p.SourceHwAddress) != 6 {
		return nil, netip.Addr{}, false
	}
	ip, _ := netip.AddrFromSlice(p.SourceProtAddress)
	if ip.IsUnspecified() {
		return nil, netip.Addr{}, false
	}
	return net.HardwareAddr(p.SourceHwAddress), ip, true
}

// Advertised extracts the binding carried by a neighbor advertisement.
func Advertised(na *layers.ICMPv6NeighborAdvertisement) (net.HardwareAddr, netip.Addr, bool) {
	if na == nil {
		return nil, netip.Addr{}, false
	}
	ip, ok := netip.AddrFromSlice(na.TargetAddress)
	if !ok {
		return nil, netip.Addr{}, false
	}
	for _, opt := range na.Options {
		if opt.Type == layers.ICMPv6OptTargetAddress && len(opt.Data) >= 6 {
			return net.HardwareAddr(opt.Data[:6]), ip, true
		}
	}
	return nil, ip, false
}

// Solicitor extracts the source binding of a neighbor solicitation. The
// source IP comes from the IPv6 header.
func Solicitor(src netip.Addr, ns *layers.ICMPv6NeighborSolicitation) (net.HardwareAddr, bool) {
	if ns == nil || !src.IsValid() || src.IsUnspecified() {
		return nil, false
	}
	for _, opt := range ns.Options {
		if opt.Type == layers.ICMPv6OptSourceAddress && len(opt.Data) >= 6 {
			return net.HardwareAddr(opt.Data[:6]), true
		}
	}
	return nil, false
}
