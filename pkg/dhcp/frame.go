package dhcp

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Addressing is the L2/L3/L4 envelope of a relayed DHCP frame.
type Addressing struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	VLAN    uint16
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

var serializeOpts = gopacket.SerializeOptions{
	ComputeChecksums: true,
	FixLengths:       true,
}

func l2Layers(a Addressing, inner layers.EthernetType) []gopacket.SerializableLayer {
	eth := &layers.Ethernet{
		SrcMAC:       a.SrcMAC,
		DstMAC:       a.DstMAC,
		EthernetType: inner,
	}
	if a.VLAN == 0 {
		return []gopacket.SerializableLayer{eth}
	}
	eth.EthernetType = layers.EthernetTypeDot1Q
	return []gopacket.SerializableLayer{eth, &layers.Dot1Q{
		VLANIdentifier: a.VLAN,
		Type:           inner,
	}}
}

// SerializeV4 builds Ethernet[/802.1Q]/IPv4/UDP/DHCPv4.
func SerializeV4(a Addressing, msg *layers.DHCPv4) ([]byte, error) {
	if !a.SrcIP.Is4() || !a.DstIP.Is4() {
		return nil, fmt.Errorf("ipv4 addressing required (src %s dst %s)", a.SrcIP, a.DstIP)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    a.SrcIP.AsSlice(),
		DstIP:    a.DstIP.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(a.SrcPort),
		DstPort: layers.UDPPort(a.DstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)

	ls := append(l2Layers(a, layers.EthernetTypeIPv4), ip, udp, msg)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize IPv4/UDP/DHCPv4: %w", err)
	}
	return buf.Bytes(), nil
}

// SerializeV6 builds Ethernet[/802.1Q]/IPv6/UDP with an encoded DHCPv6 payload.
func SerializeV6(a Addressing, payload []byte) ([]byte, error) {
	if !a.SrcIP.Is6() || !a.DstIP.Is6() {
		return nil, fmt.Errorf("ipv6 addressing required (src %s dst %s)", a.SrcIP, a.DstIP)
	}

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   DefaultTTL,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      a.SrcIP.AsSlice(),
		DstIP:      a.DstIP.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(a.SrcPort),
		DstPort: layers.UDPPort(a.DstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)

	ls := append(l2Layers(a, layers.EthernetTypeIPv6), ip, udp, gopacket.Payload(payload))
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize IPv6/UDP/DHCPv6: %w", err)
	}
	return buf.Bytes(), nil
}
