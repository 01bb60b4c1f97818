package dhcp4

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"

	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

// fromClient relays DISCOVER and REQUEST to every ready server candidate.
func (h *Handler) fromClient(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4, mt dhcp.MessageType, conn relay.Connectivity) []relay.RelayedFrame {
	candidates, err := h.servers.Candidates(relay.FamilyV4, !conn.IsDirect())
	if err != nil {
		if errors.Is(err, relay.ErrMissingConfiguration) {
			log.Debug("No DHCP server configured, dropping")
		} else {
			log.Debug("No DHCP server ready, dropping", "error", err)
		}
		h.metrics.DroppedErr(family, err)
		return nil
	}

	frames := make([]relay.RelayedFrame, 0, len(candidates))
	for _, s := range candidates {
		frame, err := h.toServer(pkt, d, conn, s, false)
		if err != nil {
			log.Debug("Skipping server candidate", "server", s.ServerIP, "error", err)
			h.metrics.DroppedErr(family, err)
			continue
		}
		frames = append(frames, frame)
		h.metrics.Relayed(family, metrics.DirectionClientToServer)
	}
	if len(frames) == 0 {
		return nil
	}

	key := models.NewHostID(d.ClientHWAddr, pkt.VLAN)
	h.mutate(log, key, func(rec *relay.Record) error {
		h.touch(rec, pkt.Ingress, conn, mt)
		if !conn.IsDirect() {
			rec.NextHop = append(net.HardwareAddr(nil), pkt.Ethernet.SrcMAC...)
		}
		return nil
	})
	return frames
}

// toServer rewrites one copy of d for server s. Lease queries are routed
// unicast and keep their relay-agent address and source IP.
func (h *Handler) toServer(pkt *dataplane.ParsedPacket, d *layers.DHCPv4, conn relay.Connectivity, s *relay.ServerInfo, leaseQuery bool) (relay.RelayedFrame, error) {
	serverIface, ok := h.interfaces.InterfaceFor(s.ConnectPoint, s.ServerVLAN)
	if !ok {
		return relay.RelayedFrame{}, fmt.Errorf("server side %s vlan %d: %w", s.ConnectPoint, s.ServerVLAN, relay.ErrUnresolvedInterface)
	}
	srcIP, ok := serverIface.FirstIPv4()
	if !ok {
		return relay.RelayedFrame{}, fmt.Errorf("interface %s has no ipv4 address: %w", serverIface.Name, relay.ErrUnresolvedInterface)
	}

	out := cloneDHCP(d)
	switch {
	case leaseQuery:
		if orig := dhcp.AddrFromIP(pkt.IPv4.SrcIP); orig.IsValid() {
			srcIP = orig
		}
	case conn.IsDirect():
		agentIP, err := h.clientAgentIP(pkt, s)
		if err != nil {
			return relay.RelayedFrame{}, err
		}
		out.Flags &^= dhcp.BroadcastFlag
		info := &dhcp.RelayAgentInfo{
			CircuitID: dhcp.CircuitID{ConnectPoint: pkt.Ingress, VLAN: pkt.VLAN}.Encode(),
		}
		raw, err := info.Encode()
		if err != nil {
			return relay.RelayedFrame{}, fmt.Errorf("circuit id for %s: %w", pkt.Ingress, err)
		}
		dhcp.SetOption(out, dhcp.OptRelayAgentInfo, raw)
		out.RelayAgentIP = agentIP.AsSlice()
	default:
		agentIP := srcIP
		if ip, ok := s.RelayAgentIP(pkt.Ingress.DeviceID); ok && ip.Is4() {
			agentIP = ip
		}
		out.RelayAgentIP = agentIP.AsSlice()
	}

	data, err := dhcp.SerializeV4(dhcp.Addressing{
		SrcMAC:  serverIface.MAC,
		DstMAC:  s.ServerMAC,
		VLAN:    s.ServerVLAN,
		SrcIP:   srcIP,
		DstIP:   s.ServerIP,
		SrcPort: dhcp.ServerPortV4,
		DstPort: dhcp.ServerPortV4,
	}, out)
	if err != nil {
		return relay.RelayedFrame{}, err
	}
	return relay.RelayedFrame{Egress: s.ConnectPoint, Data: data}, nil
}

// clientAgentIP is the relay-agent address written into giaddr for a
// directly connected client.
func (h *Handler) clientAgentIP(pkt *dataplane.ParsedPacket, s *relay.ServerInfo) (netip.Addr, error) {
	if ip, ok := s.RelayAgentIP(pkt.Ingress.DeviceID); ok && ip.Is4() {
		return ip, nil
	}
	iface, ok := h.interfaces.InterfaceFor(pkt.Ingress, pkt.VLAN)
	if !ok {
		return netip.Addr{}, fmt.Errorf("client side %s vlan %d: %w", pkt.Ingress, pkt.VLAN, relay.ErrUnresolvedInterface)
	}
	ip, ok := iface.FirstIPv4()
	if !ok {
		return netip.Addr{}, fmt.Errorf("interface %s has no ipv4 address: %w", iface.Name, relay.ErrUnresolvedInterface)
	}
	return ip, nil
}
