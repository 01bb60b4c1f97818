package dhcp6

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

// fromClient wraps a client (or downstream relay) message in RELAY-FORW
// and sends one copy to every ready server candidate.
func (h *Handler) fromClient(log *slog.Logger, pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6, conn relay.Connectivity) []relay.RelayedFrame {
	candidates, err := h.servers.Candidates(relay.FamilyV6, !conn.IsDirect())
	if err != nil {
		if errors.Is(err, relay.ErrMissingConfiguration) {
			log.Debug("No DHCPv6 server configured, dropping")
		} else {
			log.Debug("No DHCPv6 server ready, dropping", "error", err)
		}
		h.metrics.DroppedErr(family, err)
		return nil
	}

	frames := make([]relay.RelayedFrame, 0, len(candidates))
	for _, s := range candidates {
		frame, err := h.toServer(pkt, msg, conn, s)
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

	h.recordClient(log, pkt, msg, conn)
	return frames
}

// toServer builds the RELAY-FORW for server s.
func (h *Handler) toServer(pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6, conn relay.Connectivity, s *relay.ServerInfo) (relay.RelayedFrame, error) {
	serverIface, ok := h.interfaces.InterfaceFor(s.ConnectPoint, s.ServerVLAN)
	if !ok {
		return relay.RelayedFrame{}, fmt.Errorf("server side %s vlan %d: %w", s.ConnectPoint, s.ServerVLAN, relay.ErrUnresolvedInterface)
	}
	srcIP, ok := serverIface.GlobalIPv6()
	if !ok {
		if srcIP, ok = serverIface.LinkLocal6(); !ok {
			return relay.RelayedFrame{}, fmt.Errorf("interface %s has no ipv6 address: %w", serverIface.Name, relay.ErrUnresolvedInterface)
		}
	}

	linkAddr, err := h.linkAddress(pkt, conn, s)
	if err != nil {
		return relay.RelayedFrame{}, err
	}

	var hops uint8
	if rm, ok := msg.(*dhcpv6.RelayMessage); ok {
		hops = rm.HopCount + 1
	}

	iid := dhcp.InterfaceID{MAC: pkt.Ethernet.SrcMAC, ConnectPoint: pkt.Ingress, VLAN: pkt.VLAN}
	forw := dhcp.Wrap(msg, hops, linkAddr, dhcp.AddrFromIP(pkt.IPv6.SrcIP), iid.Encode())

	data, err := dhcp.SerializeV6(dhcp.Addressing{
		SrcMAC:  serverIface.MAC,
		DstMAC:  s.ServerMAC,
		VLAN:    s.ServerVLAN,
		SrcIP:   srcIP,
		DstIP:   s.ServerIP,
		SrcPort: dhcp.ServerPortV6,
		DstPort: dhcp.ServerPortV6,
	}, forw.ToBytes())
	if err != nil {
		return relay.RelayedFrame{}, err
	}
	return relay.RelayedFrame{Egress: s.ConnectPoint, Data: data}, nil
}

// linkAddress picks the RELAY-FORW link-address. A direct client is
// identified by the client-facing interface; for a downstream relay the
// field stays unspecified unless an address is configured for the device.
func (h *Handler) linkAddress(pkt *dataplane.ParsedPacket, conn relay.Connectivity, s *relay.ServerInfo) (netip.Addr, error) {
	if ip, ok := s.RelayAgentIP(pkt.Ingress.DeviceID); ok && ip.Is6() {
		return ip, nil
	}
	if !conn.IsDirect() {
		return netip.IPv6Unspecified(), nil
	}
	iface, ok := h.interfaces.InterfaceFor(pkt.Ingress, pkt.VLAN)
	if !ok {
		return netip.Addr{}, fmt.Errorf("client side %s vlan %d: %w", pkt.Ingress, pkt.VLAN, relay.ErrUnresolvedInterface)
	}
	ip, ok := iface.GlobalIPv6()
	if !ok {
		return netip.Addr{}, fmt.Errorf("interface %s has no global ipv6 address: %w", iface.Name, relay.ErrUnresolvedInterface)
	}
	return ip, nil
}

// recordClient updates the record of the client behind msg. Side effects
// of a RELEASE run after the record is written. A relayed LEASEQUERY only
// seeds the candidate next hop of the client it asks about.
func (h *Handler) recordClient(log *slog.Logger, pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6, conn relay.Connectivity) {
	mt := msg.Type()

	leaf, _, err := dhcp.Unwrap(msg)
	if err != nil {
		log.Debug("Cannot unwrap relayed message", "error", err)
	}
	if leaf != nil && leaf.Type() == dhcp.MessageTypeLeaseQuery {
		if h.learnRoutes.Load() {
			h.seedLeaseQuery(log, pkt.Ethernet.SrcMAC, pkt.Ingress, pkt.VLAN, leaf)
		}
		return
	}
	release := leaf != nil && leaf.Type() == dhcpv6.MessageTypeRelease

	var key models.HostID
	if conn.IsDirect() {
		key = pkt.HostID()
	} else {
		mac, ok := dhcp.ClientMAC(msg)
		if !ok {
			log.Debug("Client MAC unknown behind downstream relay, not recording")
			return
		}
		key = models.NewHostID(mac, pkt.VLAN)
	}

	var effects []func()
	h.mutate(log, key, func(rec *relay.Record) error {
		h.touch(rec, pkt.Ingress, conn, mt)
		if !conn.IsDirect() {
			rec.NextHop = append(net.HardwareAddr(nil), pkt.Ethernet.SrcMAC...)
		}
		if release {
			effects = h.release(log, rec)
		}
		return nil
	})
	for _, fn := range effects {
		fn()
	}
}

// release clears the v6 lease of rec and returns the directory, route and
// FPM withdrawals to run once the record is written. The record itself is
// left for the expiry sweep.
func (h *Handler) release(log *slog.Logger, rec *relay.Record) []func() {
	var effects []func()
	key := rec.Key

	if ip := rec.IP6; ip.IsValid() {
		if rec.DirectlyConnected {
			effects = append(effects, func() { h.hosts.RemoveIP(key, ip) })
		} else {
			effects = append(effects, func() { h.removeRoute(log, hostRoute(ip)) })
		}
		rec.IP6 = netip.Addr{}
	}
	if pfx := rec.PDPrefix; pfx.IsValid() {
		if !rec.DirectlyConnected {
			effects = append(effects, func() {
				h.removeRoute(log, pfx)
				h.removeFPM(log, pfx)
			})
		}
		rec.PDPrefix = netip.Prefix{}
	}
	return effects
}

func (h *Handler) removeRoute(log *slog.Logger, pfx netip.Prefix) {
	if err := h.routes.Remove(models.Route{Prefix: pfx, Source: models.RouteSourceDHCP}); err != nil {
		log.Warn("Failed to remove client route", "prefix", pfx, "error", err)
	}
}

func (h *Handler) removeFPM(log *slog.Logger, pfx netip.Prefix) {
	if !h.fpmEnabled.Load() {
		return
	}
	if err := h.fpm.Remove(pfx); err != nil {
		log.Warn("Failed to withdraw FPM prefix", "prefix", pfx, "error", err)
	}
}
