package dhcp6

import (
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

// fromServer unwraps a RELAY-REPL and sends the next layer towards the
// client. With nested relays the inner RELAY-REPL goes to the downstream
// relay agent; otherwise the leaf goes to the client itself.
func (h *Handler) fromServer(log *slog.Logger, pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6) []relay.RelayedFrame {
	leaf, chain, err := dhcp.Unwrap(msg)
	if err != nil {
		log.Warn("Dropping undeliverable relay reply", "error", err)
		h.metrics.DroppedErr(family, err)
		return nil
	}
	outer := chain[0]

	iid, err := dhcp.ParseInterfaceID(outer.Options.InterfaceID())
	if err != nil {
		log.Warn("Relay reply without a usable interface-id, dropping", "error", err)
		h.metrics.DroppedErr(family, err)
		return nil
	}

	conn := relay.Direct
	payload := leaf.ToBytes()
	dstPort := dhcp.ClientPortV6
	if len(chain) > 1 {
		conn = relay.Indirect
		payload = chain[1].ToBytes()
		dstPort = dhcp.ServerPortV6
	} else if leaf.Type() == dhcp.MessageTypeLeaseQueryReply {
		conn = relay.Indirect
		dstPort = dhcp.ServerPortV6
	}

	iface, ok := h.interfaces.InterfaceFor(iid.ConnectPoint, iid.VLAN)
	if !ok {
		log.Warn("No relay interface towards client, dropping", "egress", iid.ConnectPoint, "vlan", iid.VLAN)
		h.metrics.Dropped(family, metrics.ReasonUnresolvedIface)
		return nil
	}

	peer := dhcp.AddrFromIP(outer.PeerAddr)
	dstMAC := iid.MAC
	if known := h.hosts.HostsByIP(peer); len(known) > 0 {
		dstMAC = known[0].MAC()
	}

	srcIP, ok := iface.LinkLocal6()
	if !ok {
		if srcIP, ok = iface.GlobalIPv6(); !ok {
			srcIP = dhcp.AddrFromIP(outer.LinkAddr)
		}
	}

	data, err := dhcp.SerializeV6(dhcp.Addressing{
		SrcMAC:  iface.MAC,
		DstMAC:  dstMAC,
		VLAN:    iid.VLAN,
		SrcIP:   srcIP,
		DstIP:   peer,
		SrcPort: dhcp.ServerPortV6,
		DstPort: dstPort,
	}, payload)
	if err != nil {
		log.Error("Failed to serialize DHCPv6 reply", "error", err)
		h.metrics.Dropped(family, metrics.ReasonSerialize)
		return nil
	}

	switch leaf.Type() {
	case dhcpv6.MessageTypeReply:
		h.recordReply(log, msg, leaf, iid, conn)
		h.metrics.Relayed(family, metrics.DirectionServerToClient)
	case dhcp.MessageTypeLeaseQueryReply:
		h.learnLeaseQuery(log, leaf, iid.MAC, iid.ConnectPoint, iid.VLAN)
		h.metrics.Relayed(family, metrics.DirectionLeaseQueryReply)
	default:
		h.mutateKnown(log, msg, iid, conn, func(rec *relay.Record) {
			h.touch(rec, iid.ConnectPoint, conn, leaf.Type())
		})
		h.metrics.Relayed(family, metrics.DirectionServerToClient)
	}

	return []relay.RelayedFrame{{Egress: iid.ConnectPoint, Data: data}}
}

// clientKey finds the record key of the client a reply is for. A direct
// client is named by the interface-id; behind another relay the client MAC
// has to come from the message itself.
func clientKey(msg dhcpv6.DHCPv6, iid dhcp.InterfaceID, conn relay.Connectivity) (models.HostID, bool) {
	if conn.IsDirect() {
		return models.NewHostID(iid.MAC, iid.VLAN), true
	}
	mac, ok := dhcp.ClientMAC(msg)
	if !ok {
		return models.HostID{}, false
	}
	return models.NewHostID(mac, iid.VLAN), true
}

func (h *Handler) mutateKnown(log *slog.Logger, msg dhcpv6.DHCPv6, iid dhcp.InterfaceID, conn relay.Connectivity, fn func(rec *relay.Record)) {
	key, ok := clientKey(msg, iid, conn)
	if !ok {
		log.Debug("Client MAC unknown behind downstream relay, not recording")
		return
	}
	h.mutate(log, key, func(rec *relay.Record) error {
		fn(rec)
		return nil
	})
}

// recordReply stores the lease granted by a leaf REPLY and makes it
// reachable: a host address for a direct client, host and prefix routes via
// the downstream relay otherwise.
func (h *Handler) recordReply(log *slog.Logger, msg, leaf dhcpv6.DHCPv6, iid dhcp.InterfaceID, conn relay.Connectivity) {
	reply, ok := leaf.(*dhcpv6.Message)
	if !ok {
		return
	}
	lease := dhcp.ExtractLease(reply.Options)

	key, ok := clientKey(msg, iid, conn)
	if !ok {
		log.Debug("Client MAC unknown behind downstream relay, not recording")
		return
	}

	now := h.now()
	var nextHop net.HardwareAddr
	h.mutate(log, key, func(rec *relay.Record) error {
		h.touch(rec, iid.ConnectPoint, conn, dhcpv6.MessageTypeReply)
		if lease.Addr.IsValid() {
			rec.IP6 = lease.Addr
			rec.AddrPrefTime = lease.AddrPreferred
			rec.LastIP6Update = now
		}
		if lease.Prefix.IsValid() {
			rec.PDPrefix = lease.Prefix
			rec.PDPrefTime = lease.PrefixPreferred
			rec.LastPDUpdate = now
		}
		nextHop = append(net.HardwareAddr(nil), rec.NextHop...)
		return nil
	})

	if lease.Empty() {
		return
	}
	if conn.IsDirect() {
		if lease.Addr.IsValid() {
			h.hosts.AddIP(key, iid.ConnectPoint, lease.Addr)
			log.Debug("Published client host", "ip", lease.Addr)
		}
		return
	}

	if len(nextHop) == 0 {
		log.Warn("No next hop for indirect client, not installing routes")
		return
	}
	gw, ok := h.gatewayLinkLocal(nextHop, key.VLAN)
	if !ok {
		log.Warn("Next-hop relay link-local address unknown, not installing routes", "next_hop", nextHop)
		return
	}
	if lease.Addr.IsValid() {
		h.installRoute(log, hostRoute(lease.Addr), gw)
	}
	if lease.Prefix.IsValid() {
		h.installRoute(log, lease.Prefix, gw)
		h.exportPrefix(log, lease.Prefix, gw)
	}
}

func (h *Handler) installRoute(log *slog.Logger, pfx netip.Prefix, gw netip.Addr) {
	route := models.Route{Prefix: pfx, NextHop: gw, Source: models.RouteSourceDHCP}
	if err := h.routes.Replace(route); err != nil {
		log.Warn("Failed to install client route", "prefix", pfx, "next_hop", gw, "error", err)
		return
	}
	log.Debug("Installed client route", "prefix", pfx, "next_hop", gw)
}

func (h *Handler) exportPrefix(log *slog.Logger, pfx netip.Prefix, gw netip.Addr) {
	if !h.fpmEnabled.Load() {
		return
	}
	if err := h.fpm.Add(models.FpmRecord{Prefix: pfx, NextHop: gw, Type: models.RouteSourceDHCP}); err != nil {
		log.Warn("Failed to export FPM prefix", "prefix", pfx, "error", err)
	}
}
