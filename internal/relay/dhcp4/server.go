package dhcp4

import (
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

// egress is where a server reply leaves towards the client.
type egress struct {
	cp     models.ConnectPoint
	vlan   uint16
	record *relay.Record
}

// fromServer relays OFFER and ACK back to the client port.
func (h *Handler) fromServer(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4, mt dhcp.MessageType, conn relay.Connectivity) []relay.RelayedFrame {
	eg, err := h.resolveEgress(d, conn)
	if err != nil {
		log.Warn("Cannot resolve client egress, dropping", "connectivity", conn, "error", err)
		h.metrics.DroppedErr(family, err)
		return nil
	}

	iface, ok := h.interfaces.InterfaceFor(eg.cp, eg.vlan)
	if !ok {
		log.Warn("No relay interface towards client, dropping", "egress", eg.cp, "vlan", eg.vlan)
		h.metrics.Dropped(family, metrics.ReasonUnresolvedIface)
		return nil
	}

	out := cloneDHCP(d)
	yiaddr := dhcp.AddrFromIP(d.YourClientIP)

	addr := dhcp.Addressing{
		SrcMAC:  iface.MAC,
		VLAN:    eg.vlan,
		SrcPort: dhcp.ServerPortV4,
	}
	if src, ok := iface.FirstIPv4(); ok {
		addr.SrcIP = src
	} else {
		addr.SrcIP = dhcp.AddrFromIP(d.RelayAgentIP)
	}

	if conn.IsDirect() {
		dhcp.RemoveOption(out, dhcp.OptRelayAgentInfo)
		addr.DstMAC = d.ClientHWAddr
		addr.DstPort = dhcp.ClientPortV4
		if dhcp.IsBroadcast(d) || !yiaddr.IsValid() || yiaddr.IsUnspecified() {
			addr.DstIP = netip.AddrFrom4([4]byte{255, 255, 255, 255})
		} else {
			addr.DstIP = yiaddr
		}
	} else {
		if eg.record == nil || len(eg.record.NextHop) == 0 {
			log.Warn("No next hop recorded for indirect client, dropping")
			h.metrics.DroppedErr(family, relay.ErrMissingRecord)
			return nil
		}
		addr.DstPort = dhcp.ServerPortV4
		addr.DstMAC = eg.record.NextHop
		if dhcp.IsBroadcast(d) {
			addr.DstMAC = broadcastMAC
		}
		if gw, ok := h.gatewayIPv4(eg.record.NextHop, eg.vlan); ok {
			addr.DstIP = gw
		} else {
			addr.DstIP = netip.AddrFrom4([4]byte{255, 255, 255, 255})
		}
	}
	if !addr.SrcIP.IsValid() {
		addr.SrcIP = netip.IPv4Unspecified()
	}

	data, err := dhcp.SerializeV4(addr, out)
	if err != nil {
		log.Error("Failed to serialize DHCP reply", "error", err)
		h.metrics.Dropped(family, metrics.ReasonSerialize)
		return nil
	}
	h.metrics.Relayed(family, metrics.DirectionServerToClient)

	key := models.NewHostID(d.ClientHWAddr, eg.vlan)
	if mt == dhcp.Ack && yiaddr.IsValid() && !yiaddr.IsUnspecified() {
		h.publishLease(log, key, eg, conn, yiaddr)
	}

	h.mutate(log, key, func(rec *relay.Record) error {
		h.touch(rec, eg.cp, conn, mt)
		if mt == dhcp.Ack && yiaddr.IsValid() {
			rec.IP4 = yiaddr
		}
		return nil
	})

	return []relay.RelayedFrame{{Egress: eg.cp, Data: data}}
}

// resolveEgress finds the client port from our own circuit-id, falling back
// to the stored record for the client MAC.
func (h *Handler) resolveEgress(d *layers.DHCPv4, conn relay.Connectivity) (egress, error) {
	if cid, ok := dhcp.OwnCircuitID(d, h.ownsCircuit); ok {
		eg := egress{cp: cid.ConnectPoint, vlan: cid.VLAN}
		if rec, ok := h.store.Get(models.NewHostID(d.ClientHWAddr, cid.VLAN)); ok {
			eg.record = rec
		}
		return eg, nil
	}

	rec, ok := relay.FindByMAC(h.store, d.ClientHWAddr, conn)
	if !ok {
		return egress{}, fmt.Errorf("client %s: %w", d.ClientHWAddr, relay.ErrMissingRecord)
	}
	cp, ok := rec.LatestLocation()
	if !ok {
		return egress{}, fmt.Errorf("client %s has no location: %w", d.ClientHWAddr, relay.ErrMissingRecord)
	}
	return egress{cp: cp, vlan: rec.Key.VLAN, record: rec}, nil
}

// publishLease makes an acknowledged address reachable: a host entry for a
// direct client, a host route via the next-hop relay otherwise.
func (h *Handler) publishLease(log *slog.Logger, key models.HostID, eg egress, conn relay.Connectivity, ip netip.Addr) {
	if conn.IsDirect() {
		h.hosts.AddIP(key, eg.cp, ip)
		log.Debug("Published client host", "ip", ip)
		return
	}

	var nextHop net.HardwareAddr
	if eg.record != nil {
		nextHop = eg.record.NextHop
	}
	if len(nextHop) == 0 {
		log.Warn("No next hop for indirect client, not installing route", "ip", ip)
		return
	}
	gw, ok := h.gatewayIPv4(nextHop, eg.vlan)
	if !ok {
		log.Warn("Next-hop relay address unknown, not installing route", "ip", ip, "next_hop", nextHop)
		return
	}

	route := models.Route{
		Prefix:  netip.PrefixFrom(ip, 32),
		NextHop: gw,
		Source:  models.RouteSourceDHCP,
	}
	if err := h.routes.Replace(route); err != nil {
		log.Warn("Failed to install client route", "prefix", route.Prefix, "next_hop", gw, "error", err)
		return
	}
	log.Debug("Installed client route", "prefix", route.Prefix, "next_hop", gw)
}
