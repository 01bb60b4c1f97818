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

// leaseQuery routes a LEASEQUERY from an access node to the servers and
// remembers the querier as candidate next hop for the client.
func (h *Handler) leaseQuery(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4) []relay.RelayedFrame {
	candidates, err := h.servers.Candidates(relay.FamilyV4, true)
	if err != nil {
		log.Debug("No DHCP server for lease query, dropping", "error", err)
		h.metrics.DroppedErr(family, err)
		return nil
	}

	frames := make([]relay.RelayedFrame, 0, len(candidates))
	for _, s := range candidates {
		frame, err := h.toServer(pkt, d, relay.Indirect, s, true)
		if err != nil {
			log.Debug("Skipping server candidate", "server", s.ServerIP, "error", err)
			h.metrics.DroppedErr(family, err)
			continue
		}
		frames = append(frames, frame)
		h.metrics.Relayed(family, metrics.DirectionLeaseQuery)
	}

	if h.learnRoutes.Load() {
		key := models.NewHostID(d.ClientHWAddr, pkt.VLAN)
		h.mutate(log, key, func(rec *relay.Record) error {
			h.touch(rec, pkt.Ingress, relay.Indirect, dhcp.LeaseQuery)
			rec.NextHopTemp = append(net.HardwareAddr(nil), pkt.Ethernet.SrcMAC...)
			return nil
		})
	}
	return frames
}

// leaseActive promotes the candidate next hop learned from the query and
// points the client route at it.
func (h *Handler) leaseActive(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4) []relay.RelayedFrame {
	rec, ok := relay.FindByMAC(h.store, d.ClientHWAddr, relay.Indirect)
	if !ok {
		log.Warn("LEASEACTIVE for unknown client, dropping")
		h.metrics.DroppedErr(family, relay.ErrMissingRecord)
		return nil
	}

	if h.learnRoutes.Load() {
		if len(rec.NextHopTemp) == 0 {
			log.Warn("LEASEACTIVE without pending lease query, dropping", "key", rec.Key)
			h.metrics.DroppedErr(family, relay.ErrMissingRecord)
			return nil
		}

		ciaddr := dhcp.AddrFromIP(d.ClientIP)
		nextHop := rec.NextHopTemp
		err := h.store.Mutate(rec.Key, func(cur *relay.Record) (*relay.Record, error) {
			if cur == nil {
				return nil, relay.ErrMissingRecord
			}
			cur.NextHop = nextHop
			cur.NextHopTemp = nil
			if ciaddr.IsValid() && !ciaddr.IsUnspecified() {
				cur.IP4 = ciaddr
			}
			cur.DHCPv4Status = uint8(dhcp.LeaseActive)
			cur.Count(dhcp.LeaseActive.String())
			cur.TouchLastSeen(h.now())
			return cur, nil
		})
		if err != nil {
			log.Warn("Failed to promote lease query next hop", "key", rec.Key, "error", err)
			return nil
		}
		rec.NextHop = nextHop
		rec.NextHopTemp = nil

		if ciaddr.IsValid() && !ciaddr.IsUnspecified() {
			h.installLeaseRoute(log, rec, ciaddr)
		}
	}

	return h.toQuerier(log, pkt, d, rec)
}

func (h *Handler) installLeaseRoute(log *slog.Logger, rec *relay.Record, ip netip.Addr) {
	gw, ok := h.gatewayIPv4(rec.NextHop, rec.Key.VLAN)
	if !ok {
		log.Warn("Next-hop relay address unknown, not installing route", "ip", ip, "next_hop", rec.NextHop)
		return
	}
	route := models.Route{Prefix: netip.PrefixFrom(ip, 32), NextHop: gw, Source: models.RouteSourceDHCP}
	if err := h.routes.Replace(route); err != nil {
		log.Warn("Failed to install lease query route", "prefix", route.Prefix, "error", err)
		return
	}
	log.Debug("Installed lease query route", "prefix", route.Prefix, "next_hop", gw)
}

// leaseUnknown withdraws what the relay knew about the client and forwards
// the reply.
func (h *Handler) leaseUnknown(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4, mt dhcp.MessageType) []relay.RelayedFrame {
	rec, ok := relay.FindByMAC(h.store, d.ClientHWAddr, relay.Indirect)
	if ok && h.learnRoutes.Load() && rec.IP4.IsValid() {
		route := models.Route{Prefix: netip.PrefixFrom(rec.IP4, 32), Source: models.RouteSourceDHCP}
		if err := h.routes.Remove(route); err != nil {
			log.Warn("Failed to remove client route", "prefix", route.Prefix, "error", err)
		}
	}

	frames := h.toQuerier(log, pkt, d, rec)

	if ok {
		h.store.Remove(rec.Key)
		log.Debug("Removed relay record after lease query", "key", rec.Key, "reply", mt)
	}
	return frames
}

// toQuerier forwards a lease query reply to the access node that asked. The
// querier is the IP destination of the reply; its L2 binding comes from the
// host directory, else from the record.
func (h *Handler) toQuerier(log *slog.Logger, pkt *dataplane.ParsedPacket, d *layers.DHCPv4, rec *relay.Record) []relay.RelayedFrame {
	dst, err := h.resolveQuerier(pkt, rec)
	if err != nil {
		log.Warn("Cannot resolve lease query requester, dropping", "error", err)
		h.metrics.DroppedErr(family, err)
		return nil
	}

	iface, ok := h.interfaces.InterfaceFor(dst.cp, dst.vlan)
	if !ok {
		log.Warn("No relay interface towards lease query requester", "egress", dst.cp, "vlan", dst.vlan)
		h.metrics.Dropped(family, metrics.ReasonUnresolvedIface)
		return nil
	}

	data, err := dhcp.SerializeV4(dhcp.Addressing{
		SrcMAC:  iface.MAC,
		DstMAC:  dst.mac,
		VLAN:    dst.vlan,
		SrcIP:   dhcp.AddrFromIP(pkt.IPv4.SrcIP),
		DstIP:   dst.ip,
		SrcPort: uint16(pkt.UDP.SrcPort),
		DstPort: uint16(pkt.UDP.DstPort),
	}, cloneDHCP(d))
	if err != nil {
		log.Error("Failed to serialize lease query reply", "error", err)
		h.metrics.Dropped(family, metrics.ReasonSerialize)
		return nil
	}
	h.metrics.Relayed(family, metrics.DirectionLeaseQueryReply)
	return []relay.RelayedFrame{{Egress: dst.cp, Data: data}}
}

type querier struct {
	cp   models.ConnectPoint
	vlan uint16
	mac  net.HardwareAddr
	ip   netip.Addr
}

func (h *Handler) resolveQuerier(pkt *dataplane.ParsedPacket, rec *relay.Record) (querier, error) {
	ip := dhcp.AddrFromIP(pkt.IPv4.DstIP)
	for _, host := range h.hosts.HostsByIP(ip) {
		if cp, ok := host.Location(); ok {
			return querier{cp: cp, vlan: host.ID.VLAN, mac: host.MAC(), ip: ip}, nil
		}
	}

	if rec == nil {
		return querier{}, fmt.Errorf("requester %s: %w", ip, relay.ErrMissingRecord)
	}
	mac := rec.NextHop
	if len(mac) == 0 {
		mac = rec.NextHopTemp
	}
	cp, ok := rec.LatestLocation()
	if len(mac) == 0 || !ok {
		return querier{}, errors.Join(relay.ErrMissingRecord, fmt.Errorf("record %s has no next hop", rec.Key))
	}
	return querier{cp: cp, vlan: rec.Key.VLAN, mac: mac, ip: ip}, nil
}
