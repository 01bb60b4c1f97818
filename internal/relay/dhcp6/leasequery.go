package dhcp6

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

// pendingQueryTTL bounds how long a forwarded LEASEQUERY waits for its
// reply.
const pendingQueryTTL = time.Minute

type queryKey struct {
	querier string
	xid     dhcpv6.TransactionID
}

// pendingQueries remembers which querier sent which LEASEQUERY so a reply
// can be attributed even before the client has a record.
type pendingQueries struct {
	mu      sync.Mutex
	entries map[queryKey]time.Time
}

func newPendingQueries() *pendingQueries {
	return &pendingQueries{entries: make(map[queryKey]time.Time)}
}

func (p *pendingQueries) add(k queryKey, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, at := range p.entries {
		if now.Sub(at) > pendingQueryTTL {
			delete(p.entries, key)
		}
	}
	p.entries[k] = now
}

func (p *pendingQueries) take(k queryKey, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.entries[k]
	delete(p.entries, k)
	return ok && now.Sub(at) <= pendingQueryTTL
}

func (p *pendingQueries) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func pendingKey(querier net.HardwareAddr, msg dhcpv6.DHCPv6) (queryKey, bool) {
	m, ok := msg.(*dhcpv6.Message)
	if !ok {
		return queryKey{}, false
	}
	return queryKey{querier: querier.String(), xid: m.TransactionID}, true
}

// leaseQuery unicasts a LEASEQUERY to every ready server. The message is
// not encapsulated; only the link and network headers are rewritten.
func (h *Handler) leaseQuery(log *slog.Logger, pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6) []relay.RelayedFrame {
	candidates, err := h.servers.Candidates(relay.FamilyV6, true)
	if err != nil {
		if errors.Is(err, relay.ErrMissingConfiguration) {
			log.Debug("No DHCPv6 server configured, dropping lease query")
		} else {
			log.Debug("No DHCPv6 server ready, dropping lease query", "error", err)
		}
		h.metrics.DroppedErr(family, err)
		return nil
	}

	frames := make([]relay.RelayedFrame, 0, len(candidates))
	for _, s := range candidates {
		frame, err := h.forwardQuery(pkt, msg, s)
		if err != nil {
			log.Debug("Skipping server candidate", "server", s.ServerIP, "error", err)
			h.metrics.DroppedErr(family, err)
			continue
		}
		frames = append(frames, frame)
		h.metrics.Relayed(family, metrics.DirectionLeaseQuery)
	}
	if len(frames) == 0 {
		return nil
	}

	if h.learnRoutes.Load() {
		h.seedLeaseQuery(log, pkt.Ethernet.SrcMAC, pkt.Ingress, pkt.VLAN, msg)
	}
	return frames
}

func (h *Handler) forwardQuery(pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6, s *relay.ServerInfo) (relay.RelayedFrame, error) {
	serverIface, ok := h.interfaces.InterfaceFor(s.ConnectPoint, s.ServerVLAN)
	if !ok {
		return relay.RelayedFrame{}, fmt.Errorf("server side %s vlan %d: %w", s.ConnectPoint, s.ServerVLAN, relay.ErrUnresolvedInterface)
	}
	payload := pkt.UDP.Payload
	if len(payload) == 0 {
		payload = msg.ToBytes()
	}
	data, err := dhcp.SerializeV6(dhcp.Addressing{
		SrcMAC:  serverIface.MAC,
		DstMAC:  s.ServerMAC,
		VLAN:    s.ServerVLAN,
		SrcIP:   dhcp.AddrFromIP(pkt.IPv6.SrcIP),
		DstIP:   s.ServerIP,
		SrcPort: uint16(pkt.UDP.SrcPort),
		DstPort: dhcp.ServerPortV6,
	}, payload)
	if err != nil {
		return relay.RelayedFrame{}, err
	}
	return relay.RelayedFrame{Egress: s.ConnectPoint, Data: data}, nil
}

// seedLeaseQuery notes the querier of query as the candidate next hop of
// the client it asks about. The client is named by the LQ_QUERY client-id,
// else by a record already holding the queried address.
func (h *Handler) seedLeaseQuery(log *slog.Logger, querier net.HardwareAddr, cp models.ConnectPoint, vlan uint16, query dhcpv6.DHCPv6) {
	if k, ok := pendingKey(querier, query); ok {
		h.queries.add(k, h.now())
	}

	q, present, err := dhcp.ParseLeaseQuery(query)
	if err != nil {
		log.Debug("Ignoring malformed lease query option", "error", err)
		return
	}
	if !present {
		return
	}

	var (
		key models.HostID
		ok  bool
	)
	if mac, found := dhcp.MACFromDUID(q.ClientID); found {
		key, ok = models.NewHostID(mac, vlan), true
	} else if q.Addr.IsValid() {
		key, ok = h.clientByLease(q.Addr, netip.Prefix{})
	}
	if !ok {
		log.Debug("Lease query client unknown, waiting for reply", "type", q.Type)
		return
	}

	h.mutate(log, key, func(rec *relay.Record) error {
		h.touch(rec, cp, relay.Indirect, dhcp.MessageTypeLeaseQuery)
		rec.NextHopTemp = append(net.HardwareAddr(nil), querier...)
		return nil
	})
}

// clientByLease finds the record holding addr or pfx.
func (h *Handler) clientByLease(addr netip.Addr, pfx netip.Prefix) (models.HostID, bool) {
	for _, rec := range h.store.List() {
		if addr.IsValid() && rec.IP6 == addr {
			return rec.Key, true
		}
		if pfx.IsValid() && rec.PDPrefix == pfx {
			return rec.Key, true
		}
	}
	return models.HostID{}, false
}

// learnLeaseQuery installs routes for the lease a LEASEQUERY-REPLY reports,
// via the querier that asked for it. The candidate next hop is promoted
// only when a query for the client, or this transaction, was seen.
func (h *Handler) learnLeaseQuery(log *slog.Logger, reply dhcpv6.DHCPv6, querier net.HardwareAddr, cp models.ConnectPoint, vlan uint16) {
	if !h.learnRoutes.Load() {
		return
	}
	asked := false
	if k, ok := pendingKey(querier, reply); ok {
		asked = h.queries.take(k, h.now())
	}

	cd, present, err := dhcp.ParseClientData(reply)
	if err != nil {
		log.Warn("Ignoring malformed client data", "error", err)
		h.metrics.DroppedErr(family, err)
		return
	}
	if !present || cd.Lease.Empty() {
		return
	}

	var key models.HostID
	if mac, ok := dhcp.MACFromDUID(cd.ClientID); ok {
		key = models.NewHostID(mac, vlan)
	} else if key, ok = h.clientByLease(cd.Lease.Addr, cd.Lease.Prefix); !ok {
		log.Debug("Lease query reply for unknown client, not installing routes")
		return
	}

	lease := cd.Lease
	now := h.now()
	var nextHop net.HardwareAddr
	err = h.store.Mutate(key, func(cur *relay.Record) (*relay.Record, error) {
		var candidate net.HardwareAddr
		switch {
		case cur != nil && len(cur.NextHopTemp) > 0:
			candidate = cur.NextHopTemp
		case asked:
			candidate = querier
		default:
			return nil, relay.ErrMissingRecord
		}
		if cur == nil {
			cur = relay.NewRecord(key)
		}
		cur.NextHop = append(net.HardwareAddr(nil), candidate...)
		cur.NextHopTemp = nil
		if lease.Addr.IsValid() {
			cur.IP6 = lease.Addr
			cur.AddrPrefTime = lease.AddrPreferred
			cur.LastIP6Update = now
		}
		if lease.Prefix.IsValid() {
			cur.PDPrefix = lease.Prefix
			cur.PDPrefTime = lease.PrefixPreferred
			cur.LastPDUpdate = now
		}
		h.touch(cur, cp, relay.Indirect, dhcp.MessageTypeLeaseQueryReply)
		nextHop = append(net.HardwareAddr(nil), cur.NextHop...)
		return cur, nil
	})
	if err != nil {
		log.Warn("Lease query reply without pending query, not installing routes", "key", key, "error", err)
		return
	}

	gw, ok := h.gatewayLinkLocal(nextHop, vlan)
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

// toQuerier forwards a LEASEQUERY-REPLY the server sent without relay
// encapsulation. The querier is the IP destination.
func (h *Handler) toQuerier(log *slog.Logger, pkt *dataplane.ParsedPacket, msg dhcpv6.DHCPv6) []relay.RelayedFrame {
	dst := dhcp.AddrFromIP(pkt.IPv6.DstIP)

	var (
		host  models.Host
		found bool
		cp    models.ConnectPoint
	)
	for _, hst := range h.hosts.HostsByIP(dst) {
		if loc, ok := hst.Location(); ok {
			host, cp, found = hst, loc, true
			break
		}
	}
	if !found {
		log.Warn("Cannot resolve lease query requester, dropping", "requester", dst)
		h.metrics.DroppedErr(family, relay.ErrMissingRecord)
		return nil
	}

	iface, ok := h.interfaces.InterfaceFor(cp, host.ID.VLAN)
	if !ok {
		log.Warn("No relay interface towards lease query requester", "egress", cp, "vlan", host.ID.VLAN)
		h.metrics.Dropped(family, metrics.ReasonUnresolvedIface)
		return nil
	}

	payload := pkt.UDP.Payload
	if len(payload) == 0 {
		payload = msg.ToBytes()
	}
	data, err := dhcp.SerializeV6(dhcp.Addressing{
		SrcMAC:  iface.MAC,
		DstMAC:  host.MAC(),
		VLAN:    host.ID.VLAN,
		SrcIP:   dhcp.AddrFromIP(pkt.IPv6.SrcIP),
		DstIP:   dst,
		SrcPort: uint16(pkt.UDP.SrcPort),
		DstPort: uint16(pkt.UDP.DstPort),
	}, payload)
	if err != nil {
		log.Error("Failed to serialize lease query reply", "error", err)
		h.metrics.Dropped(family, metrics.ReasonSerialize)
		return nil
	}

	h.learnLeaseQuery(log, msg, host.MAC(), cp, host.ID.VLAN)
	h.metrics.Relayed(family, metrics.DirectionLeaseQueryReply)
	return []relay.RelayedFrame{{Egress: cp, Data: data}}
}
