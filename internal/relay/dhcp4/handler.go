package dhcp4

import (
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/veesix-networks/dhcprelay/internal/relay/servers"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/ifmgr"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
	"github.com/veesix-networks/dhcprelay/pkg/routing"
)

const family = "v4"

type Deps struct {
	Store      relay.Store
	Servers    servers.Source
	Interfaces ifmgr.Service
	Hosts      hosts.Service
	Routes     routing.Store
	Metrics    *metrics.Metrics
}

// Handler relays DHCPv4 between clients and the configured servers.
type Handler struct {
	store      relay.Store
	servers    servers.Source
	interfaces ifmgr.Service
	hosts      hosts.Service
	routes     routing.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger

	learnRoutes atomic.Bool
	now         func() time.Time
}

func New(deps Deps) *Handler {
	return &Handler{
		store:      deps.Store,
		servers:    deps.Servers,
		interfaces: deps.Interfaces,
		hosts:      deps.Hosts,
		routes:     deps.Routes,
		metrics:    deps.Metrics,
		logger:     logger.Get(logger.DHCP4),
		now:        time.Now,
	}
}

// SetLeaseQueryLearnRoutes toggles next-hop learning and route installation
// from lease query exchanges.
func (h *Handler) SetLeaseQueryLearnRoutes(enabled bool) {
	h.learnRoutes.Store(enabled)
}

// classify decides connectivity once. Lease query messages always come from
// another relay; a circuit-id that does not name one of our interfaces means
// an upstream relay inserted option 82.
func (h *Handler) classify(d *layers.DHCPv4, mt dhcp.MessageType) relay.Connectivity {
	if mt.IsLeaseQuery() || dhcp.HasForeignCircuitID(d, h.ownsCircuit) {
		return relay.Indirect
	}
	return relay.Direct
}

func (h *Handler) ownsCircuit(c dhcp.CircuitID) bool {
	_, ok := h.interfaces.InterfaceFor(c.ConnectPoint, c.VLAN)
	return ok
}

// ProcessDHCPPacket relays one DHCPv4 message and returns the frames to
// emit.
func (h *Handler) ProcessDHCPPacket(pkt *dataplane.ParsedPacket) []relay.RelayedFrame {
	d := pkt.DHCPv4
	if d == nil || d.Operation == 0 {
		return nil
	}

	mt := dhcp.MessageTypeOf(d)
	conn := h.classify(d, mt)
	h.metrics.Message(family, mt.String())

	log := logger.WithClient(h.logger, logger.ClientAttrs{
		MAC:          d.ClientHWAddr.String(),
		VLAN:         pkt.VLAN,
		ConnectPoint: pkt.Ingress.String(),
		MessageType:  mt.String(),
	})

	var frames []relay.RelayedFrame
	switch mt {
	case dhcp.Discover, dhcp.Request:
		frames = h.fromClient(log, pkt, d, mt, conn)
	case dhcp.Offer, dhcp.Ack:
		frames = h.fromServer(log, pkt, d, mt, conn)
	case dhcp.LeaseQuery:
		frames = h.leaseQuery(log, pkt, d)
	case dhcp.LeaseActive:
		frames = h.leaseActive(log, pkt, d)
	case dhcp.LeaseUnassigned, dhcp.LeaseUnknown:
		frames = h.leaseUnknown(log, pkt, d, mt)
	default:
		log.Debug("Not relaying DHCP message", "connectivity", conn)
		h.metrics.Dropped(family, metrics.ReasonUnhandledType)
		return nil
	}

	if len(frames) > 0 {
		log.Debug("Relayed DHCP message", "connectivity", conn, "frames", len(frames))
	}
	return frames
}

// touch applies the bookkeeping shared by every relayed message.
func (h *Handler) touch(rec *relay.Record, cp models.ConnectPoint, conn relay.Connectivity, mt dhcp.MessageType) {
	now := h.now()
	rec.AddLocation(cp, now)
	rec.DirectlyConnected = conn.IsDirect()
	rec.TouchLastSeen(now)
	rec.DHCPv4Status = uint8(mt)
	rec.Count(mt.String())
}

func (h *Handler) mutate(log *slog.Logger, key models.HostID, fn func(rec *relay.Record) error) {
	err := h.store.Mutate(key, func(cur *relay.Record) (*relay.Record, error) {
		if cur == nil {
			cur = relay.NewRecord(key)
		}
		if err := fn(cur); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		log.Warn("Failed to update relay record", "key", key, "error", err)
	}
}

// gatewayIPv4 resolves the address of the next-hop relay from the host
// directory.
func (h *Handler) gatewayIPv4(mac net.HardwareAddr, vlan uint16) (netip.Addr, bool) {
	if host, ok := h.hosts.Host(models.NewHostID(mac, vlan)); ok {
		if ip, ok := host.IPv4(); ok {
			return ip, true
		}
	}
	for _, host := range h.hosts.HostsByMAC(mac) {
		if ip, ok := host.IPv4(); ok {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

// cloneDHCP copies the message deeply enough to rewrite it per candidate.
func cloneDHCP(d *layers.DHCPv4) *layers.DHCPv4 {
	c := *d
	c.BaseLayer = layers.BaseLayer{}
	c.ClientIP = append(net.IP(nil), d.ClientIP...)
	c.YourClientIP = append(net.IP(nil), d.YourClientIP...)
	c.NextServerIP = append(net.IP(nil), d.NextServerIP...)
	c.RelayAgentIP = append(net.IP(nil), d.RelayAgentIP...)
	c.ClientHWAddr = append(net.HardwareAddr(nil), d.ClientHWAddr...)
	c.ServerName = append([]byte(nil), d.ServerName...)
	c.File = append([]byte(nil), d.File...)
	c.Options = make(layers.DHCPOptions, 0, len(d.Options))
	for _, o := range d.Options {
		if o.Type == layers.DHCPOptEnd || o.Type == layers.DHCPOptPad {
			continue
		}
		c.Options = append(c.Options, layers.NewDHCPOption(o.Type, append([]byte(nil), o.Data...)))
	}
	return &c
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
