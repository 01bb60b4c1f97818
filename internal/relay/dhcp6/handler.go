package dhcp6

import (
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"github.com/veesix-networks/dhcprelay/internal/relay/servers"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/fpm"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/ifmgr"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
	"github.com/veesix-networks/dhcprelay/pkg/routing"
)

const (
	family = "v6"

	DefaultPollInterval = 24 * time.Hour
)

type Deps struct {
	Store      relay.Store
	Servers    servers.Source
	Interfaces ifmgr.Service
	Hosts      hosts.Service
	Routes     routing.Store
	FPM        fpm.Store
	Metrics    *metrics.Metrics
}

// Handler relays DHCPv6 between clients and the configured servers using
// RELAY-FORW/RELAY-REPL encapsulation.
type Handler struct {
	store      relay.Store
	servers    servers.Source
	interfaces ifmgr.Service
	hosts      hosts.Service
	routes     routing.Store
	fpm        fpm.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	queries    *pendingQueries

	fpmEnabled   atomic.Bool
	learnRoutes  atomic.Bool
	pollInterval atomic.Int64
	now          func() time.Time
}

func New(deps Deps) *Handler {
	h := &Handler{
		store:      deps.Store,
		servers:    deps.Servers,
		interfaces: deps.Interfaces,
		hosts:      deps.Hosts,
		routes:     deps.Routes,
		fpm:        deps.FPM,
		metrics:    deps.Metrics,
		logger:     logger.Get(logger.DHCP6),
		queries:    newPendingQueries(),
		now:        time.Now,
	}
	h.pollInterval.Store(int64(DefaultPollInterval))
	return h
}

// SetFPMEnabled toggles mirroring of delegated prefix routes into the FPM
// prefix store.
func (h *Handler) SetFPMEnabled(enabled bool) {
	h.fpmEnabled.Store(enabled && h.fpm != nil)
}

func (h *Handler) SetLeaseQueryLearnRoutes(enabled bool) {
	h.learnRoutes.Store(enabled)
}

// SetPollInterval changes the sweep interval used for the expiry grace
// window. Non-positive values are ignored.
func (h *Handler) SetPollInterval(d time.Duration) {
	if d > 0 {
		h.pollInterval.Store(int64(d))
	}
}

func (h *Handler) PollInterval() time.Duration {
	return time.Duration(h.pollInterval.Load())
}

func isClientMessage(t dhcpv6.MessageType) bool {
	switch t {
	case dhcpv6.MessageTypeSolicit,
		dhcpv6.MessageTypeRequest,
		dhcpv6.MessageTypeRebind,
		dhcpv6.MessageTypeRenew,
		dhcpv6.MessageTypeRelease,
		dhcpv6.MessageTypeDecline,
		dhcpv6.MessageTypeConfirm,
		dhcpv6.MessageTypeInformationRequest,
		dhcpv6.MessageTypeRelayForward:
		return true
	}
	return false
}

// classify decides connectivity for a client-side message. Anything already
// relayed comes from another relay agent.
func classify(t dhcpv6.MessageType) relay.Connectivity {
	if t == dhcpv6.MessageTypeRelayForward {
		return relay.Indirect
	}
	return relay.Direct
}

// ProcessDHCPPacket relays one DHCPv6 message and returns the frames to
// emit.
func (h *Handler) ProcessDHCPPacket(pkt *dataplane.ParsedPacket) []relay.RelayedFrame {
	msg := pkt.DHCPv6
	if msg == nil || pkt.IPv6 == nil || pkt.UDP == nil {
		return nil
	}

	mt := msg.Type()
	name := dhcp.MessageTypeName6(mt)
	h.metrics.Message(family, name)

	log := logger.WithClient(h.logger, logger.ClientAttrs{
		MAC:          pkt.Ethernet.SrcMAC.String(),
		VLAN:         pkt.VLAN,
		ConnectPoint: pkt.Ingress.String(),
		MessageType:  name,
	})

	var frames []relay.RelayedFrame
	switch {
	case mt == dhcp.MessageTypeLeaseQuery:
		frames = h.leaseQuery(log, pkt, msg)
	case isClientMessage(mt):
		frames = h.fromClient(log, pkt, msg, classify(mt))
	case mt == dhcpv6.MessageTypeRelayReply:
		frames = h.fromServer(log, pkt, msg)
	case mt == dhcp.MessageTypeLeaseQueryReply:
		frames = h.toQuerier(log, pkt, msg)
	default:
		log.Debug("Not relaying DHCPv6 message")
		h.metrics.Dropped(family, metrics.ReasonUnhandledType)
		return nil
	}

	if len(frames) > 0 {
		log.Debug("Relayed DHCPv6 message", "frames", len(frames))
	}
	return frames
}

// touch applies the bookkeeping shared by every relayed message.
func (h *Handler) touch(rec *relay.Record, cp models.ConnectPoint, conn relay.Connectivity, mt dhcpv6.MessageType) {
	now := h.now()
	rec.AddLocation(cp, now)
	rec.DirectlyConnected = conn.IsDirect()
	rec.TouchLastSeen(now)
	rec.DHCPv6Status = uint8(mt)
	rec.Count(dhcp.MessageTypeName6(mt))
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

// gatewayLinkLocal resolves the link-local address of the next-hop relay
// from the host directory.
func (h *Handler) gatewayLinkLocal(mac net.HardwareAddr, vlan uint16) (netip.Addr, bool) {
	if host, ok := h.hosts.Host(models.NewHostID(mac, vlan)); ok {
		if ip, ok := host.LinkLocal6(); ok {
			return ip, true
		}
	}
	for _, host := range h.hosts.HostsByMAC(mac) {
		if ip, ok := host.LinkLocal6(); ok {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

func hostRoute(ip netip.Addr) netip.Prefix {
	return netip.PrefixFrom(ip, 128)
}
