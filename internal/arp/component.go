package arp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"

	arppkt "github.com/veesix-networks/dhcprelay/pkg/arp"
	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/ifmgr"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// Component learns end stations from ARP and neighbor discovery into the
// host directory, answers ARP for relay interface addresses and probes
// addresses the directory is waiting for.
type Component struct {
	*component.Base

	logger     *slog.Logger
	hosts      hosts.Service
	interfaces ifmgr.Service
	packets    dataplane.PacketService
	now        func() time.Time
}

var _ hosts.Prober = (*Component)(nil)

func New(hostSvc hosts.Service, ifaces ifmgr.Service, packets dataplane.PacketService) *Component {
	return &Component{
		Base:       component.NewBase("arp"),
		logger:     logger.Get(logger.ARP),
		hosts:      hostSvc,
		interfaces: ifaces,
		packets:    packets,
		now:        time.Now,
	}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting host learner")
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping host learner")
	c.StopContext()
	return nil
}

// HandlePacket consumes one ARP or NDP frame.
func (c *Component) HandlePacket(pkt *dataplane.ParsedPacket) {
	switch pkt.Class {
	case dataplane.ClassARP:
		if err := c.handleARP(pkt); err != nil {
			c.logger.Debug("Error handling ARP packet", "error", err, "ingress", pkt.Ingress)
		}
	case dataplane.ClassNDP:
		c.handleNDP(pkt)
	}
}

func (c *Component) handleARP(pkt *dataplane.ParsedPacket) error {
	a := pkt.ARP
	mac, ip, ok := arppkt.Sender(a)
	if !ok {
		return fmt.Errorf("no usable sender binding")
	}
	c.learn(pkt, mac, ip)

	if a.Operation != layers.ARPRequest {
		return nil
	}
	target, ok := netip.AddrFromSlice(a.DstProtAddress)
	if !ok {
		return nil
	}
	iface, ok := c.interfaces.InterfaceFor(pkt.Ingress, pkt.VLAN)
	if !ok || !owns(iface, target) {
		return nil
	}

	reply, err := arppkt.BuildReply(arppkt.Source{MAC: iface.MAC, VLAN: pkt.VLAN, IP: target}, a)
	if err != nil {
		return err
	}
	if err := c.packets.Emit(pkt.Ingress, reply); err != nil {
		return fmt.Errorf("emit arp reply: %w", err)
	}
	c.logger.Debug("Sent ARP reply", "target_ip", target, "requester", mac)
	return nil
}

func (c *Component) handleNDP(pkt *dataplane.ParsedPacket) {
	switch {
	case pkt.NA != nil:
		mac, ip, ok := arppkt.Advertised(pkt.NA)
		if !ip.IsValid() {
			return
		}
		if !ok {
			mac = pkt.Ethernet.SrcMAC
		}
		c.learn(pkt, mac, ip)
	case pkt.NS != nil && pkt.IPv6 != nil:
		src, _ := netip.AddrFromSlice(pkt.IPv6.SrcIP)
		if mac, ok := arppkt.Solicitor(src, pkt.NS); ok {
			c.learn(pkt, mac, src)
		}
	}
}

func (c *Component) learn(pkt *dataplane.ParsedPacket, mac net.HardwareAddr, ip netip.Addr) {
	if ip.IsMulticast() || ip.IsUnspecified() {
		return
	}
	id := models.NewHostID(mac, pkt.VLAN)
	c.hosts.AddOrUpdate(models.Host{
		ID:        id,
		Locations: []models.HostLocation{{ConnectPoint: pkt.Ingress, Time: c.now()}},
		IPs:       []netip.Addr{ip},
	})
}

// Probe solicits ip out of every relay interface whose subnet covers it.
func (c *Component) Probe(ip netip.Addr) {
	for _, iface := range c.interfaces.Covering(ip) {
		if err := c.send(iface, ip); err != nil {
			c.logger.Debug("Failed to probe address", "ip", ip, "interface", iface.Name, "error", err)
		}
	}
}

// Solicit sends one neighbor solicitation for target from the relay
// interface at cp and vlan.
func (c *Component) Solicit(cp models.ConnectPoint, vlan uint16, target netip.Addr) error {
	iface, ok := c.interfaces.InterfaceFor(cp, vlan)
	if !ok {
		return fmt.Errorf("no relay interface at %s vlan %d", cp, vlan)
	}
	iface.VLAN = vlan
	return c.send(iface, target)
}

func (c *Component) send(iface models.Interface, target netip.Addr) error {
	var (
		frame []byte
		err   error
	)
	if target.Is4() {
		src, ok := sourceFor(iface.IPv4, target)
		if !ok {
			return fmt.Errorf("interface %s has no ipv4 address", iface.Name)
		}
		frame, err = arppkt.BuildRequest(arppkt.Source{MAC: iface.MAC, VLAN: iface.VLAN, IP: src}, target)
	} else {
		src, ok := iface.LinkLocal6()
		if !ok {
			if src, ok = iface.GlobalIPv6(); !ok {
				return fmt.Errorf("interface %s has no ipv6 address", iface.Name)
			}
		}
		frame, err = arppkt.BuildNeighborSolicitation(arppkt.Source{MAC: iface.MAC, VLAN: iface.VLAN, IP: src}, target)
	}
	if err != nil {
		return err
	}
	return c.packets.Emit(iface.ConnectPoint, frame)
}

// sourceFor prefers an address from the subnet containing target.
func sourceFor(prefixes []netip.Prefix, target netip.Addr) (netip.Addr, bool) {
	for _, p := range prefixes {
		if p.Contains(target) {
			return p.Addr(), true
		}
	}
	if len(prefixes) > 0 {
		return prefixes[0].Addr(), true
	}
	return netip.Addr{}, false
}

func owns(iface models.Interface, ip netip.Addr) bool {
	for _, p := range append(append([]netip.Prefix(nil), iface.IPv4...), iface.IPv6...) {
		if p.Addr() == ip {
			return true
		}
	}
	return false
}
