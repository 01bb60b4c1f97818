package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"golang.org/x/sync/errgroup"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/flowrule"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	records "github.com/veesix-networks/dhcprelay/pkg/relay"
)

const (
	DefaultWorkers       = 64
	DefaultProbeCount    = 3
	DefaultProbeInterval = time.Second
)

// Handler relays the DHCP messages of one address family.
type Handler interface {
	ProcessDHCPPacket(pkt *dataplane.ParsedPacket) []records.RelayedFrame
}

// V6Handler is the IPv6 handler, which also owns lease expiry.
type V6Handler interface {
	Handler
	ExpireRecords(now time.Time) int
	SetPollInterval(d time.Duration)
	PollInterval() time.Duration
}

// Learner consumes ARP and NDP frames and solicits neighbors on demand.
type Learner interface {
	HandlePacket(pkt *dataplane.ParsedPacket)
	Solicit(cp models.ConnectPoint, vlan uint16, target netip.Addr) error
}

type IgnoreRule struct {
	Device string
	VLAN   uint16
}

type Config struct {
	IgnoreVLANs    []IgnoreRule
	Workers        int
	RelearnDevices []string
	ProbeCount     int
	ProbeInterval  time.Duration
}

type Deps struct {
	Packets dataplane.PacketService
	Rules   flowrule.Installer
	Bus     events.Bus
	Store   records.Store
	DHCP4   Handler
	DHCP6   V6Handler
	Learner Learner
	Metrics *metrics.Metrics
}

type ignoreKey struct {
	device string
	vlan   uint16
}

type ignoreSet map[ignoreKey]struct{}

// Dispatcher receives punted frames, routes them to the protocol handlers on
// a bounded worker pool and emits whatever they produce.
type Dispatcher struct {
	*component.Base

	cfg     Config
	logger  *slog.Logger
	packets dataplane.PacketService
	rules   flowrule.Installer
	bus     events.Bus
	store   records.Store
	v4      Handler
	v6      V6Handler
	learner Learner
	metrics *metrics.Metrics

	pool        *errgroup.Group
	processorID int
	deviceSub   events.Subscription

	ignoreMu sync.Mutex
	ignored  atomic.Pointer[ignoreSet]

	relearn    map[string]struct{}
	resetSweep chan time.Duration
}

func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = DefaultProbeCount
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}

	pool := new(errgroup.Group)
	pool.SetLimit(cfg.Workers)

	d := &Dispatcher{
		Base:       component.NewBase("relay"),
		cfg:        cfg,
		logger:     logger.Get(logger.Relay),
		packets:    deps.Packets,
		rules:      deps.Rules,
		bus:        deps.Bus,
		store:      deps.Store,
		v4:         deps.DHCP4,
		v6:         deps.DHCP6,
		learner:    deps.Learner,
		metrics:    deps.Metrics,
		pool:       pool,
		relearn:    make(map[string]struct{}, len(cfg.RelearnDevices)),
		resetSweep: make(chan time.Duration, 1),
	}
	for _, dev := range cfg.RelearnDevices {
		d.relearn[dev] = struct{}{}
	}
	empty := ignoreSet{}
	d.ignored.Store(&empty)
	return d
}

func selectors() []dataplane.Selector {
	udp4 := func(port uint16) dataplane.Selector {
		return dataplane.Selector{EtherType: layers.EthernetTypeIPv4, IPProtocol: layers.IPProtocolUDP, UDPDstPort: port}
	}
	udp6 := func(port uint16) dataplane.Selector {
		return dataplane.Selector{EtherType: layers.EthernetTypeIPv6, IPProtocol: layers.IPProtocolUDP, UDPDstPort: port}
	}
	ndp := func(t uint8) dataplane.Selector {
		return dataplane.Selector{EtherType: layers.EthernetTypeIPv6, IPProtocol: layers.IPProtocolICMPv6, ICMPv6Type: t}
	}
	return []dataplane.Selector{
		udp4(67), udp4(68),
		udp6(546), udp6(547),
		{EtherType: layers.EthernetTypeARP},
		ndp(layers.ICMPv6TypeNeighborSolicitation),
		ndp(layers.ICMPv6TypeNeighborAdvertisement),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.StartContext(ctx)
	d.logger.Info("Starting relay dispatcher", "workers", d.cfg.Workers, "poll_interval", d.v6.PollInterval())

	d.processorID = d.packets.AddProcessor(d.receive)
	for _, sel := range selectors() {
		d.packets.RequestPackets(sel, dataplane.PriorityControl)
	}

	if d.bus != nil {
		d.deviceSub = d.bus.Subscribe(events.TopicDevice, d.onDeviceEvent)
	}
	d.installIgnoreRules("")

	d.Go(d.sweepLoop)
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("Stopping relay dispatcher")

	for _, sel := range selectors() {
		d.packets.CancelPackets(sel)
	}
	d.packets.RemoveProcessor(d.processorID)
	if d.deviceSub != nil {
		d.deviceSub.Unsubscribe()
	}
	d.removeIgnoreRules()

	d.StopContext()
	return d.pool.Wait()
}

// Ignored reports whether frames from (device, vlan) are currently dropped.
func (d *Dispatcher) Ignored(device string, vlan uint16) bool {
	_, ok := (*d.ignored.Load())[ignoreKey{device: device, vlan: vlan}]
	return ok
}

// SetPollInterval changes the v6 expiry interval and restarts the sweep
// timer. Non-positive values are ignored.
func (d *Dispatcher) SetPollInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.v6.SetPollInterval(interval)
	select {
	case <-d.resetSweep:
	default:
	}
	d.resetSweep <- interval
}

func familyOf(c dataplane.Class) string {
	switch c {
	case dataplane.ClassDHCPv6, dataplane.ClassNDP:
		return "v6"
	default:
		return "v4"
	}
}

func (d *Dispatcher) receive(pkt *dataplane.ParsedPacket) {
	if !d.Running() {
		return
	}
	d.metrics.Received(pkt.Class.String())

	family := familyOf(pkt.Class)
	if d.Ignored(pkt.Ingress.DeviceID, pkt.VLAN) {
		d.metrics.Dropped(family, metrics.ReasonIgnoredVLAN)
		return
	}

	ok := d.pool.TryGo(func() error {
		d.metrics.WorkerBusy(1)
		defer d.metrics.WorkerBusy(-1)
		d.process(pkt)
		return nil
	})
	if !ok {
		d.metrics.Dropped(family, metrics.ReasonPoolSaturated)
		d.logger.Debug("Worker pool saturated, dropping frame", "class", pkt.Class, "ingress", pkt.Ingress)
	}
}

func (d *Dispatcher) process(pkt *dataplane.ParsedPacket) {
	switch pkt.Class {
	case dataplane.ClassDHCPv4:
		d.emit("v4", d.v4.ProcessDHCPPacket(pkt))
	case dataplane.ClassDHCPv6:
		d.emit("v6", d.v6.ProcessDHCPPacket(pkt))
	case dataplane.ClassARP, dataplane.ClassNDP:
		if d.learner != nil {
			d.learner.HandlePacket(pkt)
		}
	}
}

func (d *Dispatcher) emit(family string, frames []records.RelayedFrame) {
	for _, f := range frames {
		if err := d.packets.Emit(f.Egress, f.Data); err != nil {
			d.metrics.Dropped(family, metrics.ReasonEmit)
			d.logger.Warn("Failed to emit frame", "egress", f.Egress, "error", err)
		}
	}
}

func (d *Dispatcher) sweepLoop() {
	ticker := time.NewTicker(d.v6.PollInterval())
	defer ticker.Stop()

	log := d.logger.WithGroup(logger.RelaySweep)
	for {
		select {
		case <-d.Ctx.Done():
			return
		case interval := <-d.resetSweep:
			ticker.Reset(interval)
			log.Info("Expiry interval changed", "interval", interval)
		case now := <-ticker.C:
			if n := d.v6.ExpireRecords(now); n > 0 {
				log.Info("Expired IPv6 leases", "count", n)
			}
		}
	}
}

func (d *Dispatcher) onDeviceEvent(ev events.Event) {
	de, ok := ev.Data.(events.DeviceEvent)
	if !ok {
		return
	}
	switch de.Type {
	case events.DeviceAvailable:
		d.installIgnoreRules(de.DeviceID)
	case events.PortUp:
		if _, ok := d.relearn[de.DeviceID]; ok {
			d.relearnPort(models.ConnectPoint{DeviceID: de.DeviceID, Port: de.Port})
		}
	}
}

func ignoreRule(r IgnoreRule) flowrule.Rule {
	return flowrule.Rule{
		DeviceID: r.Device,
		VLAN:     r.VLAN,
		Priority: dataplane.PriorityControl,
		Action:   flowrule.ActionDrop,
	}
}

// installIgnoreRules programs drop rules for device, or for every configured
// device when device is empty. The ignore set changes only once the
// installer confirms.
func (d *Dispatcher) installIgnoreRules(device string) {
	if d.rules == nil {
		return
	}
	for _, r := range d.cfg.IgnoreVLANs {
		if device != "" && r.Device != device {
			continue
		}
		d.rules.Install(ignoreRule(r), func(err error) {
			if err != nil {
				d.logger.Warn("Failed to install ignore rule", "device", r.Device, "vlan", r.VLAN, "error", fmt.Errorf("%w: %w", records.ErrForwardingRule, err))
				return
			}
			d.updateIgnored(ignoreKey{device: r.Device, vlan: r.VLAN}, true)
			d.logger.Debug("Ignoring VLAN", "device", r.Device, "vlan", r.VLAN)
		})
	}
}

func (d *Dispatcher) removeIgnoreRules() {
	if d.rules == nil {
		return
	}
	for _, r := range d.cfg.IgnoreVLANs {
		d.rules.Uninstall(ignoreRule(r), func(err error) {
			if err != nil {
				d.logger.Warn("Failed to remove ignore rule", "device", r.Device, "vlan", r.VLAN, "error", err)
				return
			}
			d.updateIgnored(ignoreKey{device: r.Device, vlan: r.VLAN}, false)
		})
	}
}

func (d *Dispatcher) updateIgnored(k ignoreKey, add bool) {
	d.ignoreMu.Lock()
	defer d.ignoreMu.Unlock()

	cur := *d.ignored.Load()
	next := make(ignoreSet, len(cur)+1)
	for key := range cur {
		next[key] = struct{}{}
	}
	if add {
		next[k] = struct{}{}
	} else {
		delete(next, k)
	}
	d.ignored.Store(&next)
}

// relearnPort solicits the IPv6 address of every directly connected client
// last seen on cp.
func (d *Dispatcher) relearnPort(cp models.ConnectPoint) {
	if d.store == nil || d.learner == nil {
		return
	}
	log := d.logger.WithGroup(logger.RelayRelearn)

	for _, rec := range d.store.List() {
		if !rec.DirectlyConnected || !rec.IP6.IsValid() {
			continue
		}
		if loc, ok := rec.LatestLocation(); !ok || loc != cp {
			continue
		}
		vlan, target := rec.Key.VLAN, rec.IP6
		log.Debug("Relearning host after port up", "cp", cp, "mac", rec.Key.MAC, "ip", target)
		d.Go(func() { d.probe(log, cp, vlan, target) })
	}
}

func (d *Dispatcher) probe(log *slog.Logger, cp models.ConnectPoint, vlan uint16, target netip.Addr) {
	for i := 0; i < d.cfg.ProbeCount; i++ {
		if i > 0 {
			select {
			case <-d.Ctx.Done():
				return
			case <-time.After(d.cfg.ProbeInterval):
			}
		}
		if err := d.learner.Solicit(cp, vlan, target); err != nil {
			log.Debug("Failed to send neighbor solicitation", "cp", cp, "ip", target, "error", err)
			return
		}
	}
}
