package hosts

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

const defaultProbeInterval = 30 * time.Second

// Directory is an in-memory host directory. Every change is published on
// events.TopicHost.
type Directory struct {
	*component.Base

	mu        sync.RWMutex
	hosts     map[models.HostID]*models.Host
	monitored map[netip.Addr]struct{}

	prober        Prober
	probeInterval time.Duration
	bus           events.Bus
	logger        *slog.Logger
	now           func() time.Time
}

var _ Service = (*Directory)(nil)

func NewDirectory(bus events.Bus) *Directory {
	return &Directory{
		Base:          component.NewBase("hosts"),
		hosts:         make(map[models.HostID]*models.Host),
		monitored:     make(map[netip.Addr]struct{}),
		probeInterval: defaultProbeInterval,
		bus:           bus,
		logger:        logger.Get(logger.Hosts),
		now:           time.Now,
	}
}

func (d *Directory) SetProber(p Prober) {
	d.mu.Lock()
	d.prober = p
	d.mu.Unlock()
}

func (d *Directory) SetProbeInterval(interval time.Duration) {
	if interval > 0 {
		d.probeInterval = interval
	}
}

func (d *Directory) Start(ctx context.Context) error {
	d.StartContext(ctx)
	d.Go(d.probeLoop)
	return nil
}

func (d *Directory) Stop(ctx context.Context) error {
	d.StopContext()
	return nil
}

func (d *Directory) probeLoop() {
	ticker := time.NewTicker(d.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.Ctx.Done():
			return
		case <-ticker.C:
			d.probeUnresolved()
		}
	}
}

func (d *Directory) probeUnresolved() {
	d.mu.RLock()
	prober := d.prober
	var pending []netip.Addr
	for ip := range d.monitored {
		if len(d.hostsByIPLocked(ip)) == 0 {
			pending = append(pending, ip)
		}
	}
	d.mu.RUnlock()

	if prober == nil {
		return
	}
	for _, ip := range pending {
		prober.Probe(ip)
	}
}

func (d *Directory) Host(id models.HostID) (models.Host, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hosts[id]
	if !ok {
		return models.Host{}, false
	}
	return h.Clone(), true
}

func (d *Directory) HostsByIP(ip netip.Addr) []models.Host {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hostsByIPLocked(ip)
}

func (d *Directory) hostsByIPLocked(ip netip.Addr) []models.Host {
	var out []models.Host
	for _, h := range d.hosts {
		if h.HasIP(ip) {
			out = append(out, h.Clone())
		}
	}
	return out
}

func (d *Directory) HostsByMAC(mac net.HardwareAddr) []models.Host {
	want := strings.ToLower(mac.String())
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Host
	for id, h := range d.hosts {
		if id.MAC == want {
			out = append(out, h.Clone())
		}
	}
	return out
}

// AddOrUpdate merges h into the directory: IPs are unioned and locations
// refreshed.
func (d *Directory) AddOrUpdate(h models.Host) {
	now := d.now()

	d.mu.Lock()
	cur, exists := d.hosts[h.ID]
	if !exists {
		stored := h.Clone()
		for i := range stored.Locations {
			if stored.Locations[i].Time.IsZero() {
				stored.Locations[i].Time = now
			}
		}
		stored.UpdatedAt = now
		d.hosts[h.ID] = &stored
		d.mu.Unlock()
		d.publish(events.HostAdded, stored, nil)
		return
	}

	prev := cur.Clone()
	prevLoc, _ := prev.Location()
	changed := false
	for _, ip := range h.IPs {
		if !cur.HasIP(ip) {
			cur.IPs = append(cur.IPs, ip)
			changed = true
		}
	}
	for _, loc := range h.Locations {
		if loc.Time.IsZero() {
			loc.Time = now
		}
		if mergeLocation(cur, loc) {
			changed = true
		}
	}
	cur.UpdatedAt = now
	next := cur.Clone()
	d.mu.Unlock()

	if !changed {
		return
	}
	if loc, ok := next.Location(); ok && loc != prevLoc {
		d.publish(events.HostMoved, next, &prev)
		return
	}
	d.publish(events.HostUpdated, next, &prev)
}

func mergeLocation(h *models.Host, loc models.HostLocation) bool {
	for i := range h.Locations {
		if h.Locations[i].ConnectPoint == loc.ConnectPoint {
			if loc.Time.After(h.Locations[i].Time) {
				h.Locations[i].Time = loc.Time
			}
			return false
		}
	}
	h.Locations = append(h.Locations, loc)
	return true
}

func (d *Directory) AddIP(id models.HostID, loc models.ConnectPoint, ip netip.Addr) {
	h := models.Host{ID: id, IPs: []netip.Addr{ip}}
	if !loc.IsZero() {
		h.Locations = []models.HostLocation{{ConnectPoint: loc, Time: d.now()}}
	}
	d.AddOrUpdate(h)
}

func (d *Directory) RemoveIP(id models.HostID, ip netip.Addr) {
	d.mu.Lock()
	cur, ok := d.hosts[id]
	if !ok || !cur.HasIP(ip) {
		d.mu.Unlock()
		return
	}
	prev := cur.Clone()
	out := cur.IPs[:0]
	for _, a := range cur.IPs {
		if a != ip {
			out = append(out, a)
		}
	}
	cur.IPs = out
	cur.UpdatedAt = d.now()
	next := cur.Clone()
	d.mu.Unlock()

	d.publish(events.HostUpdated, next, &prev)
}

func (d *Directory) Remove(id models.HostID) {
	d.mu.Lock()
	cur, ok := d.hosts[id]
	if ok {
		delete(d.hosts, id)
	}
	d.mu.Unlock()

	if ok {
		d.publish(events.HostRemoved, cur.Clone(), nil)
	}
}

func (d *Directory) StartMonitoringIP(ip netip.Addr) {
	d.mu.Lock()
	_, already := d.monitored[ip]
	d.monitored[ip] = struct{}{}
	prober := d.prober
	d.mu.Unlock()

	if !already {
		d.logger.Debug("Monitoring address", "ip", ip)
	}
	if prober != nil {
		prober.Probe(ip)
	}
}

func (d *Directory) StopMonitoringIP(ip netip.Addr) {
	d.mu.Lock()
	delete(d.monitored, ip)
	d.mu.Unlock()
}

// Monitored lists addresses currently being monitored.
func (d *Directory) Monitored() []netip.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]netip.Addr, 0, len(d.monitored))
	for ip := range d.monitored {
		out = append(out, ip)
	}
	return out
}

func (d *Directory) publish(t events.HostEventType, h models.Host, prev *models.Host) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.TopicHost, events.Event{
		Source: logger.Hosts,
		Data:   events.HostEvent{Type: t, Host: h, Prev: prev},
	})
}
