package servers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

const hostQueueDepth = 1024

// Source hands out the server targets a handler may relay to.
type Source interface {
	// Candidates returns the ready targets of family. The indirect list
	// is used when indirect is set and that list is non-empty.
	// ErrMissingConfiguration means nothing is configured;
	// ErrUnresolvedServer means nothing is ready yet.
	Candidates(family relay.Family, indirect bool) ([]*relay.ServerInfo, error)
	Configured(family relay.Family) bool
}

// lists is an immutable snapshot. Entries are never mutated once published.
type lists struct {
	defaults []*relay.ServerInfo
	indirect []*relay.ServerInfo
}

type familyState struct {
	family relay.Family
	mu     sync.Mutex
	lists  atomic.Pointer[lists]
	queue  chan events.HostEvent
}

// Registry keeps the per-family server lists and resolves their next hops
// through the host directory.
type Registry struct {
	*component.Base

	hosts  hosts.Service
	bus    events.Bus
	sub    events.Subscription
	logger *slog.Logger

	v4 *familyState
	v6 *familyState
}

var _ Source = (*Registry)(nil)

func New(hostSvc hosts.Service, bus events.Bus) *Registry {
	return &Registry{
		Base:   component.NewBase("servers"),
		hosts:  hostSvc,
		bus:    bus,
		logger: logger.Get(logger.Servers),
		v4:     newFamilyState(relay.FamilyV4),
		v6:     newFamilyState(relay.FamilyV6),
	}
}

func newFamilyState(f relay.Family) *familyState {
	fs := &familyState{
		family: f,
		queue:  make(chan events.HostEvent, hostQueueDepth),
	}
	fs.lists.Store(&lists{})
	return fs
}

func (r *Registry) state(f relay.Family) *familyState {
	if f == relay.FamilyV6 {
		return r.v6
	}
	return r.v4
}

func (r *Registry) Start(ctx context.Context) error {
	r.StartContext(ctx)

	for _, fs := range []*familyState{r.v4, r.v6} {
		r.Go(func() { r.drain(fs) })
	}

	if r.bus != nil {
		r.sub = r.bus.Subscribe(events.TopicHost, r.onHostEvent)
	}
	return nil
}

func (r *Registry) Stop(ctx context.Context) error {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.StopContext()
	return nil
}

// Configure replaces the lists of family. Each entry is resolved right away;
// unresolved next hops are put under monitoring.
func (r *Registry) Configure(family relay.Family, defaults, indirect []*relay.ServerInfo) error {
	for _, s := range append(append([]*relay.ServerInfo(nil), defaults...), indirect...) {
		if s.Family != family {
			return fmt.Errorf("server %s is %s, want %s", s.ServerIP, s.Family, family)
		}
		if !s.NextHopIP().IsValid() {
			return fmt.Errorf("server entry on %s has no address: %w", s.ConnectPoint, relay.ErrMissingConfiguration)
		}
	}

	fs := r.state(family)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	old := fs.lists.Load()
	next := &lists{
		defaults: r.prepare(defaults),
		indirect: r.prepare(indirect),
	}
	fs.lists.Store(next)

	kept := make(map[string]bool)
	for _, s := range next.all() {
		kept[s.NextHopIP().String()] = true
	}
	for _, s := range old.all() {
		if !kept[s.NextHopIP().String()] {
			r.hosts.StopMonitoringIP(s.NextHopIP())
		}
	}

	r.logger.Info("Configured DHCP servers", "family", family, "default", len(next.defaults), "indirect", len(next.indirect))
	return nil
}

func (l *lists) all() []*relay.ServerInfo {
	out := make([]*relay.ServerInfo, 0, len(l.defaults)+len(l.indirect))
	out = append(out, l.defaults...)
	return append(out, l.indirect...)
}

func (r *Registry) prepare(in []*relay.ServerInfo) []*relay.ServerInfo {
	out := make([]*relay.ServerInfo, 0, len(in))
	for _, s := range in {
		c := s.Clone()
		c.ServerMAC = nil
		c.ServerVLAN = 0
		if resolved, ok := r.lookup(c); ok {
			c = resolved
		}
		if !c.Ready() {
			r.hosts.StartMonitoringIP(c.NextHopIP())
		}
		out = append(out, c)
	}
	return out
}

// lookup resolves the next hop of s from the host directory and returns a
// resolved copy.
func (r *Registry) lookup(s *relay.ServerInfo) (*relay.ServerInfo, bool) {
	found := r.hosts.HostsByIP(s.NextHopIP())
	if len(found) == 0 {
		return nil, false
	}
	h := latest(found)
	c := s.Clone()
	c.ServerMAC = h.MAC()
	c.ServerVLAN = h.ID.VLAN
	return c, true
}

func latest(hs []models.Host) models.Host {
	best := hs[0]
	for _, h := range hs[1:] {
		if h.UpdatedAt.After(best.UpdatedAt) {
			best = h
		}
	}
	return best
}

func (r *Registry) Configured(family relay.Family) bool {
	l := r.state(family).lists.Load()
	return len(l.defaults) > 0 || len(l.indirect) > 0
}

// Servers returns the configured list without filtering.
func (r *Registry) Servers(family relay.Family, indirect bool) []*relay.ServerInfo {
	l := r.state(family).lists.Load()
	if indirect && len(l.indirect) > 0 {
		return l.indirect
	}
	return l.defaults
}

func (r *Registry) Candidates(family relay.Family, indirect bool) ([]*relay.ServerInfo, error) {
	list := r.Servers(family, indirect)
	if len(list) == 0 {
		return nil, relay.ErrMissingConfiguration
	}

	out := make([]*relay.ServerInfo, 0, len(list))
	for _, s := range list {
		if s.Ready() {
			out = append(out, s)
			continue
		}
		if resolved, ok := r.Resolve(s); ok {
			out = append(out, resolved)
			continue
		}
		r.logger.Debug("Skipping unresolved server", "family", family, "server", s.ServerIP, "next_hop", s.NextHopIP())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", family, relay.ErrUnresolvedServer)
	}
	return out, nil
}

// Resolve retries the directory lookup for an unready entry. On a miss the
// next hop is (re)probed and the entry stays unready.
func (r *Registry) Resolve(s *relay.ServerInfo) (*relay.ServerInfo, bool) {
	if s.Ready() {
		return s, true
	}
	resolved, ok := r.lookup(s)
	if !ok {
		r.hosts.StartMonitoringIP(s.NextHopIP())
		return nil, false
	}

	fs := r.state(s.Family)
	fs.mu.Lock()
	r.replace(fs, func(cur *relay.ServerInfo) *relay.ServerInfo {
		if cur.NextHopIP() != s.NextHopIP() || cur.Ready() {
			return nil
		}
		c := cur.Clone()
		c.ServerMAC = resolved.ServerMAC
		c.ServerVLAN = resolved.ServerVLAN
		return c
	})
	fs.mu.Unlock()
	return resolved, true
}

// replace publishes a new snapshot in which every entry for which fn returns
// non-nil is swapped for that value. Caller holds fs.mu.
func (r *Registry) replace(fs *familyState, fn func(cur *relay.ServerInfo) *relay.ServerInfo) int {
	old := fs.lists.Load()
	changed := 0
	rewrite := func(in []*relay.ServerInfo) []*relay.ServerInfo {
		out := make([]*relay.ServerInfo, len(in))
		for i, s := range in {
			if n := fn(s); n != nil {
				out[i] = n
				changed++
			} else {
				out[i] = s
			}
		}
		return out
	}
	next := &lists{defaults: rewrite(old.defaults), indirect: rewrite(old.indirect)}
	if changed > 0 {
		fs.lists.Store(next)
	}
	return changed
}

func (r *Registry) onHostEvent(ev events.Event) {
	he, ok := ev.Data.(events.HostEvent)
	if !ok {
		return
	}

	var v4, v6 bool
	for _, h := range []*models.Host{&he.Host, he.Prev} {
		if h == nil {
			continue
		}
		for _, ip := range h.IPs {
			if ip.Is4() {
				v4 = true
			} else {
				v6 = true
			}
		}
	}
	if he.Type == events.HostRemoved {
		v4, v6 = true, true
	}

	if v4 {
		r.enqueue(r.v4, he)
	}
	if v6 {
		r.enqueue(r.v6, he)
	}
}

func (r *Registry) enqueue(fs *familyState, he events.HostEvent) {
	select {
	case fs.queue <- he:
	default:
		r.logger.Warn("Host event queue full, dropping event", "family", fs.family, "host", he.Host.ID)
	}
}

func (r *Registry) drain(fs *familyState) {
	for {
		select {
		case <-r.Ctx.Done():
			return
		case he := <-fs.queue:
			r.applyHostEvent(fs, he)
		}
	}
}

func (r *Registry) applyHostEvent(fs *familyState, he events.HostEvent) {
	h := he.Host

	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch he.Type {
	case events.HostAdded, events.HostUpdated, events.HostMoved:
		n := r.replace(fs, func(cur *relay.ServerInfo) *relay.ServerInfo {
			if !h.HasIP(cur.NextHopIP()) {
				return nil
			}
			if cur.Ready() && cur.ServerMAC.String() == h.MAC().String() && cur.ServerVLAN == h.ID.VLAN {
				return nil
			}
			c := cur.Clone()
			c.ServerMAC = h.MAC()
			c.ServerVLAN = h.ID.VLAN
			return c
		})
		if n > 0 {
			r.logger.Info("Resolved DHCP server next hop", "family", fs.family, "host", h.ID, "entries", n)
		}

		// An address moved away from a host invalidates entries still
		// pointing at the old owner.
		if he.Prev != nil {
			prev := he.Prev
			r.replace(fs, func(cur *relay.ServerInfo) *relay.ServerInfo {
				if !prev.HasIP(cur.NextHopIP()) || h.HasIP(cur.NextHopIP()) || !sameHost(cur, prev.ID) {
					return nil
				}
				return r.invalidate(cur)
			})
		}

	case events.HostRemoved:
		n := r.replace(fs, func(cur *relay.ServerInfo) *relay.ServerInfo {
			if !sameHost(cur, h.ID) {
				return nil
			}
			return r.invalidate(cur)
		})
		if n > 0 {
			r.logger.Info("DHCP server next hop removed", "family", fs.family, "host", h.ID, "entries", n)
		}
	}
}

func sameHost(s *relay.ServerInfo, id models.HostID) bool {
	return len(s.ServerMAC) != 0 && s.ServerMAC.String() == id.MAC && s.ServerVLAN == id.VLAN
}

func (r *Registry) invalidate(cur *relay.ServerInfo) *relay.ServerInfo {
	c := cur.Clone()
	c.ServerMAC = nil
	c.ServerVLAN = 0
	r.hosts.StartMonitoringIP(c.NextHopIP())
	return c
}
