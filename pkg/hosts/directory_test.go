package hosts

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/events/local"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type recordingProber struct {
	mu  sync.Mutex
	ips []netip.Addr
}

func (p *recordingProber) Probe(ip netip.Addr) {
	p.mu.Lock()
	p.ips = append(p.ips, ip)
	p.mu.Unlock()
}

func (p *recordingProber) probed() []netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]netip.Addr(nil), p.ips...)
}

func collect(t *testing.T, bus events.Bus) func() []events.HostEvent {
	t.Helper()
	var mu sync.Mutex
	var got []events.HostEvent
	bus.Subscribe(events.TopicHost, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev.Data.(events.HostEvent))
		mu.Unlock()
	})
	return func() []events.HostEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.HostEvent(nil), got...)
	}
}

var (
	mac  = net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0x01}
	id   = models.NewHostID(mac, 10)
	cpA  = models.ConnectPoint{DeviceID: "leaf1", Port: "1"}
	cpB  = models.ConnectPoint{DeviceID: "leaf1", Port: "2"}
	addr = netip.MustParseAddr("10.0.0.5")
)

func TestDirectoryAddUpdateMoveRemove(t *testing.T) {
	bus := local.NewBus()
	defer bus.Close()
	hostEvents := collect(t, bus)

	d := NewDirectory(bus)
	base := time.Unix(1000, 0)
	d.now = func() time.Time { return base }

	d.AddIP(id, cpA, addr)
	h, ok := d.Host(id)
	require.True(t, ok)
	assert.True(t, h.HasIP(addr))

	base = base.Add(time.Second)
	d.AddIP(id, cpA, netip.MustParseAddr("2001:db8::5"))

	base = base.Add(time.Second)
	d.AddIP(id, cpB, addr)
	loc, ok := mustHost(t, d).Location()
	require.True(t, ok)
	assert.Equal(t, cpB, loc)

	d.RemoveIP(id, addr)
	assert.False(t, mustHost(t, d).HasIP(addr))

	d.Remove(id)
	_, ok = d.Host(id)
	assert.False(t, ok)

	require.Eventually(t, func() bool { return len(hostEvents()) == 5 }, time.Second, 5*time.Millisecond)
	got := hostEvents()
	assert.Equal(t, eventTypes(got), []string{"added", "updated", "moved", "updated", "removed"})
	require.NotNil(t, got[2].Prev)
	prevLoc, _ := got[2].Prev.Location()
	assert.Equal(t, cpA, prevLoc)
}

func eventTypes(evs []events.HostEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = string(ev.Type)
	}
	return out
}

func mustHost(t *testing.T, d *Directory) models.Host {
	t.Helper()
	h, ok := d.Host(id)
	require.True(t, ok)
	return h
}

func TestDirectoryNoEventWithoutChange(t *testing.T) {
	bus := local.NewBus()
	defer bus.Close()
	hostEvents := collect(t, bus)

	d := NewDirectory(bus)
	d.AddIP(id, cpA, addr)
	d.AddIP(id, cpA, addr)
	d.RemoveIP(id, netip.MustParseAddr("10.9.9.9"))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, hostEvents(), 1)
}

func TestDirectoryLookups(t *testing.T) {
	d := NewDirectory(nil)
	other := models.NewHostID(mac, 20)

	d.AddIP(id, cpA, addr)
	d.AddIP(other, cpB, netip.MustParseAddr("10.0.1.5"))

	assert.Len(t, d.HostsByMAC(mac), 2)
	byIP := d.HostsByIP(addr)
	require.Len(t, byIP, 1)
	assert.Equal(t, id, byIP[0].ID)
	assert.Empty(t, d.HostsByIP(netip.MustParseAddr("192.0.2.1")))
}

func TestDirectoryMonitoring(t *testing.T) {
	d := NewDirectory(nil)
	p := &recordingProber{}
	d.SetProber(p)

	gw := netip.MustParseAddr("10.0.0.254")
	d.StartMonitoringIP(gw)
	assert.Equal(t, []netip.Addr{gw}, p.probed())
	assert.Equal(t, []netip.Addr{gw}, d.Monitored())

	d.probeUnresolved()
	assert.Len(t, p.probed(), 2)

	d.AddIP(models.NewHostID(net.HardwareAddr{0, 1, 2, 3, 4, 5}, 0), cpA, gw)
	d.probeUnresolved()
	assert.Len(t, p.probed(), 2, "resolved addresses are not re-probed")

	d.StopMonitoringIP(gw)
	assert.Empty(t, d.Monitored())
}

func TestDirectoryRetriesUnresolvedOnInterval(t *testing.T) {
	d := NewDirectory(nil)
	d.SetProbeInterval(0)
	assert.Equal(t, defaultProbeInterval, d.probeInterval)
	d.SetProbeInterval(5 * time.Millisecond)

	p := &recordingProber{}
	d.SetProber(p)
	d.StartMonitoringIP(netip.MustParseAddr("10.0.0.254"))

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	require.Eventually(t, func() bool { return len(p.probed()) >= 3 }, time.Second, 5*time.Millisecond)
}
