package relay

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arppkt "github.com/veesix-networks/dhcprelay/pkg/arp"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane/dataplanetest"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/events/local"
	"github.com/veesix-networks/dhcprelay/pkg/flowrule"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	records "github.com/veesix-networks/dhcprelay/pkg/relay"
)

var (
	clientCP  = models.ConnectPoint{DeviceID: "leaf1", Port: "1"}
	serverCP  = models.ConnectPoint{DeviceID: "leaf1", Port: "2"}
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
)

type fakeV4 struct {
	mu    sync.Mutex
	seen  []*dataplane.ParsedPacket
	block chan struct{}
}

func (f *fakeV4) ProcessDHCPPacket(pkt *dataplane.ParsedPacket) []records.RelayedFrame {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.seen = append(f.seen, pkt)
	f.mu.Unlock()
	return []records.RelayedFrame{{Egress: serverCP, Data: pkt.RawPacket}}
}

func (f *fakeV4) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeV6 struct {
	mu       sync.Mutex
	interval time.Duration
	sweeps   int
}

func (f *fakeV6) ProcessDHCPPacket(*dataplane.ParsedPacket) []records.RelayedFrame { return nil }

func (f *fakeV6) ExpireRecords(time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0
}

func (f *fakeV6) SetPollInterval(d time.Duration) {
	f.mu.Lock()
	f.interval = d
	f.mu.Unlock()
}

func (f *fakeV6) PollInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakeV6) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type solicit struct {
	cp     models.ConnectPoint
	vlan   uint16
	target netip.Addr
}

type fakeLearner struct {
	mu       sync.Mutex
	packets  int
	solicits []solicit
}

func (f *fakeLearner) HandlePacket(*dataplane.ParsedPacket) {
	f.mu.Lock()
	f.packets++
	f.mu.Unlock()
}

func (f *fakeLearner) Solicit(cp models.ConnectPoint, vlan uint16, target netip.Addr) error {
	f.mu.Lock()
	f.solicits = append(f.solicits, solicit{cp: cp, vlan: vlan, target: target})
	f.mu.Unlock()
	return nil
}

func (f *fakeLearner) snapshot() (int, []solicit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packets, append([]solicit(nil), f.solicits...)
}

type fixture struct {
	d       *Dispatcher
	packets *dataplanetest.Loopback
	rules   *flowrule.Memory
	bus     *local.Bus
	store   *records.MemoryStore
	v4      *fakeV4
	v6      *fakeV6
	learner *fakeLearner
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		packets: dataplanetest.NewLoopback(),
		rules:   flowrule.NewMemory(),
		bus:     local.NewBus(),
		store:   records.NewMemoryStore(nil),
		v4:      &fakeV4{},
		v6:      &fakeV6{interval: time.Hour},
		learner: &fakeLearner{},
		metrics: metrics.New(),
	}
	f.d = New(cfg, Deps{
		Packets: f.packets,
		Rules:   f.rules,
		Bus:     f.bus,
		Store:   f.store,
		DHCP4:   f.v4,
		DHCP6:   f.v6,
		Learner: f.learner,
		Metrics: f.metrics,
	})
	t.Cleanup(func() { f.bus.Close() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.d.Start(context.Background()))
	t.Cleanup(func() { f.d.Stop(context.Background()) })
	f.rules.Wait()
}

func discover(t *testing.T, vlan uint16) []byte {
	t.Helper()
	msg := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          1,
		ClientHWAddr: clientMAC,
		ClientIP:     net.IPv4zero.To4(),
		YourClientIP: net.IPv4zero.To4(),
		NextServerIP: net.IPv4zero.To4(),
		RelayAgentIP: net.IPv4zero.To4(),
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(dhcp.Discover)}),
		},
	}
	data, err := dhcp.SerializeV4(dhcp.Addressing{
		SrcMAC: clientMAC, DstMAC: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, VLAN: vlan,
		SrcIP: netip.IPv4Unspecified(), DstIP: netip.MustParseAddr("255.255.255.255"),
		SrcPort: dhcp.ClientPortV4, DstPort: dhcp.ServerPortV4,
	}, msg)
	require.NoError(t, err)
	return data
}

func TestDispatchesByClass(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	require.NoError(t, f.packets.Inject(discover(t, 10), clientCP))
	require.Eventually(t, func() bool { return f.v4.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.packets.Drain()) == 1 }, time.Second, 5*time.Millisecond)

	arp, err := arppkt.BuildRequest(arppkt.Source{MAC: clientMAC, VLAN: 10, IP: netip.MustParseAddr("10.0.10.50")}, netip.MustParseAddr("10.0.10.1"))
	require.NoError(t, err)
	require.NoError(t, f.packets.Inject(arp, clientCP))
	require.Eventually(t, func() bool {
		n, _ := f.learner.snapshot()
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotRunningDeliversNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)
	require.NoError(t, f.d.Stop(context.Background()))

	require.NoError(t, f.packets.Inject(discover(t, 10), clientCP))
	assert.Equal(t, 0, f.v4.count())
}

func TestIgnoredVLANDropped(t *testing.T) {
	f := newFixture(t, Config{IgnoreVLANs: []IgnoreRule{{Device: "leaf1", VLAN: 10}}})
	f.start(t)

	assert.True(t, f.d.Ignored("leaf1", 10))
	assert.True(t, f.rules.Drops("leaf1", 10))

	require.NoError(t, f.packets.Inject(discover(t, 10), clientCP))
	require.NoError(t, f.packets.Inject(discover(t, 20), clientCP))
	require.Eventually(t, func() bool { return f.v4.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint16(20), f.v4.seen[0].VLAN)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter("v4", metrics.ReasonIgnoredVLAN)))
}

func TestIgnoreSetUnchangedOnInstallFailure(t *testing.T) {
	f := newFixture(t, Config{IgnoreVLANs: []IgnoreRule{{Device: "leaf1", VLAN: 10}}})
	f.rules.SetFailure(func(op string, r flowrule.Rule) error {
		return errors.New("device unreachable")
	})
	f.start(t)

	assert.False(t, f.d.Ignored("leaf1", 10))
	assert.Empty(t, f.rules.Rules())
}

func TestDeviceAvailableInstallsRules(t *testing.T) {
	f := newFixture(t, Config{IgnoreVLANs: []IgnoreRule{
		{Device: "leaf1", VLAN: 10},
		{Device: "leaf2", VLAN: 30},
	}})
	f.rules.SetFailure(func(op string, r flowrule.Rule) error {
		if r.DeviceID == "leaf2" {
			return errors.New("device unreachable")
		}
		return nil
	})
	f.start(t)
	assert.True(t, f.d.Ignored("leaf1", 10))
	assert.False(t, f.d.Ignored("leaf2", 30))

	f.rules.SetFailure(nil)
	f.bus.Publish(events.TopicDevice, events.Event{
		Data: events.DeviceEvent{Type: events.DeviceAvailable, DeviceID: "leaf2"},
	})
	require.Eventually(t, func() bool { return f.d.Ignored("leaf2", 30) }, time.Second, 5*time.Millisecond)
}

func TestStopRemovesIgnoreRules(t *testing.T) {
	f := newFixture(t, Config{IgnoreVLANs: []IgnoreRule{{Device: "leaf1", VLAN: 10}}})
	f.start(t)
	require.True(t, f.d.Ignored("leaf1", 10))

	require.NoError(t, f.d.Stop(context.Background()))
	f.rules.Wait()
	assert.False(t, f.d.Ignored("leaf1", 10))
	assert.Empty(t, f.rules.Rules())
}

func TestPoolSaturationDrops(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.v4.block = make(chan struct{})
	f.start(t)

	require.NoError(t, f.packets.Inject(discover(t, 10), clientCP))
	require.NoError(t, f.packets.Inject(discover(t, 10), clientCP))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter("v4", metrics.ReasonPoolSaturated)))

	close(f.v4.block)
	require.Eventually(t, func() bool { return f.v4.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSweepRunsOnInterval(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)
	assert.Equal(t, 0, f.v6.sweepCount())

	f.d.SetPollInterval(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, f.v6.PollInterval())
	require.Eventually(t, func() bool { return f.v6.sweepCount() >= 2 }, time.Second, 5*time.Millisecond)

	f.d.SetPollInterval(0)
	assert.Equal(t, 10*time.Millisecond, f.v6.PollInterval())
}

func TestPortUpRelearnsDirectClients(t *testing.T) {
	f := newFixture(t, Config{
		RelearnDevices: []string{"leaf1"},
		ProbeCount:     2,
		ProbeInterval:  time.Millisecond,
	})

	now := time.Now()
	direct := records.NewRecord(models.NewHostID(clientMAC, 20))
	direct.DirectlyConnected = true
	direct.IP6 = netip.MustParseAddr("2001:db8::10")
	direct.AddLocation(clientCP, now)
	f.store.Update(direct.Key, direct)

	indirect := records.NewRecord(models.NewHostID(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}, 20))
	indirect.IP6 = netip.MustParseAddr("2001:db8::11")
	indirect.AddLocation(clientCP, now)
	f.store.Update(indirect.Key, indirect)

	elsewhere := records.NewRecord(models.NewHostID(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x03}, 20))
	elsewhere.DirectlyConnected = true
	elsewhere.IP6 = netip.MustParseAddr("2001:db8::12")
	elsewhere.AddLocation(serverCP, now)
	f.store.Update(elsewhere.Key, elsewhere)

	f.start(t)

	f.bus.Publish(events.TopicDevice, events.Event{
		Data: events.DeviceEvent{Type: events.PortUp, DeviceID: "leaf2", Port: "1"},
	})
	f.bus.Publish(events.TopicDevice, events.Event{
		Data: events.DeviceEvent{Type: events.PortUp, DeviceID: "leaf1", Port: "1"},
	})

	require.Eventually(t, func() bool {
		_, s := f.learner.snapshot()
		return len(s) == 2
	}, time.Second, 5*time.Millisecond)

	_, s := f.learner.snapshot()
	for _, sol := range s {
		assert.Equal(t, solicit{cp: clientCP, vlan: 20, target: netip.MustParseAddr("2001:db8::10")}, sol)
	}
}
