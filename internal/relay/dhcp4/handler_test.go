package dhcp4

import (
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/dhcprelay/internal/relay/servers"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/ifmgr"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
	"github.com/veesix-networks/dhcprelay/pkg/routing"
)

var (
	clientCP = models.ConnectPoint{DeviceID: "leaf1", Port: "1"}
	serverCP = models.ConnectPoint{DeviceID: "leaf1", Port: "2"}

	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	accessMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xaa}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x10}
	relayCMAC = net.HardwareAddr{0x02, 0xfe, 0x00, 0x00, 0x00, 0x01}
	relaySMAC = net.HardwareAddr{0x02, 0xfe, 0x00, 0x00, 0x00, 0x02}

	clientGW = netip.MustParseAddr("10.0.10.1")
	serverGW = netip.MustParseAddr("10.1.0.1")
	serverIP = netip.MustParseAddr("10.1.0.10")
	accessIP = netip.MustParseAddr("10.0.10.2")
	leaseIP  = netip.MustParseAddr("10.0.20.50")

	broadcast4 = netip.MustParseAddr("255.255.255.255")
)

const clientVLAN = 10

type fixture struct {
	h       *Handler
	store   *relay.MemoryStore
	dir     *hosts.Directory
	routes  *routing.Memory
	metrics *metrics.Metrics
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := hosts.NewDirectory(nil)
	dir.AddIP(models.NewHostID(serverMAC, 0), serverCP, serverIP)

	reg := servers.New(dir, nil)
	require.NoError(t, reg.Configure(relay.FamilyV4, []*relay.ServerInfo{{
		Family:        relay.FamilyV4,
		ServerIP:      serverIP,
		ConnectPoint:  serverCP,
		RelayAgentIPs: map[string]netip.Addr{},
	}}, nil))

	ifaces := ifmgr.New()
	ifaces.Add(models.Interface{Name: "client", ConnectPoint: clientCP, VLAN: clientVLAN, MAC: relayCMAC,
		IPv4: []netip.Prefix{netip.PrefixFrom(clientGW, 24)}})
	ifaces.Add(models.Interface{Name: "server", ConnectPoint: serverCP, MAC: relaySMAC,
		IPv4: []netip.Prefix{netip.PrefixFrom(serverGW, 24)}})

	f := &fixture{
		store:   relay.NewMemoryStore(nil),
		dir:     dir,
		routes:  routing.NewMemory(),
		metrics: metrics.New(),
		clock:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.h = New(Deps{
		Store:      f.store,
		Servers:    reg,
		Interfaces: ifaces,
		Hosts:      dir,
		Routes:     f.routes,
		Metrics:    f.metrics,
	})
	f.h.now = func() time.Time { return f.clock }
	return f
}

func message(mt dhcp.MessageType, op layers.DHCPOp) *layers.DHCPv4 {
	return &layers.DHCPv4{
		Operation:    op,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0x1234,
		ClientHWAddr: clientMAC,
		ClientIP:     net.IPv4zero.To4(),
		YourClientIP: net.IPv4zero.To4(),
		NextServerIP: net.IPv4zero.To4(),
		RelayAgentIP: net.IPv4zero.To4(),
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(mt)}),
		},
	}
}

func inject(t *testing.T, a dhcp.Addressing, d *layers.DHCPv4, ingress models.ConnectPoint) *dataplane.ParsedPacket {
	t.Helper()
	data, err := dhcp.SerializeV4(a, d)
	require.NoError(t, err)
	pkt, err := dataplane.Parse(data, ingress, 0)
	require.NoError(t, err)
	require.Equal(t, dataplane.ClassDHCPv4, pkt.Class)
	return pkt
}

func option82(t *testing.T, circuitID []byte) []byte {
	t.Helper()
	raw, err := (&dhcp.RelayAgentInfo{CircuitID: circuitID}).Encode()
	require.NoError(t, err)
	return raw
}

func decode(t *testing.T, f relay.RelayedFrame) *dataplane.ParsedPacket {
	t.Helper()
	pkt, err := dataplane.Parse(f.Data, f.Egress, 0)
	require.NoError(t, err)
	require.NotNil(t, pkt.DHCPv4)
	return pkt
}

func fromDirectClient() dhcp.Addressing {
	return dhcp.Addressing{
		SrcMAC: clientMAC, DstMAC: broadcastMAC, VLAN: clientVLAN,
		SrcIP: netip.IPv4Unspecified(), DstIP: broadcast4,
		SrcPort: dhcp.ClientPortV4, DstPort: dhcp.ServerPortV4,
	}
}

func fromServer() dhcp.Addressing {
	return dhcp.Addressing{
		SrcMAC: serverMAC, DstMAC: relaySMAC,
		SrcIP: serverIP, DstIP: serverGW,
		SrcPort: dhcp.ServerPortV4, DstPort: dhcp.ServerPortV4,
	}
}

func fromAccessNode() dhcp.Addressing {
	return dhcp.Addressing{
		SrcMAC: accessMAC, DstMAC: relayCMAC, VLAN: clientVLAN,
		SrcIP: accessIP, DstIP: serverIP,
		SrcPort: dhcp.ServerPortV4, DstPort: dhcp.ServerPortV4,
	}
}

func TestDirectDiscoverToServer(t *testing.T) {
	f := newFixture(t)

	d := message(dhcp.Discover, layers.DHCPOpRequest)
	d.Flags = dhcp.BroadcastFlag
	frames := f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), d, clientCP))
	require.Len(t, frames, 1)
	assert.Equal(t, serverCP, frames[0].Egress)

	out := decode(t, frames[0])
	assert.Equal(t, serverMAC, out.Ethernet.DstMAC)
	assert.Equal(t, relaySMAC, out.Ethernet.SrcMAC)
	assert.Nil(t, out.Dot1Q)
	assert.Equal(t, serverIP, dhcp.AddrFromIP(out.IPv4.DstIP))
	assert.Equal(t, serverGW, dhcp.AddrFromIP(out.IPv4.SrcIP))
	assert.Equal(t, layers.UDPPort(67), out.UDP.SrcPort)
	assert.Equal(t, layers.UDPPort(67), out.UDP.DstPort)
	assert.Equal(t, clientGW, dhcp.AddrFromIP(out.DHCPv4.RelayAgentIP))
	assert.False(t, dhcp.IsBroadcast(out.DHCPv4))

	cid, ok := dhcp.OwnCircuitID(out.DHCPv4, f.h.ownsCircuit)
	require.True(t, ok)
	assert.Equal(t, dhcp.CircuitID{ConnectPoint: clientCP, VLAN: clientVLAN}, cid)

	rec, ok := f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.True(t, rec.DirectlyConnected)
	assert.True(t, rec.HasLocation(clientCP))
	assert.Equal(t, uint8(dhcp.Discover), rec.DHCPv4Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RelayedCounter(family, metrics.DirectionClientToServer)))
}

func TestDirectRoundTripStripsCircuitID(t *testing.T) {
	f := newFixture(t)

	frames := f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Discover, layers.DHCPOpRequest), clientCP))
	require.Len(t, frames, 1)
	relayed := decode(t, frames[0]).DHCPv4

	for _, mt := range []dhcp.MessageType{dhcp.Offer, dhcp.Ack} {
		reply := cloneDHCP(relayed)
		reply.Operation = layers.DHCPOpReply
		reply.YourClientIP = leaseIP.AsSlice()
		dhcp.SetOption(reply, layers.DHCPOptMessageType, []byte{byte(mt)})

		frames = f.h.ProcessDHCPPacket(inject(t, fromServer(), reply, serverCP))
		require.Len(t, frames, 1, mt.String())
		assert.Equal(t, clientCP, frames[0].Egress)

		out := decode(t, frames[0])
		require.NotNil(t, out.Dot1Q)
		assert.Equal(t, uint16(clientVLAN), out.Dot1Q.VLANIdentifier)
		assert.Equal(t, clientMAC, out.Ethernet.DstMAC)
		assert.Equal(t, relayCMAC, out.Ethernet.SrcMAC)
		assert.Equal(t, leaseIP, dhcp.AddrFromIP(out.IPv4.DstIP))
		assert.Equal(t, layers.UDPPort(68), out.UDP.DstPort)
		_, present := dhcp.GetOption(out.DHCPv4, dhcp.OptRelayAgentInfo)
		assert.False(t, present, "option 82 must not reach the client")
	}

	host, ok := f.dir.Host(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.True(t, host.HasIP(leaseIP))

	rec, ok := f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.Equal(t, leaseIP, rec.IP4)
	assert.Empty(t, f.routes.Routes())
}

func TestDirectReplyBroadcastFlag(t *testing.T) {
	f := newFixture(t)
	f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Discover, layers.DHCPOpRequest), clientCP))

	reply := message(dhcp.Offer, layers.DHCPOpReply)
	reply.Flags = dhcp.BroadcastFlag
	reply.YourClientIP = leaseIP.AsSlice()
	reply.RelayAgentIP = clientGW.AsSlice()
	dhcp.SetOption(reply, dhcp.OptRelayAgentInfo, option82(t, dhcp.CircuitID{ConnectPoint: clientCP, VLAN: clientVLAN}.Encode()))

	frames := f.h.ProcessDHCPPacket(inject(t, fromServer(), reply, serverCP))
	require.Len(t, frames, 1)
	out := decode(t, frames[0])
	assert.Equal(t, broadcast4, dhcp.AddrFromIP(out.IPv4.DstIP))
	assert.Equal(t, clientMAC, out.Ethernet.DstMAC)
}

func TestIndirectAckInstallsRoute(t *testing.T) {
	f := newFixture(t)
	f.dir.AddIP(models.NewHostID(accessMAC, clientVLAN), clientCP, accessIP)

	foreign := option82(t, []byte("olt1-pon3"))
	d := message(dhcp.Request, layers.DHCPOpRequest)
	d.RelayAgentIP = accessIP.AsSlice()
	d.Options = append(d.Options, layers.NewDHCPOption(dhcp.OptRelayAgentInfo, foreign))

	frames := f.h.ProcessDHCPPacket(inject(t, fromAccessNode(), d, clientCP))
	require.Len(t, frames, 1)
	out := decode(t, frames[0])
	assert.Equal(t, serverGW, dhcp.AddrFromIP(out.DHCPv4.RelayAgentIP))
	opt, ok := dhcp.GetOption(out.DHCPv4, dhcp.OptRelayAgentInfo)
	require.True(t, ok)
	assert.Equal(t, foreign, opt.Data, "upstream option 82 is left alone")

	rec, ok := f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.False(t, rec.DirectlyConnected)
	assert.Equal(t, accessMAC, rec.NextHop)

	ack := cloneDHCP(out.DHCPv4)
	ack.Operation = layers.DHCPOpReply
	ack.YourClientIP = leaseIP.AsSlice()
	dhcp.SetOption(ack, layers.DHCPOptMessageType, []byte{byte(dhcp.Ack)})

	frames = f.h.ProcessDHCPPacket(inject(t, fromServer(), ack, serverCP))
	require.Len(t, frames, 1)
	assert.Equal(t, clientCP, frames[0].Egress)
	reply := decode(t, frames[0])
	assert.Equal(t, accessMAC, reply.Ethernet.DstMAC)
	assert.Equal(t, accessIP, dhcp.AddrFromIP(reply.IPv4.DstIP))
	assert.Equal(t, layers.UDPPort(67), reply.UDP.DstPort)

	route, ok := f.routes.Lookup(netip.PrefixFrom(leaseIP, 32))
	require.True(t, ok)
	assert.Equal(t, accessIP, route.NextHop)

	_, ok = f.dir.Host(models.NewHostID(clientMAC, clientVLAN))
	assert.False(t, ok, "indirect clients are not published as hosts")
}

func TestIndirectReplyWithoutRecordIsDropped(t *testing.T) {
	f := newFixture(t)

	ack := message(dhcp.Ack, layers.DHCPOpReply)
	ack.YourClientIP = leaseIP.AsSlice()
	ack.Options = append(ack.Options, layers.NewDHCPOption(dhcp.OptRelayAgentInfo,
		option82(t, []byte("olt1-pon3"))))

	assert.Empty(t, f.h.ProcessDHCPPacket(inject(t, fromServer(), ack, serverCP)))
	assert.Empty(t, f.routes.Routes())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter(family, metrics.ReasonMissingRecord)))
}

func TestNoServerConfigured(t *testing.T) {
	f := newFixture(t)
	f.h.servers = servers.New(f.dir, nil)

	assert.Empty(t, f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Discover, layers.DHCPOpRequest), clientCP)))
	assert.Empty(t, f.store.List())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter(family, metrics.ReasonMissingConfig)))
}

func TestOneRecordPerClientAndMonotonicLastSeen(t *testing.T) {
	f := newFixture(t)
	start := f.clock

	for _, offset := range []time.Duration{0, 5 * time.Second, -time.Minute} {
		f.clock = start.Add(offset)
		f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Request, layers.DHCPOpRequest), clientCP))
	}

	recs := f.store.List()
	require.Len(t, recs, 1)
	assert.Equal(t, start.Add(5*time.Second), recs[0].LastSeen)
	assert.Equal(t, uint64(3), recs[0].Counters[dhcp.Request.String()])
}

func TestLeaseActiveForUnknownClient(t *testing.T) {
	f := newFixture(t)
	f.h.SetLeaseQueryLearnRoutes(true)

	active := message(dhcp.LeaseActive, layers.DHCPOpReply)
	active.ClientIP = leaseIP.AsSlice()
	a := fromServer()
	a.DstIP = accessIP

	assert.Empty(t, f.h.ProcessDHCPPacket(inject(t, a, active, serverCP)))
	assert.Empty(t, f.routes.Routes())
	assert.Empty(t, f.store.List())
}

func TestLeaseQueryLearnsRoute(t *testing.T) {
	f := newFixture(t)
	f.h.SetLeaseQueryLearnRoutes(true)
	f.dir.AddIP(models.NewHostID(accessMAC, clientVLAN), clientCP, accessIP)

	query := message(dhcp.LeaseQuery, layers.DHCPOpRequest)
	query.RelayAgentIP = accessIP.AsSlice()
	frames := f.h.ProcessDHCPPacket(inject(t, fromAccessNode(), query, clientCP))
	require.Len(t, frames, 1)
	out := decode(t, frames[0])
	assert.Equal(t, accessIP, dhcp.AddrFromIP(out.IPv4.SrcIP), "lease queries keep their source")
	assert.Equal(t, accessIP, dhcp.AddrFromIP(out.DHCPv4.RelayAgentIP))

	rec, ok := f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.Equal(t, accessMAC, rec.NextHopTemp)
	assert.Empty(t, rec.NextHop)

	active := message(dhcp.LeaseActive, layers.DHCPOpReply)
	active.ClientIP = leaseIP.AsSlice()
	active.RelayAgentIP = accessIP.AsSlice()
	a := fromServer()
	a.DstIP = accessIP

	frames = f.h.ProcessDHCPPacket(inject(t, a, active, serverCP))
	require.Len(t, frames, 1)
	assert.Equal(t, clientCP, frames[0].Egress)
	reply := decode(t, frames[0])
	assert.Equal(t, accessMAC, reply.Ethernet.DstMAC)
	assert.Equal(t, relayCMAC, reply.Ethernet.SrcMAC)
	assert.Equal(t, accessIP, dhcp.AddrFromIP(reply.IPv4.DstIP))

	route, ok := f.routes.Lookup(netip.PrefixFrom(leaseIP, 32))
	require.True(t, ok)
	assert.Equal(t, accessIP, route.NextHop)

	rec, ok = f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.Equal(t, accessMAC, rec.NextHop)
	assert.Empty(t, rec.NextHopTemp)
	assert.Equal(t, leaseIP, rec.IP4)

	unknown := message(dhcp.LeaseUnknown, layers.DHCPOpReply)
	frames = f.h.ProcessDHCPPacket(inject(t, a, unknown, serverCP))
	require.Len(t, frames, 1)
	assert.Empty(t, f.routes.Routes())
	assert.Empty(t, f.store.List())
}

func TestLeaseQueryWithoutLearning(t *testing.T) {
	f := newFixture(t)

	query := message(dhcp.LeaseQuery, layers.DHCPOpRequest)
	query.RelayAgentIP = accessIP.AsSlice()
	require.Len(t, f.h.ProcessDHCPPacket(inject(t, fromAccessNode(), query, clientCP)), 1)
	assert.Empty(t, f.store.List())
}

func TestUnhandledTypeDropped(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Inform, layers.DHCPOpRequest), clientCP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter(family, metrics.ReasonUnhandledType)))
}

func TestUpstreamCircuitIDInOurFormatIsIndirect(t *testing.T) {
	f := newFixture(t)

	upstream := option82(t, []byte("Gi0/1:100"))
	d := message(dhcp.Request, layers.DHCPOpRequest)
	d.RelayAgentIP = accessIP.AsSlice()
	d.Options = append(d.Options, layers.NewDHCPOption(dhcp.OptRelayAgentInfo, upstream))

	frames := f.h.ProcessDHCPPacket(inject(t, fromAccessNode(), d, clientCP))
	require.Len(t, frames, 1)
	out := decode(t, frames[0])
	opt, ok := dhcp.GetOption(out.DHCPv4, dhcp.OptRelayAgentInfo)
	require.True(t, ok)
	assert.Equal(t, upstream, opt.Data)
	assert.Equal(t, serverGW, dhcp.AddrFromIP(out.DHCPv4.RelayAgentIP))

	rec, ok := f.store.Get(models.NewHostID(clientMAC, clientVLAN))
	require.True(t, ok)
	assert.False(t, rec.DirectlyConnected)
	assert.Equal(t, accessMAC, rec.NextHop)
}

func TestOversizedCircuitIDSkipsServer(t *testing.T) {
	f := newFixture(t)
	longCP := models.ConnectPoint{DeviceID: strings.Repeat("d", 300), Port: "1"}
	f.h.interfaces.(*ifmgr.Manager).Add(models.Interface{Name: "long", ConnectPoint: longCP, VLAN: clientVLAN, MAC: relayCMAC,
		IPv4: []netip.Prefix{netip.PrefixFrom(clientGW, 24)}})

	assert.Empty(t, f.h.ProcessDHCPPacket(inject(t, fromDirectClient(), message(dhcp.Discover, layers.DHCPOpRequest), longCP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DroppedCounter(family, metrics.ReasonMalformed)))
}
