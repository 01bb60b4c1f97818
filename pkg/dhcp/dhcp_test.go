package dhcp

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	relayMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xfe}
	leafCP    = models.ConnectPoint{DeviceID: "of:0000000000000001", Port: "5"}
)

func TestCircuitIDRoundTrip(t *testing.T) {
	tests := []CircuitID{
		{ConnectPoint: leafCP, VLAN: 10},
		{ConnectPoint: leafCP, VLAN: models.VLANNone},
		{ConnectPoint: models.ConnectPoint{DeviceID: "leaf/a", Port: "1"}, VLAN: 4094},
	}
	for _, cid := range tests {
		got, err := ParseCircuitID(cid.Encode())
		require.NoError(t, err, cid.String())
		assert.Equal(t, cid, got)
	}
}

func TestParseCircuitIDRejectsForeignFormats(t *testing.T) {
	for _, in := range []string{
		"",
		"eth0",
		"ge-0/0/1.100",
		"of:0000000000000001/5:abc",
		"nocp:10",
		"of:0000000000000001/5:5000",
	} {
		_, err := ParseCircuitID([]byte(in))
		assert.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrMalformed), in)
	}
}

func TestInterfaceIDRoundTrip(t *testing.T) {
	id := InterfaceID{MAC: clientMAC, ConnectPoint: leafCP, VLAN: 20}
	raw := id.Encode()

	assert.Equal(t, []byte(clientMAC), raw[:6])
	assert.Equal(t, "-"+leafCP.String()+":", string(raw[6:len(raw)-2]))
	assert.Equal(t, []byte{0x00, 0x14}, raw[len(raw)-2:])

	got, err := ParseInterfaceID(raw)
	require.NoError(t, err)
	assert.Equal(t, id.MAC, got.MAC)
	assert.Equal(t, id.ConnectPoint, got.ConnectPoint)
	assert.Equal(t, id.VLAN, got.VLAN)
}

func TestParseInterfaceIDMalformed(t *testing.T) {
	_, err := ParseInterfaceID([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)

	raw := InterfaceID{MAC: clientMAC, ConnectPoint: leafCP, VLAN: 1}.Encode()
	raw[6] = 'x'
	_, err = ParseInterfaceID(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRelayAgentInfo(t *testing.T) {
	info := &RelayAgentInfo{
		CircuitID: []byte("cp:1"),
		RemoteID:  []byte("remote"),
		Other:     []SubOption{{Code: 5, Data: []byte{10, 0, 0, 1}}},
	}
	raw, err := info.Encode()
	require.NoError(t, err)
	got, err := ParseRelayAgentInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = ParseRelayAgentInfo([]byte{1, 10, 'a'})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = (&RelayAgentInfo{CircuitID: make([]byte, 256)}).Encode()
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = (&RelayAgentInfo{CircuitID: make([]byte, 200), RemoteID: make([]byte, 200)}).Encode()
	assert.ErrorIs(t, err, ErrMalformed)
	raw, err = (&RelayAgentInfo{CircuitID: make([]byte, 253)}).Encode()
	require.NoError(t, err)
	assert.Len(t, raw, 255)
}

func encodeInfo(t *testing.T, info *RelayAgentInfo) []byte {
	t.Helper()
	raw, err := info.Encode()
	require.NoError(t, err)
	return raw
}

func TestOptionHelpers(t *testing.T) {
	d := &layers.DHCPv4{Options: layers.DHCPOptions{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(Discover)}),
		layers.NewDHCPOption(layers.DHCPOptHostname, []byte("cpe")),
	}}
	owns := func(c CircuitID) bool { return c.ConnectPoint == leafCP }
	assert.Equal(t, Discover, MessageTypeOf(d))
	assert.False(t, HasForeignCircuitID(d, owns))

	own := CircuitID{ConnectPoint: leafCP, VLAN: 10}
	SetOption(d, OptRelayAgentInfo, encodeInfo(t, &RelayAgentInfo{CircuitID: own.Encode()}))
	got, ok := OwnCircuitID(d, owns)
	require.True(t, ok)
	assert.Equal(t, own, got)
	assert.False(t, HasForeignCircuitID(d, owns))

	// Parses as "<device>/<port>:<vlan>" but names no local interface.
	SetOption(d, OptRelayAgentInfo, encodeInfo(t, &RelayAgentInfo{CircuitID: []byte("Gi0/1:100")}))
	assert.Len(t, d.Options, 3)
	assert.True(t, HasForeignCircuitID(d, owns))
	_, ok = OwnCircuitID(d, owns)
	assert.False(t, ok)

	SetOption(d, OptRelayAgentInfo, encodeInfo(t, &RelayAgentInfo{CircuitID: []byte("olt1-pon3")}))
	assert.True(t, HasForeignCircuitID(d, owns))

	RemoveOption(d, OptRelayAgentInfo)
	_, ok = GetOption(d, OptRelayAgentInfo)
	assert.False(t, ok)
	assert.Len(t, d.Options, 2)
}

func TestMessageTypeLeaseQueryFamily(t *testing.T) {
	for _, mt := range []MessageType{LeaseQuery, LeaseUnassigned, LeaseUnknown, LeaseActive} {
		assert.True(t, mt.IsLeaseQuery(), mt.String())
	}
	for _, mt := range []MessageType{Discover, Ack, ForceRenew} {
		assert.False(t, mt.IsLeaseQuery(), mt.String())
	}
}

func TestSerializeV4(t *testing.T) {
	msg := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		Xid:          0x1234,
		ClientHWAddr: clientMAC,
		RelayAgentIP: net.IPv4(10, 0, 0, 1),
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(Discover)}),
		},
	}
	frame, err := SerializeV4(Addressing{
		SrcMAC: relayMAC, DstMAC: clientMAC, VLAN: 30,
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.1.0.1"),
		SrcPort: ServerPortV4, DstPort: ServerPortV4,
	}, msg)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	dot1q, ok := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q)
	require.True(t, ok)
	assert.Equal(t, uint16(30), dot1q.VLANIdentifier)

	ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, uint8(DefaultTTL), ip4.TTL)
	assert.Equal(t, "10.1.0.1", ip4.DstIP.String())

	decoded, ok := pkt.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1234), decoded.Xid)
	assert.Equal(t, Discover, MessageTypeOf(decoded))

	_, err = SerializeV4(Addressing{SrcIP: netip.MustParseAddr("::1"), DstIP: netip.MustParseAddr("10.0.0.1")}, msg)
	assert.Error(t, err)
}

func replyWithLease(t *testing.T) *dhcpv6.Message {
	t.Helper()
	msg := &dhcpv6.Message{MessageType: dhcpv6.MessageTypeReply, TransactionID: dhcpv6.TransactionID{1, 2, 3}}
	msg.AddOption(&dhcpv6.OptIANA{
		IaId: [4]byte{0, 0, 0, 1},
		Options: dhcpv6.IdentityOptions{Options: dhcpv6.Options{&dhcpv6.OptIAAddress{
			IPv6Addr:          net.ParseIP("2001:db8::10"),
			PreferredLifetime: 3600 * time.Second,
			ValidLifetime:     7200 * time.Second,
		}}},
	})
	_, pfx, _ := net.ParseCIDR("2001:db8:100::/56")
	msg.AddOption(&dhcpv6.OptIAPD{
		IaId: [4]byte{0, 0, 0, 2},
		Options: dhcpv6.PDOptions{Options: dhcpv6.Options{&dhcpv6.OptIAPrefix{
			PreferredLifetime: 1800 * time.Second,
			ValidLifetime:     3600 * time.Second,
			Prefix:            pfx,
		}}},
	})
	return msg
}

func TestExtractLease(t *testing.T) {
	parsed, err := dhcpv6.FromBytes(replyWithLease(t).ToBytes())
	require.NoError(t, err)
	msg := parsed.(*dhcpv6.Message)

	lease := ExtractLease(msg.Options)
	assert.Equal(t, netip.MustParseAddr("2001:db8::10"), lease.Addr)
	assert.Equal(t, uint32(3600), lease.AddrPreferred)
	assert.Equal(t, netip.MustParsePrefix("2001:db8:100::/56"), lease.Prefix)
	assert.Equal(t, uint32(1800), lease.PrefixPreferred)
	assert.False(t, lease.Empty())

	assert.True(t, ExtractLease(dhcpv6.MessageOptions{}).Empty())

	temporary := &dhcpv6.Message{MessageType: dhcpv6.MessageTypeReply}
	temporary.AddOption(&dhcpv6.OptIATA{
		IaId: [4]byte{0, 0, 0, 3},
		Options: dhcpv6.IdentityOptions{Options: dhcpv6.Options{&dhcpv6.OptIAAddress{
			IPv6Addr:          net.ParseIP("2001:db8::20"),
			PreferredLifetime: time.Minute,
			ValidLifetime:     time.Hour,
		}}},
	})
	lease = ExtractLease(temporary.Options)
	assert.Equal(t, netip.MustParseAddr("2001:db8::20"), lease.Addr)
	assert.False(t, lease.Prefix.IsValid())
}

func TestWrapUnwrap(t *testing.T) {
	leaf := replyWithLease(t)
	iid := InterfaceID{MAC: clientMAC, ConnectPoint: leafCP, VLAN: 20}.Encode()
	inner := Wrap(leaf, 0, netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("fe80::1"), iid)
	outer := Wrap(inner, 1, netip.Addr{}, netip.MustParseAddr("2001:db8:ffff::1"), nil)

	parsed, err := dhcpv6.FromBytes(outer.ToBytes())
	require.NoError(t, err)

	got, chain, err := Unwrap(parsed)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, dhcpv6.MessageTypeReply, got.Type())
	assert.Equal(t, uint8(1), chain[0].HopCount)
	assert.True(t, chain[0].LinkAddr.Equal(net.IPv6unspecified))
	assert.Equal(t, iid, chain[1].Options.InterfaceID())
	assert.Equal(t, "fe80::1", chain[1].PeerAddr.String())
}

func TestUnwrapWithoutLeaf(t *testing.T) {
	rm := &dhcpv6.RelayMessage{
		MessageType: dhcpv6.MessageTypeRelayReply,
		LinkAddr:    net.IPv6unspecified,
		PeerAddr:    net.IPv6unspecified,
	}
	_, _, err := Unwrap(rm)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnwrapDepthCap(t *testing.T) {
	var msg dhcpv6.DHCPv6 = replyWithLease(t)
	for i := 0; i < MaxRelayDepth+1; i++ {
		msg = Wrap(msg, uint8(i), netip.Addr{}, netip.Addr{}, nil)
	}
	_, _, err := Unwrap(msg)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMACFromDUID(t *testing.T) {
	ll := append([]byte{0, 3, 0, 1}, clientMAC...)
	mac, ok := MACFromDUID(ll)
	require.True(t, ok)
	assert.Equal(t, clientMAC, mac)

	llt := append([]byte{0, 1, 0, 1, 0, 0, 0, 9}, clientMAC...)
	mac, ok = MACFromDUID(llt)
	require.True(t, ok)
	assert.Equal(t, clientMAC, mac)

	_, ok = MACFromDUID([]byte{0, 2, 0, 0, 0, 1, 2, 3, 4})
	assert.False(t, ok)
}

func TestClientMACFromRelayedDUID(t *testing.T) {
	leaf := &dhcpv6.Message{MessageType: dhcpv6.MessageTypeSolicit, TransactionID: dhcpv6.TransactionID{9, 9, 9}}
	leaf.AddOption(&dhcpv6.OptionGeneric{
		OptionCode: dhcpv6.OptionClientID,
		OptionData: append([]byte{0, 3, 0, 1}, clientMAC...),
	})
	relayed := Wrap(leaf, 0, netip.Addr{}, netip.MustParseAddr("fe80::2"), nil)

	parsed, err := dhcpv6.FromBytes(relayed.ToBytes())
	require.NoError(t, err)
	mac, ok := ClientMAC(parsed)
	require.True(t, ok)
	assert.Equal(t, clientMAC, mac)
}

func TestParseClientData(t *testing.T) {
	msg := &dhcpv6.Message{MessageType: MessageTypeLeaseQueryReply, TransactionID: dhcpv6.TransactionID{4, 5, 6}}
	sub := dhcpv6.Options{
		&dhcpv6.OptionGeneric{OptionCode: dhcpv6.OptionClientID, OptionData: append([]byte{0, 3, 0, 1}, clientMAC...)},
		&dhcpv6.OptIAAddress{IPv6Addr: net.ParseIP("2001:db8::55"), PreferredLifetime: time.Minute, ValidLifetime: time.Hour},
	}
	msg.AddOption(&dhcpv6.OptionGeneric{OptionCode: OptionClientData, OptionData: sub.ToBytes()})

	parsed, err := dhcpv6.FromBytes(msg.ToBytes())
	require.NoError(t, err)

	cd, ok, err := ParseClientData(parsed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("2001:db8::55"), cd.Lease.Addr)
	assert.Equal(t, uint32(60), cd.Lease.AddrPreferred)

	plain := &dhcpv6.Message{MessageType: MessageTypeLeaseQueryReply}
	_, ok, err = ParseClientData(plain)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func lqQuery(qt uint8, opts ...dhcpv6.Option) dhcpv6.Option {
	data := append([]byte{qt}, make([]byte, 16)...)
	data = append(data, dhcpv6.Options(opts).ToBytes()...)
	return &dhcpv6.OptionGeneric{OptionCode: OptionLQQuery, OptionData: data}
}

func TestParseLeaseQuery(t *testing.T) {
	byAddr := &dhcpv6.Message{MessageType: MessageTypeLeaseQuery, TransactionID: dhcpv6.TransactionID{1, 2, 3}}
	byAddr.AddOption(lqQuery(LQQueryByAddress,
		&dhcpv6.OptIAAddress{IPv6Addr: net.ParseIP("2001:db8::55"), PreferredLifetime: time.Minute, ValidLifetime: time.Hour}))
	parsed, err := dhcpv6.FromBytes(byAddr.ToBytes())
	require.NoError(t, err)
	q, ok, err := ParseLeaseQuery(parsed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, LQQueryByAddress, q.Type)
	assert.Equal(t, netip.IPv6Unspecified(), q.LinkAddr)
	assert.Equal(t, netip.MustParseAddr("2001:db8::55"), q.Addr)
	assert.Empty(t, q.ClientID)

	byID := &dhcpv6.Message{MessageType: MessageTypeLeaseQuery, TransactionID: dhcpv6.TransactionID{1, 2, 4}}
	duid := append([]byte{0, 3, 0, 1}, clientMAC...)
	byID.AddOption(lqQuery(LQQueryByClientID, &dhcpv6.OptionGeneric{OptionCode: dhcpv6.OptionClientID, OptionData: duid}))
	parsed, err = dhcpv6.FromBytes(byID.ToBytes())
	require.NoError(t, err)
	q, ok, err = ParseLeaseQuery(parsed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, duid, q.ClientID)
	assert.False(t, q.Addr.IsValid())

	short := &dhcpv6.Message{MessageType: MessageTypeLeaseQuery}
	short.AddOption(&dhcpv6.OptionGeneric{OptionCode: OptionLQQuery, OptionData: []byte{1}})
	_, ok, err = ParseLeaseQuery(short)
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformed)

	_, ok, err = ParseLeaseQuery(&dhcpv6.Message{MessageType: MessageTypeLeaseQuery})
	assert.NoError(t, err)
	assert.False(t, ok)
}
