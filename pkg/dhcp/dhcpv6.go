package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv6"
)

// Lease6 is the address and delegated prefix granted by a DHCPv6 reply.
type Lease6 struct {
	Addr            netip.Addr
	AddrPreferred   uint32
	Prefix          netip.Prefix
	PrefixPreferred uint32
}

func (l Lease6) Empty() bool {
	return !l.Addr.IsValid() && !l.Prefix.IsValid()
}

// ExtractLease collects the first IA address (IA_NA, else IA_TA) and the
// first IA prefix (IA_PD) from the options of a reply.
func ExtractLease(opts dhcpv6.MessageOptions) Lease6 {
	var lease Lease6

	var addrs []*dhcpv6.OptIAAddress
	for _, ia := range opts.IANA() {
		addrs = append(addrs, ia.Options.Addresses()...)
	}
	for _, ia := range opts.IATA() {
		addrs = append(addrs, ia.Options.Addresses()...)
	}
	for _, addr := range addrs {
		if a, ok := netip.AddrFromSlice(addr.IPv6Addr.To16()); ok {
			lease.Addr = a
			lease.AddrPreferred = uint32(addr.PreferredLifetime.Seconds())
			break
		}
	}

	for _, pd := range opts.IAPD() {
		for _, p := range pd.Options.Prefixes() {
			if pfx, ok := prefixOf(p); ok {
				lease.Prefix = pfx
				lease.PrefixPreferred = uint32(p.PreferredLifetime.Seconds())
				return lease
			}
		}
	}
	return lease
}

func prefixOf(p *dhcpv6.OptIAPrefix) (netip.Prefix, bool) {
	if p == nil || p.Prefix == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(p.Prefix.IP.To16())
	if !ok {
		return netip.Prefix{}, false
	}
	bits, _ := p.Prefix.Mask.Size()
	return netip.PrefixFrom(addr, bits).Masked(), true
}

// DUID types carrying a link-layer address.
const (
	duidLLT uint16 = 1
	duidLL  uint16 = 3
)

// MACFromDUID extracts the link-layer address of a DUID-LLT or DUID-LL
// client identifier.
func MACFromDUID(duid []byte) (net.HardwareAddr, bool) {
	if len(duid) < 4 {
		return nil, false
	}
	var addr []byte
	switch binary.BigEndian.Uint16(duid[:2]) {
	case duidLLT:
		if len(duid) < 8 {
			return nil, false
		}
		addr = duid[8:]
	case duidLL:
		addr = duid[4:]
	default:
		return nil, false
	}
	if len(addr) != 6 {
		return nil, false
	}
	return append(net.HardwareAddr(nil), addr...), true
}

// ClientMAC returns the client link-layer address of a relayed or leaf
// message, preferring the client link-layer option of any relay layer and
// falling back to the client DUID.
func ClientMAC(msg dhcpv6.DHCPv6) (net.HardwareAddr, bool) {
	for depth := 0; msg != nil && depth <= MaxRelayDepth; depth++ {
		if opt := msg.GetOneOption(OptionClientLinkLayerAddr); opt != nil {
			raw := opt.ToBytes()
			if len(raw) == 8 {
				return append(net.HardwareAddr(nil), raw[2:]...), true
			}
		}
		if !msg.IsRelay() {
			if opt := msg.GetOneOption(dhcpv6.OptionClientID); opt != nil {
				return MACFromDUID(opt.ToBytes())
			}
			return nil, false
		}
		relay, ok := msg.(*dhcpv6.RelayMessage)
		if !ok {
			return nil, false
		}
		msg = relay.Options.RelayMessage()
	}
	return nil, false
}

// ClientData is the content of a lease query reply CLIENT_DATA option.
type ClientData struct {
	ClientID []byte
	Lease    Lease6
}

// ParseClientData decodes the CLIENT_DATA option of a LEASEQUERY-REPLY. The
// second result is false when the option is absent.
func ParseClientData(msg dhcpv6.DHCPv6) (ClientData, bool, error) {
	opt := msg.GetOneOption(OptionClientData)
	if opt == nil {
		return ClientData{}, false, nil
	}
	var sub dhcpv6.Options
	if err := sub.FromBytes(opt.ToBytes()); err != nil {
		return ClientData{}, true, fmt.Errorf("%w: client data: %v", ErrMalformed, err)
	}

	var cd ClientData
	if id := sub.GetOne(dhcpv6.OptionClientID); id != nil {
		cd.ClientID = id.ToBytes()
	}
	if addr, ok := sub.GetOne(dhcpv6.OptionIAAddr).(*dhcpv6.OptIAAddress); ok && addr != nil {
		if a, ok := netip.AddrFromSlice(addr.IPv6Addr.To16()); ok {
			cd.Lease.Addr = a
			cd.Lease.AddrPreferred = uint32(addr.PreferredLifetime.Seconds())
		}
	}
	if p, ok := sub.GetOne(dhcpv6.OptionIAPrefix).(*dhcpv6.OptIAPrefix); ok {
		if pfx, ok := prefixOf(p); ok {
			cd.Lease.Prefix = pfx
			cd.Lease.PrefixPreferred = uint32(p.PreferredLifetime.Seconds())
		}
	}
	return cd, true, nil
}

// Lease query types of the LQ_QUERY option.
const (
	LQQueryByAddress  uint8 = 1
	LQQueryByClientID uint8 = 2
)

// lqQueryHeaderLen is query-type plus link-address.
const lqQueryHeaderLen = 1 + 16

// LQQuery is the LQ_QUERY option of a LEASEQUERY.
type LQQuery struct {
	Type     uint8
	LinkAddr netip.Addr
	Addr     netip.Addr
	ClientID []byte
}

// ParseLeaseQuery decodes the LQ_QUERY option of a LEASEQUERY. The second
// result is false when the option is absent.
func ParseLeaseQuery(msg dhcpv6.DHCPv6) (LQQuery, bool, error) {
	opt := msg.GetOneOption(OptionLQQuery)
	if opt == nil {
		return LQQuery{}, false, nil
	}
	raw := opt.ToBytes()
	if len(raw) < lqQueryHeaderLen {
		return LQQuery{}, true, fmt.Errorf("%w: lq query of %d bytes", ErrMalformed, len(raw))
	}

	q := LQQuery{
		Type:     raw[0],
		LinkAddr: netip.AddrFrom16([16]byte(raw[1:lqQueryHeaderLen])),
	}
	var sub dhcpv6.Options
	if err := sub.FromBytes(raw[lqQueryHeaderLen:]); err != nil {
		return LQQuery{}, true, fmt.Errorf("%w: lq query options: %v", ErrMalformed, err)
	}
	if addr, ok := sub.GetOne(dhcpv6.OptionIAAddr).(*dhcpv6.OptIAAddress); ok && addr != nil {
		if a, ok := netip.AddrFromSlice(addr.IPv6Addr.To16()); ok {
			q.Addr = a
		}
	}
	if id := sub.GetOne(dhcpv6.OptionClientID); id != nil {
		q.ClientID = id.ToBytes()
	}
	return q, true, nil
}

// Unwrap peels RELAY-MSG layers down to the innermost non-relay message and
// returns it with the relay chain, outermost first.
func Unwrap(msg dhcpv6.DHCPv6) (dhcpv6.DHCPv6, []*dhcpv6.RelayMessage, error) {
	var chain []*dhcpv6.RelayMessage
	cur := msg
	for depth := 0; depth < MaxRelayDepth; depth++ {
		if cur == nil {
			return nil, chain, fmt.Errorf("%w: relay message without RELAY-MSG option", ErrMalformed)
		}
		if !cur.IsRelay() {
			return cur, chain, nil
		}
		relay, ok := cur.(*dhcpv6.RelayMessage)
		if !ok {
			return nil, chain, fmt.Errorf("%w: unexpected relay type %T", ErrMalformed, cur)
		}
		chain = append(chain, relay)
		cur = relay.Options.RelayMessage()
	}
	return nil, chain, fmt.Errorf("%w: relay chain deeper than %d", ErrMalformed, MaxRelayDepth)
}

// Wrap builds a RELAY-FORW around inner.
func Wrap(inner dhcpv6.DHCPv6, hopCount uint8, linkAddr, peerAddr netip.Addr, interfaceID []byte) *dhcpv6.RelayMessage {
	rm := &dhcpv6.RelayMessage{
		MessageType: dhcpv6.MessageTypeRelayForward,
		HopCount:    hopCount,
		LinkAddr:    ip16(linkAddr),
		PeerAddr:    ip16(peerAddr),
	}
	rm.AddOption(dhcpv6.OptRelayMessage(inner))
	if len(interfaceID) > 0 {
		rm.AddOption(dhcpv6.OptInterfaceID(interfaceID))
	}
	return rm
}

// ip16 always yields 16 bytes so the relay header stays fixed-size.
func ip16(a netip.Addr) net.IP {
	if !a.IsValid() {
		return net.IPv6unspecified
	}
	b := a.As16()
	return net.IP(b[:])
}

func AddrFromIP(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}
