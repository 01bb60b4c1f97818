package dhcp

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv6"
)

const (
	ServerPortV4 uint16 = 67
	ClientPortV4 uint16 = 68
	ServerPortV6 uint16 = 547
	ClientPortV6 uint16 = 546

	// BroadcastFlag is the top bit of the DHCPv4 flags field.
	BroadcastFlag uint16 = 0x8000

	DefaultTTL = 64
)

// MessageType is the DHCPv4 message type (option 53), including the lease
// query extension codes.
type MessageType uint8

const (
	Discover         MessageType = 1
	Offer            MessageType = 2
	Request          MessageType = 3
	Decline          MessageType = 4
	Ack              MessageType = 5
	Nak              MessageType = 6
	Release          MessageType = 7
	Inform           MessageType = 8
	ForceRenew       MessageType = 9
	LeaseQuery       MessageType = 10
	LeaseUnassigned  MessageType = 11
	LeaseUnknown     MessageType = 12
	LeaseActive      MessageType = 13
	MessageTypeUnset MessageType = 0
)

func (mt MessageType) String() string {
	switch mt {
	case Discover:
		return "DHCPDISCOVER"
	case Offer:
		return "DHCPOFFER"
	case Request:
		return "DHCPREQUEST"
	case Decline:
		return "DHCPDECLINE"
	case Ack:
		return "DHCPACK"
	case Nak:
		return "DHCPNAK"
	case Release:
		return "DHCPRELEASE"
	case Inform:
		return "DHCPINFORM"
	case ForceRenew:
		return "DHCPFORCERENEW"
	case LeaseQuery:
		return "DHCPLEASEQUERY"
	case LeaseUnassigned:
		return "DHCPLEASEUNASSIGNED"
	case LeaseUnknown:
		return "DHCPLEASEUNKNOWN"
	case LeaseActive:
		return "DHCPLEASEACTIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", mt)
	}
}

// IsLeaseQuery reports whether the message belongs to the lease query family.
func (mt MessageType) IsLeaseQuery() bool {
	return mt >= LeaseQuery && mt <= LeaseActive
}

const (
	OptRelayAgentInfo layers.DHCPOpt = 82

	SubOptCircuitID uint8 = 1
	SubOptRemoteID  uint8 = 2
)

// DHCPv6 lease query and RFC 6939 codes.
const (
	MessageTypeLeaseQuery      = dhcpv6.MessageTypeLeaseQuery
	MessageTypeLeaseQueryReply = dhcpv6.MessageTypeLeaseQueryReply

	OptionLQQuery             = dhcpv6.OptionLQQuery
	OptionClientData          = dhcpv6.OptionClientData
	OptionClientLinkLayerAddr = dhcpv6.OptionClientLinkLayerAddr
)

// MaxRelayDepth bounds RELAY-REPL unwrapping.
const MaxRelayDepth = 32

// MessageTypeName6 names DHCPv6 message types, including lease query.
func MessageTypeName6(t dhcpv6.MessageType) string {
	return t.String()
}
