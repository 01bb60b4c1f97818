package models

import (
	"net"
	"net/netip"
)

// Interface is a relay-owned L3 interface bound to a connect point.
type Interface struct {
	Name         string           `json:"name"`
	ConnectPoint ConnectPoint     `json:"connect_point"`
	MAC          net.HardwareAddr `json:"mac"`
	VLAN         uint16           `json:"vlan"`
	IPv4         []netip.Prefix   `json:"ipv4,omitempty"`
	IPv6         []netip.Prefix   `json:"ipv6,omitempty"`
}

func (i Interface) FirstIPv4() (netip.Addr, bool) {
	if len(i.IPv4) == 0 {
		return netip.Addr{}, false
	}
	return i.IPv4[0].Addr(), true
}

// GlobalIPv6 returns the first non-link-local IPv6 address.
func (i Interface) GlobalIPv6() (netip.Addr, bool) {
	for _, p := range i.IPv6 {
		if !p.Addr().IsLinkLocalUnicast() {
			return p.Addr(), true
		}
	}
	return netip.Addr{}, false
}

// LinkLocal6 returns the first link-local IPv6 address.
func (i Interface) LinkLocal6() (netip.Addr, bool) {
	for _, p := range i.IPv6 {
		if p.Addr().IsLinkLocalUnicast() {
			return p.Addr(), true
		}
	}
	return netip.Addr{}, false
}

// Covers reports whether ip falls in one of the interface subnets.
func (i Interface) Covers(ip netip.Addr) bool {
	for _, p := range i.IPv4 {
		if p.Contains(ip) {
			return true
		}
	}
	for _, p := range i.IPv6 {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
