package models

import "net/netip"

type RouteSource string

const (
	RouteSourceDHCP RouteSource = "dhcp"
	RouteSourceFPM  RouteSource = "fpm"
)

// Route is a host or prefix route synthesized for an indirectly connected client.
type Route struct {
	Prefix  netip.Prefix `json:"prefix"`
	NextHop netip.Addr   `json:"next_hop"`
	Source  RouteSource  `json:"source"`
}

// FpmRecord is a delegated prefix advertised through the FPM prefix store.
type FpmRecord struct {
	Prefix  netip.Prefix `json:"prefix"`
	NextHop netip.Addr   `json:"next_hop"`
	Type    RouteSource  `json:"type"`
}
