package models

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// VLANNone marks an untagged attachment.
const VLANNone uint16 = 0

// HostID is the (MAC, VLAN) identity of an end station. MAC is kept in its
// canonical lower-case colon form so the struct can be used as a map key.
type HostID struct {
	MAC  string `json:"mac"`
	VLAN uint16 `json:"vlan"`
}

func NewHostID(mac net.HardwareAddr, vlan uint16) HostID {
	return HostID{MAC: strings.ToLower(mac.String()), VLAN: vlan}
}

func ParseHostID(s string) (HostID, error) {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return HostID{}, fmt.Errorf("invalid host id %q", s)
	}
	mac, err := net.ParseMAC(s[:idx])
	if err != nil {
		return HostID{}, fmt.Errorf("invalid host id %q: %w", s, err)
	}
	var vlan uint16
	if v := s[idx+1:]; v != "None" {
		n, err := strconv.ParseUint(v, 10, 12)
		if err != nil {
			return HostID{}, fmt.Errorf("invalid host id vlan %q: %w", s, err)
		}
		vlan = uint16(n)
	}
	return NewHostID(mac, vlan), nil
}

func (h HostID) HardwareAddr() net.HardwareAddr {
	mac, _ := net.ParseMAC(h.MAC)
	return mac
}

func (h HostID) String() string {
	if h.VLAN == VLANNone {
		return h.MAC + "/None"
	}
	return h.MAC + "/" + strconv.Itoa(int(h.VLAN))
}

type HostLocation struct {
	ConnectPoint ConnectPoint `json:"connect_point"`
	Time         time.Time    `json:"time"`
}

// Host is an end station known to the host directory.
type Host struct {
	ID        HostID         `json:"id"`
	Locations []HostLocation `json:"locations"`
	IPs       []netip.Addr   `json:"ips"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (h Host) MAC() net.HardwareAddr {
	return h.ID.HardwareAddr()
}

func (h Host) HasIP(ip netip.Addr) bool {
	for _, a := range h.IPs {
		if a == ip {
			return true
		}
	}
	return false
}

// IPv4 returns the first IPv4 address of the host.
func (h Host) IPv4() (netip.Addr, bool) {
	for _, a := range h.IPs {
		if a.Is4() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// LinkLocal6 returns the first IPv6 link-local address of the host.
func (h Host) LinkLocal6() (netip.Addr, bool) {
	for _, a := range h.IPs {
		if a.Is6() && a.IsLinkLocalUnicast() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// Location returns the most recently observed attachment.
func (h Host) Location() (ConnectPoint, bool) {
	var latest HostLocation
	for _, l := range h.Locations {
		if latest.ConnectPoint.IsZero() || l.Time.After(latest.Time) {
			latest = l
		}
	}
	return latest.ConnectPoint, !latest.ConnectPoint.IsZero()
}

func (h Host) Clone() Host {
	c := h
	c.Locations = append([]HostLocation(nil), h.Locations...)
	c.IPs = append([]netip.Addr(nil), h.IPs...)
	return c
}
