package relay

import (
	"bytes"
	"maps"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type Location struct {
	ConnectPoint models.ConnectPoint `json:"connect_point"`
	Time         time.Time           `json:"time"`
}

// Record is the relay's view of one client, keyed by (MAC, VLAN).
type Record struct {
	Key models.HostID `json:"key"`

	IP4          netip.Addr `json:"ip4,omitzero"`
	DHCPv4Status uint8      `json:"dhcpv4_status,omitempty"`

	IP6           netip.Addr `json:"ip6,omitzero"`
	DHCPv6Status  uint8      `json:"dhcpv6_status,omitempty"`
	AddrPrefTime  uint32     `json:"addr_pref_time,omitempty"`
	LastIP6Update time.Time  `json:"last_ip6_update,omitzero"`

	PDPrefix     netip.Prefix `json:"pd_prefix,omitzero"`
	PDPrefTime   uint32       `json:"pd_pref_time,omitempty"`
	LastPDUpdate time.Time    `json:"last_pd_update,omitzero"`

	Locations         []Location       `json:"locations,omitempty"`
	DirectlyConnected bool             `json:"directly_connected"`
	NextHop           net.HardwareAddr `json:"next_hop,omitempty"`
	NextHopTemp       net.HardwareAddr `json:"next_hop_temp,omitempty"`

	Counters map[string]uint64 `json:"counters,omitempty"`
	LastSeen time.Time         `json:"last_seen"`
	Version  uint64            `json:"version"`
}

func NewRecord(key models.HostID) *Record {
	return &Record{Key: key, Counters: make(map[string]uint64)}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Locations = append([]Location(nil), r.Locations...)
	c.NextHop = cloneMAC(r.NextHop)
	c.NextHopTemp = cloneMAC(r.NextHopTemp)
	c.Counters = make(map[string]uint64, len(r.Counters))
	for k, v := range r.Counters {
		c.Counters[k] = v
	}
	return &c
}

// Equal compares the client state of two records. Key and Version are
// bookkeeping of the store and are not compared.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.IP4 == o.IP4 &&
		r.DHCPv4Status == o.DHCPv4Status &&
		r.IP6 == o.IP6 &&
		r.DHCPv6Status == o.DHCPv6Status &&
		r.AddrPrefTime == o.AddrPrefTime &&
		r.LastIP6Update.Equal(o.LastIP6Update) &&
		r.PDPrefix == o.PDPrefix &&
		r.PDPrefTime == o.PDPrefTime &&
		r.LastPDUpdate.Equal(o.LastPDUpdate) &&
		slices.EqualFunc(r.Locations, o.Locations, func(a, b Location) bool {
			return a.ConnectPoint == b.ConnectPoint && a.Time.Equal(b.Time)
		}) &&
		r.DirectlyConnected == o.DirectlyConnected &&
		bytes.Equal(r.NextHop, o.NextHop) &&
		bytes.Equal(r.NextHopTemp, o.NextHopTemp) &&
		maps.Equal(r.Counters, o.Counters) &&
		r.LastSeen.Equal(o.LastSeen)
}

func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	if m == nil {
		return nil
	}
	return append(net.HardwareAddr(nil), m...)
}

// TouchLastSeen never moves LastSeen backwards.
func (r *Record) TouchLastSeen(t time.Time) {
	if t.After(r.LastSeen) {
		r.LastSeen = t
	}
}

// AddLocation records an attachment, refreshing the timestamp if the
// connect point is already known.
func (r *Record) AddLocation(cp models.ConnectPoint, t time.Time) {
	for i := range r.Locations {
		if r.Locations[i].ConnectPoint == cp {
			if t.After(r.Locations[i].Time) {
				r.Locations[i].Time = t
			}
			return
		}
	}
	r.Locations = append(r.Locations, Location{ConnectPoint: cp, Time: t})
}

// LatestLocation returns the most recently refreshed attachment.
func (r *Record) LatestLocation() (models.ConnectPoint, bool) {
	var latest Location
	for _, l := range r.Locations {
		if latest.ConnectPoint.IsZero() || l.Time.After(latest.Time) {
			latest = l
		}
	}
	return latest.ConnectPoint, !latest.ConnectPoint.IsZero()
}

func (r *Record) HasLocation(cp models.ConnectPoint) bool {
	for _, l := range r.Locations {
		if l.ConnectPoint == cp {
			return true
		}
	}
	return false
}

func (r *Record) Count(msgType string) {
	if r.Counters == nil {
		r.Counters = make(map[string]uint64)
	}
	r.Counters[msgType]++
	r.Counters[CounterTotal]++
}

const CounterTotal = "total"

// HasV6State reports whether the record has ever carried DHCPv6 state.
func (r *Record) HasV6State() bool {
	return r.DHCPv6Status != 0
}

// V6Empty reports whether both the IPv6 address and the delegated prefix are
// absent, which makes a v6 record eligible for removal.
func (r *Record) V6Empty() bool {
	return !r.IP6.IsValid() && !r.PDPrefix.IsValid()
}
