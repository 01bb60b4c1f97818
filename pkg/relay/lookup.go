package relay

import (
	"net"
	"strings"
)

// FindByMAC picks the record for mac when the VLAN is not known. Records
// whose directly-connected flag matches conn win, then the most recently
// seen one.
func FindByMAC(s Store, mac net.HardwareAddr, conn Connectivity) (*Record, bool) {
	want := strings.ToLower(mac.String())

	var best *Record
	for _, rec := range s.List() {
		if rec.Key.MAC != want {
			continue
		}
		if best == nil || better(rec, best, conn) {
			best = rec
		}
	}
	return best, best != nil
}

func better(a, b *Record, conn Connectivity) bool {
	am := a.DirectlyConnected == conn.IsDirect()
	bm := b.DirectlyConnected == conn.IsDirect()
	if am != bm {
		return am
	}
	return a.LastSeen.After(b.LastSeen)
}
