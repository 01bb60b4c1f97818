package dhcp6

import (
	"net/netip"
	"time"

	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

const (
	expiredAddress = "address"
	expiredPrefix  = "prefix"
)

// ExpireRecords clears IPv6 addresses and delegated prefixes whose
// preferred lifetime plus half a poll interval has passed, withdrawing the
// matching host address or routes. A record left with neither is removed
// unless it still carries an IPv4 lease. Returns the number of leases
// cleared.
func (h *Handler) ExpireRecords(now time.Time) int {
	grace := h.PollInterval() / 2
	log := h.logger.WithGroup(logger.RelaySweep)
	cleared := 0

	for _, snap := range h.store.List() {
		if !snap.HasV6State() {
			continue
		}

		var effects []func()
		err := h.store.Mutate(snap.Key, func(rec *relay.Record) (*relay.Record, error) {
			if rec == nil || !rec.HasV6State() {
				return rec, nil
			}
			key, direct := rec.Key, rec.DirectlyConnected

			if ip := rec.IP6; ip.IsValid() && expired(now, rec.LastIP6Update, rec.AddrPrefTime, grace) {
				if direct {
					effects = append(effects, func() { h.hosts.RemoveIP(key, ip) })
				} else {
					effects = append(effects, func() { h.removeRoute(log, hostRoute(ip)) })
				}
				rec.IP6 = netip.Addr{}
				h.metrics.Expired(expiredAddress)
				cleared++
				log.Debug("IPv6 address expired", "key", key, "ip", ip)
			}

			if pfx := rec.PDPrefix; pfx.IsValid() && expired(now, rec.LastPDUpdate, rec.PDPrefTime, grace) {
				if !direct {
					effects = append(effects, func() {
						h.removeRoute(log, pfx)
						h.removeFPM(log, pfx)
					})
				}
				rec.PDPrefix = netip.Prefix{}
				h.metrics.Expired(expiredPrefix)
				cleared++
				log.Debug("Delegated prefix expired", "key", key, "prefix", pfx)
			}

			if !rec.V6Empty() {
				return rec, nil
			}
			if rec.IP4.IsValid() {
				rec.DHCPv6Status = 0
				return rec, nil
			}
			log.Debug("Removing relay record without IPv6 lease", "key", key)
			return nil, nil
		})
		if err != nil {
			log.Warn("Failed to expire relay record", "key", snap.Key, "error", err)
			continue
		}
		for _, fn := range effects {
			fn()
		}
	}
	return cleared
}

// expired reports whether a lease refreshed at last with the given
// preferred lifetime has outlived the grace window at now.
func expired(now, last time.Time, preferred uint32, grace time.Duration) bool {
	return now.After(last.Add(time.Duration(preferred)*time.Second + grace))
}
