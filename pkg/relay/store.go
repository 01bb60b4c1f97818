package relay

import "github.com/veesix-networks/dhcprelay/pkg/models"

// Store holds exactly one authoritative Record per client key. Reads return
// copies; callers modify the copy and write it back.
type Store interface {
	Get(key models.HostID) (*Record, bool)
	Update(key models.HostID, rec *Record)
	Remove(key models.HostID) (*Record, bool)
	List() []*Record

	// Mutate runs fn on a copy of the current record (nil when absent) with
	// writes to the store excluded. The returned record replaces the stored
	// one, a nil record removes it, and an error leaves the store unchanged.
	Mutate(key models.HostID, fn func(cur *Record) (*Record, error)) error
}
