package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/opdb"
)

// MemoryStore keeps records in memory and checkpoints every write into the
// opdb so a restarted relay keeps its lease view.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[models.HostID]*Record
	db      opdb.Store
	logger  *slog.Logger
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ opdb.Provider = (*MemoryStore)(nil)
)

func NewMemoryStore(db opdb.Store) *MemoryStore {
	return &MemoryStore{
		records: make(map[models.HostID]*Record),
		db:      db,
		logger:  logger.Get(logger.Relay).WithGroup("store"),
	}
}

func (s *MemoryStore) Get(key models.HostID) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *MemoryStore) Update(key models.HostID, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, rec)
}

func (s *MemoryStore) Remove(key models.HostID) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key)
}

func (s *MemoryStore) List() []*Record {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (s *MemoryStore) Mutate(key models.HostID, fn func(cur *Record) (*Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *Record
	if rec, ok := s.records[key]; ok {
		cur = rec.Clone()
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		s.remove(key)
		return nil
	}
	s.put(key, next)
	return nil
}

// put stores a copy of rec under key. Writes that leave the record
// unchanged are no-ops.
func (s *MemoryStore) put(key models.HostID, rec *Record) {
	stored := rec.Clone()
	stored.Key = key
	prev, ok := s.records[key]
	switch {
	case ok && prev.Equal(stored):
		// Nothing changed: keep the version and skip the checkpoint.
		rec.Version = prev.Version
		return
	case ok:
		stored.Version = prev.Version + 1
	default:
		stored.Version = 1
	}
	s.records[key] = stored
	rec.Version = stored.Version
	s.checkpoint(stored)
}

func (s *MemoryStore) remove(key models.HostID) (*Record, bool) {
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	delete(s.records, key)
	s.deleteCheckpoint(key)
	return rec, true
}

func (s *MemoryStore) checkpoint(rec *Record) {
	if s.db == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("Failed to marshal record for checkpoint", "key", rec.Key, "error", err)
		return
	}

	if err := s.db.Put(context.Background(), opdb.NamespaceRelayRecords, rec.Key.String(), data); err != nil {
		s.logger.Warn("Failed to checkpoint record", "key", rec.Key, "error", err)
	}
}

func (s *MemoryStore) deleteCheckpoint(key models.HostID) {
	if s.db == nil {
		return
	}

	if err := s.db.Delete(context.Background(), opdb.NamespaceRelayRecords, key.String()); err != nil {
		s.logger.Warn("Failed to delete record checkpoint", "key", key, "error", err)
	}
}

func (s *MemoryStore) Namespaces() []string {
	return []string{opdb.NamespaceRelayRecords}
}

// Restore loads checkpointed records. Entries that no longer decode are
// dropped from the opdb.
func (s *MemoryStore) Restore(ctx context.Context, db opdb.Store) error {
	var restored, dropped int
	var stale []string

	err := db.Load(ctx, opdb.NamespaceRelayRecords, func(key string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn("Failed to unmarshal record from opdb", "key", key, "error", err)
			stale = append(stale, key)
			return nil
		}
		if rec.Key.String() != key {
			stale = append(stale, key)
			return nil
		}
		if rec.Counters == nil {
			rec.Counters = make(map[string]uint64)
		}

		s.mu.Lock()
		s.records[rec.Key] = &rec
		s.mu.Unlock()
		restored++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load relay records: %w", err)
	}

	for _, key := range stale {
		if err := db.Delete(ctx, opdb.NamespaceRelayRecords, key); err == nil {
			dropped++
		}
	}

	s.logger.Info("Restored relay records", "count", restored, "dropped", dropped)
	return nil
}
