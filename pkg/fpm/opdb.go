package fpm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/opdb"
)

// OpDBStore serves prefixes from memory and persists them in the opdb
// namespace fpm_prefixes.
type OpDBStore struct {
	mu      sync.RWMutex
	records map[netip.Prefix]models.FpmRecord
	db      opdb.Store
	logger  *slog.Logger
}

var (
	_ Store         = (*OpDBStore)(nil)
	_ opdb.Provider = (*OpDBStore)(nil)
)

func NewOpDBStore(db opdb.Store) *OpDBStore {
	return &OpDBStore{
		records: make(map[netip.Prefix]models.FpmRecord),
		db:      db,
		logger:  logger.Get(logger.FPM),
	}
}

func (s *OpDBStore) Add(rec models.FpmRecord) error {
	if !rec.Prefix.IsValid() {
		return fmt.Errorf("invalid fpm prefix %s", rec.Prefix)
	}
	rec.Prefix = rec.Prefix.Masked()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal fpm record %s: %w", rec.Prefix, err)
	}

	s.mu.Lock()
	s.records[rec.Prefix] = rec
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Put(context.Background(), opdb.NamespaceFPMPrefixes, rec.Prefix.String(), data); err != nil {
			s.logger.Warn("Failed to persist fpm prefix", "prefix", rec.Prefix, "error", err)
		}
	}
	s.logger.Debug("Added fpm prefix", "prefix", rec.Prefix, "next_hop", rec.NextHop)
	return nil
}

func (s *OpDBStore) Remove(prefix netip.Prefix) error {
	prefix = prefix.Masked()

	s.mu.Lock()
	_, ok := s.records[prefix]
	delete(s.records, prefix)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if s.db != nil {
		if err := s.db.Delete(context.Background(), opdb.NamespaceFPMPrefixes, prefix.String()); err != nil {
			s.logger.Warn("Failed to delete fpm prefix", "prefix", prefix, "error", err)
		}
	}
	s.logger.Debug("Removed fpm prefix", "prefix", prefix)
	return nil
}

func (s *OpDBStore) Get(prefix netip.Prefix) (models.FpmRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[prefix.Masked()]
	return rec, ok
}

func (s *OpDBStore) List() []models.FpmRecord {
	s.mu.RLock()
	out := make([]models.FpmRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Prefix.String() < out[j].Prefix.String()
	})
	return out
}

func (s *OpDBStore) Namespaces() []string {
	return []string{opdb.NamespaceFPMPrefixes}
}

func (s *OpDBStore) Restore(ctx context.Context, db opdb.Store) error {
	var restored int
	err := db.Load(ctx, opdb.NamespaceFPMPrefixes, func(key string, value []byte) error {
		var rec models.FpmRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn("Failed to unmarshal fpm prefix from opdb", "key", key, "error", err)
			return nil
		}
		s.mu.Lock()
		s.records[rec.Prefix.Masked()] = rec
		s.mu.Unlock()
		restored++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load fpm prefixes: %w", err)
	}
	s.logger.Info("Restored fpm prefixes", "count", restored)
	return nil
}
