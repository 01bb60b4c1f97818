package routing

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type Memory struct {
	mu     sync.RWMutex
	routes map[netip.Prefix]models.Route
}

var (
	_ Store  = (*Memory)(nil)
	_ Lister = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{routes: make(map[netip.Prefix]models.Route)}
}

func (m *Memory) Replace(route models.Route) error {
	if !route.Prefix.IsValid() {
		return fmt.Errorf("invalid route prefix %s", route.Prefix)
	}
	m.mu.Lock()
	m.routes[route.Prefix.Masked()] = route
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(route models.Route) error {
	m.mu.Lock()
	delete(m.routes, route.Prefix.Masked())
	m.mu.Unlock()
	return nil
}

func (m *Memory) Lookup(prefix netip.Prefix) (models.Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[prefix.Masked()]
	return r, ok
}

func (m *Memory) Routes() []models.Route {
	m.mu.RLock()
	out := make([]models.Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Prefix.String() < out[j].Prefix.String()
	})
	return out
}
