package ifmgr

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type Manager struct {
	mu             sync.RWMutex
	byName         map[string]*models.Interface
	byConnectPoint map[models.ConnectPoint][]*models.Interface
}

var _ Service = (*Manager)(nil)

func New() *Manager {
	return &Manager{
		byName:         make(map[string]*models.Interface),
		byConnectPoint: make(map[models.ConnectPoint][]*models.Interface),
	}
}

func (m *Manager) Add(iface models.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byName[iface.Name]; ok {
		m.removeLocked(old)
	}
	stored := iface
	m.byName[iface.Name] = &stored
	m.byConnectPoint[iface.ConnectPoint] = append(m.byConnectPoint[iface.ConnectPoint], &stored)
}

func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if iface, ok := m.byName[name]; ok {
		m.removeLocked(iface)
	}
}

func (m *Manager) removeLocked(iface *models.Interface) {
	delete(m.byName, iface.Name)
	list := m.byConnectPoint[iface.ConnectPoint]
	out := list[:0]
	for _, i := range list {
		if i != iface {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		delete(m.byConnectPoint, iface.ConnectPoint)
	} else {
		m.byConnectPoint[iface.ConnectPoint] = out
	}
}

func (m *Manager) InterfacesAt(cp models.ConnectPoint) []models.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byConnectPoint[cp]
	out := make([]models.Interface, 0, len(list))
	for _, i := range list {
		out = append(out, *i)
	}
	return out
}

// InterfaceFor picks the interface at cp whose VLAN matches. An untagged
// interface serves any VLAN when no tagged one matches.
func (m *Manager) InterfaceFor(cp models.ConnectPoint, vlan uint16) (models.Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fallback *models.Interface
	for _, i := range m.byConnectPoint[cp] {
		if i.VLAN == vlan {
			return *i, true
		}
		if i.VLAN == models.VLANNone && fallback == nil {
			fallback = i
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.Interface{}, false
}

func (m *Manager) Covering(ip netip.Addr) []models.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Interface
	for _, i := range m.byName {
		if i.Covers(ip) {
			out = append(out, *i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (m *Manager) All() []models.Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Interface, 0, len(m.byName))
	for _, i := range m.byName {
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Devices lists the distinct device identifiers of configured interfaces.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for cp := range m.byConnectPoint {
		if !seen[cp.DeviceID] {
			seen[cp.DeviceID] = true
			out = append(out, cp.DeviceID)
		}
	}
	sort.Strings(out)
	return out
}
