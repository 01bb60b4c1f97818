package flowrule

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/logger"
)

// Memory keeps rules in a table and completes every operation on its own
// goroutine, the way a remote controller would.
type Memory struct {
	mu    sync.RWMutex
	rules map[key]Rule
	fail  func(op string, r Rule) error
	wg    sync.WaitGroup

	logger *slog.Logger
}

var _ Installer = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rules:  make(map[key]Rule),
		logger: logger.Get(logger.FlowRule),
	}
}

// SetFailure injects an error for matching operations. op is "install" or
// "uninstall".
func (m *Memory) SetFailure(fn func(op string, r Rule) error) {
	m.mu.Lock()
	m.fail = fn
	m.mu.Unlock()
}

func (m *Memory) Install(rule Rule, done Callback) {
	m.async("install", rule, done, func() {
		m.rules[rule.key()] = rule
	})
}

func (m *Memory) Uninstall(rule Rule, done Callback) {
	m.async("uninstall", rule, done, func() {
		delete(m.rules, rule.key())
	})
}

func (m *Memory) async(op string, rule Rule, done Callback, apply func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.mu.Lock()
		var err error
		if m.fail != nil {
			err = m.fail(op, rule)
		}
		if err == nil {
			apply()
		}
		m.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%s rule %s: %w", op, rule, err)
			m.logger.Debug("Rule operation failed", "op", op, "rule", rule.String(), "error", err)
		} else {
			m.logger.Debug("Rule operation applied", "op", op, "rule", rule.String())
		}
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every pending operation has completed.
func (m *Memory) Wait() {
	m.wg.Wait()
}

func (m *Memory) Rules() []Rule {
	m.mu.RLock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].VLAN < out[j].VLAN
	})
	return out
}

// Drops reports whether a drop rule covers traffic on (device, vlan).
func (m *Memory) Drops(device string, vlan uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.Action == ActionDrop && r.DeviceID == device && r.VLAN == vlan {
			return true
		}
	}
	return false
}
