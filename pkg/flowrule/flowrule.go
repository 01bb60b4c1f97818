package flowrule

import (
	"fmt"

	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
)

type Action uint8

const (
	ActionDrop Action = iota
	ActionPunt
)

func (a Action) String() string {
	if a == ActionPunt {
		return "punt"
	}
	return "drop"
}

// Rule matches traffic on one device, optionally narrowed to a VLAN and a
// packet selector.
type Rule struct {
	DeviceID string
	VLAN     uint16
	Selector dataplane.Selector
	Priority dataplane.Priority
	Action   Action
}

func (r Rule) String() string {
	return fmt.Sprintf("%s vlan %d %s prio %d", r.DeviceID, r.VLAN, r.Action, r.Priority)
}

type key struct {
	device string
	vlan   uint16
	sel    dataplane.Selector
}

func (r Rule) key() key {
	return key{device: r.DeviceID, vlan: r.VLAN, sel: r.Selector}
}

// Callback reports the outcome of an asynchronous rule operation. err is nil
// on success.
type Callback func(err error)

// Installer programs forwarding rules. Operations complete asynchronously
// and report through done, which may be nil.
type Installer interface {
	Install(rule Rule, done Callback)
	Uninstall(rule Rule, done Callback)
}
