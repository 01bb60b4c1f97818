// Package dataplanetest provides an in-process packet service for tests.
package dataplanetest

import (
	"sync"

	"github.com/veesix-networks/dhcprelay/pkg/dataplane"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

type EmittedFrame struct {
	Egress models.ConnectPoint
	Data   []byte
}

// Loopback is an in-process PacketService. Frames given to Inject are
// delivered to processors and emitted frames are retained for inspection.
type Loopback struct {
	*dataplane.Registry

	mu      sync.Mutex
	emitted []EmittedFrame
	onEmit  func(EmittedFrame)
}

var _ dataplane.PacketService = (*Loopback)(nil)

func NewLoopback() *Loopback {
	return &Loopback{Registry: dataplane.NewRegistry()}
}

// OnEmit installs a hook run for every emitted frame.
func (l *Loopback) OnEmit(fn func(EmittedFrame)) {
	l.mu.Lock()
	l.onEmit = fn
	l.mu.Unlock()
}

func (l *Loopback) Inject(data []byte, ingress models.ConnectPoint) error {
	pkt, err := dataplane.Parse(data, ingress, 0)
	if err != nil {
		return err
	}
	l.Deliver(pkt)
	return nil
}

func (l *Loopback) Emit(egress models.ConnectPoint, frame []byte) error {
	f := EmittedFrame{Egress: egress, Data: append([]byte(nil), frame...)}
	l.mu.Lock()
	l.emitted = append(l.emitted, f)
	hook := l.onEmit
	l.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

// Drain returns and clears the emitted frames.
func (l *Loopback) Drain() []EmittedFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.emitted
	l.emitted = nil
	return out
}
