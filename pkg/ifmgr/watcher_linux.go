//go:build linux

package ifmgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
)

// LinkWatcher turns kernel link state changes of relay ports into device
// events. Ports are matched by interface name.
type LinkWatcher struct {
	*component.Base

	ports     map[string]models.ConnectPoint
	bus       events.Bus
	namespace string
	logger    *slog.Logger
	operUp    map[string]bool
}

func NewLinkWatcher(ports map[string]models.ConnectPoint, bus events.Bus, namespace string) *LinkWatcher {
	return &LinkWatcher{
		Base:      component.NewBase("link-watcher"),
		ports:     ports,
		bus:       bus,
		namespace: namespace,
		logger:    logger.Get(logger.Interfaces),
		operUp:    make(map[string]bool),
	}
}

func (w *LinkWatcher) Start(ctx context.Context) error {
	w.StartContext(ctx)

	opts := netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			w.logger.Warn("Link subscription error", "error", err)
		},
	}
	if w.namespace != "" {
		ns, err := netns.GetFromName(w.namespace)
		if err != nil {
			return fmt.Errorf("get netns %q: %w", w.namespace, err)
		}
		opts.Namespace = &ns
	}

	updates := make(chan netlink.LinkUpdate, 64)
	if err := netlink.LinkSubscribeWithOptions(updates, w.Ctx.Done(), opts); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	announced := make(map[string]bool)
	for _, cp := range w.ports {
		if announced[cp.DeviceID] {
			continue
		}
		announced[cp.DeviceID] = true
		w.bus.Publish(events.TopicDevice, events.Event{
			Source: logger.Interfaces,
			Data:   events.DeviceEvent{Type: events.DeviceAvailable, DeviceID: cp.DeviceID},
		})
	}

	w.Go(func() { w.run(updates) })
	return nil
}

func (w *LinkWatcher) run(updates <-chan netlink.LinkUpdate) {
	for {
		select {
		case <-w.Ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			w.handle(u)
		}
	}
}

func (w *LinkWatcher) handle(u netlink.LinkUpdate) {
	attrs := u.Link.Attrs()
	cp, ok := w.ports[attrs.Name]
	if !ok {
		return
	}

	up := attrs.OperState == netlink.OperUp
	if prev, seen := w.operUp[attrs.Name]; seen && prev == up {
		return
	}
	w.operUp[attrs.Name] = up

	evType := events.PortDown
	if up {
		evType = events.PortUp
	}
	w.logger.Info("Port state changed", "interface", attrs.Name, "cp", cp, "state", evType)
	w.bus.Publish(events.TopicDevice, events.Event{
		Source: logger.Interfaces,
		Data:   events.DeviceEvent{Type: evType, DeviceID: cp.DeviceID, Port: cp.Port},
	})
}

func (w *LinkWatcher) Stop(ctx context.Context) error {
	w.StopContext()
	return nil
}
