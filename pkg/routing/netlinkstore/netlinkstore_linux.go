package netlinkstore

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/models"
	"github.com/veesix-networks/dhcprelay/pkg/routing"
)

// Store programs relay routes into a kernel routing table, optionally inside
// a named network namespace.
type Store struct {
	handle *netlink.Handle
	table  int
	logger *slog.Logger
}

var _ routing.Store = (*Store)(nil)

// New opens a netlink handle in namespace (empty for the current one). A
// zero table means the main table.
func New(namespace string, table int) (*Store, error) {
	s := &Store{
		table:  table,
		logger: logger.Get(logger.Routing),
	}
	if namespace == "" {
		return s, nil
	}

	nsHandle, err := netns.GetFromName(namespace)
	if err != nil {
		return nil, fmt.Errorf("get netns %q: %w", namespace, err)
	}
	h, err := netlink.NewHandleAt(nsHandle)
	nsHandle.Close()
	if err != nil {
		return nil, fmt.Errorf("create netlink handle for netns %q: %w", namespace, err)
	}
	s.handle = h
	s.logger.Info("Route table bound to namespace", "netns", namespace)
	return s, nil
}

func (s *Store) Replace(route models.Route) error {
	nr, err := s.toNetlink(route)
	if err != nil {
		return err
	}
	if err := s.nlRouteReplace(nr); err != nil {
		return fmt.Errorf("replace route %s via %s: %w", route.Prefix, route.NextHop, err)
	}
	s.logger.Debug("Installed route", "prefix", route.Prefix, "next_hop", route.NextHop)
	return nil
}

func (s *Store) Remove(route models.Route) error {
	nr, err := s.toNetlink(route)
	if err != nil {
		return err
	}
	// Removal is keyed by destination only.
	nr.Gw = nil
	if err := s.nlRouteDel(nr); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("delete route %s: %w", route.Prefix, err)
	}
	s.logger.Debug("Removed route", "prefix", route.Prefix)
	return nil
}

func (s *Store) Close() error {
	if s.handle != nil {
		s.handle.Close()
	}
	return nil
}

func (s *Store) toNetlink(route models.Route) (*netlink.Route, error) {
	if !route.Prefix.IsValid() {
		return nil, fmt.Errorf("invalid route prefix %s", route.Prefix)
	}
	p := route.Prefix.Masked()
	bits := 32
	if p.Addr().Is6() {
		bits = 128
	}
	nr := &netlink.Route{
		Dst: &net.IPNet{
			IP:   p.Addr().AsSlice(),
			Mask: net.CIDRMask(p.Bits(), bits),
		},
		Protocol: netlink.RouteProtocol(unix.RTPROT_DHCP),
		Table:    s.table,
	}
	if route.NextHop.IsValid() {
		nr.Gw = route.NextHop.AsSlice()
	}
	return nr, nil
}

func (s *Store) nlRouteReplace(r *netlink.Route) error {
	if s.handle != nil {
		return s.handle.RouteReplace(r)
	}
	return netlink.RouteReplace(r)
}

func (s *Store) nlRouteDel(r *netlink.Route) error {
	if s.handle != nil {
		return s.handle.RouteDel(r)
	}
	return netlink.RouteDel(r)
}
