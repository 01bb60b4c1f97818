package relay

import (
	"errors"

	"github.com/veesix-networks/dhcprelay/pkg/dhcp"
)

var (
	ErrMissingConfiguration = errors.New("no dhcp server configured")
	ErrUnresolvedInterface  = errors.New("no relay interface for connect point")
	ErrUnresolvedServer     = errors.New("dhcp server not resolved")
	ErrMalformedOption      = dhcp.ErrMalformed
	ErrMissingRecord        = errors.New("no relay record")
	ErrForwardingRule       = errors.New("forwarding rule install failed")
)
