package relay

import "github.com/veesix-networks/dhcprelay/pkg/models"

// RelayedFrame is a fully serialized Ethernet frame together with the port
// it must leave through.
type RelayedFrame struct {
	Egress models.ConnectPoint
	Data   []byte
}
