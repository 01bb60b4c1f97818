package events

import "github.com/veesix-networks/dhcprelay/pkg/models"

type HostEventType string

const (
	HostAdded   HostEventType = "added"
	HostUpdated HostEventType = "updated"
	HostMoved   HostEventType = "moved"
	HostRemoved HostEventType = "removed"
)

type HostEvent struct {
	Type HostEventType
	Host models.Host
	Prev *models.Host
}

type DeviceEventType string

const (
	DeviceAvailable   DeviceEventType = "available"
	DeviceUnavailable DeviceEventType = "unavailable"
	PortUp            DeviceEventType = "port-up"
	PortDown          DeviceEventType = "port-down"
)

type DeviceEvent struct {
	Type     DeviceEventType
	DeviceID string
	Port     string
}
