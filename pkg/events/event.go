package events

import "time"

// Event is the envelope published on the bus. Data holds a HostEvent on
// TopicHost and a DeviceEvent on TopicDevice.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Data      any       `json:"data,omitempty"`
}
