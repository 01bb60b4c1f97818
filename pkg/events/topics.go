package events

const (
	TopicHost   = "dhcprelay:events:host"
	TopicDevice = "dhcprelay:events:device"
)
