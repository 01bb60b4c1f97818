package logger

const (
	Main       = "main"
	Relay      = "relay"
	DHCP4      = "dhcp4"
	DHCP6      = "dhcp6"
	Servers    = "servers"
	ARP        = "arp"
	Hosts      = "hosts"
	Dataplane  = "dataplane"
	Routing    = "routing"
	FlowRule   = "flowrule"
	FPM        = "fpm"
	Events     = "events"
	OpDB       = "opdb"
	Metrics    = "metrics"
	Config     = "config"
	Interfaces = "ifmgr"

	RelaySweep   = "sweep"
	RelayRelearn = "relearn"
)
