package config

import "time"

type Config struct {
	Logging    LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty"`
	Dataplane  DataplaneConfig   `json:"dataplane,omitempty" yaml:"dataplane,omitempty"`
	Interfaces []InterfaceConfig `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Relay      RelayConfig       `json:"relay,omitempty" yaml:"relay,omitempty"`
	Routing    RoutingConfig     `json:"routing,omitempty" yaml:"routing,omitempty"`
	OpDB       OpDBConfig        `json:"opdb,omitempty" yaml:"opdb,omitempty"`
	Metrics    MetricsConfig     `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

type LoggingConfig struct {
	Format     string            `json:"format,omitempty" yaml:"format,omitempty"`
	Level      string            `json:"level,omitempty" yaml:"level,omitempty"`
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
	File       *LogFileConfig    `json:"file,omitempty" yaml:"file,omitempty"`
}

type LogFileConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

type DataplaneConfig struct {
	Ports       []PortConfig `json:"ports,omitempty" yaml:"ports,omitempty"`
	SnapLen     int          `json:"snap_len,omitempty" yaml:"snap_len,omitempty"`
	BlockSizeKB int          `json:"block_size_kb,omitempty" yaml:"block_size_kb,omitempty"`
}

type PortConfig struct {
	Interface    string `json:"interface" yaml:"interface"`
	ConnectPoint string `json:"connect_point" yaml:"connect_point"`
}

type InterfaceConfig struct {
	Name         string   `json:"name" yaml:"name"`
	ConnectPoint string   `json:"connect_point" yaml:"connect_point"`
	MAC          string   `json:"mac" yaml:"mac"`
	VLAN         uint16   `json:"vlan,omitempty" yaml:"vlan,omitempty"`
	IPv4         []string `json:"ipv4,omitempty" yaml:"ipv4,omitempty"`
	IPv6         []string `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
}

type RelayConfig struct {
	DefaultServers        []ServerConfig    `json:"default_servers,omitempty" yaml:"default_servers,omitempty"`
	IndirectServers       []ServerConfig    `json:"indirect_servers,omitempty" yaml:"indirect_servers,omitempty"`
	IgnoreVLANs           []IgnoreVLAN      `json:"ignore_vlans,omitempty" yaml:"ignore_vlans,omitempty"`
	PollInterval          time.Duration     `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	FPMEnabled            bool              `json:"fpm_enabled,omitempty" yaml:"fpm_enabled,omitempty"`
	LeaseQueryLearnRoutes bool              `json:"lease_query_learn_routes,omitempty" yaml:"lease_query_learn_routes,omitempty"`
	HostAutoRelearn       AutoRelearnConfig `json:"host_auto_relearn,omitempty" yaml:"host_auto_relearn,omitempty"`
	ResolveInterval       time.Duration     `json:"resolve_interval,omitempty" yaml:"resolve_interval,omitempty"`
	Workers               int               `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// ServerConfig lists server and gateway addresses of both families; the
// first address of each family is used.
type ServerConfig struct {
	ConnectPoint  string                      `json:"connect_point" yaml:"connect_point"`
	ServerIPs     []string                    `json:"server_ips" yaml:"server_ips"`
	GatewayIPs    []string                    `json:"gateway_ips,omitempty" yaml:"gateway_ips,omitempty"`
	RelayAgentIPs map[string]RelayAgentConfig `json:"relay_agent_ips,omitempty" yaml:"relay_agent_ips,omitempty"`
}

type RelayAgentConfig struct {
	IPv4 string `json:"ipv4,omitempty" yaml:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
}

type IgnoreVLAN struct {
	Device string `json:"device" yaml:"device"`
	VLAN   uint16 `json:"vlan" yaml:"vlan"`
}

type AutoRelearnConfig struct {
	Devices       []string      `json:"devices,omitempty" yaml:"devices,omitempty"`
	ProbeInterval time.Duration `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`
	ProbeCount    int           `json:"probe_count,omitempty" yaml:"probe_count,omitempty"`
}

type RoutingConfig struct {
	Backend   string `json:"backend,omitempty" yaml:"backend,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Table     int    `json:"table,omitempty" yaml:"table,omitempty"`
}

type OpDBConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type MetricsConfig struct {
	Enabled       bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
}
