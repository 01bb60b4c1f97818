package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"inet.af/netaddr"

	"github.com/veesix-networks/dhcprelay/pkg/models"
)

const (
	DefaultPollInterval  = 24 * time.Hour
	DefaultWorkers       = 64
	DefaultProbeInterval = time.Second
	DefaultProbeCount    = 3
	// DefaultResolveInterval paces ARP/NDP retries for server and gateway
	// addresses that have no host yet.
	DefaultResolveInterval = 30 * time.Second
	DefaultMetricsAddress  = ":9273"
	DefaultMetricsPath     = "/metrics"

	RoutingBackendMemory  = "memory"
	RoutingBackendNetlink = "netlink"

	maxVLAN = 4094
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	r := &c.Relay
	if r.PollInterval == 0 {
		r.PollInterval = DefaultPollInterval
	}
	if r.Workers == 0 {
		r.Workers = DefaultWorkers
	}
	if r.HostAutoRelearn.ProbeInterval == 0 {
		r.HostAutoRelearn.ProbeInterval = DefaultProbeInterval
	}
	if r.HostAutoRelearn.ProbeCount == 0 {
		r.HostAutoRelearn.ProbeCount = DefaultProbeCount
	}
	if r.ResolveInterval == 0 {
		r.ResolveInterval = DefaultResolveInterval
	}

	if c.Routing.Backend == "" {
		c.Routing.Backend = RoutingBackendMemory
	}

	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	for i, p := range c.Dataplane.Ports {
		if p.Interface == "" {
			errs = append(errs, fmt.Errorf("dataplane.ports[%d].interface is required", i))
		}
		if _, err := models.ParseConnectPoint(p.ConnectPoint); err != nil {
			errs = append(errs, fmt.Errorf("dataplane.ports[%d].connect_point: %w", i, err))
		}
	}

	for i, iface := range c.Interfaces {
		if err := iface.validate(); err != nil {
			errs = append(errs, fmt.Errorf("interfaces[%d]: %w", i, err))
		}
	}

	for i, s := range c.Relay.DefaultServers {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("relay.default_servers[%d]: %w", i, err))
		}
	}
	for i, s := range c.Relay.IndirectServers {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("relay.indirect_servers[%d]: %w", i, err))
		}
	}

	for i, iv := range c.Relay.IgnoreVLANs {
		if iv.Device == "" {
			errs = append(errs, fmt.Errorf("relay.ignore_vlans[%d].device is required", i))
		}
		if iv.VLAN == 0 || iv.VLAN > maxVLAN {
			errs = append(errs, fmt.Errorf("relay.ignore_vlans[%d].vlan %d out of range 1-%d", i, iv.VLAN, maxVLAN))
		}
	}

	if c.Relay.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("relay.poll_interval must be positive"))
	}
	if c.Relay.Workers < 0 {
		errs = append(errs, fmt.Errorf("relay.workers must be positive"))
	}
	if c.Relay.ResolveInterval < 0 {
		errs = append(errs, fmt.Errorf("relay.resolve_interval must be positive"))
	}
	if c.Relay.HostAutoRelearn.ProbeCount < 0 {
		errs = append(errs, fmt.Errorf("relay.host_auto_relearn.probe_count must be positive"))
	}

	switch c.Routing.Backend {
	case RoutingBackendMemory, RoutingBackendNetlink:
	default:
		errs = append(errs, fmt.Errorf("routing.backend: unknown backend %q", c.Routing.Backend))
	}

	return errors.Join(errs...)
}

func (i InterfaceConfig) validate() error {
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := models.ParseConnectPoint(i.ConnectPoint); err != nil {
		return fmt.Errorf("%s connect_point: %w", i.Name, err)
	}
	if _, err := net.ParseMAC(i.MAC); err != nil {
		return fmt.Errorf("%s mac: %w", i.Name, err)
	}
	if i.VLAN > maxVLAN {
		return fmt.Errorf("%s vlan %d out of range", i.Name, i.VLAN)
	}
	for _, s := range i.IPv4 {
		p, err := netaddr.ParseIPPrefix(s)
		if err != nil {
			return fmt.Errorf("%s ipv4: %w", i.Name, err)
		}
		if !p.IP().Is4() {
			return fmt.Errorf("%s ipv4: %s is not an IPv4 prefix", i.Name, s)
		}
	}
	for _, s := range i.IPv6 {
		p, err := netaddr.ParseIPPrefix(s)
		if err != nil {
			return fmt.Errorf("%s ipv6: %w", i.Name, err)
		}
		if !p.IP().Is6() {
			return fmt.Errorf("%s ipv6: %s is not an IPv6 prefix", i.Name, s)
		}
	}
	return nil
}

func (s ServerConfig) validate() error {
	if _, err := models.ParseConnectPoint(s.ConnectPoint); err != nil {
		return fmt.Errorf("connect_point: %w", err)
	}
	if len(s.ServerIPs) == 0 {
		return fmt.Errorf("server_ips is required")
	}
	for _, ip := range s.ServerIPs {
		if _, err := netaddr.ParseIP(ip); err != nil {
			return fmt.Errorf("server_ips: %w", err)
		}
	}
	for _, ip := range s.GatewayIPs {
		if _, err := netaddr.ParseIP(ip); err != nil {
			return fmt.Errorf("gateway_ips: %w", err)
		}
	}
	for device, ra := range s.RelayAgentIPs {
		if ra.IPv4 != "" {
			ip, err := netaddr.ParseIP(ra.IPv4)
			if err != nil || !ip.Is4() {
				return fmt.Errorf("relay_agent_ips.%s.ipv4: invalid address %q", device, ra.IPv4)
			}
		}
		if ra.IPv6 != "" {
			ip, err := netaddr.ParseIP(ra.IPv6)
			if err != nil || !ip.Is6() {
				return fmt.Errorf("relay_agent_ips.%s.ipv6: invalid address %q", device, ra.IPv6)
			}
		}
	}
	return nil
}
