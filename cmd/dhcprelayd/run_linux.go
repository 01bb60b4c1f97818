//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veesix-networks/dhcprelay/internal/arp"
	relayd "github.com/veesix-networks/dhcprelay/internal/relay"
	"github.com/veesix-networks/dhcprelay/internal/relay/dhcp4"
	"github.com/veesix-networks/dhcprelay/internal/relay/dhcp6"
	"github.com/veesix-networks/dhcprelay/internal/relay/servers"
	"github.com/veesix-networks/dhcprelay/pkg/component"
	"github.com/veesix-networks/dhcprelay/pkg/config"
	"github.com/veesix-networks/dhcprelay/pkg/dataplane/afpacket"
	"github.com/veesix-networks/dhcprelay/pkg/events/local"
	"github.com/veesix-networks/dhcprelay/pkg/flowrule"
	"github.com/veesix-networks/dhcprelay/pkg/fpm"
	"github.com/veesix-networks/dhcprelay/pkg/hosts"
	"github.com/veesix-networks/dhcprelay/pkg/ifmgr"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
	"github.com/veesix-networks/dhcprelay/pkg/metrics"
	"github.com/veesix-networks/dhcprelay/pkg/opdb"
	"github.com/veesix-networks/dhcprelay/pkg/opdb/sqlite"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
	"github.com/veesix-networks/dhcprelay/pkg/routing"
	"github.com/veesix-networks/dhcprelay/pkg/routing/netlinkstore"
	"github.com/veesix-networks/dhcprelay/pkg/version"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay daemon",
	Long: `Run the relay on the dataplane ports of the configuration file until
SIGINT or SIGTERM.

Examples:
  dhcprelayd run -c /etc/dhcprelay/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func openOpDB(path string) (opdb.Store, error) {
	if path == "" {
		return opdb.NewMemoryStore(), nil
	}
	return sqlite.Open(path)
}

func openRoutes(cfg config.RoutingConfig) (routing.Store, func(), error) {
	if cfg.Backend != config.RoutingBackendNetlink {
		return routing.NewMemory(), func() {}, nil
	}
	s, err := netlinkstore.New(cfg.Namespace, cfg.Table)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func run(cfg *config.Config) error {
	if err := configureLogging(cfg.Logging); err != nil {
		return err
	}
	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting dhcprelayd", "version", version.Full(), "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openOpDB(cfg.OpDB.Path)
	if err != nil {
		return fmt.Errorf("open opdb: %w", err)
	}
	defer db.Close()

	store := relay.NewMemoryStore(db)
	fpmStore := fpm.NewOpDBStore(db)
	providers := opdb.NewProviderRegistry()
	providers.Register(store)
	providers.Register(fpmStore)
	if err := providers.RestoreAll(ctx, db); err != nil {
		return err
	}

	routes, closeRoutes, err := openRoutes(cfg.Routing)
	if err != nil {
		return fmt.Errorf("open route table: %w", err)
	}
	defer closeRoutes()

	bus := local.NewBus()
	defer bus.Close()

	ifaces := ifmgr.New()
	relayIfaces, err := cfg.RelayInterfaces()
	if err != nil {
		return err
	}
	for _, iface := range relayIfaces {
		ifaces.Add(iface)
	}

	ports := make([]afpacket.Port, 0, len(cfg.Dataplane.Ports))
	for _, p := range cfg.Ports() {
		ports = append(ports, afpacket.Port{Interface: p.Interface, ConnectPoint: p.ConnectPoint})
	}
	packets := afpacket.New(afpacket.Config{
		Ports:       ports,
		SnapLen:     cfg.Dataplane.SnapLen,
		BlockSizeKB: cfg.Dataplane.BlockSizeKB,
	})

	directory := hosts.NewDirectory(bus)
	directory.SetProbeInterval(cfg.Relay.ResolveInterval)
	learner := arp.New(directory, ifaces, packets)
	directory.SetProber(learner)

	registry := servers.New(directory, bus)
	for _, f := range []relay.Family{relay.FamilyV4, relay.FamilyV6} {
		defaults, err := config.ServerInfos(cfg.Relay.DefaultServers, f)
		if err != nil {
			return err
		}
		indirect, err := config.ServerInfos(cfg.Relay.IndirectServers, f)
		if err != nil {
			return err
		}
		if err := registry.Configure(f, defaults, indirect); err != nil {
			return fmt.Errorf("configure %s servers: %w", f, err)
		}
	}

	m := metrics.New()
	m.RegisterRecords(store)

	v4 := dhcp4.New(dhcp4.Deps{
		Store:      store,
		Servers:    registry,
		Interfaces: ifaces,
		Hosts:      directory,
		Routes:     routes,
		Metrics:    m,
	})
	v4.SetLeaseQueryLearnRoutes(cfg.Relay.LeaseQueryLearnRoutes)

	v6 := dhcp6.New(dhcp6.Deps{
		Store:      store,
		Servers:    registry,
		Interfaces: ifaces,
		Hosts:      directory,
		Routes:     routes,
		FPM:        fpmStore,
		Metrics:    m,
	})
	v6.SetLeaseQueryLearnRoutes(cfg.Relay.LeaseQueryLearnRoutes)
	v6.SetFPMEnabled(cfg.Relay.FPMEnabled)
	v6.SetPollInterval(cfg.Relay.PollInterval)

	ignore := make([]relayd.IgnoreRule, 0, len(cfg.Relay.IgnoreVLANs))
	for _, iv := range cfg.Relay.IgnoreVLANs {
		ignore = append(ignore, relayd.IgnoreRule{Device: iv.Device, VLAN: iv.VLAN})
	}
	dispatcher := relayd.New(relayd.Config{
		IgnoreVLANs:    ignore,
		Workers:        cfg.Relay.Workers,
		RelearnDevices: cfg.Relay.HostAutoRelearn.Devices,
		ProbeCount:     cfg.Relay.HostAutoRelearn.ProbeCount,
		ProbeInterval:  cfg.Relay.HostAutoRelearn.ProbeInterval,
	}, relayd.Deps{
		Packets: packets,
		Rules:   flowrule.NewMemory(),
		Bus:     bus,
		Store:   store,
		DHCP4:   v4,
		DHCP6:   v6,
		Learner: learner,
		Metrics: m,
	})

	orch := component.NewOrchestrator()
	orch.Register(packets)
	orch.Register(directory)
	orch.Register(registry)
	orch.Register(learner)
	orch.Register(dispatcher)
	orch.Register(ifmgr.NewLinkWatcher(cfg.PortMap(), bus, cfg.Routing.Namespace))
	if cfg.Metrics.Enabled {
		orch.Register(metrics.NewExporter(m, cfg.Metrics.ListenAddress, cfg.Metrics.Path))
	}

	if err := orch.Start(ctx); err != nil {
		return err
	}
	mainLog.Info("Relay started", "ports", len(ports), "interfaces", len(relayIfaces))

	<-ctx.Done()
	mainLog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return orch.Stop(shutdownCtx)
}
