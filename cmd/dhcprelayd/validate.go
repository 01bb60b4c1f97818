package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veesix-networks/dhcprelay/pkg/config"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

var (
	validateLogLevels bool
	validateEffective string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without starting the relay",
	Long: `Load the configuration, apply defaults and check every address,
connect point and VLAN. Exits non-zero when the file is invalid.

Examples:
  dhcprelayd validate -c /etc/dhcprelay/config.yaml
  dhcprelayd validate --log-levels --log-level dhcp6=debug
  dhcprelayd validate --write-effective /tmp/effective.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ifaces, err := cfg.RelayInterfaces()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "VALID: %s\n", configPath)
		fmt.Fprintf(out, "  ports:       %d\n", len(cfg.Dataplane.Ports))
		fmt.Fprintf(out, "  interfaces:  %d\n", len(ifaces))
		for _, f := range []relay.Family{relay.FamilyV4, relay.FamilyV6} {
			defaults, err := config.ServerInfos(cfg.Relay.DefaultServers, f)
			if err != nil {
				return err
			}
			indirect, err := config.ServerInfos(cfg.Relay.IndirectServers, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s servers:  %d default, %d indirect\n", f, len(defaults), len(indirect))
		}
		fmt.Fprintf(out, "  ignore vlans: %d\n", len(cfg.Relay.IgnoreVLANs))
		fmt.Fprintf(out, "  routing:     %s\n", cfg.Routing.Backend)

		if validateLogLevels {
			if err := configureLogging(cfg.Logging); err != nil {
				return err
			}
			printLogLevels(out)
		}
		if validateEffective != "" {
			if err := config.Save(validateEffective, cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "  effective:   %s\n", validateEffective)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateLogLevels, "log-levels", false, "print the effective default and per-component log levels")
	validateCmd.Flags().StringVar(&validateEffective, "write-effective", "", "write the configuration with defaults applied to this path")
}
