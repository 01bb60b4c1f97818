package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veesix-networks/dhcprelay/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dhcprelayd",
	Short: "DHCPv4/DHCPv6 relay agent",
	Long: `dhcprelayd relays DHCPv4 and DHCPv6 between clients and configured servers,
inserting option 82 or RELAY-FORW encapsulation, tracking per-client relay
records and installing host and delegated-prefix routes for clients behind
other relays.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/dhcprelay/config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&logLevelOverrides, "log-level", nil, "component=level override of the configured log levels, repeatable; an empty level clears the override")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recordsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
