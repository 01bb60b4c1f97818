package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veesix-networks/dhcprelay/pkg/config"
	"github.com/veesix-networks/dhcprelay/pkg/opdb/sqlite"
	"github.com/veesix-networks/dhcprelay/pkg/relay"
)

var recordsJSON bool

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List relay records checkpointed in the opdb",
	Long: `Read the relay records checkpointed by a running or stopped daemon
from the opdb configured in the configuration file.

Examples:
  dhcprelayd records
  dhcprelayd records --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.OpDB.Path == "" {
			return fmt.Errorf("opdb.path is not configured")
		}

		db, err := sqlite.Open(cfg.OpDB.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		store := relay.NewMemoryStore(nil)
		if err := store.Restore(context.Background(), db); err != nil {
			return err
		}
		recs := store.List()
		sort.Slice(recs, func(i, j int) bool { return recs[i].Key.String() < recs[j].Key.String() })

		if recordsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		return printRecords(cmd.OutOrStdout(), recs)
	},
}

func init() {
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "print records as JSON")
}

func printRecords(w io.Writer, recs []*relay.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tCONN\tLOCATION\tIPV4\tIPV6\tPREFIX\tLAST SEEN")
	for _, r := range recs {
		conn := relay.Indirect
		if r.DirectlyConnected {
			conn = relay.Direct
		}
		loc, _ := r.LatestLocation()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Key, conn, loc, dash(r.IP4.IsValid(), r.IP4.String()),
			dash(r.IP6.IsValid(), r.IP6.String()),
			dash(r.PDPrefix.IsValid(), r.PDPrefix.String()),
			r.LastSeen.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func dash(ok bool, s string) string {
	if !ok {
		return "-"
	}
	return s
}
