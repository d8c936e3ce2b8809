package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, change feed and cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := newTable(cmd.OutOrStdout())

			if identity, ok := c.app.Session.Identity(); ok {
				fmt.Fprintf(w, "session\t%s\n", identity.Email)
			} else {
				fmt.Fprintln(w, "session\tsigned out")
			}
			if channel := c.app.Realtime(); channel != nil {
				fmt.Fprintf(w, "changes\t%s\n", channel.State())
			} else {
				fmt.Fprintln(w, "changes\toff")
			}

			fmt.Fprintf(w, "records\t%d drivers, %d vehicles, %d reports\n",
				len(c.app.Store.Drivers()), len(c.app.Store.Vehicles()), len(c.app.Store.Reports()))

			cs := c.app.Cache.GetCacheStats()
			fmt.Fprintf(w, "cache\t%d entries, %d hits, %d misses, %d evicted\n",
				cs.KeyCount, cs.TotalHits, cs.TotalMisses, cs.EvictionCount)

			rs := c.app.RefreshStats()
			fmt.Fprintf(w, "reloads\t%d batches, %d events, %d failed\n",
				rs.BatchesProcessed, rs.TotalUpdates, rs.FailedUpdates)
			return w.Flush()
		},
	}
}
