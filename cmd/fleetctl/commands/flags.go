package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"fleet-sync/internal/store"
	"fleet-sync/pkg/graphql"

	"github.com/spf13/cobra"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func listFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("offline", false, "Show the stored copy without contacting the server")
	cmd.Flags().Bool("cached", false, "Reuse a cached server answer while it is fresh")
	cmd.MarkFlagsMutuallyExclusive("offline", "cached")
}

// loadList brings one collection up to date as the list flags ask: the stored
// copy as is, a cached answer, or by default a fresh read from the server.
func (c *CLI) loadList(cmd *cobra.Command, entity string) error {
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		return nil
	}
	if cached, _ := cmd.Flags().GetBool("cached"); cached {
		return c.app.Store.SyncEntity(cmd.Context(), entity)
	}
	return c.app.Store.RefreshEntity(cmd.Context(), entity)
}

// displayID marks records the server never confirmed with their creation time.
func displayID(id string) string {
	if created, ok := store.TemporaryIDTime(id); ok {
		return fmt.Sprintf("%s (unsynced since %s)", id, created.Local().Format(time.DateTime))
	}
	return id
}

// changedString returns the flag's value when it was set on the command line.
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func changedFloat(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

// openUpload opens path for an image upload. The caller closes the file.
func openUpload(path string) (*os.File, graphql.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, graphql.File{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, graphql.File{Name: filepath.Base(path), Content: f}, nil
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
