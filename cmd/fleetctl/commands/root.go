// Package commands implements the fleetctl command tree.
package commands

import (
	"context"
	"flag"
	"io"

	"fleet-sync/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

// CLI is the fleetctl command tree bound to a started app.
type CLI struct {
	app     *app.App
	locale  language.Tag
	rootCmd *cobra.Command
}

// New creates the command tree. An unparsable locale falls back to French.
func New(a *app.App, locale string) *CLI {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.French
	}

	rootCmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Manage a vehicle fleet through the sync layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	c := &CLI{
		app:     a,
		locale:  tag,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newLoginCmd())
	rootCmd.AddCommand(c.newLogoutCmd())
	rootCmd.AddCommand(c.newWhoamiCmd())
	rootCmd.AddCommand(c.newDriversCmd())
	rootCmd.AddCommand(c.newVehiclesCmd())
	rootCmd.AddCommand(c.newReportsCmd())
	rootCmd.AddCommand(c.newWatchCmd())
	rootCmd.AddCommand(c.newStatusCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects standard and error output. Used for testing.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
}
