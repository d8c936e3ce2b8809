package commands

import (
	"errors"
	"fmt"

	"fleet-sync/internal/operations"

	"github.com/spf13/cobra"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Print fleet changes as they happen",
		Args:    cobra.NoArgs,
		PreRunE: c.requireSession,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			channel := c.app.Realtime()
			if channel == nil {
				return fmt.Errorf("realtime channel is not running")
			}

			events := make(chan operations.ChangeEvent, 16)
			c.app.OnChange(func(event operations.ChangeEvent) {
				select {
				case events <- event:
				default:
				}
			})

			ended := make(chan error, 1)
			c.app.Session.OnSignOut(func(reason error) {
				select {
				case ended <- reason:
				default:
				}
			})

			out := cmd.OutOrStdout()
			for seen := 0; count <= 0 || seen < count; seen++ {
				select {
				case event := <-events:
					fmt.Fprintf(out, "%s\t%s\t%s\n", event.Entity, event.Action, event.ID)
				case reason := <-ended:
					return sessionEnded(reason)
				case <-channel.Done():
					// Sign-out closes the channel before its listeners run.
					if !c.app.Session.Active() {
						return sessionEnded(nil)
					}
					return fmt.Errorf("realtime channel stopped: %w", channel.Err())
				case <-cmd.Context().Done():
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().IntP("count", "n", 0, "Exit after this many changes (0 waits until interrupted)")
	return cmd
}

var errSessionEnded = errors.New("session ended")

func sessionEnded(reason error) error {
	if reason == nil {
		return errSessionEnded
	}
	return fmt.Errorf("%w: %w", errSessionEnded, reason)
}
