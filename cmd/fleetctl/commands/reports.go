package commands

import (
	"fmt"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/store"

	"github.com/spf13/cobra"
)

func (c *CLI) newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "reports",
		Aliases:           []string{"rapports"},
		Short:             "List and edit activity reports",
		PersistentPreRunE: c.requireSession,
	}
	cmd.AddCommand(c.newReportsListCmd())
	cmd.AddCommand(c.newReportsCreateCmd())
	cmd.AddCommand(c.newReportsUpdateCmd())
	cmd.AddCommand(c.newReportsDeleteCmd())
	return cmd
}

func (c *CLI) newReportsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadList(cmd, operations.EntityReport); err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tDATE\tKM\tDRIVER\tVEHICLE\tINCIDENT")
			for _, r := range c.app.Store.Reports() {
				vehicle := r.VehicleID
				if v, ok := c.app.Store.Vehicle(r.VehicleID); ok {
					vehicle = v.Registration
				}
				fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\t%s\t%s\n",
					displayID(r.ID), r.Date, r.Mileage, c.driverName(&r.DriverID), vehicle, valueOr(r.Incident, "-"))
			}
			return w.Flush()
		},
	}
	listFlags(cmd)
	return cmd
}

func reportFlags(cmd *cobra.Command) {
	cmd.Flags().String("date", "", "Report date")
	cmd.Flags().Float64("kilometrage", 0, "Distance driven")
	cmd.Flags().String("incident", "", "Incident description")
	cmd.Flags().String("commentaire", "", "Comment")
	cmd.Flags().String("chauffeur", "", "Driver id")
	cmd.Flags().String("vehicule", "", "Vehicle id")
}

func reportPatch(cmd *cobra.Command) store.ReportPatch {
	return store.ReportPatch{
		Date:      changedString(cmd, "date"),
		Mileage:   changedFloat(cmd, "kilometrage"),
		Incident:  changedString(cmd, "incident"),
		Comment:   changedString(cmd, "commentaire"),
		DriverID:  changedString(cmd, "chauffeur"),
		VehicleID: changedString(cmd, "vehicule"),
	}
}

func (c *CLI) newReportsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report models.Report
			reportPatch(cmd).Apply(&report)
			created, err := c.app.Store.CreateReport(cmd.Context(), report)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created report %s\n", created.ID)
			return nil
		},
	}
	reportFlags(cmd)
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("chauffeur")
	_ = cmd.MarkFlagRequired("vehicule")
	return cmd
}

func (c *CLI) newReportsUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updated, err := c.app.Store.UpdateReport(cmd.Context(), args[0], reportPatch(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated report %s\n", updated.ID)
			return nil
		},
	}
	reportFlags(cmd)
	return cmd
}

func (c *CLI) newReportsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.DeleteReport(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
			return nil
		},
	}
}
