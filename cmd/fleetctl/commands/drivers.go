package commands

import (
	"fmt"
	"strconv"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/store"

	"github.com/spf13/cobra"
)

func (c *CLI) newDriversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "drivers",
		Aliases:           []string{"chauffeurs"},
		Short:             "List and edit drivers",
		PersistentPreRunE: c.requireSession,
	}
	cmd.AddCommand(c.newDriversListCmd())
	cmd.AddCommand(c.newDriversCreateCmd())
	cmd.AddCommand(c.newDriversUpdateCmd())
	cmd.AddCommand(c.newDriversDeleteCmd())
	cmd.AddCommand(c.newDriversAccessCmd())
	cmd.AddCommand(c.newDriversImageCmd())
	return cmd
}

func (c *CLI) newDriversListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadList(cmd, operations.EntityDriver); err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tLICENSE\tEMAIL\tACCESS")
			for _, d := range c.app.Store.Drivers() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", displayID(d.ID), d.FullName(), d.LicenseNumber, d.Email, strconv.FormatBool(d.OrganizationAccess))
			}
			return w.Flush()
		},
	}
	listFlags(cmd)
	return cmd
}

func driverFlags(cmd *cobra.Command) {
	cmd.Flags().String("nom", "", "Last name")
	cmd.Flags().String("prenom", "", "First name")
	cmd.Flags().String("email", "", "Email")
	cmd.Flags().String("telephone", "", "Phone number")
	cmd.Flags().String("permis", "", "License number")
	cmd.Flags().String("categorie", "", "License category")
	cmd.Flags().String("expiration", "", "License expiry date")
}

func driverPatch(cmd *cobra.Command) store.DriverPatch {
	return store.DriverPatch{
		LastName:        changedString(cmd, "nom"),
		FirstName:       changedString(cmd, "prenom"),
		Email:           changedString(cmd, "email"),
		Phone:           changedString(cmd, "telephone"),
		LicenseNumber:   changedString(cmd, "permis"),
		LicenseCategory: changedString(cmd, "categorie"),
		LicenseExpiry:   changedString(cmd, "expiration"),
	}
}

func (c *CLI) newDriversCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var driver models.Driver
			driverPatch(cmd).Apply(&driver)
			created, err := c.app.Store.CreateDriver(cmd.Context(), driver)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created driver %s (%s)\n", created.ID, created.FullName())
			return nil
		},
	}
	driverFlags(cmd)
	_ = cmd.MarkFlagRequired("nom")
	_ = cmd.MarkFlagRequired("prenom")
	_ = cmd.MarkFlagRequired("permis")
	return cmd
}

func (c *CLI) newDriversUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a driver's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updated, err := c.app.Store.UpdateDriver(cmd.Context(), args[0], driverPatch(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated driver %s (%s)\n", updated.ID, updated.FullName())
			return nil
		},
	}
	driverFlags(cmd)
	return cmd
}

func (c *CLI) newDriversDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.DeleteDriver(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted driver %s\n", args[0])
			return nil
		},
	}
}

func (c *CLI) newDriversAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access ID",
		Short: "Grant or revoke a driver's access to the organisation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revoke, _ := cmd.Flags().GetBool("revoke")
			if err := c.app.Store.SetDriverAccess(cmd.Context(), args[0], !revoke); err != nil {
				return err
			}
			verb := "Granted"
			if revoke {
				verb = "Revoked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s access for driver %s\n", verb, args[0])
			return nil
		},
	}
	cmd.Flags().Bool("revoke", false, "Revoke instead of grant")
	return cmd
}

func (c *CLI) newDriversImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "image ID FILE",
		Short: "Upload a driver photo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, file, err := openUpload(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			driver, err := c.app.Store.UploadDriverImage(cmd.Context(), args[0], file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Driver %s image: %s\n", driver.ID, driver.Image)
			return nil
		},
	}
}
