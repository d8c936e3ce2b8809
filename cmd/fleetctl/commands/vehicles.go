package commands

import (
	"fmt"
	"strconv"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/store"

	"github.com/spf13/cobra"
)

func (c *CLI) newVehiclesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "vehicles",
		Aliases:           []string{"vehicules"},
		Short:             "List and edit vehicles",
		PersistentPreRunE: c.requireSession,
	}
	cmd.AddCommand(c.newVehiclesListCmd())
	cmd.AddCommand(c.newVehiclesCreateCmd())
	cmd.AddCommand(c.newVehiclesUpdateCmd())
	cmd.AddCommand(c.newVehiclesDeleteCmd())
	cmd.AddCommand(c.newVehiclesImageCmd())
	return cmd
}

func (c *CLI) newVehiclesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vehicles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadList(cmd, operations.EntityVehicle); err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tREGISTRATION\tMAKE\tMODEL\tYEAR\tSTATUS\tDRIVER")
			for _, v := range c.app.Store.Vehicles() {
				year := "-"
				if v.Year > 0 {
					year = strconv.Itoa(v.Year)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					displayID(v.ID), v.Registration, v.Make, v.Model, year, v.Status.Label(c.locale), c.driverName(v.AssignedDriverID))
			}
			return w.Flush()
		},
	}
	listFlags(cmd)
	return cmd
}

func (c *CLI) driverName(id *string) string {
	if id == nil || *id == "" {
		return "-"
	}
	if d, ok := c.app.Store.Driver(*id); ok {
		return d.FullName()
	}
	return *id
}

func vehicleFlags(cmd *cobra.Command) {
	cmd.Flags().String("immatriculation", "", "Registration plate")
	cmd.Flags().String("marque", "", "Make")
	cmd.Flags().String("modele", "", "Model")
	cmd.Flags().Int("annee", 0, "Year")
	cmd.Flags().String("statut", "", "Status, as a value or a label (available, Disponible, ...)")
	cmd.Flags().String("chauffeur", "", "Assigned driver id; empty to unassign")
}

func vehiclePatch(cmd *cobra.Command) (store.VehiclePatch, error) {
	patch := store.VehiclePatch{
		Registration:     changedString(cmd, "immatriculation"),
		Make:             changedString(cmd, "marque"),
		Model:            changedString(cmd, "modele"),
		Year:             changedInt(cmd, "annee"),
		AssignedDriverID: changedString(cmd, "chauffeur"),
	}
	if raw := changedString(cmd, "statut"); raw != nil {
		status, ok := models.ParseVehicleStatus(*raw)
		if !ok {
			return store.VehiclePatch{}, fmt.Errorf("unknown vehicle status %q", *raw)
		}
		patch.Status = &status
	}
	return patch, nil
}

func (c *CLI) newVehiclesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patch, err := vehiclePatch(cmd)
			if err != nil {
				return err
			}
			var vehicle models.Vehicle
			patch.Apply(&vehicle)
			created, err := c.app.Store.CreateVehicle(cmd.Context(), vehicle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created vehicle %s (%s)\n", created.ID, created.Registration)
			return nil
		},
	}
	vehicleFlags(cmd)
	_ = cmd.MarkFlagRequired("immatriculation")
	_ = cmd.MarkFlagRequired("marque")
	_ = cmd.MarkFlagRequired("modele")
	return cmd
}

func (c *CLI) newVehiclesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a vehicle's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := vehiclePatch(cmd)
			if err != nil {
				return err
			}
			updated, err := c.app.Store.UpdateVehicle(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated vehicle %s (%s, %s)\n", updated.ID, updated.Registration, updated.Status.Label(c.locale))
			return nil
		},
	}
	vehicleFlags(cmd)
	return cmd
}

func (c *CLI) newVehiclesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.DeleteVehicle(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted vehicle %s\n", args[0])
			return nil
		},
	}
}

func (c *CLI) newVehiclesImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "image ID FILE",
		Short: "Upload a vehicle photo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, file, err := openUpload(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			vehicle, err := c.app.Store.UploadVehicleImage(cmd.Context(), args[0], file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vehicle %s images: %d\n", vehicle.ID, len(vehicle.Images))
			return nil
		},
	}
}
