package store

import (
	"context"
	"fmt"

	"fleet-sync/internal/models"
	"fleet-sync/pkg/graphql"
)

// VehiclePatch holds the fields to change; nil fields are left as they are.
// An empty AssignedDriverID unassigns the vehicle.
type VehiclePatch struct {
	Registration     *string
	Make             *string
	Model            *string
	Year             *int
	Status           *models.VehicleStatus
	AssignedDriverID *string
	Images           *[]string
}

// Apply copies the set fields onto the record.
func (p VehiclePatch) Apply(v *models.Vehicle) {
	setIf(&v.Registration, p.Registration)
	setIf(&v.Make, p.Make)
	setIf(&v.Model, p.Model)
	setIf(&v.Year, p.Year)
	setIf(&v.Status, p.Status)
	if p.AssignedDriverID != nil {
		if *p.AssignedDriverID == "" {
			v.AssignedDriverID = nil
		} else {
			driverID := *p.AssignedDriverID
			v.AssignedDriverID = &driverID
		}
	}
	if p.Images != nil {
		v.Images = append([]string(nil), (*p.Images)...)
	}
}

func (s *Store) CreateVehicle(ctx context.Context, vehicle models.Vehicle) (models.Vehicle, error) {
	return createOptimistic(ctx, s, s.vehicles, vehicle, remoteCreate(s.vehicles))
}

func (s *Store) UpdateVehicle(ctx context.Context, id string, patch VehiclePatch) (models.Vehicle, error) {
	return updateOptimistic(ctx, s, s.vehicles, id, patch.Apply, remoteUpdate(s.vehicles))
}

func (s *Store) DeleteVehicle(ctx context.Context, id string) error {
	return deleteOptimistic(ctx, s, s.vehicles, id, remoteDelete(s.vehicles))
}

// UploadVehicleImage uploads file and appends it to the vehicle's images.
func (s *Store) UploadVehicleImage(ctx context.Context, id string, file graphql.File) (models.Vehicle, error) {
	vehicle, ok := s.vehicles.find(id)
	if !ok {
		return models.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	ref, err := s.uploadImage(ctx, file)
	if err != nil {
		return models.Vehicle{}, err
	}
	images := append(append([]string(nil), vehicle.Images...), ref)
	return s.UpdateVehicle(ctx, id, VehiclePatch{Images: &images})
}
