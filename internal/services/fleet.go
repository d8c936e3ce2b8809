package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/repository"
	"fleet-sync/internal/websocket"

	"github.com/golang/glog"
)

// ErrUnknownReference is returned when a record points at a missing driver or vehicle.
var ErrUnknownReference = errors.New("unknown reference")

// UploadStore keeps uploaded files and returns their public reference.
type UploadStore interface {
	Save(name string, content io.Reader) (string, error)
}

// FleetService applies writes to the repository and announces them to
// realtime subscribers.
type FleetService struct {
	repo    *repository.Repository
	changes websocket.ChangeBroadcaster
	uploads UploadStore
}

// NewFleetService wires the service. changes may be nil.
func NewFleetService(repo *repository.Repository, changes websocket.ChangeBroadcaster, uploads UploadStore) *FleetService {
	return &FleetService{repo: repo, changes: changes, uploads: uploads}
}

func (s *FleetService) notify(entity, action, id string) {
	if s.changes == nil {
		return
	}
	event := operations.ChangeEvent{Entity: entity, Action: action, ID: id}
	if err := s.changes.BroadcastChange(event); err != nil {
		glog.Warningf("Failed to broadcast change: %v", err)
	}
}

func (s *FleetService) Drivers(ctx context.Context) ([]models.Driver, error) {
	return s.repo.Drivers.List(ctx)
}

func (s *FleetService) CreateDriver(ctx context.Context, driver models.Driver) (models.Driver, error) {
	created, err := s.repo.Drivers.Create(ctx, driver)
	if err != nil {
		return models.Driver{}, err
	}
	s.notify(operations.EntityDriver, operations.ActionCreated, created.ID)
	return created, nil
}

// UpdateDriver replaces the driver. The organization is kept when the
// input leaves it out.
func (s *FleetService) UpdateDriver(ctx context.Context, id string, driver models.Driver) (models.Driver, error) {
	existing, err := s.repo.Drivers.Get(ctx, id)
	if err != nil {
		return models.Driver{}, err
	}
	if driver.OrganizationID == "" {
		driver.OrganizationID = existing.OrganizationID
	}
	updated, err := s.repo.Drivers.Update(ctx, id, driver)
	if err != nil {
		return models.Driver{}, err
	}
	s.notify(operations.EntityDriver, operations.ActionUpdated, id)
	return updated, nil
}

func (s *FleetService) SetDriverAccess(ctx context.Context, id string, allowed bool) (models.Driver, error) {
	driver, err := s.repo.Drivers.Get(ctx, id)
	if err != nil {
		return models.Driver{}, err
	}
	driver.OrganizationAccess = allowed
	updated, err := s.repo.Drivers.Update(ctx, id, driver)
	if err != nil {
		return models.Driver{}, err
	}
	s.notify(operations.EntityDriver, operations.ActionAccess, id)
	return updated, nil
}

// DeleteDriver removes the driver and unassigns the vehicles it drove.
func (s *FleetService) DeleteDriver(ctx context.Context, id string) error {
	if err := s.repo.Drivers.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(operations.EntityDriver, operations.ActionDeleted, id)

	vehicles, err := s.repo.Vehicles.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to unassign vehicles of driver %s: %w", id, err)
	}
	for _, vehicle := range vehicles {
		if vehicle.AssignedDriverID == nil || *vehicle.AssignedDriverID != id {
			continue
		}
		vehicle.AssignedDriverID = nil
		if _, err := s.repo.Vehicles.Update(ctx, vehicle.ID, vehicle); err != nil {
			return fmt.Errorf("failed to unassign vehicle %s: %w", vehicle.ID, err)
		}
		s.notify(operations.EntityVehicle, operations.ActionUpdated, vehicle.ID)
	}
	return nil
}

func (s *FleetService) Vehicles(ctx context.Context) ([]models.Vehicle, error) {
	return s.repo.Vehicles.List(ctx)
}

func (s *FleetService) CreateVehicle(ctx context.Context, vehicle models.Vehicle) (models.Vehicle, error) {
	if err := s.checkVehicle(ctx, &vehicle); err != nil {
		return models.Vehicle{}, err
	}
	created, err := s.repo.Vehicles.Create(ctx, vehicle)
	if err != nil {
		return models.Vehicle{}, err
	}
	s.notify(operations.EntityVehicle, operations.ActionCreated, created.ID)
	return created, nil
}

func (s *FleetService) UpdateVehicle(ctx context.Context, id string, vehicle models.Vehicle) (models.Vehicle, error) {
	if err := s.checkVehicle(ctx, &vehicle); err != nil {
		return models.Vehicle{}, err
	}
	updated, err := s.repo.Vehicles.Update(ctx, id, vehicle)
	if err != nil {
		return models.Vehicle{}, err
	}
	s.notify(operations.EntityVehicle, operations.ActionUpdated, id)
	return updated, nil
}

func (s *FleetService) DeleteVehicle(ctx context.Context, id string) error {
	if err := s.repo.Vehicles.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(operations.EntityVehicle, operations.ActionDeleted, id)
	return nil
}

// checkVehicle defaults the status and verifies the assigned driver exists.
func (s *FleetService) checkVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.Status == "" {
		vehicle.Status = models.VehicleAvailable
	}
	if vehicle.AssignedDriverID != nil && *vehicle.AssignedDriverID == "" {
		vehicle.AssignedDriverID = nil
	}
	if vehicle.AssignedDriverID == nil {
		return nil
	}
	return s.checkReference(ctx, "chauffeur", *vehicle.AssignedDriverID, func(ctx context.Context, id string) error {
		_, err := s.repo.Drivers.Get(ctx, id)
		return err
	})
}

func (s *FleetService) Reports(ctx context.Context) ([]models.Report, error) {
	return s.repo.Reports.List(ctx)
}

func (s *FleetService) CreateReport(ctx context.Context, report models.Report) (models.Report, error) {
	if err := s.checkReport(ctx, report); err != nil {
		return models.Report{}, err
	}
	created, err := s.repo.Reports.Create(ctx, report)
	if err != nil {
		return models.Report{}, err
	}
	s.notify(operations.EntityReport, operations.ActionCreated, created.ID)
	return created, nil
}

func (s *FleetService) UpdateReport(ctx context.Context, id string, report models.Report) (models.Report, error) {
	if err := s.checkReport(ctx, report); err != nil {
		return models.Report{}, err
	}
	updated, err := s.repo.Reports.Update(ctx, id, report)
	if err != nil {
		return models.Report{}, err
	}
	s.notify(operations.EntityReport, operations.ActionUpdated, id)
	return updated, nil
}

func (s *FleetService) DeleteReport(ctx context.Context, id string) error {
	if err := s.repo.Reports.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(operations.EntityReport, operations.ActionDeleted, id)
	return nil
}

func (s *FleetService) checkReport(ctx context.Context, report models.Report) error {
	err := s.checkReference(ctx, "chauffeur", report.DriverID, func(ctx context.Context, id string) error {
		_, err := s.repo.Drivers.Get(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	return s.checkReference(ctx, "vehicule", report.VehicleID, func(ctx context.Context, id string) error {
		_, err := s.repo.Vehicles.Get(ctx, id)
		return err
	})
}

func (s *FleetService) checkReference(ctx context.Context, kind, id string, get func(context.Context, string) error) error {
	err := get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrUnknownReference, kind, id)
	}
	return err
}

// UploadImage stores an uploaded file and returns its reference.
func (s *FleetService) UploadImage(name string, content io.Reader) (string, error) {
	if s.uploads == nil {
		return "", errors.New("uploads are not configured")
	}
	return s.uploads.Save(name, content)
}
