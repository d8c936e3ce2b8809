package store

import (
	"context"
	"fmt"

	"fleet-sync/internal/models"
	"fleet-sync/pkg/graphql"

	"github.com/golang/glog"
)

// DriverPatch holds the fields to change; nil fields are left as they are.
type DriverPatch struct {
	LastName           *string
	FirstName          *string
	Email              *string
	Phone              *string
	LicenseNumber      *string
	LicenseCategory    *string
	LicenseExpiry      *string
	OrganizationAccess *bool
	Image              *string
}

// Apply copies the set fields onto the record.
func (p DriverPatch) Apply(d *models.Driver) {
	setIf(&d.LastName, p.LastName)
	setIf(&d.FirstName, p.FirstName)
	setIf(&d.Email, p.Email)
	setIf(&d.Phone, p.Phone)
	setIf(&d.LicenseNumber, p.LicenseNumber)
	setIf(&d.LicenseCategory, p.LicenseCategory)
	setIf(&d.LicenseExpiry, p.LicenseExpiry)
	setIf(&d.OrganizationAccess, p.OrganizationAccess)
	setIf(&d.Image, p.Image)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (s *Store) CreateDriver(ctx context.Context, driver models.Driver) (models.Driver, error) {
	return createOptimistic(ctx, s, s.drivers, driver, remoteCreate(s.drivers))
}

func (s *Store) UpdateDriver(ctx context.Context, id string, patch DriverPatch) (models.Driver, error) {
	return updateOptimistic(ctx, s, s.drivers, id, patch.Apply, remoteUpdate(s.drivers))
}

func (s *Store) DeleteDriver(ctx context.Context, id string) error {
	return deleteOptimistic(ctx, s, s.drivers, id, remoteDelete(s.drivers))
}

// SetDriverAccess toggles the organization access of a driver. The change is
// kept in memory until the server confirms it; a rejected change is undone by
// reloading the last persisted collection. Other driver writes wait for the
// outcome so none of them persists the unconfirmed flag.
func (s *Store) SetDriverAccess(ctx context.Context, id string, allowed bool) error {
	c := s.drivers
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	found := c.modify(func(items []models.Driver) ([]models.Driver, bool) {
		i := c.indexOf(items, id)
		if i < 0 {
			return items, false
		}
		items[i].OrganizationAccess = allowed
		return items, true
	})
	if !found {
		glog.Errorf("store: cannot change access of driver %s: %v", id, ErrNotFound)
		return fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	s.notify(c.entity)

	if _, err := s.access.Mutate(ctx, graphql.Variables{"id": id, "acces": allowed}); err != nil {
		glog.Warningf("store: access change for driver %s rejected, restoring stored drivers: %v", id, err)
		if loadErr := c.load(ctx, s.storage); loadErr != nil {
			glog.Errorf("store: failed to restore drivers: %v", loadErr)
		}
		s.notify(c.entity)
		return err
	}
	return c.persist(ctx, s.storage)
}

// UploadDriverImage uploads file and points the driver's image at it.
func (s *Store) UploadDriverImage(ctx context.Context, id string, file graphql.File) (models.Driver, error) {
	if _, ok := s.drivers.find(id); !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	ref, err := s.uploadImage(ctx, file)
	if err != nil {
		return models.Driver{}, err
	}
	return s.UpdateDriver(ctx, id, DriverPatch{Image: &ref})
}
