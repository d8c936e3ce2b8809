// Package repository persists the devserver's fleet records.
package repository

import (
	"context"
	"errors"

	"fleet-sync/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Table stores one kind of record keyed by its string id. Create assigns the
// id; Update replaces the whole record.
type Table[T any] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, id string, record T) (T, error)
	Delete(ctx context.Context, id string) error
}

type Users interface {
	ByEmail(ctx context.Context, email string) (models.User, error)
	ByID(ctx context.Context, id string) (models.User, error)
	Create(ctx context.Context, user models.User) (models.User, error)
}

// Repository groups the tables of one backend.
type Repository struct {
	Drivers  Table[models.Driver]
	Vehicles Table[models.Vehicle]
	Reports  Table[models.Report]
	Users    Users

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping checks the backend is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	return r.ping(ctx)
}

func (r *Repository) Close(ctx context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close(ctx)
}

func driverID(d *models.Driver) *string   { return &d.ID }
func vehicleID(v *models.Vehicle) *string { return &v.ID }
func reportID(r *models.Report) *string   { return &r.ID }

func registration(v models.Vehicle) string { return v.Registration }
