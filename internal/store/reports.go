package store

import (
	"context"

	"fleet-sync/internal/models"
)

// ReportPatch holds the fields to change; nil fields are left as they are.
type ReportPatch struct {
	Date      *string
	Mileage   *float64
	Incident  *string
	Comment   *string
	DriverID  *string
	VehicleID *string
}

// Apply copies the set fields onto the record.
func (p ReportPatch) Apply(r *models.Report) {
	setIf(&r.Date, p.Date)
	setIf(&r.Mileage, p.Mileage)
	setIf(&r.DriverID, p.DriverID)
	setIf(&r.VehicleID, p.VehicleID)
	if p.Incident != nil {
		incident := *p.Incident
		r.Incident = &incident
	}
	if p.Comment != nil {
		comment := *p.Comment
		r.Comment = &comment
	}
}

func (s *Store) CreateReport(ctx context.Context, report models.Report) (models.Report, error) {
	return createOptimistic(ctx, s, s.reports, report, remoteCreate(s.reports))
}

func (s *Store) UpdateReport(ctx context.Context, id string, patch ReportPatch) (models.Report, error) {
	return updateOptimistic(ctx, s, s.reports, id, patch.Apply, remoteUpdate(s.reports))
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	return deleteOptimistic(ctx, s, s.reports, id, remoteDelete(s.reports))
}
