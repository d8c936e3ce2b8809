package models

// Report is an activity report filed for a driver and a vehicle.
type Report struct {
	ID        string  `json:"id"`
	Date      string  `json:"date" validate:"required"`
	Mileage   float64 `json:"kilometrage" validate:"min=0"`
	Incident  *string `json:"incident,omitempty"`
	Comment   *string `json:"commentaire,omitempty"`
	DriverID  string  `json:"chauffeurId" validate:"required"`
	VehicleID string  `json:"vehiculeId" validate:"required"`
}
