package models

// Driver is a chauffeur record as exchanged with the fleet API.
type Driver struct {
	ID                 string `json:"id"`
	LastName           string `json:"nom" validate:"required,max=100"`
	FirstName          string `json:"prenom" validate:"required,max=100"`
	Email              string `json:"email" validate:"omitempty,email"`
	Phone              string `json:"telephone" validate:"omitempty,max=30"`
	LicenseNumber      string `json:"numeroPermis" validate:"required,max=50"`
	LicenseCategory    string `json:"categoriePermis,omitempty"`
	LicenseExpiry      string `json:"dateExpirationPermis,omitempty"`
	OrganizationAccess bool   `json:"accesOrganisation"`
	Image              string `json:"image,omitempty"`
	OrganizationID     string `json:"organisationId,omitempty"`
}

// FullName returns "Prenom Nom".
func (d Driver) FullName() string {
	if d.FirstName == "" {
		return d.LastName
	}
	return d.FirstName + " " + d.LastName
}
