package models

// Identity is the signed-in user as returned by the API.
type Identity struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organisationId"`
	Email          string `json:"email"`
	LastName       string `json:"nom,omitempty"`
	FirstName      string `json:"prenom,omitempty"`
}

// User is a devserver account. Password holds a bcrypt hash.
type User struct {
	Identity
	Password string `json:"-"`
}
