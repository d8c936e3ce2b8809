// Package operations holds the operation texts exchanged with the fleet API
// and the typed envelopes their results decode into.
package operations

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"fleet-sync/internal/models"
)

// Top-level result fields. List fields double as cache invalidation patterns
// since they appear verbatim in the operation text of the matching query.
const (
	FieldConnexion              = "connexion"
	FieldDeconnexion            = "deconnexion"
	FieldUtilisateur            = "utilisateur"
	FieldChauffeurs             = "chauffeurs"
	FieldCreerChauffeur         = "creerChauffeur"
	FieldModifierChauffeur      = "modifierChauffeur"
	FieldSupprimerChauffeur     = "supprimerChauffeur"
	FieldModifierAccesChauffeur = "modifierAccesChauffeur"
	FieldVehicules              = "vehicules"
	FieldCreerVehicule          = "creerVehicule"
	FieldModifierVehicule       = "modifierVehicule"
	FieldSupprimerVehicule      = "supprimerVehicule"
	FieldRapports               = "rapports"
	FieldCreerRapport           = "creerRapport"
	FieldModifierRapport        = "modifierRapport"
	FieldSupprimerRapport       = "supprimerRapport"
	FieldTeleverserImage        = "televerserImage"
	FieldChangements            = "changements"
)

const (
	identityFields = `id role organisationId email nom prenom`
	driverFields   = `id nom prenom email telephone numeroPermis categoriePermis dateExpirationPermis accesOrganisation image organisationId`
	vehicleFields  = `id immatriculation marque modele annee statut chauffeurId images`
	reportFields   = `id date kilometrage incident commentaire chauffeurId vehiculeId`
)

var (
	SignIn = `mutation Connexion($email: String!, $motDePasse: String!) {
  connexion(email: $email, motDePasse: $motDePasse) { token utilisateur { ` + identityFields + ` } }
}`
	SignOut = `mutation Deconnexion { deconnexion }`
	Me      = `query Utilisateur($id: ID!) { utilisateur(id: $id) { ` + identityFields + ` } }`

	ListDrivers        = `query Chauffeurs { chauffeurs { ` + driverFields + ` } }`
	CreateDriver       = `mutation CreerChauffeur($input: ChauffeurInput!) { creerChauffeur(input: $input) { ` + driverFields + ` } }`
	UpdateDriver       = `mutation ModifierChauffeur($id: ID!, $input: ChauffeurInput!) { modifierChauffeur(id: $id, input: $input) { ` + driverFields + ` } }`
	DeleteDriver       = `mutation SupprimerChauffeur($id: ID!) { supprimerChauffeur(id: $id) }`
	SetDriverAccess    = `mutation ModifierAccesChauffeur($id: ID!, $acces: Boolean!) { modifierAccesChauffeur(id: $id, acces: $acces) { ` + driverFields + ` } }`
	ListVehicles       = `query Vehicules { vehicules { ` + vehicleFields + ` } }`
	CreateVehicle      = `mutation CreerVehicule($input: VehiculeInput!) { creerVehicule(input: $input) { ` + vehicleFields + ` } }`
	UpdateVehicle      = `mutation ModifierVehicule($id: ID!, $input: VehiculeInput!) { modifierVehicule(id: $id, input: $input) { ` + vehicleFields + ` } }`
	DeleteVehicle      = `mutation SupprimerVehicule($id: ID!) { supprimerVehicule(id: $id) }`
	ListReports        = `query Rapports { rapports { ` + reportFields + ` } }`
	CreateReport       = `mutation CreerRapport($input: RapportInput!) { creerRapport(input: $input) { ` + reportFields + ` } }`
	UpdateReport       = `mutation ModifierRapport($id: ID!, $input: RapportInput!) { modifierRapport(id: $id, input: $input) { ` + reportFields + ` } }`
	DeleteReport       = `mutation SupprimerRapport($id: ID!) { supprimerRapport(id: $id) }`
	UploadImage        = `mutation TeleverserImage($fichier: Upload!) { televerserImage(fichier: $fichier) }`

	ChangesSubscription = `subscription Changements { changements { entite action id } }`
)

// UploadFileVariable is the variable carrying the file part of UploadImage.
const UploadFileVariable = "fichier"

// AuthPayload is the result of SignIn.
type AuthPayload struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"utilisateur"`
}

// Entity names carried by change events.
const (
	EntityDriver  = "chauffeur"
	EntityVehicle = "vehicule"
	EntityReport  = "rapport"
)

// Actions carried by change events.
const (
	ActionCreated = "creation"
	ActionUpdated = "modification"
	ActionDeleted = "suppression"
	ActionAccess  = "acces"
)

// ChangeEvent is pushed on the changements subscription after every write.
type ChangeEvent struct {
	Entity string `json:"entite"`
	Action string `json:"action"`
	ID     string `json:"id"`
}

// ListFieldFor maps an entity name to its list field, which is also the
// invalidation pattern of that collection.
func ListFieldFor(entity string) (string, bool) {
	switch entity {
	case EntityDriver:
		return FieldChauffeurs, true
	case EntityVehicle:
		return FieldVehicules, true
	case EntityReport:
		return FieldRapports, true
	}
	return "", false
}

// Input converts a record into the input object of a create or update
// mutation. The id is carried separately and dropped from the input.
func Input(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	delete(input, "id")
	return input, nil
}

// RootField returns the first top-level selection of an operation text,
// resolving an alias to the field it names. It returns "" when the text has
// no selection set.
func RootField(op string) string {
	start := strings.IndexByte(op, '{')
	if start < 0 {
		return ""
	}
	rest := op[start+1:]
	name, rest := readName(rest)
	if name == "" {
		return ""
	}
	if after := strings.TrimLeftFunc(rest, unicode.IsSpace); strings.HasPrefix(after, ":") {
		if field, _ := readName(after[1:]); field != "" {
			return field
		}
	}
	return name
}

func readName(s string) (name, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}
