package models

import (
	"strings"

	"golang.org/x/text/language"
)

type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "available"
	VehicleUnavailable VehicleStatus = "unavailable"
	VehicleInRepair    VehicleStatus = "in_repair"
)

type Vehicle struct {
	ID               string        `json:"id"`
	Registration     string        `json:"immatriculation" validate:"required,max=20"`
	Make             string        `json:"marque" validate:"required,max=50"`
	Model            string        `json:"modele" validate:"required,max=50"`
	Year             int           `json:"annee" validate:"omitempty,min=1900,max=2100"`
	Status           VehicleStatus `json:"statut,omitempty" validate:"omitempty,oneof=available unavailable in_repair"`
	AssignedDriverID *string       `json:"chauffeurId,omitempty"`
	Images           []string      `json:"images,omitempty"`
}

// supportedLabelLanguages lists the locales with status labels; the first entry is the fallback.
var supportedLabelLanguages = []language.Tag{language.French, language.English}

var labelMatcher = language.NewMatcher(supportedLabelLanguages)

var statusLabels = map[language.Tag]map[VehicleStatus]string{
	language.French: {
		VehicleAvailable:   "Disponible",
		VehicleUnavailable: "Indisponible",
		VehicleInRepair:    "En réparation",
	},
	language.English: {
		VehicleAvailable:   "Available",
		VehicleUnavailable: "Unavailable",
		VehicleInRepair:    "In repair",
	},
}

// Label returns the display label for the best match among the preferred languages.
func (s VehicleStatus) Label(prefs ...language.Tag) string {
	_, idx, _ := labelMatcher.Match(prefs...)
	if label, ok := statusLabels[supportedLabelLanguages[idx]][s]; ok {
		return label
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleAvailable, VehicleUnavailable, VehicleInRepair:
		return true
	}
	return false
}

// ParseVehicleStatus accepts either a status value or one of its localized labels.
func ParseVehicleStatus(raw string) (VehicleStatus, bool) {
	raw = strings.TrimSpace(raw)
	if s := VehicleStatus(strings.ToLower(raw)); s.Valid() {
		return s, true
	}
	for _, labels := range statusLabels {
		for status, label := range labels {
			if strings.EqualFold(label, raw) {
				return status, true
			}
		}
	}
	return "", false
}
