package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestVehicleStatusLabel(t *testing.T) {
	assert.Equal(t, "Disponible", VehicleAvailable.Label())
	assert.Equal(t, "En réparation", VehicleInRepair.Label(language.French))
	assert.Equal(t, "Unavailable", VehicleUnavailable.Label(language.English))
	assert.Equal(t, "In repair", VehicleInRepair.Label(language.AmericanEnglish))
	assert.Equal(t, "Disponible", VehicleAvailable.Label(language.Japanese))
	assert.Equal(t, "scrapped", VehicleStatus("scrapped").Label())
}

func TestParseVehicleStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want VehicleStatus
		ok   bool
	}{
		{"available", VehicleAvailable, true},
		{"IN_REPAIR", VehicleInRepair, true},
		{"Indisponible", VehicleUnavailable, true},
		{" in repair ", VehicleInRepair, true},
		{"en réparation", VehicleInRepair, true},
		{"scrapped", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseVehicleStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestDriverFullName(t *testing.T) {
	assert.Equal(t, "Awa Diallo", Driver{FirstName: "Awa", LastName: "Diallo"}.FullName())
	assert.Equal(t, "Diallo", Driver{LastName: "Diallo"}.FullName())
}
