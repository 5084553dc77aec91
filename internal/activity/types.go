package activity

import (
	"slices"
	"strings"
)

// Type enumerates accepted green activities.
type Type string

const (
	SolarExport     Type = "solar_export"
	EVCharging      Type = "ev_charging"
	EnergySaving    Type = "energy_saving"
	CarbonOffset    Type = "carbon_offset"
	RenewableEnergy Type = "renewable_energy"
	GreenTransport  Type = "green_transport"
	WasteReduction  Type = "waste_reduction"
)

// TypeInfo describes an activity type for clients.
type TypeInfo struct {
	Type            Type     `json:"type"`
	Description     string   `json:"description"`
	ExpectedDetails []string `json:"expectedDetails"`
}

var catalog = []TypeInfo{
	{SolarExport, "Power exported to grid from solar array", []string{"kWhExported"}},
	{EVCharging, "Charging EV using solar or off-peak grid power", []string{"kWhUsed", "chargingDuration", "offPeak"}},
	{EnergySaving, "Measured reduction against a household consumption baseline", []string{"kWhSaved", "baselineKWh"}},
	{CarbonOffset, "Verified carbon offset converted to kWh equivalent", []string{"certificateId", "tonnesCO2"}},
	{RenewableEnergy, "Consumption covered by a renewable energy contract", []string{"kWhConsumed", "source"}},
	{GreenTransport, "Trips made by bike, transit or shared EV", []string{"distanceKm", "mode"}},
	{WasteReduction, "Recycled or composted waste converted to kWh equivalent", []string{"kgDiverted", "category"}},
}

// Catalog returns every accepted activity type.
func Catalog() []TypeInfo {
	return slices.Clone(catalog)
}

// ParseType returns the activity type named s.
func ParseType(s string) (Type, bool) {
	for _, info := range catalog {
		if string(info.Type) == s {
			return info.Type, true
		}
	}
	return "", false
}

func typeList() string {
	names := make([]string, len(catalog))
	for i, info := range catalog {
		names[i] = string(info.Type)
	}
	return strings.Join(names, ", ")
}
