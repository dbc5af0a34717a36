package parse

import "strings"

// Technology buckets shown on the map and statistics pages.
const (
	TechGas            = "Gas"
	TechWind           = "Wind"
	TechSolar          = "Solar"
	TechBattery        = "Battery"
	TechNuclear        = "Nuclear"
	TechDSR            = "DSR"
	TechBiomass        = "Biomass"
	TechInterconnector = "Interconnector"
	TechHydro          = "Hydro"
	TechCHP            = "CHP"
	TechOther          = "Other"
)

// MapTechnologies are the buckets the map cache is pre-built for.
var MapTechnologies = []string{
	TechGas, TechWind, TechSolar, TechBattery, TechNuclear, TechDSR, TechBiomass, TechInterconnector,
}

// ordered: the first matching keyword wins
var techKeywords = []struct {
	bucket   string
	keywords []string
}{
	{TechInterconnector, []string{"interconnector"}},
	{TechHydro, []string{"hydro", "pumped"}},
	{TechBattery, []string{"battery", "storage"}},
	{TechDSR, []string{"dsr", "demand side", "demand-side"}},
	{TechCHP, []string{"chp", "combined heat"}},
	{TechNuclear, []string{"nuclear"}},
	{TechWind, []string{"wind"}},
	{TechSolar, []string{"solar", "photovoltaic"}},
	{TechBiomass, []string{"biomass", "bio", "waste", "landfill", "anaerobic"}},
	{TechGas, []string{"gas", "ccgt", "ocgt", "reciprocating", "engine", "diesel", "turbine"}},
}

// SimplifyTechnology maps a registry technology class onto a display bucket.
func SimplifyTechnology(tech string) string {
	lower := strings.ToLower(strings.TrimSpace(tech))
	if lower == "" {
		return TechOther
	}
	for _, tk := range techKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.bucket
			}
		}
	}
	return TechOther
}
