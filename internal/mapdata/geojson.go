package mapdata

import (
	"fmt"
	"time"

	"capacity-checker/internal/model"
	"capacity-checker/internal/parse"
)

// FeatureCollection is the GeoJSON document served to the map page.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	Metadata Metadata  `json:"metadata"`
}

// Feature is one component marker.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry is a GeoJSON point in [lng, lat] order.
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Properties are shown in the marker popup.
type Properties struct {
	ID                int64    `json:"id"`
	Title             string   `json:"title"`
	Technology        string   `json:"technology"`
	DisplayTechnology string   `json:"display_technology"`
	Company           string   `json:"company"`
	DeliveryYear      string   `json:"delivery_year"`
	CMUID             string   `json:"cmu_id"`
	Capacity          *float64 `json:"capacity,omitempty"`
	DetailURL         string   `json:"detail_url"`
}

// Metadata describes how the collection was produced.
type Metadata struct {
	Count      int       `json:"count"`
	Filtered   bool      `json:"filtered"`
	Technology string    `json:"technology,omitempty"`
	Company    string    `json:"company,omitempty"`
	Cached     bool      `json:"cached"`
	BuiltAt    time.Time `json:"built_at"`
}

// BuildGeoJSON turns geocoded components into point features. Components
// without coordinates are skipped.
func BuildGeoJSON(components []model.Component) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(components))}
	for _, c := range components {
		if c.Latitude == nil || c.Longitude == nil {
			continue
		}
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{*c.Longitude, *c.Latitude}},
			Properties: Properties{
				ID:                c.ID,
				Title:             orDefault(c.Location, "Unknown Location"),
				Technology:        orDefault(c.Technology, "Unknown"),
				DisplayTechnology: parse.SimplifyTechnology(c.Technology),
				Company:           orDefault(c.CompanyName, "Unknown"),
				DeliveryYear:      c.DeliveryYear,
				CMUID:             c.CMUID,
				Capacity:          c.DeratedCapacityMW,
				DetailURL:         fmt.Sprintf("/component/%d/", c.ID),
			},
		})
	}
	fc.Metadata.Count = len(fc.Features)
	return fc
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
