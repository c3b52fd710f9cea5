package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

// Geometry wraps an orb geometry so it can travel through sqlx as WKB and
// through the HTTP API as GeoJSON.
type Geometry struct {
	orb.Geometry
}

// NewGeometry wraps g.
func NewGeometry(g orb.Geometry) Geometry {
	return Geometry{Geometry: g}
}

// Scan implements sql.Scanner for ST_AsBinary output.
func (g *Geometry) Scan(src interface{}) error {
	if src == nil {
		g.Geometry = nil
		return nil
	}
	scanner := wkb.Scanner(nil)
	if err := scanner.Scan(src); err != nil {
		return fmt.Errorf("scan geometry: %w", err)
	}
	g.Geometry = scanner.Geometry
	return nil
}

// Value implements driver.Valuer; the column is fed to ST_GeomFromWKB.
func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	return wkb.Marshal(g.Geometry)
}

// IsEmpty reports whether no geometry is set.
func (g Geometry) IsEmpty() bool {
	return g.Geometry == nil
}

// Clone returns a deep copy.
func (g Geometry) Clone() Geometry {
	if g.Geometry == nil {
		return Geometry{}
	}
	return Geometry{Geometry: orb.Clone(g.Geometry)}
}

// Equal compares the wrapped geometries.
func (g Geometry) Equal(other Geometry) bool {
	if g.Geometry == nil || other.Geometry == nil {
		return g.Geometry == nil && other.Geometry == nil
	}
	return orb.Equal(g.Geometry, other.Geometry)
}

// MarshalJSON renders the geometry as GeoJSON.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Geometry == nil {
		return []byte("null"), nil
	}
	return json.Marshal(geojson.NewGeometry(g.Geometry))
}

// UnmarshalJSON parses a GeoJSON geometry object.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		g.Geometry = nil
		return nil
	}
	parsed, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("parse geojson geometry: %w", err)
	}
	g.Geometry = parsed.Geometry()
	return nil
}
