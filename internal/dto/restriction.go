package dto

import (
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/toms-api/internal/models"
)

// RestrictionRequest carries the editable content of a restriction. Identity
// and dates are assigned by the server.
type RestrictionRequest struct {
	RestrictionTypeID *int            `json:"restrictionTypeId" validate:"omitempty,gt=0"`
	GeomShapeID       *int            `json:"geomShapeId" validate:"omitempty,gt=0"`
	CPZ               *string         `json:"cpz" validate:"omitempty,max=40"`
	ParkingTariffArea *string         `json:"parkingTariffArea" validate:"omitempty,max=40"`
	Attributes        types.JSONText  `json:"attributes"`
	Geometry          models.Geometry `json:"geometry"`
}

// Restriction converts the payload into a restriction row.
func (r RestrictionRequest) Restriction(geometryID string) models.Restriction {
	return models.Restriction{
		GeometryID:        geometryID,
		RestrictionTypeID: r.RestrictionTypeID,
		GeomShapeID:       r.GeomShapeID,
		CPZ:               r.CPZ,
		ParkingTariffArea: r.ParkingTariffArea,
		Attributes:        r.Attributes,
		Geometry:          r.Geometry,
	}
}

// SplitRequest divides a restriction either into explicit fragments or at
// points projected onto a line.
type SplitRequest struct {
	Fragments []models.Geometry `json:"fragments" validate:"required_without=Points,omitempty,min=2"`
	Points    [][2]float64      `json:"points" validate:"required_without=Fragments,omitempty,min=1"`
}

// SplitFragmentRequest posts one fragment of a debounced split gesture.
type SplitFragmentRequest struct {
	Fragment models.Geometry `json:"fragment"`
}
