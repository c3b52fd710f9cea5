package models

import (
	"bytes"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Restriction is one geometry row in a restriction layer. RestrictionID is the
// stable identity carried through forks; GeometryID identifies this row.
type Restriction struct {
	GeometryID        string         `db:"geometry_id" json:"geometryId"`
	RestrictionID     string         `db:"restriction_id" json:"restrictionId"`
	OpenDate          *time.Time     `db:"open_date" json:"openDate,omitempty"`
	CloseDate         *time.Time     `db:"close_date" json:"closeDate,omitempty"`
	RestrictionTypeID *int           `db:"restriction_type_id" json:"restrictionTypeId,omitempty"`
	GeomShapeID       *int           `db:"geom_shape_id" json:"geomShapeId,omitempty"`
	CPZ               *string        `db:"cpz" json:"cpz,omitempty"`
	ParkingTariffArea *string        `db:"parking_tariff_area" json:"parkingTariffArea,omitempty"`
	ProposalID        *int64         `db:"proposal_id" json:"proposalId,omitempty"`
	Attributes        types.JSONText `db:"attributes" json:"attributes,omitempty"`
	Geometry          Geometry       `db:"geom" json:"geometry"`
}

// Clone returns a deep copy of the restriction.
func (r Restriction) Clone() Restriction {
	out := r
	out.OpenDate = cloneTime(r.OpenDate)
	out.CloseDate = cloneTime(r.CloseDate)
	out.RestrictionTypeID = cloneInt(r.RestrictionTypeID)
	out.GeomShapeID = cloneInt(r.GeomShapeID)
	out.CPZ = cloneString(r.CPZ)
	out.ParkingTariffArea = cloneString(r.ParkingTariffArea)
	if r.ProposalID != nil {
		id := *r.ProposalID
		out.ProposalID = &id
	}
	if r.Attributes != nil {
		out.Attributes = append(types.JSONText(nil), r.Attributes...)
	}
	out.Geometry = r.Geometry.Clone()
	return out
}

// ClearDates resets the open and close dates; new versions start unopened.
func (r *Restriction) ClearDates() {
	r.OpenDate = nil
	r.CloseDate = nil
}

// SameContent reports whether two rows carry identical attributes and
// geometry. Identity fields are ignored.
func (r Restriction) SameContent(other Restriction) bool {
	return equalTime(r.OpenDate, other.OpenDate) &&
		equalTime(r.CloseDate, other.CloseDate) &&
		equalInt(r.RestrictionTypeID, other.RestrictionTypeID) &&
		equalInt(r.GeomShapeID, other.GeomShapeID) &&
		equalString(r.CPZ, other.CPZ) &&
		equalString(r.ParkingTariffArea, other.ParkingTariffArea) &&
		bytes.Equal(r.Attributes, other.Attributes) &&
		r.Geometry.Equal(other.Geometry)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
