package models

import (
	"fmt"
	"sort"
	"strings"
)

// LayerCode identifies a restriction layer in the ledger (RestrictionTableID).
type LayerCode int

const (
	LayerBays                LayerCode = 2
	LayerLines               LayerCode = 3
	LayerRestrictionPolygons LayerCode = 4
	LayerSigns               LayerCode = 5
	LayerCPZs                LayerCode = 6
	LayerPTAs                LayerCode = 7
	LayerMappingUpdates      LayerCode = 101
	LayerMappingUpdateMasks  LayerCode = 102
)

// EVChargingBayTypeID is the only bay restriction type that may carry its
// own parking tariff area.
const EVChargingBayTypeID = 124

// GeometryKind is the geometry arity a layer stores.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "point"
	GeometryLine    GeometryKind = "line"
	GeometryPolygon GeometryKind = "polygon"
)

// LayerDefaults are applied to unset attributes when a restriction is created.
type LayerDefaults struct {
	RestrictionTypeID *int
	GeomShapeID       *int
	Attributes        map[string]interface{}
}

// LayerDescriptor describes the behaviour of one restriction layer.
type LayerDescriptor struct {
	Code         LayerCode
	Name         string
	Table        string
	Geometry     GeometryKind
	LabelLayers  []string
	LeaderLayers []string
	Defaults     LayerDefaults
	// ProposalTagged layers carry their own proposal_id column.
	ProposalTagged bool
}

func intPtr(v int) *int { return &v }

var layerDescriptors = map[LayerCode]LayerDescriptor{
	LayerBays: {
		Code:         LayerBays,
		Name:         "Bays",
		Table:        "toms.bays",
		Geometry:     GeometryLine,
		LabelLayers:  []string{"Bays.label_pos"},
		LeaderLayers: []string{"Bays.label_ldr"},
		Defaults:     LayerDefaults{RestrictionTypeID: intPtr(101), GeomShapeID: intPtr(21)},
	},
	LayerLines: {
		Code:         LayerLines,
		Name:         "Lines",
		Table:        "toms.lines",
		Geometry:     GeometryLine,
		LabelLayers:  []string{"Lines.label_pos", "Lines.label_loading_pos"},
		LeaderLayers: []string{"Lines.label_ldr", "Lines.label_loading_ldr"},
		Defaults:     LayerDefaults{RestrictionTypeID: intPtr(224), GeomShapeID: intPtr(10)},
	},
	LayerRestrictionPolygons: {
		Code:         LayerRestrictionPolygons,
		Name:         "RestrictionPolygons",
		Table:        "toms.restriction_polygons",
		Geometry:     GeometryPolygon,
		LabelLayers:  []string{"RestrictionPolygons.label_pos"},
		LeaderLayers: []string{"RestrictionPolygons.label_ldr"},
		Defaults:     LayerDefaults{RestrictionTypeID: intPtr(4)},
	},
	LayerSigns: {
		Code:     LayerSigns,
		Name:     "Signs",
		Table:    "toms.signs",
		Geometry: GeometryPoint,
		Defaults: LayerDefaults{Attributes: map[string]interface{}{"SignType_1": 28}},
	},
	LayerCPZs: {
		Code:         LayerCPZs,
		Name:         "CPZs",
		Table:        "toms.cpzs",
		Geometry:     GeometryPolygon,
		LabelLayers:  []string{"CPZs.label_pos"},
		LeaderLayers: []string{"CPZs.label_ldr"},
	},
	LayerPTAs: {
		Code:         LayerPTAs,
		Name:         "ParkingTariffAreas",
		Table:        "toms.parking_tariff_areas",
		Geometry:     GeometryPolygon,
		LabelLayers:  []string{"ParkingTariffAreas.label_pos"},
		LeaderLayers: []string{"ParkingTariffAreas.label_ldr"},
	},
	LayerMappingUpdates: {
		Code:           LayerMappingUpdates,
		Name:           "MappingUpdates",
		Table:          "toms.mapping_updates",
		Geometry:       GeometryLine,
		ProposalTagged: true,
	},
	LayerMappingUpdateMasks: {
		Code:           LayerMappingUpdateMasks,
		Name:           "MappingUpdateMasks",
		Table:          "toms.mapping_update_masks",
		Geometry:       GeometryPolygon,
		ProposalTagged: true,
	},
}

// Descriptor returns the descriptor registered for the code.
func (c LayerCode) Descriptor() (LayerDescriptor, bool) {
	d, ok := layerDescriptors[c]
	return d, ok
}

// Valid reports whether the code belongs to the closed layer set.
func (c LayerCode) Valid() bool {
	_, ok := layerDescriptors[c]
	return ok
}

func (c LayerCode) String() string {
	if d, ok := layerDescriptors[c]; ok {
		return d.Name
	}
	return fmt.Sprintf("LayerCode(%d)", int(c))
}

// LayerByName resolves a layer name to its descriptor. Label and leader layers
// ("Bays.label_pos") resolve to their base layer.
func LayerByName(name string) (LayerDescriptor, error) {
	base := strings.TrimSpace(name)
	if idx := strings.Index(base, "."); idx >= 0 {
		base = base[:idx]
	}
	for _, d := range layerDescriptors {
		if strings.EqualFold(d.Name, base) {
			return d, nil
		}
	}
	return LayerDescriptor{}, fmt.Errorf("layer %q is not a restriction layer", name)
}

// Layers lists every descriptor ordered by code.
func Layers() []LayerDescriptor {
	out := make([]LayerDescriptor, 0, len(layerDescriptors))
	for _, d := range layerDescriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RestrictionLayer is a row of toms.restriction_layers.
type RestrictionLayer struct {
	Code LayerCode `db:"code" json:"code"`
	Name string    `db:"restriction_layer_name" json:"name"`
}
