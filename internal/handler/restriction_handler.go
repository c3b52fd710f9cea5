package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"github.com/noah-isme/toms-api/internal/dto"
	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/internal/service"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/middleware/session"
	"github.com/noah-isme/toms-api/pkg/response"
)

type restrictionGestures interface {
	GetRestriction(ctx context.Context, sessionID, layer, geometryID string) (*models.Restriction, error)
	CreateRestriction(ctx context.Context, sessionID, layer string, req dto.RestrictionRequest) (*models.Restriction, error)
	EditRestriction(ctx context.Context, sessionID, layer, geometryID string, req dto.RestrictionRequest) (*service.EditResult, error)
	DeleteRestriction(ctx context.Context, sessionID, layer, geometryID string) (*service.DeleteResult, error)
	SplitRestriction(ctx context.Context, sessionID, layer, geometryID string, req dto.SplitRequest) (*service.SplitResult, error)
}

type layerLister interface {
	List(ctx context.Context) ([]models.RestrictionLayer, error)
}

type splitCollector interface {
	Add(ctx context.Context, sessionID string, layer models.LayerCode, geometryID string, fragment orb.Geometry) (service.PendingSplit, error)
	Pending(sessionID string) (service.PendingSplit, bool)
	LastOutcome(sessionID string) (service.SplitOutcome, bool)
	Flush(ctx context.Context, sessionID string) (service.SplitOutcome, error)
	Cancel(ctx context.Context, sessionID string) error
}

// RestrictionHandler exposes restriction editing on the session's current proposal.
type RestrictionHandler struct {
	gestures restrictionGestures
	layers   layerLister
	splits   splitCollector
}

// NewRestrictionHandler builds a restriction handler.
func NewRestrictionHandler(gestures restrictionGestures, layers layerLister, splits splitCollector) *RestrictionHandler {
	return &RestrictionHandler{gestures: gestures, layers: layers, splits: splits}
}

// Layers godoc
// @Summary List restriction layers
// @Tags Restrictions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /layers [get]
func (h *RestrictionHandler) Layers(c *gin.Context) {
	layers, err := h.layers.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, layers, nil)
}

// Get godoc
// @Summary Get a restriction by geometry ID
// @Tags Restrictions
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param geometryId path string true "Geometry ID"
// @Success 200 {object} response.Envelope
// @Router /layers/{layer}/restrictions/{geometryId} [get]
func (h *RestrictionHandler) Get(c *gin.Context) {
	restriction, err := h.gestures.GetRestriction(c.Request.Context(), session.Value(c), c.Param("layer"), c.Param("geometryId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, restriction, nil)
}

// Create godoc
// @Summary Create a restriction in the current proposal
// @Tags Restrictions
// @Accept json
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param payload body dto.RestrictionRequest true "Restriction payload"
// @Success 201 {object} response.Envelope
// @Router /layers/{layer}/restrictions [post]
func (h *RestrictionHandler) Create(c *gin.Context) {
	var req dto.RestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid restriction payload"))
		return
	}
	created, err := h.gestures.CreateRestriction(c.Request.Context(), session.Value(c), c.Param("layer"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Update godoc
// @Summary Edit a restriction
// @Description Restrictions not created in the current proposal are forked; the original row is closed on acceptance.
// @Tags Restrictions
// @Accept json
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param geometryId path string true "Geometry ID"
// @Param payload body dto.RestrictionRequest true "Restriction payload"
// @Success 200 {object} response.Envelope
// @Router /layers/{layer}/restrictions/{geometryId} [put]
func (h *RestrictionHandler) Update(c *gin.Context) {
	var req dto.RestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid restriction payload"))
		return
	}
	result, err := h.gestures.EditRestriction(c.Request.Context(), session.Value(c), c.Param("layer"), c.Param("geometryId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a restriction from the current proposal's view
// @Tags Restrictions
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param geometryId path string true "Geometry ID"
// @Success 200 {object} response.Envelope
// @Router /layers/{layer}/restrictions/{geometryId} [delete]
func (h *RestrictionHandler) Delete(c *gin.Context) {
	result, err := h.gestures.DeleteRestriction(c.Request.Context(), session.Value(c), c.Param("layer"), c.Param("geometryId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Split godoc
// @Summary Split a restriction
// @Description Either explicit fragments (two or more) or points on a line restriction.
// @Tags Restrictions
// @Accept json
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param geometryId path string true "Geometry ID"
// @Param payload body dto.SplitRequest true "Split payload"
// @Success 200 {object} response.Envelope
// @Router /layers/{layer}/restrictions/{geometryId}/split [post]
func (h *RestrictionHandler) Split(c *gin.Context) {
	var req dto.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid split payload"))
		return
	}
	result, err := h.gestures.SplitRestriction(c.Request.Context(), session.Value(c), c.Param("layer"), c.Param("geometryId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AddSplitFragment godoc
// @Summary Post one fragment of a split gesture
// @Description Fragments are committed as one split once none has arrived for the quiet window.
// @Tags Restrictions
// @Accept json
// @Produce json
// @Param layer path string true "Layer name or code"
// @Param geometryId path string true "Geometry ID"
// @Param payload body dto.SplitFragmentRequest true "Fragment"
// @Success 202 {object} response.Envelope
// @Router /layers/{layer}/restrictions/{geometryId}/split-fragments [post]
func (h *RestrictionHandler) AddSplitFragment(c *gin.Context) {
	layer, err := service.ResolveLayer(c.Param("layer"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SplitFragmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fragment payload"))
		return
	}
	pending, err := h.splits.Add(c.Request.Context(), session.Value(c), layer, c.Param("geometryId"), req.Fragment.Geometry)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, pending, nil)
}

// SplitStatus godoc
// @Summary Show the session's pending split and the last finished one
// @Tags Restrictions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session/split [get]
func (h *RestrictionHandler) SplitStatus(c *gin.Context) {
	sessionID := session.Value(c)
	out := gin.H{}
	if pending, ok := h.splits.Pending(sessionID); ok {
		out["pending"] = pending
	}
	if last, ok := h.splits.LastOutcome(sessionID); ok {
		out["last"] = last
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// FlushSplit godoc
// @Summary Commit the session's pending split now
// @Tags Restrictions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session/split/flush [post]
func (h *RestrictionHandler) FlushSplit(c *gin.Context) {
	outcome, err := h.splits.Flush(c.Request.Context(), session.Value(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// CancelSplit godoc
// @Summary Discard the session's pending split
// @Tags Restrictions
// @Success 204
// @Router /session/split [delete]
func (h *RestrictionHandler) CancelSplit(c *gin.Context) {
	if err := h.splits.Cancel(c.Request.Context(), session.Value(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
