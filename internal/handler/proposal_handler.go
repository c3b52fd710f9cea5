package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/toms-api/internal/dto"
	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/internal/service"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/export"
	"github.com/noah-isme/toms-api/pkg/middleware/session"
	"github.com/noah-isme/toms-api/pkg/response"
)

type proposalReader interface {
	Permissions() models.UserPermission
	ListProposals(ctx context.Context, statuses ...models.ProposalStatus) ([]models.Proposal, error)
	GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error)
	InitialiseProposal(ctx context.Context) (*models.Proposal, error)
}

type proposalGestures interface {
	SaveProposal(ctx context.Context, sessionID string, req dto.SaveProposalRequest) (*models.Proposal, error)
	AcceptProposal(ctx context.Context, sessionID string, proposalID int64, req dto.AcceptProposalRequest) (*service.AcceptanceResult, error)
	RejectProposal(ctx context.Context, sessionID string, proposalID int64) (*service.RejectionResult, error)
	PublishMappingUpdates(ctx context.Context, sessionID string) (*service.MappingUpdateResult, error)
}

type scheduleExporter interface {
	ProposalSchedule(ctx context.Context, permissions models.UserPermission, proposalID int64, format export.Format) (*service.ScheduleDocument, error)
}

// ProposalHandler exposes the proposal lifecycle.
type ProposalHandler struct {
	proposals proposalReader
	gestures  proposalGestures
	exporter  scheduleExporter
}

// NewProposalHandler builds a proposal handler.
func NewProposalHandler(proposals proposalReader, gestures proposalGestures, exporter scheduleExporter) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, gestures: gestures, exporter: exporter}
}

// List godoc
// @Summary List proposals
// @Tags Proposals
// @Produce json
// @Param status query string false "Comma separated statuses (IN_PREPARATION, ACCEPTED, REJECTED)"
// @Success 200 {object} response.Envelope
// @Router /proposals [get]
func (h *ProposalHandler) List(c *gin.Context) {
	var statuses []models.ProposalStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := models.ParseProposalStatus(part)
			if err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status filter"))
				return
			}
			statuses = append(statuses, status)
		}
	}
	items, err := h.proposals.ListProposals(c.Request.Context(), statuses...)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"total": len(items)})
}

// Get godoc
// @Summary Get proposal by ID
// @Tags Proposals
// @Produce json
// @Param id path int true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id} [get]
func (h *ProposalHandler) Get(c *gin.Context) {
	id, ok := proposalIDParam(c)
	if !ok {
		return
	}
	proposal, err := h.proposals.GetProposal(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal, nil)
}

// Initialise godoc
// @Summary Reserve an ID for a new proposal
// @Description The proposal is not stored until it is saved.
// @Tags Proposals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /proposals/initialise [post]
func (h *ProposalHandler) Initialise(c *gin.Context) {
	proposal, err := h.proposals.InitialiseProposal(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal, nil)
}

// Save godoc
// @Summary Save a proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path int true "Proposal ID"
// @Param payload body dto.SaveProposalRequest true "Proposal payload"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id} [put]
func (h *ProposalHandler) Save(c *gin.Context) {
	id, ok := proposalIDParam(c)
	if !ok {
		return
	}
	var req dto.SaveProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid proposal payload"))
		return
	}
	if req.ProposalID == 0 {
		req.ProposalID = id
	}
	if req.ProposalID != id {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "proposal id mismatch between path and body"))
		return
	}
	saved, err := h.gestures.SaveProposal(c.Request.Context(), session.Value(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, saved, nil)
}

// Accept godoc
// @Summary Accept a proposal
// @Description Opens every restriction staged OPEN and closes every restriction staged CLOSE.
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path int true "Proposal ID"
// @Param payload body dto.AcceptProposalRequest false "Acceptance options"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id}/accept [post]
func (h *ProposalHandler) Accept(c *gin.Context) {
	id, ok := proposalIDParam(c)
	if !ok {
		return
	}
	var req dto.AcceptProposalRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid acceptance payload"))
			return
		}
	}
	result, err := h.gestures.AcceptProposal(c.Request.Context(), session.Value(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reject godoc
// @Summary Reject a proposal
// @Tags Proposals
// @Produce json
// @Param id path int true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Router /proposals/{id}/reject [post]
func (h *ProposalHandler) Reject(c *gin.Context) {
	id, ok := proposalIDParam(c)
	if !ok {
		return
	}
	result, err := h.gestures.RejectProposal(c.Request.Context(), session.Value(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Schedule godoc
// @Summary Download the proposal's schedule of restrictions
// @Tags Proposals
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Proposal ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /proposals/{id}/schedule [get]
func (h *ProposalHandler) Schedule(c *gin.Context) {
	id, ok := proposalIDParam(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return
	}
	doc, err := h.exporter.ProposalSchedule(c.Request.Context(), h.proposals.Permissions(), id, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", doc.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// PublishMappingUpdates godoc
// @Summary Stage the current proposal's mapping updates
// @Tags Proposals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /mapping-updates/publish [post]
func (h *ProposalHandler) PublishMappingUpdates(c *gin.Context) {
	result, err := h.gestures.PublishMappingUpdates(c.Request.Context(), session.Value(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func proposalIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "proposal id must be a positive integer"))
		return 0, false
	}
	return id, true
}
