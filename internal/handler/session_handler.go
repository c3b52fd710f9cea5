package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/toms-api/internal/dto"
	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/internal/service"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/middleware/session"
	"github.com/noah-isme/toms-api/pkg/response"
)

type proposalSelector interface {
	Permissions() models.UserPermission
	CurrentProposal(ctx context.Context, sessionID string) (int64, error)
	SetCurrentProposal(ctx context.Context, sessionID string, proposalID int64) error
}

type transactionGroups interface {
	StartTransactionGroup(ctx context.Context, sessionID string) (*service.TransactionGroup, error)
	CommitTransactionGroup(ctx context.Context, sessionID string) error
	RollBackTransactionGroup(ctx context.Context, sessionID string) error
	Group(sessionID string) (*service.TransactionGroup, bool)
}

// SessionHandler exposes the per-session proposal selection and transaction group.
type SessionHandler struct {
	proposals proposalSelector
	groups    transactionGroups
}

// NewSessionHandler builds a session handler.
func NewSessionHandler(proposals proposalSelector, groups transactionGroups) *SessionHandler {
	return &SessionHandler{proposals: proposals, groups: groups}
}

// CurrentProposal godoc
// @Summary Show the session's current proposal
// @Tags Session
// @Produce json
// @Param X-TOMs-Session header string false "Session ID"
// @Success 200 {object} response.Envelope
// @Router /session/proposal [get]
func (h *SessionHandler) CurrentProposal(c *gin.Context) {
	sessionID := session.Value(c)
	id, err := h.proposals.CurrentProposal(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CurrentProposalResponse{
		SessionID:   sessionID,
		ProposalID:  id,
		Permissions: h.proposals.Permissions().String(),
	}, nil)
}

// SetCurrentProposal godoc
// @Summary Select the session's current proposal
// @Description Proposal 0 returns to the read-only baseline. Switching discards any open transaction group.
// @Tags Session
// @Accept json
// @Produce json
// @Param payload body dto.SetCurrentProposalRequest true "Proposal selection"
// @Success 200 {object} response.Envelope
// @Router /session/proposal [put]
func (h *SessionHandler) SetCurrentProposal(c *gin.Context) {
	var req dto.SetCurrentProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid proposal selection payload"))
		return
	}
	if req.ProposalID == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "proposalId is required"))
		return
	}
	sessionID := session.Value(c)
	if err := h.proposals.SetCurrentProposal(c.Request.Context(), sessionID, *req.ProposalID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CurrentProposalResponse{
		SessionID:   sessionID,
		ProposalID:  *req.ProposalID,
		Permissions: h.proposals.Permissions().String(),
	}, nil)
}

// TransactionStatus godoc
// @Summary Show the session's transaction group
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session/transaction [get]
func (h *SessionHandler) TransactionStatus(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.status(session.Value(c)), nil)
}

// StartTransaction godoc
// @Summary Open a transaction group spanning several requests
// @Description Returns the open group unchanged when one already exists.
// @Tags Session
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /session/transaction [post]
func (h *SessionHandler) StartTransaction(c *gin.Context) {
	sessionID := session.Value(c)
	if _, err := h.groups.StartTransactionGroup(c.Request.Context(), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.status(sessionID))
}

// CommitTransaction godoc
// @Summary Commit the session's transaction group
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session/transaction/commit [post]
func (h *SessionHandler) CommitTransaction(c *gin.Context) {
	sessionID := session.Value(c)
	if err := h.groups.CommitTransactionGroup(c.Request.Context(), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.status(sessionID), nil)
}

// RollbackTransaction godoc
// @Summary Discard the session's transaction group
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session/transaction/rollback [post]
func (h *SessionHandler) RollbackTransaction(c *gin.Context) {
	sessionID := session.Value(c)
	if err := h.groups.RollBackTransactionGroup(c.Request.Context(), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.status(sessionID), nil)
}

func (h *SessionHandler) status(sessionID string) dto.TransactionStatus {
	out := dto.TransactionStatus{SessionID: sessionID}
	if group, ok := h.groups.Group(sessionID); ok {
		out.Open = true
		out.GroupID = group.ID()
		out.Modified = group.Modified()
	}
	return out
}
