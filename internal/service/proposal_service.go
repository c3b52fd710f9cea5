package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/pkg/cache"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type proposalStore interface {
	NextID(ctx context.Context, exec sqlx.ExtContext) (int64, error)
	GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error)
	GetForEdit(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error)
	List(ctx context.Context, filter models.ProposalFilter) ([]models.Proposal, error)
	Save(ctx context.Context, exec sqlx.ExtContext, proposal *models.Proposal) error
}

type proposalResolver interface {
	Accept(ctx context.Context, group *TransactionGroup, proposalID int64, openDate time.Time) (*AcceptanceResult, error)
	Reject(ctx context.Context, group *TransactionGroup, proposalID int64) (*RejectionResult, error)
}

type groupRollbacker interface {
	RollBackTransactionGroup(ctx context.Context, sessionID string) error
}

// ProposalService is the proposal registry: proposal records plus the
// current proposal selected by each session.
type ProposalService struct {
	proposals   proposalStore
	sessions    cache.SessionStore
	resolver    proposalResolver
	groups      groupRollbacker
	permissions models.UserPermission
	logger      *zap.Logger
	now         func() time.Time
}

// ProposalServiceOption configures the registry.
type ProposalServiceOption func(*ProposalService)

// WithProposalClock overrides the clock used for create dates.
func WithProposalClock(now func() time.Time) ProposalServiceOption {
	return func(s *ProposalService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewProposalService constructs the registry.
func NewProposalService(proposals proposalStore, sessions cache.SessionStore, resolver proposalResolver, groups groupRollbacker, permissions models.UserPermission, logger *zap.Logger, opts ...ProposalServiceOption) *ProposalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		sessions = cache.NewMemorySessionStore()
	}
	svc := &ProposalService{
		proposals:   proposals,
		sessions:    sessions,
		resolver:    resolver,
		groups:      groups,
		permissions: permissions,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Permissions returns the deployment permission set.
func (s *ProposalService) Permissions() models.UserPermission {
	return s.permissions
}

// CurrentProposal returns the session's selection; 0 is the baseline.
func (s *ProposalService) CurrentProposal(ctx context.Context, sessionID string) (int64, error) {
	id, err := s.sessions.CurrentProposal(ctx, sessionID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read current proposal")
	}
	return id, nil
}

// Scope builds the engine scope for the session. The selected proposal is
// re-read on every call, share-locked through group when one is given, and
// must still be in preparation: another session may have accepted or rejected
// it since it was selected.
func (s *ProposalService) Scope(ctx context.Context, sessionID string, group *TransactionGroup) (models.Scope, error) {
	id, err := s.CurrentProposal(ctx, sessionID)
	if err != nil {
		return models.Scope{}, err
	}
	if id != models.NoProposal {
		var exec sqlx.ExtContext
		if group != nil {
			exec = group.Exec()
		}
		proposal, err := s.proposals.GetForEdit(ctx, exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.Scope{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("current proposal %d no longer exists", id))
			}
			return models.Scope{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current proposal")
		}
		if proposal.Status != models.ProposalInPreparation {
			return models.Scope{}, appErrors.Clone(appErrors.ErrPolicyViolation, fmt.Sprintf("proposal %d is %s; select a proposal in preparation", id, proposal.Status))
		}
	}
	return models.Scope{SessionID: sessionID, ProposalID: id, Permissions: s.permissions}, nil
}

// SetCurrentProposal changes the session's active proposal. Only proposals in
// preparation can be selected. Switching discards the session's open
// transaction group so staged writes never cross proposals.
func (s *ProposalService) SetCurrentProposal(ctx context.Context, sessionID string, proposalID int64) error {
	if proposalID < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "proposal id must not be negative")
	}
	if proposalID != models.NoProposal {
		proposal, err := s.get(ctx, nil, proposalID)
		if err != nil {
			return err
		}
		if proposal.Status != models.ProposalInPreparation {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("proposal %d is %s and cannot be edited", proposalID, proposal.Status))
		}
	}

	current, err := s.CurrentProposal(ctx, sessionID)
	if err != nil {
		return err
	}
	if current != proposalID && s.groups != nil {
		if err := s.groups.RollBackTransactionGroup(ctx, sessionID); err != nil {
			return err
		}
	}
	if err := s.sessions.SetCurrentProposal(ctx, sessionID, proposalID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store current proposal")
	}
	s.logger.Info("current proposal changed",
		zap.String("session_id", sessionID),
		zap.Int64("from", current),
		zap.Int64("to", proposalID))
	return nil
}

// ListProposals returns proposals in the given statuses ordered by title.
func (s *ProposalService) ListProposals(ctx context.Context, statuses ...models.ProposalStatus) ([]models.Proposal, error) {
	proposals, err := s.proposals.List(ctx, models.ProposalFilter{Status: statuses})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list proposals")
	}
	return proposals, nil
}

// GetProposal fetches one proposal.
func (s *ProposalService) GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	return s.get(ctx, nil, proposalID)
}

// InitialiseProposal reserves an identity for a new proposal. Nothing is
// written until SaveProposal is called.
func (s *ProposalService) InitialiseProposal(ctx context.Context) (*models.Proposal, error) {
	if !s.permissions.Has(models.PermWrite) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "write permission is required to create proposals")
	}
	id, err := s.proposals.NextID(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve proposal id")
	}
	now := s.now()
	return &models.Proposal{
		ProposalID: id,
		Title:      fmt.Sprintf("Proposal %d", id),
		Status:     models.ProposalInPreparation,
		CreateDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}, nil
}

// SaveProposal persists a new proposal or the title and notes of one still in
// preparation. Status changes only happen through accept and reject.
func (s *ProposalService) SaveProposal(ctx context.Context, group *TransactionGroup, proposal *models.Proposal) (*models.Proposal, error) {
	if !s.permissions.Has(models.PermWrite) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "write permission is required to save proposals")
	}
	if group == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a transaction group is required")
	}
	if proposal == nil || proposal.ProposalID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposal id is required")
	}
	proposal.Title = strings.TrimSpace(proposal.Title)
	if proposal.Title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposal title is required")
	}

	existing, err := s.proposals.GetByID(ctx, group.Exec(), proposal.ProposalID)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("proposal %d is %s and cannot be changed", existing.ProposalID, existing.Status))
		}
		proposal.Status = existing.Status
		proposal.CreateDate = existing.CreateDate
		proposal.OpenDate = existing.OpenDate
	case errors.Is(err, sql.ErrNoRows):
		proposal.Status = models.ProposalInPreparation
		proposal.OpenDate = nil
		if proposal.CreateDate.IsZero() {
			now := s.now()
			proposal.CreateDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal")
	}

	if err := s.proposals.Save(ctx, group.Exec(), proposal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "proposal is no longer in preparation")
		}
		return nil, appErrors.StoreWrite(err, "failed to save proposal")
	}
	group.MarkModified()
	return proposal, nil
}

// AcceptProposal finalises the proposal through the resolver. Sessions are
// left untouched; see ReleaseProposal.
func (s *ProposalService) AcceptProposal(ctx context.Context, group *TransactionGroup, proposalID int64, openDate time.Time) (*AcceptanceResult, error) {
	if !s.permissions.Has(models.PermConfirmOrders) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "confirm orders permission is required to accept proposals")
	}
	if openDate.IsZero() {
		openDate = s.now()
	}
	return s.resolver.Accept(ctx, group, proposalID, openDate)
}

// RejectProposal discards the proposal through the resolver.
func (s *ProposalService) RejectProposal(ctx context.Context, group *TransactionGroup, proposalID int64) (*RejectionResult, error) {
	if !s.permissions.Has(models.PermConfirmOrders) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "confirm orders permission is required to reject proposals")
	}
	return s.resolver.Reject(ctx, group, proposalID)
}

// ReleaseProposal returns the session to the baseline if it still has
// proposalID selected. Call it once the accept or reject has committed.
func (s *ProposalService) ReleaseProposal(ctx context.Context, sessionID string, proposalID int64) {
	current, err := s.sessions.CurrentProposal(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to read current proposal", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if current != proposalID {
		return
	}
	if err := s.sessions.SetCurrentProposal(ctx, sessionID, models.NoProposal); err != nil {
		s.logger.Warn("failed to reset current proposal", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *ProposalService) get(ctx context.Context, exec sqlx.ExtContext, proposalID int64) (*models.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, exec, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal")
	}
	return proposal, nil
}
