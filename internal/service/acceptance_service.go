package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type resolverLedger interface {
	ListByProposal(ctx context.Context, exec sqlx.ExtContext, proposalID int64) ([]models.RestrictionInProposal, error)
	DeleteByProposal(ctx context.Context, exec sqlx.ExtContext, proposalID int64) (int64, error)
}

type resolverRestrictions interface {
	FindByRestrictionID(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string) (*models.Restriction, error)
	SetOpenDate(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error
	SetCloseDate(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, restrictionID string, date time.Time) error
}

type resolverProposals interface {
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.ProposalStatus, openDate *time.Time) error
}

// AcceptanceResult summarises a finalised proposal.
type AcceptanceResult struct {
	ProposalID int64     `json:"proposalId"`
	OpenDate   time.Time `json:"openDate"`
	Opened     int       `json:"opened"`
	Closed     int       `json:"closed"`
}

// RejectionResult summarises a discarded proposal. Orphans counts rows that
// were created for the proposal and are now referenced by no ledger entry.
type RejectionResult struct {
	ProposalID int64 `json:"proposalId"`
	Discarded  int64 `json:"discarded"`
	Orphans    int   `json:"orphans"`
}

// AcceptanceService finalises or discards the staged actions of a proposal.
type AcceptanceService struct {
	ledger       resolverLedger
	restrictions resolverRestrictions
	proposals    resolverProposals
	logger       *zap.Logger
}

// NewAcceptanceService constructs the resolver.
func NewAcceptanceService(ledger resolverLedger, restrictions resolverRestrictions, proposals resolverProposals, logger *zap.Logger) *AcceptanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcceptanceService{
		ledger:       ledger,
		restrictions: restrictions,
		proposals:    proposals,
		logger:       logger,
	}
}

// Accept opens every OPEN target and closes every CLOSE target on openDate,
// then marks the proposal ACCEPTED. All writes go through group; the caller
// rolls it back on error.
func (s *AcceptanceService) Accept(ctx context.Context, group *TransactionGroup, proposalID int64, openDate time.Time) (*AcceptanceResult, error) {
	if err := s.checkTransition(ctx, group, proposalID, models.ProposalAccepted); err != nil {
		return nil, err
	}
	rows, err := s.ledger.ListByProposal(ctx, group.Exec(), proposalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read proposal ledger")
	}

	result := &AcceptanceResult{ProposalID: proposalID, OpenDate: openDate}
	for _, row := range rows {
		switch row.ActionOnProposalAcceptance {
		case models.ActionOpen:
			err = s.restrictions.SetOpenDate(ctx, group.Exec(), row.RestrictionTableID, row.RestrictionID, openDate)
			result.Opened++
		case models.ActionClose:
			err = s.restrictions.SetCloseDate(ctx, group.Exec(), row.RestrictionTableID, row.RestrictionID, openDate)
			result.Closed++
		default:
			err = fmt.Errorf("unknown action %d", int(row.ActionOnProposalAcceptance))
		}
		if err != nil {
			s.logger.Error("proposal acceptance aborted",
				zap.Int64("proposal_id", proposalID),
				zap.String("layer", row.RestrictionTableID.String()),
				zap.String("restriction_id", row.RestrictionID),
				zap.Error(err))
			return nil, appErrors.StoreWrite(err, fmt.Sprintf("failed to apply %s to restriction %s", row.ActionOnProposalAcceptance, row.RestrictionID))
		}
	}

	if err := s.proposals.UpdateStatus(ctx, group.Exec(), proposalID, models.ProposalAccepted, &openDate); err != nil {
		return nil, appErrors.StoreWrite(err, "failed to mark proposal accepted")
	}
	group.MarkModified()

	s.logger.Info("proposal accepted",
		zap.Int64("proposal_id", proposalID),
		zap.Int("opened", result.Opened),
		zap.Int("closed", result.Closed))
	return result, nil
}

// Reject discards the proposal's ledger and marks it REJECTED. Restriction
// dates are never touched; rows created purely for the proposal are counted
// and left in place.
func (s *AcceptanceService) Reject(ctx context.Context, group *TransactionGroup, proposalID int64) (*RejectionResult, error) {
	if err := s.checkTransition(ctx, group, proposalID, models.ProposalRejected); err != nil {
		return nil, err
	}
	rows, err := s.ledger.ListByProposal(ctx, group.Exec(), proposalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read proposal ledger")
	}

	orphans := 0
	for _, row := range rows {
		if row.ActionOnProposalAcceptance != models.ActionOpen {
			continue
		}
		restriction, err := s.restrictions.FindByRestrictionID(ctx, group.Exec(), row.RestrictionTableID, row.RestrictionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect staged restriction")
		}
		if restriction.OpenDate == nil {
			orphans++
		}
	}

	discarded, err := s.ledger.DeleteByProposal(ctx, group.Exec(), proposalID)
	if err != nil {
		return nil, appErrors.StoreWrite(err, "failed to discard proposal ledger")
	}
	if err := s.proposals.UpdateStatus(ctx, group.Exec(), proposalID, models.ProposalRejected, nil); err != nil {
		return nil, appErrors.StoreWrite(err, "failed to mark proposal rejected")
	}
	group.MarkModified()

	if orphans > 0 {
		s.logger.Warn("rejected proposal leaves unopened restrictions",
			zap.Int64("proposal_id", proposalID),
			zap.Int("orphans", orphans))
	}
	s.logger.Info("proposal rejected", zap.Int64("proposal_id", proposalID), zap.Int64("discarded", discarded))
	return &RejectionResult{ProposalID: proposalID, Discarded: discarded, Orphans: orphans}, nil
}

func (s *AcceptanceService) checkTransition(ctx context.Context, group *TransactionGroup, proposalID int64, next models.ProposalStatus) error {
	if group == nil {
		return appErrors.Clone(appErrors.ErrValidation, "a transaction group is required")
	}
	if proposalID == models.NoProposal {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "the baseline cannot be accepted or rejected")
	}
	// waits for gestures still staging rows under the proposal
	proposal, err := s.proposals.GetForUpdate(ctx, group.Exec(), proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal")
	}
	if !proposal.Status.CanTransitionTo(next) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("proposal %d is %s and cannot become %s", proposalID, proposal.Status, next))
	}
	return nil
}
