package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
)

type mappingUpdateStore interface {
	ListUnpublished(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, proposalID int64) ([]models.Restriction, error)
	Publish(ctx context.Context, exec sqlx.ExtContext, layer models.LayerCode, geometryID string) error
}

type mappingUpdateLedger interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, row models.RestrictionInProposal) error
}

// MappingUpdateResult counts the rows published per layer.
type MappingUpdateResult struct {
	ProposalID     int64          `json:"proposalId"`
	Published      map[string]int `json:"published"`
	RestrictionIDs []string       `json:"restrictionIds"`
}

// MappingUpdateService publishes mapping updates digitised under a proposal:
// each new row takes its geometry id as its restriction id and is staged OPEN.
type MappingUpdateService struct {
	restrictions mappingUpdateStore
	ledger       mappingUpdateLedger
	logger       *zap.Logger
}

// NewMappingUpdateService constructs the publisher.
func NewMappingUpdateService(restrictions mappingUpdateStore, ledger mappingUpdateLedger, logger *zap.Logger) *MappingUpdateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MappingUpdateService{restrictions: restrictions, ledger: ledger, logger: logger}
}

var mappingUpdateLayers = []models.LayerCode{models.LayerMappingUpdates, models.LayerMappingUpdateMasks}

// Publish stages every unpublished mapping update of the scope's proposal.
func (s *MappingUpdateService) Publish(ctx context.Context, group *TransactionGroup, scope models.Scope) (*MappingUpdateResult, error) {
	if !scope.Permissions.Has(models.PermFullControl) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "full control is required to publish mapping updates")
	}
	if scope.Baseline() {
		return nil, appErrors.ErrPolicyViolation
	}
	if group == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a transaction group is required")
	}

	result := &MappingUpdateResult{ProposalID: scope.ProposalID, Published: map[string]int{}, RestrictionIDs: []string{}}
	for _, layer := range mappingUpdateLayers {
		rows, err := s.restrictions.ListUnpublished(ctx, group.Exec(), layer, scope.ProposalID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list mapping updates")
		}
		for _, row := range rows {
			if err := s.restrictions.Publish(ctx, group.Exec(), layer, row.GeometryID); err != nil {
				return nil, appErrors.StoreWrite(err, "failed to publish mapping update")
			}
			staged := models.RestrictionInProposal{
				ProposalID:                 scope.ProposalID,
				RestrictionTableID:         layer,
				RestrictionID:              row.GeometryID,
				ActionOnProposalAcceptance: models.ActionOpen,
			}
			if err := s.ledger.Insert(ctx, group.Exec(), staged); err != nil {
				return nil, appErrors.StoreWrite(err, "failed to stage mapping update")
			}
			group.MarkModified()
			result.RestrictionIDs = append(result.RestrictionIDs, row.GeometryID)
		}
		result.Published[layer.String()] = len(rows)
	}

	s.logger.Info("mapping updates published",
		zap.Int64("proposal_id", scope.ProposalID),
		zap.Int("count", len(result.RestrictionIDs)))
	return result, nil
}
