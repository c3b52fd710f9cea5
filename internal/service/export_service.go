package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/toms-api/internal/models"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/export"
)

type scheduleRepository interface {
	ListSchedule(ctx context.Context, proposalID int64) ([]models.ScheduleEntry, error)
}

type scheduleProposals interface {
	GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error)
}

// ScheduleDocument is a rendered proposal schedule.
type ScheduleDocument struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// ExportService renders the list of staged actions of a proposal.
type ExportService struct {
	schedule  scheduleRepository
	proposals scheduleProposals
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(schedule scheduleRepository, proposals scheduleProposals, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		schedule:  schedule,
		proposals: proposals,
		logger:    logger,
		now:       time.Now,
	}
}

// ProposalSchedule renders the proposal's ledger as CSV or PDF.
func (s *ExportService) ProposalSchedule(ctx context.Context, permissions models.UserPermission, proposalID int64, format export.Format) (*ScheduleDocument, error) {
	if !permissions.Has(models.PermPrint) {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "print permission is required to export proposals")
	}
	proposal, err := s.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	entries, err := s.schedule.ListSchedule(ctx, proposalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load proposal schedule")
	}

	table := export.Table{
		Title:    fmt.Sprintf("%s (proposal %d)", proposal.Title, proposal.ProposalID),
		Subtitle: fmt.Sprintf("Status %s, generated %s", proposal.Status, s.now().UTC().Format("2006-01-02 15:04")),
		Headers:  []string{"Layer", "Restriction ID", "Geometry ID", "Restriction Type", "Action On Acceptance"},
		Rows:     make([][]string, 0, len(entries)),
	}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			e.RestrictionTableID.String(),
			e.RestrictionID,
			derefString(e.GeometryID),
			derefInt(e.RestrictionTypeID),
			e.ActionOnProposalAcceptance.String(),
		})
	}

	body, err := export.Render(format, table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render proposal schedule")
	}
	s.logger.Debug("proposal schedule rendered",
		zap.Int64("proposal_id", proposalID),
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)))

	return &ScheduleDocument{
		Filename:    fmt.Sprintf("proposal-%d-schedule.%s", proposalID, format),
		ContentType: format.ContentType(),
		Body:        body,
		Rows:        len(table.Rows),
	}, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
