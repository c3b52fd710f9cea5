package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/toms-api/internal/models"
)

const proposalColumns = `proposal_id, proposal_title, proposal_status_id, proposal_create_date, proposal_open_date, proposal_notes`

// ProposalRepository persists proposals.
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository constructs the repository.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextID reserves a proposal identity from the sequence without creating a row.
func (r *ProposalRepository) NextID(ctx context.Context, exec sqlx.ExtContext) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, r.exec(exec), &id, `SELECT nextval('toms.proposals_proposal_id_seq')`); err != nil {
		return 0, fmt.Errorf("reserve proposal id: %w", err)
	}
	return id, nil
}

// GetByID fetches a proposal.
func (r *ProposalRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error) {
	return r.get(ctx, exec, id, "")
}

// GetForEdit fetches a proposal and share-locks its row for the rest of the
// transaction. An accept or reject of the same proposal waits for it.
func (r *ProposalRepository) GetForEdit(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error) {
	return r.get(ctx, exec, id, " FOR SHARE")
}

// GetForUpdate fetches a proposal and locks its row exclusively. Gestures
// staging rows under the proposal wait until the transaction ends.
func (r *ProposalRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Proposal, error) {
	return r.get(ctx, exec, id, " FOR UPDATE")
}

func (r *ProposalRepository) get(ctx context.Context, exec sqlx.ExtContext, id int64, lock string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM toms.proposals WHERE proposal_id = $1` + lock
	var proposal models.Proposal
	if err := sqlx.GetContext(ctx, r.exec(exec), &proposal, query, id); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// List returns proposals ordered by title.
func (r *ProposalRepository) List(ctx context.Context, filter models.ProposalFilter) ([]models.Proposal, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, len(filter.Status))
	builder.WriteString(`SELECT ` + proposalColumns + ` FROM toms.proposals`)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		builder.WriteString(fmt.Sprintf(" WHERE proposal_status_id IN (%s)", strings.Join(placeholders, ",")))
	}
	builder.WriteString(" ORDER BY proposal_title, proposal_id")

	var proposals []models.Proposal
	if err := r.db.SelectContext(ctx, &proposals, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// Save inserts the proposal or updates its title and notes while it is still
// in preparation. A terminal proposal is never overwritten.
func (r *ProposalRepository) Save(ctx context.Context, exec sqlx.ExtContext, proposal *models.Proposal) error {
	if proposal == nil {
		return fmt.Errorf("proposal payload is nil")
	}
	const query = `INSERT INTO toms.proposals
	(proposal_id, proposal_title, proposal_status_id, proposal_create_date, proposal_open_date, proposal_notes)
	VALUES (:proposal_id, :proposal_title, :proposal_status_id, :proposal_create_date, :proposal_open_date, :proposal_notes)
	ON CONFLICT (proposal_id) DO UPDATE SET proposal_title = EXCLUDED.proposal_title, proposal_notes = EXCLUDED.proposal_notes
	WHERE toms.proposals.proposal_status_id = 1`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, proposal)
	if err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("proposal rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus moves an IN_PREPARATION proposal to status. openDate is only
// written when non-nil.
func (r *ProposalRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.ProposalStatus, openDate *time.Time) error {
	const query = `UPDATE toms.proposals
	SET proposal_status_id = $1, proposal_open_date = COALESCE($2, proposal_open_date)
	WHERE proposal_id = $3 AND proposal_status_id = 1`
	result, err := r.exec(exec).ExecContext(ctx, query, status, openDate, id)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("proposal status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
