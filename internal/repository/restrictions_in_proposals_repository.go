package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/toms-api/internal/models"
)

// RestrictionsInProposalsRepository persists the proposal ledger.
type RestrictionsInProposalsRepository struct {
	db *sqlx.DB
}

// NewRestrictionsInProposalsRepository constructs the repository.
func NewRestrictionsInProposalsRepository(db *sqlx.DB) *RestrictionsInProposalsRepository {
	return &RestrictionsInProposalsRepository{db: db}
}

func (r *RestrictionsInProposalsRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Lookup returns the ledger row for key, or nil when the restriction is not
// staged in the proposal.
func (r *RestrictionsInProposalsRepository) Lookup(ctx context.Context, exec sqlx.ExtContext, key models.LedgerKey) (*models.RestrictionInProposal, error) {
	const query = `SELECT proposal_id, restriction_table_id, restriction_id, action_on_proposal_acceptance
	FROM toms.restrictions_in_proposals
	WHERE restriction_id = $1 AND restriction_table_id = $2 AND proposal_id = $3`
	var row models.RestrictionInProposal
	if err := sqlx.GetContext(ctx, r.exec(exec), &row, query, key.RestrictionID, key.Layer, key.ProposalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup restriction in proposal: %w", err)
	}
	return &row, nil
}

// Insert stages an action. The primary key rejects a second row for the same triple.
func (r *RestrictionsInProposalsRepository) Insert(ctx context.Context, exec sqlx.ExtContext, row models.RestrictionInProposal) error {
	const query = `INSERT INTO toms.restrictions_in_proposals
	(proposal_id, restriction_table_id, restriction_id, action_on_proposal_acceptance)
	VALUES (:proposal_id, :restriction_table_id, :restriction_id, :action_on_proposal_acceptance)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, row); err != nil {
		return fmt.Errorf("insert restriction in proposal: %w", err)
	}
	return nil
}

// Delete removes a single ledger row.
func (r *RestrictionsInProposalsRepository) Delete(ctx context.Context, exec sqlx.ExtContext, key models.LedgerKey) error {
	const query = `DELETE FROM toms.restrictions_in_proposals
	WHERE restriction_id = $1 AND restriction_table_id = $2 AND proposal_id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, key.RestrictionID, key.Layer, key.ProposalID)
	if err != nil {
		return fmt.Errorf("delete restriction in proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("restriction in proposal rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByProposal returns every staged action of the proposal.
func (r *RestrictionsInProposalsRepository) ListByProposal(ctx context.Context, exec sqlx.ExtContext, proposalID int64) ([]models.RestrictionInProposal, error) {
	const query = `SELECT proposal_id, restriction_table_id, restriction_id, action_on_proposal_acceptance
	FROM toms.restrictions_in_proposals
	WHERE proposal_id = $1
	ORDER BY restriction_table_id, action_on_proposal_acceptance, restriction_id`
	var rows []models.RestrictionInProposal
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, proposalID); err != nil {
		return nil, fmt.Errorf("list restrictions in proposal: %w", err)
	}
	return rows, nil
}

// DeleteByProposal discards the proposal's ledger and reports how many rows went.
func (r *RestrictionsInProposalsRepository) DeleteByProposal(ctx context.Context, exec sqlx.ExtContext, proposalID int64) (int64, error) {
	const query = `DELETE FROM toms.restrictions_in_proposals WHERE proposal_id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, proposalID)
	if err != nil {
		return 0, fmt.Errorf("delete proposal ledger: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("proposal ledger rows affected: %w", err)
	}
	return affected, nil
}

// ListSchedule joins the proposal's ledger with the rows it targets across
// every restriction layer.
func (r *RestrictionsInProposalsRepository) ListSchedule(ctx context.Context, proposalID int64) ([]models.ScheduleEntry, error) {
	layers := models.Layers()
	parts := make([]string, 0, len(layers))
	for _, d := range layers {
		parts = append(parts, fmt.Sprintf(`SELECT rip.restriction_table_id, rip.restriction_id, rip.action_on_proposal_acceptance,
	       t.geometry_id, t.restriction_type_id
	FROM toms.restrictions_in_proposals rip
	LEFT JOIN %s t ON t.restriction_id = rip.restriction_id
	WHERE rip.proposal_id = $1 AND rip.restriction_table_id = %d`, d.Table, int(d.Code)))
	}
	query := strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY 1, 3, 2"

	var rows []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &rows, query, proposalID); err != nil {
		return nil, fmt.Errorf("list proposal schedule: %w", err)
	}
	return rows, nil
}
