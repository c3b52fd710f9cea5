package models

import "fmt"

// RestrictionAction is what happens to a restriction when its proposal is accepted.
type RestrictionAction int

const (
	ActionOpen  RestrictionAction = 1
	ActionClose RestrictionAction = 2
)

func (a RestrictionAction) String() string {
	switch a {
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("RestrictionAction(%d)", int(a))
	}
}

// RestrictionInProposal is one ledger row. (ProposalID, RestrictionTableID,
// RestrictionID) is unique.
type RestrictionInProposal struct {
	ProposalID                 int64             `db:"proposal_id" json:"proposalId"`
	RestrictionTableID         LayerCode         `db:"restriction_table_id" json:"restrictionTableId"`
	RestrictionID              string            `db:"restriction_id" json:"restrictionId"`
	ActionOnProposalAcceptance RestrictionAction `db:"action_on_proposal_acceptance" json:"action"`
}

// LedgerKey identifies a ledger row.
type LedgerKey struct {
	ProposalID    int64
	Layer         LayerCode
	RestrictionID string
}

// Key returns the row's primary key.
func (r RestrictionInProposal) Key() LedgerKey {
	return LedgerKey{ProposalID: r.ProposalID, Layer: r.RestrictionTableID, RestrictionID: r.RestrictionID}
}

// ScheduleEntry is a ledger row joined with the restriction it targets, used
// by the proposal schedule export.
type ScheduleEntry struct {
	RestrictionTableID         LayerCode         `db:"restriction_table_id"`
	RestrictionID              string            `db:"restriction_id"`
	ActionOnProposalAcceptance RestrictionAction `db:"action_on_proposal_acceptance"`
	GeometryID                 *string           `db:"geometry_id"`
	RestrictionTypeID          *int              `db:"restriction_type_id"`
}
