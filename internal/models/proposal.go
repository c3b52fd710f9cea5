package models

import (
	"fmt"
	"strings"
	"time"
)

// ProposalStatus captures the proposal lifecycle. ACCEPTED and REJECTED are terminal.
type ProposalStatus int

const (
	ProposalInPreparation ProposalStatus = 1
	ProposalAccepted      ProposalStatus = 2
	ProposalRejected      ProposalStatus = 3
)

// NoProposal is the sentinel for the read-only baseline view.
const NoProposal int64 = 0

func (s ProposalStatus) String() string {
	switch s {
	case ProposalInPreparation:
		return "IN_PREPARATION"
	case ProposalAccepted:
		return "ACCEPTED"
	case ProposalRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("ProposalStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	return s == ProposalInPreparation && next.Terminal()
}

// ParseProposalStatus accepts either the name or the numeric code.
func ParseProposalStatus(raw string) (ProposalStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN_PREPARATION", "1":
		return ProposalInPreparation, nil
	case "ACCEPTED", "2":
		return ProposalAccepted, nil
	case "REJECTED", "3":
		return ProposalRejected, nil
	}
	return 0, fmt.Errorf("unknown proposal status %q", raw)
}

// Proposal is a named batch of staged restriction changes.
type Proposal struct {
	ProposalID int64          `db:"proposal_id" json:"proposalId"`
	Title      string         `db:"proposal_title" json:"title"`
	Status     ProposalStatus `db:"proposal_status_id" json:"status"`
	CreateDate time.Time      `db:"proposal_create_date" json:"createDate"`
	OpenDate   *time.Time     `db:"proposal_open_date" json:"openDate,omitempty"`
	Notes      *string        `db:"proposal_notes" json:"notes,omitempty"`
}

// ProposalFilter constrains proposal listings.
type ProposalFilter struct {
	Status []ProposalStatus
}
