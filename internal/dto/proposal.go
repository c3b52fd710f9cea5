package dto

import "time"

// SetCurrentProposalRequest selects the session's active proposal; 0 returns
// to the baseline view.
type SetCurrentProposalRequest struct {
	ProposalID *int64 `json:"proposalId" validate:"required,gte=0"`
}

// CurrentProposalResponse reports the session's selection.
type CurrentProposalResponse struct {
	SessionID   string `json:"sessionId"`
	ProposalID  int64  `json:"proposalId"`
	Permissions string `json:"permissions"`
}

// SaveProposalRequest persists a proposal created with initialise, or renames one.
type SaveProposalRequest struct {
	ProposalID int64   `json:"proposalId" validate:"required,gt=0"`
	Title      string  `json:"title" validate:"required,max=255"`
	Notes      *string `json:"notes" validate:"omitempty,max=2000"`
}

// AcceptProposalRequest optionally fixes the date the proposal takes effect.
type AcceptProposalRequest struct {
	OpenDate *time.Time `json:"openDate"`
}

// TransactionStatus describes the session's transaction group.
type TransactionStatus struct {
	SessionID string `json:"sessionId"`
	Open      bool   `json:"open"`
	GroupID   string `json:"groupId,omitempty"`
	Modified  bool   `json:"modified"`
}
