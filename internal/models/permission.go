package models

import (
	"fmt"
	"strings"
)

// UserPermission is a set of capability flags derived from the deployment elevation.
type UserPermission uint8

const (
	PermRead UserPermission = 1 << iota
	PermPrint
	PermWrite
	PermReportBayData
	PermConfirmOrders
	PermFullControl
)

// Elevation names accepted in DEPLOY_USER_ELEVATION.
const (
	ElevationAdmin                  = "admin"
	ElevationWriteConfirmOperator   = "write_confirm_operator"
	ElevationWriteNoConfirmOperator = "write_no_confirm_operator"
	ElevationReadOnlyOperator       = "read_only_operator"
	ElevationGuest                  = "guest"
)

// PermissionsForElevation maps a deployment elevation to its permission set.
func PermissionsForElevation(elevation string) (UserPermission, error) {
	switch strings.TrimSpace(elevation) {
	case ElevationAdmin:
		return PermFullControl | PermConfirmOrders | PermReportBayData | PermWrite | PermPrint | PermRead, nil
	case ElevationWriteConfirmOperator:
		return PermConfirmOrders | PermReportBayData | PermWrite | PermPrint | PermRead, nil
	case ElevationWriteNoConfirmOperator:
		return PermReportBayData | PermWrite | PermPrint | PermRead, nil
	case ElevationReadOnlyOperator:
		return PermPrint | PermRead, nil
	case "", ElevationGuest:
		return PermRead, nil
	}
	return 0, fmt.Errorf("user elevation %s is not valid", elevation)
}

// Has reports whether every flag in want is granted.
func (p UserPermission) Has(want UserPermission) bool {
	return p&want == want
}

// String renders the highest capability held.
func (p UserPermission) String() string {
	switch {
	case p.Has(PermFullControl):
		return "ADMIN"
	case p.Has(PermConfirmOrders):
		return "WRITE (CAN CONFIRM)"
	case p.Has(PermWrite):
		return "WRITE"
	case p.Has(PermPrint):
		return "READ ONLY (CAN PRINT)"
	case p.Has(PermRead):
		return "READ ONLY"
	}
	return "NONE"
}

// Scope is the explicit editing context handed to every engine operation.
type Scope struct {
	SessionID   string
	ProposalID  int64
	Permissions UserPermission
}

// Baseline reports whether the scope targets the read-only baseline.
func (s Scope) Baseline() bool {
	return s.ProposalID == NoProposal
}
