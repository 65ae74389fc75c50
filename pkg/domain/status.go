package domain

import "fmt"

// CaseloadEvent is an input to the caseload status state machine.
type CaseloadEvent string

// Caseload events raised by the ledger, the discharge workflow and operators.
const (
	EventAssignmentActivated CaseloadEvent = "assignment_activated"
	EventAssignmentClosed    CaseloadEvent = "assignment_closed"
	EventDischarged          CaseloadEvent = "discharged"
	EventMarkedNonCaseload   CaseloadEvent = "marked_non_caseload"
	EventReturnedToCaseload  CaseloadEvent = "returned_to_caseload"
)

// NextCaseloadStatus returns the caseload status c should hold after event,
// given the number of assignments that remain active for it.
func NextCaseloadStatus(c Child, event CaseloadEvent, activeAssignments int) CaseloadStatus {
	switch event {
	case EventAssignmentActivated:
		if c.OverallStatus == StatusActive && c.CaseloadStatus != CaseloadAssigned {
			return CaseloadAssigned
		}
	case EventAssignmentClosed:
		// explicit non_caseload is sticky and never auto-promoted here
		if activeAssignments == 0 && c.OverallStatus == StatusActive && c.CaseloadStatus == CaseloadAssigned {
			return CaseloadAwaitingAssignment
		}
	case EventDischarged, EventMarkedNonCaseload:
		return CaseloadNonCaseload
	case EventReturnedToCaseload:
		if c.OverallStatus != StatusActive {
			return c.CaseloadStatus
		}
		if activeAssignments > 0 {
			return CaseloadAssigned
		}
		return CaseloadAwaitingAssignment
	}
	return c.CaseloadStatus
}

var (
	validOverall  = map[OverallStatus]struct{}{StatusActive: {}, StatusDischarged: {}}
	validCaseload = map[CaseloadStatus]struct{}{CaseloadAssigned: {}, CaseloadNonCaseload: {}, CaseloadAwaitingAssignment: {}}
)

// CheckChildState returns a description of the first contradiction in the
// child's status triple, or "" when the combination is legal.
func CheckChildState(c Child) string {
	if _, ok := validOverall[c.OverallStatus]; !ok {
		return fmt.Sprintf("child %s has invalid overall status %q", c.ID, c.OverallStatus)
	}
	if _, ok := validCaseload[c.CaseloadStatus]; !ok {
		return fmt.Sprintf("child %s has invalid caseload status %q", c.ID, c.CaseloadStatus)
	}
	if c.OverallStatus == StatusDischarged {
		if c.CaseloadStatus != CaseloadNonCaseload {
			return fmt.Sprintf("discharged child %s cannot hold caseload status %s", c.ID, c.CaseloadStatus)
		}
		if c.OnHold {
			return fmt.Sprintf("discharged child %s cannot be on hold", c.ID)
		}
	}
	return ""
}
