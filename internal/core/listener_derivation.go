package core

import (
	"context"

	"casecore/pkg/domain"
)

// StatusDerivation keeps a child's caseload status in step with the
// assignment ledger. Every ledger change, including hard deletes and bulk
// reassignments, feeds the caseload state machine.
func StatusDerivation() domain.Listener {
	return statusDerivation{}
}

type statusDerivation struct{}

func (statusDerivation) Name() string { return "status_derivation" }

func (d statusDerivation) AfterPersist(_ context.Context, tx domain.Transaction, change domain.Change) (domain.Result, error) {
	if change.Entity != domain.EntityAssignment {
		return domain.Result{}, nil
	}
	childID, event, ok := ledgerEvent(change)
	if !ok {
		return domain.Result{}, nil
	}
	child, found := tx.FindChild(childID)
	if !found {
		return domain.Result{}, nil
	}
	active := 0
	for _, a := range tx.AssignmentsForChild(childID) {
		if a.Active() {
			active++
		}
	}
	next := domain.NextCaseloadStatus(child, event, active)
	if next == child.CaseloadStatus {
		return domain.Result{}, nil
	}
	_, err := tx.UpdateChild(childID, func(c *domain.Child) error {
		c.CaseloadStatus = next
		return nil
	})
	return domain.Result{}, err
}

// ledgerEvent maps a ledger change onto a caseload event.
func ledgerEvent(change domain.Change) (string, domain.CaseloadEvent, bool) {
	switch change.Action {
	case domain.ActionCreate:
		after, ok := change.After.(domain.CaseloadAssignment)
		if !ok {
			return "", "", false
		}
		if after.Active() {
			return after.ChildID, domain.EventAssignmentActivated, true
		}
		return after.ChildID, domain.EventAssignmentClosed, true
	case domain.ActionUpdate:
		before, okBefore := change.Before.(domain.CaseloadAssignment)
		after, okAfter := change.After.(domain.CaseloadAssignment)
		if !okBefore || !okAfter {
			return "", "", false
		}
		switch {
		case before.Active() && !after.Active():
			return after.ChildID, domain.EventAssignmentClosed, true
		case !before.Active() && after.Active():
			return after.ChildID, domain.EventAssignmentActivated, true
		}
		return "", "", false
	case domain.ActionDelete:
		before, ok := change.Before.(domain.CaseloadAssignment)
		if !ok {
			return "", "", false
		}
		return before.ChildID, domain.EventAssignmentClosed, true
	}
	return "", "", false
}
