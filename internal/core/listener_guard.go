package core

import (
	"context"
	"fmt"

	"casecore/pkg/domain"
)

// ChildStateGuard vetoes writes that would leave a child in a contradictory
// status triple, reopen a discharged child, or give a discharged child an
// active assignment.
func ChildStateGuard() domain.BeforePersistListener {
	return childStateGuard{}
}

type childStateGuard struct{}

// overallTransitions lists the allowed next overall statuses per current
// status. Discharge is terminal.
var overallTransitions = map[domain.OverallStatus]map[domain.OverallStatus]struct{}{
	domain.StatusActive:     toSet(domain.StatusActive, domain.StatusDischarged),
	domain.StatusDischarged: toSet(domain.StatusDischarged),
}

func toSet[T comparable](values ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (childStateGuard) Name() string { return "child_state_guard" }

func (g childStateGuard) BeforePersist(_ context.Context, tx domain.Transaction, action domain.Action, entity any) (domain.Result, error) {
	if action == domain.ActionDelete {
		return domain.Result{}, nil
	}
	switch e := entity.(type) {
	case *domain.Child:
		return g.checkChild(tx, action, *e), nil
	case *domain.CaseloadAssignment:
		return g.checkAssignment(tx, *e), nil
	}
	return domain.Result{}, nil
}

func (g childStateGuard) checkChild(tx domain.Transaction, action domain.Action, child domain.Child) domain.Result {
	if msg := domain.CheckChildState(child); msg != "" {
		return g.block(domain.EntityChild, child.ID, msg)
	}
	if action != domain.ActionUpdate {
		return domain.Result{}
	}
	previous, ok := tx.FindChild(child.ID)
	if !ok {
		return domain.Result{}
	}
	if _, allowed := overallTransitions[previous.OverallStatus][child.OverallStatus]; !allowed {
		return g.block(domain.EntityChild, child.ID,
			fmt.Sprintf("child %s cannot move from %s to %s", child.ID, previous.OverallStatus, child.OverallStatus))
	}
	return domain.Result{}
}

func (g childStateGuard) checkAssignment(tx domain.Transaction, a domain.CaseloadAssignment) domain.Result {
	if !a.Active() {
		return domain.Result{}
	}
	child, ok := tx.FindChild(a.ChildID)
	if !ok || child.OverallStatus != domain.StatusDischarged {
		return domain.Result{}
	}
	return g.block(domain.EntityAssignment, a.ID,
		fmt.Sprintf("discharged child %s cannot hold an active assignment", a.ChildID))
}

func (g childStateGuard) block(entity domain.EntityType, id, msg string) domain.Result {
	return domain.Result{Violations: []domain.Violation{{
		Rule:     g.Name(),
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   entity,
		EntityID: id,
	}}}
}
