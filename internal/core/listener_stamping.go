package core

import (
	"context"
	"fmt"

	"casecore/pkg/domain"
)

// RecordStamping fills attribution and snapshot fields before a row is written:
// created_by and updated_by on children, the centre snapshot and review flag
// on visits, assigned_by on ledger rows and the author of case notes.
func RecordStamping() domain.BeforePersistListener {
	return recordStamping{}
}

type recordStamping struct{}

func (recordStamping) Name() string { return "record_stamping" }

func (s recordStamping) BeforePersist(_ context.Context, tx domain.Transaction, action domain.Action, entity any) (domain.Result, error) {
	if action == domain.ActionDelete {
		return domain.Result{}, nil
	}
	actor := tx.Actor()
	switch e := entity.(type) {
	case *domain.Child:
		if !actor.IsSystem() {
			if action == domain.ActionCreate {
				e.CreatedBy = actor.Ref()
			}
			e.UpdatedBy = actor.Ref()
		}
	case *domain.Visit:
		return s.stampVisit(tx, action, e)
	case *domain.CaseloadAssignment:
		if action == domain.ActionCreate && e.AssignedBy == nil {
			e.AssignedBy = actor.Ref()
		}
	case *domain.CaseNote:
		if action == domain.ActionCreate && e.AuthorID == nil {
			e.AuthorID = actor.Ref()
		}
	}
	return domain.Result{}, nil
}

func (s recordStamping) stampVisit(tx domain.Transaction, action domain.Action, v *domain.Visit) (domain.Result, error) {
	if action == domain.ActionCreate && v.CentreID == nil {
		if child, ok := tx.FindChild(v.ChildID); ok && child.CentreID != nil {
			centre := *child.CentreID
			v.CentreID = &centre
		}
	}
	d, err := v.Duration()
	if err != nil {
		return domain.Result{}, err
	}
	if d < domain.ReviewThreshold {
		return domain.Result{}, nil
	}
	v.FlaggedForReview = true
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "visit_review",
		Severity: domain.SeverityWarn,
		Message:  fmt.Sprintf("visit %s lasts %s and is flagged for review", v.ID, v.DurationLabel()),
		Entity:   domain.EntityVisit,
		EntityID: v.ID,
	}}}, nil
}
