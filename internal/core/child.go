package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// CreateChild registers a new active child awaiting assignment. Derived
// status fields may be left empty; any other initial value is refused.
func (s *Service) CreateChild(ctx context.Context, actor domain.Actor, child domain.Child) (domain.Child, domain.Result, error) {
	var created domain.Child
	res, err := s.write(ctx, "create_child", actor, func(tx domain.Transaction) error {
		if child.OverallStatus != "" && child.OverallStatus != domain.StatusActive {
			return derivedFieldViolation(child.ID, "overall_status")
		}
		if child.CaseloadStatus != "" && child.CaseloadStatus != domain.CaseloadAwaitingAssignment {
			return derivedFieldViolation(child.ID, "caseload_status")
		}
		if child.EndDate != nil || child.DischargeReason != "" {
			return derivedFieldViolation(child.ID, "discharge")
		}
		var err error
		created, err = tx.CreateChild(child)
		return err
	})
	return created, res, err
}

// UpdateChild applies mutator to a child. The mutator may edit descriptive
// fields and on_hold; status, end date and discharge reason are owned by the
// ledger and the discharge workflow and changing them fails with
// InvariantViolationError.
func (s *Service) UpdateChild(ctx context.Context, actor domain.Actor, id string, mutator func(*domain.Child) error) (domain.Child, domain.Result, error) {
	var updated domain.Child
	res, err := s.write(ctx, "update_child", actor, func(tx domain.Transaction) error {
		if _, err := tx.LockChild(id); err != nil {
			return err
		}
		var err error
		updated, err = tx.UpdateChild(id, func(c *domain.Child) error {
			before := *c
			if err := mutator(c); err != nil {
				return err
			}
			if field := changedDerivedField(before, *c); field != "" {
				return derivedFieldViolation(id, field)
			}
			return nil
		})
		return err
	}, zap.String("child_id", id))
	return updated, res, err
}

func changedDerivedField(before, after domain.Child) string {
	switch {
	case before.OverallStatus != after.OverallStatus:
		return "overall_status"
	case before.CaseloadStatus != after.CaseloadStatus:
		return "caseload_status"
	case !sameDate(before.EndDate, after.EndDate):
		return "end_date"
	case before.DischargeReason != after.DischargeReason:
		return "discharge_reason"
	}
	return ""
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func derivedFieldViolation(id, field string) error {
	return domain.InvariantViolationError{Result: domain.Result{Violations: []domain.Violation{{
		Rule:     "derived_status",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("%s is derived and cannot be set directly", field),
		Entity:   domain.EntityChild,
		EntityID: id,
	}}}}
}

// GetChild returns a child by id.
func (s *Service) GetChild(ctx context.Context, id string) (domain.Child, error) {
	var child domain.Child
	err := s.read(ctx, "get_child", func(v domain.TransactionView) error {
		var ok bool
		if child, ok = v.FindChild(id); !ok {
			return domain.NotFoundError{Entity: domain.EntityChild, ID: id}
		}
		return nil
	}, zap.String("child_id", id))
	return child, err
}

// Discharge ends services for a child: the child becomes discharged and
// non_caseload, leaves hold, records the reason and end date, and every active
// assignment is closed, all in one unit of work.
func (s *Service) Discharge(ctx context.Context, actor domain.Actor, childID, reason string, on time.Time) (domain.Child, domain.Result, error) {
	const op = "discharge_child"
	var discharged domain.Child
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		reason = strings.TrimSpace(reason)
		switch {
		case reason == "":
			return domain.Result{}, domain.ValidationError{Field: "discharge_reason", Reason: "discharge reason is required"}
		case on.IsZero():
			return domain.Result{}, domain.ValidationError{Field: "discharge_date", Reason: "discharge date is required"}
		}
		var current domain.Child
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			var ok bool
			if current, ok = v.FindChild(childID); !ok {
				return domain.NotFoundError{Entity: domain.EntityChild, ID: childID}
			}
			return nil
		}); err != nil {
			return domain.Result{}, err
		}
		if !s.authz.CanDischarge(ctx, actor, current) {
			return domain.Result{}, domain.ForbiddenError{Operation: op, ActorID: actor.ID}
		}
		end := domain.DateOf(on)
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			child, err := tx.LockChild(childID)
			if err != nil {
				return err
			}
			if child.OverallStatus == domain.StatusDischarged {
				return domain.AlreadyDischargedError{ChildID: childID}
			}
			if end.Before(domain.DateOf(child.StartDate)) {
				return domain.ValidationError{Field: "discharge_date", Reason: "cannot precede the start date"}
			}
			discharged, err = tx.UpdateChild(childID, func(c *domain.Child) error {
				c.CaseloadStatus = domain.NextCaseloadStatus(*c, domain.EventDischarged, 0)
				c.OverallStatus = domain.StatusDischarged
				c.OnHold = false
				c.EndDate = &end
				c.DischargeReason = reason
				return nil
			})
			if err != nil {
				return err
			}
			for _, a := range activeAssignments(tx, childID) {
				if _, err := closeAssignment(tx, a.ID, tx.Now()); err != nil {
					return err
				}
			}
			return nil
		})
	}, zap.String("child_id", childID))
	return discharged, res, err
}

// SetOnHold pauses or resumes services for an active child.
func (s *Service) SetOnHold(ctx context.Context, actor domain.Actor, childID string, onHold bool) (domain.Child, domain.Result, error) {
	var updated domain.Child
	res, err := s.write(ctx, "set_on_hold", actor, func(tx domain.Transaction) error {
		child, err := tx.LockChild(childID)
		if err != nil {
			return err
		}
		if child.OverallStatus != domain.StatusActive {
			return domain.InvalidStateError{Entity: domain.EntityChild, ID: childID, Reason: "only active children can be put on hold"}
		}
		updated, err = tx.UpdateChild(childID, func(c *domain.Child) error {
			c.OnHold = onHold
			return nil
		})
		return err
	}, zap.String("child_id", childID), zap.Bool("on_hold", onHold))
	return updated, res, err
}

// MarkNonCaseload takes an active child off the caseload. Closing assignments
// never reverts it; opening a new assignment puts the child back on the
// caseload.
func (s *Service) MarkNonCaseload(ctx context.Context, actor domain.Actor, childID string) (domain.Child, domain.Result, error) {
	return s.applyCaseloadEvent(ctx, "mark_non_caseload", actor, childID, domain.EventMarkedNonCaseload, func(c domain.Child) string {
		if c.OverallStatus != domain.StatusActive {
			return "only active children can be marked non_caseload"
		}
		return ""
	})
}

// ReturnToCaseload puts a non_caseload active child back on the caseload,
// assigned or awaiting assignment depending on its open ledger rows.
func (s *Service) ReturnToCaseload(ctx context.Context, actor domain.Actor, childID string) (domain.Child, domain.Result, error) {
	return s.applyCaseloadEvent(ctx, "return_to_caseload", actor, childID, domain.EventReturnedToCaseload, func(c domain.Child) string {
		if c.OverallStatus != domain.StatusActive || c.CaseloadStatus != domain.CaseloadNonCaseload {
			return "only active non_caseload children can return to the caseload"
		}
		return ""
	})
}

func (s *Service) applyCaseloadEvent(ctx context.Context, op string, actor domain.Actor, childID string, event domain.CaseloadEvent, precondition func(domain.Child) string) (domain.Child, domain.Result, error) {
	var updated domain.Child
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			child, err := tx.LockChild(childID)
			if err != nil {
				return err
			}
			if reason := precondition(child); reason != "" {
				return domain.InvalidStateError{Entity: domain.EntityChild, ID: childID, Reason: reason}
			}
			next := domain.NextCaseloadStatus(child, event, len(activeAssignments(tx, childID)))
			updated, err = tx.UpdateChild(childID, func(c *domain.Child) error {
				c.CaseloadStatus = next
				return nil
			})
			return err
		})
	}, zap.String("child_id", childID))
	return updated, res, err
}
