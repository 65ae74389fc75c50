package core

import (
	"context"
	"slices"
	"time"

	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// BulkReassignOperation names the bulk scope and audit operation of BulkReassign.
const BulkReassignOperation = "bulk_reassign"

// CreateAssignment opens a ledger row as given. A second active primary for
// the same child fails with ConflictError; use AssignStaff to replace the
// current primary instead.
func (s *Service) CreateAssignment(ctx context.Context, actor domain.Actor, assignment domain.CaseloadAssignment) (domain.CaseloadAssignment, domain.Result, error) {
	const op = "create_assignment"
	var created domain.CaseloadAssignment
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			if _, err := tx.LockChild(assignment.ChildID); err != nil {
				return err
			}
			if assignment.IsPrimary && assignment.Active() {
				if current, ok := activePrimary(tx, assignment.ChildID); ok {
					return domain.ConflictError{Entity: domain.EntityAssignment, ChildID: assignment.ChildID, ExistingID: current.ID}
				}
			}
			var err error
			created, err = tx.CreateAssignment(assignment)
			return err
		})
	}, zap.String("child_id", assignment.ChildID), zap.String("staff_id", assignment.StaffID))
	return created, res, err
}

// AssignStaff assigns staffID to the child. Assigning a primary closes the
// child's current active primary, if any, in the same unit of work.
func (s *Service) AssignStaff(ctx context.Context, actor domain.Actor, childID, staffID string, isPrimary bool) (domain.CaseloadAssignment, domain.Result, error) {
	const op = "assign_staff"
	var created domain.CaseloadAssignment
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			if _, err := tx.LockChild(childID); err != nil {
				return err
			}
			if isPrimary {
				if current, ok := activePrimary(tx, childID); ok {
					if _, err := closeAssignment(tx, current.ID, tx.Now()); err != nil {
						return err
					}
				}
			}
			var err error
			created, err = tx.CreateAssignment(domain.CaseloadAssignment{
				ChildID:   childID,
				StaffID:   staffID,
				IsPrimary: isPrimary,
			})
			return err
		})
	}, zap.String("child_id", childID), zap.String("staff_id", staffID), zap.Bool("is_primary", isPrimary))
	return created, res, err
}

// Unassign closes an active assignment at the given instant; a zero at uses
// the transaction time.
func (s *Service) Unassign(ctx context.Context, actor domain.Actor, assignmentID string, at time.Time) (domain.CaseloadAssignment, domain.Result, error) {
	const op = "unassign"
	var closed domain.CaseloadAssignment
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			current, ok := tx.FindAssignment(assignmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssignment, ID: assignmentID}
			}
			if _, err := tx.LockChild(current.ChildID); err != nil {
				return err
			}
			when := at
			if when.IsZero() {
				when = tx.Now()
			}
			var err error
			closed, err = closeAssignment(tx, assignmentID, when)
			return err
		})
	}, zap.String("assignment_id", assignmentID))
	return closed, res, err
}

// DeleteAssignment hard-deletes a ledger row. The child's caseload status is
// re-derived exactly as for an unassignment.
func (s *Service) DeleteAssignment(ctx context.Context, actor domain.Actor, assignmentID string) (domain.Result, error) {
	const op = "delete_assignment"
	return s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			current, ok := tx.FindAssignment(assignmentID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityAssignment, ID: assignmentID}
			}
			if _, err := tx.LockChild(current.ChildID); err != nil {
				return err
			}
			return tx.DeleteAssignment(assignmentID)
		})
	}, zap.String("assignment_id", assignmentID))
}

// BulkReassign moves the active assignments of fromStaffID, optionally
// restricted to childIDs, onto toStaffID, preserving the primary flag. The
// move is audited as a single bulk_update row.
func (s *Service) BulkReassign(ctx context.Context, actor domain.Actor, fromStaffID, toStaffID string, childIDs []string) ([]domain.CaseloadAssignment, domain.Result, error) {
	const op = BulkReassignOperation
	var created []domain.CaseloadAssignment
	res, err := s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		switch {
		case fromStaffID == "" || toStaffID == "":
			return domain.Result{}, domain.ValidationError{Field: "staff", Reason: "both from_staff and to_staff are required"}
		case fromStaffID == toStaffID:
			return domain.Result{}, domain.ValidationError{Field: "to_staff", Reason: "must differ from from_staff"}
		}
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			created = nil
			if _, ok := tx.FindUser(toStaffID); !ok {
				return domain.NotFoundError{Entity: domain.EntityUser, ID: toStaffID}
			}
			if _, ok := tx.FindUser(fromStaffID); !ok {
				return domain.NotFoundError{Entity: domain.EntityUser, ID: fromStaffID}
			}
			tx.BeginBulk(op)
			children := make([]string, 0)
			movedChildIDs := make([]string, 0)
			closed := make([]string, 0)
			for _, a := range tx.AssignmentsForStaff(fromStaffID) {
				if !a.Active() || (len(childIDs) > 0 && !slices.Contains(childIDs, a.ChildID)) {
					continue
				}
				child, err := tx.LockChild(a.ChildID)
				if err != nil {
					return err
				}
				if _, err := closeAssignment(tx, a.ID, tx.Now()); err != nil {
					return err
				}
				moved, err := tx.CreateAssignment(domain.CaseloadAssignment{
					ChildID:   a.ChildID,
					StaffID:   toStaffID,
					IsPrimary: a.IsPrimary,
				})
				if err != nil {
					return err
				}
				created = append(created, moved)
				children = append(children, child.FullName())
				movedChildIDs = append(movedChildIDs, a.ChildID)
				closed = append(closed, a.ID)
			}
			_, err := tx.AppendAuditEntry(domain.AuditLogEntry{
				ActorID:    actor.Ref(),
				ActorLabel: actor.Label(),
				EntityType: domain.EntityAssignment,
				Action:     domain.AuditBulkUpdate,
				Metadata: map[string]any{
					"operation":              op,
					"from_staff":             fromStaffID,
					"to_staff":               toStaffID,
					"count":                  len(created),
					"children":               children,
					"child_ids":              movedChildIDs,
					"closed_assignment_ids":  closed,
					"created_assignment_ids": assignmentIDs(created),
				},
			})
			return err
		})
	}, zap.String("from_staff_id", fromStaffID), zap.String("to_staff_id", toStaffID), zap.Int("child_filter", len(childIDs)))
	return created, res, err
}

func assignmentIDs(rows []domain.CaseloadAssignment) []string {
	ids := make([]string, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.ID)
	}
	return ids
}

// ActiveAssignmentsFor lists the child's open ledger rows, primary first.
func (s *Service) ActiveAssignmentsFor(ctx context.Context, childID string) ([]domain.CaseloadAssignment, error) {
	var out []domain.CaseloadAssignment
	err := s.read(ctx, "active_assignments", func(v domain.TransactionView) error {
		if _, ok := v.FindChild(childID); !ok {
			return domain.NotFoundError{Entity: domain.EntityChild, ID: childID}
		}
		out = activeAssignments(v, childID)
		return nil
	}, zap.String("child_id", childID))
	return out, err
}

func activeAssignments(v domain.TransactionView, childID string) []domain.CaseloadAssignment {
	var out []domain.CaseloadAssignment
	for _, a := range v.AssignmentsForChild(childID) {
		if a.Active() {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.CaseloadAssignment) int {
		switch {
		case a.IsPrimary == b.IsPrimary:
			return 0
		case a.IsPrimary:
			return -1
		default:
			return 1
		}
	})
	return out
}

func activePrimary(v domain.TransactionView, childID string) (domain.CaseloadAssignment, bool) {
	for _, a := range v.AssignmentsForChild(childID) {
		if a.IsPrimary && a.Active() {
			return a, true
		}
	}
	return domain.CaseloadAssignment{}, false
}

// closeAssignment sets unassigned_at on an open row.
func closeAssignment(tx domain.Transaction, id string, at time.Time) (domain.CaseloadAssignment, error) {
	return tx.UpdateAssignment(id, func(a *domain.CaseloadAssignment) error {
		if !a.Active() {
			return domain.AlreadyUnassignedError{AssignmentID: a.ID}
		}
		when := at
		a.UnassignedAt = &when
		return nil
	})
}
