package core

import (
	"context"

	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// PrimaryStaffFor returns the staff member holding the child's active primary
// assignment. ok is false when the child has none.
func (s *Service) PrimaryStaffFor(ctx context.Context, childID string) (staff domain.User, ok bool, err error) {
	err = s.read(ctx, "primary_staff", func(v domain.TransactionView) error {
		if _, found := v.FindChild(childID); !found {
			return domain.NotFoundError{Entity: domain.EntityChild, ID: childID}
		}
		a, found := activePrimary(v, childID)
		if !found {
			return nil
		}
		staff, ok = v.FindUser(a.StaffID)
		return nil
	}, zap.String("child_id", childID))
	return staff, ok, err
}

// AllStaffFor returns the staff on the child's active assignments, primary
// first, each listed once.
func (s *Service) AllStaffFor(ctx context.Context, childID string) ([]domain.User, error) {
	var out []domain.User
	err := s.read(ctx, "all_staff", func(v domain.TransactionView) error {
		if _, found := v.FindChild(childID); !found {
			return domain.NotFoundError{Entity: domain.EntityChild, ID: childID}
		}
		seen := make(map[string]struct{})
		for _, a := range activeAssignments(v, childID) {
			if _, dup := seen[a.StaffID]; dup {
				continue
			}
			seen[a.StaffID] = struct{}{}
			if u, found := v.FindUser(a.StaffID); found {
				out = append(out, u)
			}
		}
		return nil
	}, zap.String("child_id", childID))
	return out, err
}

// CaseloadFor returns the children a staff member actively carries.
func (s *Service) CaseloadFor(ctx context.Context, staffID string) ([]domain.Child, error) {
	var out []domain.Child
	err := s.read(ctx, "caseload", func(v domain.TransactionView) error {
		if _, found := v.FindUser(staffID); !found {
			return domain.NotFoundError{Entity: domain.EntityUser, ID: staffID}
		}
		seen := make(map[string]struct{})
		for _, a := range v.AssignmentsForStaff(staffID) {
			if !a.Active() {
				continue
			}
			if _, dup := seen[a.ChildID]; dup {
				continue
			}
			seen[a.ChildID] = struct{}{}
			if c, found := v.FindChild(a.ChildID); found {
				out = append(out, c)
			}
		}
		return nil
	}, zap.String("staff_id", staffID))
	return out, err
}

// AuditTrailFor returns the audit rows of one entity in append order.
func (s *Service) AuditTrailFor(ctx context.Context, entity domain.EntityType, id string) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	err := s.read(ctx, "audit_trail", func(v domain.TransactionView) error {
		out = v.AuditEntriesFor(entity, id)
		return nil
	}, zap.String("entity", string(entity)), zap.String("entity_id", id))
	return out, err
}

// ProgressionEventsFor returns the child's age progression events by date.
func (s *Service) ProgressionEventsFor(ctx context.Context, childID string) ([]domain.AgeProgressionEvent, error) {
	var out []domain.AgeProgressionEvent
	err := s.read(ctx, "progression_events", func(v domain.TransactionView) error {
		out = v.ProgressionEventsFor(childID)
		return nil
	}, zap.String("child_id", childID))
	return out, err
}
