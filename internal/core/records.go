package core

import (
	"context"

	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// CreateCentre persists a new centre.
func (s *Service) CreateCentre(ctx context.Context, actor domain.Actor, centre domain.Centre) (domain.Centre, domain.Result, error) {
	var created domain.Centre
	res, err := s.write(ctx, "create_centre", actor, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateCentre(centre)
		return err
	})
	return created, res, err
}

// UpdateCentre mutates a centre.
func (s *Service) UpdateCentre(ctx context.Context, actor domain.Actor, id string, mutator func(*domain.Centre) error) (domain.Centre, domain.Result, error) {
	var updated domain.Centre
	res, err := s.write(ctx, "update_centre", actor, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateCentre(id, mutator)
		return err
	}, zap.String("centre_id", id))
	return updated, res, err
}

// DeleteCentre removes a centre no child or visit references.
func (s *Service) DeleteCentre(ctx context.Context, actor domain.Actor, id string) (domain.Result, error) {
	return s.write(ctx, "delete_centre", actor, func(tx domain.Transaction) error {
		return tx.DeleteCentre(id)
	}, zap.String("centre_id", id))
}

// CreateUser persists a staff account.
func (s *Service) CreateUser(ctx context.Context, actor domain.Actor, user domain.User) (domain.User, domain.Result, error) {
	var created domain.User
	res, err := s.write(ctx, "create_user", actor, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateUser(user)
		return err
	})
	return created, res, err
}

// UpdateUser mutates a staff account.
func (s *Service) UpdateUser(ctx context.Context, actor domain.Actor, id string, mutator func(*domain.User) error) (domain.User, domain.Result, error) {
	var updated domain.User
	res, err := s.write(ctx, "update_user", actor, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateUser(id, mutator)
		return err
	}, zap.String("user_id", id))
	return updated, res, err
}

// CreateVisit records a visit. The centre defaults to the child's current
// centre and visits of seven hours or more are flagged for review.
func (s *Service) CreateVisit(ctx context.Context, actor domain.Actor, visit domain.Visit) (domain.Visit, domain.Result, error) {
	var created domain.Visit
	res, err := s.write(ctx, "create_visit", actor, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateVisit(visit)
		return err
	}, zap.String("child_id", visit.ChildID), zap.String("staff_id", visit.StaffID))
	return created, res, err
}

// UpdateVisit mutates a visit. The centre snapshot taken at creation is kept.
func (s *Service) UpdateVisit(ctx context.Context, actor domain.Actor, id string, mutator func(*domain.Visit) error) (domain.Visit, domain.Result, error) {
	var updated domain.Visit
	res, err := s.write(ctx, "update_visit", actor, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateVisit(id, func(v *domain.Visit) error {
			centre := v.CentreID
			if err := mutator(v); err != nil {
				return err
			}
			v.CentreID = centre
			v.VisitDate = domain.DateOf(v.VisitDate)
			return nil
		})
		return err
	}, zap.String("visit_id", id))
	return updated, res, err
}

// DeleteVisit removes a visit record.
func (s *Service) DeleteVisit(ctx context.Context, actor domain.Actor, id string) (domain.Result, error) {
	const op = "delete_visit"
	return s.run(ctx, op, actor, func(ctx context.Context) (domain.Result, error) {
		if err := s.requireSupervisor(ctx, op, actor); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
			return tx.DeleteVisit(id)
		})
	}, zap.String("visit_id", id))
}

// CreateCaseNote adds a case note authored by actor unless an author is set.
func (s *Service) CreateCaseNote(ctx context.Context, actor domain.Actor, note domain.CaseNote) (domain.CaseNote, domain.Result, error) {
	var created domain.CaseNote
	res, err := s.write(ctx, "create_case_note", actor, func(tx domain.Transaction) error {
		if _, err := tx.LockChild(note.ChildID); err != nil {
			return err
		}
		note.IsDeleted, note.DeletedAt, note.DeletedBy = false, nil, nil
		var err error
		created, err = tx.CreateCaseNote(note)
		return err
	}, zap.String("child_id", note.ChildID))
	return created, res, err
}

// UpdateCaseNote edits the content of a live note.
func (s *Service) UpdateCaseNote(ctx context.Context, actor domain.Actor, id, content string) (domain.CaseNote, domain.Result, error) {
	var updated domain.CaseNote
	res, err := s.write(ctx, "update_case_note", actor, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateCaseNote(id, func(n *domain.CaseNote) error {
			if n.IsDeleted {
				return domain.InvalidStateError{Entity: domain.EntityCaseNote, ID: id, Reason: "note is deleted"}
			}
			n.Content = content
			return nil
		})
		return err
	}, zap.String("note_id", id))
	return updated, res, err
}

// DeleteCaseNote soft-deletes a note. Deleting it again fails with InvalidStateError.
func (s *Service) DeleteCaseNote(ctx context.Context, actor domain.Actor, id string) (domain.CaseNote, domain.Result, error) {
	var deleted domain.CaseNote
	res, err := s.write(ctx, "delete_case_note", actor, func(tx domain.Transaction) error {
		var err error
		deleted, err = tx.UpdateCaseNote(id, func(n *domain.CaseNote) error {
			if n.IsDeleted {
				return domain.InvalidStateError{Entity: domain.EntityCaseNote, ID: id, Reason: "note already deleted"}
			}
			at := tx.Now()
			n.IsDeleted = true
			n.DeletedAt = &at
			n.DeletedBy = actor.Ref()
			return nil
		})
		return err
	}, zap.String("note_id", id))
	return deleted, res, err
}

// CaseNotesFor lists the live notes of a child.
func (s *Service) CaseNotesFor(ctx context.Context, childID string) ([]domain.CaseNote, error) {
	var out []domain.CaseNote
	err := s.read(ctx, "case_notes", func(v domain.TransactionView) error {
		for _, n := range v.CaseNotesForChild(childID) {
			if !n.IsDeleted {
				out = append(out, n)
			}
		}
		return nil
	}, zap.String("child_id", childID))
	return out, err
}
