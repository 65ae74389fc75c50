package memory

import (
	"casecore/pkg/domain"
	"sort"
	"time"
)

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// listSorted returns the bucket values ordered by creation time, then id.
func listSorted[T any](bucket map[string]T, clone func(T) T, key func(T) (time.Time, string), keep func(T) bool) []T {
	out := make([]T, 0, len(bucket))
	for _, v := range bucket {
		if keep == nil || keep(v) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, idi := key(out[i])
		tj, idj := key(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
	return out
}

func find[T any](bucket map[string]T, clone func(T) T, id string) (T, bool) {
	v, ok := bucket[id]
	if !ok {
		var zero T
		return zero, false
	}
	return clone(v), true
}

func childKey(c domain.Child) (time.Time, string)   { return c.CreatedAt, c.ID }
func centreKey(c domain.Centre) (time.Time, string) { return c.CreatedAt, c.ID }
func userKey(u domain.User) (time.Time, string)     { return u.CreatedAt, u.ID }
func visitKey(v domain.Visit) (time.Time, string)   { return v.CreatedAt, v.ID }
func noteKey(n domain.CaseNote) (time.Time, string) { return n.CreatedAt, n.ID }

func assignmentKey(a domain.CaseloadAssignment) (time.Time, string) { return a.AssignedAt, a.ID }

func progressionKey(e domain.AgeProgressionEvent) (time.Time, string) {
	return e.TransitionDate, e.ID
}

// FindChild returns a child by id.
func (v transactionView) FindChild(id string) (domain.Child, bool) {
	return find(v.state.children, cloneChild, id)
}

// ListChildren returns all children.
func (v transactionView) ListChildren() []domain.Child {
	return listSorted(v.state.children, cloneChild, childKey, nil)
}

// FindCentre returns a centre by id.
func (v transactionView) FindCentre(id string) (domain.Centre, bool) {
	return find(v.state.centres, cloneCentre, id)
}

// ListCentres returns all centres.
func (v transactionView) ListCentres() []domain.Centre {
	return listSorted(v.state.centres, cloneCentre, centreKey, nil)
}

// FindUser returns a user by id.
func (v transactionView) FindUser(id string) (domain.User, bool) {
	return find(v.state.users, cloneUser, id)
}

// ListUsers returns all users.
func (v transactionView) ListUsers() []domain.User {
	return listSorted(v.state.users, cloneUser, userKey, nil)
}

// FindVisit returns a visit by id.
func (v transactionView) FindVisit(id string) (domain.Visit, bool) {
	return find(v.state.visits, cloneVisit, id)
}

// ListVisits returns all visits.
func (v transactionView) ListVisits() []domain.Visit {
	return listSorted(v.state.visits, cloneVisit, visitKey, nil)
}

// FindAssignment returns an assignment by id.
func (v transactionView) FindAssignment(id string) (domain.CaseloadAssignment, bool) {
	return find(v.state.assignments, cloneAssignment, id)
}

// ListAssignments returns every ledger row ordered by assignment time.
func (v transactionView) ListAssignments() []domain.CaseloadAssignment {
	return listSorted(v.state.assignments, cloneAssignment, assignmentKey, nil)
}

// AssignmentsForChild returns the ledger rows of a child, open and closed.
func (v transactionView) AssignmentsForChild(childID string) []domain.CaseloadAssignment {
	return listSorted(v.state.assignments, cloneAssignment, assignmentKey, func(a domain.CaseloadAssignment) bool {
		return a.ChildID == childID
	})
}

// AssignmentsForStaff returns the ledger rows of a staff member, open and closed.
func (v transactionView) AssignmentsForStaff(staffID string) []domain.CaseloadAssignment {
	return listSorted(v.state.assignments, cloneAssignment, assignmentKey, func(a domain.CaseloadAssignment) bool {
		return a.StaffID == staffID
	})
}

// FindCaseNote returns a case note by id, including soft-deleted notes.
func (v transactionView) FindCaseNote(id string) (domain.CaseNote, bool) {
	return find(v.state.notes, cloneNote, id)
}

// CaseNotesForChild returns the child's notes that have not been deleted.
func (v transactionView) CaseNotesForChild(childID string) []domain.CaseNote {
	return listSorted(v.state.notes, cloneNote, noteKey, func(n domain.CaseNote) bool {
		return n.ChildID == childID && !n.IsDeleted
	})
}

// ListAuditEntries returns the audit log in append order.
func (v transactionView) ListAuditEntries() []domain.AuditLogEntry {
	out := make([]domain.AuditLogEntry, len(v.state.audit))
	for i, e := range v.state.audit {
		out[i] = cloneAuditEntry(e)
	}
	return out
}

// AuditEntriesFor returns the audit rows of one entity in append order.
func (v transactionView) AuditEntriesFor(entity domain.EntityType, id string) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	for _, e := range v.state.audit {
		if e.EntityType == entity && e.EntityID == id {
			out = append(out, cloneAuditEntry(e))
		}
	}
	return out
}

// ProgressionEventsFor returns the child's events ordered by transition date.
func (v transactionView) ProgressionEventsFor(childID string) []domain.AgeProgressionEvent {
	return listSorted(v.state.progressions, cloneProgression, progressionKey, func(e domain.AgeProgressionEvent) bool {
		return e.ChildID == childID
	})
}

// ListProgressionEvents returns every event ordered by transition date.
func (v transactionView) ListProgressionEvents() []domain.AgeProgressionEvent {
	return listSorted(v.state.progressions, cloneProgression, progressionKey, nil)
}
