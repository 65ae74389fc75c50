package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to snapshot data for listeners,
// queries and exports.
type TransactionView interface {
	FindChild(id string) (Child, bool)
	ListChildren() []Child
	FindCentre(id string) (Centre, bool)
	ListCentres() []Centre
	FindUser(id string) (User, bool)
	ListUsers() []User
	FindVisit(id string) (Visit, bool)
	ListVisits() []Visit
	FindAssignment(id string) (CaseloadAssignment, bool)
	ListAssignments() []CaseloadAssignment
	AssignmentsForChild(childID string) []CaseloadAssignment
	AssignmentsForStaff(staffID string) []CaseloadAssignment
	FindCaseNote(id string) (CaseNote, bool)
	CaseNotesForChild(childID string) []CaseNote
	ListAuditEntries() []AuditLogEntry
	AuditEntriesFor(entity EntityType, id string) []AuditLogEntry
	ProgressionEventsFor(childID string) []AgeProgressionEvent
	ListProgressionEvents() []AgeProgressionEvent
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Create and Update run the registered
// before-persist listeners; every mutation is queued for the after-persist
// listeners, which run before commit in the same scope.
type Transaction interface {
	TransactionView
	// Actor returns the actor the unit of work is attributed to.
	Actor() Actor
	// Now returns the transaction timestamp.
	Now() time.Time
	// BeginBulk tags subsequently recorded changes with the bulk operation
	// name. The scope ends when the transaction function returns.
	BeginBulk(operation string)
	// LockChild serialises the unit of work against concurrent writers of the
	// child and its assignment set.
	LockChild(id string) (Child, error)

	CreateChild(Child) (Child, error)
	UpdateChild(id string, mutator func(*Child) error) (Child, error)
	CreateCentre(Centre) (Centre, error)
	UpdateCentre(id string, mutator func(*Centre) error) (Centre, error)
	DeleteCentre(id string) error
	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	CreateVisit(Visit) (Visit, error)
	UpdateVisit(id string, mutator func(*Visit) error) (Visit, error)
	DeleteVisit(id string) error
	CreateAssignment(CaseloadAssignment) (CaseloadAssignment, error)
	UpdateAssignment(id string, mutator func(*CaseloadAssignment) error) (CaseloadAssignment, error)
	DeleteAssignment(id string) error
	CreateCaseNote(CaseNote) (CaseNote, error)
	UpdateCaseNote(id string, mutator func(*CaseNote) error) (CaseNote, error)

	// AppendAuditEntry writes an immutable audit row.
	AppendAuditEntry(AuditLogEntry) (AuditLogEntry, error)
	// CreateProgressionEvent writes an immutable progression event; a second
	// event for the same child and date fails with ConflictError.
	CreateProgressionEvent(AgeProgressionEvent) (AgeProgressionEvent, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, actor Actor, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
