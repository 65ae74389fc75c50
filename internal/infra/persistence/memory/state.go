package memory

import (
	"casecore/pkg/domain"
	"maps"
	"slices"
	"sort"
)

type memoryState struct {
	children     map[string]domain.Child
	centres      map[string]domain.Centre
	users        map[string]domain.User
	visits       map[string]domain.Visit
	assignments  map[string]domain.CaseloadAssignment
	notes        map[string]domain.CaseNote
	progressions map[string]domain.AgeProgressionEvent
	audit        []domain.AuditLogEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Children     map[string]domain.Child               `json:"children"`
	Centres      map[string]domain.Centre              `json:"centres"`
	Users        map[string]domain.User                `json:"users"`
	Visits       map[string]domain.Visit               `json:"visits"`
	Assignments  map[string]domain.CaseloadAssignment  `json:"assignments"`
	CaseNotes    map[string]domain.CaseNote            `json:"case_notes"`
	Progressions map[string]domain.AgeProgressionEvent `json:"progressions"`
	AuditLog     []domain.AuditLogEntry                `json:"audit_log"`
}

func newMemoryState() memoryState {
	return memoryState{
		children:     make(map[string]domain.Child),
		centres:      make(map[string]domain.Centre),
		users:        make(map[string]domain.User),
		visits:       make(map[string]domain.Visit),
		assignments:  make(map[string]domain.CaseloadAssignment),
		notes:        make(map[string]domain.CaseNote),
		progressions: make(map[string]domain.AgeProgressionEvent),
	}
}

// clone copies every bucket. The audit log is append-only, so the clone shares
// the committed prefix and appends into a fresh backing array.
func (s memoryState) clone() memoryState {
	return memoryState{
		children:     cloneBucket(s.children, cloneChild),
		centres:      cloneBucket(s.centres, cloneCentre),
		users:        cloneBucket(s.users, cloneUser),
		visits:       cloneBucket(s.visits, cloneVisit),
		assignments:  cloneBucket(s.assignments, cloneAssignment),
		notes:        cloneBucket(s.notes, cloneNote),
		progressions: cloneBucket(s.progressions, cloneProgression),
		audit:        slices.Clip(s.audit),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	audit := make([]domain.AuditLogEntry, len(state.audit))
	for i, e := range state.audit {
		audit[i] = cloneAuditEntry(e)
	}
	return Snapshot{
		Children:     cloneBucket(state.children, cloneChild),
		Centres:      cloneBucket(state.centres, cloneCentre),
		Users:        cloneBucket(state.users, cloneUser),
		Visits:       cloneBucket(state.visits, cloneVisit),
		Assignments:  cloneBucket(state.assignments, cloneAssignment),
		CaseNotes:    cloneBucket(state.notes, cloneNote),
		Progressions: cloneBucket(state.progressions, cloneProgression),
		AuditLog:     audit,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		children:     cloneBucket(s.Children, cloneChild),
		centres:      cloneBucket(s.Centres, cloneCentre),
		users:        cloneBucket(s.Users, cloneUser),
		visits:       cloneBucket(s.Visits, cloneVisit),
		assignments:  cloneBucket(s.Assignments, cloneAssignment),
		notes:        cloneBucket(s.CaseNotes, cloneNote),
		progressions: cloneBucket(s.Progressions, cloneProgression),
	}
	for _, e := range s.AuditLog {
		state.audit = append(state.audit, cloneAuditEntry(e))
	}
	sort.SliceStable(state.audit, func(i, j int) bool {
		return state.audit[i].Timestamp.Before(state.audit[j].Timestamp)
	})
	return state
}

func cloneBucket[T any](in map[string]T, clone func(T) T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneChild(c domain.Child) domain.Child {
	cp := c
	cp.DateOfBirth = clonePtr(c.DateOfBirth)
	cp.CentreID = clonePtr(c.CentreID)
	cp.EndDate = clonePtr(c.EndDate)
	cp.CreatedBy = clonePtr(c.CreatedBy)
	cp.UpdatedBy = clonePtr(c.UpdatedBy)
	return cp
}

func cloneCentre(c domain.Centre) domain.Centre { return c }
func cloneUser(u domain.User) domain.User       { return u }

func cloneVisit(v domain.Visit) domain.Visit {
	cp := v
	cp.CentreID = clonePtr(v.CentreID)
	return cp
}

func cloneAssignment(a domain.CaseloadAssignment) domain.CaseloadAssignment {
	cp := a
	cp.UnassignedAt = clonePtr(a.UnassignedAt)
	cp.AssignedBy = clonePtr(a.AssignedBy)
	return cp
}

func cloneNote(n domain.CaseNote) domain.CaseNote {
	cp := n
	cp.AuthorID = clonePtr(n.AuthorID)
	cp.DeletedAt = clonePtr(n.DeletedAt)
	cp.DeletedBy = clonePtr(n.DeletedBy)
	return cp
}

func cloneProgression(e domain.AgeProgressionEvent) domain.AgeProgressionEvent { return e }

func cloneAuditEntry(e domain.AuditLogEntry) domain.AuditLogEntry {
	cp := e
	cp.ActorID = clonePtr(e.ActorID)
	cp.OldValue = clonePtr(e.OldValue)
	cp.NewValue = clonePtr(e.NewValue)
	if e.Metadata != nil {
		cp.Metadata = maps.Clone(e.Metadata)
	}
	return cp
}
