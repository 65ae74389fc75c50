package memory

import (
	"casecore/pkg/domain"
	"fmt"
	"strings"
)

// bucketSpec describes how one entity type is stored.
type bucketSpec[T any] struct {
	entity domain.EntityType
	base   func(*T) *domain.Base
	clone  func(T) T
	check  func(*transaction, T) error
}

var (
	childSpec = bucketSpec[domain.Child]{
		entity: domain.EntityChild,
		base:   func(c *domain.Child) *domain.Base { return &c.Base },
		clone:  cloneChild,
		check:  checkChild,
	}
	centreSpec = bucketSpec[domain.Centre]{
		entity: domain.EntityCentre,
		base:   func(c *domain.Centre) *domain.Base { return &c.Base },
		clone:  cloneCentre,
		check:  checkCentre,
	}
	userSpec = bucketSpec[domain.User]{
		entity: domain.EntityUser,
		base:   func(u *domain.User) *domain.Base { return &u.Base },
		clone:  cloneUser,
		check:  checkUser,
	}
	visitSpec = bucketSpec[domain.Visit]{
		entity: domain.EntityVisit,
		base:   func(v *domain.Visit) *domain.Base { return &v.Base },
		clone:  cloneVisit,
		check:  checkVisit,
	}
	assignmentSpec = bucketSpec[domain.CaseloadAssignment]{
		entity: domain.EntityAssignment,
		base:   func(a *domain.CaseloadAssignment) *domain.Base { return &a.Base },
		clone:  cloneAssignment,
		check:  checkAssignment,
	}
	noteSpec = bucketSpec[domain.CaseNote]{
		entity: domain.EntityCaseNote,
		base:   func(n *domain.CaseNote) *domain.Base { return &n.Base },
		clone:  cloneNote,
		check:  checkNote,
	}
)

func insert[T any](tx *transaction, spec bucketSpec[T], bucket map[string]T, value T) (T, error) {
	var zero T
	base := spec.base(&value)
	if base.ID == "" {
		base.ID = tx.store.newID()
	}
	if _, exists := bucket[base.ID]; exists {
		return zero, fmt.Errorf("%s %q already exists", spec.entity, base.ID)
	}
	base.CreatedAt = tx.now
	base.UpdatedAt = tx.now
	if err := tx.before(domain.ActionCreate, &value); err != nil {
		return zero, err
	}
	if err := spec.check(tx, value); err != nil {
		return zero, err
	}
	bucket[base.ID] = spec.clone(value)
	tx.recordChange(domain.Change{Entity: spec.entity, Action: domain.ActionCreate, After: spec.clone(value)})
	return spec.clone(value), nil
}

func modify[T any](tx *transaction, spec bucketSpec[T], bucket map[string]T, id string, mutator func(*T) error) (T, error) {
	var zero T
	current, ok := bucket[id]
	if !ok {
		return zero, domain.NotFoundError{Entity: spec.entity, ID: id}
	}
	before := spec.clone(current)
	current = spec.clone(current)
	if err := mutator(&current); err != nil {
		return zero, err
	}
	base := spec.base(&current)
	base.ID = id
	base.CreatedAt = spec.base(&before).CreatedAt
	base.UpdatedAt = tx.now
	if err := tx.before(domain.ActionUpdate, &current); err != nil {
		return zero, err
	}
	if err := spec.check(tx, current); err != nil {
		return zero, err
	}
	bucket[id] = spec.clone(current)
	tx.recordChange(domain.Change{Entity: spec.entity, Action: domain.ActionUpdate, Before: before, After: spec.clone(current)})
	return spec.clone(current), nil
}

func remove[T any](tx *transaction, spec bucketSpec[T], bucket map[string]T, id string) error {
	current, ok := bucket[id]
	if !ok {
		return domain.NotFoundError{Entity: spec.entity, ID: id}
	}
	snapshot := spec.clone(current)
	if err := tx.before(domain.ActionDelete, &snapshot); err != nil {
		return err
	}
	delete(bucket, id)
	tx.recordChange(domain.Change{Entity: spec.entity, Action: domain.ActionDelete, Before: spec.clone(current)})
	return nil
}

// CreateChild stores a new child, defaulting it to active and awaiting assignment.
func (tx *transaction) CreateChild(c domain.Child) (domain.Child, error) {
	if c.OverallStatus == "" {
		c.OverallStatus = domain.StatusActive
	}
	if c.CaseloadStatus == "" {
		c.CaseloadStatus = domain.CaseloadAwaitingAssignment
	}
	if c.Address.Province == "" {
		c.Address.Province = domain.DefaultProvince
	}
	if c.StartDate.IsZero() {
		c.StartDate = domain.DateOf(tx.now)
	}
	return insert(tx, childSpec, tx.state.children, c)
}

// UpdateChild mutates a child using the provided mutator function.
func (tx *transaction) UpdateChild(id string, mutator func(*domain.Child) error) (domain.Child, error) {
	return modify(tx, childSpec, tx.state.children, id, mutator)
}

// CreateCentre stores a new centre.
func (tx *transaction) CreateCentre(c domain.Centre) (domain.Centre, error) {
	if c.Status == "" {
		c.Status = domain.CentreActive
	}
	if c.Address.Province == "" {
		c.Address.Province = domain.DefaultProvince
	}
	return insert(tx, centreSpec, tx.state.centres, c)
}

// UpdateCentre mutates an existing centre.
func (tx *transaction) UpdateCentre(id string, mutator func(*domain.Centre) error) (domain.Centre, error) {
	return modify(tx, centreSpec, tx.state.centres, id, mutator)
}

// DeleteCentre removes a centre that no child or visit references.
func (tx *transaction) DeleteCentre(id string) error {
	for _, c := range tx.state.children {
		if c.CentreID != nil && *c.CentreID == id {
			return domain.InvalidStateError{Entity: domain.EntityCentre, ID: id, Reason: fmt.Sprintf("still referenced by child %q", c.ID)}
		}
	}
	for _, v := range tx.state.visits {
		if v.CentreID != nil && *v.CentreID == id {
			return domain.InvalidStateError{Entity: domain.EntityCentre, ID: id, Reason: fmt.Sprintf("still referenced by visit %q", v.ID)}
		}
	}
	return remove(tx, centreSpec, tx.state.centres, id)
}

// CreateUser stores a new user account.
func (tx *transaction) CreateUser(u domain.User) (domain.User, error) {
	if u.Role == "" {
		u.Role = domain.RoleStaff
	}
	return insert(tx, userSpec, tx.state.users, u)
}

// UpdateUser mutates a user account.
func (tx *transaction) UpdateUser(id string, mutator func(*domain.User) error) (domain.User, error) {
	return modify(tx, userSpec, tx.state.users, id, mutator)
}

// CreateVisit stores a new visit.
func (tx *transaction) CreateVisit(v domain.Visit) (domain.Visit, error) {
	v.VisitDate = domain.DateOf(v.VisitDate)
	return insert(tx, visitSpec, tx.state.visits, v)
}

// UpdateVisit mutates a visit.
func (tx *transaction) UpdateVisit(id string, mutator func(*domain.Visit) error) (domain.Visit, error) {
	return modify(tx, visitSpec, tx.state.visits, id, mutator)
}

// DeleteVisit removes a visit.
func (tx *transaction) DeleteVisit(id string) error {
	return remove(tx, visitSpec, tx.state.visits, id)
}

// CreateAssignment stores a new ledger row.
func (tx *transaction) CreateAssignment(a domain.CaseloadAssignment) (domain.CaseloadAssignment, error) {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = tx.now
	}
	return insert(tx, assignmentSpec, tx.state.assignments, a)
}

// UpdateAssignment mutates a ledger row.
func (tx *transaction) UpdateAssignment(id string, mutator func(*domain.CaseloadAssignment) error) (domain.CaseloadAssignment, error) {
	return modify(tx, assignmentSpec, tx.state.assignments, id, mutator)
}

// DeleteAssignment hard-deletes a ledger row.
func (tx *transaction) DeleteAssignment(id string) error {
	return remove(tx, assignmentSpec, tx.state.assignments, id)
}

// CreateCaseNote stores a new case note.
func (tx *transaction) CreateCaseNote(n domain.CaseNote) (domain.CaseNote, error) {
	return insert(tx, noteSpec, tx.state.notes, n)
}

// UpdateCaseNote mutates a case note.
func (tx *transaction) UpdateCaseNote(id string, mutator func(*domain.CaseNote) error) (domain.CaseNote, error) {
	return modify(tx, noteSpec, tx.state.notes, id, mutator)
}

// AppendAuditEntry appends an immutable audit row.
func (tx *transaction) AppendAuditEntry(e domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if e.EntityType == "" || e.Action == "" {
		return domain.AuditLogEntry{}, domain.ValidationError{Field: "audit_entry", Reason: "entity type and action are required"}
	}
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = tx.now
	}
	tx.state.audit = append(tx.state.audit, cloneAuditEntry(e))
	return cloneAuditEntry(e), nil
}

// CreateProgressionEvent stores an age progression event, unique per child and date.
func (tx *transaction) CreateProgressionEvent(e domain.AgeProgressionEvent) (domain.AgeProgressionEvent, error) {
	if _, ok := tx.state.children[e.ChildID]; !ok {
		return domain.AgeProgressionEvent{}, domain.NotFoundError{Entity: domain.EntityChild, ID: e.ChildID}
	}
	if !e.NewCategory.OlderThan(e.PreviousCategory) {
		return domain.AgeProgressionEvent{}, domain.ValidationError{
			Field:  "new_category",
			Reason: fmt.Sprintf("%s is not older than %s", e.NewCategory, e.PreviousCategory),
		}
	}
	e.TransitionDate = domain.DateOf(e.TransitionDate)
	for _, existing := range tx.state.progressions {
		if existing.ChildID == e.ChildID && existing.TransitionDate.Equal(e.TransitionDate) {
			return domain.AgeProgressionEvent{}, domain.ConflictError{Entity: domain.EntityAgeProgression, ChildID: e.ChildID, ExistingID: existing.ID}
		}
	}
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = tx.now
	}
	tx.state.progressions[e.ID] = e
	tx.recordChange(domain.Change{Entity: domain.EntityAgeProgression, Action: domain.ActionCreate, After: e})
	return e, nil
}

func checkChild(tx *transaction, c domain.Child) error {
	if strings.TrimSpace(c.FirstName) == "" || strings.TrimSpace(c.LastName) == "" {
		return domain.ValidationError{Field: "name", Reason: "first and last name are required"}
	}
	if c.CentreID != nil {
		if _, ok := tx.state.centres[*c.CentreID]; !ok {
			return domain.NotFoundError{Entity: domain.EntityCentre, ID: *c.CentreID}
		}
	}
	return nil
}

func checkCentre(_ *transaction, c domain.Centre) error {
	if strings.TrimSpace(c.Name) == "" {
		return domain.ValidationError{Field: "name", Reason: "centre name is required"}
	}
	return nil
}

func checkUser(tx *transaction, u domain.User) error {
	if strings.TrimSpace(u.Username) == "" {
		return domain.ValidationError{Field: "username", Reason: "username is required"}
	}
	for _, other := range tx.state.users {
		if other.ID != u.ID && strings.EqualFold(other.Username, u.Username) {
			return domain.ValidationError{Field: "username", Reason: fmt.Sprintf("username %q is taken", u.Username)}
		}
	}
	return nil
}

func checkVisit(tx *transaction, v domain.Visit) error {
	if _, ok := tx.state.children[v.ChildID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityChild, ID: v.ChildID}
	}
	if _, ok := tx.state.users[v.StaffID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: v.StaffID}
	}
	if v.CentreID != nil {
		if _, ok := tx.state.centres[*v.CentreID]; !ok {
			return domain.NotFoundError{Entity: domain.EntityCentre, ID: *v.CentreID}
		}
	}
	if _, err := v.Duration(); err != nil {
		return err
	}
	return nil
}

// checkAssignment enforces at most one active primary assignment per child.
func checkAssignment(tx *transaction, a domain.CaseloadAssignment) error {
	if _, ok := tx.state.children[a.ChildID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityChild, ID: a.ChildID}
	}
	staff, ok := tx.state.users[a.StaffID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: a.StaffID}
	}
	if !staff.Role.Assignable() {
		return domain.ValidationError{Field: "staff", Reason: "only staff, supervisors, or admins can be assigned to caseloads"}
	}
	if a.UnassignedAt != nil && a.UnassignedAt.Before(a.AssignedAt) {
		return domain.ValidationError{Field: "unassigned_at", Reason: "cannot precede assigned_at"}
	}
	if !a.IsPrimary || !a.Active() {
		return nil
	}
	for _, other := range tx.state.assignments {
		if other.ID != a.ID && other.ChildID == a.ChildID && other.IsPrimary && other.Active() {
			return domain.ConflictError{Entity: domain.EntityAssignment, ChildID: a.ChildID, ExistingID: other.ID}
		}
	}
	return nil
}

func checkNote(tx *transaction, n domain.CaseNote) error {
	if _, ok := tx.state.children[n.ChildID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityChild, ID: n.ChildID}
	}
	if strings.TrimSpace(n.Content) == "" {
		return domain.ValidationError{Field: "content", Reason: "note content is required"}
	}
	return nil
}
