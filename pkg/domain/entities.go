// Package domain defines the core persistent entities, value types, and
// lifecycle primitives used by casecore.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityChild identifies a service recipient record.
	EntityChild EntityType = "child"
	// EntityCentre identifies a service centre record.
	EntityCentre EntityType = "centre"
	// EntityUser identifies a staff account record.
	EntityUser EntityType = "user"
	// EntityVisit identifies a visit record.
	EntityVisit EntityType = "visit"
	// EntityAssignment identifies a caseload assignment interval.
	EntityAssignment EntityType = "caseload_assignment"
	// EntityCaseNote identifies a case note.
	EntityCaseNote EntityType = "case_note"
	// EntityAgeProgression identifies an age progression event.
	EntityAgeProgression EntityType = "age_progression_event"
	// EntityAuditLog identifies an audit log entry.
	EntityAuditLog EntityType = "audit_log"
)

// OverallStatus is the coarse lifecycle of a child.
type OverallStatus string

// Overall child statuses.
const (
	StatusActive     OverallStatus = "active"
	StatusDischarged OverallStatus = "discharged"
)

// CaseloadStatus is derived from the assignment ledger and the discharge workflow.
type CaseloadStatus string

// Caseload statuses. AwaitingAssignment is the initial state of an active child.
const (
	CaseloadAssigned           CaseloadStatus = "caseload"
	CaseloadNonCaseload        CaseloadStatus = "non_caseload"
	CaseloadAwaitingAssignment CaseloadStatus = "awaiting_assignment"
)

// CentreStatus enumerates centre availability.
type CentreStatus string

// Centre statuses.
const (
	CentreActive   CentreStatus = "active"
	CentreInactive CentreStatus = "inactive"
)

// Role captures the organisational role of a user.
type Role string

// Known user roles.
const (
	RoleStaff      Role = "staff"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleAuditor    Role = "auditor"
)

// Assignable reports whether users holding the role may carry a caseload.
func (r Role) Assignable() bool {
	switch r {
	case RoleStaff, RoleSupervisor, RoleAdmin:
		return true
	default:
		return false
	}
}

// DefaultProvince is applied to centres and children without an explicit province.
const DefaultProvince = "ON"

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address groups postal address lines.
type Address struct {
	Line1      string `json:"address_line1"`
	Line2      string `json:"address_line2"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
}

// Guardian holds contact details for a child's guardian.
type Guardian struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Child is a service recipient. Caseload status is derived and must only be
// changed through the assignment ledger or the discharge workflow.
type Child struct {
	Base
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	DateOfBirth     *time.Time     `json:"date_of_birth,omitempty"`
	Address         Address        `json:"address"`
	Guardian        Guardian       `json:"guardian"`
	SecondGuardian  Guardian       `json:"second_guardian"`
	CentreID        *string        `json:"centre_id,omitempty"`
	OverallStatus   OverallStatus  `json:"overall_status"`
	CaseloadStatus  CaseloadStatus `json:"caseload_status"`
	OnHold          bool           `json:"on_hold"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         *time.Time     `json:"end_date,omitempty"`
	DischargeReason string         `json:"discharge_reason"`
	Notes           string         `json:"notes"`
	CreatedBy       *string        `json:"created_by,omitempty"`
	UpdatedBy       *string        `json:"updated_by,omitempty"`
}

// FullName returns the display label of the child.
func (c Child) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Centre is a service location.
type Centre struct {
	Base
	Name         string       `json:"name"`
	Address      Address      `json:"address"`
	Phone        string       `json:"phone"`
	ContactName  string       `json:"contact_name"`
	ContactEmail string       `json:"contact_email"`
	Status       CentreStatus `json:"status"`
	Notes        string       `json:"notes"`
}

// User is a staff account. Only staff, supervisors and admins carry caseloads.
type User struct {
	Base
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Role        Role   `json:"role"`
	IsActive    bool   `json:"is_active"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// FullName returns "First Last", falling back to the username.
func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Visit records a staff member's time with a child. CentreID is a snapshot of
// the child's centre at creation time and is never refreshed afterwards.
type Visit struct {
	Base
	ChildID             string    `json:"child_id"`
	StaffID             string    `json:"staff_id"`
	CentreID            *string   `json:"centre_id,omitempty"`
	VisitDate           time.Time `json:"visit_date"`
	StartTime           string    `json:"start_time"`
	EndTime             string    `json:"end_time"`
	VisitType           string    `json:"visit_type"`
	LocationDescription string    `json:"location_description"`
	Notes               string    `json:"notes"`
	FlaggedForReview    bool      `json:"flagged_for_review"`
}

// ReviewThreshold is the visit length at or above which a visit is flagged.
const ReviewThreshold = 7 * time.Hour

// Duration parses the HH:MM start and end times and returns the elapsed time.
// End must be strictly after start.
func (v Visit) Duration() (time.Duration, error) {
	start, err := parseClock(v.StartTime)
	if err != nil {
		return 0, ValidationError{Field: "start_time", Reason: err.Error()}
	}
	end, err := parseClock(v.EndTime)
	if err != nil {
		return 0, ValidationError{Field: "end_time", Reason: err.Error()}
	}
	if end <= start {
		return 0, ValidationError{Field: "end_time", Reason: "end time must be after start time"}
	}
	return end - start, nil
}

// DurationLabel renders the visit length as "Xh Ym", or "N/A" when the times are invalid.
func (v Visit) DurationLabel() string {
	d, err := v.Duration()
	if err != nil {
		return "N/A"
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func parseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// CaseloadAssignment is an interval of responsibility of a staff member for a child.
// A nil UnassignedAt marks the assignment as active.
type CaseloadAssignment struct {
	Base
	ChildID      string     `json:"child_id"`
	StaffID      string     `json:"staff_id"`
	IsPrimary    bool       `json:"is_primary"`
	AssignedAt   time.Time  `json:"assigned_at"`
	UnassignedAt *time.Time `json:"unassigned_at,omitempty"`
	AssignedBy   *string    `json:"assigned_by,omitempty"`
}

// Active reports whether the assignment interval is still open.
func (a CaseloadAssignment) Active() bool {
	return a.UnassignedAt == nil
}

// Kind returns "Primary" or "Secondary".
func (a CaseloadAssignment) Kind() string {
	if a.IsPrimary {
		return "Primary"
	}
	return "Secondary"
}

// CaseNote is free-text case documentation. Notes are soft deleted.
type CaseNote struct {
	Base
	ChildID   string     `json:"child_id"`
	AuthorID  *string    `json:"author_id,omitempty"`
	Content   string     `json:"content"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`
}

// AuditAction enumerates audit log actions.
type AuditAction string

// Audit actions.
const (
	AuditCreated    AuditAction = "created"
	AuditUpdated    AuditAction = "updated"
	AuditDeleted    AuditAction = "deleted"
	AuditBulkUpdate AuditAction = "bulk_update"
)

// AuditLogEntry is an immutable fact about a change. A nil ActorID means the
// change was made by the system.
type AuditLogEntry struct {
	ID         string         `json:"id"`
	ActorID    *string        `json:"actor_id"`
	ActorLabel string         `json:"actor_label"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     AuditAction    `json:"action"`
	FieldName  string         `json:"field_name,omitempty"`
	OldValue   *string        `json:"old_value"`
	NewValue   *string        `json:"new_value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AgeProgressionEvent records an upward age-category transition. At most one
// event exists per (child, transition date).
type AgeProgressionEvent struct {
	ID               string      `json:"id"`
	ChildID          string      `json:"child_id"`
	PreviousCategory AgeCategory `json:"previous_category"`
	NewCategory      AgeCategory `json:"new_category"`
	TransitionDate   time.Time   `json:"transition_date"`
	AgeInMonths      int         `json:"age_in_months"`
	RecordedAt       time.Time   `json:"recorded_at"`
}

// Transition returns a human-readable "previous → new" label.
func (e AgeProgressionEvent) Transition() string {
	return fmt.Sprintf("%s → %s", e.PreviousCategory, e.NewCategory)
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

// Change describes a mutation applied to an entity during a transaction.
// Bulk names the bulk operation the change was recorded under, if any.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
	Bulk   string
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures listener outcomes.
type Severity string

// Severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed check raised while processing a change.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations raised during a unit of work.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}
