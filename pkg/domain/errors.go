package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyUnassigned  = errors.New("assignment already unassigned")
	ErrAlreadyDischarged  = errors.New("child already discharged")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state")
)

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness conflict, such as a second active primary
// assignment for the same child or a second progression event on one day.
type ConflictError struct {
	Entity     EntityType
	ChildID    string
	ExistingID string
}

func (e ConflictError) Error() string {
	if e.Entity == EntityAgeProgression {
		return fmt.Sprintf("child %q already has progression event %q on that date", e.ChildID, e.ExistingID)
	}
	return fmt.Sprintf("child %q already has active primary assignment %q", e.ChildID, e.ExistingID)
}

// Is matches ErrConflict.
func (e ConflictError) Is(target error) bool { return target == ErrConflict }

// AlreadyUnassignedError reports an attempt to close a closed assignment.
type AlreadyUnassignedError struct {
	AssignmentID string
}

func (e AlreadyUnassignedError) Error() string {
	return fmt.Sprintf("assignment %q already unassigned", e.AssignmentID)
}

// Is matches ErrAlreadyUnassigned.
func (e AlreadyUnassignedError) Is(target error) bool { return target == ErrAlreadyUnassigned }

// AlreadyDischargedError reports a second discharge of the same child.
type AlreadyDischargedError struct {
	ChildID string
}

func (e AlreadyDischargedError) Error() string {
	return fmt.Sprintf("child %q already discharged", e.ChildID)
}

// Is matches ErrAlreadyDischarged.
func (e AlreadyDischargedError) Is(target error) bool { return target == ErrAlreadyDischarged }

// InvariantViolationError is returned when blocking violations are present.
type InvariantViolationError struct {
	Result Result
}

func (e InvariantViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by invariant checks"
	}
	return "transaction blocked by invariant checks: " + strings.Join(msgs, "; ")
}

// Is matches ErrInvariantViolation.
func (e InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

// ForbiddenError reports a negative authorization decision.
type ForbiddenError struct {
	Operation string
	ActorID   string
}

func (e ForbiddenError) Error() string {
	actor := e.ActorID
	if actor == "" {
		actor = SystemLabel
	}
	return fmt.Sprintf("actor %q may not %s", actor, e.Operation)
}

// Is matches ErrForbidden.
func (e ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// ValidationError reports invalid input data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError reports an operation that is not legal in the entity's current state.
type InvalidStateError struct {
	Entity EntityType
	ID     string
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.ID, e.Reason)
}

// Is matches ErrInvalidState.
func (e InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
