package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NotFoundError{Entity: EntityChild, ID: "c1"}, ErrNotFound},
		{ConflictError{Entity: EntityAssignment, ChildID: "c1", ExistingID: "a1"}, ErrConflict},
		{AlreadyUnassignedError{AssignmentID: "a1"}, ErrAlreadyUnassigned},
		{AlreadyDischargedError{ChildID: "c1"}, ErrAlreadyDischarged},
		{InvariantViolationError{}, ErrInvariantViolation},
		{ForbiddenError{Operation: "discharge_child"}, ErrForbidden},
		{ValidationError{Field: "name", Reason: "required"}, ErrValidation},
		{InvalidStateError{Entity: EntityCaseNote, ID: "n1", Reason: "deleted"}, ErrInvalidState},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Errorf("%T does not match %v", tc.err, tc.sentinel)
		}
		if errors.Is(wrapped, ErrAlreadyUnassigned) && tc.sentinel != ErrAlreadyUnassigned {
			t.Errorf("%T matches an unrelated sentinel", tc.err)
		}
		if tc.err.Error() == "" {
			t.Errorf("%T has an empty message", tc.err)
		}
	}
}

func TestInvariantViolationMessageListsBlockingOnly(t *testing.T) {
	err := InvariantViolationError{Result: Result{Violations: []Violation{
		{Severity: SeverityWarn, Message: "long visit"},
		{Severity: SeverityBlock, Message: "discharged child cannot hold caseload"},
	}}}
	msg := err.Error()
	if !strings.Contains(msg, "discharged child cannot hold caseload") || strings.Contains(msg, "long visit") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestForbiddenErrorNamesSystemActor(t *testing.T) {
	if msg := (ForbiddenError{Operation: "bulk_reassign"}).Error(); !strings.Contains(msg, SystemLabel) {
		t.Fatalf("expected system label in %q", msg)
	}
}
