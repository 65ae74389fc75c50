package domain

import (
	"testing"
	"time"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "visit_review", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "child_state_guard", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	warnings := result.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != "visit_review" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestActorLabels(t *testing.T) {
	if SystemActor().Label() != SystemLabel || SystemActor().Ref() != nil {
		t.Fatalf("system actor must be labelled %q with no reference", SystemLabel)
	}
	actor := ActorFromUser(User{Base: Base{ID: "u1"}, Username: "sam"})
	if actor.Label() != "sam" || *actor.Ref() != "u1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if (Actor{ID: "u2"}).Label() != "u2" {
		t.Fatalf("expected id fallback")
	}
}

func TestDateHelpers(t *testing.T) {
	a := day(2024, 5, 14).Add(23 * time.Hour)
	if !SameDate(a, day(2024, 5, 14)) {
		t.Fatalf("expected same date")
	}
	if SameDate(a, day(2024, 5, 15)) {
		t.Fatalf("expected different dates")
	}
}

func TestVisitDuration(t *testing.T) {
	v := Visit{StartTime: "08:15", EndTime: "15:45"}
	d, err := v.Duration()
	if err != nil || d < ReviewThreshold {
		t.Fatalf("expected 7h30m, got %s (%v)", d, err)
	}
	if v.DurationLabel() != "7h 30m" {
		t.Fatalf("unexpected label %q", v.DurationLabel())
	}
	if _, err := (Visit{StartTime: "9am", EndTime: "10:00"}).Duration(); err == nil {
		t.Fatalf("expected parse failure")
	}
	if (Visit{StartTime: "10:00", EndTime: "10:00"}).DurationLabel() != "N/A" {
		t.Fatalf("expected N/A for empty interval")
	}
}
