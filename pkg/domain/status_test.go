package domain

import "testing"

func TestNextCaseloadStatus(t *testing.T) {
	active := func(s CaseloadStatus) Child { return Child{OverallStatus: StatusActive, CaseloadStatus: s} }
	discharged := Child{OverallStatus: StatusDischarged, CaseloadStatus: CaseloadNonCaseload}

	cases := []struct {
		name   string
		child  Child
		event  CaseloadEvent
		remain int
		want   CaseloadStatus
	}{
		{"first assignment", active(CaseloadAwaitingAssignment), EventAssignmentActivated, 1, CaseloadAssigned},
		{"assignment returns non_caseload child", active(CaseloadNonCaseload), EventAssignmentActivated, 1, CaseloadAssigned},
		{"assignment on discharged child", discharged, EventAssignmentActivated, 1, CaseloadNonCaseload},
		{"last assignment closed", active(CaseloadAssigned), EventAssignmentClosed, 0, CaseloadAwaitingAssignment},
		{"other assignment still open", active(CaseloadAssigned), EventAssignmentClosed, 1, CaseloadAssigned},
		{"closing keeps non_caseload", active(CaseloadNonCaseload), EventAssignmentClosed, 0, CaseloadNonCaseload},
		{"discharge", active(CaseloadAssigned), EventDischarged, 0, CaseloadNonCaseload},
		{"mark non_caseload", active(CaseloadAssigned), EventMarkedNonCaseload, 2, CaseloadNonCaseload},
		{"return with assignments", active(CaseloadNonCaseload), EventReturnedToCaseload, 1, CaseloadAssigned},
		{"return without assignments", active(CaseloadNonCaseload), EventReturnedToCaseload, 0, CaseloadAwaitingAssignment},
		{"return refused for discharged", discharged, EventReturnedToCaseload, 0, CaseloadNonCaseload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextCaseloadStatus(tc.child, tc.event, tc.remain); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCheckChildState(t *testing.T) {
	legal := []Child{
		{OverallStatus: StatusActive, CaseloadStatus: CaseloadAwaitingAssignment},
		{OverallStatus: StatusActive, CaseloadStatus: CaseloadAssigned, OnHold: true},
		{OverallStatus: StatusDischarged, CaseloadStatus: CaseloadNonCaseload},
	}
	for _, c := range legal {
		if msg := CheckChildState(c); msg != "" {
			t.Errorf("expected %s/%s legal, got %q", c.OverallStatus, c.CaseloadStatus, msg)
		}
	}
	illegal := []Child{
		{OverallStatus: StatusDischarged, CaseloadStatus: CaseloadAssigned},
		{OverallStatus: StatusDischarged, CaseloadStatus: CaseloadNonCaseload, OnHold: true},
		{OverallStatus: "paused", CaseloadStatus: CaseloadAssigned},
		{OverallStatus: StatusActive, CaseloadStatus: "pending"},
	}
	for _, c := range illegal {
		if CheckChildState(c) == "" {
			t.Errorf("expected %s/%s/%v to be rejected", c.OverallStatus, c.CaseloadStatus, c.OnHold)
		}
	}
}
