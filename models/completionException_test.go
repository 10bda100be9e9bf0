package models

import (
	"testing"
	"time"
)

func TestCompletionException_IsActiveComparesDatesOnly(t *testing.T) {
	expiry := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	e := CompletionException{SectionId: "s1", ExpiresAt: &expiry}

	cases := []struct {
		now    time.Time
		active bool
	}{
		{time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC), true},
		{time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := e.IsActive(tc.now); got != tc.active {
			t.Fatalf("now=%s: expected active=%v, got %v", tc.now, tc.active, got)
		}
	}

	open := CompletionException{SectionId: "s1"}
	if !open.IsActive(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected exception without expiry to stay active")
	}
}

func TestCompletionException_Covers(t *testing.T) {
	dp := DataPoint{Base: Base{ID: "dp-1"}, SectionId: "s1"}
	same := "dp-1"
	other := "dp-2"

	if !(CompletionException{SectionId: "s1"}).Covers(dp) {
		t.Fatalf("section-wide exception should cover the data point")
	}
	if !(CompletionException{SectionId: "s1", DataPointId: &same}).Covers(dp) {
		t.Fatalf("targeted exception should cover its data point")
	}
	if (CompletionException{SectionId: "s1", DataPointId: &other}).Covers(dp) {
		t.Fatalf("exception for another data point must not cover")
	}
	if (CompletionException{SectionId: "s2"}).Covers(dp) {
		t.Fatalf("exception for another section must not cover")
	}
}

func TestRemediationStatus_IsClosed(t *testing.T) {
	closed := map[RemediationStatus]bool{
		RemediationStatusPlanned:    false,
		RemediationStatusInProgress: false,
		RemediationStatusCompleted:  true,
		RemediationStatusCancelled:  true,
	}
	for status, want := range closed {
		if status.IsClosed() != want {
			t.Fatalf("status=%s: expected closed=%v", status, want)
		}
	}
}

func TestReportSnapshot_Counts(t *testing.T) {
	snapshot := ReportSnapshot{Sections: []SnapshotSection{
		{SectionId: "a", DataPoints: []SnapshotDataPoint{{DataPointId: "1"}, {DataPointId: "2"}}},
		{SectionId: "b"},
	}}
	sections, dataPoints := snapshot.Counts()
	if sections != 2 || dataPoints != 2 {
		t.Fatalf("expected 2 sections and 2 data points, got %d and %d", sections, dataPoints)
	}
}
