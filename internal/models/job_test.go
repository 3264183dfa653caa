package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	W, L := ExecutionModeWorker, ExecutionModeLeader
	tests := []struct {
		mode     ExecutionMode
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		// Worker execution happy path
		{W, JobStatusFundingOpen, JobStatusFundingComplete, true},
		{W, JobStatusFundingComplete, JobStatusWorkerSelected, true},
		{W, JobStatusWorkerSelected, JobStatusInProgress, true},
		{W, JobStatusInProgress, JobStatusAwaitingVerification, true},
		{W, JobStatusAwaitingVerification, JobStatusUnderReview, true},
		{W, JobStatusUnderReview, JobStatusCompleted, true},

		// Leader execution skips selection
		{L, JobStatusFundingOpen, JobStatusInProgress, true},
		{L, JobStatusFundingComplete, JobStatusInProgress, true},
		{L, JobStatusInProgress, JobStatusUnderReview, true},
		{L, JobStatusFundingComplete, JobStatusWorkerSelected, false},

		// Mode-specific edges
		{W, JobStatusFundingOpen, JobStatusInProgress, false},
		{W, JobStatusFundingComplete, JobStatusInProgress, false},
		{W, JobStatusInProgress, JobStatusUnderReview, false},
		{L, JobStatusWorkerSelected, JobStatusInProgress, false},

		// Review side branches
		{W, JobStatusUnderReview, JobStatusDisputed, true},
		{W, JobStatusUnderReview, JobStatusCancelled, true},
		{L, JobStatusDisputed, JobStatusUnderReview, true},
		{W, JobStatusDisputed, JobStatusCompleted, true},
		{W, JobStatusDisputed, JobStatusCancelled, true},

		// Invalid
		{W, JobStatusFundingOpen, JobStatusCompleted, false},
		{W, JobStatusCompleted, JobStatusCancelled, false},
		{L, JobStatusCancelled, JobStatusFundingOpen, false},
		{W, JobStatusInProgress, JobStatusDisputed, false},
		{W, "NONEXISTENT", JobStatusFundingOpen, false},
		{W, JobStatusFundingOpen, "NONEXISTENT", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+":"+string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.mode, tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tt.mode, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]JobStatus{
		"CREATED":          JobStatusFundingOpen,
		"FUNDING":          JobStatusFundingOpen,
		"FUNDED":           JobStatusFundingComplete,
		"LEADER_EXECUTING": JobStatusInProgress,
		"REVIEW_WINDOW":    JobStatusUnderReview,
		"CLOSED":           JobStatusCompleted,
		"UNDER_REVIEW":     JobStatusUnderReview,
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", in, got, want)
		}
	}
	if NormalizeStatus("bogus").IsValid() {
		t.Error("unknown status should stay invalid")
	}
}

func TestFundedStatus(t *testing.T) {
	if got := FundedStatus(ExecutionModeWorker); got != JobStatusFundingComplete {
		t.Errorf("worker funded status = %s", got)
	}
	if got := FundedStatus(ExecutionModeLeader); got != JobStatusInProgress {
		t.Errorf("leader funded status = %s", got)
	}
}

func TestReviewExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	j := &Job{}
	if j.ReviewExpired(now) {
		t.Error("job without deadline should not be expired")
	}
	j.ReviewDeadline = &deadline
	if j.ReviewExpired(now) {
		t.Error("expired before the deadline")
	}
	if !j.ReviewExpired(deadline) {
		t.Error("not expired at the deadline")
	}
	if !j.ReviewExpired(deadline.Add(time.Second)) {
		t.Error("not expired after the deadline")
	}
}
