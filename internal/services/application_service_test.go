package services

import (
	"testing"

	"github.com/civic-cleanup/escrow/internal/models"
)

func TestApplyGuards(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "500", models.ExecutionModeWorker)
	worker := newActor(models.RoleWorker)

	_, err := e.Applications.Create(e.ctx, worker, job.ID, dec("400"), "")
	expectKind(t, err, ErrConflict) // still funding

	e.contribute(t, newActor(models.RoleContributor), job.ID, "500")

	tests := []struct {
		name string
		who  models.Actor
		bid  string
		kind error
	}{
		{"leaders do not bid", leader, "400", ErrForbidden},
		{"contributors do not bid", newActor(models.RoleContributor), "400", ErrForbidden},
		{"bid above budget", worker, "500.01", ErrValidation},
		{"non-positive bid", worker, "0", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Applications.Create(e.ctx, tt.who, job.ID, dec(tt.bid), "")
			expectKind(t, err, tt.kind)
		})
	}

	if _, err := e.Applications.Create(e.ctx, worker, job.ID, dec("500"), "full budget"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, err = e.Applications.Create(e.ctx, worker, job.ID, dec("450"), "")
	expectKind(t, err, ErrConflict)

	lj := e.fundedLeaderJob(t)
	_, err = e.Applications.Create(e.ctx, worker, lj.job.ID, dec("10"), "")
	expectKind(t, err, ErrConflict)
}

func TestApplicationDecisions(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "1000", models.ExecutionModeWorker)
	e.contribute(t, newActor(models.RoleContributor), job.ID, "1000")

	w1, w2, w3 := newActor(models.RoleWorker), newActor(models.RoleWorker), newActor(models.RoleWorker)
	a1, _ := e.Applications.Create(e.ctx, w1, job.ID, dec("900"), "")
	a2, _ := e.Applications.Create(e.ctx, w2, job.ID, dec("800"), "")
	a3, _ := e.Applications.Create(e.ctx, w3, job.ID, dec("700"), "")

	_, err := e.Applications.UpdateStatus(e.ctx, w1, a1.ID, models.ApplicationStatusAccepted)
	expectKind(t, err, ErrForbidden)

	rejected, err := e.Applications.UpdateStatus(e.ctx, leader, a3.ID, models.ApplicationStatusRejected)
	if err != nil || rejected.Status != models.ApplicationStatusRejected {
		t.Fatalf("reject: %+v, %v", rejected, err)
	}
	_, err = e.Applications.UpdateStatus(e.ctx, leader, a3.ID, models.ApplicationStatusAccepted)
	expectKind(t, err, ErrConflict)
	_, err = e.Applications.UpdateStatus(e.ctx, leader, a1.ID, models.ApplicationStatusPending)
	expectKind(t, err, ErrValidation)

	own, err := e.Applications.ListByJob(e.ctx, w2, job.ID)
	if err != nil || len(own) != 1 || own[0].ID != a2.ID {
		t.Errorf("worker view = %+v, %v", own, err)
	}

	if _, err := e.Applications.UpdateStatus(e.ctx, leader, a1.ID, models.ApplicationStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// leaders cannot swap the selected worker
	_, err = e.Applications.UpdateStatus(e.ctx, leader, a2.ID, models.ApplicationStatusAccepted)
	expectKind(t, err, ErrConflict)

	// admins can
	if _, err := e.Applications.UpdateStatus(e.ctx, newActor(models.RoleAdmin), a2.ID, models.ApplicationStatusAccepted); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got := e.job(t, job.ID)
	if got.Status != models.JobStatusWorkerSelected || !got.IsSelectedWorker(w2.UserID) {
		t.Errorf("after reassign: status=%s worker=%v", got.Status, got.SelectedWorkerID)
	}
	apps, err := e.Applications.ListByJob(e.ctx, leader, job.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	accepted := 0
	for _, a := range apps {
		if a.Status == models.ApplicationStatusAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted applications = %d, want 1", accepted)
	}
}
