package services

import (
	"testing"
	"time"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
)

func TestRaiseDisputeGuards(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")

	_, err := e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{Reason: "  "})
	expectKind(t, err, ErrValidation)

	_, err = e.Disputes.Raise(e.ctx, newActor(models.RoleContributor), wj.job.ID, RaiseDisputeInput{Reason: "not funded"})
	expectKind(t, err, ErrForbidden)

	if _, err := e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{Reason: "rubbish remains"}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	_, err = e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{Reason: "again"})
	expectKind(t, err, ErrConflict)
	// the job is no longer under review
	_, err = e.Disputes.Raise(e.ctx, wj.contributors[1], wj.job.ID, RaiseDisputeInput{Reason: "me too"})
	expectKind(t, err, ErrConflict)
}

func TestRaiseDisputeAfterDeadline(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")
	e.clock.Advance(e.cfg.WorkerReviewWindow)

	_, err := e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{Reason: "late"})
	expectKind(t, err, ErrConflict)
}

func TestDisputeDetailsAreMirroredAndMerged(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")

	d, err := e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{
		Reason:   "bags left behind",
		Evidence: []string{"https://img.example/left.jpg", " "},
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(d.Details.Evidence) != 1 {
		t.Errorf("evidence = %v, want blank entries dropped", d.Details.Evidence)
	}

	proof, err := e.Proofs.GetProof(e.ctx, wj.leader, wj.job.ID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if m, ok := proof.Metadata.DisputeDetails[d.ID]; !ok || len(m.Evidence) != 1 {
		t.Fatalf("mirror = %+v", proof.Metadata.DisputeDetails)
	}

	_, err = e.Disputes.AddWorkerResponse(e.ctx, wj.leader, d.ID, "not me")
	expectKind(t, err, ErrForbidden)
	if _, err := e.Disputes.AddWorkerResponse(e.ctx, wj.worker, d.ID, "bags were collected next morning"); err != nil {
		t.Fatalf("worker response: %v", err)
	}
	_, err = e.Disputes.AddLeaderClarification(e.ctx, wj.worker, d.ID, "not the leader")
	expectKind(t, err, ErrForbidden)
	if _, err := e.Disputes.AddLeaderClarification(e.ctx, wj.leader, d.ID, "pickup was scheduled"); err != nil {
		t.Fatalf("leader clarification: %v", err)
	}

	// drop the primary copy's responses, the mirror must fill them in
	err = e.Disputes.store.Tx(e.ctx, func(r repositories.Repos) error {
		stored, err := r.Disputes().GetByID(e.ctx, d.ID)
		if err != nil {
			return err
		}
		stored.Details.WorkerResponses = nil
		return r.Disputes().Update(e.ctx, stored)
	})
	if err != nil {
		t.Fatalf("truncate primary: %v", err)
	}

	got, err := e.Disputes.Get(e.ctx, wj.contributors[0], d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Details.WorkerResponses) != 1 || len(got.Details.LeaderClarifications) != 1 {
		t.Errorf("merged details = %+v", got.Details)
	}

	_, err = e.Disputes.Get(e.ctx, newActor(models.RoleContributor), d.ID)
	expectKind(t, err, ErrNotFound)

	list, err := e.Disputes.List(e.ctx, wj.contributors[0], repositories.DisputeFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].Details.WorkerResponses) != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestApproveWorkPaysWorker(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")
	d, err := e.Disputes.Raise(e.ctx, wj.contributors[1], wj.job.ID, RaiseDisputeInput{Reason: "looks unfinished"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	_, err = e.Disputes.Decide(e.ctx, wj.leader, d.ID, models.AdminDecisionApproveWork, "")
	expectKind(t, err, ErrForbidden)
	_, err = e.Disputes.Decide(e.ctx, newActor(models.RoleAdmin), d.ID, "MAYBE", "")
	expectKind(t, err, ErrValidation)

	decided, err := e.Disputes.Decide(e.ctx, newActor(models.RoleAdmin), d.ID, models.AdminDecisionApproveWork, "work verified")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != models.DisputeStatusRejected {
		t.Errorf("dispute status = %s, want REJECTED", decided.Status)
	}
	if decided.Details.AdminDecision == nil || decided.Details.AdminDecision.Note != "work verified" {
		t.Errorf("decision record = %+v", decided.Details.AdminDecision)
	}

	job := e.job(t, wj.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
	mustEqualDec(t, "worker paid", e.wallet(t, wj.worker.UserID).AvailableBalance, "1710")
}

func TestApproveWorkReturnsLeaderJobToReview(t *testing.T) {
	e := newTestEnv(t)
	lj := e.fundedLeaderJob(t)
	job := e.setStatus(t, lj.leader, lj.job.ID, models.JobStatusUnderReview)
	deadline := *job.ReviewDeadline

	d, err := e.Disputes.Raise(e.ctx, lj.contributors[0], lj.job.ID, RaiseDisputeInput{Reason: "no receipts"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	job = e.job(t, lj.job.ID)
	if job.Status != models.JobStatusDisputed || !job.FundsFrozen {
		t.Fatalf("after raise: status=%s frozen=%v", job.Status, job.FundsFrozen)
	}

	// the worker response path is closed for leader-executed jobs
	_, err = e.Disputes.AddWorkerResponse(e.ctx, lj.leader, d.ID, "I did it myself")
	expectKind(t, err, ErrForbidden)

	if _, err := e.Disputes.Decide(e.ctx, newActor(models.RoleAdmin), d.ID, models.AdminDecisionApproveWork, ""); err != nil {
		t.Fatalf("decide: %v", err)
	}
	job = e.job(t, lj.job.ID)
	if job.Status != models.JobStatusUnderReview || job.FundsFrozen {
		t.Fatalf("after approve: status=%s frozen=%v", job.Status, job.FundsFrozen)
	}
	if !job.ReviewDeadline.Equal(deadline) {
		t.Errorf("deadline moved from %v to %v", deadline, job.ReviewDeadline)
	}

	e.clock.Advance(e.cfg.LeaderReviewWindow + time.Second)
	outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, lj.job.ID)
	if err != nil || outcome != FinalizeCompleted {
		t.Fatalf("finalize = %s, %v", outcome, err)
	}
	mustEqualDec(t, "c1 refund", e.wallet(t, lj.contributors[0].UserID).AvailableBalance, "600")
}

func TestRejectWorkOnLeaderJobReleasesStaging(t *testing.T) {
	e := newTestEnv(t)
	lj := e.fundedLeaderJob(t)
	c1 := lj.contributors[0]
	e.setStatus(t, lj.leader, lj.job.ID, models.JobStatusUnderReview)

	d, err := e.Disputes.Raise(e.ctx, c1, lj.job.ID, RaiseDisputeInput{Reason: "nothing was cleaned"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := e.Disputes.Decide(e.ctx, newActor(models.RoleAdmin), d.ID, models.AdminDecisionRejectWork, ""); err != nil {
		t.Fatalf("decide: %v", err)
	}

	job := e.job(t, lj.job.ID)
	if job.Status != models.JobStatusCancelled || !job.FundsFrozen {
		t.Fatalf("status=%s frozen=%v", job.Status, job.FundsFrozen)
	}
	w := e.wallet(t, c1.UserID)
	mustEqualDec(t, "c1 frozen", w.FrozenBalance, "0")
	mustEqualDec(t, "c1 available", w.AvailableBalance, "600")
}

func TestExpiredReviewWithOpenDisputeIsNotCompleted(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")
	d, err := e.Disputes.Raise(e.ctx, wj.contributors[0], wj.job.ID, RaiseDisputeInput{Reason: "unfinished"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	e.clock.Advance(48 * time.Hour)

	outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, wj.job.ID)
	if err != nil || outcome != FinalizeNoop {
		t.Fatalf("finalize on disputed job = %s, %v", outcome, err)
	}
	if n := e.countTx(t, wj.worker.UserID, models.TransactionTypeDeposit); n != 0 {
		t.Errorf("worker was paid during an open dispute")
	}

	// an admin can still adjudicate after the window
	if _, err := e.Disputes.Decide(e.ctx, newActor(models.RoleAdmin), d.ID, models.AdminDecisionApproveWork, ""); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got := e.job(t, wj.job.ID); got.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}
