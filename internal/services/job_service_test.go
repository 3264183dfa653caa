package services

import (
	"testing"
	"time"

	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/shopspring/decimal"
)

func TestCreateJobValidation(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)

	tests := []struct {
		name string
		who  models.Actor
		in   CreateJobInput
		kind error
	}{
		{"worker cannot create", newActor(models.RoleWorker), CreateJobInput{Title: "x", TargetAmount: dec("10")}, ErrForbidden},
		{"missing title", leader, CreateJobInput{Title: " ", TargetAmount: dec("10")}, ErrValidation},
		{"zero target", leader, CreateJobInput{Title: "x", TargetAmount: decimal.Zero}, ErrValidation},
		{"sub-cent target", leader, CreateJobInput{Title: "x", TargetAmount: dec("10.001")}, ErrValidation},
		{"bad mode", leader, CreateJobInput{Title: "x", TargetAmount: dec("10"), ExecutionMode: "SOLO"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Jobs.Create(e.ctx, tt.who, tt.in)
			expectKind(t, err, tt.kind)
		})
	}

	job, err := e.Jobs.Create(e.ctx, leader, CreateJobInput{Title: "Park", TargetAmount: dec("10")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ExecutionMode != models.ExecutionModeWorker || job.Status != models.JobStatusFundingOpen {
		t.Errorf("defaults: mode=%s status=%s", job.ExecutionMode, job.Status)
	}
	if n := e.events.Count(events.EventJobCreated); n != 1 {
		t.Errorf("job_created events = %d, want 1", n)
	}
}

func TestUpdateJobEditsAndModeChange(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	e.cfg.PlatformFeePercentLeader = dec("10")
	job := e.createJob(t, leader, "1000", models.ExecutionModeWorker)
	e.contribute(t, newActor(models.RoleContributor), job.ID, "500")

	_, err := e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{})
	expectKind(t, err, ErrValidation)

	title := "Clean the canal"
	_, err = e.Jobs.Update(e.ctx, newActor(models.RoleLeader), job.ID, UpdateJobInput{Title: &title})
	expectKind(t, err, ErrForbidden)

	mode := models.ExecutionModeLeader
	got, err := e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{Title: &title, ExecutionMode: &mode})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != title || got.ExecutionMode != models.ExecutionModeLeader {
		t.Errorf("updated job = %+v", got)
	}
	mustEqualDec(t, "fee percent", got.PlatformFeePercent, "10")
	mustEqualDec(t, "fee amount", got.PlatformFeeAmount, "50")
	mustEqualDec(t, "wallet balance", got.WalletBalance, "450")

	// lowering the target below what was collected funds the job
	target := dec("400")
	got, err = e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{TargetAmount: &target})
	if err != nil {
		t.Fatalf("lower target: %v", err)
	}
	if got.Status != models.JobStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS for a funded leader job", got.Status)
	}

	_, err = e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{Title: &title})
	expectKind(t, err, ErrConflict)
	back := models.ExecutionModeWorker
	_, err = e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{ExecutionMode: &back})
	expectKind(t, err, ErrConflict)
}

func TestManualFundingComplete(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "1000", models.ExecutionModeWorker)
	e.contribute(t, newActor(models.RoleContributor), job.ID, "400")

	_, err := e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{Status: statusPtr(models.JobStatusFundingComplete)})
	expectKind(t, err, ErrConflict)

	target := dec("400")
	// the status field suppresses auto-advance so the manual close applies
	got, err := e.Jobs.Update(e.ctx, leader, job.ID, UpdateJobInput{
		TargetAmount: &target,
		Status:       statusPtr(models.JobStatusFundingComplete),
	})
	if err != nil {
		t.Fatalf("close funding: %v", err)
	}
	if got.Status != models.JobStatusFundingComplete {
		t.Errorf("status = %s", got.Status)
	}
}

func TestStatusGuards(t *testing.T) {
	e := newTestEnv(t)
	wj := e.fundedWorkerJob(t, "1800")

	tests := []struct {
		name string
		who  models.Actor
		to   models.JobStatus
		kind error
	}{
		{"leader cannot start worker job", wj.leader, models.JobStatusInProgress, ErrForbidden},
		{"cannot jump to review", wj.leader, models.JobStatusUnderReview, ErrConflict},
		{"verification needs progress", wj.worker, models.JobStatusAwaitingVerification, ErrConflict},
		{"no manual completion", newActor(models.RoleAdmin), models.JobStatusCompleted, ErrConflict},
		{"no manual cancel", wj.leader, models.JobStatusCancelled, ErrConflict},
		{"no manual dispute", wj.contributors[0], models.JobStatusDisputed, ErrConflict},
		{"selection goes through applications", wj.leader, models.JobStatusWorkerSelected, ErrConflict},
		{"unknown status", wj.leader, "DONE", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Jobs.Update(e.ctx, tt.who, wj.job.ID, UpdateJobInput{Status: statusPtr(tt.to)})
			expectKind(t, err, tt.kind)
		})
	}

	e.setStatus(t, wj.worker, wj.job.ID, models.JobStatusInProgress)
	_, err := e.Jobs.Update(e.ctx, wj.worker, wj.job.ID, UpdateJobInput{Status: statusPtr(models.JobStatusAwaitingVerification)})
	expectKind(t, err, ErrConflict)

	// a draft is not a proof
	if _, err := e.Proofs.SaveDraft(e.ctx, wj.worker, wj.job.ID, ProofInput{BeforePhoto: "b"}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	_, err = e.Jobs.Update(e.ctx, wj.worker, wj.job.ID, UpdateJobInput{Status: statusPtr(models.JobStatusAwaitingVerification)})
	expectKind(t, err, ErrConflict)

	if _, err := e.Proofs.SubmitProof(e.ctx, wj.worker, wj.job.ID, ProofInput{BeforePhoto: "b", AfterPhoto: "a"}); err != nil {
		t.Fatalf("proof: %v", err)
	}
	note := "all bags at the depot"
	got, err := e.Jobs.Update(e.ctx, wj.worker, wj.job.ID, UpdateJobInput{
		Status:         statusPtr(models.JobStatusAwaitingVerification),
		SubmissionNote: &note,
	})
	if err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if got.Metadata.SubmissionNote != note {
		t.Errorf("submission note = %q", got.Metadata.SubmissionNote)
	}
	if _, err := e.Proofs.GetDraft(e.ctx, wj.worker, wj.job.ID); err == nil {
		t.Error("draft should be removed once proof is submitted")
	}
}

func TestExpiredReviewCannotBeRestarted(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")

	// inside the window the leader may restart the review
	e.clock.Advance(time.Hour)
	restarted := e.setStatus(t, wj.leader, wj.job.ID, models.JobStatusUnderReview)
	deadline := *restarted.ReviewDeadline

	e.clock.Advance(e.cfg.WorkerReviewWindow + time.Hour)
	for _, who := range []models.Actor{wj.leader, newActor(models.RoleAdmin)} {
		_, err := e.Jobs.Update(e.ctx, who, wj.job.ID, UpdateJobInput{Status: statusPtr(models.JobStatusUnderReview)})
		expectKind(t, err, ErrConflict)
	}
	if got := e.job(t, wj.job.ID); !got.ReviewDeadline.Equal(deadline) {
		t.Fatalf("deadline moved from %v to %v", deadline, got.ReviewDeadline)
	}

	outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, wj.job.ID)
	if err != nil || outcome != FinalizeCompleted {
		t.Fatalf("finalize = %s, %v", outcome, err)
	}
	mustEqualDec(t, "worker paid", e.wallet(t, wj.worker.UserID).AvailableBalance, "1710")
}

func TestPrivateJobVisibility(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job, err := e.Jobs.Create(e.ctx, leader, CreateJobInput{Title: "Backyard", TargetAmount: dec("100"), IsPrivate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backer := newActor(models.RoleContributor)
	e.contribute(t, backer, job.ID, "50")
	stranger := newActor(models.RoleContributor)

	for _, who := range []models.Actor{leader, backer, newActor(models.RoleAdmin)} {
		if _, err := e.Jobs.Get(e.ctx, who, job.ID); err != nil {
			t.Errorf("%s cannot see private job: %v", who.Role, err)
		}
	}
	_, err = e.Jobs.Get(e.ctx, stranger, job.ID)
	expectKind(t, err, ErrNotFound)

	list, err := e.Jobs.List(e.ctx, stranger, repositories.JobFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("stranger sees %d jobs", len(list))
	}
	list, err = e.Jobs.List(e.ctx, backer, repositories.JobFilter{ContributorID: &backer.UserID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("backer sees %d jobs, want 1", len(list))
	}
}

func TestJobEventsTrail(t *testing.T) {
	e := newTestEnv(t)
	wj := e.fundedWorkerJob(t, "1000")
	logs, err := e.Jobs.Events(e.ctx, wj.leader, wj.job.ID, 50, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, l := range logs {
		seen[l.Action] = true
		if l.EntityType != models.AuditEntityJob || l.EntityID == nil || *l.EntityID != wj.job.ID {
			t.Errorf("%s logged against %s %v", l.Action, l.EntityType, l.EntityID)
		}
		if l.ActorType != models.AuditActorUser {
			t.Errorf("%s actor type = %s, want %s", l.Action, l.ActorType, models.AuditActorUser)
		}
	}
	for _, want := range []string{
		"job_created",
		"contribution_received",
		"job_status_FUNDING_OPEN_to_FUNDING_COMPLETE",
		"job_status_FUNDING_COMPLETE_to_WORKER_SELECTED",
	} {
		if !seen[want] {
			t.Errorf("missing audit action %s in %v", want, seen)
		}
	}
}

func TestExpenseGuards(t *testing.T) {
	e := newTestEnv(t)
	lj := e.fundedLeaderJob(t)

	_, err := e.Accounting.CreateJobExpense(e.ctx, lj.contributors[0], lj.job.ID, ExpenseInput{Amount: dec("10"), Description: "x"})
	expectKind(t, err, ErrForbidden)
	_, err = e.Accounting.CreateJobExpense(e.ctx, lj.leader, lj.job.ID, ExpenseInput{Amount: dec("10")})
	expectKind(t, err, ErrValidation)
	_, err = e.Accounting.CreateJobExpense(e.ctx, lj.leader, lj.job.ID, ExpenseInput{Amount: dec("1000.01"), Description: "x"})
	expectKind(t, err, ErrValidation)

	wj := e.fundedWorkerJob(t, "1000")
	_, err = e.Accounting.CreateJobExpense(e.ctx, wj.leader, wj.job.ID, ExpenseInput{Amount: dec("10"), Description: "x"})
	expectKind(t, err, ErrConflict)
}

func TestRefundRatioLaw(t *testing.T) {
	tests := []struct {
		name     string
		amounts  []string
		target   string
		expenses []string
	}{
		{"uneven thirds", []string{"333.33", "333.33", "333.34"}, "1000", []string{"123.45"}},
		{"many small", []string{"10", "20", "30", "40", "55.55", "0.45"}, "156", []string{"17.17", "3"}},
		{"no expenses", []string{"700", "300"}, "1000", nil},
		{"fully spent", []string{"500", "500"}, "1000", []string{"600", "400"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			leader := newActor(models.RoleLeader)
			job := e.createJob(t, leader, tt.target, models.ExecutionModeLeader)
			var backers []models.Actor
			for _, a := range tt.amounts {
				b := newActor(models.RoleContributor)
				backers = append(backers, b)
				e.contribute(t, b, job.ID, a)
			}
			spent := decimal.Zero
			for _, x := range tt.expenses {
				if _, err := e.Accounting.CreateJobExpense(e.ctx, leader, job.ID, ExpenseInput{Amount: dec(x), Description: "supplies"}); err != nil {
					t.Fatalf("expense %s: %v", x, err)
				}
				spent = spent.Add(dec(x))
			}
			e.setStatus(t, leader, job.ID, models.JobStatusUnderReview)
			e.clock.Advance(e.cfg.LeaderReviewWindow)
			if _, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, job.ID); err != nil {
				t.Fatalf("finalize: %v", err)
			}

			remaining := dec(tt.target).Sub(spent)
			refunded := decimal.Zero
			for _, b := range backers {
				w := e.wallet(t, b.UserID)
				if !w.FrozenBalance.IsZero() {
					t.Errorf("frozen left after settlement: %s", w.FrozenBalance)
				}
				refunded = refunded.Add(w.AvailableBalance)
			}
			epsilon := decimal.New(int64(len(backers)), -2)
			if refunded.Sub(remaining).Abs().GreaterThan(epsilon) {
				t.Errorf("refunded %s, remaining %s", refunded, remaining)
			}
			if !remaining.IsPositive() && !refunded.IsZero() {
				t.Errorf("refunded %s with nothing remaining", refunded)
			}
			mustEqualDec(t, "leader reimbursed", e.wallet(t, leader.UserID).AvailableBalance, spent.String())
		})
	}
}

func TestLeaderRefundsAreNetOfPlatformFee(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.PlatformFeePercentLeader = dec("10")
	lj := e.fundedLeaderJob(t)
	mustEqualDec(t, "wallet balance", lj.job.WalletBalance, "900")

	if _, err := e.Accounting.CreateJobExpense(e.ctx, lj.leader, lj.job.ID, ExpenseInput{Amount: dec("400"), Description: "skip hire"}); err != nil {
		t.Fatalf("expense: %v", err)
	}
	e.setStatus(t, lj.leader, lj.job.ID, models.JobStatusUnderReview)
	e.clock.Advance(e.cfg.LeaderReviewWindow)
	if outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, lj.job.ID); err != nil || outcome != FinalizeCompleted {
		t.Fatalf("finalize = %s, %v", outcome, err)
	}

	// 900 held minus 400 spent, split 60/40
	mustEqualDec(t, "c1 refund", e.wallet(t, lj.contributors[0].UserID).AvailableBalance, "300")
	mustEqualDec(t, "c2 refund", e.wallet(t, lj.contributors[1].UserID).AvailableBalance, "200")
	mustEqualDec(t, "leader reimbursed", e.wallet(t, lj.leader.UserID).AvailableBalance, "400")
}
