package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestFundingAndWorkerSelection(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "2000", models.ExecutionModeWorker)

	e.contribute(t, newActor(models.RoleContributor), job.ID, "1200")
	if got := e.job(t, job.ID); got.Status != models.JobStatusFundingOpen {
		t.Fatalf("status after partial funding = %s", got.Status)
	}
	e.contribute(t, newActor(models.RoleContributor), job.ID, "900")

	got := e.job(t, job.ID)
	if got.Status != models.JobStatusFundingComplete {
		t.Fatalf("status = %s, want FUNDING_COMPLETE", got.Status)
	}
	mustEqualDec(t, "collected", got.CollectedAmount, "2100")
	mustEqualDec(t, "wallet balance", got.WalletBalance, "2100")
	mustEqualDec(t, "platform fee", got.PlatformFeeAmount, "0")

	worker, other := newActor(models.RoleWorker), newActor(models.RoleWorker)
	app, err := e.Applications.Create(e.ctx, worker, job.ID, dec("1800"), "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := e.Applications.Create(e.ctx, other, job.ID, dec("1900"), ""); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := e.Applications.UpdateStatus(e.ctx, leader, app.ID, models.ApplicationStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got = e.job(t, job.ID)
	if got.Status != models.JobStatusWorkerSelected {
		t.Fatalf("status = %s, want WORKER_SELECTED", got.Status)
	}
	if !got.IsSelectedWorker(worker.UserID) {
		t.Errorf("selected worker = %v, want %s", got.SelectedWorkerID, worker.UserID)
	}

	apps, err := e.Applications.ListByJob(e.ctx, leader, job.ID)
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	for _, a := range apps {
		want := models.ApplicationStatusRejected
		if a.ID == app.ID {
			want = models.ApplicationStatusAccepted
		}
		if a.Status != want {
			t.Errorf("application of %s = %s, want %s", a.WorkerID, a.Status, want)
		}
	}

	_, err = e.Accounting.CreateContribution(e.ctx, newActor(models.RoleContributor), job.ID, dec("10"), "")
	expectKind(t, err, ErrConflict)
}

func TestWorkerPaidAfterReviewWindow(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")

	if wj.job.Status != models.JobStatusUnderReview {
		t.Fatalf("status = %s, want UNDER_REVIEW", wj.job.Status)
	}
	if want := e.clock.Now().Add(24 * time.Hour); !wj.job.ReviewDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", wj.job.ReviewDeadline, want)
	}

	outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, wj.job.ID)
	if err != nil || outcome != FinalizeNoop {
		t.Fatalf("finalize inside window = %s, %v", outcome, err)
	}

	e.clock.Advance(24 * time.Hour)
	outcome, err = e.Jobs.FinalizeReviewIfEligible(e.ctx, wj.job.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outcome != FinalizeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}

	job := e.job(t, wj.job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
	if job.Metadata.Payout == nil {
		t.Fatal("payout snapshot missing")
	}
	mustEqualDec(t, "payout fee", job.Metadata.Payout.Fee, "90")

	w := e.wallet(t, wj.worker.UserID)
	mustEqualDec(t, "worker available", w.AvailableBalance, "1710")
	mustEqualDec(t, "worker deposited", w.TotalDeposited, "1710")

	me, err := e.Users.Me(e.ctx, wj.worker)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	mustEqualDec(t, "worker earnings", me.User.TotalEarnings, "1710")

	if n := e.events.Count(events.EventJobSettled); n != 1 {
		t.Errorf("settled events = %d, want 1", n)
	}
}

func TestLeaderJobRefundsUnspentFunds(t *testing.T) {
	e := newTestEnv(t)
	lj := e.fundedLeaderJob(t)
	c1, c2 := lj.contributors[0], lj.contributors[1]

	if lj.job.Status != models.JobStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", lj.job.Status)
	}
	mustEqualDec(t, "c1 staged", e.wallet(t, c1.UserID).FrozenBalance, "600")
	mustEqualDec(t, "c2 staged", e.wallet(t, c2.UserID).FrozenBalance, "400")

	if _, err := e.Accounting.CreateJobExpense(e.ctx, lj.leader, lj.job.ID, ExpenseInput{
		Amount:      dec("400"),
		Description: "skip rental",
	}); err != nil {
		t.Fatalf("expense: %v", err)
	}
	mustEqualDec(t, "c1 staged after expense", e.wallet(t, c1.UserID).FrozenBalance, "360")
	mustEqualDec(t, "c2 staged after expense", e.wallet(t, c2.UserID).FrozenBalance, "240")

	job := e.setStatus(t, lj.leader, lj.job.ID, models.JobStatusUnderReview)
	if want := e.clock.Now().Add(7 * 24 * time.Hour); !job.ReviewDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", job.ReviewDeadline, want)
	}
	if job.Metadata.RemainingBalance == nil {
		t.Fatal("remaining balance snapshot missing")
	}
	mustEqualDec(t, "remaining", *job.Metadata.RemainingBalance, "600")

	ledger, err := e.Accounting.GetLedger(e.ctx, lj.leader, lj.job.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	mustEqualDec(t, "ledger spent", ledger.TotalSpent, "400")
	mustEqualDec(t, "ledger remaining", ledger.RemainingBalance, "600")

	e.clock.Advance(7*24*time.Hour + time.Minute)
	// reading an expired job finalizes it
	job, err = e.Jobs.Get(e.ctx, lj.leader, lj.job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
	mustEqualDec(t, "job wallet balance", job.WalletBalance, "0")
	if job.Metadata.RefundProcessedAt == nil {
		t.Error("refund processed timestamp missing")
	}

	for i, want := range []string{"360", "240"} {
		w := e.wallet(t, lj.contributors[i].UserID)
		mustEqualDec(t, "contributor available", w.AvailableBalance, want)
		mustEqualDec(t, "contributor frozen", w.FrozenBalance, "0")
	}

	me, err := e.Users.Me(e.ctx, lj.leader)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	mustEqualDec(t, "leader earnings", me.User.TotalEarnings, "400")
	mustEqualDec(t, "leader wallet", me.Wallet.AvailableBalance, "400")
}

func TestRejectedWorkCancelsAndRefunds(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")
	c1 := wj.contributors[0]

	d, err := e.Disputes.Raise(e.ctx, c1, wj.job.ID, RaiseDisputeInput{Reason: "bags left on site"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if got := e.job(t, wj.job.ID); got.Status != models.JobStatusDisputed {
		t.Fatalf("status = %s, want DISPUTED", got.Status)
	}

	admin := newActor(models.RoleAdmin)
	decided, err := e.Disputes.Decide(e.ctx, admin, d.ID, models.AdminDecisionRejectWork, "photos do not match")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != models.DisputeStatusResolved {
		t.Errorf("dispute status = %s, want RESOLVED", decided.Status)
	}

	job := e.job(t, wj.job.ID)
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", job.Status)
	}
	mustEqualDec(t, "job wallet balance", job.WalletBalance, "0")
	mustEqualDec(t, "job collected", job.CollectedAmount, "2100")

	list, err := e.Accounting.ListContributions(e.ctx, admin, ContributionFilter{JobID: &job.ID})
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("contributions = %d, want 2", len(list))
	}
	for _, c := range list {
		if !c.Refunded {
			t.Errorf("contribution %s not marked refunded", c.ID)
		}
	}
	mustEqualDec(t, "c1 refund", e.wallet(t, c1.UserID).AvailableBalance, "1200")
	mustEqualDec(t, "c2 refund", e.wallet(t, wj.contributors[1].UserID).AvailableBalance, "900")
	mustEqualDec(t, "worker wallet", e.wallet(t, wj.worker.UserID).AvailableBalance, "0")

	_, err = e.Disputes.Decide(e.ctx, admin, d.ID, models.AdminDecisionApproveWork, "")
	expectKind(t, err, ErrConflict)
}

func TestConcurrentContributionsCloseFundingOnce(t *testing.T) {
	e := newTestEnv(t)
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "1000", models.ExecutionModeWorker)

	const n = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
		other     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Accounting.CreateContribution(e.ctx, newActor(models.RoleContributor), job.ID, dec("50"), "pay-"+uuid.NewString())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if accepted != 20 || conflicts != n-20 {
		t.Errorf("accepted=%d conflicts=%d, want 20 and %d", accepted, conflicts, n-20)
	}

	got := e.job(t, job.ID)
	if got.Status != models.JobStatusFundingComplete {
		t.Errorf("status = %s, want FUNDING_COMPLETE", got.Status)
	}
	mustEqualDec(t, "collected", got.CollectedAmount, "1000")

	var sum decimal.Decimal
	err := e.Jobs.store.Tx(e.ctx, func(r repositories.Repos) error {
		var err error
		sum, err = r.Contributions().SumSuccessful(e.ctx, job.ID)
		return err
	})
	if err != nil {
		t.Fatalf("sum contributions: %v", err)
	}
	if !sum.Equal(got.CollectedAmount) {
		t.Errorf("sum of contributions %s != collected %s", sum, got.CollectedAmount)
	}

	if c := e.events.Count(events.EventJobStatusChanged); c != 1 {
		t.Errorf("status change events = %d, want 1", c)
	}
	logs, err := e.Jobs.Events(e.ctx, leader, job.ID, 100, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	closed := 0
	for _, l := range logs {
		if l.Action == "job_status_FUNDING_OPEN_to_FUNDING_COMPLETE" {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("funding closed %d times in the audit log, want 1", closed)
	}
}

func TestConcurrentFinalizePaysOnce(t *testing.T) {
	e := newTestEnv(t)
	wj := e.reviewWorkerJob(t, "1800")
	e.clock.Advance(25 * time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				outcome, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, wj.job.ID)
				if err != nil {
					t.Errorf("finalize: %v", err)
					return
				}
				if outcome == FinalizeCompleted {
					mu.Lock()
					completed++
					mu.Unlock()
				}
				return
			}
			if _, err := e.Jobs.Get(e.ctx, wj.leader, wj.job.ID); err != nil {
				t.Errorf("get: %v", err)
			}
		}(i)
	}
	res, err := e.Sweeper.SweepExpiredReviews(e.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	wg.Wait()

	if completed+res.Completed > 1 {
		t.Errorf("completed %d times by finalize and %d by sweep", completed, res.Completed)
	}
	if n := e.countTx(t, wj.worker.UserID, models.TransactionTypeDeposit); n != 1 {
		t.Errorf("worker payout transactions = %d, want 1", n)
	}
	mustEqualDec(t, "worker available", e.wallet(t, wj.worker.UserID).AvailableBalance, "1710")
	if got := e.job(t, wj.job.ID); got.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}

func TestConcurrentLeaderFinalizeRefundsOnce(t *testing.T) {
	e := newTestEnv(t)
	lj := e.fundedLeaderJob(t)
	e.setStatus(t, lj.leader, lj.job.ID, models.JobStatusUnderReview)
	e.clock.Advance(8 * 24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Jobs.FinalizeReviewIfEligible(e.ctx, lj.job.ID); err != nil {
				t.Errorf("finalize: %v", err)
			}
		}()
	}
	wg.Wait()

	for i, want := range []string{"600", "400"} {
		c := lj.contributors[i]
		w := e.wallet(t, c.UserID)
		mustEqualDec(t, "available", w.AvailableBalance, want)
		mustEqualDec(t, "total refunded", w.TotalRefunded, want)
		// one pending staging row plus one released refund
		if n := e.countTx(t, c.UserID, models.TransactionTypeRefund); n != 2 {
			t.Errorf("refund transactions for contributor %d = %d, want 2", i, n)
		}
	}
}
