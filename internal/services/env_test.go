package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/events"
	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	*Registry
	clock  *fakeClock
	events *events.Recorder
	cfg    *config.Config
	ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	rec := events.NewRecorder()
	cfg := config.Defaults()
	reg := NewRegistry(Deps{
		Store:     repositories.NewMemoryStore().WithClock(clock.Now),
		Publisher: rec,
		Config:    cfg,
		Now:       clock.Now,
	}, nil)
	return &testEnv{Registry: reg, clock: clock, events: rec, cfg: cfg, ctx: context.Background()}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newActor(role models.Role) models.Actor {
	return models.Actor{UserID: uuid.New(), Role: role}
}

func mustEqualDec(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", what, got.StringFixed(2), want)
	}
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
}

func statusPtr(s models.JobStatus) *models.JobStatus { return &s }

func (e *testEnv) createJob(t *testing.T, leader models.Actor, target string, mode models.ExecutionMode) *models.Job {
	t.Helper()
	job, err := e.Jobs.Create(e.ctx, leader, CreateJobInput{
		Title:         "Clean the riverbank",
		Location:      "North pier",
		TargetAmount:  dec(target),
		ExecutionMode: mode,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (e *testEnv) contribute(t *testing.T, who models.Actor, jobID uuid.UUID, amount string) {
	t.Helper()
	if _, err := e.Accounting.CreateContribution(e.ctx, who, jobID, dec(amount), "pay-"+uuid.NewString()); err != nil {
		t.Fatalf("contribute %s: %v", amount, err)
	}
}

func (e *testEnv) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	err := e.Jobs.inTx(e.ctx, func(tx *txScope) error {
		var err error
		job, err = tx.Jobs().GetByID(e.ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	return job
}

func (e *testEnv) wallet(t *testing.T, userID uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := e.Wallets.GetOrCreateWallet(e.ctx, userID)
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	return w
}

func (e *testEnv) setStatus(t *testing.T, who models.Actor, jobID uuid.UUID, to models.JobStatus) *models.Job {
	t.Helper()
	job, err := e.Jobs.Update(e.ctx, who, jobID, UpdateJobInput{Status: statusPtr(to)})
	if err != nil {
		t.Fatalf("set status %s: %v", to, err)
	}
	return job
}

func (e *testEnv) countTx(t *testing.T, userID uuid.UUID, txType models.TransactionType) int {
	t.Helper()
	list, err := e.Wallets.ListTransactions(e.ctx, userID, repositories.TransactionFilter{Type: &txType, Limit: 100})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(list)
}

// workerJob is a funded worker-executed job with the worker selected at bid.
type workerJob struct {
	job          *models.Job
	leader       models.Actor
	worker       models.Actor
	contributors []models.Actor
}

func (e *testEnv) fundedWorkerJob(t *testing.T, bid string) workerJob {
	t.Helper()
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "2000", models.ExecutionModeWorker)
	c1, c2 := newActor(models.RoleContributor), newActor(models.RoleContributor)
	e.contribute(t, c1, job.ID, "1200")
	e.contribute(t, c2, job.ID, "900")

	worker := newActor(models.RoleWorker)
	app, err := e.Applications.Create(e.ctx, worker, job.ID, dec(bid), "I have a truck")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := e.Applications.UpdateStatus(e.ctx, leader, app.ID, models.ApplicationStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return workerJob{job: e.job(t, job.ID), leader: leader, worker: worker, contributors: []models.Actor{c1, c2}}
}

// reviewWorkerJob drives a worker job through execution into its review window.
func (e *testEnv) reviewWorkerJob(t *testing.T, bid string) workerJob {
	t.Helper()
	wj := e.fundedWorkerJob(t, bid)
	e.setStatus(t, wj.worker, wj.job.ID, models.JobStatusInProgress)
	if _, err := e.Proofs.SubmitProof(e.ctx, wj.worker, wj.job.ID, ProofInput{
		BeforePhoto: "https://img.example/before.jpg",
		AfterPhoto:  "https://img.example/after.jpg",
	}); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	e.setStatus(t, wj.worker, wj.job.ID, models.JobStatusAwaitingVerification)
	wj.job = e.setStatus(t, wj.leader, wj.job.ID, models.JobStatusUnderReview)
	return wj
}

// leaderJob is a leader-executed job, fully funded by 600 + 400 at 0% fee.
type leaderJob struct {
	job          *models.Job
	leader       models.Actor
	contributors []models.Actor
}

func (e *testEnv) fundedLeaderJob(t *testing.T) leaderJob {
	t.Helper()
	leader := newActor(models.RoleLeader)
	job := e.createJob(t, leader, "1000", models.ExecutionModeLeader)
	c1, c2 := newActor(models.RoleContributor), newActor(models.RoleContributor)
	e.contribute(t, c1, job.ID, "600")
	e.contribute(t, c2, job.ID, "400")
	return leaderJob{job: e.job(t, job.ID), leader: leader, contributors: []models.Actor{c1, c2}}
}
