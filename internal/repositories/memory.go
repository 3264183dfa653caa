package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps all state in process. A single mutex serializes
// transactions, which gives the same isolation the row locks give on
// Postgres. Rolled back transactions restore a snapshot taken at Begin.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

// WithClock replaces the clock used for created_at/updated_at stamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Tx(ctx context.Context, fn func(r Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.clone()
	if err := fn(&memRepos{st: s.state, now: s.now}); err != nil {
		*s.state = *snap
		return err
	}
	return nil
}

type memState struct {
	users         map[uuid.UUID]models.User
	jobs          map[uuid.UUID]models.Job
	jobOrder      []uuid.UUID
	contributions []models.Contribution
	applications  []models.WorkerApplication
	proofs        map[uuid.UUID]models.JobProof
	drafts        map[uuid.UUID]models.JobProofDraft
	disputes      []models.Dispute
	expenses      []models.JobExpense
	wallets       map[uuid.UUID]models.Wallet
	transactions  []models.WalletTransaction
	withdrawals   []models.WithdrawalRequest
	audit         []models.AuditLog
}

func newMemState() *memState {
	return &memState{
		users:   map[uuid.UUID]models.User{},
		jobs:    map[uuid.UUID]models.Job{},
		proofs:  map[uuid.UUID]models.JobProof{},
		drafts:  map[uuid.UUID]models.JobProofDraft{},
		wallets: map[uuid.UUID]models.Wallet{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.jobs {
		c.jobs[k] = cloneJob(v)
	}
	c.jobOrder = append([]uuid.UUID(nil), st.jobOrder...)
	c.contributions = append([]models.Contribution(nil), st.contributions...)
	c.applications = append([]models.WorkerApplication(nil), st.applications...)
	for k, v := range st.proofs {
		c.proofs[k] = cloneProof(v)
	}
	for k, v := range st.drafts {
		c.drafts[k] = v
	}
	c.disputes = make([]models.Dispute, len(st.disputes))
	for i, d := range st.disputes {
		c.disputes[i] = cloneDispute(d)
	}
	c.expenses = append([]models.JobExpense(nil), st.expenses...)
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	c.transactions = append([]models.WalletTransaction(nil), st.transactions...)
	c.withdrawals = make([]models.WithdrawalRequest, len(st.withdrawals))
	for i, w := range st.withdrawals {
		c.withdrawals[i] = cloneWithdrawal(w)
	}
	c.audit = append([]models.AuditLog(nil), st.audit...)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneJob(j models.Job) models.Job {
	j.SelectedWorkerID = clonePtr(j.SelectedWorkerID)
	j.ReviewDeadline = clonePtr(j.ReviewDeadline)
	md := j.Metadata
	md.RefundDetails = append([]models.RefundDetail(nil), md.RefundDetails...)
	md.TotalSpent = clonePtr(md.TotalSpent)
	md.RemainingBalance = clonePtr(md.RemainingBalance)
	md.RefundStagedAt = clonePtr(md.RefundStagedAt)
	md.RefundProcessedAt = clonePtr(md.RefundProcessedAt)
	md.Payout = clonePtr(md.Payout)
	md.CancelledAt = clonePtr(md.CancelledAt)
	j.Metadata = md
	return j
}

func cloneDetails(d models.DisputeDetails) models.DisputeDetails {
	d.Evidence = append([]string(nil), d.Evidence...)
	d.WorkerResponses = append([]models.DisputeEntry(nil), d.WorkerResponses...)
	d.LeaderClarifications = append([]models.DisputeEntry(nil), d.LeaderClarifications...)
	d.AdminDecision = clonePtr(d.AdminDecision)
	return d
}

func cloneDispute(d models.Dispute) models.Dispute {
	d.Details = cloneDetails(d.Details)
	return d
}

func cloneProofMetadata(md models.ProofMetadata) models.ProofMetadata {
	if md.DisputeDetails != nil {
		m := make(map[uuid.UUID]models.DisputeDetails, len(md.DisputeDetails))
		for k, v := range md.DisputeDetails {
			m[k] = cloneDetails(v)
		}
		md.DisputeDetails = m
	}
	return md
}

func cloneProof(p models.JobProof) models.JobProof {
	p.Metadata = cloneProofMetadata(p.Metadata)
	return p
}

func cloneWithdrawal(w models.WithdrawalRequest) models.WithdrawalRequest {
	w.ProcessedAt = clonePtr(w.ProcessedAt)
	return w
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit = clampLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	return items
}

type memRepos struct {
	st  *memState
	now func() time.Time
}

func (r *memRepos) Users() UserRepository                 { return &memUsers{r} }
func (r *memRepos) Jobs() JobRepository                   { return &memJobs{r} }
func (r *memRepos) Contributions() ContributionRepository { return &memContributions{r} }
func (r *memRepos) Applications() ApplicationRepository   { return &memApplications{r} }
func (r *memRepos) Proofs() ProofRepository               { return &memProofs{r} }
func (r *memRepos) Disputes() DisputeRepository           { return &memDisputes{r} }
func (r *memRepos) Expenses() ExpenseRepository           { return &memExpenses{r} }
func (r *memRepos) Wallets() WalletRepository             { return &memWallets{r} }
func (r *memRepos) Withdrawals() WithdrawalRepository     { return &memWithdrawals{r} }
func (r *memRepos) Audit() AuditRepository                { return &memAudit{r} }

func (r *memRepos) Savepoint(ctx context.Context, fn func(r Repos) error) error {
	snap := r.st.clone()
	if err := fn(r); err != nil {
		*r.st = *snap
		return err
	}
	return nil
}

// --- Users ---

type memUsers struct{ *memRepos }

func (r *memUsers) Ensure(_ context.Context, id uuid.UUID, role models.Role) error {
	now := r.now()
	u, ok := r.st.users[id]
	if !ok {
		r.st.users[id] = models.User{ID: id, Role: role, TotalEarnings: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		return nil
	}
	if u.Role != role {
		u.Role = role
		u.UpdatedAt = now
		r.st.users[id] = u
	}
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) AddEarnings(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	u, ok := r.st.users[id]
	if !ok {
		u = models.User{ID: id, Role: models.RoleMember, TotalEarnings: decimal.Zero, CreatedAt: r.now()}
	}
	u.TotalEarnings = u.TotalEarnings.Add(amount)
	u.UpdatedAt = r.now()
	r.st.users[id] = u
	return nil
}

// --- Jobs ---

type memJobs struct{ *memRepos }

func (r *memJobs) Create(_ context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.CreatedAt = r.now()
	j.UpdatedAt = j.CreatedAt
	r.st.jobs[j.ID] = cloneJob(*j)
	r.st.jobOrder = append(r.st.jobOrder, j.ID)
	return nil
}

func (r *memJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	j, ok := r.st.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j = cloneJob(j)
	return &j, nil
}

func (r *memJobs) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return r.GetByID(ctx, id)
}

func (r *memJobs) Update(_ context.Context, j *models.Job, expected models.JobStatus) error {
	cur, ok := r.st.jobs[j.ID]
	if !ok || cur.Status != expected {
		return ErrStale
	}
	j.UpdatedAt = r.now()
	// leader and creation time are immutable, as in the SQL update
	j.LeaderID = cur.LeaderID
	j.CreatedAt = cur.CreatedAt
	r.st.jobs[j.ID] = cloneJob(*j)
	return nil
}

func (r *memJobs) contributedTo(jobID, userID uuid.UUID) bool {
	for _, c := range r.st.contributions {
		if c.JobID == jobID && c.UserID == userID {
			return true
		}
	}
	return false
}

func (r *memJobs) List(_ context.Context, f JobFilter) ([]models.Job, error) {
	var out []models.Job
	for i := len(r.st.jobOrder) - 1; i >= 0; i-- {
		j := r.st.jobs[r.st.jobOrder[i]]
		if f.Status != nil && j.Status != *f.Status {
			continue
		}
		if f.LeaderID != nil && j.LeaderID != *f.LeaderID {
			continue
		}
		if f.ContributorID != nil && !r.contributedTo(j.ID, *f.ContributorID) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return window(out, f.Limit, f.Offset), nil
}

func (r *memJobs) ListExpiredReviews(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []models.Job
	for _, j := range r.st.jobs {
		if j.Status == models.JobStatusUnderReview && j.ReviewExpired(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].ReviewDeadline.Equal(*due[b].ReviewDeadline) {
			return due[a].ReviewDeadline.Before(*due[b].ReviewDeadline)
		}
		return due[a].ID.String() < due[b].ID.String()
	})
	var ids []uuid.UUID
	for i := 0; i < len(due) && i < limit; i++ {
		ids = append(ids, due[i].ID)
	}
	return ids, nil
}

// --- Contributions ---

type memContributions struct{ *memRepos }

func (r *memContributions) Create(_ context.Context, c *models.Contribution) error {
	c.ID = uuid.New()
	c.CreatedAt = r.now()
	r.st.contributions = append(r.st.contributions, *c)
	return nil
}

func (r *memContributions) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.Contribution, error) {
	var out []models.Contribution
	for _, c := range r.st.contributions {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memContributions) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Contribution, error) {
	var out []models.Contribution
	for i := len(r.st.contributions) - 1; i >= 0; i-- {
		if c := r.st.contributions[i]; c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memContributions) SumSuccessful(_ context.Context, jobID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range r.st.contributions {
		if c.JobID == jobID && c.PaymentStatus == models.PaymentStatusSuccess {
			sum = sum.Add(c.Amount)
		}
	}
	return sum, nil
}

func (r *memContributions) TotalsByContributor(_ context.Context, jobID uuid.UUID) ([]models.ContributorTotal, error) {
	byUser := map[uuid.UUID]*models.ContributorTotal{}
	for _, c := range r.st.contributions {
		if c.JobID != jobID || c.PaymentStatus != models.PaymentStatusSuccess {
			continue
		}
		t, ok := byUser[c.UserID]
		if !ok {
			t = &models.ContributorTotal{UserID: c.UserID, Amount: decimal.Zero, WalletAmount: decimal.Zero}
			byUser[c.UserID] = t
		}
		t.Amount = t.Amount.Add(c.Amount)
		if c.Source == models.ContributionSourceWallet {
			t.WalletAmount = t.WalletAmount.Add(c.Amount)
		}
	}
	out := make([]models.ContributorTotal, 0, len(byUser))
	for _, t := range byUser {
		out = append(out, *t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UserID.String() < out[b].UserID.String() })
	return out, nil
}

func (r *memContributions) HasSuccessful(_ context.Context, jobID, userID uuid.UUID) (bool, error) {
	for _, c := range r.st.contributions {
		if c.JobID == jobID && c.UserID == userID && c.PaymentStatus == models.PaymentStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (r *memContributions) MarkRefunded(_ context.Context, jobID uuid.UUID) ([]models.Contribution, error) {
	var out []models.Contribution
	for i := range r.st.contributions {
		c := &r.st.contributions[i]
		if c.JobID == jobID && c.PaymentStatus == models.PaymentStatusSuccess && !c.Refunded {
			c.Refunded = true
			out = append(out, *c)
		}
	}
	return out, nil
}

// --- Applications ---

type memApplications struct{ *memRepos }

func (r *memApplications) Create(_ context.Context, a *models.WorkerApplication) error {
	for _, x := range r.st.applications {
		if x.JobID == a.JobID && x.WorkerID == a.WorkerID {
			return ErrDuplicate
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = r.now()
	a.UpdatedAt = a.CreatedAt
	r.st.applications = append(r.st.applications, *a)
	return nil
}

func (r *memApplications) find(match func(models.WorkerApplication) bool) (*models.WorkerApplication, error) {
	for _, a := range r.st.applications {
		if match(a) {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memApplications) GetByID(_ context.Context, id uuid.UUID) (*models.WorkerApplication, error) {
	return r.find(func(a models.WorkerApplication) bool { return a.ID == id })
}

func (r *memApplications) GetByJobAndWorker(_ context.Context, jobID, workerID uuid.UUID) (*models.WorkerApplication, error) {
	return r.find(func(a models.WorkerApplication) bool { return a.JobID == jobID && a.WorkerID == workerID })
}

func (r *memApplications) GetAccepted(_ context.Context, jobID uuid.UUID) (*models.WorkerApplication, error) {
	return r.find(func(a models.WorkerApplication) bool {
		return a.JobID == jobID && a.Status == models.ApplicationStatusAccepted
	})
}

func (r *memApplications) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.WorkerApplication, error) {
	var out []models.WorkerApplication
	for _, a := range r.st.applications {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memApplications) UpdateStatus(_ context.Context, id uuid.UUID, status models.ApplicationStatus) error {
	idx := -1
	for i, a := range r.st.applications {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	target := &r.st.applications[idx]
	if status == models.ApplicationStatusAccepted {
		for _, a := range r.st.applications {
			if a.JobID == target.JobID && a.ID != id && a.Status == models.ApplicationStatusAccepted {
				return ErrDuplicate
			}
		}
	}
	target.Status = status
	target.UpdatedAt = r.now()
	return nil
}

func (r *memApplications) RejectPending(_ context.Context, jobID, exceptID uuid.UUID) (int64, error) {
	var n int64
	for i := range r.st.applications {
		a := &r.st.applications[i]
		if a.JobID == jobID && a.ID != exceptID && a.Status == models.ApplicationStatusPending {
			a.Status = models.ApplicationStatusRejected
			a.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

// --- Proofs ---

type memProofs struct{ *memRepos }

func (r *memProofs) Create(_ context.Context, p *models.JobProof) error {
	if _, ok := r.st.proofs[p.JobID]; ok {
		return ErrDuplicate
	}
	p.ID = uuid.New()
	p.CreatedAt = r.now()
	r.st.proofs[p.JobID] = cloneProof(*p)
	return nil
}

func (r *memProofs) GetByJob(_ context.Context, jobID uuid.UUID) (*models.JobProof, error) {
	p, ok := r.st.proofs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	p = cloneProof(p)
	return &p, nil
}

func (r *memProofs) UpdateMetadata(_ context.Context, jobID uuid.UUID, md models.ProofMetadata) error {
	p, ok := r.st.proofs[jobID]
	if !ok {
		return ErrNotFound
	}
	p.Metadata = cloneProofMetadata(md)
	r.st.proofs[jobID] = p
	return nil
}

func (r *memProofs) UpsertDraft(_ context.Context, d *models.JobProofDraft) error {
	d.UpdatedAt = r.now()
	r.st.drafts[d.JobID] = *d
	return nil
}

func (r *memProofs) GetDraft(_ context.Context, jobID uuid.UUID) (*models.JobProofDraft, error) {
	d, ok := r.st.drafts[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *memProofs) DeleteDraft(_ context.Context, jobID uuid.UUID) error {
	delete(r.st.drafts, jobID)
	return nil
}

// --- Disputes ---

type memDisputes struct{ *memRepos }

func (r *memDisputes) Create(_ context.Context, d *models.Dispute) error {
	for _, x := range r.st.disputes {
		if x.JobID == d.JobID && x.RaisedByID == d.RaisedByID {
			return ErrDuplicate
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = r.now()
	d.UpdatedAt = d.CreatedAt
	r.st.disputes = append(r.st.disputes, cloneDispute(*d))
	return nil
}

func (r *memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	for _, d := range r.st.disputes {
		if d.ID == id {
			d = cloneDispute(d)
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memDisputes) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.GetByID(ctx, id)
}

func (r *memDisputes) List(_ context.Context, f DisputeFilter) ([]models.Dispute, error) {
	var out []models.Dispute
	for i := len(r.st.disputes) - 1; i >= 0; i-- {
		d := r.st.disputes[i]
		if f.JobID != nil && d.JobID != *f.JobID {
			continue
		}
		if f.RaisedByID != nil && d.RaisedByID != *f.RaisedByID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		out = append(out, cloneDispute(d))
	}
	return window(out, f.Limit, f.Offset), nil
}

func (r *memDisputes) Update(_ context.Context, d *models.Dispute) error {
	for i := range r.st.disputes {
		if r.st.disputes[i].ID == d.ID {
			d.UpdatedAt = r.now()
			cur := &r.st.disputes[i]
			cur.Status = d.Status
			cur.Details = cloneDetails(d.Details)
			cur.UpdatedAt = d.UpdatedAt
			return nil
		}
	}
	return ErrNotFound
}

func (r *memDisputes) CountOpen(_ context.Context, jobID uuid.UUID) (int, error) {
	n := 0
	for _, d := range r.st.disputes {
		if d.JobID == jobID && d.Status == models.DisputeStatusOpen {
			n++
		}
	}
	return n, nil
}

// --- Expenses ---

type memExpenses struct{ *memRepos }

func (r *memExpenses) Create(_ context.Context, e *models.JobExpense) error {
	e.ID = uuid.New()
	e.CreatedAt = r.now()
	r.st.expenses = append(r.st.expenses, *e)
	return nil
}

func (r *memExpenses) ListByJob(_ context.Context, jobID uuid.UUID) ([]models.JobExpense, error) {
	var out []models.JobExpense
	for _, e := range r.st.expenses {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memExpenses) SumByJob(_ context.Context, jobID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range r.st.expenses {
		if e.JobID == jobID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

// --- Wallets ---

type memWallets struct{ *memRepos }

func (r *memWallets) GetOrCreate(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := r.st.wallets[userID]
	if !ok {
		now := r.now()
		w = models.Wallet{
			UserID:           userID,
			AvailableBalance: decimal.Zero,
			FrozenBalance:    decimal.Zero,
			TotalDeposited:   decimal.Zero,
			TotalSpent:       decimal.Zero,
			TotalRefunded:    decimal.Zero,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		r.st.wallets[userID] = w
	}
	return &w, nil
}

func (r *memWallets) GetForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.GetOrCreate(ctx, userID)
}

// errNegativeBalance mirrors the CHECK constraints on the wallets table.
var errNegativeBalance = errors.New("wallet balance would go negative")

func (r *memWallets) Update(_ context.Context, w *models.Wallet) error {
	cur, ok := r.st.wallets[w.UserID]
	if !ok {
		return ErrNotFound
	}
	if w.AvailableBalance.IsNegative() || w.FrozenBalance.IsNegative() {
		return errNegativeBalance
	}
	w.CreatedAt = cur.CreatedAt
	w.UpdatedAt = r.now()
	r.st.wallets[w.UserID] = *w
	return nil
}

func (r *memWallets) AppendTransaction(_ context.Context, t *models.WalletTransaction) error {
	if t.Type == models.TransactionTypeDeposit && t.ReferenceID != "" {
		for _, x := range r.st.transactions {
			if x.UserID == t.UserID && x.Type == models.TransactionTypeDeposit && x.ReferenceID == t.ReferenceID {
				return ErrDuplicate
			}
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = r.now()
	t.JobID = clonePtr(t.JobID)
	r.st.transactions = append(r.st.transactions, *t)
	return nil
}

func (r *memWallets) ListTransactions(_ context.Context, userID uuid.UUID, f TransactionFilter) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for i := len(r.st.transactions) - 1; i >= 0; i-- {
		t := r.st.transactions[i]
		if t.UserID != userID {
			continue
		}
		if f.JobID != nil && (t.JobID == nil || *t.JobID != *f.JobID) {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		out = append(out, t)
	}
	return window(out, f.Limit, f.Offset), nil
}

// --- Withdrawals ---

type memWithdrawals struct{ *memRepos }

func (r *memWithdrawals) Create(_ context.Context, w *models.WithdrawalRequest) error {
	w.ID = uuid.New()
	w.CreatedAt = r.now()
	w.UpdatedAt = w.CreatedAt
	r.st.withdrawals = append(r.st.withdrawals, cloneWithdrawal(*w))
	return nil
}

func (r *memWithdrawals) GetForUpdate(_ context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	for _, w := range r.st.withdrawals {
		if w.ID == id {
			w = cloneWithdrawal(w)
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memWithdrawals) Update(_ context.Context, w *models.WithdrawalRequest) error {
	for i := range r.st.withdrawals {
		cur := &r.st.withdrawals[i]
		if cur.ID == w.ID {
			w.UpdatedAt = r.now()
			cur.Status = w.Status
			cur.AdminNote = w.AdminNote
			cur.ProcessedAt = clonePtr(w.ProcessedAt)
			cur.UpdatedAt = w.UpdatedAt
			return nil
		}
	}
	return ErrNotFound
}

func (r *memWithdrawals) list(match func(models.WithdrawalRequest) bool, limit, offset int) []models.WithdrawalRequest {
	var out []models.WithdrawalRequest
	for i := len(r.st.withdrawals) - 1; i >= 0; i-- {
		if w := r.st.withdrawals[i]; match(w) {
			out = append(out, cloneWithdrawal(w))
		}
	}
	return window(out, limit, offset)
}

func (r *memWithdrawals) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.WithdrawalRequest, error) {
	return r.list(func(w models.WithdrawalRequest) bool { return w.UserID == userID }, limit, offset), nil
}

func (r *memWithdrawals) ListByStatus(_ context.Context, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	return r.list(func(w models.WithdrawalRequest) bool { return w.Status == status }, limit, offset), nil
}

// --- Audit ---

type memAudit struct{ *memRepos }

func (r *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	entry.ID = uuid.New()
	entry.CreatedAt = r.now()
	r.st.audit = append(r.st.audit, entry)
	return nil
}

func (r *memAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.AuditLog
	for i := len(r.st.audit) - 1; i >= 0; i-- {
		l := r.st.audit[i]
		if l.EntityType == entityType && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
