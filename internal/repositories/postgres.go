package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by pgx.Tx; every repository runs on one.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Tx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(pgRepos{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgRepos struct {
	q querier
}

func (r pgRepos) Users() UserRepository                 { return &UserRepo{q: r.q} }
func (r pgRepos) Jobs() JobRepository                   { return &JobRepo{q: r.q} }
func (r pgRepos) Contributions() ContributionRepository { return &ContributionRepo{q: r.q} }
func (r pgRepos) Applications() ApplicationRepository   { return &ApplicationRepo{q: r.q} }
func (r pgRepos) Proofs() ProofRepository               { return &ProofRepo{q: r.q} }
func (r pgRepos) Disputes() DisputeRepository           { return &DisputeRepo{q: r.q} }
func (r pgRepos) Expenses() ExpenseRepository           { return &ExpenseRepo{q: r.q} }
func (r pgRepos) Wallets() WalletRepository             { return &WalletRepo{q: r.q} }
func (r pgRepos) Withdrawals() WithdrawalRepository     { return &WithdrawRepo{q: r.q} }
func (r pgRepos) Audit() AuditRepository                { return &AuditRepo{q: r.q} }

func (r pgRepos) Savepoint(ctx context.Context, fn func(r Repos) error) error {
	sp, err := r.q.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(pgRepos{q: sp}); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// mapErr translates driver errors into the package's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
