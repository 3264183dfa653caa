package repositories

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UserRepo struct {
	q querier
}

// Ensure inserts the user if unknown and refreshes the role otherwise.
func (r *UserRepo) Ensure(ctx context.Context, id uuid.UUID, role models.Role) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (id, role)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			updated_at = now()
		WHERE users.role <> EXCLUDED.role
	`, id, role)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.q.QueryRow(ctx, `
		SELECT id, role, total_earnings, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Role, &u.TotalEarnings, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// AddEarnings credits lifetime earnings, registering the user as a member if
// it was never seen before.
func (r *UserRepo) AddEarnings(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (id, role, total_earnings)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			total_earnings = users.total_earnings + EXCLUDED.total_earnings,
			updated_at = now()
	`, id, models.RoleMember, amount)
	return err
}
