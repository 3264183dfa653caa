package services

import (
	"context"

	"github.com/civic-cleanup/escrow/internal/models"
)

type UserService struct {
	base
}

func NewUserService(d Deps) *UserService {
	return &UserService{base: newBase(d)}
}

// Profile is the caller's account together with their wallet.
type Profile struct {
	User   *models.User   `json:"user"`
	Wallet *models.Wallet `json:"wallet"`
}

// Register records the user under the role carried by their token.
func (s *UserService) Register(ctx context.Context, actor models.Actor) (*models.User, error) {
	if !actor.Role.IsValid() {
		return nil, validationErr("unknown role %q", actor.Role)
	}
	var u *models.User
	err := s.inTx(ctx, func(tx *txScope) error {
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}
		var err error
		u, err = tx.Users().GetByID(ctx, actor.UserID)
		return err
	})
	return u, err
}

func (s *UserService) Me(ctx context.Context, actor models.Actor) (*Profile, error) {
	var p Profile
	err := s.inTx(ctx, func(tx *txScope) error {
		if err := tx.Users().Ensure(ctx, actor.UserID, actor.Role); err != nil {
			return err
		}
		var err error
		if p.User, err = tx.Users().GetByID(ctx, actor.UserID); err != nil {
			return mapNotFound(err, "user")
		}
		p.Wallet, err = tx.Wallets().GetOrCreate(ctx, actor.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
