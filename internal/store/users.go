package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivgold/parkswap/internal/domain"
)

// UserStore reads the identity slice the reservation core needs. User
// records themselves are owned by the identity provider; this table
// only mirrors wallet handles and display names.
type UserStore struct {
	DB *pgxpool.Pool
}

func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{DB: db}
}

func (s *UserStore) Get(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	var fullName, walletID *string
	err := s.DB.QueryRow(ctx,
		`SELECT id, email, full_name, wallet_id FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &fullName, &walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if fullName != nil {
		u.FullName = *fullName
	}
	if walletID != nil {
		u.WalletID = *walletID
	}
	return &u, nil
}
