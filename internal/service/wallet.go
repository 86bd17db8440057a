package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/store"
)

// Wallets answers money queries for a user: current ledger balance and
// transaction history. Balances are always fetched fresh from the
// ledger, never cached durably.
type Wallets struct {
	users    UserStore
	txlog    TransactionLog
	wallet   WalletLedger
	currency string
}

func NewWallets(users UserStore, txlog TransactionLog, wallet WalletLedger, currency string) *Wallets {
	return &Wallets{users: users, txlog: txlog, wallet: wallet, currency: currency}
}

func (w *Wallets) Balance(ctx context.Context, userID string) (int64, string, error) {
	u, err := w.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, "", ErrWalletNotConfigured
		}
		return 0, "", fmt.Errorf("load user: %w", err)
	}
	if u.WalletID == "" {
		return 0, "", ErrWalletNotConfigured
	}
	balance, err := w.wallet.Balance(ctx, u.WalletID, w.currency)
	if err != nil {
		return 0, "", err
	}
	return balance, w.currency, nil
}

// History lists the user's audit trail, newest first.
func (w *Wallets) History(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return w.txlog.ListByUser(ctx, userID)
}
