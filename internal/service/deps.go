package service

import (
	"context"
	"errors"
	"time"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/ledger"
)

// Error taxonomy surfaced to the HTTP layer. LedgerError is carried as
// *ledger.Error; everything local is one of these sentinels.
var (
	ErrPinNotFound          = errors.New("pin not found")
	ErrRequestNotFound      = errors.New("transfer request not found")
	ErrInvalidState         = errors.New("operation not valid in the pin's current state")
	ErrAlreadyResolved      = errors.New("transfer request already resolved")
	ErrConflict             = errors.New("pin state changed concurrently")
	ErrForbidden            = errors.New("caller is not the authorized party")
	ErrSelfReservation      = errors.New("cannot reserve your own parking")
	ErrDuplicateReservation = errors.New("user already holds an active reservation")
	ErrWalletNotConfigured  = errors.New("wallet not set up")
	ErrExpired              = errors.New("transfer request has expired")
)

// PinStore is the pin lifecycle store contract (CAS-based transitions).
type PinStore interface {
	Get(ctx context.Context, id string) (*domain.Pin, error)
	Create(ctx context.Context, p *domain.Pin) error
	SetStatus(ctx context.Context, pinID string, next, expected domain.PinStatus) error
	Reserve(ctx context.Context, pinID, userID string) error
	Release(ctx context.Context, pinID string) error
	TransferOwnership(ctx context.Context, pinID, newOwnerID string) error
	FindReservedBy(ctx context.Context, userID string) (*domain.Pin, error)
	ListVisible(ctx context.Context, excludeUserID string, f domain.PinFilter) ([]domain.Pin, error)
}

// TransferStore persists pending transfer decisions.
type TransferStore interface {
	Create(ctx context.Context, tr *domain.TransferRequest) error
	Get(ctx context.Context, id string) (*domain.TransferRequest, error)
	MarkResponded(ctx context.Context, id string, status domain.TransferStatus) error
	FindPendingByPin(ctx context.Context, pinID string) (*domain.TransferRequest, error)
	ListPendingForReceiver(ctx context.Context, userID string) ([]domain.PendingReservation, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.TransferRequest, error)
}

// TransactionLog is the append-only audit trail.
type TransactionLog interface {
	Log(ctx context.Context, t *domain.Transaction) error
	SetStatusByExternalID(ctx context.Context, externalID string, status domain.TransactionStatus) error
	ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// UserStore resolves user ids to wallet handles and display names.
type UserStore interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// WalletLedger is the external wallet provider boundary.
type WalletLedger interface {
	Balance(ctx context.Context, walletID, currency string) (int64, error)
	Deposit(ctx context.Context, walletID string, amount int64, currency string) (ledger.DepositResult, error)
	Transfer(ctx context.Context, srcWallet, dstWallet string, amount int64, currency string, metadata map[string]any) (ledger.TransferResult, error)
	RespondTransfer(ctx context.Context, transferID string, action ledger.Action, metadata map[string]any) (ledger.TransferResult, error)
}
