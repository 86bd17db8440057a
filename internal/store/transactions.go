package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivgold/parkswap/internal/domain"
)

// TransactionLog is the append-only audit trail of money movement
// attempts. Rows are written before or immediately after each ledger
// call and status-patched as transfers resolve; nothing is deleted.
type TransactionLog struct {
	DB *pgxpool.Pool
}

func NewTransactionLog(db *pgxpool.Pool) *TransactionLog {
	return &TransactionLog{DB: db}
}

const txColumns = `id, payer_id, receiver_id, pin_id, external_payment_id, amount,
	platform_fee, net_amount, status, metadata, created_at`

func (l *TransactionLog) Log(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return l.DB.QueryRow(ctx, `
		INSERT INTO transactions
			(id, payer_id, receiver_id, pin_id, external_payment_id, amount,
			 platform_fee, net_amount, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		t.ID, t.PayerID, t.ReceiverID, t.PinID, t.ExternalPaymentID, t.Amount,
		t.PlatformFee, t.NetAmount, t.Status, t.Metadata,
	).Scan(&t.CreatedAt)
}

// SetStatusByExternalID patches the rows recorded for a given ledger
// transfer as it resolves.
func (l *TransactionLog) SetStatusByExternalID(ctx context.Context, externalID string, status domain.TransactionStatus) error {
	ct, err := l.DB.Exec(ctx,
		`UPDATE transactions SET status = $2 WHERE external_payment_id = $1`,
		externalID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *TransactionLog) FindByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := l.DB.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE external_payment_id = $1`,
		externalID,
	).Scan(&t.ID, &t.PayerID, &t.ReceiverID, &t.PinID, &t.ExternalPaymentID,
		&t.Amount, &t.PlatformFee, &t.NetAmount, &t.Status, &t.Metadata, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByUser returns the audit history where the user is payer or
// receiver, newest first.
func (l *TransactionLog) ListByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := l.DB.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		WHERE payer_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.PayerID, &t.ReceiverID, &t.PinID, &t.ExternalPaymentID,
			&t.Amount, &t.PlatformFee, &t.NetAmount, &t.Status, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
