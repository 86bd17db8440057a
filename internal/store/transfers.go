package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivgold/parkswap/internal/domain"
)

// TransferRequestStore persists pending wallet-transfer decisions.
// Rows move to a terminal status exactly once and are never deleted.
type TransferRequestStore struct {
	DB *pgxpool.Pool
}

func NewTransferRequestStore(db *pgxpool.Pool) *TransferRequestStore {
	return &TransferRequestStore{DB: db}
}

const transferColumns = `id, transfer_id, pin_id, sender_id, receiver_id, amount, currency,
	status, sender_wallet_id, receiver_wallet_id, expiration, responded_at, created_at`

func (s *TransferRequestStore) Create(ctx context.Context, tr *domain.TransferRequest) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tr.Status = domain.TransferPending
	return s.DB.QueryRow(ctx, `
		INSERT INTO transfer_requests
			(id, transfer_id, pin_id, sender_id, receiver_id, amount, currency,
			 status, sender_wallet_id, receiver_wallet_id, expiration)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		tr.ID, tr.TransferID, tr.PinID, tr.SenderID, tr.ReceiverID, tr.Amount, tr.Currency,
		tr.Status, tr.SenderWalletID, tr.ReceiverWalletID, tr.Expiration,
	).Scan(&tr.CreatedAt)
}

func (s *TransferRequestStore) Get(ctx context.Context, id string) (*domain.TransferRequest, error) {
	var tr domain.TransferRequest
	err := s.DB.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests WHERE id = $1`, id,
	).Scan(&tr.ID, &tr.TransferID, &tr.PinID, &tr.SenderID, &tr.ReceiverID, &tr.Amount,
		&tr.Currency, &tr.Status, &tr.SenderWalletID, &tr.ReceiverWalletID,
		&tr.Expiration, &tr.RespondedAt, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tr, nil
}

// MarkResponded moves a pending request to a terminal status. The
// update is guarded on pending so a request resolves at most once.
func (s *TransferRequestStore) MarkResponded(ctx context.Context, id string, status domain.TransferStatus) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE transfer_requests SET status = $2, responded_at = now()
		WHERE id = $1 AND status = $3`,
		id, status, domain.TransferPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// FindPendingByPin returns the pin's open escrow request, or nil when
// none is pending. At most one such row exists per pin.
func (s *TransferRequestStore) FindPendingByPin(ctx context.Context, pinID string) (*domain.TransferRequest, error) {
	var tr domain.TransferRequest
	err := s.DB.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests WHERE pin_id = $1 AND status = $2`,
		pinID, domain.TransferPending,
	).Scan(&tr.ID, &tr.TransferID, &tr.PinID, &tr.SenderID, &tr.ReceiverID, &tr.Amount,
		&tr.Currency, &tr.Status, &tr.SenderWalletID, &tr.ReceiverWalletID,
		&tr.Expiration, &tr.RespondedAt, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tr, nil
}

// ListPendingForReceiver is the notification projection: pending
// requests addressed to the user, joined with the sender's display
// name and the pin's position.
func (s *TransferRequestStore) ListPendingForReceiver(ctx context.Context, userID string) ([]domain.PendingReservation, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT tr.id, tr.transfer_id, tr.pin_id, tr.sender_id, tr.receiver_id, tr.amount,
		       tr.currency, tr.status, tr.sender_wallet_id, tr.receiver_wallet_id,
		       tr.expiration, tr.responded_at, tr.created_at,
		       COALESCE(u.full_name, 'Unknown User'), p.lat, p.lng
		FROM transfer_requests tr
		JOIN pins p ON p.id = tr.pin_id
		LEFT JOIN users u ON u.id = tr.sender_id
		WHERE tr.receiver_id = $1 AND tr.status = $2
		ORDER BY tr.created_at DESC`,
		userID, domain.TransferPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingReservation
	for rows.Next() {
		var n domain.PendingReservation
		if err := rows.Scan(&n.ID, &n.TransferID, &n.PinID, &n.SenderID, &n.ReceiverID,
			&n.Amount, &n.Currency, &n.Status, &n.SenderWalletID, &n.ReceiverWalletID,
			&n.Expiration, &n.RespondedAt, &n.CreatedAt,
			&n.SenderName, &n.PinLat, &n.PinLng); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListExpired returns pending requests whose decision window closed
// before the given instant; the reconciliation sweep resolves them.
func (s *TransferRequestStore) ListExpired(ctx context.Context, now time.Time) ([]domain.TransferRequest, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests
		WHERE status = $1 AND expiration < $2`,
		domain.TransferPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransferRequest
	for rows.Next() {
		var tr domain.TransferRequest
		if err := rows.Scan(&tr.ID, &tr.TransferID, &tr.PinID, &tr.SenderID, &tr.ReceiverID,
			&tr.Amount, &tr.Currency, &tr.Status, &tr.SenderWalletID, &tr.ReceiverWalletID,
			&tr.Expiration, &tr.RespondedAt, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
