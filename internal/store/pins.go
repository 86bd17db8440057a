package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivgold/parkswap/internal/domain"
)

// PinStore persists parking-spot claims. Status transitions go through
// conditional updates so two concurrent reservations on the same pin
// cannot both succeed.
type PinStore struct {
	DB *pgxpool.Pool
}

func NewPinStore(db *pgxpool.Pool) *PinStore {
	return &PinStore{DB: db}
}

const pinColumns = `id, owner_id, lat, lng, parking_zone, status, reserved_by, created_at`

func scanPin(row pgx.Row) (*domain.Pin, error) {
	var p domain.Pin
	err := row.Scan(&p.ID, &p.OwnerID, &p.Lat, &p.Lng, &p.ParkingZone, &p.Status, &p.ReservedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PinStore) Get(ctx context.Context, id string) (*domain.Pin, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+pinColumns+` FROM pins WHERE id = $1`, id)
	return scanPin(row)
}

// Create inserts a new waiting pin, retiring any prior live pins of
// the same owner in the same transaction. One live pin per user is an
// invariant, not best-effort cleanup. Retired pins stay in the table
// as cancelled rows: transfer_requests reference pins by id forever,
// so pins are never physically deleted.
func (s *PinStore) Create(ctx context.Context, p *domain.Pin) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE pins SET status = $2, reserved_by = NULL
		WHERE owner_id = $1 AND status <> $2`,
		p.OwnerID, domain.PinCancelled); err != nil {
		return fmt.Errorf("retire prior pins: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = domain.PinWaiting
	err = tx.QueryRow(ctx, `
		INSERT INTO pins (id, owner_id, lat, lng, parking_zone, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.OwnerID, p.Lat, p.Lng, p.ParkingZone, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pin: %w", err)
	}

	return tx.Commit(ctx)
}

// SetStatus is a compare-and-swap on the pin's status column. Zero
// rows affected means the pin vanished or its status changed under us.
func (s *PinStore) SetStatus(ctx context.Context, pinID string, next, expected domain.PinStatus) error {
	ct, err := s.DB.Exec(ctx,
		`UPDATE pins SET status = $2 WHERE id = $1 AND status = $3`,
		pinID, next, expected)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Reserve swaps an active pin to reserved and records who holds it.
func (s *PinStore) Reserve(ctx context.Context, pinID, userID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE pins SET status = $2, reserved_by = $3
		WHERE id = $1 AND status = $4`,
		pinID, domain.PinReserved, userID, domain.PinActive)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Release swaps a reserved pin back to active and clears the holder.
func (s *PinStore) Release(ctx context.Context, pinID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE pins SET status = $2, reserved_by = NULL
		WHERE id = $1 AND status = $3`,
		pinID, domain.PinActive, domain.PinReserved)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// TransferOwnership performs the spot exchange: the new owner gives up
// any pins they previously held (retired to cancelled, never deleted,
// since reservation history references them), then takes over the
// reserved pin, which returns to waiting with the hold cleared.
func (s *PinStore) TransferOwnership(ctx context.Context, pinID, newOwnerID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE pins SET status = $3, reserved_by = NULL
		WHERE owner_id = $1 AND id <> $2 AND status <> $3`,
		newOwnerID, pinID, domain.PinCancelled); err != nil {
		return fmt.Errorf("retire new owner's pins: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE pins SET owner_id = $2, status = $3, reserved_by = NULL
		WHERE id = $1 AND status = $4`,
		pinID, newOwnerID, domain.PinWaiting, domain.PinReserved)
	if err != nil {
		return fmt.Errorf("reassign pin: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}

	return tx.Commit(ctx)
}

// FindReservedBy returns the pin a user currently holds a reservation
// on, or nil if they hold none.
func (s *PinStore) FindReservedBy(ctx context.Context, userID string) (*domain.Pin, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+pinColumns+` FROM pins WHERE reserved_by = $1 AND status = $2`,
		userID, domain.PinReserved)
	p, err := scanPin(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// ListVisible returns the map projection: all active pins except the
// caller's own, plus reserved pins the caller is party to. Zone
// filtering happens in SQL; radius filtering is applied afterwards
// with the Haversine distance.
func (s *PinStore) ListVisible(ctx context.Context, excludeUserID string, f domain.PinFilter) ([]domain.Pin, error) {
	q := `SELECT ` + pinColumns + ` FROM pins
		WHERE ((status = 'active' AND owner_id <> $1)
		   OR (status = 'reserved' AND (owner_id = $1 OR reserved_by = $1)))`
	args := []any{excludeUserID}
	if f.Zone != nil {
		args = append(args, *f.Zone)
		q += fmt.Sprintf(" AND parking_zone = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Pin
	for rows.Next() {
		var p domain.Pin
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Lat, &p.Lng, &p.ParkingZone, &p.Status, &p.ReservedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		if f.Lat != nil && f.Lng != nil {
			if domain.DistanceKm(*f.Lat, *f.Lng, p.Lat, p.Lng) > f.RadiusKm {
				continue
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
