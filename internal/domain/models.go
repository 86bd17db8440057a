package domain

import (
	"encoding/json"
	"time"
)

// PinStatus is the visibility state of a parking-spot claim.
type PinStatus string

const (
	PinWaiting   PinStatus = "waiting"  // dropped but not yet published
	PinActive    PinStatus = "active"   // owner is leaving, visible to others
	PinReserved  PinStatus = "reserved" // held by a pending transfer
	PinCancelled PinStatus = "cancelled"
)

// Pin is one active parking-spot claim. A user holds at most one
// non-cancelled pin at a time; ReservedBy is set iff Status is reserved.
type Pin struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ParkingZone *int      `json:"parking_zone,omitempty"`
	Status      PinStatus `json:"status"`
	ReservedBy  *string   `json:"reserved_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransferStatus tracks a wallet-to-wallet transfer request. Once a
// request leaves pending it is terminal.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferDeclined TransferStatus = "declined"
	TransferExpired  TransferStatus = "expired"
)

// TransferRequest is one pending wallet transfer awaiting the pin
// owner's decision. Rows are never deleted; they are the audit trail
// linking a pin to a ledger transfer.
type TransferRequest struct {
	ID               string         `json:"id"`
	TransferID       string         `json:"transfer_id"` // external ledger handle
	PinID            string         `json:"pin_id"`
	SenderID         string         `json:"sender_id"`   // reserving user
	ReceiverID       string         `json:"receiver_id"` // pin owner
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	Status           TransferStatus `json:"status"`
	SenderWalletID   string         `json:"sender_wallet_id"`
	ReceiverWalletID string         `json:"receiver_wallet_id"`
	Expiration       time.Time      `json:"expiration"`
	RespondedAt      *time.Time     `json:"responded_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Expired reports whether the request's decision window has passed.
// Only a pending request can expire; resolved ones keep their outcome.
func (tr *TransferRequest) Expired(now time.Time) bool {
	return tr.Status == TransferPending && now.After(tr.Expiration)
}

// TransactionStatus mirrors the lifecycle of the ledger movement a
// Transaction row records.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// Transaction is an append-only audit record of a money movement
// attempt. Status is patched as the corresponding transfer resolves;
// rows are never deleted.
type Transaction struct {
	ID                string            `json:"id"`
	PayerID           string            `json:"payer_id"`
	ReceiverID        string            `json:"receiver_id"`
	PinID             string            `json:"pin_id"`
	ExternalPaymentID string            `json:"external_payment_id"`
	Amount            int64             `json:"amount"`
	PlatformFee       int64             `json:"platform_fee"`
	NetAmount         int64             `json:"net_amount"`
	Status            TransactionStatus `json:"status"`
	Metadata          json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// User is the slice of the identity record the reservation core needs:
// the external wallet handle and a display name for notifications.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	WalletID string `json:"wallet_id"`
}

// PendingReservation is the notification projection: a pending
// transfer request joined with the sender's display name and the pin
// it targets.
type PendingReservation struct {
	TransferRequest
	SenderName string  `json:"sender_name"`
	PinLat     float64 `json:"pin_lat"`
	PinLng     float64 `json:"pin_lng"`
	Address    string  `json:"address,omitempty"`
}

// PinFilter narrows a map listing query.
type PinFilter struct {
	Zone     *int
	Lat      *float64
	Lng      *float64
	RadiusKm float64
}
