package models

import "github.com/nivgold/parkswap/internal/domain"

// SavePinRequest is the payload for dropping a new pin.
type SavePinRequest struct {
	Position    []float64 `json:"position"` // [lat, lng]
	ParkingZone *int      `json:"parking_zone,omitempty"`
	Address     string    `json:"address,omitempty"`
}

// SavePinResponse confirms the created pin.
type SavePinResponse struct {
	Success bool        `json:"success"`
	Pin     *domain.Pin `json:"pin"`
	Address string      `json:"address,omitempty"`
}

// ReserveResponse is returned when a reservation request was placed
// and its escrow transfer is pending the owner's decision.
type ReserveResponse struct {
	Success    bool   `json:"success"`
	TransferID string `json:"transfer_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// AcceptResponse reports the owner-side outcome of accepting a
// reservation, including the balance movement observed on the ledger.
type AcceptResponse struct {
	Success         bool   `json:"success"`
	TransferID      string `json:"transfer_id"`
	AmountReceived  int64  `json:"amount_received"`
	NewBalance      int64  `json:"new_balance"`
	BalanceIncrease int64  `json:"balance_increase"`
	Message         string `json:"message,omitempty"`
}

// DeclineResponse reports a declined reservation; funds return to the
// sender.
type DeclineResponse struct {
	Success        bool   `json:"success"`
	TransferID     string `json:"transfer_id"`
	AmountRefunded int64  `json:"amount_refunded"`
	Message        string `json:"message,omitempty"`
}

// CancelResponse reports a cancelled reservation and its refund
// transfer.
type CancelResponse struct {
	Success      bool   `json:"success"`
	TransferID   string `json:"transfer_id"`
	RefundAmount int64  `json:"refund_amount"`
	Message      string `json:"message,omitempty"`
}

// PinActionResponse covers activate/deactivate.
type PinActionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Pin     *domain.Pin `json:"pin,omitempty"`
}

// ListPinsResponse is the map listing projection.
type ListPinsResponse struct {
	Success bool         `json:"success"`
	Pins    []domain.Pin `json:"pins"`
}

// NotificationsResponse lists pending reservation requests awaiting
// the caller's decision.
type NotificationsResponse struct {
	Success       bool                        `json:"success"`
	Notifications []domain.PendingReservation `json:"notifications"`
	Count         int                         `json:"count"`
}

// BalanceResponse is the caller's current wallet balance.
type BalanceResponse struct {
	Success  bool   `json:"success"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// TransactionsResponse is the caller's money-movement history.
type TransactionsResponse struct {
	Success      bool                 `json:"success"`
	Transactions []domain.Transaction `json:"transactions"`
}
