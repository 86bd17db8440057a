// Package events emits reservation-lifecycle events to Kafka. Polling
// remains the notification mechanism for clients; the stream exists
// for audit and downstream fan-out.
package events

import (
	"encoding/json"
	"time"
)

const Topic = "parkswap.reservations"

const (
	EventReservationRequested = "ReservationRequested"
	EventReservationAccepted  = "ReservationAccepted"
	EventReservationDeclined  = "ReservationDeclined"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationExpired   = "ReservationExpired"
)

// Envelope wraps every event with routing and tracing metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // pin id
	Payload       json.RawMessage `json:"payload"`
}

// ReservationPayload is shared by all five lifecycle events.
type ReservationPayload struct {
	PinID      string `json:"pin_id"`
	TransferID string `json:"transfer_id,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}
