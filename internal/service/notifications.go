package service

import (
	"context"
	"fmt"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/geo"
)

// Notifications is the read-only projection of pending reservation
// requests awaiting the owner's decision. It never mutates state;
// expiry is evaluated lazily by the orchestrator, so a listed item may
// already be logically expired until the owner responds to it.
type Notifications struct {
	transfers TransferStore
	geocoder  *geo.Geocoder
}

func NewNotifications(transfers TransferStore, geocoder *geo.Geocoder) *Notifications {
	return &Notifications{transfers: transfers, geocoder: geocoder}
}

// ListPending returns the user's pending requests enriched with the
// sender's display name and a best-effort street address for the pin.
func (n *Notifications) ListPending(ctx context.Context, userID string) ([]domain.PendingReservation, error) {
	items, err := n.transfers.ListPendingForReceiver(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	for i := range items {
		items[i].Address = n.geocoder.Lookup(ctx, items[i].PinLat, items[i].PinLng)
	}
	return items, nil
}
