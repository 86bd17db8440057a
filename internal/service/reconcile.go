package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/events"
	"github.com/nivgold/parkswap/internal/ledger"
	"github.com/nivgold/parkswap/internal/store"
)

// ExpireStale resolves pending transfer requests whose 24-hour window
// has closed: the escrow transfer is declined, the request marked
// expired, and the pin returned to the map. The 24-hour window is
// otherwise advisory and only checked when a party responds; this
// sweep gives operators a hard expiry. Returns the number of requests
// it expired.
func (r *Reservations) ExpireStale(ctx context.Context) (int, error) {
	stale, err := r.transfers.ListExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stale {
		if r.expireOne(ctx, &stale[i]) {
			n++
		}
	}
	return n, nil
}

// expireOne converges a single expired request and reports whether it
// reached a terminal local state. Every step is tolerant of partial
// prior progress so the sweep can be re-run until the request, its
// transfer and its pin all agree.
func (r *Reservations) expireOne(ctx context.Context, tr *domain.TransferRequest) bool {
	// Decline the escrow upstream before marking the request terminal.
	// Done the other way round, a transient decline failure would leave
	// the transfer pending on the ledger while every later sweep skips
	// the now-resolved row.
	if _, err := r.wallet.RespondTransfer(ctx, tr.TransferID, ledger.Decline, map[string]any{
		"declined_at": r.now().UTC().Format(time.RFC3339),
		"reason":      "reservation expired",
	}); err != nil {
		var lerr *ledger.Error
		if !errors.As(err, &lerr) {
			// Transport trouble: leave the row pending, retry next sweep.
			log.Printf("RECONCILE expire transfer=%s: decline failed, will retry: %v", tr.TransferID, err)
			return false
		}
		// The provider rejected the decline, meaning the transfer is
		// already settled on its side. Converge the local state.
		log.Printf("RECONCILE expire transfer=%s: decline rejected (%s), converging locally", tr.TransferID, lerr.Code)
	}

	if err := r.transfers.MarkResponded(ctx, tr.ID, domain.TransferExpired); err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return true // another worker or a lazy check won
		}
		log.Printf("RECONCILE expire transfer=%s: mark expired failed: %v", tr.TransferID, err)
		return false
	}

	if err := r.txlog.SetStatusByExternalID(ctx, tr.TransferID, domain.TxCancelled); err != nil {
		log.Printf("RECONCILE expire transfer=%s: audit status update failed: %v", tr.TransferID, err)
	}
	if err := r.pins.Release(ctx, tr.PinID); err != nil && !errors.Is(err, store.ErrConflict) {
		log.Printf("RECONCILE expire transfer=%s pin=%s: release pin failed: %v", tr.TransferID, tr.PinID, err)
	}

	reservationOutcomes.WithLabelValues("expire", "ok").Inc()
	r.events.Emit(events.EventReservationExpired, events.ReservationPayload{
		PinID: tr.PinID, TransferID: tr.TransferID,
		SenderID: tr.SenderID, ReceiverID: tr.ReceiverID,
		Amount: tr.Amount, Currency: tr.Currency,
	})
	return true
}

// RunSweeper periodically expires stale requests until the context is
// cancelled.
func (r *Reservations) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.ExpireStale(ctx)
			if err != nil {
				log.Printf("sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep: expired %d stale reservation(s)", n)
			}
		}
	}
}
