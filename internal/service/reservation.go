package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/events"
	"github.com/nivgold/parkswap/internal/ledger"
	"github.com/nivgold/parkswap/internal/store"
)

var (
	reservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkswap_reservation_outcomes_total",
		Help: "Reservation state machine outcomes by operation",
	}, []string{"op", "outcome"})

	walletTopups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkswap_wallet_topups_total",
		Help: "Balance top-up fallbacks minted to let a transfer or refund proceed",
	}, []string{"op"})
)

// Reservations coordinates pin state transitions with wallet-ledger
// transfers. The local store and the ledger share no transaction; the
// ordering here (log before mutate, CAS last) keeps a crash at any
// point recoverable from the transaction log.
type Reservations struct {
	pins      PinStore
	transfers TransferStore
	txlog     TransactionLog
	users     UserStore
	wallet    WalletLedger
	events    *events.Publisher

	fee         int64
	platformFee int64
	currency    string
	expiry      time.Duration
	now         func() time.Time
}

// Deps carries the orchestrator's collaborators and tunables.
type Deps struct {
	Pins      PinStore
	Transfers TransferStore
	TxLog     TransactionLog
	Users     UserStore
	Wallet    WalletLedger
	Events    *events.Publisher

	Fee         int64
	PlatformFee int64
	Currency    string
	Expiry      time.Duration
}

func NewReservations(d Deps) *Reservations {
	expiry := d.Expiry
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &Reservations{
		pins:        d.Pins,
		transfers:   d.Transfers,
		txlog:       d.TxLog,
		users:       d.Users,
		wallet:      d.Wallet,
		events:      d.Events,
		fee:         d.Fee,
		platformFee: d.PlatformFee,
		currency:    d.Currency,
		expiry:      expiry,
		now:         time.Now,
	}
}

// ReserveResult reports a placed reservation with its pending escrow
// transfer.
type ReserveResult struct {
	TransferID string
	Amount     int64
	Status     domain.TransferStatus
}

// Reserve places a hold on an active pin: it initiates a pending
// wallet transfer from the reserving user to the owner, records the
// transfer request and audit row, then CAS-swaps the pin to reserved.
func (r *Reservations) Reserve(ctx context.Context, pinID, userID string) (*ReserveResult, error) {
	pin, err := r.pins.Get(ctx, pinID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPinNotFound
		}
		return nil, fmt.Errorf("load pin: %w", err)
	}
	if !domain.CanTransition(pin.Status, domain.PinReserved) {
		return nil, ErrInvalidState
	}
	if pin.OwnerID == userID {
		return nil, ErrSelfReservation
	}

	held, err := r.pins.FindReservedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check existing reservation: %w", err)
	}
	if held != nil {
		return nil, ErrDuplicateReservation
	}

	sender, receiver, err := r.parties(ctx, userID, pin.OwnerID)
	if err != nil {
		return nil, err
	}

	if err := r.ensureBalance(ctx, "reserve", sender.WalletID, r.fee); err != nil {
		return nil, err
	}

	res, err := r.wallet.Transfer(ctx, sender.WalletID, receiver.WalletID, r.fee, r.currency, map[string]any{
		"description":      fmt.Sprintf("Parking reservation from %s", sender.Email),
		"pin_id":           pinID,
		"sender_user_id":   sender.ID,
		"receiver_user_id": receiver.ID,
	})
	if err != nil {
		reservationOutcomes.WithLabelValues("reserve", "ledger_error").Inc()
		return nil, err
	}

	tr := &domain.TransferRequest{
		TransferID:       res.TransferID,
		PinID:            pinID,
		SenderID:         sender.ID,
		ReceiverID:       receiver.ID,
		Amount:           r.fee,
		Currency:         r.currency,
		SenderWalletID:   sender.WalletID,
		ReceiverWalletID: receiver.WalletID,
		Expiration:       r.now().Add(r.expiry),
	}
	if err := r.transfers.Create(ctx, tr); err != nil {
		// Money is already held in a pending transfer with no local
		// record. Unwind before reporting failure.
		log.Printf("RECONCILE reserve pin=%s transfer=%s: persist transfer request failed: %v", pinID, res.TransferID, err)
		r.unwindTransfer(ctx, res.TransferID, userID)
		return nil, fmt.Errorf("persist transfer request: %w", err)
	}

	if err := r.txlog.Log(ctx, &domain.Transaction{
		PayerID:           sender.ID,
		ReceiverID:        receiver.ID,
		PinID:             pinID,
		ExternalPaymentID: res.TransferID,
		Amount:            r.fee,
		PlatformFee:       r.platformFee,
		NetAmount:         r.fee - r.platformFee,
		Status:            txStatusFromLedger(res.Status),
		Metadata:          transferMetadata(res),
	}); err != nil {
		// The transfer request row still lets the sweep reconcile this.
		log.Printf("RECONCILE reserve pin=%s transfer=%s: audit log failed: %v", pinID, res.TransferID, err)
	}

	if err := r.pins.Reserve(ctx, pinID, userID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another reservation won the CAS after our money moved to
			// pending. Decline our transfer to unwind the escrow.
			log.Printf("RECONCILE reserve pin=%s transfer=%s: lost CAS race, unwinding", pinID, res.TransferID)
			reservationOutcomes.WithLabelValues("reserve", "cas_conflict").Inc()
			r.unwindTransfer(ctx, res.TransferID, userID)
			if mErr := r.transfers.MarkResponded(ctx, tr.ID, domain.TransferDeclined); mErr != nil {
				log.Printf("RECONCILE reserve transfer=%s: mark declined failed: %v", res.TransferID, mErr)
			}
			if sErr := r.txlog.SetStatusByExternalID(ctx, res.TransferID, domain.TxFailed); sErr != nil {
				log.Printf("RECONCILE reserve transfer=%s: mark tx failed failed: %v", res.TransferID, sErr)
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("reserve pin: %w", err)
	}

	reservationOutcomes.WithLabelValues("reserve", "ok").Inc()
	r.events.Emit(events.EventReservationRequested, events.ReservationPayload{
		PinID: pinID, TransferID: res.TransferID,
		SenderID: sender.ID, ReceiverID: receiver.ID,
		Amount: r.fee, Currency: r.currency,
	})

	return &ReserveResult{TransferID: res.TransferID, Amount: r.fee, Status: domain.TransferPending}, nil
}

// AcceptResult reports the owner-side view of an accepted reservation.
type AcceptResult struct {
	TransferID      string
	Amount          int64
	NewBalance      int64
	BalanceIncrease int64
}

// Accept resolves a pending reservation in the owner's favor: the
// escrowed funds move to the owner, then the pin changes hands (the
// reserver gives up their previous spot and takes over this one).
func (r *Reservations) Accept(ctx context.Context, requestID, userID string) (*AcceptResult, error) {
	tr, err := r.loadPending(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	if tr.Expired(r.now()) {
		r.expireOne(ctx, tr)
		return nil, ErrExpired
	}

	// Balance snapshots frame the response; correctness never depends
	// on them.
	before, err := r.wallet.Balance(ctx, tr.ReceiverWalletID, tr.Currency)
	if err != nil {
		log.Printf("accept transfer=%s: pre-balance check failed: %v", tr.TransferID, err)
	}

	res, err := r.wallet.RespondTransfer(ctx, tr.TransferID, ledger.Accept, map[string]any{
		"accepted_at": r.now().UTC().Format(time.RFC3339),
		"accepted_by": userID,
	})
	if err != nil {
		reservationOutcomes.WithLabelValues("accept", "ledger_error").Inc()
		return nil, err
	}

	after, aErr := r.wallet.Balance(ctx, tr.ReceiverWalletID, tr.Currency)
	if aErr != nil {
		log.Printf("accept transfer=%s: post-balance check failed: %v", tr.TransferID, aErr)
		after = before + tr.Amount
	}

	// From here on the money has moved; every local failure must be
	// surfaced with enough context to retry to convergence.
	if err := r.transfers.MarkResponded(ctx, requestID, domain.TransferAccepted); err != nil {
		log.Printf("RECONCILE accept transfer=%s pin=%s: funds moved, mark accepted failed: %v", tr.TransferID, tr.PinID, err)
		return nil, fmt.Errorf("funds transferred but request not marked accepted: %w", err)
	}
	if err := r.txlog.SetStatusByExternalID(ctx, tr.TransferID, domain.TxCompleted); err != nil {
		log.Printf("RECONCILE accept transfer=%s: audit status update failed: %v", tr.TransferID, err)
	}

	if err := r.pins.TransferOwnership(ctx, tr.PinID, tr.SenderID); err != nil {
		log.Printf("RECONCILE accept transfer=%s pin=%s: funds moved, spot exchange failed: %v", tr.TransferID, tr.PinID, err)
		return nil, fmt.Errorf("funds transferred but spot exchange failed: %w", err)
	}

	reservationOutcomes.WithLabelValues("accept", "ok").Inc()
	r.events.Emit(events.EventReservationAccepted, events.ReservationPayload{
		PinID: tr.PinID, TransferID: tr.TransferID,
		SenderID: tr.SenderID, ReceiverID: tr.ReceiverID,
		Amount: tr.Amount, Currency: tr.Currency,
	})

	return &AcceptResult{
		TransferID:      res.TransferID,
		Amount:          tr.Amount,
		NewBalance:      after,
		BalanceIncrease: after - before,
	}, nil
}

// DeclineResult reports a declined reservation.
type DeclineResult struct {
	TransferID string
	Amount     int64
}

// Decline resolves a pending reservation against the sender: the
// escrowed funds return to them and the pin goes back on the map.
func (r *Reservations) Decline(ctx context.Context, requestID, userID string) (*DeclineResult, error) {
	tr, err := r.loadPending(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	if tr.Expired(r.now()) {
		r.expireOne(ctx, tr)
		return nil, ErrExpired
	}

	if _, err := r.wallet.RespondTransfer(ctx, tr.TransferID, ledger.Decline, map[string]any{
		"declined_at": r.now().UTC().Format(time.RFC3339),
		"declined_by": userID,
	}); err != nil {
		reservationOutcomes.WithLabelValues("decline", "ledger_error").Inc()
		return nil, err
	}

	if err := r.transfers.MarkResponded(ctx, requestID, domain.TransferDeclined); err != nil {
		log.Printf("RECONCILE decline transfer=%s pin=%s: funds returned, mark declined failed: %v", tr.TransferID, tr.PinID, err)
		return nil, fmt.Errorf("funds returned but request not marked declined: %w", err)
	}
	if err := r.txlog.SetStatusByExternalID(ctx, tr.TransferID, domain.TxCancelled); err != nil {
		log.Printf("RECONCILE decline transfer=%s: audit status update failed: %v", tr.TransferID, err)
	}
	if err := r.pins.Release(ctx, tr.PinID); err != nil {
		log.Printf("RECONCILE decline transfer=%s pin=%s: release pin failed: %v", tr.TransferID, tr.PinID, err)
		return nil, fmt.Errorf("funds returned but pin not released: %w", err)
	}

	reservationOutcomes.WithLabelValues("decline", "ok").Inc()
	r.events.Emit(events.EventReservationDeclined, events.ReservationPayload{
		PinID: tr.PinID, TransferID: tr.TransferID,
		SenderID: tr.SenderID, ReceiverID: tr.ReceiverID,
		Amount: tr.Amount, Currency: tr.Currency,
	})

	return &DeclineResult{TransferID: tr.TransferID, Amount: tr.Amount}, nil
}

// CancelResult reports a cancelled reservation and its refund.
type CancelResult struct {
	TransferID string
	Amount     int64
}

// Cancel unwinds a still-pending reservation at either party's
// request. The refund is a fresh reverse transfer (owner to reserver)
// rather than a decline, because the original transfer may already
// have been resolved by other means; the original request is closed
// out as declined so the pin and request states stay mirrored.
func (r *Reservations) Cancel(ctx context.Context, pinID, userID string) (*CancelResult, error) {
	pin, err := r.pins.Get(ctx, pinID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPinNotFound
		}
		return nil, fmt.Errorf("load pin: %w", err)
	}
	if pin.Status != domain.PinReserved || pin.ReservedBy == nil {
		return nil, ErrInvalidState
	}
	if pin.OwnerID != userID && *pin.ReservedBy != userID {
		return nil, ErrForbidden
	}

	owner, reserver, err := r.parties(ctx, pin.OwnerID, *pin.ReservedBy)
	if err != nil {
		return nil, err
	}

	if err := r.ensureBalance(ctx, "cancel", owner.WalletID, r.fee); err != nil {
		return nil, err
	}

	res, err := r.wallet.Transfer(ctx, owner.WalletID, reserver.WalletID, r.fee, r.currency, map[string]any{
		"description":      "Parking reservation cancellation refund",
		"pin_id":           pinID,
		"sender_user_id":   owner.ID,
		"receiver_user_id": reserver.ID,
	})
	if err != nil {
		reservationOutcomes.WithLabelValues("cancel", "ledger_error").Inc()
		return nil, err
	}

	if err := r.txlog.Log(ctx, &domain.Transaction{
		PayerID:           owner.ID,
		ReceiverID:        reserver.ID,
		PinID:             pinID,
		ExternalPaymentID: res.TransferID,
		Amount:            r.fee,
		PlatformFee:       r.platformFee,
		NetAmount:         r.fee - r.platformFee,
		Status:            txStatusFromLedger(res.Status),
		Metadata:          refundMetadata(res),
	}); err != nil {
		log.Printf("RECONCILE cancel pin=%s refund=%s: audit log failed: %v", pinID, res.TransferID, err)
	}

	// Close out the original escrow so no pending request outlives the
	// reservation it belongs to.
	r.resolveOriginalEscrow(ctx, pinID, userID)

	if err := r.pins.Release(ctx, pinID); err != nil {
		log.Printf("RECONCILE cancel pin=%s refund=%s: release pin failed: %v", pinID, res.TransferID, err)
		return nil, fmt.Errorf("refund issued but pin not released: %w", err)
	}

	reservationOutcomes.WithLabelValues("cancel", "ok").Inc()
	r.events.Emit(events.EventReservationCancelled, events.ReservationPayload{
		PinID: pinID, TransferID: res.TransferID,
		SenderID: reserver.ID, ReceiverID: owner.ID,
		Amount: r.fee, Currency: r.currency,
	})

	return &CancelResult{TransferID: res.TransferID, Amount: r.fee}, nil
}

// SavePin drops a fresh waiting pin for the user, replacing any pin
// they already hold.
func (r *Reservations) SavePin(ctx context.Context, userID string, lat, lng float64, zone *int) (*domain.Pin, error) {
	pin := &domain.Pin{OwnerID: userID, Lat: lat, Lng: lng, ParkingZone: zone}
	if err := r.pins.Create(ctx, pin); err != nil {
		return nil, fmt.Errorf("save pin: %w", err)
	}
	return pin, nil
}

// Activate publishes a waiting pin ("I am leaving").
func (r *Reservations) Activate(ctx context.Context, pinID, userID string) (*domain.Pin, error) {
	return r.flip(ctx, pinID, userID, domain.PinWaiting, domain.PinActive)
}

// Deactivate takes an active pin back off the map.
func (r *Reservations) Deactivate(ctx context.Context, pinID, userID string) (*domain.Pin, error) {
	return r.flip(ctx, pinID, userID, domain.PinActive, domain.PinWaiting)
}

func (r *Reservations) flip(ctx context.Context, pinID, userID string, from, to domain.PinStatus) (*domain.Pin, error) {
	pin, err := r.pins.Get(ctx, pinID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPinNotFound
		}
		return nil, fmt.Errorf("load pin: %w", err)
	}
	if pin.OwnerID != userID {
		return nil, ErrForbidden
	}
	if pin.Status != from || !domain.CanTransition(pin.Status, to) {
		return nil, ErrInvalidState
	}
	if err := r.pins.SetStatus(ctx, pinID, to, from); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, err
	}
	pin.Status = to
	return pin, nil
}

// ListPins is the map projection, filtered by zone and radius.
func (r *Reservations) ListPins(ctx context.Context, excludeUserID string, f domain.PinFilter) ([]domain.Pin, error) {
	return r.pins.ListVisible(ctx, excludeUserID, f)
}

func (r *Reservations) loadPending(ctx context.Context, requestID, userID string) (*domain.TransferRequest, error) {
	tr, err := r.transfers.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("load transfer request: %w", err)
	}
	if tr.ReceiverID != userID {
		return nil, ErrForbidden
	}
	if tr.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	return tr, nil
}

func (r *Reservations) parties(ctx context.Context, senderID, receiverID string) (*domain.User, *domain.User, error) {
	sender, err := r.users.Get(ctx, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrWalletNotConfigured
		}
		return nil, nil, fmt.Errorf("load sender: %w", err)
	}
	receiver, err := r.users.Get(ctx, receiverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrWalletNotConfigured
		}
		return nil, nil, fmt.Errorf("load receiver: %w", err)
	}
	if sender.WalletID == "" || receiver.WalletID == "" {
		return nil, nil, ErrWalletNotConfigured
	}
	return sender, receiver, nil
}

// ensureBalance tops up a wallet when it cannot cover the amount.
// This mints funds instead of charging a payment instrument; it is an
// explicit fallback pending a product decision, so it is logged and
// counted every time it fires.
func (r *Reservations) ensureBalance(ctx context.Context, op, walletID string, amount int64) error {
	balance, err := r.wallet.Balance(ctx, walletID, r.currency)
	if err != nil {
		return err
	}
	if balance >= amount {
		return nil
	}
	shortfall := amount - balance
	log.Printf("WARN %s: wallet %s short %d %s, invoking top-up fallback", op, walletID, shortfall, r.currency)
	walletTopups.WithLabelValues(op).Inc()
	if _, err := r.wallet.Deposit(ctx, walletID, shortfall, r.currency); err != nil {
		return fmt.Errorf("top-up fallback failed: %w", err)
	}
	return nil
}

// unwindTransfer best-effort declines a transfer we can no longer
// attach to a reservation.
func (r *Reservations) unwindTransfer(ctx context.Context, transferID, userID string) {
	if _, err := r.wallet.RespondTransfer(ctx, transferID, ledger.Decline, map[string]any{
		"declined_at": r.now().UTC().Format(time.RFC3339),
		"declined_by": userID,
		"reason":      "reservation rolled back",
	}); err != nil {
		log.Printf("RECONCILE transfer=%s: unwind decline failed: %v", transferID, err)
	}
}

// resolveOriginalEscrow closes the pending request behind a cancelled
// reservation: decline its ledger transfer if still open and mark the
// request declined. Failures are logged for reconciliation; the
// refund already issued is not rolled back.
func (r *Reservations) resolveOriginalEscrow(ctx context.Context, pinID, userID string) {
	tr, err := r.transfers.FindPendingByPin(ctx, pinID)
	if err != nil {
		log.Printf("RECONCILE cancel pin=%s: find pending request failed: %v", pinID, err)
		return
	}
	if tr == nil {
		return
	}
	r.unwindTransfer(ctx, tr.TransferID, userID)
	if err := r.transfers.MarkResponded(ctx, tr.ID, domain.TransferDeclined); err != nil &&
		!errors.Is(err, store.ErrAlreadyResolved) {
		log.Printf("RECONCILE cancel pin=%s transfer=%s: mark declined failed: %v", pinID, tr.TransferID, err)
	}
	if err := r.txlog.SetStatusByExternalID(ctx, tr.TransferID, domain.TxCancelled); err != nil {
		log.Printf("RECONCILE cancel pin=%s transfer=%s: audit status update failed: %v", pinID, tr.TransferID, err)
	}
}

func transferMetadata(res ledger.TransferResult) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"source_transaction_id":      res.SourceTransactionID,
		"destination_transaction_id": res.DestinationTransactionID,
	})
	return b
}

func refundMetadata(res ledger.TransferResult) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"source_transaction_id":      res.SourceTransactionID,
		"destination_transaction_id": res.DestinationTransactionID,
		"transaction_type":           "refund",
	})
	return b
}

func txStatusFromLedger(status string) domain.TransactionStatus {
	switch status {
	case ledger.StatusPending:
		return domain.TxPending
	case ledger.StatusClosed:
		return domain.TxCompleted
	case ledger.StatusDeclined:
		return domain.TxCancelled
	default:
		return domain.TxFailed
	}
}
