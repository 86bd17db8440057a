package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/ledger"
	"github.com/nivgold/parkswap/internal/store"
)

// In-memory fakes mirroring the store contracts, including the CAS
// semantics the postgres implementations provide.

type fakePins struct {
	mu   sync.Mutex
	pins map[string]*domain.Pin
}

func newFakePins() *fakePins {
	return &fakePins{pins: map[string]*domain.Pin{}}
}

func (f *fakePins) add(p *domain.Pin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.pins[p.ID] = &cp
}

func (f *fakePins) get(id string) *domain.Pin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pins[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (f *fakePins) Get(_ context.Context, id string) (*domain.Pin, error) {
	if p := f.get(id); p != nil {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakePins) Create(_ context.Context, p *domain.Pin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.pins {
		if existing.OwnerID == p.OwnerID && existing.Status != domain.PinCancelled {
			existing.Status = domain.PinCancelled
			existing.ReservedBy = nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = domain.PinWaiting
	p.CreatedAt = time.Now()
	cp := *p
	f.pins[p.ID] = &cp
	return nil
}

func (f *fakePins) SetStatus(_ context.Context, pinID string, next, expected domain.PinStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[pinID]
	if !ok || p.Status != expected {
		return store.ErrConflict
	}
	p.Status = next
	return nil
}

func (f *fakePins) Reserve(_ context.Context, pinID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[pinID]
	if !ok || p.Status != domain.PinActive {
		return store.ErrConflict
	}
	p.Status = domain.PinReserved
	p.ReservedBy = &userID
	return nil
}

func (f *fakePins) Release(_ context.Context, pinID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[pinID]
	if !ok || p.Status != domain.PinReserved {
		return store.ErrConflict
	}
	p.Status = domain.PinActive
	p.ReservedBy = nil
	return nil
}

func (f *fakePins) TransferOwnership(_ context.Context, pinID, newOwnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[pinID]
	if !ok || p.Status != domain.PinReserved {
		return store.ErrConflict
	}
	for id, other := range f.pins {
		if other.OwnerID == newOwnerID && id != pinID && other.Status != domain.PinCancelled {
			other.Status = domain.PinCancelled
			other.ReservedBy = nil
		}
	}
	p.OwnerID = newOwnerID
	p.Status = domain.PinWaiting
	p.ReservedBy = nil
	return nil
}

func (f *fakePins) FindReservedBy(_ context.Context, userID string) (*domain.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pins {
		if p.Status == domain.PinReserved && p.ReservedBy != nil && *p.ReservedBy == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePins) ListVisible(_ context.Context, excludeUserID string, filter domain.PinFilter) ([]domain.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Pin
	for _, p := range f.pins {
		visible := (p.Status == domain.PinActive && p.OwnerID != excludeUserID) ||
			(p.Status == domain.PinReserved && (p.OwnerID == excludeUserID ||
				(p.ReservedBy != nil && *p.ReservedBy == excludeUserID)))
		if !visible {
			continue
		}
		if filter.Zone != nil && (p.ParkingZone == nil || *p.ParkingZone != *filter.Zone) {
			continue
		}
		if filter.Lat != nil && filter.Lng != nil &&
			domain.DistanceKm(*filter.Lat, *filter.Lng, p.Lat, p.Lng) > filter.RadiusKm {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// invariantViolations checks reserved_by <=> reserved across all pins.
func (f *fakePins) invariantViolations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.pins {
		if (p.Status == domain.PinReserved) != (p.ReservedBy != nil) {
			out = append(out, fmt.Sprintf("pin %s: status=%s reserved_by=%v", p.ID, p.Status, p.ReservedBy))
		}
	}
	return out
}

type fakeTransfers struct {
	mu       sync.Mutex
	requests map[string]*domain.TransferRequest
	names    map[string]string
	pins     *fakePins
}

func newFakeTransfers(pins *fakePins) *fakeTransfers {
	return &fakeTransfers{
		requests: map[string]*domain.TransferRequest{},
		names:    map[string]string{},
		pins:     pins,
	}
}

func (f *fakeTransfers) Create(_ context.Context, tr *domain.TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tr.Status = domain.TransferPending
	tr.CreatedAt = time.Now()
	cp := *tr
	f.requests[tr.ID] = &cp
	return nil
}

func (f *fakeTransfers) Get(_ context.Context, id string) (*domain.TransferRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.requests[id]; ok {
		cp := *tr
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeTransfers) MarkResponded(_ context.Context, id string, status domain.TransferStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.requests[id]
	if !ok || tr.Status != domain.TransferPending {
		return store.ErrAlreadyResolved
	}
	now := time.Now()
	tr.Status = status
	tr.RespondedAt = &now
	return nil
}

func (f *fakeTransfers) FindPendingByPin(_ context.Context, pinID string) (*domain.TransferRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tr := range f.requests {
		if tr.PinID == pinID && tr.Status == domain.TransferPending {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTransfers) ListPendingForReceiver(_ context.Context, userID string) ([]domain.PendingReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PendingReservation
	for _, tr := range f.requests {
		if tr.ReceiverID != userID || tr.Status != domain.TransferPending {
			continue
		}
		n := domain.PendingReservation{TransferRequest: *tr}
		if name, ok := f.names[tr.SenderID]; ok {
			n.SenderName = name
		} else {
			n.SenderName = "Unknown User"
		}
		if p := f.pins.get(tr.PinID); p != nil {
			n.PinLat, n.PinLng = p.Lat, p.Lng
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeTransfers) ListExpired(_ context.Context, now time.Time) ([]domain.TransferRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TransferRequest
	for _, tr := range f.requests {
		if tr.Status == domain.TransferPending && now.After(tr.Expiration) {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (f *fakeTransfers) pendingForPin(pinID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tr := range f.requests {
		if tr.PinID == pinID && tr.Status == domain.TransferPending {
			n++
		}
	}
	return n
}

type fakeTxLog struct {
	mu   sync.Mutex
	rows []*domain.Transaction
}

func (f *fakeTxLog) Log(_ context.Context, t *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	cp := *t
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeTxLog) SetStatusByExternalID(_ context.Context, externalID string, status domain.TransactionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, t := range f.rows {
		if t.ExternalPaymentID == externalID {
			t.Status = status
			found = true
		}
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeTxLog) ListByUser(_ context.Context, userID string) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, t := range f.rows {
		if t.PayerID == userID || t.ReceiverID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTxLog) byExternalID(externalID string) *domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if t.ExternalPaymentID == externalID {
			cp := *t
			return &cp
		}
	}
	return nil
}

type fakeUsers struct {
	users map[string]*domain.User
}

func (f *fakeUsers) Get(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

// fakeLedger models the provider's two-phase transfers: a pending
// transfer moves no money; accept moves it, decline returns it.
type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	transfers map[string]*fakeTransfer
	deposits  []fakeDeposit
	seq       int

	transferErr error
	respondErr  error
}

type fakeTransfer struct {
	src, dst string
	amount   int64
	status   string
}

type fakeDeposit struct {
	wallet string
	amount int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:  map[string]int64{},
		transfers: map[string]*fakeTransfer{},
	}
}

func (f *fakeLedger) Balance(_ context.Context, walletID, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[walletID], nil
}

func (f *fakeLedger) Deposit(_ context.Context, walletID string, amount int64, currency string) (ledger.DepositResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[walletID] += amount
	f.deposits = append(f.deposits, fakeDeposit{wallet: walletID, amount: amount})
	f.seq++
	return ledger.DepositResult{
		TransactionID: fmt.Sprintf("dep_%d", f.seq),
		Amount:        amount,
		Currency:      currency,
	}, nil
}

func (f *fakeLedger) Transfer(_ context.Context, src, dst string, amount int64, currency string, _ map[string]any) (ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return ledger.TransferResult{}, f.transferErr
	}
	f.seq++
	id := fmt.Sprintf("tr_%d", f.seq)
	f.transfers[id] = &fakeTransfer{src: src, dst: dst, amount: amount, status: ledger.StatusPending}
	return ledger.TransferResult{
		TransferID:               id,
		Status:                   ledger.StatusPending,
		Amount:                   amount,
		Currency:                 currency,
		SourceWalletID:           src,
		DestinationWalletID:      dst,
		SourceTransactionID:      id + "_src",
		DestinationTransactionID: id + "_dst",
	}, nil
}

func (f *fakeLedger) RespondTransfer(_ context.Context, transferID string, action ledger.Action, _ map[string]any) (ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.respondErr != nil {
		return ledger.TransferResult{}, f.respondErr
	}
	tr, ok := f.transfers[transferID]
	if !ok {
		return ledger.TransferResult{}, &ledger.Error{Code: "TRANSFER_NOT_FOUND"}
	}
	if tr.status != ledger.StatusPending {
		return ledger.TransferResult{}, &ledger.Error{Code: "TRANSFER_ALREADY_RESPONDED"}
	}
	if action == ledger.Accept {
		tr.status = ledger.StatusClosed
		f.balances[tr.src] -= tr.amount
		f.balances[tr.dst] += tr.amount
	} else {
		tr.status = ledger.StatusDeclined
	}
	return ledger.TransferResult{
		TransferID:          transferID,
		Status:              tr.status,
		Amount:              tr.amount,
		SourceWalletID:      tr.src,
		DestinationWalletID: tr.dst,
	}, nil
}

func (f *fakeLedger) transferStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.transfers[id]; ok {
		return tr.status
	}
	return ""
}
