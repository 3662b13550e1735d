package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows   map[string]*Escrow
	byBooking map[string]string
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:   make(map[string]*Escrow),
		byBooking: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byBooking[e.BookingID]; ok {
		return ErrDuplicateBooking
	}
	cp := *e
	m.escrows[e.ID] = &cp
	m.byBooking[e.BookingID] = e.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByBooking(ctx context.Context, bookingID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

// transition applies mutate under the store lock iff the escrow is
// currently in from. This mirrors the conditional UPDATE the Postgres
// store issues: racing transitions see a state error, not a double win.
func (m *MemoryStore) transition(id string, from Status, mutate func(*Escrow)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return ErrEscrowNotFound
	}
	if e.Status != from {
		return &StateError{Current: e.Status, Expected: from}
	}
	mutate(e)
	e.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkFunded(ctx context.Context, id string, receipt FundingReceipt) error {
	return m.transition(id, StatusCreated, func(e *Escrow) {
		now := time.Now()
		e.Status = StatusFunded
		e.FundingTxHash = receipt.TxHash
		e.BlockNumber = receipt.BlockNumber
		e.Confirmations = receipt.Confirmations
		e.GasUsed = receipt.GasUsed
		e.FundedAt = &now
	})
}

func (m *MemoryStore) MarkReleased(ctx context.Context, id, releaseTxHash string) error {
	return m.transition(id, StatusFunded, func(e *Escrow) {
		now := time.Now()
		e.Status = StatusReleased
		e.ReleaseTxHash = releaseTxHash
		e.ReleasedAt = &now
	})
}

func (m *MemoryStore) MarkDisputed(ctx context.Context, id, reason string) error {
	return m.transition(id, StatusFunded, func(e *Escrow) {
		now := time.Now()
		e.Status = StatusDisputed
		e.DisputeReason = reason
		e.DisputedAt = &now
	})
}

func (m *MemoryStore) MarkResolved(ctx context.Context, id string, winner Winner, resolution string) error {
	return m.transition(id, StatusDisputed, func(e *Escrow) {
		now := time.Now()
		e.Status = StatusResolved
		e.DisputeWinner = winner
		e.Resolution = resolution
		e.ResolvedAt = &now
	})
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
