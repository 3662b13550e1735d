package booking

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory booking store for demo/development mode.
type MemoryStore struct {
	bookings map[string]*Booking
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*Booking),
	}
}

func (m *MemoryStore) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	// Return a copy to prevent races on the shared pointer. The snapshot
	// pointer is shared but snapshots are immutable after creation.
	cp := *b
	return &cp, nil
}

// UpdateStatus performs the compare-and-set under the store lock, so two
// racing transitions observe it exactly like two racing SQL updates: at
// most one matches the expected status.
func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, paymentStatus PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.Status != from {
		return &StateError{Current: b.Status, Expected: from}
	}

	b.Status = to
	if paymentStatus != "" {
		b.PaymentStatus = paymentStatus
	}
	b.UpdatedAt = time.Now()
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
