package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/idgen"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
)

// AuditEntry records one settlement action against an escrow. Entries are
// append-only and never rewritten.
type AuditEntry struct {
	ID        string                 `json:"id"`
	EscrowID  string                 `json:"escrowId"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// AuditStore persists the settlement audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByEscrow(ctx context.Context, escrowID string) ([]*AuditEntry, error)
}

func newAuditEntry(escrowID, action, actor string, details map[string]interface{}) *AuditEntry {
	return &AuditEntry{
		ID:        idgen.WithPrefix("aud_"),
		EscrowID:  escrowID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: time.Now(),
	}
}

// audit appends an entry, logging rather than failing the settlement
// action if the write does not stick.
func (c *Coordinator) audit(ctx context.Context, entry *AuditEntry) {
	if err := c.auditStore.Append(ctx, entry); err != nil {
		logging.L(ctx).Error("audit append failed",
			"escrow_id", entry.EscrowID, "action", entry.Action, "error", err)
	}
}

// MemoryAuditStore is an in-memory audit trail for demo/development mode.
type MemoryAuditStore struct {
	entries map[string][]*AuditEntry
	mu      sync.RWMutex
}

// NewMemoryAuditStore creates a new in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make(map[string][]*AuditEntry)}
}

func (m *MemoryAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.EscrowID] = append(m.entries[entry.EscrowID], &cp)
	return nil
}

func (m *MemoryAuditStore) ListByEscrow(ctx context.Context, escrowID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.entries[escrowID]
	result := make([]*AuditEntry, len(stored))
	for i, e := range stored {
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

// PostgresAuditStore persists the audit trail in PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a new PostgreSQL-backed audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (p *PostgresAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	if entry.Details == nil {
		detailsJSON = []byte("{}")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrow_audit (id, escrow_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.EscrowID, entry.Action, entry.Actor, detailsJSON, entry.CreatedAt,
	)
	return err
}

func (p *PostgresAuditStore) ListByEscrow(ctx context.Context, escrowID string) ([]*AuditEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, escrow_id, action, actor, details, created_at
		FROM escrow_audit
		WHERE escrow_id = $1
		ORDER BY created_at ASC`, escrowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.Action, &e.Actor, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Compile-time assertions.
var (
	_ AuditStore = (*MemoryAuditStore)(nil)
	_ AuditStore = (*PostgresAuditStore)(nil)
)
