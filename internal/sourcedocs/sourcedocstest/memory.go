// Package sourcedocstest provides in-memory source documents for tests.
package sourcedocstest

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

type roleKey struct {
	tenant    uuid.UUID
	warehouse uuid.UUID
	role      sourcedocs.LocationRole
}

// Memory implements sourcedocs.Reader and inventorytest.Snapshotter.
type Memory struct {
	mu    sync.Mutex
	lines map[uuid.UUID]sourcedocs.ReceiptLine
	roles map[roleKey]uuid.UUID
}

// NewMemory creates an empty document set.
func NewMemory() *Memory {
	return &Memory{lines: map[uuid.UUID]sourcedocs.ReceiptLine{}, roles: map[roleKey]uuid.UUID{}}
}

// AddReceiptLine stores a receipt line.
func (m *Memory) AddReceiptLine(line sourcedocs.ReceiptLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line.ID] = line
}

// SetRole assigns a default location to a warehouse role.
func (m *Memory) SetRole(tenantID, warehouseID uuid.UUID, role sourcedocs.LocationRole, locationID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[roleKey{tenantID, warehouseID, role}] = locationID
}

// ReceiptLine returns a stored line.
func (m *Memory) ReceiptLine(id uuid.UUID) sourcedocs.ReceiptLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[id]
}

// Snapshot captures the lines so a failed transaction can restore them.
func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	saved := maps.Clone(m.lines)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.lines = saved
		m.mu.Unlock()
	}
}

func (m *Memory) GetReceiptLineForUpdate(ctx context.Context, tenantID, lineID uuid.UUID) (sourcedocs.ReceiptLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[lineID]
	if !ok || l.TenantID != tenantID {
		return sourcedocs.ReceiptLine{}, sourcedocs.ErrReceiptLineNotFound.With("receipt_line_id", lineID)
	}
	return l, nil
}

func (m *Memory) DefaultLocation(ctx context.Context, tenantID, warehouseID uuid.UUID, role sourcedocs.LocationRole) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.roles[roleKey{tenantID, warehouseID, role}]
	if !ok {
		return uuid.Nil, sourcedocs.ErrLocationRoleMissing.With("role", role)
	}
	return id, nil
}

func (m *Memory) MarkReceiptLinePosted(ctx context.Context, tenantID, lineID, movementID, locationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[lineID]
	if !ok || l.TenantID != tenantID {
		return sourcedocs.ErrReceiptLineNotFound
	}
	mv, loc := movementID, locationID
	l.MovementID, l.LocationID = &mv, &loc
	m.lines[lineID] = l
	return nil
}
