package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the poster, orchestrators and reconciler.
type TxRepository interface {
	LayerStore
	LockKeys(ctx context.Context, tenantID uuid.UUID, keys []LockKey) error
	GetBalanceForUpdate(ctx context.Context, tenantID uuid.UUID, key BalanceKey) (Balance, error)
	ApplyBalanceDelta(ctx context.Context, tenantID uuid.UUID, key BalanceKey, delta decimal.Decimal, at time.Time) (Balance, error)
	SetBalanceOnHand(ctx context.Context, tenantID uuid.UUID, key BalanceKey, onHand decimal.Decimal, at time.Time) error
	LedgerOnHand(ctx context.Context, tenantID uuid.UUID, key BalanceKey, asOf *time.Time) (decimal.Decimal, error)
	LatestLayerCost(ctx context.Context, tenantID uuid.UUID, key LockKey) (decimal.Decimal, bool, error)
	InsertMovement(ctx context.Context, movement Movement) error
	InsertMovementLines(ctx context.Context, tenantID uuid.UUID, lines []MovementLine) error
	GetMovementForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Movement, error)
	FindPostedMovementBySource(ctx context.Context, tenantID uuid.UUID, sourceType string, sourceID uuid.UUID, movementType MovementType) (Movement, error)
	UpdateMovementStatus(ctx context.Context, tenantID, id uuid.UUID, status MovementStatus) error
	NextDocumentNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error)
	EnqueueMovementPosted(ctx context.Context, tenantID, movementID uuid.UUID) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
	CompleteIdempotency(ctx context.Context, tenantID uuid.UUID, key string, status shared.IdempotencyStatus, responseRef string) error
	InsertRepairAudit(ctx context.Context, entry RepairAudit) error
}

// TxRepo implements TxRepository on a pgx transaction. Orchestrator repositories embed it.
type TxRepo struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

// NewTxRepo wraps an open transaction.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{tx: tx, audit: shared.NewAuditLogger(tx)}
}

// Tx returns the underlying transaction.
func (r *TxRepo) Tx() pgx.Tx {
	return r.tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepo(tx))
	})
}

func isBalanceNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound)
}

const movementColumns = `id, tenant_id, movement_number, movement_type, status, COALESCE(source_type, ''), source_id,
occurred_at, posted_at, COALESCE(notes, ''), metadata, COALESCE(external_ref, ''), reversal_of, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var movementType, status string
	var meta []byte
	if err := row.Scan(&m.ID, &m.TenantID, &m.Number, &movementType, &status, &m.SourceType, &m.SourceID,
		&m.OccurredAt, &m.PostedAt, &m.Notes, &meta, &m.ExternalRef, &m.ReversalOf, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	m.Type = MovementType(movementType)
	m.Status = MovementStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return Movement{}, fmt.Errorf("inventory: decode metadata: %w", err)
		}
	}
	return m, nil
}

func loadLines(ctx context.Context, q db.Querier, tenantID, movementID uuid.UUID) ([]MovementLine, error) {
	rows, err := q.Query(ctx, `SELECT id, movement_id, line_no, item_id, location_id, entered_qty, entered_uom,
canonical_qty, canonical_uom, uom_dimension, unit_cost, extended_cost, COALESCE(reason_code, ''), COALESCE(note, '')
FROM inventory_movement_lines WHERE tenant_id=$1 AND movement_id=$2 ORDER BY line_no`, tenantID, movementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []MovementLine
	for rows.Next() {
		var l MovementLine
		var dim string
		if err := rows.Scan(&l.ID, &l.MovementID, &l.LineNo, &l.ItemID, &l.LocationID, &l.EnteredQty, &l.EnteredUOM,
			&l.CanonicalQty, &l.CanonicalUOM, &dim, &l.UnitCost, &l.ExtendedCost, &l.ReasonCode, &l.Note); err != nil {
			return nil, err
		}
		l.Dimension = uom.Dimension(dim)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func getMovement(ctx context.Context, q db.Querier, tenantID, id uuid.UUID, forUpdate bool) (Movement, error) {
	sql := `SELECT ` + movementColumns + ` FROM inventory_movements WHERE tenant_id=$1 AND id=$2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	m, err := scanMovement(q.QueryRow(ctx, sql, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound.With("movement_id", id)
		}
		return Movement{}, err
	}
	m.Lines, err = loadLines(ctx, q, tenantID, id)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// GetMovement returns a movement with its lines.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error) {
	return getMovement(ctx, r.pool, tenantID, id, false)
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.TenantID, &b.ItemID, &b.LocationID, &b.UOM, &b.OnHand, &b.Reserved, &b.Allocated, &b.UpdatedAt)
	return b, err
}

const balanceColumns = `tenant_id, item_id, location_id, uom, on_hand, reserved, allocated, updated_at`

// GetBalance reads one materialized balance.
func (r *Repository) GetBalance(ctx context.Context, tenantID uuid.UUID, key BalanceKey) (Balance, error) {
	b, err := scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4`, tenantID, key.ItemID, key.LocationID, key.UOM))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

// ListBalances lists materialized balances matching the filter. A zero limit lists all rows.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	preds := db.ForTenant("tenant_id", filter.TenantID).
		EqIf(filter.ItemID != nil, "item_id", derefUUID(filter.ItemID)).
		EqIf(filter.LocationID != nil, "location_id", derefUUID(filter.LocationID))
	sql := `SELECT ` + balanceColumns + ` FROM inventory_balances ` + preds.Where() + ` ORDER BY item_id, location_id, uom`
	args := preds.Args()
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", preds.Next())
		args = append(args, filter.Limit)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LedgerTotals aggregates canonical deltas of posted and voided-but-compensated lines per key.
// Voided movements stay in the sum because their reversal is posted as a separate movement.
func (r *Repository) LedgerTotals(ctx context.Context, filter BalanceFilter) ([]LedgerTotal, error) {
	preds := db.ForTenant("l.tenant_id", filter.TenantID).
		Raw("m.status IN ('posted', 'voided')").
		EqIf(filter.ItemID != nil, "l.item_id", derefUUID(filter.ItemID)).
		EqIf(filter.LocationID != nil, "l.location_id", derefUUID(filter.LocationID)).
		LteIf(filter.AsOf != nil, "m.occurred_at", derefTime(filter.AsOf))
	rows, err := r.pool.Query(ctx, `SELECT l.item_id, l.location_id, l.canonical_uom, SUM(l.canonical_qty)
FROM inventory_movement_lines l JOIN inventory_movements m ON m.id = l.movement_id AND m.tenant_id = l.tenant_id
`+preds.Where()+`
GROUP BY l.item_id, l.location_id, l.canonical_uom
ORDER BY l.item_id, l.location_id, l.canonical_uom`, preds.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerTotal
	for rows.Next() {
		var t LedgerTotal
		if err := rows.Scan(&t.ItemID, &t.LocationID, &t.UOM, &t.OnHand); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTenantIDs lists tenants that hold balances or movements.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id FROM inventory_balances
UNION SELECT tenant_id FROM inventory_movements ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockKeys takes transaction-scoped advisory locks in the given order.
func (r *TxRepo) LockKeys(ctx context.Context, tenantID uuid.UUID, keys []LockKey) error {
	for _, k := range keys {
		if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			"inventory:"+tenantID.String()+":"+k.String()); err != nil {
			return fmt.Errorf("inventory: lock %s: %w", k, err)
		}
	}
	return nil
}

func (r *TxRepo) GetBalanceForUpdate(ctx context.Context, tenantID uuid.UUID, key BalanceKey) (Balance, error) {
	b, err := scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4 FOR UPDATE`, tenantID, key.ItemID, key.LocationID, key.UOM))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{TenantID: tenantID, ItemID: key.ItemID, LocationID: key.LocationID, UOM: key.UOM}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *TxRepo) ApplyBalanceDelta(ctx context.Context, tenantID uuid.UUID, key BalanceKey, delta decimal.Decimal, at time.Time) (Balance, error) {
	return scanBalance(r.tx.QueryRow(ctx, `INSERT INTO inventory_balances (tenant_id, item_id, location_id, uom, on_hand, reserved, allocated, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
ON CONFLICT (tenant_id, item_id, location_id, uom)
DO UPDATE SET on_hand = inventory_balances.on_hand + EXCLUDED.on_hand, updated_at = EXCLUDED.updated_at
RETURNING `+balanceColumns, tenantID, key.ItemID, key.LocationID, key.UOM, delta, at))
}

func (r *TxRepo) SetBalanceOnHand(ctx context.Context, tenantID uuid.UUID, key BalanceKey, onHand decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (tenant_id, item_id, location_id, uom, on_hand, reserved, allocated, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
ON CONFLICT (tenant_id, item_id, location_id, uom)
DO UPDATE SET on_hand = EXCLUDED.on_hand, updated_at = EXCLUDED.updated_at`, tenantID, key.ItemID, key.LocationID, key.UOM, onHand, at)
	return err
}

func (r *TxRepo) LedgerOnHand(ctx context.Context, tenantID uuid.UUID, key BalanceKey, asOf *time.Time) (decimal.Decimal, error) {
	preds := db.ForTenant("l.tenant_id", tenantID).
		Raw("m.status IN ('posted', 'voided')").
		Eq("l.item_id", key.ItemID).
		Eq("l.location_id", key.LocationID).
		Eq("l.canonical_uom", key.UOM).
		LteIf(asOf != nil, "m.occurred_at", derefTime(asOf))
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.canonical_qty), 0)
FROM inventory_movement_lines l JOIN inventory_movements m ON m.id = l.movement_id AND m.tenant_id = l.tenant_id
`+preds.Where(), preds.Args()...).Scan(&total)
	return total, err
}

func (r *TxRepo) LatestLayerCost(ctx context.Context, tenantID uuid.UUID, key LockKey) (decimal.Decimal, bool, error) {
	var cost decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT unit_cost FROM inventory_cost_layers
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 ORDER BY created_at DESC, layer_seq DESC LIMIT 1`,
		tenantID, key.ItemID, key.LocationID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return cost, true, nil
}

func (r *TxRepo) ListOpenCostLayersForUpdate(ctx context.Context, tenantID uuid.UUID, key LockKey) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, item_id, location_id, uom, original_qty, remaining_qty, unit_cost,
created_at, layer_seq, COALESCE(source_type, ''), source_id, movement_id
FROM inventory_cost_layers
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND remaining_qty > 0
ORDER BY created_at, layer_seq
FOR UPDATE`, tenantID, key.ItemID, key.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CostLayer
	for rows.Next() {
		var l CostLayer
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ItemID, &l.LocationID, &l.UOM, &l.OriginalQty, &l.RemainingQty, &l.UnitCost,
			&l.CreatedAt, &l.Seq, &l.SourceType, &l.SourceID, &l.MovementID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *TxRepo) InsertCostLayer(ctx context.Context, layer CostLayer) (CostLayer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_cost_layers (id, tenant_id, item_id, location_id, uom, original_qty, remaining_qty,
unit_cost, created_at, source_type, source_id, movement_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
RETURNING layer_seq`, layer.ID, layer.TenantID, layer.ItemID, layer.LocationID, layer.UOM, layer.OriginalQty, layer.RemainingQty,
		layer.UnitCost, layer.CreatedAt, layer.SourceType, layer.SourceID, layer.MovementID).Scan(&layer.Seq)
	return layer, err
}

func (r *TxRepo) UpdateCostLayerRemaining(ctx context.Context, tenantID, layerID uuid.UUID, remaining decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_cost_layers SET remaining_qty=$3 WHERE tenant_id=$1 AND id=$2`, tenantID, layerID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return shared.ErrNotFound.With("cost_layer_id", layerID)
	}
	return nil
}

func (r *TxRepo) InsertConsumption(ctx context.Context, c CostLayerConsumption) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_cost_layer_consumptions (id, tenant_id, cost_layer_id, movement_id, movement_line_id,
consumption_type, quantity, unit_cost, consumed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.TenantID, c.CostLayerID, c.MovementID, c.MovementLineID, c.Type, c.Quantity, c.UnitCost, c.ConsumedAt)
	return err
}

func (r *TxRepo) InsertMovement(ctx context.Context, m Movement) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("inventory: encode metadata: %w", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO inventory_movements (id, tenant_id, movement_number, movement_type, status, source_type, source_id,
occurred_at, posted_at, notes, metadata, external_ref, reversal_of, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''), $13, $14)`,
		m.ID, m.TenantID, m.Number, string(m.Type), string(m.Status), m.SourceType, m.SourceID,
		m.OccurredAt, m.PostedAt, m.Notes, meta, m.ExternalRef, m.ReversalOf, m.CreatedAt)
	if db.IsUniqueViolation(err) {
		return shared.ErrDocumentState.With("reason", "movement already posted for source").Wrap(err)
	}
	return err
}

func (r *TxRepo) InsertMovementLines(ctx context.Context, tenantID uuid.UUID, lines []MovementLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO inventory_movement_lines (id, tenant_id, movement_id, line_no, item_id, location_id, entered_qty, entered_uom,
canonical_qty, canonical_uom, uom_dimension, unit_cost, extended_cost, reason_code, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''))`,
			l.ID, tenantID, l.MovementID, l.LineNo, l.ItemID, l.LocationID, l.EnteredQty, l.EnteredUOM,
			l.CanonicalQty, l.CanonicalUOM, string(l.Dimension), l.UnitCost, l.ExtendedCost, l.ReasonCode, l.Note)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *TxRepo) GetMovementForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Movement, error) {
	return getMovement(ctx, r.tx, tenantID, id, true)
}

func (r *TxRepo) FindPostedMovementBySource(ctx context.Context, tenantID uuid.UUID, sourceType string, sourceID uuid.UUID, movementType MovementType) (Movement, error) {
	var id uuid.UUID
	err := r.tx.QueryRow(ctx, `SELECT id FROM inventory_movements
WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3 AND movement_type=$4 AND status='posted'
ORDER BY created_at DESC LIMIT 1`, tenantID, sourceType, sourceID, string(movementType)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound.With("source_id", sourceID)
		}
		return Movement{}, err
	}
	return getMovement(ctx, r.tx, tenantID, id, false)
}

func (r *TxRepo) UpdateMovementStatus(ctx context.Context, tenantID, id uuid.UUID, status MovementStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_movements SET status=$3 WHERE tenant_id=$1 AND id=$2`, tenantID, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrMovementNotFound.With("movement_id", id)
	}
	return nil
}

// NextDocumentNumber increments the tenant's sequence row for prefix under a row lock.
func (r *TxRepo) NextDocumentNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	return NextDocumentNumber(ctx, r.tx, tenantID, prefix)
}

// NextDocumentNumber allocates "<prefix>-<n>" from document_sequences inside the caller's transaction.
func NextDocumentNumber(ctx context.Context, q db.Querier, tenantID uuid.UUID, prefix string) (string, error) {
	var next int64
	err := q.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, prefix, next_value) VALUES ($1, $2, 2)
ON CONFLICT (tenant_id, prefix) DO UPDATE SET next_value = document_sequences.next_value + 1
RETURNING next_value - 1`, tenantID, prefix).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("inventory: next %s number: %w", prefix, err)
	}
	return FormatDocumentNumber(prefix, next), nil
}

// FormatDocumentNumber renders a document number.
func FormatDocumentNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}

// EventMovementPosted is the outbox event type written for each posted movement.
const EventMovementPosted = "inventory.movement_posted"

func (r *TxRepo) EnqueueMovementPosted(ctx context.Context, tenantID, movementID uuid.UUID) error {
	payload, err := json.Marshal(map[string]string{"tenant_id": tenantID.String(), "movement_id": movementID.String()})
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO inventory_outbox (id, tenant_id, event_type, aggregate_id, payload, status, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', NOW())`, uuid.New(), tenantID, EventMovementPosted, movementID, payload)
	return err
}

func (r *TxRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return r.audit.Record(ctx, log)
}

func (r *TxRepo) CompleteIdempotency(ctx context.Context, tenantID uuid.UUID, key string, status shared.IdempotencyStatus, responseRef string) error {
	return shared.CompleteIdempotency(ctx, r.tx, tenantID, key, status, responseRef)
}

func (r *TxRepo) InsertRepairAudit(ctx context.Context, e RepairAudit) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balance_repairs (id, run_id, tenant_id, item_id, location_id, uom, before_qty, after_qty,
delta, actor_type, actor_id, repaired_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.RunID, e.TenantID, e.Key.ItemID, e.Key.LocationID, e.Key.UOM, e.Before, e.After, e.Delta, string(e.ActorType), e.ActorID, e.RepairedAt)
	return err
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
