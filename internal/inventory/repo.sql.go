package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrSnapshotNotFound indicates no snapshot row exists for the key.
var ErrSnapshotNotFound = errors.New("inventory: snapshot not found")

// Repository persists inventory entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a movement transaction.
type TxRepository interface {
	GetSnapshotForUpdate(ctx context.Context, key StockKey) (StockSnapshot, error)
	GetLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error)
	InsertLayer(ctx context.Context, layer CostLayer) (int64, error)
	UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error
	DeleteLayer(ctx context.Context, layerID int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpsertSnapshot(ctx context.Context, snap StockSnapshot) error
	InsertKardexEntry(ctx context.Context, k KardexEntry) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const snapshotColumns = `product_id, warehouse_id, lot_id, on_hand, reserved, available, avg_cost, value, last_movement_at, last_entry_at, last_exit_at, updated_at`

func scanSnapshot(row pgx.Row) (StockSnapshot, error) {
	var s StockSnapshot
	err := row.Scan(&s.ProductID, &s.WarehouseID, &s.LotID, &s.OnHand, &s.Reserved, &s.Available, &s.AvgCost, &s.Value, &s.LastMovementAt, &s.LastEntryAt, &s.LastExitAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockSnapshot{}, ErrSnapshotNotFound
		}
		return StockSnapshot{}, err
	}
	return s, nil
}

func (r *txRepository) GetSnapshotForUpdate(ctx context.Context, key StockKey) (StockSnapshot, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+snapshotColumns+`
FROM inventory_snapshots WHERE product_id=$1 AND warehouse_id=$2 AND lot_id=$3 FOR UPDATE`, key.ProductID, key.WarehouseID, key.LotID)
	return scanSnapshot(row)
}

func (r *txRepository) GetLayersForUpdate(ctx context.Context, key StockKey) ([]CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, warehouse_id, lot_id, remaining_qty, unit_cost, received_at, movement_id
FROM inventory_cost_layers
WHERE product_id=$1 AND warehouse_id=$2 AND lot_id=$3 AND remaining_qty > 0
ORDER BY received_at ASC, id ASC
FOR UPDATE`, key.ProductID, key.WarehouseID, key.LotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var l CostLayer
		if err := rows.Scan(&l.ID, &l.ProductID, &l.WarehouseID, &l.LotID, &l.RemainingQty, &l.UnitCost, &l.ReceivedAt, &l.MovementID); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func (r *txRepository) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_cost_layers (product_id, warehouse_id, lot_id, remaining_qty, unit_cost, received_at, movement_id)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		layer.ProductID, layer.WarehouseID, layer.LotID, layer.RemainingQty, layer.UnitCost, layer.ReceivedAt, layer.MovementID).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_cost_layers SET remaining_qty=$2 WHERE id=$1`, layerID, remaining)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("inventory: cost layer %d not found", layerID)
	}
	return nil
}

func (r *txRepository) DeleteLayer(ctx context.Context, layerID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM inventory_cost_layers WHERE id=$1`, layerID)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements
(code, type, source, product_id, warehouse_id, lot_id, qty, unit_cost, total_cost, prior_qty, new_qty, ref_doc_type, ref_doc_number, ref_id, note, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id`,
		m.Code, m.Type, m.Source, m.ProductID, m.WarehouseID, m.LotID, m.Qty, m.UnitCost, m.TotalCost, m.PriorQty, m.NewQty,
		m.RefDocType, m.RefDocNumber, m.RefID, m.Note, m.ActorID, m.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpsertSnapshot(ctx context.Context, snap StockSnapshot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_snapshots
(product_id, warehouse_id, lot_id, on_hand, reserved, available, avg_cost, value, last_movement_at, last_entry_at, last_exit_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (product_id, warehouse_id, lot_id) DO UPDATE SET
on_hand=EXCLUDED.on_hand, reserved=EXCLUDED.reserved, available=EXCLUDED.available,
avg_cost=EXCLUDED.avg_cost, value=EXCLUDED.value,
last_movement_at=EXCLUDED.last_movement_at, last_entry_at=EXCLUDED.last_entry_at, last_exit_at=EXCLUDED.last_exit_at,
updated_at=NOW()`,
		snap.ProductID, snap.WarehouseID, snap.LotID, snap.OnHand, snap.Reserved, snap.Available,
		snap.AvgCost, snap.Value, snap.LastMovementAt, snap.LastEntryAt, snap.LastExitAt)
	return err
}

func (r *txRepository) InsertKardexEntry(ctx context.Context, k KardexEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_kardex
(movement_id, movement_code, product_id, warehouse_id, lot_id, operation, doc_number, qty_in, unit_cost_in, total_in, qty_out, unit_cost_out, total_out, balance_qty, balance_unit_cost, balance_value, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id`,
		k.MovementID, k.MovementCode, k.ProductID, k.WarehouseID, k.LotID, k.Operation, k.DocNumber,
		k.QtyIn, k.UnitCostIn, k.TotalIn, k.QtyOut, k.UnitCostOut, k.TotalOut,
		k.BalanceQty, k.BalanceUnitCost, k.BalanceValue, k.PostedAt).Scan(&id)
	return id, err
}

// GetSnapshot returns the snapshot row without locking.
func (r *Repository) GetSnapshot(ctx context.Context, key StockKey) (StockSnapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+`
FROM inventory_snapshots WHERE product_id=$1 AND warehouse_id=$2 AND lot_id=$3`, key.ProductID, key.WarehouseID, key.LotID)
	return scanSnapshot(row)
}

// GetBalance sums the remaining cost layers for a key.
func (r *Repository) GetBalance(ctx context.Context, key StockKey) (Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, warehouse_id, lot_id, remaining_qty, unit_cost, received_at, movement_id
FROM inventory_cost_layers
WHERE product_id=$1 AND warehouse_id=$2 AND lot_id=$3 AND remaining_qty > 0
ORDER BY received_at ASC, id ASC`, key.ProductID, key.WarehouseID, key.LotID)
	if err != nil {
		return Balance{}, err
	}
	defer rows.Close()
	balance := Balance{Key: key, Qty: decimal.Zero, Value: decimal.Zero}
	for rows.Next() {
		var l CostLayer
		if err := rows.Scan(&l.ID, &l.ProductID, &l.WarehouseID, &l.LotID, &l.RemainingQty, &l.UnitCost, &l.ReceivedAt, &l.MovementID); err != nil {
			return Balance{}, err
		}
		balance.Layers = append(balance.Layers, l)
		balance.Qty = balance.Qty.Add(l.RemainingQty)
		balance.Value = balance.Value.Add(l.RemainingQty.Mul(l.UnitCost))
	}
	if err := rows.Err(); err != nil {
		return Balance{}, err
	}
	balance.Value = roundMoney(balance.Value)
	return balance, nil
}

// ListKardex returns kardex rows matching the filter, oldest first.
func (r *Repository) ListKardex(ctx context.Context, filter KardexFilter) ([]KardexEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, movement_id, movement_code, product_id, warehouse_id, lot_id, operation, doc_number,
qty_in, unit_cost_in, total_in, qty_out, unit_cost_out, total_out, balance_qty, balance_unit_cost, balance_value, posted_at
FROM inventory_kardex WHERE product_id=$1 AND warehouse_id=$2`)
	args := []any{filter.ProductID, filter.WarehouseID}
	if filter.LotID != 0 {
		args = append(args, filter.LotID)
		fmt.Fprintf(&sb, " AND lot_id=$%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(&sb, " AND posted_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(&sb, " AND posted_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY posted_at ASC, id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []KardexEntry
	for rows.Next() {
		var k KardexEntry
		if err := rows.Scan(&k.ID, &k.MovementID, &k.MovementCode, &k.ProductID, &k.WarehouseID, &k.LotID, &k.Operation, &k.DocNumber,
			&k.QtyIn, &k.UnitCostIn, &k.TotalIn, &k.QtyOut, &k.UnitCostOut, &k.TotalOut,
			&k.BalanceQty, &k.BalanceUnitCost, &k.BalanceValue, &k.PostedAt); err != nil {
			return nil, err
		}
		entries = append(entries, k)
	}
	return entries, rows.Err()
}
