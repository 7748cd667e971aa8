package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSnapshot(ctx context.Context, key StockKey) (StockSnapshot, error)
	GetBalance(ctx context.Context, key StockKey) (Balance, error)
	ListKardex(ctx context.Context, filter KardexFilter) ([]KardexEntry, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against duplicate movement posts.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MovementResult carries the outcome of a posted movement.
type MovementResult struct {
	Movement     Movement           `json:"movement"`
	Kardex       KardexEntry        `json:"kardex"`
	Snapshot     StockSnapshot      `json:"snapshot"`
	Consumptions []LayerConsumption `json:"consumptions,omitempty"`
}

// TransferResult pairs the two halves of a warehouse transfer.
type TransferResult struct {
	Code string         `json:"code"`
	Out  MovementResult `json:"out"`
	In   MovementResult `json:"in"`
}

// ServiceParams groups Service dependencies.
type ServiceParams struct {
	Repo        RepositoryPort
	Logger      *slog.Logger
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       *SnapshotCache
	Now         func() time.Time
}

// Service implements FIFO stock valuation. Every mutation runs in one
// repeatable-read transaction with the snapshot row locked, so concurrent
// movements on the same key serialize.
type Service struct {
	repo  RepositoryPort
	log   *slog.Logger
	audit AuditPort
	idem  IdempotencyPort
	cache *SnapshotCache
	hooks []IntegrationHandler
	now   func() time.Time
}

// NewService constructs Service.
func NewService(params ServiceParams) *Service {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:  params.Repo,
		log:   logger,
		audit: params.Audit,
		idem:  params.Idempotency,
		cache: params.Cache,
		now:   now,
	}
}

// RegisterIntegration subscribes a handler to committed movement events.
func (s *Service) RegisterIntegration(h IntegrationHandler) {
	if h != nil {
		s.hooks = append(s.hooks, h)
	}
}

// RecordEntry pushes a cost layer and updates the snapshot for an inbound
// movement.
func (s *Service) RecordEntry(ctx context.Context, in EntryInput) (MovementResult, error) {
	if in.Qty.LessThanOrEqual(decimal.Zero) || in.UnitCost.IsNegative() {
		return MovementResult{}, ErrInvalidMovement
	}
	if in.Type == "" {
		in.Type = MovementTypeEntry
	}
	if !in.Type.Inbound() {
		return MovementResult{}, fmt.Errorf("%w: %s is not an inbound type", ErrInvalidMovement, in.Type)
	}
	if in.Source == "" {
		in.Source = SourcePurchase
	}
	if in.Code == "" {
		in.Code = s.nextCode()
	}
	if err := s.claimCode(ctx, in.Code); err != nil {
		return MovementResult{}, err
	}

	key := StockKey{ProductID: in.ProductID, WarehouseID: in.WarehouseID, LotID: in.LotID}
	qty := roundQty(in.Qty)
	cost := roundQty(in.UnitCost)
	total := roundMoney(qty.Mul(cost))
	postedAt := s.now().UTC()

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := tx.GetSnapshotForUpdate(ctx, key)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return err
		}
		if errors.Is(err, ErrSnapshotNotFound) {
			snap = emptySnapshot(key)
		}

		movement := Movement{
			Code:         in.Code,
			Type:         in.Type,
			Source:       in.Source,
			ProductID:    in.ProductID,
			WarehouseID:  in.WarehouseID,
			LotID:        in.LotID,
			Qty:          qty,
			UnitCost:     cost,
			TotalCost:    total,
			PriorQty:     snap.OnHand,
			NewQty:       snap.OnHand.Add(qty),
			RefDocType:   in.RefDocType,
			RefDocNumber: in.RefDocNumber,
			RefID:        in.RefID,
			Note:         in.Note,
			ActorID:      in.ActorID,
			PostedAt:     postedAt,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = movementID

		layer := CostLayer{
			ProductID:    key.ProductID,
			WarehouseID:  key.WarehouseID,
			LotID:        key.LotID,
			RemainingQty: qty,
			UnitCost:     cost,
			ReceivedAt:   postedAt,
			MovementID:   movementID,
		}
		if _, err := tx.InsertLayer(ctx, layer); err != nil {
			return err
		}

		snap.OnHand = movement.NewQty
		snap.Value = snap.Value.Add(total)
		snap.AvgCost = averageCost(snap.Value, snap.OnHand)
		snap.Available = snap.OnHand.Sub(snap.Reserved)
		snap.LastMovementAt = postedAt
		snap.LastEntryAt = postedAt
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}

		kardex := KardexEntry{
			MovementID:      movementID,
			MovementCode:    movement.Code,
			ProductID:       key.ProductID,
			WarehouseID:     key.WarehouseID,
			LotID:           key.LotID,
			Operation:       in.Source,
			DocNumber:       in.RefDocNumber,
			QtyIn:           qty,
			UnitCostIn:      cost,
			TotalIn:         total,
			BalanceQty:      snap.OnHand,
			BalanceUnitCost: snap.AvgCost,
			BalanceValue:    snap.Value,
			PostedAt:        postedAt,
		}
		kardexID, err := tx.InsertKardexEntry(ctx, kardex)
		if err != nil {
			return err
		}
		kardex.ID = kardexID

		result = MovementResult{Movement: movement, Kardex: kardex, Snapshot: snap}
		return nil
	})
	if err != nil {
		s.releaseCode(ctx, in.Code)
		return MovementResult{}, err
	}

	s.afterMovement(ctx, key, result)
	return result, nil
}

// RecordExit consumes FIFO layers front to back. Availability is checked
// against the full queue before any layer is touched, so a failed exit never
// mutates stock.
func (s *Service) RecordExit(ctx context.Context, in ExitInput) (MovementResult, error) {
	if in.Qty.LessThanOrEqual(decimal.Zero) {
		return MovementResult{}, ErrInvalidMovement
	}
	if in.Type == "" {
		in.Type = MovementTypeExit
	}
	if in.Type.Inbound() {
		return MovementResult{}, fmt.Errorf("%w: %s is not an outbound type", ErrInvalidMovement, in.Type)
	}
	if in.Source == "" {
		in.Source = SourceSale
	}
	if in.Code == "" {
		in.Code = s.nextCode()
	}
	if err := s.claimCode(ctx, in.Code); err != nil {
		return MovementResult{}, err
	}

	key := StockKey{ProductID: in.ProductID, WarehouseID: in.WarehouseID, LotID: in.LotID}
	qty := roundQty(in.Qty)
	postedAt := s.now().UTC()

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := tx.GetSnapshotForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("%w: no stock for product %d in warehouse %d", ErrInsufficientStock, key.ProductID, key.WarehouseID)
			}
			return err
		}
		layers, err := tx.GetLayersForUpdate(ctx, key)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for _, l := range layers {
			available = available.Add(l.RemainingQty)
		}
		if available.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientStock, qty, available)
		}

		consumptions := make([]LayerConsumption, 0, len(layers))
		exactCost := decimal.Zero
		left := qty
		for _, layer := range layers {
			if left.IsZero() {
				break
			}
			take := layer.RemainingQty
			if take.GreaterThan(left) {
				take = left
			}
			exactCost = exactCost.Add(take.Mul(layer.UnitCost))
			consumptions = append(consumptions, LayerConsumption{LayerID: layer.ID, Qty: take, UnitCost: layer.UnitCost})
			remaining := layer.RemainingQty.Sub(take)
			if remaining.IsZero() {
				if err := tx.DeleteLayer(ctx, layer.ID); err != nil {
					return err
				}
			} else {
				if err := tx.UpdateLayerRemaining(ctx, layer.ID, remaining); err != nil {
					return err
				}
			}
			left = left.Sub(take)
		}

		totalCost := roundMoney(exactCost)
		unitCost := roundQty(exactCost.Div(qty))

		movement := Movement{
			Code:         in.Code,
			Type:         in.Type,
			Source:       in.Source,
			ProductID:    in.ProductID,
			WarehouseID:  in.WarehouseID,
			LotID:        in.LotID,
			Qty:          qty,
			UnitCost:     unitCost,
			TotalCost:    totalCost,
			PriorQty:     snap.OnHand,
			NewQty:       snap.OnHand.Sub(qty),
			RefDocType:   in.RefDocType,
			RefDocNumber: in.RefDocNumber,
			RefID:        in.RefID,
			Note:         in.Note,
			ActorID:      in.ActorID,
			PostedAt:     postedAt,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = movementID

		snap.OnHand = movement.NewQty
		if snap.OnHand.IsZero() {
			snap.Value = decimal.Zero
		} else {
			snap.Value = snap.Value.Sub(totalCost)
		}
		snap.AvgCost = averageCost(snap.Value, snap.OnHand)
		snap.Available = snap.OnHand.Sub(snap.Reserved)
		snap.LastMovementAt = postedAt
		snap.LastExitAt = postedAt
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}

		kardex := KardexEntry{
			MovementID:      movementID,
			MovementCode:    movement.Code,
			ProductID:       key.ProductID,
			WarehouseID:     key.WarehouseID,
			LotID:           key.LotID,
			Operation:       in.Source,
			DocNumber:       in.RefDocNumber,
			QtyOut:          qty,
			UnitCostOut:     unitCost,
			TotalOut:        totalCost,
			BalanceQty:      snap.OnHand,
			BalanceUnitCost: snap.AvgCost,
			BalanceValue:    snap.Value,
			PostedAt:        postedAt,
		}
		kardexID, err := tx.InsertKardexEntry(ctx, kardex)
		if err != nil {
			return err
		}
		kardex.ID = kardexID

		result = MovementResult{Movement: movement, Kardex: kardex, Snapshot: snap, Consumptions: consumptions}
		return nil
	})
	if err != nil {
		s.releaseCode(ctx, in.Code)
		return MovementResult{}, err
	}

	s.afterMovement(ctx, key, result)
	return result, nil
}

// Transfer moves stock between warehouses as an exit from the source costed
// by FIFO, followed by an entry into the destination at the derived cost.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Qty.LessThanOrEqual(decimal.Zero) {
		return TransferResult{}, ErrInvalidMovement
	}
	if in.SrcWarehouse == in.DstWarehouse {
		return TransferResult{}, fmt.Errorf("%w: source and destination warehouses match", ErrInvalidMovement)
	}
	code := in.Code
	if code == "" {
		code = s.nextCode()
	}

	out, err := s.RecordExit(ctx, ExitInput{
		Code:        code + "-OUT",
		ProductID:   in.ProductID,
		WarehouseID: in.SrcWarehouse,
		LotID:       in.LotID,
		Qty:         in.Qty,
		Type:        MovementTypeTransferOut,
		Source:      SourceTransfer,
		RefID:       in.Code,
		Note:        in.Note,
		ActorID:     in.ActorID,
	})
	if err != nil {
		return TransferResult{}, err
	}

	entry, err := s.RecordEntry(ctx, EntryInput{
		Code:        code + "-IN",
		ProductID:   in.ProductID,
		WarehouseID: in.DstWarehouse,
		LotID:       in.LotID,
		Qty:         in.Qty,
		UnitCost:    out.Movement.UnitCost,
		Type:        MovementTypeTransferIn,
		Source:      SourceTransfer,
		RefID:       in.Code,
		Note:        in.Note,
		ActorID:     in.ActorID,
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("transfer %s: exit posted but entry failed: %w", code, err)
	}

	return TransferResult{Code: code, Out: out, In: entry}, nil
}

// Reserve increases the reserved quantity of a snapshot. Reservations never
// touch cost layers.
func (s *Service) Reserve(ctx context.Context, in ReservationInput) (StockSnapshot, error) {
	if in.Qty.LessThanOrEqual(decimal.Zero) {
		return StockSnapshot{}, ErrInvalidMovement
	}
	key := StockKey{ProductID: in.ProductID, WarehouseID: in.WarehouseID, LotID: in.LotID}
	qty := roundQty(in.Qty)

	var snap StockSnapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSnapshotForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("%w: no stock for product %d in warehouse %d", ErrInsufficientAvailable, key.ProductID, key.WarehouseID)
			}
			return err
		}
		if current.Available.LessThan(qty) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientAvailable, qty, current.Available)
		}
		current.Reserved = current.Reserved.Add(qty)
		current.Available = current.OnHand.Sub(current.Reserved)
		if err := tx.UpsertSnapshot(ctx, current); err != nil {
			return err
		}
		snap = current
		return nil
	})
	if err != nil {
		return StockSnapshot{}, err
	}

	s.invalidate(ctx, key)
	s.recordAudit(ctx, in.ActorID, "inventory.reserve", key, map[string]any{"qty": qty.String()})
	return snap, nil
}

// Release decreases the reserved quantity, clamping at zero.
func (s *Service) Release(ctx context.Context, in ReservationInput) (StockSnapshot, error) {
	if in.Qty.LessThanOrEqual(decimal.Zero) {
		return StockSnapshot{}, ErrInvalidMovement
	}
	key := StockKey{ProductID: in.ProductID, WarehouseID: in.WarehouseID, LotID: in.LotID}
	qty := roundQty(in.Qty)

	var snap StockSnapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetSnapshotForUpdate(ctx, key)
		if err != nil {
			return err
		}
		current.Reserved = current.Reserved.Sub(qty)
		if current.Reserved.IsNegative() {
			current.Reserved = decimal.Zero
		}
		current.Available = current.OnHand.Sub(current.Reserved)
		if err := tx.UpsertSnapshot(ctx, current); err != nil {
			return err
		}
		snap = current
		return nil
	})
	if err != nil {
		return StockSnapshot{}, err
	}

	s.invalidate(ctx, key)
	s.recordAudit(ctx, in.ActorID, "inventory.release", key, map[string]any{"qty": qty.String()})
	return snap, nil
}

// CurrentBalance returns the quantity and value of the remaining FIFO layers
// for a key. The layers are authoritative; the snapshot must reconcile with
// this figure.
func (s *Service) CurrentBalance(ctx context.Context, key StockKey) (Balance, error) {
	return s.repo.GetBalance(ctx, key)
}

// Snapshot returns the aggregate row for a key, through the read cache when
// one is configured.
func (s *Service) Snapshot(ctx context.Context, key StockKey) (StockSnapshot, error) {
	if s.cache == nil {
		return s.repo.GetSnapshot(ctx, key)
	}
	return s.cache.Get(ctx, key, func(ctx context.Context) (StockSnapshot, error) {
		return s.repo.GetSnapshot(ctx, key)
	})
}

// Kardex returns the valorized stock card rows matching the filter.
func (s *Service) Kardex(ctx context.Context, filter KardexFilter) ([]KardexEntry, error) {
	if filter.ProductID == 0 || filter.WarehouseID == 0 {
		return nil, fmt.Errorf("%w: product and warehouse are required", ErrInvalidMovement)
	}
	return s.repo.ListKardex(ctx, filter)
}

func (s *Service) claimCode(ctx context.Context, code string) error {
	if s.idem == nil {
		return nil
	}
	return s.idem.CheckAndInsert(ctx, "movement:"+code, "inventory")
}

// releaseCode frees a claimed movement code after a rolled-back transaction,
// so the caller can correct the document and retry under the same code.
func (s *Service) releaseCode(ctx context.Context, code string) {
	if s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, "movement:"+code); err != nil {
		s.log.Warn("movement code release failed", "code", code, "error", err)
	}
}

func (s *Service) afterMovement(ctx context.Context, key StockKey, result MovementResult) {
	s.invalidate(ctx, key)
	s.recordAudit(ctx, result.Movement.ActorID, "inventory.movement", key, map[string]any{
		"code":  result.Movement.Code,
		"type":  string(result.Movement.Type),
		"qty":   result.Movement.Qty.String(),
		"total": result.Movement.TotalCost.String(),
	})
	evt := MovementPostedEvent{
		MovementID:  result.Movement.ID,
		Code:        result.Movement.Code,
		Type:        result.Movement.Type,
		Source:      result.Movement.Source,
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		LotID:       key.LotID,
		Qty:         result.Movement.Qty,
		TotalCost:   result.Movement.TotalCost,
		RefID:       result.Movement.RefID,
		PostedAt:    result.Movement.PostedAt,
	}
	for _, hook := range s.hooks {
		if err := hook.HandleMovementPosted(ctx, evt); err != nil {
			s.log.Error("movement integration hook failed", "movement", result.Movement.Code, "error", err)
		}
	}
}

func (s *Service) invalidate(ctx context.Context, key StockKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn("snapshot cache invalidation failed", "error", err)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, key StockKey, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock",
		EntityID: fmt.Sprintf("%d:%d:%d", key.ProductID, key.WarehouseID, key.LotID),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.log.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Service) nextCode() string {
	return "MOV-" + uuid.NewString()
}

func averageCost(value, qty decimal.Decimal) decimal.Decimal {
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return roundQty(value.Div(qty))
}

func emptySnapshot(key StockKey) StockSnapshot {
	return StockSnapshot{
		ProductID:   key.ProductID,
		WarehouseID: key.WarehouseID,
		LotID:       key.LotID,
		OnHand:      decimal.Zero,
		Reserved:    decimal.Zero,
		Available:   decimal.Zero,
		AvgCost:     decimal.Zero,
		Value:       decimal.Zero,
	}
}
