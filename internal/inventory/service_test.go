package inventory

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

type memoryRepo struct {
	snapshots map[StockKey]StockSnapshot
	layers    []CostLayer
	movements []Movement
	kardex    []KardexEntry
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{snapshots: make(map[StockKey]StockSnapshot)}
}

func (m *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{
		snapshots: make(map[StockKey]StockSnapshot, len(m.snapshots)),
		layers:    append([]CostLayer(nil), m.layers...),
		movements: append([]Movement(nil), m.movements...),
		kardex:    append([]KardexEntry(nil), m.kardex...),
		nextID:    m.nextID,
	}
	for k, v := range m.snapshots {
		c.snapshots[k] = v
	}
	return c
}

// WithTx commits the staged copy only when fn succeeds, mirroring a rollback
// on failure.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := m.clone()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*m = *tx
	return nil
}

func (m *memoryRepo) GetSnapshotForUpdate(_ context.Context, key StockKey) (StockSnapshot, error) {
	snap, ok := m.snapshots[key]
	if !ok {
		return StockSnapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (m *memoryRepo) GetLayersForUpdate(_ context.Context, key StockKey) ([]CostLayer, error) {
	var layers []CostLayer
	for _, l := range m.layers {
		if l.ProductID == key.ProductID && l.WarehouseID == key.WarehouseID && l.LotID == key.LotID && l.RemainingQty.GreaterThan(decimal.Zero) {
			layers = append(layers, l)
		}
	}
	sort.Slice(layers, func(i, j int) bool {
		if !layers[i].ReceivedAt.Equal(layers[j].ReceivedAt) {
			return layers[i].ReceivedAt.Before(layers[j].ReceivedAt)
		}
		return layers[i].ID < layers[j].ID
	})
	return layers, nil
}

func (m *memoryRepo) InsertLayer(_ context.Context, layer CostLayer) (int64, error) {
	m.nextID++
	layer.ID = m.nextID
	m.layers = append(m.layers, layer)
	return layer.ID, nil
}

func (m *memoryRepo) UpdateLayerRemaining(_ context.Context, layerID int64, remaining decimal.Decimal) error {
	for i := range m.layers {
		if m.layers[i].ID == layerID {
			m.layers[i].RemainingQty = remaining
			return nil
		}
	}
	return ErrSnapshotNotFound
}

func (m *memoryRepo) DeleteLayer(_ context.Context, layerID int64) error {
	for i := range m.layers {
		if m.layers[i].ID == layerID {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memoryRepo) InsertMovement(_ context.Context, mv Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *memoryRepo) UpsertSnapshot(_ context.Context, snap StockSnapshot) error {
	key := StockKey{ProductID: snap.ProductID, WarehouseID: snap.WarehouseID, LotID: snap.LotID}
	m.snapshots[key] = snap
	return nil
}

func (m *memoryRepo) InsertKardexEntry(_ context.Context, k KardexEntry) (int64, error) {
	m.nextID++
	k.ID = m.nextID
	m.kardex = append(m.kardex, k)
	return k.ID, nil
}

func (m *memoryRepo) GetSnapshot(ctx context.Context, key StockKey) (StockSnapshot, error) {
	return m.GetSnapshotForUpdate(ctx, key)
}

func (m *memoryRepo) GetBalance(ctx context.Context, key StockKey) (Balance, error) {
	layers, err := m.GetLayersForUpdate(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	balance := Balance{Key: key, Qty: decimal.Zero, Value: decimal.Zero, Layers: layers}
	for _, l := range layers {
		balance.Qty = balance.Qty.Add(l.RemainingQty)
		balance.Value = balance.Value.Add(l.RemainingQty.Mul(l.UnitCost))
	}
	balance.Value = roundMoney(balance.Value)
	return balance, nil
}

func (m *memoryRepo) ListKardex(_ context.Context, filter KardexFilter) ([]KardexEntry, error) {
	var entries []KardexEntry
	for _, k := range m.kardex {
		if k.ProductID == filter.ProductID && k.WarehouseID == filter.WarehouseID {
			entries = append(entries, k)
		}
	}
	return entries, nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	clock := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	svc := NewService(ServiceParams{
		Repo:   repo,
		Logger: slog.Default(),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return svc, repo
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordEntryRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: decimal.Zero, UnitCost: dec("5")})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: dec("-3"), UnitCost: dec("5")})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: dec("3"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.RecordExit(ctx, ExitInput{ProductID: 1, WarehouseID: 1, Qty: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidMovement)
}

func TestRecordEntryPushesLayerAndUpdatesSnapshot(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	result, err := svc.RecordEntry(ctx, EntryInput{ProductID: 7, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("2.5")})
	require.NoError(t, err)
	require.True(t, result.Snapshot.OnHand.Equal(dec("10")))
	require.True(t, result.Snapshot.Value.Equal(dec("25")))
	require.True(t, result.Snapshot.AvgCost.Equal(dec("2.5")))
	require.True(t, result.Kardex.QtyIn.Equal(dec("10")))
	require.Len(t, repo.layers, 1)
	require.True(t, repo.layers[0].RemainingQty.Equal(dec("10")))
}

func TestExitConsumesOldestLayersFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	key := StockKey{ProductID: 1, WarehouseID: 1}

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("1.00")})
	require.NoError(t, err)
	_, err = svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("2.00")})
	require.NoError(t, err)

	result, err := svc.RecordExit(ctx, ExitInput{ProductID: 1, WarehouseID: 1, Qty: dec("15")})
	require.NoError(t, err)

	// 10 @ 1.00 plus 5 @ 2.00.
	require.True(t, result.Movement.TotalCost.Equal(dec("20.00")), "got %s", result.Movement.TotalCost)
	require.Len(t, result.Consumptions, 2)
	require.True(t, result.Consumptions[0].Qty.Equal(dec("10")))
	require.True(t, result.Consumptions[1].Qty.Equal(dec("5")))

	balance, err := svc.CurrentBalance(ctx, key)
	require.NoError(t, err)
	require.True(t, balance.Qty.Equal(dec("5")))
	require.True(t, balance.Value.Equal(dec("10.00")))
	require.Len(t, balance.Layers, 1)
	require.True(t, balance.Layers[0].UnitCost.Equal(dec("2.00")))

	snap := repo.snapshots[key]
	require.True(t, snap.OnHand.Equal(balance.Qty))
	require.True(t, snap.Value.Equal(balance.Value))
}

func TestExitFailureLeavesStockUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	key := StockKey{ProductID: 9, WarehouseID: 2}

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 9, WarehouseID: 2, Qty: dec("100"), UnitCost: dec("10.00"), Source: SourcePurchase})
	require.NoError(t, err)

	sale, err := svc.RecordExit(ctx, ExitInput{ProductID: 9, WarehouseID: 2, Qty: dec("60"), Source: SourceSale})
	require.NoError(t, err)
	require.True(t, sale.Movement.TotalCost.Equal(dec("600.00")))

	snapBefore := repo.snapshots[key]
	require.True(t, snapBefore.OnHand.Equal(dec("40")))
	require.True(t, snapBefore.Value.Equal(dec("400.00")))

	_, err = svc.RecordExit(ctx, ExitInput{ProductID: 9, WarehouseID: 2, Qty: dec("50"), Source: SourceSale})
	require.ErrorIs(t, err, ErrInsufficientStock)

	snapAfter := repo.snapshots[key]
	require.True(t, snapAfter.OnHand.Equal(snapBefore.OnHand))
	require.True(t, snapAfter.Value.Equal(snapBefore.Value))

	balance, err := svc.CurrentBalance(ctx, key)
	require.NoError(t, err)
	require.True(t, balance.Qty.Equal(dec("40")))
	require.True(t, balance.Value.Equal(dec("400.00")))
}

func TestEntryRecomputesAverageCost(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	key := StockKey{ProductID: 3, WarehouseID: 1}

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 3, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("1.00")})
	require.NoError(t, err)
	_, err = svc.RecordEntry(ctx, EntryInput{ProductID: 3, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("3.00")})
	require.NoError(t, err)

	snap := repo.snapshots[key]
	require.True(t, snap.AvgCost.Equal(dec("2.00")), "got %s", snap.AvgCost)
	require.True(t, snap.Value.Equal(dec("40.00")))
}

func TestMovementsAreImmutableAndKardexIsOneToOne(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 4, WarehouseID: 1, Qty: dec("5"), UnitCost: dec("2")})
	require.NoError(t, err)
	_, err = svc.RecordExit(ctx, ExitInput{ProductID: 4, WarehouseID: 1, Qty: dec("2")})
	require.NoError(t, err)

	require.Len(t, repo.movements, 2)
	require.Len(t, repo.kardex, 2)
	for i, k := range repo.kardex {
		require.Equal(t, repo.movements[i].ID, k.MovementID)
	}
	require.True(t, repo.movements[1].NewQty.Equal(repo.movements[1].PriorQty.Sub(repo.movements[1].Qty)))
}

func TestReserveAndRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key := StockKey{ProductID: 5, WarehouseID: 1}

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 5, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("4")})
	require.NoError(t, err)

	snap, err := svc.Reserve(ctx, ReservationInput{ProductID: 5, WarehouseID: 1, Qty: dec("4")})
	require.NoError(t, err)
	require.True(t, snap.Reserved.Equal(dec("4")))
	require.True(t, snap.Available.Equal(dec("6")))

	_, err = svc.Reserve(ctx, ReservationInput{ProductID: 5, WarehouseID: 1, Qty: dec("7")})
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	snap, err = svc.Release(ctx, ReservationInput{ProductID: 5, WarehouseID: 1, Qty: dec("10")})
	require.NoError(t, err)
	require.True(t, snap.Reserved.IsZero())
	require.True(t, snap.Available.Equal(dec("10")))

	balance, err := svc.CurrentBalance(ctx, key)
	require.NoError(t, err)
	require.True(t, balance.Qty.Equal(dec("10")), "reservations must not touch layers")
}

func TestReserveWithoutStockFails(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reserve(context.Background(), ReservationInput{ProductID: 99, WarehouseID: 1, Qty: dec("1")})
	require.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestTransferConservesStockAcrossWarehouses(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 6, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("5.00")})
	require.NoError(t, err)

	result, err := svc.Transfer(ctx, TransferInput{ProductID: 6, SrcWarehouse: 1, DstWarehouse: 2, Qty: dec("4")})
	require.NoError(t, err)
	require.Equal(t, MovementTypeTransferOut, result.Out.Movement.Type)
	require.Equal(t, MovementTypeTransferIn, result.In.Movement.Type)
	require.True(t, result.In.Movement.UnitCost.Equal(dec("5.00")))

	src := repo.snapshots[StockKey{ProductID: 6, WarehouseID: 1}]
	dst := repo.snapshots[StockKey{ProductID: 6, WarehouseID: 2}]
	require.True(t, src.OnHand.Equal(dec("6")))
	require.True(t, dst.OnHand.Equal(dec("4")))
	require.True(t, src.OnHand.Add(dst.OnHand).Equal(dec("10")))
	require.True(t, src.Value.Add(dst.Value).Equal(dec("50.00")))
}

func TestTransferRejectsSameWarehouse(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Transfer(context.Background(), TransferInput{ProductID: 6, SrcWarehouse: 1, DstWarehouse: 1, Qty: dec("4")})
	require.ErrorIs(t, err, ErrInvalidMovement)
}

func TestTransferInsufficientStockFailsBeforeAnyMovement(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 8, WarehouseID: 1, Qty: dec("3"), UnitCost: dec("2")})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 8, SrcWarehouse: 1, DstWarehouse: 2, Qty: dec("5")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Len(t, repo.movements, 1)
	_, ok := repo.snapshots[StockKey{ProductID: 8, WarehouseID: 2}]
	require.False(t, ok)
}

func TestExitSplitsLayerAndKeepsRemainderCost(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key := StockKey{ProductID: 2, WarehouseID: 1}

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 2, WarehouseID: 1, Qty: dec("8"), UnitCost: dec("1.25")})
	require.NoError(t, err)

	result, err := svc.RecordExit(ctx, ExitInput{ProductID: 2, WarehouseID: 1, Qty: dec("3")})
	require.NoError(t, err)
	require.True(t, result.Movement.TotalCost.Equal(dec("3.75")))

	balance, err := svc.CurrentBalance(ctx, key)
	require.NoError(t, err)
	require.Len(t, balance.Layers, 1)
	require.True(t, balance.Layers[0].RemainingQty.Equal(dec("5")))
	require.True(t, balance.Layers[0].UnitCost.Equal(dec("1.25")))
}

func TestLotTrackedQueuesAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, LotID: 10, Qty: dec("5"), UnitCost: dec("1")})
	require.NoError(t, err)
	_, err = svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, LotID: 20, Qty: dec("5"), UnitCost: dec("2")})
	require.NoError(t, err)

	_, err = svc.RecordExit(ctx, ExitInput{ProductID: 1, WarehouseID: 1, LotID: 10, Qty: dec("6")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	result, err := svc.RecordExit(ctx, ExitInput{ProductID: 1, WarehouseID: 1, LotID: 20, Qty: dec("5")})
	require.NoError(t, err)
	require.True(t, result.Movement.TotalCost.Equal(dec("10.00")))
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func newIdempotentTestService(t *testing.T) (*Service, *memoryIdempotency) {
	t.Helper()
	idem := &memoryIdempotency{}
	clock := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	svc := NewService(ServiceParams{
		Repo:        newMemoryRepo(),
		Logger:      slog.Default(),
		Idempotency: idem,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return svc, idem
}

func TestDuplicateMovementCodeRejected(t *testing.T) {
	svc, _ := newIdempotentTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{Code: "ENT-1", ProductID: 1, WarehouseID: 1, Qty: dec("5"), UnitCost: dec("2")})
	require.NoError(t, err)

	_, err = svc.RecordEntry(ctx, EntryInput{Code: "ENT-1", ProductID: 1, WarehouseID: 1, Qty: dec("5"), UnitCost: dec("2")})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestFailedExitFreesCodeForRetry(t *testing.T) {
	svc, idem := newIdempotentTestService(t)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{Code: "ENT-2", ProductID: 1, WarehouseID: 1, Qty: dec("10"), UnitCost: dec("3")})
	require.NoError(t, err)

	_, err = svc.RecordExit(ctx, ExitInput{Code: "SAL-1", ProductID: 1, WarehouseID: 1, Qty: dec("50")})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, idem.keys["movement:SAL-1"], "rolled-back exit must not keep its code claimed")

	_, err = svc.RecordEntry(ctx, EntryInput{Code: "ENT-3", ProductID: 1, WarehouseID: 1, Qty: dec("100"), UnitCost: dec("3")})
	require.NoError(t, err)

	result, err := svc.RecordExit(ctx, ExitInput{Code: "SAL-1", ProductID: 1, WarehouseID: 1, Qty: dec("50")})
	require.NoError(t, err)
	require.True(t, result.Movement.TotalCost.Equal(dec("150.00")))
	require.True(t, idem.keys["movement:SAL-1"])
}

type captureHook struct {
	events []MovementPostedEvent
}

func (c *captureHook) HandleMovementPosted(_ context.Context, evt MovementPostedEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func TestIntegrationHookReceivesCommittedMovements(t *testing.T) {
	svc, _ := newTestService(t)
	hook := &captureHook{}
	svc.RegisterIntegration(hook)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{ProductID: 1, WarehouseID: 1, Qty: dec("2"), UnitCost: dec("3")})
	require.NoError(t, err)
	_, err = svc.RecordExit(ctx, ExitInput{ProductID: 1, WarehouseID: 1, Qty: dec("5")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Len(t, hook.events, 1)
	require.Equal(t, MovementTypeEntry, hook.events[0].Type)
	require.True(t, hook.events[0].TotalCost.Equal(dec("6.00")))
}
