package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

type memoryRepo struct {
	products   map[int64]Product
	warehouses map[int64]Warehouse
	lots       map[int64]Lot
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:   make(map[int64]Product),
		warehouses: make(map[int64]Warehouse),
		lots:       make(map[int64]Lot),
	}
}

func (m *memoryRepo) CreateProduct(_ context.Context, p Product) (Product, error) {
	for _, existing := range m.products {
		if existing.Code == p.Code {
			return Product{}, ErrDuplicateCode
		}
	}
	m.nextID++
	p.ID = m.nextID
	m.products[p.ID] = p
	return p, nil
}

func (m *memoryRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memoryRepo) ListProducts(_ context.Context) ([]Product, error) {
	var products []Product
	for _, p := range m.products {
		products = append(products, p)
	}
	return products, nil
}

func (m *memoryRepo) SetProductState(_ context.Context, id int64, state shared.LifecycleState) error {
	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.State = state
	m.products[id] = p
	return nil
}

func (m *memoryRepo) CreateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	m.nextID++
	w.ID = m.nextID
	m.warehouses[w.ID] = w
	return w, nil
}

func (m *memoryRepo) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	w, ok := m.warehouses[id]
	if !ok {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, nil
}

func (m *memoryRepo) ListWarehouses(_ context.Context) ([]Warehouse, error) {
	var warehouses []Warehouse
	for _, w := range m.warehouses {
		warehouses = append(warehouses, w)
	}
	return warehouses, nil
}

func (m *memoryRepo) SetWarehouseState(_ context.Context, id int64, state shared.LifecycleState) error {
	w, ok := m.warehouses[id]
	if !ok {
		return ErrWarehouseNotFound
	}
	w.State = state
	m.warehouses[id] = w
	return nil
}

func (m *memoryRepo) CreateLot(_ context.Context, l Lot) (Lot, error) {
	m.nextID++
	l.ID = m.nextID
	m.lots[l.ID] = l
	return l, nil
}

func (m *memoryRepo) ListLotsByProduct(_ context.Context, productID int64) ([]Lot, error) {
	var lots []Lot
	for _, l := range m.lots {
		if l.ProductID == productID {
			lots = append(lots, l)
		}
	}
	return lots, nil
}

func (m *memoryRepo) ListLotsExpiringBefore(_ context.Context, cutoff time.Time) ([]Lot, error) {
	var lots []Lot
	for _, l := range m.lots {
		if l.State == shared.LifecycleActive && l.ExpiresAt != nil && !l.ExpiresAt.After(cutoff) {
			lots = append(lots, l)
		}
	}
	return lots, nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestCreateProductDefaultsAndDuplicates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, Product{Code: "P-001", Name: "Arabica coffee 250g", TracksStock: true})
	require.NoError(t, err)
	require.Equal(t, "NIU", product.Unit)
	require.Equal(t, shared.LifecycleActive, product.State)

	_, err = svc.CreateProduct(ctx, Product{Code: "P-001", Name: "Duplicate"})
	require.ErrorIs(t, err, ErrDuplicateCode)

	_, err = svc.CreateProduct(ctx, Product{Name: "No code"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestArchiveProductKeepsRecord(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, Product{Code: "P-002", Name: "Beans"})
	require.NoError(t, err)
	require.NoError(t, svc.ArchiveProduct(ctx, product.ID))

	stored := repo.products[product.ID]
	require.Equal(t, shared.LifecycleArchived, stored.State)
}

func TestCreateLotValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, Product{Code: "P-003", Name: "Milk"})
	require.NoError(t, err)

	made := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreateLot(ctx, Lot{ProductID: product.ID, Number: "L-01", ManufacturedAt: &made, ExpiresAt: &expires})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateLot(ctx, Lot{ProductID: 999, Number: "L-01"})
	require.ErrorIs(t, err, ErrProductNotFound)

	good := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	lot, err := svc.CreateLot(ctx, Lot{ProductID: product.ID, Number: "L-01", ManufacturedAt: &made, ExpiresAt: &good})
	require.NoError(t, err)
	require.Equal(t, shared.LifecycleActive, lot.State)
}

func TestLotExpiryHelpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expires := now.AddDate(0, 0, 10)
	lot := Lot{ExpiresAt: &expires}

	require.False(t, lot.Expired(now))
	days, ok := lot.DaysToExpiry(now)
	require.True(t, ok)
	require.Equal(t, 10, days)

	past := now.AddDate(0, 0, -1)
	lot.ExpiresAt = &past
	require.True(t, lot.Expired(now))

	lot.ExpiresAt = nil
	_, ok = lot.DaysToExpiry(now)
	require.False(t, ok)
}

func TestExpiringLotsWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, Product{Code: "P-004", Name: "Yogurt"})
	require.NoError(t, err)

	soon := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	far := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreateLot(ctx, Lot{ProductID: product.ID, Number: "SOON", ExpiresAt: &soon})
	require.NoError(t, err)
	_, err = svc.CreateLot(ctx, Lot{ProductID: product.ID, Number: "FAR", ExpiresAt: &far})
	require.NoError(t, err)

	lots, err := svc.ExpiringLots(ctx, 30)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, "SOON", lots[0].Number)

	_, err = svc.ExpiringLots(ctx, -1)
	require.ErrorIs(t, err, ErrInvalidInput)
}
