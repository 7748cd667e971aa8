package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	SetProductState(ctx context.Context, id int64, state shared.LifecycleState) error
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	SetWarehouseState(ctx context.Context, id int64, state shared.LifecycleState) error
	CreateLot(ctx context.Context, l Lot) (Lot, error)
	ListLotsByProduct(ctx context.Context, productID int64) ([]Lot, error)
	ListLotsExpiringBefore(ctx context.Context, cutoff time.Time) ([]Lot, error)
}

// Service manages the product, warehouse and lot catalog.
type Service struct {
	repo RepositoryPort
	log  *slog.Logger
	now  func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, log: logger, now: time.Now}
}

// CreateProduct registers a product.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.Code == "" || p.Name == "" {
		return Product{}, fmt.Errorf("%w: code and name are required", ErrInvalidInput)
	}
	if p.Unit == "" {
		p.Unit = "NIU"
	}
	if p.State == "" {
		p.State = shared.LifecycleActive
	}
	return s.repo.CreateProduct(ctx, p)
}

// Product returns one product.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// Products lists the catalog.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}

// ArchiveProduct retires a product from new movements.
func (s *Service) ArchiveProduct(ctx context.Context, id int64) error {
	return s.repo.SetProductState(ctx, id, shared.LifecycleArchived)
}

// CreateWarehouse registers a warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if w.Code == "" || w.Name == "" {
		return Warehouse{}, fmt.Errorf("%w: code and name are required", ErrInvalidInput)
	}
	if w.Type == "" {
		w.Type = WarehouseBranch
	}
	if w.State == "" {
		w.State = shared.LifecycleActive
	}
	return s.repo.CreateWarehouse(ctx, w)
}

// Warehouse returns one warehouse.
func (s *Service) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// Warehouses lists all warehouses.
func (s *Service) Warehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// ArchiveWarehouse retires a warehouse.
func (s *Service) ArchiveWarehouse(ctx context.Context, id int64) error {
	return s.repo.SetWarehouseState(ctx, id, shared.LifecycleArchived)
}

// CreateLot registers a production lot for a product. The product must exist
// and manufacture cannot postdate expiry.
func (s *Service) CreateLot(ctx context.Context, l Lot) (Lot, error) {
	if l.Number == "" || l.ProductID == 0 {
		return Lot{}, fmt.Errorf("%w: product and lot number are required", ErrInvalidInput)
	}
	if _, err := s.repo.GetProduct(ctx, l.ProductID); err != nil {
		return Lot{}, err
	}
	if l.ManufacturedAt != nil && l.ExpiresAt != nil && l.ExpiresAt.Before(*l.ManufacturedAt) {
		return Lot{}, fmt.Errorf("%w: expiry precedes manufacture", ErrInvalidInput)
	}
	if l.State == "" {
		l.State = shared.LifecycleActive
	}
	return s.repo.CreateLot(ctx, l)
}

// Lots lists the lots of a product.
func (s *Service) Lots(ctx context.Context, productID int64) ([]Lot, error) {
	return s.repo.ListLotsByProduct(ctx, productID)
}

// ExpiringLots lists lots that expire within the given number of days.
func (s *Service) ExpiringLots(ctx context.Context, days int) ([]Lot, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidInput)
	}
	cutoff := s.now().AddDate(0, 0, days)
	return s.repo.ListLotsExpiringBefore(ctx, cutoff)
}
