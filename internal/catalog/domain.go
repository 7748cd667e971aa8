package catalog

import (
	"errors"
	"time"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// Product is a sellable or storable item. Only products with TracksStock set
// participate in inventory valuation.
type Product struct {
	ID          int64                 `json:"id"`
	Code        string                `json:"code"`
	Name        string                `json:"name"`
	Unit        string                `json:"unit"`
	TracksStock bool                  `json:"tracks_stock"`
	State       shared.LifecycleState `json:"state"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// WarehouseType classifies a warehouse.
type WarehouseType string

const (
	WarehouseCentral WarehouseType = "CENTRAL"
	WarehouseBranch  WarehouseType = "BRANCH"
	WarehouseTransit WarehouseType = "TRANSIT"
)

// Warehouse is a physical or logical stock location.
type Warehouse struct {
	ID              int64                 `json:"id"`
	Code            string                `json:"code"`
	Name            string                `json:"name"`
	Type            WarehouseType         `json:"type"`
	AllowsSales     bool                  `json:"allows_sales"`
	AllowsPurchases bool                  `json:"allows_purchases"`
	TracksLots      bool                  `json:"tracks_lots"`
	State           shared.LifecycleState `json:"state"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Lot is a production batch of a product, carrying expiry control.
type Lot struct {
	ID             int64                 `json:"id"`
	ProductID      int64                 `json:"product_id"`
	Number         string                `json:"number"`
	ManufacturedAt *time.Time            `json:"manufactured_at,omitempty"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	State          shared.LifecycleState `json:"state"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Expired reports whether the lot expiry has passed at the reference time.
func (l Lot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// DaysToExpiry returns whole days until expiry, negative once expired. The
// second return is false for lots without expiry control.
func (l Lot) DaysToExpiry(now time.Time) (int, bool) {
	if l.ExpiresAt == nil {
		return 0, false
	}
	return int(l.ExpiresAt.Sub(now).Hours() / 24), true
}

// Sentinel errors of the catalog domain.
var (
	ErrProductNotFound   = errors.New("catalog: product not found")
	ErrWarehouseNotFound = errors.New("catalog: warehouse not found")
	ErrLotNotFound       = errors.New("catalog: lot not found")
	ErrDuplicateCode     = errors.New("catalog: code already exists")
	ErrInvalidInput      = errors.New("catalog: invalid input")
)
