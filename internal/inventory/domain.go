package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementTypeEntry represents an inbound receipt.
	MovementTypeEntry MovementType = "ENTRY"
	// MovementTypeExit represents an outbound issue costed by FIFO layers.
	MovementTypeExit MovementType = "EXIT"
	// MovementTypeTransferIn is the receiving half of a warehouse transfer.
	MovementTypeTransferIn MovementType = "TRANSFER_IN"
	// MovementTypeTransferOut is the issuing half of a warehouse transfer.
	MovementTypeTransferOut MovementType = "TRANSFER_OUT"
	// MovementTypeAdjustIn indicates a positive manual adjustment.
	MovementTypeAdjustIn MovementType = "ADJUST_IN"
	// MovementTypeAdjustOut indicates a negative manual adjustment.
	MovementTypeAdjustOut MovementType = "ADJUST_OUT"
	// MovementTypeOpening records the opening balance of a period.
	MovementTypeOpening MovementType = "OPENING"
)

// Inbound reports whether the movement adds stock.
func (t MovementType) Inbound() bool {
	switch t {
	case MovementTypeEntry, MovementTypeTransferIn, MovementTypeAdjustIn, MovementTypeOpening:
		return true
	}
	return false
}

// SourceKind identifies the business document behind a movement.
type SourceKind string

const (
	SourcePurchase       SourceKind = "PURCHASE"
	SourceSale           SourceKind = "SALE"
	SourceTransfer       SourceKind = "TRANSFER"
	SourceAdjustment     SourceKind = "ADJUSTMENT"
	SourcePurchaseReturn SourceKind = "PURCHASE_RETURN"
	SourceSaleReturn     SourceKind = "SALE_RETURN"
	SourceShrinkage      SourceKind = "SHRINKAGE"
	SourceOpening        SourceKind = "OPENING"
)

// StockKey identifies a FIFO queue. LotID is zero for products without lot
// tracking; lot-tracked warehouses key their queues per lot.
type StockKey struct {
	ProductID   int64
	WarehouseID int64
	LotID       int64
}

// Movement is the immutable record of one stock mutation. Written once at
// posting time, never updated afterwards.
type Movement struct {
	ID           int64
	Code         string
	Type         MovementType
	Source       SourceKind
	ProductID    int64
	WarehouseID  int64
	LotID        int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	TotalCost    decimal.Decimal
	PriorQty     decimal.Decimal
	NewQty       decimal.Decimal
	RefDocType   string
	RefDocNumber string
	RefID        string
	Note         string
	ActorID      int64
	PostedAt     time.Time
	CreatedAt    time.Time
}

// CostLayer is one unconsumed receipt in the FIFO queue.
type CostLayer struct {
	ID           int64
	ProductID    int64
	WarehouseID  int64
	LotID        int64
	RemainingQty decimal.Decimal
	UnitCost     decimal.Decimal
	ReceivedAt   time.Time
	MovementID   int64
}

// LayerConsumption records how much of a layer one exit consumed.
type LayerConsumption struct {
	LayerID  int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// StockSnapshot is the per-key aggregate row. The FIFO layers are the source
// of truth for valuation; AvgCost is a derived reporting figure.
type StockSnapshot struct {
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	LotID          int64           `json:"lot_id"`
	OnHand         decimal.Decimal `json:"on_hand"`
	Reserved       decimal.Decimal `json:"reserved"`
	Available      decimal.Decimal `json:"available"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	Value          decimal.Decimal `json:"value"`
	LastMovementAt time.Time       `json:"last_movement_at"`
	LastEntryAt    time.Time       `json:"last_entry_at"`
	LastExitAt     time.Time       `json:"last_exit_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// KardexEntry is the valorized card row emitted for each movement (1:1).
type KardexEntry struct {
	ID              int64           `json:"id"`
	MovementID      int64           `json:"movement_id"`
	MovementCode    string          `json:"movement_code"`
	ProductID       int64           `json:"product_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	LotID           int64           `json:"lot_id"`
	Operation       SourceKind      `json:"operation"`
	DocNumber       string          `json:"doc_number"`
	QtyIn           decimal.Decimal `json:"qty_in"`
	UnitCostIn      decimal.Decimal `json:"unit_cost_in"`
	TotalIn         decimal.Decimal `json:"total_in"`
	QtyOut          decimal.Decimal `json:"qty_out"`
	UnitCostOut     decimal.Decimal `json:"unit_cost_out"`
	TotalOut        decimal.Decimal `json:"total_out"`
	BalanceQty      decimal.Decimal `json:"balance_qty"`
	BalanceUnitCost decimal.Decimal `json:"balance_unit_cost"`
	BalanceValue    decimal.Decimal `json:"balance_value"`
	PostedAt        time.Time       `json:"posted_at"`
}

// Balance summarises the remaining FIFO layers for one key.
type Balance struct {
	Key    StockKey        `json:"-"`
	Qty    decimal.Decimal `json:"qty"`
	Value  decimal.Decimal `json:"value"`
	Layers []CostLayer     `json:"-"`
}

// EntryInput describes an inbound receipt.
type EntryInput struct {
	Code         string
	ProductID    int64
	WarehouseID  int64
	LotID        int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	Type         MovementType
	Source       SourceKind
	RefDocType   string
	RefDocNumber string
	RefID        string
	Note         string
	ActorID      int64
}

// ExitInput describes an outbound issue. Unit cost is not accepted: exits
// are always costed from the FIFO queue.
type ExitInput struct {
	Code         string
	ProductID    int64
	WarehouseID  int64
	LotID        int64
	Qty          decimal.Decimal
	Type         MovementType
	Source       SourceKind
	RefDocType   string
	RefDocNumber string
	RefID        string
	Note         string
	ActorID      int64
}

// TransferInput describes a transfer between warehouses.
type TransferInput struct {
	Code         string
	ProductID    int64
	LotID        int64
	Qty          decimal.Decimal
	SrcWarehouse int64
	DstWarehouse int64
	Note         string
	ActorID      int64
}

// ReservationInput adjusts the reserved quantity of a snapshot.
type ReservationInput struct {
	ProductID   int64
	WarehouseID int64
	LotID       int64
	Qty         decimal.Decimal
	ActorID     int64
}

// KardexFilter filters kardex rows.
type KardexFilter struct {
	ProductID   int64
	WarehouseID int64
	LotID       int64
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrInvalidMovement indicates a non-positive quantity or negative unit cost.
var ErrInvalidMovement = errors.New("inventory: invalid quantity or unit cost")

// ErrInsufficientStock indicates the FIFO layers cannot cover the exit.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrInsufficientAvailable indicates a reservation exceeds availability.
var ErrInsufficientAvailable = errors.New("inventory: insufficient available quantity")

const (
	qtyScale   = 4
	moneyScale = 2
)

func roundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(qtyScale)
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyScale)
}
