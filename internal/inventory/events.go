package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementPostedEvent is published after a movement commits.
type MovementPostedEvent struct {
	MovementID  int64
	Code        string
	Type        MovementType
	Source      SourceKind
	ProductID   int64
	WarehouseID int64
	LotID       int64
	Qty         decimal.Decimal
	TotalCost   decimal.Decimal
	RefID       string
	PostedAt    time.Time
}

// IntegrationHandler receives committed movement events, typically to post
// the corresponding journal entry.
type IntegrationHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}
