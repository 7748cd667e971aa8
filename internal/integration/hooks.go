// Package integration bridges committed inventory movements into the general
// ledger through configurable account mappings.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felicita-pe/felicita-core/internal/inventory"
	"github.com/felicita-pe/felicita-core/internal/ledger"
)

// Mapping keys resolved per movement kind.
const (
	KeyInventory = "INVENTORY"
	KeyGRIR      = "GRIR"
	KeyCOGS      = "COGS"
	KeyAdjust    = "ADJUSTMENT"
)

const module = "inventory"

// JournalPoster posts automatic journal entries.
type JournalPoster interface {
	PostAutomatic(ctx context.Context, module string, in ledger.EntryInput) (ledger.JournalEntry, error)
}

// MappingResolver resolves a mapping key to a postable account.
type MappingResolver interface {
	AccountFor(ctx context.Context, key string) (int64, error)
}

// PostingBridge subscribes to inventory movement events and posts the
// corresponding journal entries. Duplicate events are ignored through the
// ledger source link.
type PostingBridge struct {
	poster   JournalPoster
	mappings MappingResolver
	log      *slog.Logger
}

// NewPostingBridge constructs PostingBridge.
func NewPostingBridge(poster JournalPoster, mappings MappingResolver, logger *slog.Logger) *PostingBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostingBridge{poster: poster, mappings: mappings, log: logger}
}

// HandleMovementPosted maps one committed movement to a balanced journal
// entry. Transfers net to zero in the ledger and are skipped, as are
// zero-cost movements.
func (b *PostingBridge) HandleMovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) error {
	if b == nil || b.poster == nil {
		return nil
	}
	if evt.Source == inventory.SourceTransfer || evt.TotalCost.IsZero() {
		return nil
	}

	debitKey, creditKey := movementKeys(evt)
	debitAccount, err := b.mappings.AccountFor(ctx, debitKey)
	if err != nil {
		return fmt.Errorf("resolve %s mapping: %w", debitKey, err)
	}
	creditAccount, err := b.mappings.AccountFor(ctx, creditKey)
	if err != nil {
		return fmt.Errorf("resolve %s mapping: %w", creditKey, err)
	}

	entry := ledger.EntryInput{
		Date:      evt.PostedAt,
		Type:      ledger.EntryAutomatic,
		Source:    ledger.SourceInventory,
		SourceRef: evt.Code,
		Memo:      fmt.Sprintf("Inventory movement %s (%s)", evt.Code, evt.Type),
		Lines: []ledger.LineInput{
			{AccountID: debitAccount, Debit: evt.TotalCost},
			{AccountID: creditAccount, Credit: evt.TotalCost},
		},
	}
	posted, err := b.poster.PostAutomatic(ctx, module, entry)
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyLinked) {
			b.log.Debug("movement already journaled", "movement", evt.Code)
			return nil
		}
		return err
	}
	b.log.Info("movement journaled", "movement", evt.Code, "entry", posted.ID, "total", evt.TotalCost.String())
	return nil
}

// movementKeys picks the debit and credit mapping keys for a movement.
// Receipts stock the inventory account against GR-IR; issues expense cost of
// goods sold against inventory; adjustments hit the adjustment account.
func movementKeys(evt inventory.MovementPostedEvent) (debit, credit string) {
	switch evt.Type {
	case inventory.MovementTypeEntry, inventory.MovementTypeOpening:
		return KeyInventory, KeyGRIR
	case inventory.MovementTypeAdjustIn:
		return KeyInventory, KeyAdjust
	case inventory.MovementTypeAdjustOut:
		return KeyAdjust, KeyInventory
	default:
		return KeyCOGS, KeyInventory
	}
}
