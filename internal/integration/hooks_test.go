package integration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/felicita-pe/felicita-core/internal/inventory"
	"github.com/felicita-pe/felicita-core/internal/ledger"
)

type fakePoster struct {
	entries []ledger.EntryInput
	seen    map[string]bool
}

func (f *fakePoster) PostAutomatic(_ context.Context, _ string, in ledger.EntryInput) (ledger.JournalEntry, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if in.SourceRef != "" && f.seen[in.SourceRef] {
		return ledger.JournalEntry{}, ledger.ErrSourceAlreadyLinked
	}
	f.seen[in.SourceRef] = true
	f.entries = append(f.entries, in)
	return ledger.JournalEntry{ID: int64(len(f.entries)), Status: ledger.StatusPosted}, nil
}

type fakeMappings map[string]int64

func (f fakeMappings) AccountFor(_ context.Context, key string) (int64, error) {
	id, ok := f[key]
	if !ok {
		return 0, ErrMappingNotFound
	}
	return id, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func defaultMappings() fakeMappings {
	return fakeMappings{KeyInventory: 20, KeyGRIR: 42, KeyCOGS: 69, KeyAdjust: 77}
}

func entryEvent(code string, total string) inventory.MovementPostedEvent {
	return inventory.MovementPostedEvent{
		Code:      code,
		Type:      inventory.MovementTypeEntry,
		Source:    inventory.SourcePurchase,
		Qty:       dec("10"),
		TotalCost: dec(total),
		PostedAt:  time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestEntryPostsInventoryAgainstGRIR(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewPostingBridge(poster, defaultMappings(), nil)

	require.NoError(t, bridge.HandleMovementPosted(context.Background(), entryEvent("MOV-1", "150.00")))
	require.Len(t, poster.entries, 1)

	entry := poster.entries[0]
	require.Equal(t, ledger.SourceInventory, entry.Source)
	require.Equal(t, "MOV-1", entry.SourceRef)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, int64(20), entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(dec("150.00")))
	require.Equal(t, int64(42), entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(dec("150.00")))
}

func TestExitPostsCOGSAgainstInventory(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewPostingBridge(poster, defaultMappings(), nil)

	evt := inventory.MovementPostedEvent{
		Code:      "MOV-2",
		Type:      inventory.MovementTypeExit,
		Source:    inventory.SourceSale,
		TotalCost: dec("600.00"),
		PostedAt:  time.Now(),
	}
	require.NoError(t, bridge.HandleMovementPosted(context.Background(), evt))
	require.Len(t, poster.entries, 1)

	entry := poster.entries[0]
	require.Equal(t, int64(69), entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(dec("600.00")))
	require.Equal(t, int64(20), entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(dec("600.00")))
}

func TestDuplicateMovementIsSkipped(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewPostingBridge(poster, defaultMappings(), nil)

	evt := entryEvent("MOV-3", "10.00")
	require.NoError(t, bridge.HandleMovementPosted(context.Background(), evt))
	require.NoError(t, bridge.HandleMovementPosted(context.Background(), evt))
	require.Len(t, poster.entries, 1)
}

func TestTransfersAndZeroCostAreSkipped(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewPostingBridge(poster, defaultMappings(), nil)

	transfer := inventory.MovementPostedEvent{
		Code:      "TRF-1-OUT",
		Type:      inventory.MovementTypeTransferOut,
		Source:    inventory.SourceTransfer,
		TotalCost: dec("50"),
	}
	require.NoError(t, bridge.HandleMovementPosted(context.Background(), transfer))

	free := entryEvent("MOV-4", "0")
	require.NoError(t, bridge.HandleMovementPosted(context.Background(), free))

	require.Empty(t, poster.entries)
}

func TestMissingMappingSurfacesError(t *testing.T) {
	poster := &fakePoster{}
	bridge := NewPostingBridge(poster, fakeMappings{KeyInventory: 20}, nil)

	err := bridge.HandleMovementPosted(context.Background(), entryEvent("MOV-5", "10.00"))
	require.ErrorIs(t, err, ErrMappingNotFound)
	require.Empty(t, poster.entries)
}
