package jobs

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/felicita-pe/felicita-core/internal/inventory"
)

func TestJournalLinkRequirement(t *testing.T) {
	cost := decimal.RequireFromString("150.00")

	require.True(t, needsJournalLink(string(inventory.SourceSale), cost))
	require.True(t, needsJournalLink(string(inventory.SourcePurchase), cost))
	require.True(t, needsJournalLink(string(inventory.SourceAdjustment), cost))

	require.False(t, needsJournalLink(string(inventory.SourceTransfer), cost), "transfers never post")
	require.False(t, needsJournalLink(string(inventory.SourceSale), decimal.Zero), "zero-cost movements never post")
}
