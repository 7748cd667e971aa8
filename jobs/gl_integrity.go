package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/inventory"
)

// LedgerIntegrityChecker verifies that every posted journal entry still
// balances, that account running balances equal the signed sum of their
// posted lines, and that every costed movement reached the ledger.
type LedgerIntegrityChecker struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLedgerIntegrityChecker constructs LedgerIntegrityChecker.
func NewLedgerIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger) *LedgerIntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerIntegrityChecker{pool: pool, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (c *LedgerIntegrityChecker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	violations, err := c.Run(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("ledger integrity check finished",
		slog.String("job", TaskLedgerIntegrity),
		slog.Int("violations", violations))
	return nil
}

// Run executes one integrity pass and returns the number of violations.
func (c *LedgerIntegrityChecker) Run(ctx context.Context) (int, error) {
	violations, err := c.checkEntryBalances(ctx)
	if err != nil {
		return violations, err
	}
	accountViolations, err := c.checkAccountBalances(ctx)
	if err != nil {
		return violations + accountViolations, err
	}
	violations += accountViolations
	linkViolations, err := c.checkMovementLinks(ctx)
	return violations + linkViolations, err
}

// needsJournalLink reports whether a movement must have a journal entry
// linked to it. Transfers and zero-cost movements never post.
func needsJournalLink(source string, totalCost decimal.Decimal) bool {
	return inventory.SourceKind(source) != inventory.SourceTransfer && !totalCost.IsZero()
}

func (c *LedgerIntegrityChecker) checkEntryBalances(ctx context.Context) (int, error) {
	rows, err := c.pool.Query(ctx, `
SELECT e.id, e.number, SUM(l.debit) AS debit, SUM(l.credit) AS credit
FROM journal_entries e
JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status = 'POSTED'
GROUP BY e.id, e.number
HAVING SUM(l.debit) <> SUM(l.credit)`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		var id, number int64
		var debit, credit decimal.Decimal
		if err := rows.Scan(&id, &number, &debit, &credit); err != nil {
			return violations, err
		}
		violations++
		c.logger.Error("posted entry out of balance",
			slog.Int64("entry_id", id),
			slog.Int64("number", number),
			slog.String("debit", debit.String()),
			slog.String("credit", credit.String()))
	}
	return violations, rows.Err()
}

func (c *LedgerIntegrityChecker) checkAccountBalances(ctx context.Context) (int, error) {
	rows, err := c.pool.Query(ctx, `
SELECT a.id, a.code, a.balance,
       COALESCE(SUM(CASE WHEN a.nature = 'DEBIT' THEN l.debit - l.credit ELSE l.credit - l.debit END), 0) AS expected
FROM ledger_accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.status IN ('POSTED','VOIDED')
WHERE a.accepts_postings
GROUP BY a.id, a.code, a.balance
HAVING a.balance <> COALESCE(SUM(CASE WHEN a.nature = 'DEBIT' THEN l.debit - l.credit ELSE l.credit - l.debit END), 0)`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		var id int64
		var code string
		var balance, expected decimal.Decimal
		if err := rows.Scan(&id, &code, &balance, &expected); err != nil {
			return violations, err
		}
		violations++
		c.logger.Error("account balance out of sync",
			slog.Int64("account_id", id),
			slog.String("code", code),
			slog.String("balance", balance.String()),
			slog.String("expected", expected.String()))
	}
	return violations, rows.Err()
}

// checkMovementLinks flags committed movements whose journal entry never
// landed, for example after a transient posting failure. The check only
// reports; recovery is a manual repost.
func (c *LedgerIntegrityChecker) checkMovementLinks(ctx context.Context) (int, error) {
	rows, err := c.pool.Query(ctx, `
SELECT m.id, m.code, m.source, m.total_cost
FROM inventory_movements m
LEFT JOIN ledger_source_links l ON l.module = 'inventory' AND l.ref = m.code
WHERE l.entry_id IS NULL`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		var id int64
		var code, source string
		var totalCost decimal.Decimal
		if err := rows.Scan(&id, &code, &source, &totalCost); err != nil {
			return violations, err
		}
		if !needsJournalLink(source, totalCost) {
			continue
		}
		violations++
		c.logger.Error("movement missing journal entry",
			slog.Int64("movement_id", id),
			slog.String("code", code),
			slog.String("source", source),
			slog.String("total_cost", totalCost.String()))
	}
	return violations, rows.Err()
}
