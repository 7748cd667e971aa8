package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const accountColumns = `id, code, name, nature, parent_id, level, accepts_postings, requires_cost_center, state, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Nature, &a.ParentID, &a.Level, &a.AcceptsPostings, &a.RequiresCostCenter, &a.State, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// CreateAccount inserts a chart-of-accounts node.
func (r *Repository) CreateAccount(ctx context.Context, a Account) (Account, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO ledger_accounts
(code, name, nature, parent_id, level, accepts_postings, requires_cost_center, state, balance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+accountColumns,
		a.Code, a.Name, a.Nature, a.ParentID, a.Level, a.AcceptsPostings, a.RequiresCostCenter, a.State, a.Balance)
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, err
	}
	return created, nil
}

// GetAccount returns one account without locking.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id))
}

// ListAccounts returns the chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Nature, &a.ParentID, &a.Level, &a.AcceptsPostings, &a.RequiresCostCenter, &a.State, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountState updates the lifecycle state of an account.
func (r *Repository) SetAccountState(ctx context.Context, id int64, state shared.LifecycleState) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE ledger_accounts SET state=$2, updated_at=NOW() WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreateCostCenter inserts a cost center.
func (r *Repository) CreateCostCenter(ctx context.Context, c CostCenter) (CostCenter, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO ledger_cost_centers (code, name, state) VALUES ($1,$2,$3)
RETURNING id, created_at, updated_at`, c.Code, c.Name, c.State).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return CostCenter{}, err
	}
	return c, nil
}

// ListCostCenters returns cost centers ordered by code.
func (r *Repository) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, state, created_at, updated_at FROM ledger_cost_centers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var centers []CostCenter
	for rows.Next() {
		var c CostCenter
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.State, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}
	return centers, rows.Err()
}

// CreatePeriod inserts an accounting period.
func (r *Repository) CreatePeriod(ctx context.Context, p Period) (Period, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO ledger_periods (year, month, status) VALUES ($1,$2,$3)
RETURNING id, created_at, updated_at`, p.Year, int(p.Month), p.Status).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Period{}, ErrDuplicatePeriod
		}
		return Period{}, err
	}
	return p, nil
}

const periodColumns = `id, year, month, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var month int
	var closedBy *int64
	err := row.Scan(&p.ID, &p.Year, &month, &p.Status, &p.ClosedAt, &closedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	p.Month = time.Month(month)
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	return p, nil
}

// ListPeriods returns all periods, newest first.
func (r *Repository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		var p Period
		var month int
		var closedBy *int64
		if err := rows.Scan(&p.ID, &p.Year, &month, &p.Status, &p.ClosedAt, &closedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Month = time.Month(month)
		if closedBy != nil {
			p.ClosedBy = *closedBy
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

const entryColumns = `id, number, date, period_id, type, source, source_ref, memo, status, total_debit, total_credit, posted_by, posted_at, voided_by, voided_at, reversal_of, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var postedBy, voidedBy *int64
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.PeriodID, &e.Type, &e.Source, &e.SourceRef, &e.Memo, &e.Status,
		&e.TotalDebit, &e.TotalCredit, &postedBy, &e.PostedAt, &voidedBy, &e.VoidedAt, &e.ReversalOf, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	if voidedBy != nil {
		e.VoidedBy = *voidedBy
	}
	return e, nil
}

// GetEntry returns an entry with its lines, without locking.
func (r *Repository) GetEntry(ctx context.Context, id int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id))
	if err != nil {
		return JournalEntry{}, nil, err
	}
	lines, err := queryLines(ctx, r.pool, id)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

// ListEntries returns entries matching the filter, newest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM journal_entries WHERE 1=1`)
	var args []any
	if filter.PeriodID != 0 {
		args = append(args, filter.PeriodID)
		sb.WriteString(` AND period_id=$` + itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		sb.WriteString(` AND status=$` + itoa(len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		sb.WriteString(` AND source=$` + itoa(len(args)))
	}
	sb.WriteString(` ORDER BY number DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(` LIMIT $` + itoa(len(args)))
	}
	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var postedBy, voidedBy *int64
		if err := rows.Scan(&e.ID, &e.Number, &e.Date, &e.PeriodID, &e.Type, &e.Source, &e.SourceRef, &e.Memo, &e.Status,
			&e.TotalDebit, &e.TotalCredit, &postedBy, &e.PostedAt, &voidedBy, &e.VoidedAt, &e.ReversalOf, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if postedBy != nil {
			e.PostedBy = *postedBy
		}
		if voidedBy != nil {
			e.VoidedBy = *voidedBy
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, debit, credit, cost_center_id, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.Debit, &line.Credit, &line.CostCenterID, &line.Memo, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(date, period_id, type, source, source_ref, memo, status, total_debit, total_credit, posted_by, posted_at, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, number, created_at, updated_at`,
		e.Date, e.PeriodID, e.Type, e.Source, e.SourceRef, e.Memo, e.Status, e.TotalDebit, e.TotalCredit,
		nullInt(e.PostedBy), e.PostedAt, e.ReversalOf)
	if err := row.Scan(&e.ID, &e.Number, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertLine(ctx context.Context, line JournalLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, cost_center_id, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		line.EntryID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.CostCenterID, line.Memo).Scan(&id)
	return id, err
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	return queryLines(ctx, r.tx, entryID)
}

func (r *txRepository) UpdateEntry(ctx context.Context, e JournalEntry) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET
status=$2, total_debit=$3, total_credit=$4, posted_by=$5, posted_at=$6, voided_by=$7, voided_at=$8, updated_at=NOW()
WHERE id=$1`,
		e.ID, e.Status, e.TotalDebit, e.TotalCredit, nullInt(e.PostedBy), e.PostedAt, nullInt(e.VoidedBy), e.VoidedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id))
}

func (r *txRepository) ApplyAccountDelta(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET balance = balance + $2, updated_at=NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) FindOpenPeriod(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods
WHERE status='OPEN' AND year=$1 AND month=$2 FOR UPDATE`, date.Year(), int(date.Month())))
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	var closedBy any
	if p.ClosedBy != 0 {
		closedBy = p.ClosedBy
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_periods SET status=$2, closed_at=$3, closed_by=$4, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Status, p.ClosedAt, closedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module, ref string, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_source_links (module, ref, entry_id) VALUES ($1,$2,$3)`, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSourceAlreadyLinked
		}
		return err
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
