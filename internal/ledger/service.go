package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// ErrSourceAlreadyLinked indicates the source document already produced an
// entry.
var ErrSourceAlreadyLinked = errors.New("ledger: source already linked to a journal entry")

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetAccountState(ctx context.Context, id int64, state shared.LifecycleState) error
	CreateCostCenter(ctx context.Context, c CostCenter) (CostCenter, error)
	ListCostCenters(ctx context.Context) ([]CostCenter, error)
	CreatePeriod(ctx context.Context, p Period) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	GetEntry(ctx context.Context, id int64) (JournalEntry, []JournalLine, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
}

// TxRepository exposes the operations available inside a posting transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	InsertLine(ctx context.Context, line JournalLine) (int64, error)
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	GetLines(ctx context.Context, entryID int64) ([]JournalLine, error)
	UpdateEntry(ctx context.Context, e JournalEntry) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ApplyAccountDelta(ctx context.Context, accountID int64, delta decimal.Decimal) error
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	FindOpenPeriod(ctx context.Context, date time.Time) (Period, error)
	UpdatePeriod(ctx context.Context, p Period) error
	LinkSource(ctx context.Context, module, ref string, entryID int64) error
}

// EntryFilter filters journal entry listings.
type EntryFilter struct {
	PeriodID int64
	Status   EntryStatus
	Source   EntrySource
	Limit    int
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceParams groups Service dependencies.
type ServiceParams struct {
	Repo   RepositoryPort
	Logger *slog.Logger
	Audit  AuditPort
	Now    func() time.Time
}

// Service implements double-entry journal posting over a hierarchical chart
// of accounts with monthly period locking.
type Service struct {
	repo  RepositoryPort
	log   *slog.Logger
	audit AuditPort
	now   func() time.Time
}

// NewService constructs Service.
func NewService(params ServiceParams) *Service {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: params.Repo, log: logger, audit: params.Audit, now: now}
}

// CreateAccount adds an account to the chart. The level is derived from the
// parent chain.
func (s *Service) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if a.Code == "" || a.Name == "" {
		return Account{}, fmt.Errorf("%w: code and name are required", ErrAccountNotFound)
	}
	if !a.Nature.Valid() {
		return Account{}, fmt.Errorf("ledger: unknown account nature %q", a.Nature)
	}
	a.Level = 1
	if a.ParentID != nil {
		parent, err := s.repo.GetAccount(ctx, *a.ParentID)
		if err != nil {
			return Account{}, err
		}
		a.Level = parent.Level + 1
	}
	if a.State == "" {
		a.State = shared.LifecycleActive
	}
	a.Balance = decimal.Zero
	created, err := s.repo.CreateAccount(ctx, a)
	if err != nil {
		return Account{}, err
	}
	s.recordAudit(ctx, 0, "ledger.account.create", created.Code, nil)
	return created, nil
}

// Accounts lists the chart of accounts ordered by code.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// Account returns one account with its running balance.
func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ArchiveAccount retires an account from new postings.
func (s *Service) ArchiveAccount(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.SetAccountState(ctx, id, shared.LifecycleArchived); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ledger.account.archive", fmt.Sprintf("%d", id), nil)
	return nil
}

// CreateCostCenter adds a cost center.
func (s *Service) CreateCostCenter(ctx context.Context, c CostCenter) (CostCenter, error) {
	if c.Code == "" || c.Name == "" {
		return CostCenter{}, fmt.Errorf("%w: code and name are required", ErrCostCenterNotFound)
	}
	if c.State == "" {
		c.State = shared.LifecycleActive
	}
	return s.repo.CreateCostCenter(ctx, c)
}

// CostCenters lists cost centers.
func (s *Service) CostCenters(ctx context.Context) ([]CostCenter, error) {
	return s.repo.ListCostCenters(ctx)
}

// CreateEntry opens a draft journal entry, optionally seeded with lines.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (JournalEntry, []JournalLine, error) {
	if in.Date.IsZero() {
		in.Date = s.now().UTC()
	}
	if in.Type == "" {
		in.Type = EntryStandard
	}
	if in.Source == "" {
		in.Source = SourceManual
	}
	for _, line := range in.Lines {
		if err := validateLine(line); err != nil {
			return JournalEntry{}, nil, err
		}
	}

	var entry JournalEntry
	var lines []JournalLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periodID := in.PeriodID
		if periodID == 0 {
			period, err := tx.FindOpenPeriod(ctx, in.Date)
			if err != nil {
				return err
			}
			periodID = period.ID
		}
		draft := JournalEntry{
			Date:        in.Date,
			PeriodID:    periodID,
			Type:        in.Type,
			Source:      in.Source,
			SourceRef:   in.SourceRef,
			Memo:        in.Memo,
			Status:      StatusDraft,
			TotalDebit:  decimal.Zero,
			TotalCredit: decimal.Zero,
		}
		created, err := tx.InsertEntry(ctx, draft)
		if err != nil {
			return err
		}
		for i, lineIn := range in.Lines {
			line, err := s.appendLine(ctx, tx, &created, lineIn, i+1)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		if len(in.Lines) > 0 {
			if err := tx.UpdateEntry(ctx, created); err != nil {
				return err
			}
		}
		entry = created
		return nil
	})
	if err != nil {
		return JournalEntry{}, nil, err
	}
	s.recordAudit(ctx, in.ActorID, "ledger.entry.create", fmt.Sprintf("%d", entry.ID), map[string]any{"source": string(entry.Source)})
	return entry, lines, nil
}

// AddLine appends a line to a draft entry and recomputes its totals.
func (s *Service) AddLine(ctx context.Context, entryID int64, in LineInput) (JournalEntry, JournalLine, error) {
	if err := validateLine(in); err != nil {
		return JournalEntry{}, JournalLine{}, err
	}
	var entry JournalEntry
	var line JournalLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return fmt.Errorf("%w: cannot add lines to a %s entry", ErrInvalidStatus, current.Status)
		}
		existing, err := tx.GetLines(ctx, entryID)
		if err != nil {
			return err
		}
		line, err = s.appendLine(ctx, tx, &current, in, len(existing)+1)
		if err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, JournalLine{}, err
	}
	return entry, line, nil
}

// appendLine validates the line against its account, inserts it and bumps the
// entry totals. Callers persist the entry afterwards.
func (s *Service) appendLine(ctx context.Context, tx TxRepository, entry *JournalEntry, in LineInput, lineNo int) (JournalLine, error) {
	if err := validateLine(in); err != nil {
		return JournalLine{}, err
	}
	account, err := tx.GetAccount(ctx, in.AccountID)
	if err != nil {
		return JournalLine{}, err
	}
	if !account.AcceptsPostings || account.State == shared.LifecycleArchived {
		return JournalLine{}, fmt.Errorf("%w: account %s", ErrAccountNotPostable, account.Code)
	}
	if account.RequiresCostCenter && in.CostCenterID == nil {
		return JournalLine{}, fmt.Errorf("%w: account %s", ErrMissingCostCenter, account.Code)
	}
	line := JournalLine{
		EntryID:      entry.ID,
		LineNo:       lineNo,
		AccountID:    in.AccountID,
		Debit:        in.Debit.Round(2),
		Credit:       in.Credit.Round(2),
		CostCenterID: in.CostCenterID,
		Memo:         in.Memo,
	}
	id, err := tx.InsertLine(ctx, line)
	if err != nil {
		return JournalLine{}, err
	}
	line.ID = id
	entry.TotalDebit = entry.TotalDebit.Add(line.Debit)
	entry.TotalCredit = entry.TotalCredit.Add(line.Credit)
	return line, nil
}

// Validate recomputes totals from the lines and moves a balanced draft to
// validated. Validating an already validated entry is a no-op.
func (s *Service) Validate(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status == StatusValidated {
			entry = current
			return nil
		}
		if current.Status != StatusDraft {
			return fmt.Errorf("%w: cannot validate a %s entry", ErrInvalidStatus, current.Status)
		}
		lines, err := tx.GetLines(ctx, entryID)
		if err != nil {
			return err
		}
		debit, credit := sumLines(lines)
		current.TotalDebit = debit
		current.TotalCredit = credit
		if len(lines) == 0 || !current.Balanced() {
			return fmt.Errorf("%w: debit %s, credit %s", ErrEntryUnbalanced, debit, credit)
		}
		current.Status = StatusValidated
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// Post applies a validated entry to the account running balances inside its
// open period. A failed post leaves the entry untouched.
func (s *Service) Post(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != StatusValidated {
			return fmt.Errorf("%w: cannot post a %s entry", ErrInvalidStatus, current.Status)
		}
		lines, err := tx.GetLines(ctx, entryID)
		if err != nil {
			return err
		}
		debit, credit := sumLines(lines)
		if len(lines) == 0 || !debit.Equal(credit) {
			return fmt.Errorf("%w: debit %s, credit %s", ErrEntryUnbalanced, debit, credit)
		}
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if !period.CanPost() {
			return fmt.Errorf("%w: period %d-%02d is %s", ErrPeriodClosed, period.Year, period.Month, period.Status)
		}
		if err := s.applyLines(ctx, tx, lines, false); err != nil {
			return err
		}
		now := s.now().UTC()
		current.TotalDebit = debit
		current.TotalCredit = credit
		current.Status = StatusPosted
		current.PostedAt = &now
		current.PostedBy = actorID
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, actorID, "ledger.entry.post", fmt.Sprintf("%d", entry.ID), map[string]any{"total": entry.TotalDebit.String()})
	return entry, nil
}

// Void reverses a posted entry. The original is never deleted: a mirrored
// reversal entry is posted into an open period and the original is marked
// voided.
func (s *Service) Void(ctx context.Context, entryID, actorID int64, memo string) (JournalEntry, JournalEntry, error) {
	var original, reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != StatusPosted {
			return fmt.Errorf("%w: cannot void a %s entry", ErrInvalidStatus, current.Status)
		}
		lines, err := tx.GetLines(ctx, entryID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		period, err := tx.GetPeriodForUpdate(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if !period.CanPost() {
			period, err = tx.FindOpenPeriod(ctx, now)
			if err != nil {
				return fmt.Errorf("%w: no open period for the reversal", ErrPeriodClosed)
			}
		}

		if memo == "" {
			memo = fmt.Sprintf("Reversal of entry %d", current.Number)
		}
		rev := JournalEntry{
			Date:        now,
			PeriodID:    period.ID,
			Type:        EntryAutomatic,
			Source:      current.Source,
			SourceRef:   current.SourceRef,
			Memo:        memo,
			Status:      StatusPosted,
			TotalDebit:  current.TotalCredit,
			TotalCredit: current.TotalDebit,
			PostedBy:    actorID,
			PostedAt:    &now,
			ReversalOf:  &current.ID,
		}
		rev, err = tx.InsertEntry(ctx, rev)
		if err != nil {
			return err
		}
		for i, line := range lines {
			mirrored := JournalLine{
				EntryID:      rev.ID,
				LineNo:       i + 1,
				AccountID:    line.AccountID,
				Debit:        line.Credit,
				Credit:       line.Debit,
				CostCenterID: line.CostCenterID,
				Memo:         line.Memo,
			}
			if _, err := tx.InsertLine(ctx, mirrored); err != nil {
				return err
			}
		}
		if err := tx.UpdateEntry(ctx, rev); err != nil {
			return err
		}
		if err := s.applyLines(ctx, tx, lines, true); err != nil {
			return err
		}

		current.Status = StatusVoided
		current.VoidedAt = &now
		current.VoidedBy = actorID
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		original = current
		reversal = rev
		return nil
	})
	if err != nil {
		return JournalEntry{}, JournalEntry{}, err
	}
	s.recordAudit(ctx, actorID, "ledger.entry.void", fmt.Sprintf("%d", original.ID), map[string]any{"reversal": reversal.ID})
	return original, reversal, nil
}

// PostAutomatic creates, validates and posts an entry in one transaction.
// Used by integrations that derive entries from committed documents; the
// source link makes the operation idempotent per reference.
func (s *Service) PostAutomatic(ctx context.Context, module string, in EntryInput) (JournalEntry, error) {
	if len(in.Lines) == 0 {
		return JournalEntry{}, ErrEntryUnbalanced
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range in.Lines {
		if err := validateLine(line); err != nil {
			return JournalEntry{}, err
		}
		debit = debit.Add(line.Debit.Round(2))
		credit = credit.Add(line.Credit.Round(2))
	}
	if !debit.Equal(credit) {
		return JournalEntry{}, fmt.Errorf("%w: debit %s, credit %s", ErrEntryUnbalanced, debit, credit)
	}
	if in.Date.IsZero() {
		in.Date = s.now().UTC()
	}
	if in.Type == "" {
		in.Type = EntryAutomatic
	}

	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.FindOpenPeriod(ctx, in.Date)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		draft := JournalEntry{
			Date:        in.Date,
			PeriodID:    period.ID,
			Type:        in.Type,
			Source:      in.Source,
			SourceRef:   in.SourceRef,
			Memo:        in.Memo,
			Status:      StatusPosted,
			TotalDebit:  decimal.Zero,
			TotalCredit: decimal.Zero,
			PostedBy:    in.ActorID,
			PostedAt:    &now,
		}
		created, err := tx.InsertEntry(ctx, draft)
		if err != nil {
			return err
		}
		if in.SourceRef != "" {
			if err := tx.LinkSource(ctx, module, in.SourceRef, created.ID); err != nil {
				return err
			}
		}
		var lines []JournalLine
		for i, lineIn := range in.Lines {
			line, err := s.appendLine(ctx, tx, &created, lineIn, i+1)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		if err := s.applyLines(ctx, tx, lines, false); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, created); err != nil {
			return err
		}
		entry = created
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordAudit(ctx, in.ActorID, "ledger.entry.auto", fmt.Sprintf("%d", entry.ID), map[string]any{"module": module, "ref": in.SourceRef})
	return entry, nil
}

// Entry returns one journal entry with its lines.
func (s *Service) Entry(ctx context.Context, id int64) (JournalEntry, []JournalLine, error) {
	return s.repo.GetEntry(ctx, id)
}

// Entries lists journal entries matching the filter.
func (s *Service) Entries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// applyLines updates account running balances for each line, signed by the
// account nature. With reverse set the deltas are negated.
func (s *Service) applyLines(ctx context.Context, tx TxRepository, lines []JournalLine, reverse bool) error {
	for _, line := range lines {
		account, err := tx.GetAccount(ctx, line.AccountID)
		if err != nil {
			return err
		}
		delta := account.SignedDelta(line.Debit, line.Credit)
		if reverse {
			delta = delta.Neg()
		}
		if err := tx.ApplyAccountDelta(ctx, line.AccountID, delta); err != nil {
			return err
		}
	}
	return nil
}

func sumLines(lines []JournalLine) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal",
		EntityID: entityID,
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.log.Warn("audit record failed", "action", action, "error", err)
	}
}
