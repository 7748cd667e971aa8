package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// AccountNature determines the sign convention of an account balance.
type AccountNature string

const (
	// NatureDebit grows with debits (assets, expenses).
	NatureDebit AccountNature = "DEBIT"
	// NatureCredit grows with credits (liabilities, equity, income).
	NatureCredit AccountNature = "CREDIT"
)

// Valid reports whether the nature is known.
func (n AccountNature) Valid() bool {
	return n == NatureDebit || n == NatureCredit
}

// Account is a node in the chart of accounts. Only leaf accounts flagged
// AcceptsPostings may carry journal lines; parents aggregate for reporting.
type Account struct {
	ID                 int64                 `json:"id"`
	Code               string                `json:"code"`
	Name               string                `json:"name"`
	Nature             AccountNature         `json:"nature"`
	ParentID           *int64                `json:"parent_id,omitempty"`
	Level              int                   `json:"level"`
	AcceptsPostings    bool                  `json:"accepts_postings"`
	RequiresCostCenter bool                  `json:"requires_cost_center"`
	State              shared.LifecycleState `json:"state"`
	Balance            decimal.Decimal       `json:"balance"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// SignedDelta returns the balance change a line causes on this account,
// signed by the account nature.
func (a Account) SignedDelta(debit, credit decimal.Decimal) decimal.Decimal {
	if a.Nature == NatureCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// CostCenter tags lines for analytical reporting.
type CostCenter struct {
	ID        int64                 `json:"id"`
	Code      string                `json:"code"`
	Name      string                `json:"name"`
	State     shared.LifecycleState `json:"state"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// PeriodStatus is the lifecycle state of an accounting period.
type PeriodStatus string

const (
	PeriodOpen    PeriodStatus = "OPEN"
	PeriodClosing PeriodStatus = "CLOSING"
	PeriodClosed  PeriodStatus = "CLOSED"
)

// Period is one accounting month.
type Period struct {
	ID        int64        `json:"id"`
	Year      int          `json:"year"`
	Month     time.Month   `json:"month"`
	Status    PeriodStatus `json:"status"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	ClosedBy  int64        `json:"closed_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CanPost reports whether journal entries may be posted into the period.
func (p Period) CanPost() bool {
	return p.Status == PeriodOpen
}

// Contains reports whether the date falls inside the period month.
func (p Period) Contains(date time.Time) bool {
	return date.Year() == p.Year && date.Month() == p.Month
}

// EntryStatus is the journal entry state machine. Transitions only move
// forward: draft, validated, posted, voided.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "DRAFT"
	StatusValidated EntryStatus = "VALIDATED"
	StatusPosted    EntryStatus = "POSTED"
	StatusVoided    EntryStatus = "VOIDED"
)

// EntryType classifies a journal entry.
type EntryType string

const (
	EntryOpening    EntryType = "OPENING"
	EntryStandard   EntryType = "STANDARD"
	EntryAdjustment EntryType = "ADJUSTMENT"
	EntryClosing    EntryType = "CLOSING"
	EntryAutomatic  EntryType = "AUTOMATIC"
)

// EntrySource identifies the originating module or document.
type EntrySource string

const (
	SourceManual    EntrySource = "MANUAL"
	SourceInvoice   EntrySource = "INVOICE"
	SourceInventory EntrySource = "INVENTORY"
	SourcePayment   EntrySource = "PAYMENT"
)

// JournalEntry is a double-entry document. Totals are always recomputed from
// the lines; posted entries are never edited, only voided by reversal.
type JournalEntry struct {
	ID          int64           `json:"id"`
	Number      int64           `json:"number"`
	Date        time.Time       `json:"date"`
	PeriodID    int64           `json:"period_id"`
	Type        EntryType       `json:"type"`
	Source      EntrySource     `json:"source"`
	SourceRef   string          `json:"source_ref,omitempty"`
	Memo        string          `json:"memo,omitempty"`
	Status      EntryStatus     `json:"status"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	PostedBy    int64           `json:"posted_by,omitempty"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
	VoidedBy    int64           `json:"voided_by,omitempty"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty"`
	ReversalOf  *int64          `json:"reversal_of,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Balanced reports whether total debits equal total credits.
func (e JournalEntry) Balanced() bool {
	return e.TotalDebit.Equal(e.TotalCredit)
}

// JournalLine is one side of a journal entry. Exactly one of Debit/Credit
// is positive.
type JournalLine struct {
	ID           int64           `json:"id"`
	EntryID      int64           `json:"entry_id"`
	LineNo       int             `json:"line_no"`
	AccountID    int64           `json:"account_id"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	CostCenterID *int64          `json:"cost_center_id,omitempty"`
	Memo         string          `json:"memo,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LineInput describes a line to append to a draft entry.
type LineInput struct {
	AccountID    int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	CostCenterID *int64
	Memo         string
}

// EntryInput describes a new draft journal entry.
type EntryInput struct {
	Date      time.Time
	PeriodID  int64
	Type      EntryType
	Source    EntrySource
	SourceRef string
	Memo      string
	Lines     []LineInput
	ActorID   int64
}

// Sentinel errors of the ledger domain.
var (
	// ErrInvalidLine indicates a line without exactly one positive side.
	ErrInvalidLine = errors.New("ledger: line must carry exactly one of debit or credit")
	// ErrAccountNotPostable indicates the account does not accept postings.
	ErrAccountNotPostable = errors.New("ledger: account does not accept postings")
	// ErrMissingCostCenter indicates the account demands a cost center.
	ErrMissingCostCenter = errors.New("ledger: account requires a cost center")
	// ErrEntryUnbalanced indicates total debits differ from total credits.
	ErrEntryUnbalanced = errors.New("ledger: entry is not balanced")
	// ErrPeriodClosed indicates the target period does not accept postings.
	ErrPeriodClosed = errors.New("ledger: period is not open for posting")
	// ErrInvalidStatus indicates an operation not allowed in the entry state.
	ErrInvalidStatus = errors.New("ledger: operation not allowed in current status")
	// ErrInvalidPeriodTransition indicates a backward or skipped transition.
	ErrInvalidPeriodTransition = errors.New("ledger: invalid period transition")
	// ErrEntryNotFound indicates the journal entry does not exist.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrPeriodNotFound indicates no matching period exists.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrCostCenterNotFound indicates the cost center does not exist.
	ErrCostCenterNotFound = errors.New("ledger: cost center not found")
	// ErrDuplicateAccount indicates the account code is taken.
	ErrDuplicateAccount = errors.New("ledger: account code already exists")
	// ErrDuplicatePeriod indicates the year/month already has a period.
	ErrDuplicatePeriod = errors.New("ledger: period already exists")
)

func validateLine(in LineInput) error {
	debitSet := in.Debit.GreaterThan(decimal.Zero)
	creditSet := in.Credit.GreaterThan(decimal.Zero)
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		return ErrInvalidLine
	}
	if debitSet == creditSet {
		return ErrInvalidLine
	}
	return nil
}
