package ledger

import (
	"context"
	"fmt"
	"time"
)

// periodTransitions lists the allowed forward moves.
var periodTransitions = map[PeriodStatus]PeriodStatus{
	PeriodOpen:    PeriodClosing,
	PeriodClosing: PeriodClosed,
}

func validPeriodTransition(from, to PeriodStatus) bool {
	return periodTransitions[from] == to
}

// CreatePeriod opens a new accounting period for the given year and month.
func (s *Service) CreatePeriod(ctx context.Context, year int, month time.Month, actorID int64) (Period, error) {
	if year < 2000 || year > 2200 || month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: year %d month %d out of range", ErrInvalidPeriodTransition, year, month)
	}
	period := Period{Year: year, Month: month, Status: PeriodOpen}
	created, err := s.repo.CreatePeriod(ctx, period)
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "ledger.period.create", fmt.Sprintf("%d-%02d", year, month), nil)
	return created, nil
}

// TransitionPeriod advances a period one step. Transitions are forward-only:
// open to closing, closing to closed.
func (s *Service) TransitionPeriod(ctx context.Context, periodID int64, to PeriodStatus, actorID int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if !validPeriodTransition(current.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidPeriodTransition, current.Status, to)
		}
		current.Status = to
		if to == PeriodClosed {
			now := s.now().UTC()
			current.ClosedAt = &now
			current.ClosedBy = actorID
		}
		if err := tx.UpdatePeriod(ctx, current); err != nil {
			return err
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "ledger.period.transition", fmt.Sprintf("%d", periodID), map[string]any{"to": string(to)})
	return period, nil
}

// Periods lists all accounting periods, newest first.
func (s *Service) Periods(ctx context.Context) ([]Period, error) {
	return s.repo.ListPeriods(ctx)
}
