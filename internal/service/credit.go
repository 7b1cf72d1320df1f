package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

// DueSoonDays is the window, in days from today, in which an installment is
// labelled due soon.
const DueSoonDays = 3

// MaxAlertDays bounds the look-ahead of UpcomingAlerts.
const MaxAlertDays = 90

// UrgentCount is the number of open credits with an installment due today or
// tomorrow.
func (s *Service) UrgentCount(ctx context.Context) (int, error) {
	today := domain.DateOf(s.now())
	return s.repo.CountUrgentCredits(ctx, []time.Time{today, today.AddDate(0, 0, 1)})
}

// CreditStatuses classifies every open credit by its next pending
// installment. Overdue credits come first, then due soon, then current; the
// order inside a label follows the next due date.
func (s *Service) CreditStatuses(ctx context.Context) ([]domain.CreditStatus, error) {
	today := domain.DateOf(s.now())
	day := today.Format(domain.DateLayout)

	cached, ok, err := s.board.Get(ctx, day)
	if err != nil {
		s.logFor(ctx).Warn("credit board cache read failed", zap.String("day", day), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	credits, err := s.repo.ListOpenCredits(ctx)
	if err != nil {
		return nil, err
	}

	board := make([]domain.CreditStatus, 0, len(credits))
	for _, credit := range credits {
		status, err := ClassifyCredit(credit, today)
		if err != nil {
			return nil, err
		}
		board = append(board, status)
	}
	slices.SortStableFunc(board, func(a, b domain.CreditStatus) int {
		return labelRank(a.Label) - labelRank(b.Label)
	})

	if err := s.board.Set(ctx, day, board, s.boardTTL); err != nil {
		s.logFor(ctx).Warn("credit board cache write failed", zap.String("day", day), zap.Error(err))
	}
	return board, nil
}

// ClassifyCredit labels one open credit relative to today. It only reads its
// inputs, so the same credit and day always give the same status.
func ClassifyCredit(credit domain.OpenCredit, today time.Time) (domain.CreditStatus, error) {
	status := domain.CreditStatus{
		SaleID:            credit.SaleID,
		CustomerName:      credit.CustomerName,
		ItemName:          credit.ItemName,
		BalanceUSD:        credit.BalanceUSD,
		NextDueDate:       credit.DueDate.Format(domain.DateLayout),
		NextAmountUSD:     credit.AmountUSD,
		InstallmentNumber: credit.Sequence,
	}

	days := domain.DaysBetween(today, credit.DueDate)
	switch {
	case days < 0:
		status.Label = domain.CreditOverdue
		status.DaysLate = -days
	case days <= DueSoonDays:
		status.Label = domain.CreditDueSoon
	default:
		status.Label = domain.CreditCurrent
	}

	message, err := ReminderMessage(credit.CustomerName, credit.ItemName, credit.Sequence, credit.DueDate, credit.AmountUSD)
	if err != nil {
		return domain.CreditStatus{}, err
	}
	status.Message = message

	if status.Label == domain.CreditOverdue {
		notice, err := OverdueNotice(credit.CustomerName, credit.ItemName, credit.Sequence, credit.DueDate, status.DaysLate, credit.BalanceUSD)
		if err != nil {
			return domain.CreditStatus{}, err
		}
		status.OverdueNotice = notice
	}
	return status, nil
}

// UpcomingAlerts lists pending installments due from today through today
// plus days, each with a reminder message ready to send.
func (s *Service) UpcomingAlerts(ctx context.Context, days int) ([]domain.InstallmentAlert, error) {
	if days < 0 || days > MaxAlertDays {
		return nil, fmt.Errorf("%w: days must be between 0 and %d", store.ErrRuleViolation, MaxAlertDays)
	}
	today := domain.DateOf(s.now())

	alerts, err := s.repo.ListDueInstallments(ctx, today, today.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	for i := range alerts {
		due, err := domain.ParseDate(alerts[i].DueDate, today.Location())
		if err != nil {
			return nil, fmt.Errorf("alert for sale %d: %w", alerts[i].SaleID, err)
		}
		message, err := ReminderMessage(alerts[i].CustomerName, alerts[i].ItemName, alerts[i].InstallmentNumber, due, alerts[i].AmountUSD)
		if err != nil {
			return nil, err
		}
		alerts[i].Message = message
	}
	return alerts, nil
}

func labelRank(label domain.CreditLabel) int {
	switch label {
	case domain.CreditOverdue:
		return 0
	case domain.CreditDueSoon:
		return 1
	default:
		return 2
	}
}
