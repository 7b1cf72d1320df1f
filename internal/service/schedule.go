package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/pricing"
	"smartcredit/backend/internal/store"
)

// InstallmentIntervalDays is the spacing between consecutive due dates.
const InstallmentIntervalDays = 14

// PlanDueDates returns the due dates of a count-installment plan starting
// from the calendar day of start.
func PlanDueDates(start time.Time, count int) []time.Time {
	day := domain.DateOf(start)
	dates := make([]time.Time, 0, count)
	for i := 1; i <= count; i++ {
		dates = append(dates, day.AddDate(0, 0, InstallmentIntervalDays*i))
	}
	return dates
}

// generatePlan writes the installment rows of a financed sale inside tx.
func (s *Service) generatePlan(ctx context.Context, tx store.Tx, saleID int64, count int, balance decimal.Decimal, amount decimal.Decimal, start time.Time) error {
	amounts := pricing.SplitBalance(balance, amount, count)
	for i, due := range PlanDueDates(start, count) {
		_, err := tx.InsertInstallment(ctx, domain.Installment{
			SaleID:    saleID,
			Sequence:  i + 1,
			DueDate:   due,
			AmountUSD: amounts[i],
			Status:    domain.InstallmentPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
