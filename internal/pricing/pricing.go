// Package pricing holds the sale term arithmetic. Every price preview and
// every persisted sale goes through ComputeTerms so the numbers shown to the
// operator are the numbers stored.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

// CentPlaces is the precision installment amounts are rounded down to.
const CentPlaces = 2

var hundred = decimal.NewFromInt(100)

// PriceFromCost applies a percentage margin to a unit cost. Negative inputs
// are treated as zero.
func PriceFromCost(cost decimal.Decimal, marginPercent decimal.Decimal) decimal.Decimal {
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	if marginPercent.IsNegative() {
		marginPercent = decimal.Zero
	}
	return cost.Mul(decimal.NewFromInt(1).Add(marginPercent.Div(hundred)))
}

// ComputeTerms derives balance, installment amount and state of a sale.
// A zero installment count is a cash sale: the down payment is forced to the
// full price whatever was supplied.
func ComputeTerms(finalPrice decimal.Decimal, downPayment decimal.Decimal, installmentCount int, exchangeRate decimal.Decimal) (domain.SaleTerms, error) {
	if finalPrice.IsNegative() {
		return domain.SaleTerms{}, fmt.Errorf("%w: final price cannot be negative", store.ErrRuleViolation)
	}
	if installmentCount < 0 {
		return domain.SaleTerms{}, fmt.Errorf("%w: installment count cannot be negative", store.ErrRuleViolation)
	}
	if downPayment.IsNegative() {
		downPayment = decimal.Zero
	}
	if downPayment.GreaterThan(finalPrice) {
		return domain.SaleTerms{}, fmt.Errorf("%w: down payment %s exceeds final price %s",
			store.ErrRuleViolation, downPayment.StringFixed(CentPlaces), finalPrice.StringFixed(CentPlaces))
	}

	terms := domain.SaleTerms{
		FinalPriceUSD:    finalPrice,
		InstallmentCount: installmentCount,
	}

	if installmentCount == 0 {
		terms.Cash = true
		terms.DownPaymentUSD = finalPrice
		terms.BalanceUSD = decimal.Zero
		terms.InstallmentAmountUSD = decimal.Zero
		terms.State = domain.SaleStatePaid
	} else {
		terms.DownPaymentUSD = downPayment
		terms.BalanceUSD = decimal.Max(decimal.Zero, finalPrice.Sub(downPayment))
		// Rounded down so the remainder carried by the last installment is never negative.
		terms.InstallmentAmountUSD = terms.BalanceUSD.Div(decimal.NewFromInt(int64(installmentCount))).RoundDown(CentPlaces)
		terms.State = domain.SaleStateActive
	}

	terms.FinalPriceLocal = finalPrice.Mul(exchangeRate)
	terms.InstallmentAmountLocal = terms.InstallmentAmountUSD.Mul(exchangeRate)
	return terms, nil
}

// SplitBalance spreads a financed balance over count installments of the
// given amount. The last installment takes the cent remainder so the plan
// always sums exactly to the balance.
func SplitBalance(balance decimal.Decimal, installmentAmount decimal.Decimal, count int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	amounts := make([]decimal.Decimal, count)
	allocated := decimal.Zero
	for i := 0; i < count-1; i++ {
		amounts[i] = installmentAmount
		allocated = allocated.Add(installmentAmount)
	}
	amounts[count-1] = balance.Sub(allocated)
	return amounts
}
