package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/pricing"
	"smartcredit/backend/internal/store"
)

// BalanceTolerance is the residue below which a balance counts as settled.
var BalanceTolerance = decimal.New(1, -2)

var supportedPaymentMethods = map[string]struct{}{
	domain.PaymentMethodCash:     {},
	domain.PaymentMethodTransfer: {},
	domain.PaymentMethodMobile:   {},
	domain.PaymentMethodCard:     {},
}

// ApplyPayment records a payment against a sale and lowers its balance.
// A balance that falls under BalanceTolerance is settled: the sale is marked
// paid along with every pending installment.
func (s *Service) ApplyPayment(ctx context.Context, saleID int64, req domain.PaymentRequest) (domain.Payment, error) {
	if !req.AmountUSD.IsPositive() {
		return domain.Payment{}, fmt.Errorf("%w: payment amount must be positive", store.ErrRuleViolation)
	}
	method := defaultString(req.Method, domain.PaymentMethodCash)
	if _, ok := supportedPaymentMethods[method]; !ok {
		return domain.Payment{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrRuleViolation, method)
	}
	rate := s.rates.ExchangeRate()
	if req.ExchangeRate.Valid {
		rate = req.ExchangeRate.Decimal
	}
	if !rate.IsPositive() {
		return domain.Payment{}, fmt.Errorf("%w: exchange rate must be positive", store.ErrRuleViolation)
	}

	payment := domain.Payment{
		SaleID:       saleID,
		PaidAt:       s.now(),
		AmountUSD:    req.AmountUSD,
		ExchangeRate: rate,
		AmountLocal:  req.AmountUSD.Mul(rate),
		Note:         req.Note,
		Method:       method,
	}
	var remaining decimal.Decimal
	var state domain.SaleState

	err := s.inTx(ctx, func(tx store.Tx) error {
		sale, err := tx.SaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.State == domain.SaleStatePaid || !sale.BalanceUSD.IsPositive() {
			return fmt.Errorf("%w: sale %d is already settled", store.ErrRuleViolation, saleID)
		}
		if req.AmountUSD.GreaterThan(sale.BalanceUSD) {
			return fmt.Errorf("%w: payment %s exceeds outstanding balance %s", store.ErrRuleViolation,
				req.AmountUSD.StringFixed(pricing.CentPlaces), sale.BalanceUSD.StringFixed(pricing.CentPlaces))
		}

		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		remaining = sale.BalanceUSD.Sub(req.AmountUSD)
		if remaining.LessThan(BalanceTolerance) {
			remaining = decimal.Zero
		}
		state = domain.SaleStateActive
		if remaining.IsZero() {
			state = domain.SaleStatePaid
		}
		if err := tx.UpdateSaleBalance(ctx, saleID, remaining, state); err != nil {
			return err
		}
		if state == domain.SaleStatePaid {
			return tx.MarkInstallmentsPaid(ctx, saleID)
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	s.invalidateBoard(ctx)

	s.logFor(ctx).Info("payment applied",
		zap.String("actor", actorName(ctx)),
		zap.Int64("sale_id", saleID),
		zap.Int64("payment_id", payment.ID),
		zap.String("amount_usd", payment.AmountUSD.StringFixed(pricing.CentPlaces)),
		zap.String("balance_usd", remaining.StringFixed(pricing.CentPlaces)),
		zap.String("state", string(state)),
	)
	return payment, nil
}
