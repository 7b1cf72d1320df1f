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

// QuotePrice is the suggested price of an item at the configured margin.
func (s *Service) QuotePrice(ctx context.Context, itemID int64) (domain.PriceQuote, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	margin := s.rates.MarginPercent()
	rate := s.rates.ExchangeRate()
	price := pricing.PriceFromCost(item.CostUSD, margin)
	return domain.PriceQuote{
		ItemID:        item.ID,
		CostUSD:       item.CostUSD,
		MarginPercent: margin,
		PriceUSD:      price,
		PriceLocal:    price.Mul(rate),
		ExchangeRate:  rate,
	}, nil
}

// PreviewTerms computes the terms ProcessSale would persist for req without
// touching stock or the ledger.
func (s *Service) PreviewTerms(ctx context.Context, req domain.SaleRequest) (domain.SaleTerms, error) {
	terms, _, err := s.saleTerms(ctx, req)
	return terms, err
}

// ProcessSale records a sale. The stock decrement, the sale row and its
// installment plan are written in one transaction.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (int64, error) {
	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return 0, err
	}
	terms, rate, err := s.saleTerms(ctx, req)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var saleID int64
	err = s.inTx(ctx, func(tx store.Tx) error {
		if err := s.adjustStock(ctx, tx, req.ItemID, -1); err != nil {
			return err
		}

		id, err := tx.InsertSale(ctx, domain.Sale{
			CustomerID:           req.CustomerID,
			ItemID:               req.ItemID,
			CreatedAt:            now,
			Kind:                 terms.Kind(),
			FinalPriceUSD:        terms.FinalPriceUSD,
			DownPaymentUSD:       terms.DownPaymentUSD,
			BalanceUSD:           terms.BalanceUSD,
			InstallmentCount:     terms.InstallmentCount,
			InstallmentAmountUSD: terms.InstallmentAmountUSD,
			ExchangeRate:         rate,
			State:                terms.State,
		})
		if err != nil {
			return err
		}

		if !terms.Cash {
			if err := s.generatePlan(ctx, tx, id, terms.InstallmentCount, terms.BalanceUSD, terms.InstallmentAmountUSD, now); err != nil {
				return err
			}
		}
		saleID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidateBoard(ctx)

	s.logFor(ctx).Info("sale recorded",
		zap.String("actor", actorName(ctx)),
		zap.Int64("sale_id", saleID),
		zap.Int64("customer_id", req.CustomerID),
		zap.Int64("item_id", req.ItemID),
		zap.String("kind", string(terms.Kind())),
		zap.String("final_price_usd", terms.FinalPriceUSD.StringFixed(pricing.CentPlaces)),
		zap.String("balance_usd", terms.BalanceUSD.StringFixed(pricing.CentPlaces)),
	)
	return saleID, nil
}

// saleTerms resolves the price and rate defaults of req and runs them
// through the pricing calculator.
func (s *Service) saleTerms(ctx context.Context, req domain.SaleRequest) (domain.SaleTerms, decimal.Decimal, error) {
	price := req.FinalPriceUSD.Decimal
	if !req.FinalPriceUSD.Valid {
		item, err := s.repo.GetItem(ctx, req.ItemID)
		if err != nil {
			return domain.SaleTerms{}, decimal.Zero, err
		}
		price = pricing.PriceFromCost(item.CostUSD, s.rates.MarginPercent())
	}

	rate := s.rates.ExchangeRate()
	if req.ExchangeRate.Valid {
		rate = req.ExchangeRate.Decimal
	}
	if !rate.IsPositive() {
		return domain.SaleTerms{}, decimal.Zero, fmt.Errorf("%w: exchange rate must be positive", store.ErrRuleViolation)
	}

	terms, err := pricing.ComputeTerms(price, req.DownPaymentUSD, req.InstallmentCount, rate)
	if err != nil {
		return domain.SaleTerms{}, decimal.Zero, err
	}
	if !terms.Cash && terms.BalanceUSD.IsZero() {
		return domain.SaleTerms{}, decimal.Zero, fmt.Errorf("%w: down payment covers the full price, record a cash sale instead", store.ErrRuleViolation)
	}
	return terms, rate, nil
}
