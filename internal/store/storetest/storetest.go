// Package storetest holds behavior checks every store.Repository
// implementation must pass. Each backend's tests call Run with a factory
// returning an empty repository.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("ItemLifecycle", func(t *testing.T) { testItemLifecycle(t, newRepo(t)) })
	t.Run("DuplicateCustomer", func(t *testing.T) { testDuplicateCustomer(t, newRepo(t)) })
	t.Run("RollbackDiscards", func(t *testing.T) { testRollbackDiscards(t, newRepo(t)) })
	t.Run("SaleRoundTrip", func(t *testing.T) { testSaleRoundTrip(t, newRepo(t)) })
	t.Run("OpenCredits", func(t *testing.T) { testOpenCredits(t, newRepo(t)) })
	t.Run("UrgentAndDue", func(t *testing.T) { testUrgentAndDue(t, newRepo(t)) })
	t.Run("SettleSale", func(t *testing.T) { testSettleSale(t, newRepo(t)) })
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func today() time.Time {
	return domain.DateOf(time.Now())
}

type fixture struct {
	itemID     int64
	customerID int64
}

func seed(t *testing.T, repo store.Repository, name string, externalID string, stock int) fixture {
	t.Helper()
	ctx := context.Background()

	item, err := repo.CreateItem(ctx, domain.InventoryItem{Name: name, CostUSD: money("100"), Stock: stock})
	require.NoError(t, err)
	customer, err := repo.CreateCustomer(ctx, domain.Customer{Name: "Customer " + externalID, ExternalID: externalID})
	require.NoError(t, err)
	return fixture{itemID: item.ID, customerID: customer.ID}
}

func insertSale(t *testing.T, repo store.Repository, f fixture, balance string, dues ...time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	count := len(dues)
	amount := decimal.Zero
	if count > 0 {
		amount = money(balance).Div(decimal.NewFromInt(int64(count))).RoundDown(2)
	}
	saleID, err := tx.InsertSale(ctx, domain.Sale{
		CustomerID:           f.customerID,
		ItemID:               f.itemID,
		CreatedAt:            time.Now(),
		Kind:                 domain.SaleKindFinanced,
		FinalPriceUSD:        money(balance),
		DownPaymentUSD:       decimal.Zero,
		BalanceUSD:           money(balance),
		InstallmentCount:     count,
		InstallmentAmountUSD: amount,
		ExchangeRate:         money("40"),
		State:                domain.SaleStateActive,
	})
	require.NoError(t, err)
	for i, due := range dues {
		_, err := tx.InsertInstallment(ctx, domain.Installment{
			SaleID:    saleID,
			Sequence:  i + 1,
			DueDate:   due,
			AmountUSD: amount,
			Status:    domain.InstallmentPending,
		})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	return saleID
}

func testItemLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	created, err := repo.CreateItem(ctx, domain.InventoryItem{Name: "Moto G", CostUSD: money("80.25"), Stock: 7})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := repo.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Moto G", got.Name)
	assert.True(t, money("80.25").Equal(got.CostUSD))

	got.Name = "Moto G2"
	got.Stock = 99
	updated, err := repo.UpdateItem(ctx, *got)
	require.NoError(t, err)
	assert.Equal(t, "Moto G2", updated.Name)
	assert.Equal(t, 7, updated.Stock)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetItemStock(ctx, created.ID, 2))
	require.NoError(t, tx.Commit())

	low, err := repo.ListLowStockItems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, 2, low[0].Stock)

	items, err := repo.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, repo.DeleteItem(ctx, created.ID))
	_, err = repo.GetItem(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteItem(ctx, created.ID), store.ErrNotFound)
}

func testDuplicateCustomer(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	_, err := repo.CreateCustomer(ctx, domain.Customer{Name: "Ana", ExternalID: "V-1"})
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, domain.Customer{Name: "Ana B", ExternalID: "V-1"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = repo.GetCustomer(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRollbackDiscards(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	f := seed(t, repo, "Redmi", "V-2", 3)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	stock, err := tx.ItemStock(ctx, f.itemID)
	require.NoError(t, err)
	require.Equal(t, 3, stock)
	require.NoError(t, tx.SetItemStock(ctx, f.itemID, 2))
	_, err = tx.InsertSale(ctx, domain.Sale{
		CustomerID: f.customerID, ItemID: f.itemID, CreatedAt: time.Now(),
		Kind: domain.SaleKindCash, State: domain.SaleStatePaid,
		FinalPriceUSD: money("10"), DownPaymentUSD: money("10"), BalanceUSD: decimal.Zero,
		InstallmentAmountUSD: decimal.Zero, ExchangeRate: money("40"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	item, err := repo.GetItem(ctx, f.itemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Stock)

	sales, err := repo.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func testSaleRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	f := seed(t, repo, "Tecno", "V-3", 3)
	other := seed(t, repo, "Nokia", "V-4", 3)

	due := today().AddDate(0, 0, 14)
	saleID := insertSale(t, repo, f, "100", due, due.AddDate(0, 0, 14), due.AddDate(0, 0, 28))
	insertSale(t, repo, other, "50", due)

	sale, err := repo.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.True(t, money("100").Equal(sale.BalanceUSD))
	assert.True(t, money("33.33").Equal(sale.InstallmentAmountUSD))
	assert.Equal(t, domain.SaleStateActive, sale.State)

	installments, err := repo.ListInstallments(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	for i, installment := range installments {
		assert.Equal(t, i+1, installment.Sequence)
		assert.Equal(t, domain.InstallmentPending, installment.Status)
		assert.Equal(t, due.AddDate(0, 0, 14*i).Format(domain.DateLayout), installment.DueDate.Format(domain.DateLayout))
	}

	filtered, err := repo.ListSales(ctx, domain.SaleFilter{CustomerID: f.customerID})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Tecno", filtered[0].ItemName)
	assert.Equal(t, "Customer V-3", filtered[0].CustomerName)

	byItem, err := repo.ListSales(ctx, domain.SaleFilter{ItemID: other.itemID})
	require.NoError(t, err)
	require.Len(t, byItem, 1)

	count, err := repo.CountSalesByItem(ctx, f.itemID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.GetSale(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOpenCredits(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	a := seed(t, repo, "A", "V-5", 3)
	b := seed(t, repo, "B", "V-6", 3)
	d := today()

	later := insertSale(t, repo, a, "30", d.AddDate(0, 0, 4), d.AddDate(0, 0, 18))
	earlier := insertSale(t, repo, b, "30", d.AddDate(0, 0, -3), d.AddDate(0, 0, 11))
	insertSale(t, repo, b, "0", d)

	credits, err := repo.ListOpenCredits(ctx)
	require.NoError(t, err)
	require.Len(t, credits, 2)

	assert.Equal(t, earlier, credits[0].SaleID)
	assert.Equal(t, 1, credits[0].Sequence)
	assert.Equal(t, d.AddDate(0, 0, -3).Format(domain.DateLayout), credits[0].DueDate.Format(domain.DateLayout))
	assert.Equal(t, later, credits[1].SaleID)
	assert.True(t, money("30").Equal(credits[1].BalanceUSD))
	assert.True(t, money("15").Equal(credits[1].AmountUSD))
}

func testUrgentAndDue(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	f := seed(t, repo, "C", "V-7", 5)
	d := today()

	insertSale(t, repo, f, "20", d, d.AddDate(0, 0, 1))
	insertSale(t, repo, f, "20", d.AddDate(0, 0, 1))
	insertSale(t, repo, f, "20", d.AddDate(0, 0, 2))

	count, err := repo.CountUrgentCredits(ctx, []time.Time{d, d.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	alerts, err := repo.ListDueInstallments(ctx, d.AddDate(0, 0, 1), d.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, d.AddDate(0, 0, 1).Format(domain.DateLayout), alerts[0].DueDate)
	assert.Equal(t, d.AddDate(0, 0, 2).Format(domain.DateLayout), alerts[2].DueDate)
}

func testSettleSale(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	f := seed(t, repo, "D", "V-8", 5)
	d := today()
	saleID := insertSale(t, repo, f, "20", d, d.AddDate(0, 0, 14))

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	sale, err := tx.SaleForUpdate(ctx, saleID)
	require.NoError(t, err)
	_, err = tx.InsertPayment(ctx, domain.Payment{
		SaleID:       saleID,
		PaidAt:       time.Now().Add(-time.Minute),
		AmountUSD:    money("5"),
		ExchangeRate: money("40"),
		AmountLocal:  money("200"),
	})
	require.NoError(t, err)
	_, err = tx.InsertPayment(ctx, domain.Payment{
		SaleID:       saleID,
		PaidAt:       time.Now(),
		AmountUSD:    sale.BalanceUSD.Sub(money("5")),
		ExchangeRate: money("40"),
		AmountLocal:  money("600"),
		Method:       domain.PaymentMethodTransfer,
	})
	require.NoError(t, err)
	require.NoError(t, tx.UpdateSaleBalance(ctx, saleID, decimal.Zero, domain.SaleStatePaid))
	require.NoError(t, tx.MarkInstallmentsPaid(ctx, saleID))
	require.NoError(t, tx.Commit())

	payments, err := repo.ListPayments(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentMethodTransfer, payments[0].Method)
	assert.Equal(t, domain.PaymentMethodCash, payments[1].Method)

	installments, err := repo.ListInstallments(ctx, saleID)
	require.NoError(t, err)
	for _, installment := range installments {
		assert.Equal(t, domain.InstallmentPaid, installment.Status)
	}

	credits, err := repo.ListOpenCredits(ctx)
	require.NoError(t, err)
	assert.Empty(t, credits)

	settled, err := repo.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatePaid, settled.State)
	assert.True(t, settled.BalanceUSD.IsZero())
}
