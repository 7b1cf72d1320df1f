package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestItemStockLocksRow(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stock FROM inventory WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(3))
	mock.ExpectExec(`UPDATE inventory SET stock = \$2`).
		WithArgs(int64(4), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	stock, err := tx.ItemStock(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)
	require.NoError(t, tx.SetItemStock(ctx, 4, stock-1))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemStockMissingItem(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stock FROM inventory`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ItemStock(ctx, 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSaleFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO sales`).WillReturnError(boom)
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertSale(ctx, domain.Sale{CustomerID: 1, ItemID: 2, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrStoreFailure)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInstallmentSendsCalendarDate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	due := time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO installments`).
		WithArgs(int64(5), 2, "2026-03-09", sqlmock.AnyArg(), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertInstallment(ctx, domain.Installment{
		SaleID:    5,
		Sequence:  2,
		DueDate:   due,
		AmountUSD: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomerDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO customers`).
		WithArgs("Ana", "V-1", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateCustomer(context.Background(), domain.Customer{Name: "Ana", ExternalID: "V-1"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReferencedItem(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM inventory WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := s.DeleteItem(context.Background(), 3)
	assert.ErrorIs(t, err, store.ErrRuleViolation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateItemNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE inventory`).WillReturnRows(sqlmock.NewRows([]string{"stock"}))

	_, err := s.UpdateItem(context.Background(), domain.InventoryItem{ID: 8, Name: "X"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSaleScansNumericText(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, customer_id, item_id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "customer_id", "item_id", "created_at", "kind", "final_price_usd", "down_payment_usd",
			"balance_usd", "installment_count", "installment_amount_usd", "exchange_rate", "state",
		}).AddRow(int64(7), int64(1), int64(2), created, "financed", "150.00", "0.00",
			"150.00", 3, "50.00", "40.0000", "active"))

	sale, err := s.GetSale(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleKindFinanced, sale.Kind)
	assert.Equal(t, domain.SaleStateActive, sale.State)
	assert.True(t, decimal.RequireFromString("150").Equal(sale.BalanceUSD))
	assert.True(t, decimal.RequireFromString("50").Equal(sale.InstallmentAmountUSD))
	assert.True(t, created.Equal(sale.CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOpenCreditsAnchorsDueDateLocally(t *testing.T) {
	s, mock := newMockStore(t)
	due := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM sales s`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "name", "balance_usd", "sequence", "due_date", "amount_usd",
		}).AddRow(int64(1), "Maria", "Redmi", "100.00", 2, due, "33.33"))

	credits, err := s.ListOpenCredits(context.Background())
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "2026-02-14", credits[0].DueDate.Format(domain.DateLayout))
	assert.Equal(t, time.Local, credits[0].DueDate.Location())
	assert.Equal(t, 2, credits[0].Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := s.Begin(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreFailure)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
