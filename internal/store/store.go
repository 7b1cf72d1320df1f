package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRuleViolation     = errors.New("rule violation")
	ErrDuplicate         = errors.New("already exists")
	ErrStoreFailure      = errors.New("store failure")
)

// Failure wraps a driver or connection error so that it matches both
// ErrStoreFailure and the original error.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// Tx is one open ledger transaction. Nothing written through it is visible
// to other readers until Commit. Rollback after Commit is a no-op, so callers
// can always defer it.
type Tx interface {
	// ItemStock returns the on-hand quantity and holds the item for the rest
	// of the transaction.
	ItemStock(ctx context.Context, itemID int64) (int, error)
	SetItemStock(ctx context.Context, itemID int64, qty int) error
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	InsertInstallment(ctx context.Context, installment domain.Installment) (int64, error)
	// SaleForUpdate returns the sale and holds it for the rest of the transaction.
	SaleForUpdate(ctx context.Context, saleID int64) (*domain.Sale, error)
	InsertPayment(ctx context.Context, payment domain.Payment) (int64, error)
	UpdateSaleBalance(ctx context.Context, saleID int64, balance decimal.Decimal, state domain.SaleState) error
	MarkInstallmentsPaid(ctx context.Context, saleID int64) error
	Commit() error
	Rollback() error
}

type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	// UpdateItem replaces name, cost and image. Stock is left untouched and is
	// returned as currently stored.
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	DeleteItem(ctx context.Context, itemID int64) error
	GetItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleSummary, error)
	CountSalesByItem(ctx context.Context, itemID int64) (int, error)
	ListInstallments(ctx context.Context, saleID int64) ([]domain.Installment, error)
	ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error)

	// CountUrgentCredits counts sales with a positive balance that have at
	// least one pending installment due on one of the given calendar dates.
	CountUrgentCredits(ctx context.Context, dates []time.Time) (int, error)
	// ListOpenCredits returns every sale with a positive balance and a pending
	// installment, paired with its earliest-due pending installment, ordered by
	// that due date and then sale id.
	ListOpenCredits(ctx context.Context) ([]domain.OpenCredit, error)
	// ListDueInstallments returns pending installments of sales with a positive
	// balance due between from and to inclusive, ordered by due date.
	ListDueInstallments(ctx context.Context, from time.Time, to time.Time) ([]domain.InstallmentAlert, error)
}
