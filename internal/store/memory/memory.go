package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

var errTxDone = errors.New("transaction already finished")

// Store keeps the whole ledger in process memory. Writers are serialized by a
// one-slot semaphore; a transaction works on a private copy of the ledger that
// replaces the shared one on commit.
type Store struct {
	mu     sync.RWMutex
	writer chan struct{}
	data   *ledger
}

type ledger struct {
	items        map[int64]domain.InventoryItem
	customers    map[int64]domain.Customer
	sales        map[int64]domain.Sale
	installments map[int64][]domain.Installment
	payments     map[int64][]domain.Payment

	nextItemID        int64
	nextCustomerID    int64
	nextSaleID        int64
	nextInstallmentID int64
	nextPaymentID     int64
}

func New() *Store {
	return &Store{
		writer: make(chan struct{}, 1),
		data: &ledger{
			items:        make(map[int64]domain.InventoryItem),
			customers:    make(map[int64]domain.Customer),
			sales:        make(map[int64]domain.Sale),
			installments: make(map[int64][]domain.Installment),
			payments:     make(map[int64][]domain.Payment),
		},
	}
}

// NewSeeded returns a store with a small demo catalog for local runs.
func NewSeeded() *Store {
	s := New()
	items := []domain.InventoryItem{
		{Name: "Redmi Note 13", CostUSD: decimal.RequireFromString("145.00"), Stock: 6},
		{Name: "Samsung Galaxy A15", CostUSD: decimal.RequireFromString("120.00"), Stock: 4},
		{Name: "Tecno Spark 20", CostUSD: decimal.RequireFromString("98.50"), Stock: 3},
		{Name: "iPhone 12 (refurbished)", CostUSD: decimal.RequireFromString("310.00"), Stock: 1},
	}
	for _, item := range items {
		s.data.nextItemID++
		item.ID = s.data.nextItemID
		s.data.items[item.ID] = item
	}
	customers := []domain.Customer{
		{Name: "Maria Perez", ExternalID: "V-12345678", Phone: "0414-5550101"},
		{Name: "Jose Rodriguez", ExternalID: "V-20987654", Phone: "0424-5550202"},
	}
	for _, customer := range customers {
		s.data.nextCustomerID++
		customer.ID = s.data.nextCustomerID
		s.data.customers[customer.ID] = customer
	}
	return s
}

func (l *ledger) clone() *ledger {
	out := *l
	out.items = make(map[int64]domain.InventoryItem, len(l.items))
	for k, v := range l.items {
		out.items[k] = v
	}
	out.customers = make(map[int64]domain.Customer, len(l.customers))
	for k, v := range l.customers {
		out.customers[k] = v
	}
	out.sales = make(map[int64]domain.Sale, len(l.sales))
	for k, v := range l.sales {
		out.sales[k] = v
	}
	out.installments = make(map[int64][]domain.Installment, len(l.installments))
	for k, v := range l.installments {
		out.installments[k] = slices.Clone(v)
	}
	out.payments = make(map[int64][]domain.Payment, len(l.payments))
	for k, v := range l.payments {
		out.payments[k] = slices.Clone(v)
	}
	return &out
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return store.Failure("acquire writer", ctx.Err())
	}
}

func (s *Store) release() {
	<-s.writer
}

// write runs fn against the shared ledger while holding the writer slot.
func (s *Store) write(ctx context.Context, fn func(l *ledger) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	return &tx{store: s, work: work}, nil
}

type tx struct {
	store *Store
	work  *ledger
	done  bool
}

func (t *tx) ItemStock(_ context.Context, itemID int64) (int, error) {
	if t.done {
		return 0, store.Failure("item stock", errTxDone)
	}
	item, ok := t.work.items[itemID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return item.Stock, nil
}

func (t *tx) SetItemStock(_ context.Context, itemID int64, qty int) error {
	if t.done {
		return store.Failure("set item stock", errTxDone)
	}
	item, ok := t.work.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	item.Stock = qty
	t.work.items[itemID] = item
	return nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	if t.done {
		return 0, store.Failure("insert sale", errTxDone)
	}
	t.work.nextSaleID++
	sale.ID = t.work.nextSaleID
	t.work.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *tx) InsertInstallment(_ context.Context, installment domain.Installment) (int64, error) {
	if t.done {
		return 0, store.Failure("insert installment", errTxDone)
	}
	if _, ok := t.work.sales[installment.SaleID]; !ok {
		return 0, store.ErrNotFound
	}
	if installment.Status == "" {
		installment.Status = domain.InstallmentPending
	}
	t.work.nextInstallmentID++
	installment.ID = t.work.nextInstallmentID
	t.work.installments[installment.SaleID] = append(t.work.installments[installment.SaleID], installment)
	return installment.ID, nil
}

func (t *tx) SaleForUpdate(_ context.Context, saleID int64) (*domain.Sale, error) {
	if t.done {
		return nil, store.Failure("sale for update", errTxDone)
	}
	sale, ok := t.work.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (t *tx) InsertPayment(_ context.Context, payment domain.Payment) (int64, error) {
	if t.done {
		return 0, store.Failure("insert payment", errTxDone)
	}
	if _, ok := t.work.sales[payment.SaleID]; !ok {
		return 0, store.ErrNotFound
	}
	if payment.Method == "" {
		payment.Method = domain.PaymentMethodCash
	}
	t.work.nextPaymentID++
	payment.ID = t.work.nextPaymentID
	t.work.payments[payment.SaleID] = append(t.work.payments[payment.SaleID], payment)
	return payment.ID, nil
}

func (t *tx) UpdateSaleBalance(_ context.Context, saleID int64, balance decimal.Decimal, state domain.SaleState) error {
	if t.done {
		return store.Failure("update sale balance", errTxDone)
	}
	sale, ok := t.work.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	sale.BalanceUSD = balance
	sale.State = state
	t.work.sales[saleID] = sale
	return nil
}

func (t *tx) MarkInstallmentsPaid(_ context.Context, saleID int64) error {
	if t.done {
		return store.Failure("mark installments paid", errTxDone)
	}
	installments := t.work.installments[saleID]
	for i := range installments {
		installments[i].Status = domain.InstallmentPaid
	}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return store.Failure("commit", errTxDone)
	}
	t.done = true

	t.store.mu.Lock()
	t.store.data = t.work
	t.store.mu.Unlock()

	t.store.release()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.release()
	return nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	err := s.write(ctx, func(l *ledger) error {
		l.nextItemID++
		item.ID = l.nextItemID
		l.items[item.ID] = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	err := s.write(ctx, func(l *ledger) error {
		existing, ok := l.items[item.ID]
		if !ok {
			return store.ErrNotFound
		}
		item.Stock = existing.Stock
		l.items[item.ID] = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID int64) error {
	return s.write(ctx, func(l *ledger) error {
		if _, ok := l.items[itemID]; !ok {
			return store.ErrNotFound
		}
		delete(l.items, itemID)
		return nil
	})
}

func (s *Store) GetItem(_ context.Context, itemID int64) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.data.items))
	for _, item := range s.data.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) ListLowStockItems(_ context.Context, threshold int) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0)
	for _, item := range s.data.items {
		if item.Stock <= threshold {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return cmpInt64(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	err := s.write(ctx, func(l *ledger) error {
		for _, existing := range l.customers {
			if existing.ExternalID == customer.ExternalID {
				return store.ErrDuplicate
			}
		}
		l.nextCustomerID++
		customer.ID = l.nextCustomerID
		l.customers[customer.ID] = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.data.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.data.customers))
	for _, customer := range s.data.customers {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return customers, nil
}

func (s *Store) GetSale(_ context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.data.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.SaleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.SaleSummary, 0)
	for _, sale := range s.data.sales {
		if filter.CustomerID > 0 && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ItemID > 0 && sale.ItemID != filter.ItemID {
			continue
		}
		summaries = append(summaries, domain.SaleSummary{
			Sale:         sale,
			CustomerName: s.data.customers[sale.CustomerID].Name,
			ItemName:     s.data.items[sale.ItemID].Name,
		})
	}
	slices.SortFunc(summaries, func(a, b domain.SaleSummary) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return cmpInt64(b.ID, a.ID)
	})
	return summaries, nil
}

func (s *Store) CountSalesByItem(_ context.Context, itemID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.data.sales {
		if sale.ItemID == itemID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListInstallments(_ context.Context, saleID int64) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	installments := slices.Clone(s.data.installments[saleID])
	if installments == nil {
		installments = []domain.Installment{}
	}
	slices.SortFunc(installments, func(a, b domain.Installment) int {
		return a.Sequence - b.Sequence
	})
	return installments, nil
}

func (s *Store) ListPayments(_ context.Context, saleID int64) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := slices.Clone(s.data.payments[saleID])
	if payments == nil {
		payments = []domain.Payment{}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if !a.PaidAt.Equal(b.PaidAt) {
			return b.PaidAt.Compare(a.PaidAt)
		}
		return cmpInt64(b.ID, a.ID)
	})
	return payments, nil
}

func (s *Store) CountUrgentCredits(_ context.Context, dates []time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		wanted[d.Format(domain.DateLayout)] = struct{}{}
	}

	count := 0
	for _, sale := range s.data.sales {
		if !sale.BalanceUSD.IsPositive() {
			continue
		}
		for _, installment := range s.data.installments[sale.ID] {
			if installment.Status != domain.InstallmentPending {
				continue
			}
			if _, ok := wanted[installment.DueDate.Format(domain.DateLayout)]; ok {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *Store) ListOpenCredits(_ context.Context) ([]domain.OpenCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credits := make([]domain.OpenCredit, 0)
	for _, sale := range s.data.sales {
		if !sale.BalanceUSD.IsPositive() {
			continue
		}
		var next *domain.Installment
		for i, installment := range s.data.installments[sale.ID] {
			if installment.Status != domain.InstallmentPending {
				continue
			}
			if next == nil || earlierInstallment(installment, *next) {
				next = &s.data.installments[sale.ID][i]
			}
		}
		if next == nil {
			continue
		}
		credits = append(credits, domain.OpenCredit{
			SaleID:       sale.ID,
			CustomerName: s.data.customers[sale.CustomerID].Name,
			ItemName:     s.data.items[sale.ItemID].Name,
			BalanceUSD:   sale.BalanceUSD,
			Sequence:     next.Sequence,
			DueDate:      next.DueDate,
			AmountUSD:    next.AmountUSD,
		})
	}
	slices.SortFunc(credits, func(a, b domain.OpenCredit) int {
		if c := compareDates(a.DueDate, b.DueDate); c != 0 {
			return c
		}
		return cmpInt64(a.SaleID, b.SaleID)
	})
	return credits, nil
}

func (s *Store) ListDueInstallments(_ context.Context, from time.Time, to time.Time) ([]domain.InstallmentAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := from.Format(domain.DateLayout)
	hi := to.Format(domain.DateLayout)

	type row struct {
		alert domain.InstallmentAlert
		due   string
	}
	rows := make([]row, 0)
	for _, sale := range s.data.sales {
		if !sale.BalanceUSD.IsPositive() {
			continue
		}
		for _, installment := range s.data.installments[sale.ID] {
			due := installment.DueDate.Format(domain.DateLayout)
			if installment.Status != domain.InstallmentPending || due < lo || due > hi {
				continue
			}
			rows = append(rows, row{
				due: due,
				alert: domain.InstallmentAlert{
					SaleID:            sale.ID,
					CustomerName:      s.data.customers[sale.CustomerID].Name,
					ItemName:          s.data.items[sale.ItemID].Name,
					InstallmentNumber: installment.Sequence,
					AmountUSD:         installment.AmountUSD,
					DueDate:           due,
					BalanceUSD:        sale.BalanceUSD,
				},
			})
		}
	}
	slices.SortFunc(rows, func(a, b row) int {
		if c := strings.Compare(a.due, b.due); c != 0 {
			return c
		}
		if c := cmpInt64(a.alert.SaleID, b.alert.SaleID); c != 0 {
			return c
		}
		return a.alert.InstallmentNumber - b.alert.InstallmentNumber
	})

	alerts := make([]domain.InstallmentAlert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.alert)
	}
	return alerts, nil
}

func earlierInstallment(a domain.Installment, b domain.Installment) bool {
	if c := compareDates(a.DueDate, b.DueDate); c != 0 {
		return c < 0
	}
	return a.Sequence < b.Sequence
}

// compareDates orders two values by calendar date only.
func compareDates(a time.Time, b time.Time) int {
	return strings.Compare(a.Format(domain.DateLayout), b.Format(domain.DateLayout))
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
