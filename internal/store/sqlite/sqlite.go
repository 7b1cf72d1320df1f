// Package sqlite is the single-file ledger store, built on gorm with the
// sqlite dialect. All access goes through one connection, so a transaction
// holds the whole database until it finishes.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/logger"
	"smartcredit/backend/internal/store"
)

type Store struct {
	db *gorm.DB
}

type itemRecord struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string          `gorm:"column:name;not null"`
	CostUSD   decimal.Decimal `gorm:"column:cost_usd;type:text;not null"`
	Stock     int             `gorm:"column:stock;not null;check:chk_inventory_stock,stock >= 0"`
	ImagePath string          `gorm:"column:image_path;not null;default:''"`
}

func (itemRecord) TableName() string { return "inventory" }

type customerRecord struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string `gorm:"column:name;not null"`
	ExternalID string `gorm:"column:external_id;not null;uniqueIndex"`
	Phone      string `gorm:"column:phone;not null;default:''"`
}

func (customerRecord) TableName() string { return "customers" }

type saleRecord struct {
	ID                   int64           `gorm:"column:id;primaryKey;autoIncrement"`
	CustomerID           int64           `gorm:"column:customer_id;not null;index"`
	ItemID               int64           `gorm:"column:item_id;not null;index"`
	CreatedAt            time.Time       `gorm:"column:created_at;not null"`
	Kind                 string          `gorm:"column:kind;not null"`
	FinalPriceUSD        decimal.Decimal `gorm:"column:final_price_usd;type:text;not null"`
	DownPaymentUSD       decimal.Decimal `gorm:"column:down_payment_usd;type:text;not null"`
	BalanceUSD           decimal.Decimal `gorm:"column:balance_usd;type:text;not null"`
	InstallmentCount     int             `gorm:"column:installment_count;not null"`
	InstallmentAmountUSD decimal.Decimal `gorm:"column:installment_amount_usd;type:text;not null"`
	ExchangeRate         decimal.Decimal `gorm:"column:exchange_rate;type:text;not null"`
	State                string          `gorm:"column:state;not null"`

	Customer customerRecord `gorm:"foreignKey:CustomerID"`
	Item     itemRecord     `gorm:"foreignKey:ItemID"`
}

func (saleRecord) TableName() string { return "sales" }

type installmentRecord struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	SaleID    int64           `gorm:"column:sale_id;not null;index"`
	Sequence  int             `gorm:"column:sequence;not null"`
	DueDate   string          `gorm:"column:due_date;not null;index"`
	AmountUSD decimal.Decimal `gorm:"column:amount_usd;type:text;not null"`
	Status    string          `gorm:"column:status;not null;default:pending"`

	Sale saleRecord `gorm:"foreignKey:SaleID"`
}

func (installmentRecord) TableName() string { return "installments" }

type paymentRecord struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	SaleID       int64           `gorm:"column:sale_id;not null;index"`
	PaidAt       time.Time       `gorm:"column:paid_at;not null"`
	AmountUSD    decimal.Decimal `gorm:"column:amount_usd;type:text;not null"`
	ExchangeRate decimal.Decimal `gorm:"column:exchange_rate;type:text;not null"`
	AmountLocal  decimal.Decimal `gorm:"column:amount_local;type:text;not null"`
	Note         string          `gorm:"column:note;not null;default:''"`
	Method       string          `gorm:"column:method;not null;default:cash"`

	Sale saleRecord `gorm:"foreignKey:SaleID"`
}

func (paymentRecord) TableName() string { return "payments" }

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(path string, log *zap.Logger, logLevel gormlogger.LogLevel) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path + "?_foreign_keys=1&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=1"
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:         logger.NewGormLogger(log, logLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(&itemRecord{}, &customerRecord{}, &saleRecord{}, &installmentRecord{}, &paymentRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %s references a missing row", store.ErrNotFound, op)
	default:
		return store.Failure(op, err)
	}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, store.Failure("begin", tx.Error)
	}
	return &gormTx{db: tx}, nil
}

type gormTx struct {
	db   *gorm.DB
	done bool
}

// ItemStock needs no explicit lock: the single connection is held by this
// transaction until it ends.
func (t *gormTx) ItemStock(_ context.Context, itemID int64) (int, error) {
	var rec itemRecord
	if err := t.db.Select("id", "stock").Take(&rec, itemID).Error; err != nil {
		return 0, mapError("item stock", err)
	}
	return rec.Stock, nil
}

func (t *gormTx) SetItemStock(_ context.Context, itemID int64, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res := t.db.Model(&itemRecord{}).Where("id = ?", itemID).Update("stock", qty)
	if res.Error != nil {
		return mapError("set item stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gormTx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	rec := saleToRecord(sale)
	if err := t.db.Omit("Customer", "Item").Create(&rec).Error; err != nil {
		return 0, mapError("insert sale", err)
	}
	return rec.ID, nil
}

func (t *gormTx) InsertInstallment(_ context.Context, installment domain.Installment) (int64, error) {
	status := installment.Status
	if status == "" {
		status = domain.InstallmentPending
	}
	rec := installmentRecord{
		SaleID:    installment.SaleID,
		Sequence:  installment.Sequence,
		DueDate:   installment.DueDate.Format(domain.DateLayout),
		AmountUSD: installment.AmountUSD,
		Status:    string(status),
	}
	if err := t.db.Omit("Sale").Create(&rec).Error; err != nil {
		return 0, mapError("insert installment", err)
	}
	return rec.ID, nil
}

func (t *gormTx) SaleForUpdate(_ context.Context, saleID int64) (*domain.Sale, error) {
	var rec saleRecord
	if err := t.db.Take(&rec, saleID).Error; err != nil {
		return nil, mapError("sale for update", err)
	}
	sale := recordToSale(rec)
	return &sale, nil
}

func (t *gormTx) InsertPayment(_ context.Context, payment domain.Payment) (int64, error) {
	method := payment.Method
	if method == "" {
		method = domain.PaymentMethodCash
	}
	rec := paymentRecord{
		SaleID:       payment.SaleID,
		PaidAt:       payment.PaidAt.UTC(),
		AmountUSD:    payment.AmountUSD,
		ExchangeRate: payment.ExchangeRate,
		AmountLocal:  payment.AmountLocal,
		Note:         payment.Note,
		Method:       method,
	}
	if err := t.db.Omit("Sale").Create(&rec).Error; err != nil {
		return 0, mapError("insert payment", err)
	}
	return rec.ID, nil
}

func (t *gormTx) UpdateSaleBalance(_ context.Context, saleID int64, balance decimal.Decimal, state domain.SaleState) error {
	res := t.db.Model(&saleRecord{}).Where("id = ?", saleID).Updates(map[string]any{
		"balance_usd": balance,
		"state":       string(state),
	})
	if res.Error != nil {
		return mapError("update sale balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *gormTx) MarkInstallmentsPaid(_ context.Context, saleID int64) error {
	err := t.db.Model(&installmentRecord{}).
		Where("sale_id = ? AND status = ?", saleID, string(domain.InstallmentPending)).
		Update("status", string(domain.InstallmentPaid)).Error
	return mapError("mark installments paid", err)
}

func (t *gormTx) Commit() error {
	if t.done {
		return store.Failure("commit", errors.New("transaction already finished"))
	}
	t.done = true
	return mapError("commit", t.db.Commit().Error)
}

func (t *gormTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return mapError("rollback", t.db.Rollback().Error)
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	rec := itemToRecord(item)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, mapError("create item", err)
	}
	out := recordToItem(rec)
	return &out, nil
}

// UpdateItem changes descriptive fields only; stock moves through transactions.
func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	res := s.db.WithContext(ctx).Model(&itemRecord{}).Where("id = ?", item.ID).Updates(map[string]any{
		"name":       item.Name,
		"cost_usd":   item.CostUSD,
		"image_path": item.ImagePath,
	})
	if res.Error != nil {
		return nil, mapError("update item", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetItem(ctx, item.ID)
}

func (s *Store) DeleteItem(ctx context.Context, itemID int64) error {
	res := s.db.WithContext(ctx).Delete(&itemRecord{}, itemID)
	if res.Error != nil {
		return mapError("delete item", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error) {
	var rec itemRecord
	if err := s.db.WithContext(ctx).Take(&rec, itemID).Error; err != nil {
		return nil, mapError("get item", err)
	}
	item := recordToItem(rec)
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	var recs []itemRecord
	if err := s.db.WithContext(ctx).Order("name, id").Find(&recs).Error; err != nil {
		return nil, mapError("list items", err)
	}
	return recordsToItems(recs), nil
}

func (s *Store) ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	var recs []itemRecord
	err := s.db.WithContext(ctx).Where("stock <= ?", threshold).Order("stock, id").Find(&recs).Error
	if err != nil {
		return nil, mapError("list low stock items", err)
	}
	return recordsToItems(recs), nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	rec := customerRecord{Name: customer.Name, ExternalID: customer.ExternalID, Phone: customer.Phone}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, mapError("create customer", err)
	}
	customer.ID = rec.ID
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	var rec customerRecord
	if err := s.db.WithContext(ctx).Take(&rec, customerID).Error; err != nil {
		return nil, mapError("get customer", err)
	}
	customer := recordToCustomer(rec)
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var recs []customerRecord
	if err := s.db.WithContext(ctx).Order("name, id").Find(&recs).Error; err != nil {
		return nil, mapError("list customers", err)
	}
	customers := make([]domain.Customer, 0, len(recs))
	for _, rec := range recs {
		customers = append(customers, recordToCustomer(rec))
	}
	return customers, nil
}

func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	var rec saleRecord
	if err := s.db.WithContext(ctx).Take(&rec, saleID).Error; err != nil {
		return nil, mapError("get sale", err)
	}
	sale := recordToSale(rec)
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleSummary, error) {
	q := s.db.WithContext(ctx).Joins("Customer").Joins("Item")
	if filter.CustomerID > 0 {
		q = q.Where("sales.customer_id = ?", filter.CustomerID)
	}
	if filter.ItemID > 0 {
		q = q.Where("sales.item_id = ?", filter.ItemID)
	}

	var recs []saleRecord
	if err := q.Order("sales.created_at DESC, sales.id DESC").Find(&recs).Error; err != nil {
		return nil, mapError("list sales", err)
	}

	summaries := make([]domain.SaleSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, domain.SaleSummary{
			Sale:         recordToSale(rec),
			CustomerName: rec.Customer.Name,
			ItemName:     rec.Item.Name,
		})
	}
	return summaries, nil
}

func (s *Store) CountSalesByItem(ctx context.Context, itemID int64) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&saleRecord{}).Where("item_id = ?", itemID).Count(&count).Error; err != nil {
		return 0, mapError("count sales by item", err)
	}
	return int(count), nil
}

func (s *Store) ListInstallments(ctx context.Context, saleID int64) ([]domain.Installment, error) {
	var recs []installmentRecord
	if err := s.db.WithContext(ctx).Where("sale_id = ?", saleID).Order("sequence").Find(&recs).Error; err != nil {
		return nil, mapError("list installments", err)
	}
	installments := make([]domain.Installment, 0, len(recs))
	for _, rec := range recs {
		installment, err := recordToInstallment(rec)
		if err != nil {
			return nil, store.Failure("list installments", err)
		}
		installments = append(installments, installment)
	}
	return installments, nil
}

func (s *Store) ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error) {
	var recs []paymentRecord
	err := s.db.WithContext(ctx).Where("sale_id = ?", saleID).Order("paid_at DESC, id DESC").Find(&recs).Error
	if err != nil {
		return nil, mapError("list payments", err)
	}
	payments := make([]domain.Payment, 0, len(recs))
	for _, rec := range recs {
		payments = append(payments, domain.Payment{
			ID:           rec.ID,
			SaleID:       rec.SaleID,
			PaidAt:       rec.PaidAt.Local(),
			AmountUSD:    rec.AmountUSD,
			ExchangeRate: rec.ExchangeRate,
			AmountLocal:  rec.AmountLocal,
			Note:         rec.Note,
			Method:       rec.Method,
		})
	}
	return payments, nil
}

// Money columns are text, so numeric comparisons cast explicitly.
const positiveBalance = "CAST(s.balance_usd AS REAL) > 0"

func (s *Store) CountUrgentCredits(ctx context.Context, dates []time.Time) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	days := make([]string, 0, len(dates))
	for _, d := range dates {
		days = append(days, d.Format(domain.DateLayout))
	}

	var count int64
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(DISTINCT s.id)
		FROM sales s
		JOIN installments q ON q.sale_id = s.id
		WHERE `+positiveBalance+` AND q.status = ? AND q.due_date IN ?`,
		string(domain.InstallmentPending), days).Scan(&count).Error
	if err != nil {
		return 0, mapError("count urgent credits", err)
	}
	return int(count), nil
}

type openCreditRow struct {
	SaleID       int64           `gorm:"column:sale_id"`
	CustomerName string          `gorm:"column:customer_name"`
	ItemName     string          `gorm:"column:item_name"`
	BalanceUSD   decimal.Decimal `gorm:"column:balance_usd"`
	Sequence     int             `gorm:"column:sequence"`
	DueDate      string          `gorm:"column:due_date"`
	AmountUSD    decimal.Decimal `gorm:"column:amount_usd"`
}

func (s *Store) ListOpenCredits(ctx context.Context) ([]domain.OpenCredit, error) {
	var rows []openCreditRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT s.id AS sale_id, c.name AS customer_name, i.name AS item_name, s.balance_usd,
		       q.sequence, q.due_date, q.amount_usd
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		JOIN inventory i ON i.id = s.item_id
		JOIN installments q ON q.id = (
			SELECT q2.id FROM installments q2
			WHERE q2.sale_id = s.id AND q2.status = ?
			ORDER BY q2.due_date, q2.sequence
			LIMIT 1
		)
		WHERE `+positiveBalance+`
		ORDER BY q.due_date, s.id`, string(domain.InstallmentPending)).Scan(&rows).Error
	if err != nil {
		return nil, mapError("list open credits", err)
	}

	credits := make([]domain.OpenCredit, 0, len(rows))
	for _, row := range rows {
		due, err := domain.ParseDate(row.DueDate, time.Local)
		if err != nil {
			return nil, store.Failure("list open credits", err)
		}
		credits = append(credits, domain.OpenCredit{
			SaleID:       row.SaleID,
			CustomerName: row.CustomerName,
			ItemName:     row.ItemName,
			BalanceUSD:   row.BalanceUSD,
			Sequence:     row.Sequence,
			DueDate:      due,
			AmountUSD:    row.AmountUSD,
		})
	}
	return credits, nil
}

func (s *Store) ListDueInstallments(ctx context.Context, from time.Time, to time.Time) ([]domain.InstallmentAlert, error) {
	var rows []openCreditRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT s.id AS sale_id, c.name AS customer_name, i.name AS item_name, s.balance_usd,
		       q.sequence, q.due_date, q.amount_usd
		FROM installments q
		JOIN sales s ON s.id = q.sale_id
		JOIN customers c ON c.id = s.customer_id
		JOIN inventory i ON i.id = s.item_id
		WHERE q.status = ? AND `+positiveBalance+` AND q.due_date BETWEEN ? AND ?
		ORDER BY q.due_date, s.id, q.sequence`,
		string(domain.InstallmentPending), from.Format(domain.DateLayout), to.Format(domain.DateLayout)).Scan(&rows).Error
	if err != nil {
		return nil, mapError("list due installments", err)
	}

	alerts := make([]domain.InstallmentAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, domain.InstallmentAlert{
			SaleID:            row.SaleID,
			CustomerName:      row.CustomerName,
			ItemName:          row.ItemName,
			InstallmentNumber: row.Sequence,
			AmountUSD:         row.AmountUSD,
			DueDate:           row.DueDate,
			BalanceUSD:        row.BalanceUSD,
		})
	}
	return alerts, nil
}

func itemToRecord(item domain.InventoryItem) itemRecord {
	return itemRecord{
		ID:        item.ID,
		Name:      item.Name,
		CostUSD:   item.CostUSD,
		Stock:     item.Stock,
		ImagePath: item.ImagePath,
	}
}

func recordToItem(rec itemRecord) domain.InventoryItem {
	return domain.InventoryItem{
		ID:        rec.ID,
		Name:      rec.Name,
		CostUSD:   rec.CostUSD,
		Stock:     rec.Stock,
		ImagePath: rec.ImagePath,
	}
}

func recordsToItems(recs []itemRecord) []domain.InventoryItem {
	items := make([]domain.InventoryItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, recordToItem(rec))
	}
	return items
}

func recordToCustomer(rec customerRecord) domain.Customer {
	return domain.Customer{ID: rec.ID, Name: rec.Name, ExternalID: rec.ExternalID, Phone: rec.Phone}
}

func saleToRecord(sale domain.Sale) saleRecord {
	return saleRecord{
		ID:                   sale.ID,
		CustomerID:           sale.CustomerID,
		ItemID:               sale.ItemID,
		CreatedAt:            sale.CreatedAt.UTC(),
		Kind:                 string(sale.Kind),
		FinalPriceUSD:        sale.FinalPriceUSD,
		DownPaymentUSD:       sale.DownPaymentUSD,
		BalanceUSD:           sale.BalanceUSD,
		InstallmentCount:     sale.InstallmentCount,
		InstallmentAmountUSD: sale.InstallmentAmountUSD,
		ExchangeRate:         sale.ExchangeRate,
		State:                string(sale.State),
	}
}

func recordToSale(rec saleRecord) domain.Sale {
	return domain.Sale{
		ID:                   rec.ID,
		CustomerID:           rec.CustomerID,
		ItemID:               rec.ItemID,
		CreatedAt:            rec.CreatedAt.Local(),
		Kind:                 domain.SaleKind(rec.Kind),
		FinalPriceUSD:        rec.FinalPriceUSD,
		DownPaymentUSD:       rec.DownPaymentUSD,
		BalanceUSD:           rec.BalanceUSD,
		InstallmentCount:     rec.InstallmentCount,
		InstallmentAmountUSD: rec.InstallmentAmountUSD,
		ExchangeRate:         rec.ExchangeRate,
		State:                domain.SaleState(rec.State),
	}
}

func recordToInstallment(rec installmentRecord) (domain.Installment, error) {
	due, err := domain.ParseDate(rec.DueDate, time.Local)
	if err != nil {
		return domain.Installment{}, err
	}
	return domain.Installment{
		ID:        rec.ID,
		SaleID:    rec.SaleID,
		Sequence:  rec.Sequence,
		DueDate:   due,
		AmountUSD: rec.AmountUSD,
		Status:    domain.InstallmentStatus(rec.Status),
	}, nil
}
