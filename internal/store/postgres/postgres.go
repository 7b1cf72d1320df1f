package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, store.Failure("begin", err)
	}
	return &pgTx{tx: sqlTx}, nil
}

type pgTx struct {
	tx   *sql.Tx
	done bool
}

func (t *pgTx) ItemStock(ctx context.Context, itemID int64) (int, error) {
	var stock int
	err := t.tx.QueryRowContext(ctx, `SELECT stock FROM inventory WHERE id = $1 FOR UPDATE`, itemID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, store.Failure("item stock", err)
	}
	return stock, nil
}

func (t *pgTx) SetItemStock(ctx context.Context, itemID int64, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE inventory SET stock = $2, updated_at = now() WHERE id = $1`, itemID, qty)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrInsufficientStock
		}
		return store.Failure("set item stock", err)
	}
	return requireAffected(res, "set item stock")
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (
			customer_id, item_id, created_at, kind, final_price_usd, down_payment_usd,
			balance_usd, installment_count, installment_amount_usd, exchange_rate, state
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, sale.CustomerID, sale.ItemID, sale.CreatedAt, string(sale.Kind), sale.FinalPriceUSD, sale.DownPaymentUSD,
		sale.BalanceUSD, sale.InstallmentCount, sale.InstallmentAmountUSD, sale.ExchangeRate, string(sale.State)).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, store.ErrNotFound
		}
		return 0, store.Failure("insert sale", err)
	}
	return id, nil
}

func (t *pgTx) InsertInstallment(ctx context.Context, installment domain.Installment) (int64, error) {
	status := installment.Status
	if status == "" {
		status = domain.InstallmentPending
	}

	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO installments (sale_id, sequence, due_date, amount_usd, status)
		VALUES ($1, $2, $3::date, $4, $5)
		RETURNING id
	`, installment.SaleID, installment.Sequence, installment.DueDate.Format(domain.DateLayout),
		installment.AmountUSD, string(status)).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, store.ErrNotFound
		}
		return 0, store.Failure("insert installment", err)
	}
	return id, nil
}

func (t *pgTx) SaleForUpdate(ctx context.Context, saleID int64) (*domain.Sale, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Failure("sale for update", err)
	}
	return &sale, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) (int64, error) {
	method := payment.Method
	if method == "" {
		method = domain.PaymentMethodCash
	}

	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO payments (sale_id, paid_at, amount_usd, exchange_rate, amount_local, note, method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, payment.SaleID, payment.PaidAt, payment.AmountUSD, payment.ExchangeRate, payment.AmountLocal,
		payment.Note, method).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, store.ErrNotFound
		}
		return 0, store.Failure("insert payment", err)
	}
	return id, nil
}

func (t *pgTx) UpdateSaleBalance(ctx context.Context, saleID int64, balance decimal.Decimal, state domain.SaleState) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sales SET balance_usd = $2, state = $3 WHERE id = $1`,
		saleID, balance, string(state))
	if err != nil {
		return store.Failure("update sale balance", err)
	}
	return requireAffected(res, "update sale balance")
}

func (t *pgTx) MarkInstallmentsPaid(ctx context.Context, saleID int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE installments SET status = 'paid' WHERE sale_id = $1 AND status = 'pending'`, saleID)
	return store.Failure("mark installments paid", err)
}

func (t *pgTx) Commit() error {
	if t.done {
		return store.Failure("commit", sql.ErrTxDone)
	}
	t.done = true
	return store.Failure("commit", t.tx.Commit())
}

func (t *pgTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return store.Failure("rollback", err)
	}
	return nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory (name, cost_usd, stock, image_path, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		RETURNING id
	`, item.Name, item.CostUSD, item.Stock, item.ImagePath).Scan(&item.ID)
	if err != nil {
		return nil, store.Failure("create item", err)
	}
	return &item, nil
}

// UpdateItem changes descriptive fields only; stock moves through transactions.
func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory
		SET name = $2, cost_usd = $3, image_path = $4, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, item.ID, item.Name, item.CostUSD, item.ImagePath).Scan(&item.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Failure("update item", err)
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory WHERE id = $1`, itemID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: item %d is referenced by sales", store.ErrRuleViolation, itemID)
		}
		return store.Failure("delete item", err)
	}
	return requireAffected(res, "delete item")
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost_usd, stock, image_path
		FROM inventory
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.Name, &item.CostUSD, &item.Stock, &item.ImagePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Failure("get item", err)
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.queryItems(ctx, "list items", `
		SELECT id, name, cost_usd, stock, image_path
		FROM inventory
		ORDER BY name, id
	`)
}

func (s *Store) ListLowStockItems(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	return s.queryItems(ctx, "list low stock items", `
		SELECT id, name, cost_usd, stock, image_path
		FROM inventory
		WHERE stock <= $1
		ORDER BY stock, id
	`, threshold)
}

func (s *Store) queryItems(ctx context.Context, op string, query string, args ...any) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Failure(op, err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 32)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.CostUSD, &item.Stock, &item.ImagePath); err != nil {
			return nil, store.Failure(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure(op, err)
	}
	return items, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, external_id, phone, created_at)
		VALUES ($1,$2,$3,now())
		RETURNING id
	`, customer.Name, customer.ExternalID, customer.Phone).Scan(&customer.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, store.Failure("create customer", err)
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID int64) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, external_id, phone
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.Name, &customer.ExternalID, &customer.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Failure("get customer", err)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, external_id, phone
		FROM customers
		ORDER BY name, id
	`)
	if err != nil {
		return nil, store.Failure("list customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.ExternalID, &c.Phone); err != nil {
			return nil, store.Failure("list customers", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list customers", err)
	}
	return customers, nil
}

const saleColumns = `id, customer_id, item_id, created_at, kind, final_price_usd, down_payment_usd,
	balance_usd, installment_count, installment_amount_usd, exchange_rate, state`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner, extra ...any) (domain.Sale, error) {
	var sale domain.Sale
	var kind, state string
	dest := []any{
		&sale.ID, &sale.CustomerID, &sale.ItemID, &sale.CreatedAt, &kind, &sale.FinalPriceUSD, &sale.DownPaymentUSD,
		&sale.BalanceUSD, &sale.InstallmentCount, &sale.InstallmentAmountUSD, &sale.ExchangeRate, &state,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Sale{}, err
	}
	sale.Kind = domain.SaleKind(kind)
	sale.State = domain.SaleState(state)
	sale.CreatedAt = sale.CreatedAt.Local()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Failure("get sale", err)
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, s.item_id, s.created_at, s.kind, s.final_price_usd, s.down_payment_usd,
		       s.balance_usd, s.installment_count, s.installment_amount_usd, s.exchange_rate, s.state,
		       c.name, i.name
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		JOIN inventory i ON i.id = s.item_id
		WHERE ($1 = 0 OR s.customer_id = $1) AND ($2 = 0 OR s.item_id = $2)
		ORDER BY s.created_at DESC, s.id DESC
	`, filter.CustomerID, filter.ItemID)
	if err != nil {
		return nil, store.Failure("list sales", err)
	}
	defer rows.Close()

	summaries := make([]domain.SaleSummary, 0, 32)
	for rows.Next() {
		var summary domain.SaleSummary
		sale, err := scanSale(rows, &summary.CustomerName, &summary.ItemName)
		if err != nil {
			return nil, store.Failure("list sales", err)
		}
		summary.Sale = sale
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list sales", err)
	}
	return summaries, nil
}

func (s *Store) CountSalesByItem(ctx context.Context, itemID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE item_id = $1`, itemID).Scan(&count); err != nil {
		return 0, store.Failure("count sales by item", err)
	}
	return count, nil
}

func (s *Store) ListInstallments(ctx context.Context, saleID int64) ([]domain.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, sequence, due_date, amount_usd, status
		FROM installments
		WHERE sale_id = $1
		ORDER BY sequence
	`, saleID)
	if err != nil {
		return nil, store.Failure("list installments", err)
	}
	defer rows.Close()

	installments := make([]domain.Installment, 0, 16)
	for rows.Next() {
		var installment domain.Installment
		var status string
		if err := rows.Scan(&installment.ID, &installment.SaleID, &installment.Sequence, &installment.DueDate,
			&installment.AmountUSD, &status); err != nil {
			return nil, store.Failure("list installments", err)
		}
		installment.DueDate = domain.LocalDate(installment.DueDate)
		installment.Status = domain.InstallmentStatus(status)
		installments = append(installments, installment)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list installments", err)
	}
	return installments, nil
}

func (s *Store) ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, paid_at, amount_usd, exchange_rate, amount_local, note, method
		FROM payments
		WHERE sale_id = $1
		ORDER BY paid_at DESC, id DESC
	`, saleID)
	if err != nil {
		return nil, store.Failure("list payments", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 16)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.PaidAt, &p.AmountUSD, &p.ExchangeRate, &p.AmountLocal, &p.Note, &p.Method); err != nil {
			return nil, store.Failure("list payments", err)
		}
		p.PaidAt = p.PaidAt.Local()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list payments", err)
	}
	return payments, nil
}

func (s *Store) CountUrgentCredits(ctx context.Context, dates []time.Time) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	days := make([]string, 0, len(dates))
	for _, d := range dates {
		days = append(days, d.Format(domain.DateLayout))
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT s.id)
		FROM sales s
		JOIN installments q ON q.sale_id = s.id
		WHERE s.balance_usd > 0 AND q.status = 'pending' AND q.due_date = ANY($1::date[])
	`, days).Scan(&count)
	if err != nil {
		return 0, store.Failure("count urgent credits", err)
	}
	return count, nil
}

func (s *Store) ListOpenCredits(ctx context.Context) ([]domain.OpenCredit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, c.name, i.name, s.balance_usd, q.sequence, q.due_date, q.amount_usd
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		JOIN inventory i ON i.id = s.item_id
		JOIN installments q ON q.id = (
			SELECT q2.id FROM installments q2
			WHERE q2.sale_id = s.id AND q2.status = 'pending'
			ORDER BY q2.due_date, q2.sequence
			LIMIT 1
		)
		WHERE s.balance_usd > 0
		ORDER BY q.due_date, s.id
	`)
	if err != nil {
		return nil, store.Failure("list open credits", err)
	}
	defer rows.Close()

	credits := make([]domain.OpenCredit, 0, 32)
	for rows.Next() {
		var c domain.OpenCredit
		if err := rows.Scan(&c.SaleID, &c.CustomerName, &c.ItemName, &c.BalanceUSD, &c.Sequence, &c.DueDate, &c.AmountUSD); err != nil {
			return nil, store.Failure("list open credits", err)
		}
		c.DueDate = domain.LocalDate(c.DueDate)
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list open credits", err)
	}
	return credits, nil
}

func (s *Store) ListDueInstallments(ctx context.Context, from time.Time, to time.Time) ([]domain.InstallmentAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, c.name, i.name, q.sequence, q.amount_usd, q.due_date, s.balance_usd
		FROM installments q
		JOIN sales s ON s.id = q.sale_id
		JOIN customers c ON c.id = s.customer_id
		JOIN inventory i ON i.id = s.item_id
		WHERE q.status = 'pending' AND s.balance_usd > 0 AND q.due_date BETWEEN $1::date AND $2::date
		ORDER BY q.due_date, s.id, q.sequence
	`, from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	if err != nil {
		return nil, store.Failure("list due installments", err)
	}
	defer rows.Close()

	alerts := make([]domain.InstallmentAlert, 0, 32)
	for rows.Next() {
		var a domain.InstallmentAlert
		var due time.Time
		if err := rows.Scan(&a.SaleID, &a.CustomerName, &a.ItemName, &a.InstallmentNumber, &a.AmountUSD, &due, &a.BalanceUSD); err != nil {
			return nil, store.Failure("list due installments", err)
		}
		a.DueDate = due.Format(domain.DateLayout)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Failure("list due installments", err)
	}
	return alerts, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Failure(op, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == "23514"
}
