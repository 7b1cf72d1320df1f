package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleKind string

type SaleState string

type InstallmentStatus string

type CreditLabel string

const (
	SaleKindCash     SaleKind = "cash"
	SaleKindFinanced SaleKind = "financed"
)

const (
	SaleStateActive SaleState = "active"
	SaleStatePaid   SaleState = "paid"
)

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

const (
	CreditOverdue CreditLabel = "overdue"
	CreditDueSoon CreditLabel = "due_soon"
	CreditCurrent CreditLabel = "current"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
	PaymentMethodMobile   = "mobile"
	PaymentMethodCard     = "card"
)

type InventoryItem struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
	Stock     int             `json:"stock"`
	ImagePath string          `json:"image_path,omitempty"`
}

type Customer struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	Phone      string `json:"phone,omitempty"`
}

type Sale struct {
	ID                   int64           `json:"id"`
	CustomerID           int64           `json:"customer_id"`
	ItemID               int64           `json:"item_id"`
	CreatedAt            time.Time       `json:"created_at"`
	Kind                 SaleKind        `json:"kind"`
	FinalPriceUSD        decimal.Decimal `json:"final_price_usd"`
	DownPaymentUSD       decimal.Decimal `json:"down_payment_usd"`
	BalanceUSD           decimal.Decimal `json:"balance_usd"`
	InstallmentCount     int             `json:"installment_count"`
	InstallmentAmountUSD decimal.Decimal `json:"installment_amount_usd"`
	ExchangeRate         decimal.Decimal `json:"exchange_rate"`
	State                SaleState       `json:"state"`
}

type Installment struct {
	ID        int64             `json:"id"`
	SaleID    int64             `json:"sale_id"`
	Sequence  int               `json:"sequence"`
	DueDate   time.Time         `json:"due_date"`
	AmountUSD decimal.Decimal   `json:"amount_usd"`
	Status    InstallmentStatus `json:"status"`
}

type Payment struct {
	ID           int64           `json:"id"`
	SaleID       int64           `json:"sale_id"`
	PaidAt       time.Time       `json:"paid_at"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	AmountLocal  decimal.Decimal `json:"amount_local"`
	Note         string          `json:"note,omitempty"`
	Method       string          `json:"method"`
}

// SaleTerms is the result of the sale term arithmetic. Local amounts are the
// USD amounts converted with the exchange rate and are for display only.
type SaleTerms struct {
	FinalPriceUSD          decimal.Decimal `json:"final_price_usd"`
	DownPaymentUSD         decimal.Decimal `json:"down_payment_usd"`
	BalanceUSD             decimal.Decimal `json:"balance_usd"`
	InstallmentCount       int             `json:"installment_count"`
	InstallmentAmountUSD   decimal.Decimal `json:"installment_amount_usd"`
	State                  SaleState       `json:"state"`
	Cash                   bool            `json:"cash"`
	FinalPriceLocal        decimal.Decimal `json:"final_price_local"`
	InstallmentAmountLocal decimal.Decimal `json:"installment_amount_local"`
}

func (t SaleTerms) Kind() SaleKind {
	if t.Cash {
		return SaleKindCash
	}
	return SaleKindFinanced
}

type SaleFilter struct {
	CustomerID int64
	ItemID     int64
}

// SaleSummary is one row of the sales history listing.
type SaleSummary struct {
	Sale
	CustomerName string `json:"customer_name"`
	ItemName     string `json:"item_name"`
}

type SaleDetail struct {
	Sale         Sale          `json:"sale"`
	Customer     Customer      `json:"customer"`
	Item         InventoryItem `json:"item"`
	Installments []Installment `json:"installments"`
	Payments     []Payment     `json:"payments"`
}

// OpenCredit is a sale with an outstanding balance paired with its
// earliest-due pending installment.
type OpenCredit struct {
	SaleID       int64
	CustomerName string
	ItemName     string
	BalanceUSD   decimal.Decimal
	Sequence     int
	DueDate      time.Time
	AmountUSD    decimal.Decimal
}

type CreditStatus struct {
	SaleID            int64           `json:"sale_id"`
	CustomerName      string          `json:"customer_name"`
	ItemName          string          `json:"item_name"`
	Label             CreditLabel     `json:"label"`
	BalanceUSD        decimal.Decimal `json:"balance_usd"`
	NextDueDate       string          `json:"next_due_date"`
	NextAmountUSD     decimal.Decimal `json:"next_amount_usd"`
	InstallmentNumber int             `json:"installment_number"`
	DaysLate          int             `json:"days_late"`
	Message           string          `json:"message"`
	OverdueNotice     string          `json:"overdue_notice,omitempty"`
}

type InstallmentAlert struct {
	SaleID            int64           `json:"sale_id"`
	CustomerName      string          `json:"customer_name"`
	ItemName          string          `json:"item_name"`
	InstallmentNumber int             `json:"installment_number"`
	AmountUSD         decimal.Decimal `json:"amount_usd"`
	DueDate           string          `json:"due_date"`
	BalanceUSD        decimal.Decimal `json:"balance_usd"`
	Message           string          `json:"message"`
}

type ItemCreateRequest struct {
	Name      string          `json:"name" validate:"required,max=120"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
	Stock     int             `json:"stock" validate:"gte=0"`
	ImagePath string          `json:"image_path" validate:"max=512"`
}

type ItemUpdateRequest struct {
	Name      *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	CostUSD   *decimal.Decimal `json:"cost_usd,omitempty"`
	ImagePath *string          `json:"image_path,omitempty" validate:"omitempty,max=512"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type CustomerCreateRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	ExternalID string `json:"external_id" validate:"required,max=40"`
	Phone      string `json:"phone" validate:"max=40"`
}

// SaleRequest carries the inputs of a sale. FinalPriceUSD defaults to the
// item's cost plus the configured margin and ExchangeRate to the configured
// rate when they are not supplied.
type SaleRequest struct {
	CustomerID       int64               `json:"customer_id" validate:"required,gt=0"`
	ItemID           int64               `json:"item_id" validate:"required,gt=0"`
	FinalPriceUSD    decimal.NullDecimal `json:"final_price_usd"`
	DownPaymentUSD   decimal.Decimal     `json:"down_payment_usd"`
	InstallmentCount int                 `json:"installment_count" validate:"gte=0,lte=104"`
	ExchangeRate     decimal.NullDecimal `json:"exchange_rate"`
}

type SaleResponse struct {
	SaleID int64      `json:"sale_id"`
	Detail SaleDetail `json:"detail"`
}

type PaymentRequest struct {
	AmountUSD    decimal.Decimal     `json:"amount_usd"`
	ExchangeRate decimal.NullDecimal `json:"exchange_rate"`
	Method       string              `json:"method" validate:"omitempty,oneof=cash transfer mobile card"`
	Note         string              `json:"note" validate:"max=280"`
}

type PriceQuote struct {
	ItemID        int64           `json:"item_id"`
	CostUSD       decimal.Decimal `json:"cost_usd"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	PriceLocal    decimal.Decimal `json:"price_local"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
}

type RatesUpdateRequest struct {
	ExchangeRate  decimal.NullDecimal `json:"exchange_rate"`
	MarginPercent decimal.NullDecimal `json:"margin_percent"`
}

type RatesResponse struct {
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
}
