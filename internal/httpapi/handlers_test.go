package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcredit/backend/internal/config"
	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/service"
	"smartcredit/backend/internal/store"
	"smartcredit/backend/internal/store/memory"
)

// newTestAPI builds a full API over a seeded in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	rates := config.StaticRates(decimal.NewFromInt(40), decimal.NewFromInt(50))
	svc := service.New(memory.NewSeeded(), rates)
	return New(svc, newTestAuth(t), "*", nil)
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	return body
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	api.WithHealthCheck(func(context.Context) error { return errors.New("db down") })
	rec = doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddlewareSetsHeaders(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/items", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoginFailuresAndRateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "password: is required")

	for i := 0; i < 4; i++ {
		rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "admin",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "s3cret-pass",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{"/api/v1/items", "/api/v1/credits", "/api/v1/settings/rates"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestItemEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, map[string]any{
		"name":     "Moto G54",
		"cost_usd": "110.00",
		"stock":    2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Item domain.InventoryItem `json:"item"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	itemPath := fmt.Sprintf("/api/v1/items/%d", created.Item.ID)

	rec = doJSON(t, handler, http.MethodPut, itemPath, token, map[string]any{"name": "Moto G54 5G"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, itemPath+"/stock", token, map[string]any{"delta": -3})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(t, handler, http.MethodPost, itemPath+"/stock", token, map[string]any{"delta": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = doJSON(t, handler, http.MethodPost, itemPath+"/stock", token, map[string]any{"delta": 4})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, itemPath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched struct {
		Item domain.InventoryItem `json:"item"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fetched))
	assert.Equal(t, "Moto G54 5G", fetched.Item.Name)
	assert.Equal(t, 6, fetched.Item.Stock)

	rec = doJSON(t, handler, http.MethodGet, itemPath+"/quote", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quoted struct {
		Quote domain.PriceQuote `json:"quote"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quoted))
	assert.True(t, decimal.NewFromInt(165).Equal(quoted.Quote.PriceUSD))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/low-stock?threshold=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var low struct {
		Items []domain.InventoryItem `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&low))
	require.Len(t, low.Items, 1)
	assert.Equal(t, "iPhone 12 (refurbished)", low.Items[0].Name)

	rec = doJSON(t, handler, http.MethodDelete, itemPath, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, handler, http.MethodGet, itemPath, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaleAndPaymentFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	sale := map[string]any{
		"customer_id":       1,
		"item_id":           2,
		"final_price_usd":   "150",
		"installment_count": 3,
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales/quote", token, sale)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview struct {
		Terms domain.SaleTerms `json:"terms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&preview))
	assert.True(t, decimal.NewFromInt(50).Equal(preview.Terms.InstallmentAmountUSD))
	assert.True(t, decimal.NewFromInt(6000).Equal(preview.Terms.FinalPriceLocal))

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, sale)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Len(t, created.Detail.Installments, 3)
	assert.Equal(t, 3, created.Detail.Item.Stock)
	salePath := fmt.Sprintf("/api/v1/sales/%d", created.SaleID)

	rec = doJSON(t, handler, http.MethodPost, salePath+"/payments", token, map[string]any{"amount_usd": "200"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "exceeds outstanding balance")

	rec = doJSON(t, handler, http.MethodPost, salePath+"/payments", token, map[string]any{
		"amount_usd": "50",
		"method":     "transfer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, salePath+"/payments", token, map[string]any{
		"amount_usd": "10",
		"method":     "crypto",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, salePath+"/payments", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments struct {
		Payments []domain.Payment `json:"payments"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payments))
	require.Len(t, payments.Payments, 1)
	assert.Equal(t, "transfer", payments.Payments[0].Method)

	rec = doJSON(t, handler, http.MethodGet, salePath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Sale domain.SaleDetail `json:"sale"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	assert.True(t, decimal.NewFromInt(100).Equal(detail.Sale.Sale.BalanceUSD))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales?customer_id=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sales []domain.SaleSummary `json:"sales"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed.Sales, 1)
	assert.Equal(t, "Samsung Galaxy A15", listed.Sales[0].ItemName)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales?customer_id=x", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/999", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, string(body["customer"]), "Maria Perez")
}

func TestSaleRejectionsMapToStatusCodes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"customer_id": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "item_id: is required")

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"customer_id": 1, "item_id": 99})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customer_id":       1,
		"item_id":           1,
		"final_price_usd":   "100",
		"down_payment_usd":  "150",
		"installment_count": 2,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// seeded stock of item 4 is one unit
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"customer_id": 1, "item_id": 4})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"customer_id": 2, "item_id": 4})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{"customer_id": 1, "item_id": 1, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, map[string]any{
		"name":        "Luis Mora",
		"external_id": "V-18000111",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, map[string]any{
		"name":        "Someone Else",
		"external_id": "V-18000111",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Customers []domain.Customer `json:"customers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	assert.Len(t, listed.Customers, 3)
}

func TestCreditEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customer_id":       2,
		"item_id":           1,
		"installment_count": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credits", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Credits []domain.CreditStatus `json:"credits"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&board))
	require.Len(t, board.Credits, 1)
	assert.Equal(t, domain.CreditCurrent, board.Credits[0].Label)
	assert.True(t, strings.HasPrefix(board.Credits[0].Message, "Hello Jose Rodriguez"))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credits/urgent-count", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0}`, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credits/upcoming?days=14", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var upcoming struct {
		Alerts []domain.InstallmentAlert `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&upcoming))
	assert.Len(t, upcoming.Alerts, 1)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credits/upcoming?days=soon", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/credits/upcoming?days=-2", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRatesEndpoints(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/settings/rates", token, map[string]any{"exchange_rate": "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/api/v1/settings/rates", token, map[string]any{"exchange_rate": "42.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/settings/rates", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates domain.RatesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rates))
	assert.True(t, decimal.RequireFromString("42.5").Equal(rates.ExchangeRate))
	assert.True(t, decimal.NewFromInt(50).Equal(rates.MarginPercent))
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	huge := `{"name":"` + strings.Repeat("a", 2<<20) + `","external_id":"V-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(huge))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: nope", store.ErrRuleViolation), http.StatusUnprocessableEntity},
		{store.ErrInsufficientStock, http.StatusConflict},
		{store.ErrDuplicate, http.StatusConflict},
		{store.Failure("commit", errors.New("broken pipe")), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 5, parsePositiveLimit("", 5, 100))
	assert.Equal(t, 5, parsePositiveLimit("-3", 5, 100))
	assert.Equal(t, 20, parsePositiveLimit("20", 5, 100))
	assert.Equal(t, 100, parsePositiveLimit("5000", 5, 100))
}
