package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/logger"
	"smartcredit/backend/internal/service"
	"smartcredit/backend/internal/store"
)

// DefaultAlertDays is the look-ahead of /credits/upcoming without ?days=.
const DefaultAlertDays = 7

const requestIDHeader = "X-Request-ID"

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	validate      *validator.Validate
	log           *zap.Logger
	healthCheck   func(ctx context.Context) error
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		validate:      newValidator(),
		log:           log,
	}
}

// WithHealthCheck makes /healthz report 503 while check fails.
func (a *API) WithHealthCheck(check func(ctx context.Context) error) *API {
	a.healthCheck = check
	return a
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/items", a.requireAuth(a.handleListItems))
	mux.HandleFunc("POST /api/v1/items", a.requireAuth(a.handleCreateItem))
	mux.HandleFunc("GET /api/v1/items/low-stock", a.requireAuth(a.handleLowStock))
	mux.HandleFunc("GET /api/v1/items/{id}", a.requireAuth(a.handleGetItem))
	mux.HandleFunc("PUT /api/v1/items/{id}", a.requireAuth(a.handleUpdateItem))
	mux.HandleFunc("DELETE /api/v1/items/{id}", a.requireAuth(a.handleDeleteItem))
	mux.HandleFunc("POST /api/v1/items/{id}/stock", a.requireAuth(a.handleAdjustStock))
	mux.HandleFunc("GET /api/v1/items/{id}/quote", a.requireAuth(a.handleQuoteItem))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer))

	mux.HandleFunc("POST /api/v1/sales/quote", a.requireAuth(a.handleQuoteSale))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale))
	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale))
	mux.HandleFunc("GET /api/v1/sales/{id}/payments", a.requireAuth(a.handleListPayments))
	mux.HandleFunc("POST /api/v1/sales/{id}/payments", a.requireAuth(a.handleApplyPayment))

	mux.HandleFunc("GET /api/v1/credits", a.requireAuth(a.handleCredits))
	mux.HandleFunc("GET /api/v1/credits/urgent-count", a.requireAuth(a.handleUrgentCount))
	mux.HandleFunc("GET /api/v1/credits/upcoming", a.requireAuth(a.handleUpcomingAlerts))

	mux.HandleFunc("GET /api/v1/settings/rates", a.requireAuth(a.handleGetRates))
	mux.HandleFunc("PUT /api/v1/settings/rates", a.requireAuth(a.handleUpdateRates))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.healthCheck(ctx); err != nil {
			logger.FromContext(r.Context(), a.log).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		logger.FromContext(r.Context(), a.log).Warn("login rejected", zap.String("username", req.Username))
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if !a.decode(w, r, &req) {
		return
	}

	item, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := parsePositiveLimit(r.URL.Query().Get("threshold"), service.DefaultLowStockThreshold, 1000)
	items, err := a.service.ListLowStockItems(r.Context(), threshold)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "threshold": threshold})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	item, err := a.service.GetItem(r.Context(), itemID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var req domain.ItemUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}

	item, err := a.service.UpdateItem(r.Context(), itemID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	if err := a.service.DeleteItem(r.Context(), itemID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	itemID, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var req domain.StockAdjustRequest
	if !a.decode(w, r, &req) {
		return
	}

	item, err := a.service.AdjustStock(r.Context(), itemID, req.Delta)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleQuoteItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	quote, err := a.service.QuotePrice(r.Context(), itemID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if !a.decode(w, r, &req) {
		return
	}

	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	customer, err := a.service.GetCustomer(r.Context(), customerID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	sales, err := a.service.CustomerSales(r.Context(), customerID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer, "sales": sales})
}

func (a *API) handleQuoteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !a.decode(w, r, &req) {
		return
	}

	terms, err := a.service.PreviewTerms(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": terms})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !a.decode(w, r, &req) {
		return
	}

	saleID, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	detail, err := a.service.SaleDetail(r.Context(), saleID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SaleResponse{SaleID: saleID, Detail: detail})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	var filter domain.SaleFilter
	var err error
	if filter.CustomerID, err = queryID(r, "customer_id"); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if filter.ItemID, err = queryID(r, "item_id"); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	detail, err := a.service.SaleDetail(r.Context(), saleID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": detail})
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	saleID, ok := a.pathID(w, r)
	if !ok {
		return
	}

	payments, err := a.service.ListPayments(r.Context(), saleID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var req domain.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}

	payment, err := a.service.ApplyPayment(r.Context(), saleID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	detail, err := a.service.SaleDetail(r.Context(), saleID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment, "sale": detail})
}

func (a *API) handleCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := a.service.CreditStatuses(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": credits})
}

func (a *API) handleUrgentCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.UrgentCount(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (a *API) handleUpcomingAlerts(w http.ResponseWriter, r *http.Request) {
	days := DefaultAlertDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid days %q", raw))
			return
		}
		days = parsed
	}

	alerts, err := a.service.UpcomingAlerts(r.Context(), days)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "days": days})
}

func (a *API) handleGetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Rates(r.Context()))
}

func (a *API) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var req domain.RatesUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}

	rates, err := a.service.UpdateRates(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		reqLog := a.log.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLog))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(recorder, r)
		reqLog.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// decode reads a JSON body into dest and validates it. On failure the
// response has been written and false is returned.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		a.writeError(w, r, http.StatusUnprocessableEntity, errors.New(validationMessage(err)))
		return false
	}
	return true
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRuleViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusForError(err), err)
}

// writeError hides the cause of 5xx responses from clients and logs it instead.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		logger.FromContext(r.Context(), a.log).Error("request failed", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
