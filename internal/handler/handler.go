// Package handler содержит HTTP-обработчики API SMM-панели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/catalog"
	"github.com/mmeshcher/smmpanel/internal/ledger"
	"github.com/mmeshcher/smmpanel/internal/middleware"
	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/order"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/reconcile"
	"github.com/mmeshcher/smmpanel/internal/repository"
	"github.com/mmeshcher/smmpanel/internal/service"
	"github.com/mmeshcher/smmpanel/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, name, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	VerifyEmail(ctx context.Context, token string) (int64, error)
	ResendVerification(ctx context.Context, userID int64) error

	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, userID int64) ([]model.Transaction, error)
	RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Transaction, error)
	ApplyPayment(ctx context.Context, userID int64, p model.Payment) (*model.Transaction, error)
	GetPendingDeposits(ctx context.Context) ([]model.Transaction, error)
	ApproveDeposit(ctx context.Context, txID int64) (*model.Transaction, error)
	RejectDeposit(ctx context.Context, txID int64) (*model.Transaction, error)

	PlaceOrder(ctx context.Context, req order.Request) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	RefreshOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)

	ListServices(ctx context.Context) ([]model.Service, error)
	SyncCatalog(ctx context.Context) (catalog.SyncResult, error)
	SetServiceActive(ctx context.Context, serviceID int64, active bool) error
	Providers() []model.ProviderInfo
	ProviderBalances(ctx context.Context, name string) []model.ProviderBalance
}

// Handler реализует HTTP-обработчики API SMM-панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
	corsOrigins    []string
}

// Option настраивает Handler.
type Option func(*Handler)

// WithWebhookSecret задаёт ключ проверки подписи платёжных уведомлений.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) { h.webhookSecret = secret }
}

// WithCORSOrigins задаёт разрешённые источники для CORS.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) { h.corsOrigins = origins }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// statusFor сопоставляет доменную ошибку HTTP-статусу и сообщению для клиента.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrInvalidOrderRequest):
		return http.StatusBadRequest, "Invalid order request"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "Amount must be positive"
	case errors.Is(err, ledger.ErrInvalidTransaction), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid input"
	case errors.Is(err, repository.ErrVerificationInvalid):
		return http.StatusBadRequest, "The verification link is invalid or has expired"
	case errors.Is(err, order.ErrServiceNotFound):
		return http.StatusNotFound, "Service not found"
	case errors.Is(err, reconcile.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, http.StatusText(http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "Insufficient balance"
	case errors.Is(err, order.ErrUpstreamPlacementFailed), errors.Is(err, provider.ErrNoProviderAvailable):
		return http.StatusBadGateway, "Failed to create order with any provider"
	case errors.Is(err, order.ErrPersistenceFailure):
		return http.StatusInternalServerError, "Failed to save order"
	case errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict, "User already exists"
	case errors.Is(err, ledger.ErrDuplicatePayment):
		return http.StatusConflict, "Payment already processed"
	case errors.Is(err, ledger.ErrTransactionNotPending):
		return http.StatusConflict, "Transaction is not pending"
	case errors.Is(err, service.ErrAlreadyVerified):
		return http.StatusConflict, "Email already verified"
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
	}
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validation.Struct(v)
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
