package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/middleware"
	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=200"`
	Name     string `json:"name" validate:"max=150"`
	Password string `json:"password" validate:"required,min=6"`
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Balance         string `json:"balance"`
	IsEmailVerified bool   `json:"is_email_verified"`
	IsAdmin         bool   `json:"is_admin"`
	CreatedAt       string `json:"created_at"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.writeError(w, "register user", err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, userID, false); err != nil {
		h.writeError(w, "issue token", err, zap.Int64("userID", userID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": userID})
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, u.ID, u.IsAdmin); err != nil {
		h.writeError(w, "issue token", err, zap.Int64("userID", u.ID))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// VerifyEmail погашает токен из письма.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "Missing verification token", http.StatusBadRequest)
		return
	}

	if _, err := h.service.VerifyEmail(r.Context(), token); err != nil {
		h.writeError(w, "verify email", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ResendVerification повторно отправляет письмо с подтверждением.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.ResendVerification(r.Context(), userID); err != nil {
		h.writeError(w, "resend verification", err, zap.Int64("userID", userID))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Me возвращает профиль текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get user", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Balance:         money(u.Balance),
		IsEmailVerified: u.IsEmailVerified,
		IsAdmin:         u.IsAdmin,
		CreatedAt:       formatTime(u.CreatedAt),
	})
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get balance", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: money(balance)})
}

type transactionResponse struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentID     string `json:"payment_id,omitempty"`
	Description   string `json:"description"`
	OrderID       *int64 `json:"order_id,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

func toTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		UserID:        t.UserID,
		Type:          string(t.Type),
		Amount:        money(t.Amount),
		Status:        string(t.Status),
		PaymentMethod: t.PaymentMethod,
		PaymentID:     t.PaymentID,
		Description:   t.Description,
		OrderID:       t.OrderID,
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

func writeTransactions(w http.ResponseWriter, txs []model.Transaction) {
	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransactions возвращает журнал операций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.GetTransactions(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get transactions", err, zap.Int64("userID", userID))
		return
	}
	writeTransactions(w, txs)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"max=50"`
}

// RequestDeposit создаёт заявку на ручное пополнение.
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RequestDeposit(r.Context(), userID, req.Amount, req.Method)
	if err != nil {
		h.writeError(w, "request deposit", err, zap.Int64("userID", userID))
		return
	}
	writeJSON(w, http.StatusAccepted, toTransactionResponse(*t))
}

type paymentWebhookRequest struct {
	UserID    int64           `json:"user_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,max=50"`
	PaymentID string          `json:"payment_id" validate:"required,max=255"`
}

// PaymentWebhook принимает подписанное уведомление о завершённом платеже.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.ApplyPayment(r.Context(), req.UserID, model.Payment{
		Amount:            req.Amount,
		Method:            req.Method,
		ExternalPaymentID: req.PaymentID,
	})
	if err != nil {
		h.writeError(w, "apply payment", err, zap.Int64("userID", req.UserID), zap.String("paymentID", req.PaymentID))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(*t))
}
