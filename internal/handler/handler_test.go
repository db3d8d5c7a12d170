package handler

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
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	user    *model.User
	userErr error

	verifyErr error
	resendErr error

	balance    decimal.Decimal
	balanceErr error

	txs    []model.Transaction
	txsErr error

	depositErr error
	paymentErr error
	payments   []model.Payment

	placedReq order.Request
	placeResp *model.Order
	placeErr  error

	ordersResp []model.Order
	ordersErr  error

	refreshResp *model.Order
	refreshErr  error

	services []model.Service

	syncResult catalog.SyncResult
	syncErr    error

	activeErr error

	resolveErr error
}

func (s *stubService) RegisterUser(ctx context.Context, email, name, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) VerifyEmail(ctx context.Context, token string) (int64, error) {
	return 1, s.verifyErr
}

func (s *stubService) ResendVerification(ctx context.Context, userID int64) error {
	return s.resendErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) GetTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.txs, s.txsErr
}

func (s *stubService) RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Transaction, error) {
	if s.depositErr != nil {
		return nil, s.depositErr
	}
	return &model.Transaction{ID: 1, UserID: userID, Type: model.TransactionTypeDeposit, Amount: amount, Status: model.TransactionStatusPending}, nil
}

func (s *stubService) ApplyPayment(ctx context.Context, userID int64, p model.Payment) (*model.Transaction, error) {
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	s.payments = append(s.payments, p)
	return &model.Transaction{ID: 2, UserID: userID, Type: model.TransactionTypeDeposit, Amount: p.Amount, Status: model.TransactionStatusCompleted}, nil
}

func (s *stubService) GetPendingDeposits(ctx context.Context) ([]model.Transaction, error) {
	return s.txs, s.txsErr
}

func (s *stubService) ApproveDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &model.Transaction{ID: txID, Status: model.TransactionStatusCompleted}, nil
}

func (s *stubService) RejectDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &model.Transaction{ID: txID, Status: model.TransactionStatusFailed}, nil
}

func (s *stubService) PlaceOrder(ctx context.Context, req order.Request) (*model.Order, error) {
	s.placedReq = req
	return s.placeResp, s.placeErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) RefreshOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	return s.refreshResp, s.refreshErr
}

func (s *stubService) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.services, nil
}

func (s *stubService) SyncCatalog(ctx context.Context) (catalog.SyncResult, error) {
	return s.syncResult, s.syncErr
}

func (s *stubService) SetServiceActive(ctx context.Context, serviceID int64, active bool) error {
	return s.activeErr
}

func (s *stubService) Providers() []model.ProviderInfo {
	return []model.ProviderInfo{{Name: "A", IsActive: true, HasKey: true}}
}

func (s *stubService) ProviderBalances(ctx context.Context, name string) []model.ProviderBalance {
	return []model.ProviderBalance{{Provider: "A", Balance: decimal.RequireFromString("12.5"), Currency: "USD"}}
}

func newTestHandler(t *testing.T, svc Service, opts ...Option) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, opts...)
}

func bearer(t *testing.T, h *Handler, req *http.Request, userID int64, admin bool) {
	t.Helper()
	token, err := h.authMiddleware.IssueToken(userID, admin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Email:    "user@example.com",
		Name:     "User",
		Password: "secret1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatal("auth cookie not set")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{Email: "user@example.com", Password: "secret1"})
	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestRegister_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, body := range []string{`{`, `{"email":"not-an-email","password":"secret1"}`, `{"email":"a@b.co","password":"123"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/user/register", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.Register(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestLogin_AdminCookieOpensAdminRoutes(t *testing.T) {
	svc := &stubService{
		authUser: &model.User{ID: 9, IsAdmin: true},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(credentialsRequest{Email: "admin@example.com", Password: "pass"})
	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body)))
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login status = %d", loginRec.Code)
	}
	cookies := loginRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("auth cookie not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/providers", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminRoutes_ForbiddenForUsers(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/catalog/sync", nil)
	bearer(t, h, req, 1, false)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/catalog/sync", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetBalance_FormatsCents(t *testing.T) {
	svc := &stubService{balance: decimal.RequireFromString("40")}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/balance", nil)
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req.WithContext(middleware.WithUser(req.Context(), 1, false)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp balanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != "40.00" {
		t.Fatalf("balance = %q, want 40.00", resp.Balance)
	}
}

func TestGetBalance_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/user/balance", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	rec := httptest.NewRecorder()

	if err := h.authMiddleware.SetAuthCookie(rec, 1, false); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	cookie := rec.Result().Cookies()[0]

	req.AddCookie(cookie)
	respRec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetOrders))
	handlerWithAuth.ServeHTTP(respRec, req)

	res := respRec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetOrders_IncludesProgress(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{
			{ID: 1, Quantity: 1000, Remains: 250, Charge: decimal.RequireFromString("10"), Status: "in progress"},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	rec := httptest.NewRecorder()

	h.GetOrders(rec, req.WithContext(middleware.WithUser(req.Context(), 1, false)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	var resp []orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Progress != 75 || resp[0].Charge != "10.00" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{
		placeResp: &model.Order{ID: 5, ServiceID: 3, Quantity: 1000, Remains: 1000, Charge: decimal.RequireFromString("10"), Status: model.OrderStatusPending},
	}
	h := newTestHandler(t, svc)

	body := `{"service_id":3,"link":"https://instagram.com/p/abc","quantity":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req.WithContext(middleware.WithUser(req.Context(), 7, false)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	want := order.Request{UserID: 7, ServiceID: 3, Link: "https://instagram.com/p/abc", Quantity: 1000}
	if svc.placedReq != want {
		t.Fatalf("request = %+v, want %+v", svc.placedReq, want)
	}
}

func TestCreateOrder_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: order.ErrInvalidOrderRequest, want: http.StatusBadRequest},
		{name: "service not found", err: order.ErrServiceNotFound, want: http.StatusNotFound},
		{name: "insufficient funds", err: fmt.Errorf("place: %w", ledger.ErrInsufficientFunds), want: http.StatusPaymentRequired},
		{name: "upstream", err: order.ErrUpstreamPlacementFailed, want: http.StatusBadGateway},
		{name: "persistence", err: order.ErrPersistenceFailure, want: http.StatusInternalServerError},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{placeErr: tt.err})

			body := `{"service_id":3,"link":"https://instagram.com/p/abc","quantity":1000}`
			req := httptest.NewRequest(http.MethodPost, "/api/user/orders", strings.NewReader(body))
			rec := httptest.NewRecorder()

			h.CreateOrder(rec, req.WithContext(middleware.WithUser(req.Context(), 7, false)))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: ledger.ErrInvalidAmount, want: http.StatusBadRequest},
		{err: repository.ErrVerificationInvalid, want: http.StatusBadRequest},
		{err: reconcile.ErrOrderNotFound, want: http.StatusNotFound},
		{err: repository.ErrNotFound, want: http.StatusNotFound},
		{err: provider.ErrNoProviderAvailable, want: http.StatusBadGateway},
		{err: ledger.ErrDuplicatePayment, want: http.StatusConflict},
		{err: ledger.ErrTransactionNotPending, want: http.StatusConflict},
		{err: service.ErrAlreadyVerified, want: http.StatusConflict},
	}

	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRefreshOrder_ForeignOrder(t *testing.T) {
	h := newTestHandler(t, &stubService{refreshErr: reconcile.ErrOrderNotFound})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders/15/refresh", nil)
	bearer(t, h, req, 1, false)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPaymentWebhook_Signature(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, WithWebhookSecret("hook-secret"))
	router := h.SetupRouter()

	body := []byte(`{"user_id":3,"amount":"25.00","method":"paypal","payment_id":"PAY-1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if len(svc.payments) != 0 {
		t.Fatal("payment applied with bad signature")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set(middleware.SignatureHeader, middleware.SignPayload(body, "hook-secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.payments) != 1 || svc.payments[0].ExternalPaymentID != "PAY-1" || !svc.payments[0].Amount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("payments = %+v", svc.payments)
	}
}

func TestPaymentWebhook_Duplicate(t *testing.T) {
	h := newTestHandler(t, &stubService{paymentErr: ledger.ErrDuplicatePayment})

	body := `{"user_id":3,"amount":"25.00","method":"paypal","payment_id":"PAY-1"}`
	rec := httptest.NewRecorder()
	h.PaymentWebhook(rec, httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestVerifyEmail(t *testing.T) {
	h := newTestHandler(t, &stubService{verifyErr: repository.ErrVerificationInvalid})

	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, httptest.NewRequest(http.MethodGet, "/api/user/verify", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.VerifyEmail(rec, httptest.NewRequest(http.MethodGet, "/api/user/verify?token=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid token status = %d", rec.Code)
	}
}

func TestApproveDeposit_NotPending(t *testing.T) {
	h := newTestHandler(t, &stubService{resolveErr: ledger.ErrTransactionNotPending})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/deposits/4/approve", nil)
	bearer(t, h, req, 1, true)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSyncCatalog_UpstreamFailure(t *testing.T) {
	h := newTestHandler(t, &stubService{syncErr: provider.ErrNoProviderAvailable})

	rec := httptest.NewRecorder()
	h.SyncCatalog(rec, httptest.NewRequest(http.MethodPost, "/api/admin/catalog/sync", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestHandler(t, &stubService{}, WithCORSOrigins([]string{"http://localhost:5173"}))
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/services", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow origin = %q", got)
	}
}
