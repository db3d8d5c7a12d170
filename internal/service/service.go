// Package service реализует бизнес-логику SMM-панели поверх журнала, заказов и каталога.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/smmpanel/internal/catalog"
	"github.com/mmeshcher/smmpanel/internal/ledger"
	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/notify"
	"github.com/mmeshcher/smmpanel/internal/order"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/reconcile"
	"github.com/mmeshcher/smmpanel/internal/repository"
	"github.com/mmeshcher/smmpanel/internal/validation"
)

const (
	verificationTTL = 24 * time.Hour
	notifyTimeout   = 30 * time.Second
	minPasswordLen  = 6
	defaultCurrency = "USD"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput возвращается при некорректных регистрационных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyVerified возвращается при повторной отправке письма уже подтверждённому пользователю.
	ErrAlreadyVerified = errors.New("email already verified")
)

// Repository описывает контракт доступа к данным пользователей и заказов.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email, name string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateEmailVerification(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	ConfirmEmailVerification(ctx context.Context, token string, now time.Time) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
}

// Components содержит доменные компоненты, которыми управляет сервис.
type Components struct {
	Ledger   *ledger.Ledger
	Orders   *order.Orchestrator
	Sweeper  *reconcile.Sweeper
	Catalog  *catalog.Catalog
	Gateway  *provider.Gateway
	Notifier notify.Notifier
}

// Service содержит бизнес-логику SMM-панели.
type Service struct {
	repo       Repository
	c          Components
	logger     *zap.Logger
	bcryptCost int
	now        func() time.Time
}

// NewService создаёт сервис поверх репозитория и доменных компонентов.
func NewService(repo Repository, c Components, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Notifier == nil {
		c.Notifier = notify.NewLogNotifier("", logger)
	}
	return &Service{
		repo:       repo,
		c:          c,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterUser регистрирует нового пользователя и отправляет письмо для подтверждения адреса.
func (s *Service) RegisterUser(ctx context.Context, email, name, password string) (int64, error) {
	email = normalizeEmail(email)
	if !validation.IsValidEmail(email) {
		return 0, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return 0, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	name = strings.TrimSpace(name)
	id, err := s.repo.CreateUser(ctx, email, name, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}

	if err := s.issueVerification(ctx, id, email, name); err != nil {
		s.logger.Error("issue verification", zap.Int64("userID", id), zap.Error(err))
	}
	return id, nil
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *Service) issueVerification(ctx context.Context, userID int64, email, name string) error {
	token := uuid.NewString()
	if err := s.repo.CreateEmailVerification(ctx, userID, token, s.now().Add(verificationTTL)); err != nil {
		return err
	}

	v := notify.Verification{Email: email, Token: token, UserName: name}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.c.Notifier.SendVerification(nctx, v); err != nil {
			s.logger.Warn("send verification email", zap.String("email", email), zap.Error(err))
		}
	}()
	return nil
}

// VerifyEmail погашает токен подтверждения.
func (s *Service) VerifyEmail(ctx context.Context, token string) (int64, error) {
	if _, err := uuid.Parse(strings.TrimSpace(token)); err != nil {
		return 0, repository.ErrVerificationInvalid
	}
	return s.repo.ConfirmEmailVerification(ctx, strings.TrimSpace(token), s.now())
}

// ResendVerification выпускает новый токен подтверждения для пользователя.
func (s *Service) ResendVerification(ctx context.Context, userID int64) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsEmailVerified {
		return ErrAlreadyVerified
	}
	return s.issueVerification(ctx, u.ID, u.Email, u.Name)
}

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.c.Ledger.GetBalance(ctx, userID)
}

// GetTransactions возвращает журнал операций пользователя.
func (s *Service) GetTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.c.Ledger.ListTransactions(ctx, userID)
}

// RequestDeposit создаёт заявку на ручное пополнение.
func (s *Service) RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Transaction, error) {
	return s.c.Ledger.RequestDeposit(ctx, userID, amount, method)
}

// ApplyPayment зачисляет подтверждённый платёж.
func (s *Service) ApplyPayment(ctx context.Context, userID int64, p model.Payment) (*model.Transaction, error) {
	return s.c.Ledger.ApplyPayment(ctx, userID, p)
}

// GetPendingDeposits возвращает заявки на пополнение, ожидающие решения.
func (s *Service) GetPendingDeposits(ctx context.Context) ([]model.Transaction, error) {
	return s.c.Ledger.ListPendingDeposits(ctx)
}

// ApproveDeposit подтверждает заявку на пополнение.
func (s *Service) ApproveDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	return s.c.Ledger.ApproveDeposit(ctx, txID)
}

// RejectDeposit отклоняет заявку на пополнение.
func (s *Service) RejectDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	return s.c.Ledger.RejectDeposit(ctx, txID)
}

// PlaceOrder оформляет заказ.
func (s *Service) PlaceOrder(ctx context.Context, req order.Request) (*model.Order, error) {
	return s.c.Orders.PlaceOrder(ctx, req)
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// RefreshOrder подтягивает состояние заказа у поставщика.
func (s *Service) RefreshOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	return s.c.Sweeper.Refresh(ctx, userID, orderID)
}

// ListServices возвращает активный каталог.
func (s *Service) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.c.Catalog.ListActive(ctx)
}

// SyncCatalog синхронизирует каталог с поставщиками.
func (s *Service) SyncCatalog(ctx context.Context) (catalog.SyncResult, error) {
	return s.c.Catalog.Sync(ctx)
}

// SetServiceActive включает или выключает услугу каталога.
func (s *Service) SetServiceActive(ctx context.Context, serviceID int64, active bool) error {
	return s.c.Catalog.SetActive(ctx, serviceID, active)
}

// Providers возвращает состояние настроенных поставщиков.
func (s *Service) Providers() []model.ProviderInfo {
	return s.c.Gateway.Providers()
}

// ProviderBalances возвращает балансы поставщиков; name ограничивает выборку одним поставщиком.
func (s *Service) ProviderBalances(ctx context.Context, name string) []model.ProviderBalance {
	balances := s.c.Gateway.Balances(ctx, name)
	for i := range balances {
		if balances[i].Currency == "" {
			balances[i].Currency = defaultCurrency
		}
	}
	return balances
}

// StartReconciliation запускает фоновую сверку заказов и блокируется до отмены ctx.
func (s *Service) StartReconciliation(ctx context.Context) error {
	if s.c.Sweeper == nil {
		return nil
	}
	return s.c.Sweeper.Run(ctx)
}
