// Package provider содержит клиентов вышестоящих SMM-провайдеров и шлюз с переключением между ними.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/smmpanel/internal/model"
)

// ErrNoProviderAvailable возвращается, когда ни один активный провайдер не выполнил запрос.
var ErrNoProviderAvailable = errors.New("no provider available")

// Registration описывает статическую регистрацию провайдера в конфигурации.
type Registration struct {
	Name     string
	Endpoint string
	Key      string
	Active   bool
}

// Provider описывает возможности одного вышестоящего провайдера.
type Provider interface {
	Info() model.ProviderInfo
	Services(ctx context.Context) ([]RemoteService, error)
	AddOrder(ctx context.Context, serviceID, link string, quantity int64) (*OrderAck, error)
	Status(ctx context.Context, orderID string) (*StatusReport, error)
	Balance(ctx context.Context) (*AccountBalance, error)
}

// APIError описывает ошибку, о которой провайдер сообщил полем error в ответе.
type APIError struct {
	Provider string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// FlexString принимает из JSON как строку, так и число.
type FlexString string

// UnmarshalJSON реализует json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// String возвращает значение как строку.
func (f FlexString) String() string {
	return string(f)
}

// Int64 разбирает значение как целое число; дробная часть отбрасывается.
func (f FlexString) Int64() (int64, error) {
	s := strings.TrimSpace(string(f))
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// Int64Or возвращает целое значение или def, если разобрать его не удалось.
func (f FlexString) Int64Or(def int64) int64 {
	v, err := f.Int64()
	if err != nil {
		return def
	}
	return v
}

// RemoteService описывает позицию каталога провайдера (action=services).
type RemoteService struct {
	Service  FlexString `json:"service"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Rate     FlexString `json:"rate"`
	Min      FlexString `json:"min"`
	Max      FlexString `json:"max"`
	Category string     `json:"category"`
	// Provider заполняется шлюзом.
	Provider string `json:"-"`
}

// OrderAck содержит подтверждение размещения заказа (action=add).
type OrderAck struct {
	Order      FlexString `json:"order"`
	StartCount FlexString `json:"start_count"`
}

// StatusReport содержит состояние заказа у провайдера (action=status).
type StatusReport struct {
	Status     string     `json:"status"`
	Remains    FlexString `json:"remains"`
	StartCount FlexString `json:"start_count"`
	Charge     FlexString `json:"charge"`
	Currency   string     `json:"currency"`
}

// AccountBalance содержит баланс аккаунта у провайдера (action=balance).
type AccountBalance struct {
	Balance  FlexString `json:"balance"`
	Currency string     `json:"currency"`
}

// Placement описывает заказ, принятый одним из провайдеров.
type Placement struct {
	Provider   string
	OrderID    string
	StartCount int64
}
