package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/mmeshcher/smmpanel/internal/model"
)

const maxResponseSize = 8 << 20

// HTTPProvider реализует протокол SMM API v2: POST формы key/action на единственный адрес.
type HTTPProvider struct {
	reg        Registration
	httpClient *http.Client
}

// NewHTTPProvider создаёт клиента провайдера с ограничением времени на каждый запрос.
func NewHTTPProvider(reg Registration, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	reg.Endpoint = strings.TrimSpace(reg.Endpoint)
	if reg.Endpoint != "" && !strings.HasPrefix(reg.Endpoint, "http://") && !strings.HasPrefix(reg.Endpoint, "https://") {
		reg.Endpoint = "https://" + reg.Endpoint
	}

	return &HTTPProvider{
		reg:        reg,
		httpClient: client,
	}
}

// Info возвращает публичные сведения о регистрации провайдера.
func (p *HTTPProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:     p.reg.Name,
		IsActive: p.reg.Active,
		HasKey:   p.reg.Key != "",
	}
}

// Services запрашивает каталог услуг провайдера.
func (p *HTTPProvider) Services(ctx context.Context) ([]RemoteService, error) {
	var res []RemoteService
	if err := p.call(ctx, "services", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// AddOrder размещает заказ на услугу провайдера.
func (p *HTTPProvider) AddOrder(ctx context.Context, serviceID, link string, quantity int64) (*OrderAck, error) {
	params := url.Values{}
	params.Set("service", serviceID)
	params.Set("link", link)
	params.Set("quantity", strconv.FormatInt(quantity, 10))

	var res OrderAck
	if err := p.call(ctx, "add", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status запрашивает состояние заказа по идентификатору провайдера.
func (p *HTTPProvider) Status(ctx context.Context, orderID string) (*StatusReport, error) {
	params := url.Values{}
	params.Set("order", orderID)

	var res StatusReport
	if err := p.call(ctx, "status", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Balance запрашивает баланс аккаунта у провайдера.
func (p *HTTPProvider) Balance(ctx context.Context) (*AccountBalance, error) {
	var res AccountBalance
	if err := p.call(ctx, "balance", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *HTTPProvider) call(ctx context.Context, action string, params url.Values, dst any) error {
	if p.reg.Endpoint == "" || p.reg.Key == "" {
		return fmt.Errorf("provider %s not configured", p.reg.Name)
	}

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("key", p.reg.Key)
	form.Set("action", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.reg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var envelope struct {
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if msg := errorMessage(envelope.Error); msg != "" {
			return &APIError{Provider: p.reg.Name, Message: msg}
		}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` || string(raw) == "false" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
