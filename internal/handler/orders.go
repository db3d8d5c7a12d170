package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/middleware"
	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/order"
)

type createOrderRequest struct {
	ServiceID int64  `json:"service_id" validate:"required,gt=0"`
	Link      string `json:"link" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
}

type orderResponse struct {
	ID              int64   `json:"id"`
	ServiceID       int64   `json:"service_id"`
	Link            string  `json:"link"`
	Quantity        int64   `json:"quantity"`
	Charge          string  `json:"charge"`
	ExternalOrderID string  `json:"external_order_id"`
	Provider        string  `json:"provider"`
	StartCount      int64   `json:"start_count"`
	Remains         int64   `json:"remains"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

func toOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ServiceID:       o.ServiceID,
		Link:            o.Link,
		Quantity:        o.Quantity,
		Charge:          money(o.Charge),
		ExternalOrderID: o.ExternalOrderID,
		Provider:        o.Provider,
		StartCount:      o.StartCount,
		Remains:         o.Remains,
		Status:          string(o.Status),
		Progress:        o.Progress(),
		CreatedAt:       formatTime(o.CreatedAt),
		UpdatedAt:       formatTime(o.UpdatedAt),
	}
}

// CreateOrder размещает заказ у провайдера и списывает его стоимость.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.PlaceOrder(r.Context(), order.Request{
		UserID:    userID,
		ServiceID: req.ServiceID,
		Link:      req.Link,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeError(w, "place order", err, zap.Int64("userID", userID), zap.Int64("serviceID", req.ServiceID))
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(*o))
}

// GetOrders возвращает заказы текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get orders", err, zap.Int64("userID", userID))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshOrder запрашивает у провайдера актуальный статус заказа.
func (h *Handler) RefreshOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.RefreshOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, "refresh order", err, zap.Int64("userID", userID), zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(*o))
}

type serviceResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Platform     string `json:"platform"`
	Provider     string `json:"provider"`
	PricePer1000 string `json:"price_per_1000"`
	MinQuantity  int64  `json:"min_quantity"`
	MaxQuantity  int64  `json:"max_quantity"`
}

// ListServices возвращает активный каталог.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		h.writeError(w, "list services", err)
		return
	}

	resp := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		resp = append(resp, serviceResponse{
			ID:           s.ID,
			Name:         s.Name,
			Description:  s.Description,
			Category:     s.Category,
			Platform:     s.Platform,
			Provider:     s.Provider,
			PricePer1000: s.PricePer1000.StringFixed(4),
			MinQuantity:  s.MinQuantity,
			MaxQuantity:  s.MaxQuantity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
