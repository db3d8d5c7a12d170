package handler

import (
	"net/http"

	"go.uber.org/zap"
)

// SyncCatalog загружает каталоги провайдеров и обновляет позиции.
func (h *Handler) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SyncCatalog(r.Context())
	if err != nil {
		h.logger.Error("sync catalog error", zap.Error(err))
		http.Error(w, "Failed to sync services", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) setServiceActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, ok := idParam(r, "id")
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if err := h.service.SetServiceActive(r.Context(), serviceID, active); err != nil {
			h.writeError(w, "set service active", err, zap.Int64("serviceID", serviceID))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ActivateService включает позицию каталога.
func (h *Handler) ActivateService(w http.ResponseWriter, r *http.Request) {
	h.setServiceActive(true)(w, r)
}

// DeactivateService выключает позицию каталога.
func (h *Handler) DeactivateService(w http.ResponseWriter, r *http.Request) {
	h.setServiceActive(false)(w, r)
}

// ListProviders возвращает зарегистрированных провайдеров.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Providers())
}

type providerBalanceResponse struct {
	Provider string `json:"provider"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// ProviderBalances возвращает балансы аккаунтов у провайдеров.
// Параметр provider ограничивает ответ одним провайдером.
func (h *Handler) ProviderBalances(w http.ResponseWriter, r *http.Request) {
	balances := h.service.ProviderBalances(r.Context(), r.URL.Query().Get("provider"))

	resp := make([]providerBalanceResponse, 0, len(balances))
	for _, b := range balances {
		resp = append(resp, providerBalanceResponse{
			Provider: b.Provider,
			Balance:  money(b.Balance),
			Currency: b.Currency,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PendingDeposits возвращает заявки на пополнение, ожидающие решения.
func (h *Handler) PendingDeposits(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.GetPendingDeposits(r.Context())
	if err != nil {
		h.writeError(w, "get pending deposits", err)
		return
	}
	writeTransactions(w, txs)
}

// ApproveDeposit подтверждает заявку на пополнение.
func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	txID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.ApproveDeposit(r.Context(), txID)
	if err != nil {
		h.writeError(w, "approve deposit", err, zap.Int64("transactionID", txID))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(*t))
}

// RejectDeposit отклоняет заявку на пополнение.
func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	txID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RejectDeposit(r.Context(), txID)
	if err != nil {
		h.writeError(w, "reject deposit", err, zap.Int64("transactionID", txID))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(*t))
}
