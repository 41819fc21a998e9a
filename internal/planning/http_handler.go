package planning

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	calculator *Calculator
}

func NewHTTPHandler(calculator *Calculator) http.Handler {
	return &Handler{calculator: calculator}
}

type requirementsPayload struct {
	OrganizationID string          `json:"organizationId"`
	ItemCode       string          `json:"itemCode"`
	Quantity       decimal.Decimal `json:"quantity"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var payload requirementsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, ok := auth.OrganizationIDFromContext(r.Context())
	if raw := strings.TrimSpace(payload.OrganizationID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid organizationId: %v", err), http.StatusBadRequest)
			return
		}
		if err := auth.EnforceOrganizationScope(r.Context(), parsed); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		orgID, ok = parsed, true
	}
	if !ok {
		http.Error(w, "organizationId is required", http.StatusBadRequest)
		return
	}

	plan, err := h.calculator.Plan(r.Context(), Request{
		OrganizationID: orgID,
		ItemCode:       payload.ItemCode,
		Quantity:       payload.Quantity,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, plan)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrStoreUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
