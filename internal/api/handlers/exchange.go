package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/recallai/internal/api"
	"github.com/cloo-solutions/recallai/internal/api/middleware"
)

type ExchangeService interface {
	IngestExchange(ctx context.Context, content string, scope []string) (string, error)
}

// ExchangeHandler stores conversational exchanges as content units.
type ExchangeHandler struct {
	svc ExchangeService
}

func NewExchangeHandler(svc ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{svc: svc}
}

type IngestExchangeRequest struct {
	Content string `json:"content"`
	// Scope optionally widens the stored unit beyond the caller's scope.
	Scope []string `json:"scope,omitempty"`
}

type IngestExchangeResponse struct {
	UnitID string `json:"unit_id"`
}

func (h *ExchangeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	callerScope := middleware.GetScope(r.Context())
	if callerScope == "" {
		api.Error(w, http.StatusBadRequest, "access scope is required")
		return
	}

	var req IngestExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	scope := req.Scope
	if len(scope) == 0 {
		scope = []string{callerScope}
	}

	unitID, err := h.svc.IngestExchange(r.Context(), req.Content, scope)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, IngestExchangeResponse{UnitID: unitID})
}
