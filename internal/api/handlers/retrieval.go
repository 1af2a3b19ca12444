package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/recallai/internal/api"
	"github.com/cloo-solutions/recallai/internal/api/middleware"
	"github.com/cloo-solutions/recallai/internal/domain"
	"github.com/cloo-solutions/recallai/internal/service"
	"github.com/go-chi/chi/v5"
)

type RetrievalAPI interface {
	Retrieve(ctx context.Context, input service.RetrieveInput) (*service.RetrieveOutput, error)
	BrowseCluster(ctx context.Context, clusterID, scope string) ([]*service.RetrievedUnit, error)
	FilterOnly(ctx context.Context, scope string, hints service.QueryHints, limit int) ([]*domain.ContentUnit, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type RetrievalHandler struct {
	svc      RetrievalAPI
	embedder Embedder
}

func NewRetrievalHandler(svc RetrievalAPI, embedder Embedder) *RetrievalHandler {
	return &RetrievalHandler{svc: svc, embedder: embedder}
}

type HintsRequest struct {
	QueryTypes []string `json:"query_types,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Verbs      []string `json:"verbs,omitempty"`
	Actors     []string `json:"actors,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

func (h HintsRequest) toHints() service.QueryHints {
	return service.QueryHints{
		QueryTypes: h.QueryTypes,
		Entities:   h.Entities,
		Verbs:      h.Verbs,
		Actors:     h.Actors,
		Conditions: h.Conditions,
	}
}

type RetrieveRequest struct {
	Query               string       `json:"query"`
	Hints               HintsRequest `json:"hints"`
	Threshold           *float32     `json:"threshold,omitempty"`
	DisplayLimit        int          `json:"display_limit,omitempty"`
	ExpandRelationships bool         `json:"expand_relationships"`
	// Hybrid blends full-text rank into the vector score.
	Hybrid bool `json:"hybrid"`
}

type RetrievedUnitResponse struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	SectionTitle string   `json:"section_title,omitempty"`
	Content      string   `json:"content"`
	Relation     string   `json:"relation"`
	Similarity   float32  `json:"similarity"`
	BoostedScore float32  `json:"boosted_score"`
	QueryTypes   []string `json:"query_types,omitempty"`
	IsProcedure  bool     `json:"is_procedure"`
	IsPolicy     bool     `json:"is_policy"`
	ProcessName  string   `json:"process_name,omitempty"`
	ProcessStep  *int32   `json:"process_step,omitempty"`
	ClusterID    *string  `json:"cluster_id,omitempty"`
}

type RetrieveResponse struct {
	Results  []*RetrievedUnitResponse `json:"results"`
	Reason   string                   `json:"reason,omitempty"`
	SlowPath bool                     `json:"slow_path"`
}

func retrievedToResponse(r *service.RetrievedUnit) *RetrievedUnitResponse {
	return &RetrievedUnitResponse{
		ID:           r.Unit.ID,
		Source:       r.Unit.Source,
		SectionTitle: r.Unit.SectionTitle,
		Content:      r.Unit.Content,
		Relation:     string(r.Relation),
		Similarity:   r.Similarity,
		BoostedScore: r.BoostedScore,
		QueryTypes:   r.Unit.QueryTypes,
		IsProcedure:  r.Unit.IsProcedure,
		IsPolicy:     r.Unit.IsPolicy,
		ProcessName:  r.Unit.ProcessName,
		ProcessStep:  r.Unit.ProcessStep,
		ClusterID:    r.Unit.ClusterID,
	}
}

func (h *RetrievalHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusBadRequest, "access scope is required")
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	embedding, err := h.embedder.GenerateEmbedding(r.Context(), req.Query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	input := service.RetrieveInput{
		Embedding:           embedding,
		Hints:               req.Hints.toHints(),
		Scope:               scope,
		Threshold:           req.Threshold,
		DisplayLimit:        req.DisplayLimit,
		ExpandRelationships: req.ExpandRelationships,
	}
	if req.Hybrid {
		input.Query = req.Query
	}

	out, err := h.svc.Retrieve(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := RetrieveResponse{
		Results:  make([]*RetrievedUnitResponse, 0, len(out.Results)),
		Reason:   out.Reason,
		SlowPath: out.SlowPath,
	}
	results := out.Results
	if req.DisplayLimit > 0 && len(results) > req.DisplayLimit {
		results = results[:req.DisplayLimit]
	}
	for _, unit := range results {
		resp.Results = append(resp.Results, retrievedToResponse(unit))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *RetrievalHandler) BrowseCluster(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusBadRequest, "access scope is required")
		return
	}

	clusterID := chi.URLParam(r, "id")
	if clusterID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	results, err := h.svc.BrowseCluster(r.Context(), clusterID, scope)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*RetrievedUnitResponse, 0, len(results))
	for _, unit := range results {
		resp = append(resp, retrievedToResponse(unit))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *RetrievalHandler) Filter(w http.ResponseWriter, r *http.Request) {
	scope := middleware.GetScope(r.Context())
	if scope == "" {
		api.Error(w, http.StatusBadRequest, "access scope is required")
		return
	}

	var req HintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	units, err := h.svc.FilterOnly(r.Context(), scope, req.toHints(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*RetrievedUnitResponse, 0, len(units))
	for _, u := range units {
		resp = append(resp, retrievedToResponse(&service.RetrievedUnit{
			Unit:     u,
			Relation: domain.RelationPrimary,
		}))
	}
	api.Success(w, http.StatusOK, resp)
}
