package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	endpointService "github.com/zhouzirui/webchat/backend/internal/service/endpoint"
	"github.com/zhouzirui/webchat/backend/pkg/utils"
)

// Resolver validates and normalizes a base URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL, apiKey string) (endpointService.Result, error)
}

// Catalog lists the models behind a base URL.
type Catalog interface {
	ListModels(ctx context.Context, baseURL, apiKey string) []chat.ModelInfo
}

// Handler serves the landing page checks that run before a session exists.
type Handler struct {
	resolver Resolver
	catalog  Catalog
}

// New 创建端点校验处理器
func New(resolver Resolver, catalog Catalog) *Handler {
	return &Handler{resolver: resolver, catalog: catalog}
}

// RegisterRoutes 注册端点相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/endpoint/validate", h.handleValidate)
	r.Get("/models", h.handleListModels)
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	ValidURL   string `json:"validUrl,omitempty"`
	Normalized bool   `json:"normalized"`
	Error      string `json:"error,omitempty"`
}

// handleValidate 校验地址，必要时补全 /v1 后缀
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BaseURL string `json:"baseUrl"`
		APIKey  string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.resolver.Resolve(r.Context(), strings.TrimSpace(payload.BaseURL), payload.APIKey)
	switch {
	case errors.Is(err, endpointService.ErrEmptyURL):
		utils.RespondError(w, http.StatusBadRequest, "baseUrl is required")
		return
	case err != nil:
		utils.RespondJSON(w, http.StatusOK, validateResponse{
			Valid: false,
			Error: "cannot connect to the server, check the address",
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, validateResponse{
		Valid:      true,
		ValidURL:   result.CanonicalURL,
		Normalized: result.Normalized,
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	baseURL := strings.TrimSpace(r.URL.Query().Get("baseUrl"))
	if baseURL == "" {
		utils.RespondError(w, http.StatusBadRequest, "baseUrl query parameter is required")
		return
	}

	models := h.catalog.ListModels(r.Context(), baseURL, r.URL.Query().Get("apiKey"))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"models": models})
}
