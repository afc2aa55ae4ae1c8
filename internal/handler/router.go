package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/webchat/backend/internal/handler/chat"
	"github.com/zhouzirui/webchat/backend/internal/handler/endpoint"
	"github.com/zhouzirui/webchat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/webchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/webchat/backend/internal/service/chat"
	"github.com/zhouzirui/webchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, resolver endpoint.Resolver, catalog endpoint.Catalog) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// Landing page checks
		endpoint.New(resolver, catalog).RegisterRoutes(api)

		// Session commands
		chat.New(chatSvc).RegisterRoutes(api)

		// Render feeds
		stream.New(chatSvc).RegisterRoutes(api)
		stream.NewWebSocketHandler(chatSvc).RegisterRoutes(api)
	})

	return r
}
