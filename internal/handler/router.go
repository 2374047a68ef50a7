package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ai-spouse/webchat/backend/internal/handler/chat"
	"github.com/ai-spouse/webchat/backend/internal/handler/static"
	"github.com/ai-spouse/webchat/backend/internal/handler/ws"
	middlewarePkg "github.com/ai-spouse/webchat/backend/internal/middleware"
	chatService "github.com/ai-spouse/webchat/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to core services. Paths outside /api are
// served from staticDir.
func NewRouter(chatSvc *chatService.Service, logger *zap.Logger, staticDir string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, logger)
	wsHandler := ws.New(chatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	r.Handle("/*", static.New(staticDir))

	return r
}
