package routes

import (
	"inspo/inspo/config"
	"inspo/inspo/controllers"
	"inspo/inspo/middlewares"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts every API surface under one chi router.
func NewRouter(cfg config.Config, chat *controllers.ChatController, projects *controllers.ProjectController,
	health *controllers.HealthController) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", health.HealthCheck)
	r.Mount("/api/projects", ProjectRoutes(projects))
	r.Mount("/api/chat", ChatRoutes(chat, cfg))
	return r
}
