package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/hub"
	"github.com/courtsim/courtroom-backend/internal/trials"
	"github.com/courtsim/courtroom-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, store *trials.Store, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/trials", ListTrials(store))
	r.Post("/api/trials", CreateTrial(store))
	r.Get("/api/trials/{id}", GetTrial(store))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, allowedOrigins, log))
	return r
}
