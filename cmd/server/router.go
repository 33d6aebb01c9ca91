package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/mailblast-backend/internal/app"
	"github.com/unclebandit/mailblast-backend/internal/controller"
	"github.com/unclebandit/mailblast-backend/internal/handler"
)

// NewRouter mounts the API on a chi router.
func NewRouter(a *app.App) http.Handler {
	broadcastController := &controller.BroadcastController{
		Service: a.Broadcasts,
		Log:     a.Log.WithField("component", "http"),
	}
	dashboardHandler := &handler.DashboardHandler{
		Logs:       a.Logs,
		Stats:      a.Stats,
		Recipients: a.Broadcasts,
		Log:        a.Log.WithField("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(a.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Broadcast routes
		r.Post("/send-email", broadcastController.SendEmail)
		r.Post("/broadcasts", broadcastController.CreateBroadcast)
		r.Get("/broadcasts/{id}", broadcastController.GetBroadcast)

		// Dashboard routes
		r.Get("/email-logs", dashboardHandler.ListEmailLogs)
		r.Patch("/email-logs/{id}/status", dashboardHandler.UpdateEmailLogStatus)
		r.Get("/dashboard/stats", dashboardHandler.DashboardStats)
		r.Get("/users", dashboardHandler.ListUsers)
		r.Post("/users", dashboardHandler.CreateUser)
	})

	return r
}
