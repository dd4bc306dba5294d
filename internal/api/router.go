package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/me", apiHandler.MeHandler)

			r.Get("/models", apiHandler.ListModelsHandler)
			r.Get("/config", apiHandler.GetConfigHandler)
			r.Put("/config", apiHandler.UpdateConfigHandler)

			// Session routes
			r.Get("/sessions", apiHandler.ListSessionsHandler)
			r.Post("/sessions", apiHandler.CreateSessionHandler)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetSessionHandler)
				r.Delete("/", apiHandler.DeleteSessionHandler)
				r.Post("/select", apiHandler.SelectSessionHandler)
				r.Get("/export", apiHandler.ExportSessionHandler)
				r.Post("/messages", apiHandler.SendMessageHandler)
				r.Get("/messages/{messageID}/render", apiHandler.RenderMessageHandler)
			})

			r.Get("/search", apiHandler.SearchHandler)
			r.Get("/events", apiHandler.EventsHandler)

			// Voice dictation
			r.Post("/dictation/start", apiHandler.StartDictationHandler)
			r.Post("/dictation/transcript", apiHandler.TranscriptHandler)
		})
	})

	return r
}
