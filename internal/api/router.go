package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", apiHandler.ListSessionsHandler)
			r.Post("/", apiHandler.CreateSessionHandler)
			r.Get("/{sessionID}", apiHandler.GetSessionHandler)
			r.Delete("/{sessionID}", apiHandler.DeleteSessionHandler)
			r.Put("/{sessionID}/select", apiHandler.SelectSessionHandler)
			r.Post("/{sessionID}/messages", apiHandler.PostMessageHandler)
		})

		r.Post("/attachments", apiHandler.UploadAttachmentsHandler)
		r.Post("/speech", apiHandler.SpeechHandler)
		r.Post("/transcribe", apiHandler.TranscribeHandler)

		r.Get("/ws", apiHandler.WebsocketHandler)
	})

	return r
}
