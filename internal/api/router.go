package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"neuroprom.com/chat-api/internal/logging"
)

func NewRouter(apiHandler *APIHandler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(logging.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/forms", apiHandler.SubmitFormHandler)

		// Chats are reachable anonymously; a bearer token only widens access.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.OptionalAuth)

			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Get("/chats/{chatID}", apiHandler.GetChatHandler)
			r.Post("/chats/{chatID}/messages", apiHandler.PostMessageHandler)
			r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
		})
	})

	return r
}
