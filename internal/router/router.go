package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"trendaware-backend/internal/handlers"
	"trendaware-backend/internal/middleware"
	"trendaware-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	runLimiter *middleware.RateLimiter,
	summaryHandler *handlers.SummaryHandler,
	researchHandler *handlers.ResearchHandler,
	libraryHandler *handlers.LibraryHandler,
	profileHandler *handlers.ProfileHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			// ──── Submission Routes (rate limited per user) ────
			r.Group(func(r chi.Router) {
				r.Use(runLimiter.Middleware)
				r.Post("/summary/stream", summaryHandler.Stream)
				r.Post("/summary", summaryHandler.Generate)
				r.Post("/runs", summaryHandler.CreateRun)
				r.Post("/research", researchHandler.Initiate)
			})

			// ──── Research Routes ────
			r.Get("/research", researchHandler.Status)

			r.Route("/research-requests", func(r chi.Router) {
				r.Get("/", libraryHandler.List)
				r.Get("/{id}", libraryHandler.Get)
			})

			// ──── Profile Routes ────
			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.Get)
				r.Put("/", profileHandler.Update)
			})
		})

		// ──── WebSocket (token in query) ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
