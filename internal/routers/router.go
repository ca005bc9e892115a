package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"collabhub/internal/api"
	"collabhub/internal/metrics"
	"collabhub/internal/utils"
)

func New(log *utils.Logger, h *api.Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		accessLog(log),
		middleware.Recoverer,
		metrics.Middleware,
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/healthz", h.Health)
	r.Get("/health", h.HealthStatus)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/rooms/{docId}", h.RoomStatus)
	})

	r.Get("/ws/documents/{docId}", h.DocumentWS)

	return r
}

// accessLog writes one structured line per request once the handler returns.
// For WebSocket routes that is when the connection ends.
func accessLog(log *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
