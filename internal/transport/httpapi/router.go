package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/logging"
)

// Operations is the trigger surface served over HTTP.
type Operations interface {
	RunIngest(ctx context.Context) domain.RunResult
	RunDispatch(ctx context.Context) domain.RunResult
	Status(ctx context.Context) domain.RunResult
}

// NewRouter mounts the status and run endpoints.
func NewRouter(ops Operations, log *slog.Logger) http.Handler {
	log = logging.OrDiscard(log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, ops.Status(r.Context()))
	})
	r.Route("/run", func(r chi.Router) {
		r.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, ops.RunIngest(r.Context()))
		})
		r.Post("/dispatch", func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, ops.RunDispatch(r.Context()))
		})
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeResult(w http.ResponseWriter, res domain.RunResult) {
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
