package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/antihub/quotabroker/core/logger"
)

// Middleware wraps handlers to add cross-cutting functionality.
type Middleware func(http.Handler) http.Handler

func chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request at info level.
func requestLogger(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.InfoContext(r.Context(), "request",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.StatusCode(rec.status),
				logger.Latency(time.Since(start)),
				logger.ClientIP(r.RemoteAddr),
			)
		})
	}
}

// recoverer converts handler panics into 500 responses.
func recoverer(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panic",
						slog.Any("panic", rec),
						logger.Path(r.URL.Path),
						logger.Stack(),
					)
					respondErrorBody(w, http.StatusInternalServerError, "internal_server_error", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// adminKey gates admin routes behind a pre-shared key in the
// X-Admin-Key header. An empty configured key disables the surface
// entirely rather than leaving it open.
func adminKey(key string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				respondErrorBody(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
