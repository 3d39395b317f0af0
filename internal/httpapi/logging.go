package httpapi

import (
	"expvar"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var (
	requestCount = expvar.NewInt("http_requests_total")
	errorCount   = expvar.NewInt("http_errors_total")
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func requestLogger(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		requestCount.Add(1)
		if rec.status >= 500 {
			errorCount.Add(1)
		}
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
