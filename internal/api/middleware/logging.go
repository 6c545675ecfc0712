package middleware

import (
	"net/http"
	"time"

	"perpctl/pkg/utils"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging records method, path, status, latency, and client IP for every
// request made against the ops server through the structured logger.
func Logging(next http.Handler) http.Handler {
	log := utils.L().WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Sugar().Infof(
			"%s %s - %d - %v - %s - %d bytes",
			r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), r.RemoteAddr, wrapped.written,
		)
	})
}
