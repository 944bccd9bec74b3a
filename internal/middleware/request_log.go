package middleware

import (
	"net/http"
	"time"

	"github.com/agrilovers/internal/logger"
)

// RequestLog пишет method, path, статус и длительность. Ошибки 5xx — уровнем error.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)
		next.ServeHTTP(sw, r)
		d := time.Since(start)
		if sw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s %d %v", r.Method, r.URL.Path, sw.status, d)
			return
		}
		logger.Debugf("http %s %s %d %v", r.Method, r.URL.Path, sw.status, d)
	})
}
