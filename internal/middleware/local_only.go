package middleware

import (
	"net"
	"net/http"
	"os"
	"strings"
)

// LocalOnly пропускает запросы только с loopback/приватных адресов или с заголовком
// X-App-Secret == APP_ACCESS_SECRET. Клиент однопользовательский: сессия входа
// одна на процесс, наружу его не выставляют.
func LocalOnly(next http.Handler) http.Handler {
	secret := strings.TrimSpace(os.Getenv("APP_ACCESS_SECRET"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-App-Secret") == secret {
			next.ServeHTTP(w, r)
			return
		}
		if isPrivateIP(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

// clientIP — адрес после chi RealIP; без него — RemoteAddr без порта.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
