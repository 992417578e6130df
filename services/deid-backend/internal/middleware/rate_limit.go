package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/ratelimit"
)

// KeyFunc определяет ключ ограничения для запроса
type KeyFunc func(r *http.Request) string

// IPKey ограничение по IP адресу клиента
func IPKey(r *http.Request) string {
	return "ip:" + getIP(r)
}

// PrincipalKey ограничение по пользователю, без сессии по IP
func PrincipalKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "user:" + p.SubjectID
	}
	return IPKey(r)
}

// RateLimitMiddleware создает middleware для ограничения частоты запросов
func RateLimitMiddleware(rateLimiter ratelimit.RateLimiter, limit int, window time.Duration, key KeyFunc, log logger.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = IPKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)

			limitExceeded, err := rateLimiter.CheckRateLimit(r.Context(), k, limit, window)
			if err != nil {
				// Ошибка Redis не должна блокировать запросы
				log.Error("Rate limiter error, allowing request",
					logger.CtxField(r.Context()),
					logger.Error(err),
					logger.String("key", k))
				next.ServeHTTP(w, r)
				return
			}

			if limitExceeded {
				log.Warn("Rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", k),
					logger.Int("limit", limit),
					logger.String("window", window.String()),
					logger.String("path", r.URL.Path))
				errors.WriteJSON(w, errors.New(errors.ErrTooManyRequests, "Too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getIP извлекает IP адрес из запроса
func getIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
