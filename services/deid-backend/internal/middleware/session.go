package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/service"
)

type principalKey struct{}

// WithPrincipal кладет принципал в контекст
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext извлекает принципал из контекста
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// CookieConfig атрибуты cookie сессии
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	SameSite string
	Secure   bool
	HTTPOnly bool
}

// CookieWriter выставляет и удаляет cookie сессии
type CookieWriter struct {
	config CookieConfig
	now    func() time.Time
}

// NewCookieWriter создает CookieWriter. Пустой Domain дает host-only cookie.
func NewCookieWriter(config CookieConfig) *CookieWriter {
	if config.Name == "" {
		config.Name = "deid_session_id"
	}
	if config.Path == "" {
		config.Path = "/"
	}
	return &CookieWriter{config: config, now: time.Now}
}

// Name имя cookie сессии
func (c *CookieWriter) Name() string {
	return c.config.Name
}

// Set выставляет cookie с Max-Age и Expires, равными ttl
func (c *CookieWriter) Set(w http.ResponseWriter, sessionID string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(sessionID, int(ttl/time.Second), c.now().Add(ttl)))
}

// Clear удаляет cookie сессии
func (c *CookieWriter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1, time.Unix(0, 0)))
}

func (c *CookieWriter) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     c.config.Name,
		Value:    value,
		Domain:   c.config.Domain,
		Path:     c.config.Path,
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
		Secure:   c.config.Secure,
		HttpOnly: c.config.HTTPOnly,
		SameSite: parseSameSite(c.config.SameSite),
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// SessionID читает идентификатор сессии из cookie запроса
func (c *CookieWriter) SessionID(r *http.Request) string {
	cookie, err := r.Cookie(c.config.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// responseSink передает ротированную сессию в ответ
type responseSink struct {
	w       http.ResponseWriter
	cookies *CookieWriter
}

func (s responseSink) SetSessionCookie(sessionID string, ttl time.Duration) {
	s.cookies.Set(s.w, sessionID, ttl)
}

// SessionAuth аутентифицирует запрос по cookie сессии и проверяет роли
func SessionAuth(guard service.SessionGuard, cookies *CookieWriter, log logger.Logger, requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := cookies.SessionID(r)

			principal, err := guard.Authenticate(r.Context(), sessionID, requiredRoles, responseSink{w: w, cookies: cookies})
			if err != nil {
				appErr, ok := errors.As(err)
				if !ok {
					appErr = errors.Wrap(err, errors.ErrAuthentication, "Authentication failed")
				}
				log.Info("Request not authenticated",
					logger.CtxField(r.Context()),
					logger.String("path", r.URL.Path),
					logger.String("code", string(appErr.Code)),
				)
				errors.WriteJSON(w, appErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
