package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/metrics"
	"DeIDPlatform/services/deid-backend/internal/cache"
	"DeIDPlatform/services/deid-backend/internal/client"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

// TokenAuthority внешний auth-сервис: проверка access токена и обновление сессии
type TokenAuthority interface {
	ValidateAccessToken(ctx context.Context, accessToken string) client.ValidateResult
	RefreshSession(ctx context.Context, sessionToken string) client.RefreshResult
}

// CookieSink принимает новый идентификатор сессии после ротации
type CookieSink interface {
	SetSessionCookie(sessionID string, ttl time.Duration)
}

// SessionGuard аутентифицирует запросы по идентификатору сессии
type SessionGuard interface {
	Authenticate(ctx context.Context, sessionID string, requiredRoles []string, sink CookieSink) (domain.Principal, error)
	Invalidate(sessionID string)
	CacheSize() int
	ClearCache()
}

// GuardConfig настройки обновления сессий
type GuardConfig struct {
	// RefreshLockTTL время жизни межпроцессной блокировки обновления
	RefreshLockTTL time.Duration
	// RefreshWait сколько ждать результат чужого обновления
	RefreshWait time.Duration
	// PollInterval период опроса ссылки ротации
	PollInterval time.Duration
}

// Guard реализация SessionGuard.
// Обновление сессии выполняется одним вызывающим: singleflight внутри процесса
// и блокировка в Redis между процессами.
type Guard struct {
	store   repository.SessionStore
	cache   *cache.PrincipalCache
	auth    TokenAuthority
	config  GuardConfig
	metrics *metrics.Metrics
	logger  logger.Logger
	tracer  trace.Tracer
	group   singleflight.Group
	owner   string
	now     func() time.Time
}

// NewGuard создает новый экземпляр Guard
func NewGuard(store repository.SessionStore, principals *cache.PrincipalCache, auth TokenAuthority, config GuardConfig, m *metrics.Metrics, log logger.Logger) *Guard {
	if config.RefreshLockTTL <= 0 {
		config.RefreshLockTTL = 10 * time.Second
	}
	if config.RefreshWait <= 0 {
		config.RefreshWait = 7 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}

	return &Guard{
		store:   store,
		cache:   principals,
		auth:    auth,
		config:  config,
		metrics: m,
		logger:  log,
		tracer:  otel.Tracer("deid-backend/session-guard"),
		owner:   uuid.New().String(),
		now:     time.Now,
	}
}

// Authenticate разрешает сессию в принципал и проверяет роль.
// Ошибки всегда *errors.Error с кодом из фиксированной таблицы.
func (g *Guard) Authenticate(ctx context.Context, sessionID string, requiredRoles []string, sink CookieSink) (domain.Principal, error) {
	ctx, span := g.tracer.Start(ctx, "SessionGuard.Authenticate")
	defer span.End()

	principal, authErr := g.authenticate(ctx, sessionID, requiredRoles, sink)

	code := "OK"
	if authErr != nil {
		code = string(authErr.Code)
	}
	span.SetAttributes(attribute.String("auth.outcome", code))
	g.metrics.RecordAuthOutcome(code)
	g.metrics.SetPrincipalCacheSize(g.cache.Size())

	if authErr != nil {
		return domain.Principal{}, authErr.WithContext(ctx)
	}
	return principal, nil
}

func (g *Guard) authenticate(ctx context.Context, sessionID string, requiredRoles []string, sink CookieSink) (domain.Principal, *errors.Error) {
	if sessionID == "" {
		return domain.Principal{}, errors.New(errors.ErrMissingSessionID, "Session ID is required")
	}

	// Кэш локален для процесса: ротация в другом экземпляре видна здесь
	// только после истечения записи (session.cache_ttl)
	if principal, ok := g.cache.Get(sessionID); ok {
		return principal, authorize(principal, requiredRoles)
	}

	record, err := g.store.Get(ctx, sessionID)
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			g.logger.Error("Failed to retrieve session from Redis",
				logger.CtxField(ctx),
				logger.String("session_id", sessionID),
				logger.Error(err),
			)
		}
		return domain.Principal{}, errors.New(errors.ErrSessionNotFound, "Session not found or expired")
	}

	result := g.auth.ValidateAccessToken(ctx, record.AccessToken)
	switch result.Status {
	case client.ValidateValid:
		g.cache.Set(sessionID, result.Principal)
		return result.Principal, authorize(result.Principal, requiredRoles)

	case client.ValidateExpired, client.ValidateInvalid:
		if record.SessionToken == "" {
			return domain.Principal{}, validateError(result.Status)
		}

		g.logger.Info("Access token rejected, refreshing session",
			logger.CtxField(ctx),
			logger.String("session_id", sessionID),
			logger.String("reason", result.Status.String()),
		)
		outcome := g.refreshOnce(ctx, sessionID, record)
		if outcome.newSessionID != "" && outcome.ttl > 0 && sink != nil {
			sink.SetSessionCookie(outcome.newSessionID, outcome.ttl)
		}
		if outcome.err != nil {
			return domain.Principal{}, outcome.err
		}
		return outcome.principal, authorize(outcome.principal, requiredRoles)

	default:
		return domain.Principal{}, validateError(result.Status)
	}
}

// validateError отображает неуспешный исход проверки токена в ошибку
func validateError(status client.ValidateStatus) *errors.Error {
	switch status {
	case client.ValidateExpired:
		return errors.New(errors.ErrTokenExpired, "Invalid or expired access token")
	case client.ValidateInvalid:
		return errors.New(errors.ErrInvalidToken, "Invalid access token")
	case client.ValidateTimeout:
		return errors.New(errors.ErrServiceTimeout, "Authentication service timeout")
	case client.ValidateUnavailable:
		return errors.New(errors.ErrServiceUnavailable, "Authentication service unavailable")
	default:
		return errors.New(errors.ErrValidation, "Token validation failed")
	}
}

// refreshOutcome результат обновления, общий для всех ожидающих его запросов.
// newSessionID может быть заполнен и при ошибке, если ротация уже применена.
type refreshOutcome struct {
	newSessionID string
	ttl          time.Duration
	principal    domain.Principal
	err          *errors.Error
}

// refreshOnce выполняет обновление не более одного раза на старый идентификатор
func (g *Guard) refreshOnce(ctx context.Context, oldID string, record *domain.SessionRecord) refreshOutcome {
	// Обновление не прерывается отменой запроса-лидера: его результат ждут другие запросы
	detached := context.WithoutCancel(ctx)

	v, _, shared := g.group.Do(oldID, func() (interface{}, error) {
		return g.refresh(detached, oldID, record), nil
	})
	outcome := v.(refreshOutcome)

	if shared {
		g.logger.Debug("Session refresh result shared", logger.String("session_id", oldID))
	}
	return outcome
}

func (g *Guard) refresh(ctx context.Context, oldID string, record *domain.SessionRecord) refreshOutcome {
	ctx, span := g.tracer.Start(ctx, "SessionGuard.Refresh")
	defer span.End()

	acquired, err := g.store.AcquireRefreshLock(ctx, oldID, g.owner, g.config.RefreshLockTTL)
	if err != nil {
		g.logger.Error("Refresh session error", logger.String("session_id", oldID), logger.Error(err))
		g.metrics.RecordRefresh("lock_error")
		return refreshOutcome{err: errors.Wrap(err, errors.ErrRefreshError, "Session refresh failed")}
	}
	if !acquired {
		g.metrics.RecordRefresh("followed")
		return g.followRotation(ctx, oldID)
	}
	defer func() {
		if err := g.store.ReleaseRefreshLock(ctx, oldID, g.owner); err != nil && !stderrors.Is(err, repository.ErrLockNotHeld) {
			g.logger.Warn("Failed to release refresh lock", logger.String("session_id", oldID), logger.Error(err))
		}
	}()

	// Другой процесс мог завершить ротацию до того, как мы взяли блокировку
	if newID, err := g.store.RotatedTo(ctx, oldID); err == nil {
		g.metrics.RecordRefresh("followed")
		return g.resolveRotated(ctx, newID)
	}

	result := g.auth.RefreshSession(ctx, record.SessionToken)
	switch result.Status {
	case client.RefreshRefreshed:
	case client.RefreshRejected:
		g.metrics.RecordRefresh("rejected")
		return refreshOutcome{err: wrapOrNew(result.Err, errors.ErrRefreshFailed, "Session refresh failed")}
	case client.RefreshIncomplete:
		g.metrics.RecordRefresh("incomplete")
		return refreshOutcome{err: wrapOrNew(result.Err, errors.ErrRefreshInvalid, "Invalid refresh payload")}
	default:
		g.metrics.RecordRefresh("failed")
		return refreshOutcome{err: wrapOrNew(result.Err, errors.ErrRefreshError, "Session refresh failed")}
	}

	ttl := result.TTL(g.now())
	next := &domain.SessionRecord{
		AccessToken:  result.AccessToken,
		SessionToken: result.SessionToken,
		UserID:       record.UserID,
	}

	newID, err := g.store.Rotate(ctx, oldID, next, ttl)
	if err != nil {
		// Провайдер уже выдал новую пару, старая запись больше не пригодна
		if delErr := g.store.Delete(ctx, oldID); delErr != nil {
			g.logger.Warn("Failed to delete broken session", logger.String("session_id", oldID), logger.Error(delErr))
		}
		g.cache.Evict(oldID)
		g.logger.Error("Session rotation failed", logger.String("session_id", oldID), logger.Error(err))
		g.metrics.RecordRefresh("rotation_failed")
		return refreshOutcome{err: errors.Wrap(err, errors.ErrRefreshError, "Session refresh failed")}
	}

	g.cache.Evict(oldID)
	g.metrics.RecordRefresh("rotated")
	g.logger.Info("Session rotated",
		logger.CtxField(ctx),
		logger.String("old_session_id", oldID),
		logger.String("new_session_id", newID),
		logger.Duration("ttl", ttl),
	)

	outcome := refreshOutcome{newSessionID: newID, ttl: ttl}
	outcome.principal, outcome.err = g.revalidate(ctx, newID, next.AccessToken)
	return outcome
}

// followRotation ждет, пока процесс-владелец блокировки завершит ротацию
func (g *Guard) followRotation(ctx context.Context, oldID string) refreshOutcome {
	ctx, cancel := context.WithTimeout(ctx, g.config.RefreshWait)
	defer cancel()

	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		newID, err := g.store.RotatedTo(ctx, oldID)
		if err == nil {
			return g.resolveRotated(ctx, newID)
		}
		if !stderrors.Is(err, repository.ErrNotFound) {
			g.logger.Warn("Failed to read rotation target", logger.String("session_id", oldID), logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return refreshOutcome{err: errors.New(errors.ErrRefreshError, "Session refresh failed")}
		case <-ticker.C:
		}
	}
}

// resolveRotated разрешает принципал по сессии, созданной чужой ротацией.
// TTL новой сессии здесь неизвестен, поэтому cookie ставит только выполнивший ротацию запрос.
func (g *Guard) resolveRotated(ctx context.Context, newID string) refreshOutcome {
	if principal, ok := g.cache.Get(newID); ok {
		return refreshOutcome{newSessionID: newID, principal: principal}
	}

	record, err := g.store.Get(ctx, newID)
	if err != nil {
		return refreshOutcome{err: errors.Wrap(err, errors.ErrRefreshError, "Session refresh failed")}
	}

	principal, authErr := g.revalidate(ctx, newID, record.AccessToken)
	return refreshOutcome{newSessionID: newID, principal: principal, err: authErr}
}

// revalidate проверяет новый access токен и кэширует принципал под новым id
func (g *Guard) revalidate(ctx context.Context, sessionID, accessToken string) (domain.Principal, *errors.Error) {
	result := g.auth.ValidateAccessToken(ctx, accessToken)
	if result.Status != client.ValidateValid {
		return domain.Principal{}, validateError(result.Status)
	}
	g.cache.Set(sessionID, result.Principal)
	return result.Principal, nil
}

// Invalidate удаляет принципал сессии из кэша
func (g *Guard) Invalidate(sessionID string) {
	g.cache.Evict(sessionID)
	g.metrics.SetPrincipalCacheSize(g.cache.Size())
}

// CacheSize возвращает размер кэша принципалов
func (g *Guard) CacheSize() int {
	return g.cache.Size()
}

// ClearCache очищает кэш принципалов
func (g *Guard) ClearCache() {
	g.cache.Clear()
	g.metrics.SetPrincipalCacheSize(0)
}

// wrapOrNew оборачивает причину, если она есть
func wrapOrNew(cause error, code errors.ErrorCode, message string) *errors.Error {
	if cause == nil {
		return errors.New(code, message)
	}
	return errors.Wrap(cause, code, message)
}
