package service

import (
	"context"
	"time"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/client"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

// SSOValidator проверка одноразового SSO токена
type SSOValidator interface {
	ValidateSSOToken(ctx context.Context, ssoToken string) client.SSOResult
}

// SessionService интерфейс жизненного цикла сессии
type SessionService interface {
	ExchangeSSOToken(ctx context.Context, ssoToken string) (string, time.Duration, error)
	Logout(ctx context.Context, sessionID string) error
}

type sessionService struct {
	store  repository.SessionStore
	sso    SSOValidator
	guard  SessionGuard
	logger logger.Logger
	now    func() time.Time
}

// NewSessionService создает новый экземпляр SessionService
func NewSessionService(store repository.SessionStore, sso SSOValidator, guard SessionGuard, log logger.Logger) SessionService {
	return &sessionService{
		store:  store,
		sso:    sso,
		guard:  guard,
		logger: log,
		now:    time.Now,
	}
}

// ExchangeSSOToken обменивает SSO токен на новую сессию.
// Возвращает идентификатор сессии и время жизни cookie.
func (s *sessionService) ExchangeSSOToken(ctx context.Context, ssoToken string) (string, time.Duration, error) {
	if ssoToken == "" {
		return "", 0, errors.New(errors.ErrInvalidRequest, "sso_token is required")
	}

	result := s.sso.ValidateSSOToken(ctx, ssoToken)
	switch result.Status {
	case client.SSOValid:
	case client.SSOUnavailable:
		return "", 0, wrapOrNew(result.Err, errors.ErrServiceUnavailable, "Authentication service unavailable")
	default:
		return "", 0, wrapOrNew(result.Err, errors.ErrSSOValidationFailed, "SSO token validation failed")
	}

	ttl := client.CountdownTTL(result.ExpiresAt, s.now())
	record := &domain.SessionRecord{
		AccessToken:  result.AccessToken,
		SessionToken: result.SessionToken,
		UserID:       result.UserID,
	}

	sessionID, err := s.store.Create(ctx, record, ttl)
	if err != nil {
		s.logger.Error("Failed to store session", logger.CtxField(ctx), logger.Error(err))
		return "", 0, errors.Wrap(err, errors.ErrInternal, "Failed to create session")
	}

	s.logger.Info("SSO session created",
		logger.CtxField(ctx),
		logger.String("session_id", sessionID),
		logger.String("user_id", result.UserID),
		logger.Duration("ttl", ttl),
	)
	return sessionID, ttl, nil
}

// Logout удаляет сессию и ее принципал из кэша. Повторный вызов не является ошибкой.
func (s *sessionService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	s.guard.Invalidate(sessionID)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		s.logger.Error("Failed to delete session", logger.CtxField(ctx), logger.String("session_id", sessionID), logger.Error(err))
		return errors.Wrap(err, errors.ErrInternal, "Failed to delete session")
	}

	s.logger.Info("Session deleted", logger.CtxField(ctx), logger.String("session_id", sessionID))
	return nil
}
