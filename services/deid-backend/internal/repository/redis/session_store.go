package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

const (
	refreshLockPrefix = "session_refresh_lock"
	rotatedPrefix     = "session_rotated"
	maxIDAttempts     = 5
)

// releaseLockScript снимает блокировку, только если значение совпадает с владельцем
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// SessionStore реализация repository.SessionStore для Redis.
// Записи хранятся в JSON под ключом {prefix}:{session_id}.
type SessionStore struct {
	client      redis.UniversalClient
	prefix      string
	rotationTTL time.Duration
	newID       func() string
}

// Option настройка SessionStore
type Option func(*SessionStore)

// WithRotationTTL задает время хранения ссылки старая сессия → новая
func WithRotationTTL(ttl time.Duration) Option {
	return func(s *SessionStore) {
		s.rotationTTL = ttl
	}
}

// WithIDGenerator подменяет генератор идентификаторов сессий
func WithIDGenerator(gen func() string) Option {
	return func(s *SessionStore) {
		s.newID = gen
	}
}

// NewSessionStore создает новый экземпляр SessionStore
func NewSessionStore(client redis.UniversalClient, prefix string, opts ...Option) repository.SessionStore {
	s := &SessionStore{
		client:      client,
		prefix:      prefix,
		rotationTTL: 30 * time.Second,
		newID:       NewSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID возвращает первые 8 символов UUIDv4
func NewSessionID() string {
	return uuid.New().String()[:8]
}

func (s *SessionStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func lockKey(id string) string {
	return fmt.Sprintf("%s:%s", refreshLockPrefix, id)
}

func rotatedKey(id string) string {
	return fmt.Sprintf("%s:%s", rotatedPrefix, id)
}

// Set сохраняет сессию с TTL
func (s *SessionStore) Set(ctx context.Context, sessionID string, record *domain.SessionRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.sessionKey(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

// Get возвращает сессию по идентификатору
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	record.SessionID = sessionID
	return &record, nil
}

// Delete удаляет сессию
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Create сохраняет сессию под новым идентификатором.
// SET NX не перезаписывает существующую сессию, при коллизии генерируется другой id.
func (s *SessionStore) Create(ctx context.Context, record *domain.SessionRecord, ttl time.Duration) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		ok, err := s.client.SetNX(ctx, s.sessionKey(id), data, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
		if ok {
			record.SessionID = id
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate session id after %d attempts: %w", maxIDAttempts, repository.ErrAlreadyExists)
}

// Rotate атомарно заменяет oldID новой сессией.
// WATCH на оба ключа: старая сессия должна существовать, новая отсутствовать.
// В одной транзакции пишется новая запись, удаляется старая и сохраняется ссылка old → new.
func (s *SessionStore) Rotate(ctx context.Context, oldID string, record *domain.SessionRecord, ttl time.Duration) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	oldKey := s.sessionKey(oldID)

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		newID := s.newID()
		newKey := s.sessionKey(newID)

		txf := func(tx *redis.Tx) error {
			if newID == oldID {
				return repository.ErrAlreadyExists
			}
			oldLive, err := tx.Exists(ctx, oldKey).Result()
			if err != nil {
				return err
			}
			if oldLive == 0 {
				return repository.ErrRotationConflict
			}
			newTaken, err := tx.Exists(ctx, newKey).Result()
			if err != nil {
				return err
			}
			if newTaken > 0 {
				return repository.ErrAlreadyExists
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, newKey, data, ttl)
				pipe.Del(ctx, oldKey)
				pipe.Set(ctx, rotatedKey(oldID), newID, s.rotationTTL)
				return nil
			})
			return err
		}

		err := s.client.Watch(ctx, txf, oldKey, newKey)
		switch {
		case err == nil:
			record.SessionID = newID
			return newID, nil
		case errors.Is(err, repository.ErrAlreadyExists):
			continue
		case errors.Is(err, repository.ErrRotationConflict), errors.Is(err, redis.TxFailedErr):
			return "", fmt.Errorf("failed to rotate session %s: %w", oldID, repository.ErrRotationConflict)
		default:
			return "", fmt.Errorf("failed to rotate session: %w", err)
		}
	}
	return "", fmt.Errorf("failed to allocate session id after %d attempts: %w", maxIDAttempts, repository.ErrAlreadyExists)
}

// AcquireRefreshLock пытается взять блокировку обновления сессии
func (s *SessionStore) AcquireRefreshLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(sessionID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	return ok, nil
}

// ReleaseRefreshLock снимает блокировку, если она принадлежит owner
func (s *SessionStore) ReleaseRefreshLock(ctx context.Context, sessionID, owner string) error {
	released, err := releaseLockScript.Run(ctx, s.client, []string{lockKey(sessionID)}, owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release refresh lock: %w", err)
	}
	if released == 0 {
		return repository.ErrLockNotHeld
	}
	return nil
}

// RotatedTo возвращает идентификатор новой сессии после ротации oldID
func (s *SessionStore) RotatedTo(ctx context.Context, oldID string) (string, error) {
	newID, err := s.client.Get(ctx, rotatedKey(oldID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to get rotation target: %w", err)
	}
	return newID, nil
}
