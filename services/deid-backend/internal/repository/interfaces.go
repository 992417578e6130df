package repository

import (
	"context"
	"errors"
	"time"

	"DeIDPlatform/services/deid-backend/internal/domain"
)

// Ошибки хранилищ
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRotationConflict = errors.New("session rotation conflict")
	ErrLockNotHeld      = errors.New("lock not held")
)

// SessionStore хранилище записей сессий с TTL
type SessionStore interface {
	// Set записывает сессию с TTL, перезаписывая существующую
	Set(ctx context.Context, sessionID string, record *domain.SessionRecord, ttl time.Duration) error
	// Get возвращает запись или ErrNotFound
	Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	// Delete удаляет запись. Отсутствие записи не является ошибкой
	Delete(ctx context.Context, sessionID string) error
	// Create записывает запись под новым идентификатором и возвращает его
	Create(ctx context.Context, record *domain.SessionRecord, ttl time.Duration) (string, error)
	// Rotate атомарно заменяет старую сессию новой и возвращает новый идентификатор
	Rotate(ctx context.Context, oldID string, record *domain.SessionRecord, ttl time.Duration) (string, error)
	// AcquireRefreshLock пытается взять межпроцессную блокировку обновления сессии
	AcquireRefreshLock(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)
	// ReleaseRefreshLock снимает блокировку, только если она принадлежит owner
	ReleaseRefreshLock(ctx context.Context, sessionID, owner string) error
	// RotatedTo возвращает идентификатор, на который была ротирована сессия, или ErrNotFound
	RotatedTo(ctx context.Context, oldID string) (string, error)
}

// TaskRepository чтение и запись заданий
type TaskRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	Create(ctx context.Context, task *domain.Task) error
	// List возвращает страницу заданий по фильтру и общее число подходящих
	List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, int64, error)
}

// ValidationRepository журнал валидаций заданий. Только добавление.
type ValidationRepository interface {
	Create(ctx context.Context, validation *domain.TaskValidation) error
	FindLatest(ctx context.Context, userID, taskID string) (*domain.TaskValidation, error)
	CountByUserTask(ctx context.Context, userID, taskID string) (int64, error)
	ListByUserTask(ctx context.Context, userID, taskID string, limit int) ([]*domain.TaskValidation, error)
}
