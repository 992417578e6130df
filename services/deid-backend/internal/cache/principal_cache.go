package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"DeIDPlatform/services/deid-backend/internal/domain"
)

// DefaultCapacity максимальное число записей по умолчанию
const DefaultCapacity = 10000

// entry закэшированный принципал с моментом истечения в миллисекундах
type entry struct {
	principal        domain.Principal
	expiresAtEpochMs int64
}

// PrincipalCache кэш проверенных принципалов по идентификатору сессии.
// Запись с expiresAtEpochMs <= now считается отсутствующей.
// Размер ограничен capacity, вытесняются самые старые по использованию записи.
type PrincipalCache struct {
	lru      *expirable.LRU[string, entry]
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// Option настройка кэша
type Option func(*PrincipalCache)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(c *PrincipalCache) {
		c.now = now
	}
}

// WithCapacity задает максимальное число записей
func WithCapacity(capacity int) Option {
	return func(c *PrincipalCache) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// NewPrincipalCache создает кэш с заданным временем жизни записей
func NewPrincipalCache(ttl time.Duration, opts ...Option) *PrincipalCache {
	c := &PrincipalCache{
		ttl:      ttl,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	// LRU вычищает истекшие записи в фоне по реальным часам
	c.lru = expirable.NewLRU[string, entry](c.capacity, nil, ttl)
	return c
}

// Get возвращает принципал, если запись есть и не истекла.
// Истекшая запись удаляется.
func (c *PrincipalCache) Get(sessionID string) (domain.Principal, bool) {
	e, ok := c.lru.Get(sessionID)
	if !ok {
		return domain.Principal{}, false
	}
	if e.expiresAtEpochMs <= c.now().UnixMilli() {
		c.lru.Remove(sessionID)
		return domain.Principal{}, false
	}
	return e.principal, true
}

// Set сохраняет принципал на ttl от текущего момента
func (c *PrincipalCache) Set(sessionID string, principal domain.Principal) {
	c.lru.Add(sessionID, entry{
		principal:        principal,
		expiresAtEpochMs: c.now().Add(c.ttl).UnixMilli(),
	})
}

// Evict удаляет запись сессии
func (c *PrincipalCache) Evict(sessionID string) {
	c.lru.Remove(sessionID)
}

// Size возвращает количество записей
func (c *PrincipalCache) Size() int {
	return c.lru.Len()
}

// Capacity возвращает максимальное число записей
func (c *PrincipalCache) Capacity() int {
	return c.capacity
}

// Clear очищает кэш
func (c *PrincipalCache) Clear() {
	c.lru.Purge()
}
