package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/cache"
	"DeIDPlatform/services/deid-backend/internal/client"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
	redisstore "DeIDPlatform/services/deid-backend/internal/repository/redis"
)

// fakeAuthority потокобезопасная подмена auth-сервиса
type fakeAuthority struct {
	mu            sync.Mutex
	tokens        map[string]client.ValidateResult
	refresh       func(sessionToken string) client.RefreshResult
	validateCalls atomic.Int32
	refreshCalls  atomic.Int32
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{tokens: make(map[string]client.ValidateResult)}
}

func (f *fakeAuthority) setToken(token string, result client.ValidateResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = result
}

func (f *fakeAuthority) ValidateAccessToken(_ context.Context, accessToken string) client.ValidateResult {
	f.validateCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.tokens[accessToken]; ok {
		return r
	}
	return client.ValidateResult{Status: client.ValidateInvalid}
}

func (f *fakeAuthority) RefreshSession(_ context.Context, sessionToken string) client.RefreshResult {
	f.refreshCalls.Add(1)
	return f.refresh(sessionToken)
}

type cookieRecorder struct {
	mu      sync.Mutex
	cookies map[string]time.Duration
}

func (c *cookieRecorder) SetSessionCookie(sessionID string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookies == nil {
		c.cookies = make(map[string]time.Duration)
	}
	c.cookies[sessionID] = ttl
}

func (c *cookieRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cookies)
}

var (
	alice = domain.Principal{SubjectID: "u-alice", Email: "alice@example.com", Username: "alice", Role: domain.RoleUser}
	admin = domain.Principal{SubjectID: "u-admin", Email: "admin@example.com", Username: "root", Role: domain.RoleAdmin}
)

func setupGuard(t *testing.T, opts ...redisstore.Option) (*Guard, repository.SessionStore, *fakeAuthority, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := redisstore.NewSessionStore(rdb, "deid_session_id", opts...)
	auth := newFakeAuthority()
	guard := NewGuard(store, cache.NewPrincipalCache(5*time.Minute), auth, GuardConfig{
		RefreshLockTTL: 2 * time.Second,
		RefreshWait:    time.Second,
		PollInterval:   10 * time.Millisecond,
	}, nil, logger.NewNop())
	return guard, store, auth, mr
}

func seedSession(t *testing.T, store repository.SessionStore, id, accessToken, sessionToken string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), id, &domain.SessionRecord{
		AccessToken:  accessToken,
		SessionToken: sessionToken,
		UserID:       "u-alice",
	}, time.Hour))
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	assert.Equal(t, code, appErr.Code)
}

func rotatingRefresh(accessToken, sessionToken string, expiresIn time.Duration) func(string) client.RefreshResult {
	return func(string) client.RefreshResult {
		return client.RefreshResult{
			Status:       client.RefreshRefreshed,
			AccessToken:  accessToken,
			SessionToken: sessionToken,
			ExpiresAt:    time.Now().Add(expiresIn),
		}
	}
}

// TestGuard_MissingAndUnknownSession проверяет ранние отказы
func TestGuard_MissingAndUnknownSession(t *testing.T) {
	guard, _, auth, _ := setupGuard(t)

	_, err := guard.Authenticate(context.Background(), "", nil, nil)
	requireCode(t, err, errors.ErrMissingSessionID)

	_, err = guard.Authenticate(context.Background(), "deadbeef", nil, nil)
	requireCode(t, err, errors.ErrSessionNotFound)
	assert.Equal(t, int32(0), auth.validateCalls.Load())
}

// TestGuard_ValidTokenIsCached проверяет кэширование принципала
func TestGuard_ValidTokenIsCached(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "sess0001", "access-a", "session-a")
	auth.setToken("access-a", client.ValidateResult{Status: client.ValidateValid, Principal: alice})

	for i := 0; i < 3; i++ {
		p, err := guard.Authenticate(context.Background(), "sess0001", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, alice, p)
	}
	assert.Equal(t, int32(1), auth.validateCalls.Load())
	assert.Equal(t, 1, guard.CacheSize())

	guard.Invalidate("sess0001")
	assert.Equal(t, 0, guard.CacheSize())

	_, err := guard.Authenticate(context.Background(), "sess0001", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), auth.validateCalls.Load())

	guard.ClearCache()
	assert.Equal(t, 0, guard.CacheSize())
}

// TestGuard_Roles проверяет проверку ролей, в том числе для закэшированного принципала
func TestGuard_Roles(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "sess0001", "access-a", "")
	seedSession(t, store, "sess0002", "access-b", "")
	auth.setToken("access-a", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	auth.setToken("access-b", client.ValidateResult{Status: client.ValidateValid, Principal: admin})

	for i := 0; i < 2; i++ {
		_, err := guard.Authenticate(context.Background(), "sess0001", []string{domain.RoleAdmin}, nil)
		requireCode(t, err, errors.ErrForbidden)
		appErr, _ := errors.As(err)
		assert.Equal(t, "Access denied. Required roles: admin. Your role: user", appErr.Message)
	}

	p, err := guard.Authenticate(context.Background(), "sess0002", []string{domain.RoleAdmin, domain.RoleModerator}, nil)
	require.NoError(t, err)
	assert.Equal(t, admin, p)
}

// TestGuard_ValidationFailuresWithoutRefresh проверяет отображение исходов без session токена
func TestGuard_ValidationFailuresWithoutRefresh(t *testing.T) {
	tests := []struct {
		status client.ValidateStatus
		code   errors.ErrorCode
	}{
		{client.ValidateExpired, errors.ErrTokenExpired},
		{client.ValidateInvalid, errors.ErrInvalidToken},
		{client.ValidateTimeout, errors.ErrServiceTimeout},
		{client.ValidateUnavailable, errors.ErrServiceUnavailable},
		{client.ValidateMalformed, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			guard, store, auth, _ := setupGuard(t)
			seedSession(t, store, "sess0001", "access-a", "")
			auth.setToken("access-a", client.ValidateResult{Status: tt.status})

			_, err := guard.Authenticate(context.Background(), "sess0001", nil, nil)
			requireCode(t, err, tt.code)
			assert.Equal(t, int32(0), auth.refreshCalls.Load())
		})
	}
}

// TestGuard_TransientFailureDoesNotRefresh проверяет, что таймаут не запускает обновление
func TestGuard_TransientFailureDoesNotRefresh(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "sess0001", "access-a", "session-a")
	auth.setToken("access-a", client.ValidateResult{Status: client.ValidateTimeout})

	_, err := guard.Authenticate(context.Background(), "sess0001", nil, nil)
	requireCode(t, err, errors.ErrServiceTimeout)
	assert.Equal(t, int32(0), auth.refreshCalls.Load())

	_, err = store.Get(context.Background(), "sess0001")
	assert.NoError(t, err)
}

// TestGuard_RefreshAndRotate проверяет ротацию сессии после истечения токена
func TestGuard_RefreshAndRotate(t *testing.T) {
	guard, store, auth, mr := setupGuard(t, redisstore.WithIDGenerator(func() string { return "new00001" }))
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.setToken("access-new", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)

	sink := &cookieRecorder{}
	p, err := guard.Authenticate(context.Background(), "old00001", nil, sink)
	require.NoError(t, err)
	assert.Equal(t, alice, p)

	require.Contains(t, sink.cookies, "new00001")
	ttl := sink.cookies["new00001"]
	assert.LessOrEqual(t, ttl, time.Hour)
	assert.GreaterOrEqual(t, ttl, time.Hour-5*time.Second)

	_, err = store.Get(context.Background(), "old00001")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	record, err := store.Get(context.Background(), "new00001")
	require.NoError(t, err)
	assert.Equal(t, "access-new", record.AccessToken)
	assert.Equal(t, "session-new", record.SessionToken)
	assert.Equal(t, "u-alice", record.UserID)
	assert.True(t, mr.TTL("deid_session_id:new00001") > 0)

	// Новый идентификатор обслуживается из кэша
	calls := auth.validateCalls.Load()
	_, err = guard.Authenticate(context.Background(), "new00001", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, auth.validateCalls.Load())

	// Старый идентификатор больше не действует
	_, err = guard.Authenticate(context.Background(), "old00001", nil, nil)
	requireCode(t, err, errors.ErrSessionNotFound)
}

// TestGuard_InvalidTokenRefreshes проверяет, что отклоненный токен тоже обновляется
func TestGuard_InvalidTokenRefreshes(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-new", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)

	p, err := guard.Authenticate(context.Background(), "old00001", nil, &cookieRecorder{})
	require.NoError(t, err)
	assert.Equal(t, alice, p)
	assert.Equal(t, int32(1), auth.refreshCalls.Load())
}

// TestGuard_RefreshFailures проверяет отображение ошибок обновления
func TestGuard_RefreshFailures(t *testing.T) {
	tests := []struct {
		name   string
		result client.RefreshResult
		code   errors.ErrorCode
	}{
		{"rejected", client.RefreshResult{Status: client.RefreshRejected}, errors.ErrRefreshFailed},
		{"incomplete", client.RefreshResult{Status: client.RefreshIncomplete, Err: fmt.Errorf("missing fields")}, errors.ErrRefreshInvalid},
		{"transport", client.RefreshResult{Status: client.RefreshFailed, Err: fmt.Errorf("connection refused")}, errors.ErrRefreshError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, store, auth, _ := setupGuard(t)
			seedSession(t, store, "old00001", "access-old", "session-old")
			auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
			auth.refresh = func(string) client.RefreshResult { return tt.result }

			sink := &cookieRecorder{}
			_, err := guard.Authenticate(context.Background(), "old00001", nil, sink)
			requireCode(t, err, tt.code)
			assert.Equal(t, 0, sink.count())
		})
	}
}

// TestGuard_NewTokenRejectedStillSetsCookie проверяет, что cookie ставится после ротации даже при ошибке проверки
func TestGuard_NewTokenRejectedStillSetsCookie(t *testing.T) {
	guard, store, auth, _ := setupGuard(t, redisstore.WithIDGenerator(func() string { return "new00001" }))
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.setToken("access-new", client.ValidateResult{Status: client.ValidateUnavailable})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)

	sink := &cookieRecorder{}
	_, err := guard.Authenticate(context.Background(), "old00001", nil, sink)
	requireCode(t, err, errors.ErrServiceUnavailable)
	assert.Contains(t, sink.cookies, "new00001")
}

// failingRotateStore хранилище, у которого ротация всегда завершается ошибкой
type failingRotateStore struct {
	repository.SessionStore
}

func (s failingRotateStore) Rotate(context.Context, string, *domain.SessionRecord, time.Duration) (string, error) {
	return "", repository.ErrRotationConflict
}

// TestGuard_RotationFailureDeletesOldSession проверяет, что сломанная сессия удаляется
func TestGuard_RotationFailureDeletesOldSession(t *testing.T) {
	_, store, auth, _ := setupGuard(t)
	guard := NewGuard(failingRotateStore{store}, cache.NewPrincipalCache(time.Minute), auth, GuardConfig{}, nil, logger.NewNop())

	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)

	sink := &cookieRecorder{}
	_, err := guard.Authenticate(context.Background(), "old00001", nil, sink)
	requireCode(t, err, errors.ErrRefreshError)
	assert.Equal(t, 0, sink.count())

	_, err = store.Get(context.Background(), "old00001")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// TestGuard_ConcurrentRefreshSingleFlight проверяет, что параллельные запросы обновляют сессию один раз
func TestGuard_ConcurrentRefreshSingleFlight(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.setToken("access-new", client.ValidateResult{Status: client.ValidateValid, Principal: alice})

	release := make(chan struct{})
	auth.refresh = func(string) client.RefreshResult {
		<-release
		return rotatingRefresh("access-new", "session-new", time.Hour)("")
	}

	const callers = 16
	var wg sync.WaitGroup
	sinks := make([]*cookieRecorder, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		sinks[i] = &cookieRecorder{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = guard.Authenticate(context.Background(), "old00001", nil, sinks[i])
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), auth.refreshCalls.Load())

	newIDs := make(map[string]struct{})
	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
		for id := range sinks[i].cookies {
			newIDs[id] = struct{}{}
		}
	}
	assert.LessOrEqual(t, len(newIDs), 1)
}

// TestGuard_FollowsRotationByOtherProcess проверяет ожидание ротации, выполненной другим экземпляром
func TestGuard_FollowsRotationByOtherProcess(t *testing.T) {
	guard, store, auth, _ := setupGuard(t, redisstore.WithIDGenerator(func() string { return "new00001" }))
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.setToken("access-new", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)

	ctx := context.Background()
	acquired, err := store.AcquireRefreshLock(ctx, "old00001", "other-instance", 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = store.Rotate(ctx, "old00001", &domain.SessionRecord{AccessToken: "access-new", SessionToken: "session-new"}, time.Hour)
	}()

	sink := &cookieRecorder{}
	p, err := guard.Authenticate(ctx, "old00001", nil, sink)
	require.NoError(t, err)
	assert.Equal(t, alice, p)
	assert.Equal(t, int32(0), auth.refreshCalls.Load())
	assert.Equal(t, 0, sink.count())
}

// TestGuard_FollowTimeout проверяет отказ, если другой экземпляр не завершил ротацию
func TestGuard_FollowTimeout(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	seedSession(t, store, "old00001", "access-old", "session-old")
	auth.setToken("access-old", client.ValidateResult{Status: client.ValidateExpired})
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)
	guard.config.RefreshWait = 100 * time.Millisecond

	acquired, err := store.AcquireRefreshLock(context.Background(), "old00001", "other-instance", 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = guard.Authenticate(context.Background(), "old00001", nil, nil)
	requireCode(t, err, errors.ErrRefreshError)
}

// TestGuard_RedisUnavailable проверяет, что недоступный Redis дает SESSION_NOT_FOUND
func TestGuard_RedisUnavailable(t *testing.T) {
	guard, _, _, mr := setupGuard(t)
	mr.Close()

	_, err := guard.Authenticate(context.Background(), "sess0001", nil, nil)
	requireCode(t, err, errors.ErrSessionNotFound)
}

// TestGuard_AuthServiceDownDoesNotRefresh проверяет, что 5xx auth-сервиса
// дает SERVICE_UNAVAILABLE без обновления и ротации сессии
func TestGuard_AuthServiceDownDoesNotRefresh(t *testing.T) {
	var refreshHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/info/by-access-token":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"success":false,"message":"maintenance"}`))
		case "/auth/session/refresh":
			refreshHits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := redisstore.NewSessionStore(rdb, "deid_session_id")

	decode := client.NewDecodeClient(client.Config{
		AuthServiceURL:  server.URL,
		BackendURL:      server.URL,
		ValidateTimeout: time.Second,
		RefreshTimeout:  time.Second,
		ProfileTimeout:  time.Second,
	}, server.Client(), logger.NewNop())
	guard := NewGuard(store, cache.NewPrincipalCache(time.Minute), decode, GuardConfig{}, nil, logger.NewNop())

	seedSession(t, store, "abc12345", "access-1", "session-1")
	cookies := &cookieRecorder{}

	_, err := guard.Authenticate(context.Background(), "abc12345", nil, cookies)
	requireCode(t, err, errors.ErrServiceUnavailable)
	assert.Equal(t, int32(0), refreshHits.Load())
	assert.Equal(t, 0, cookies.count())

	record, getErr := store.Get(context.Background(), "abc12345")
	require.NoError(t, getErr)
	assert.Equal(t, "access-1", record.AccessToken)
}

// TestGuard_UnavailableResultSkipsRefresh проверяет то же на уровне исхода проверки
func TestGuard_UnavailableResultSkipsRefresh(t *testing.T) {
	guard, store, auth, _ := setupGuard(t)
	auth.refresh = rotatingRefresh("access-new", "session-new", time.Hour)
	auth.setToken("access-1", client.ValidateResult{Status: client.ValidateUnavailable})
	seedSession(t, store, "abc12345", "access-1", "session-1")

	_, err := guard.Authenticate(context.Background(), "abc12345", nil, nil)
	requireCode(t, err, errors.ErrServiceUnavailable)
	assert.Equal(t, int32(0), auth.refreshCalls.Load())
}

// TestGuard_CacheExpiryRevalidates проверяет повторную проверку после истечения кэша
func TestGuard_CacheExpiryRevalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := redisstore.NewSessionStore(rdb, "deid_session_id")

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	auth := newFakeAuthority()
	auth.setToken("access-1", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	guard := NewGuard(store, cache.NewPrincipalCache(5*time.Minute, cache.WithClock(clock)), auth,
		GuardConfig{}, nil, logger.NewNop())
	seedSession(t, store, "abc12345", "access-1", "session-1")

	_, err := guard.Authenticate(context.Background(), "abc12345", nil, nil)
	require.NoError(t, err)
	_, err = guard.Authenticate(context.Background(), "abc12345", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), auth.validateCalls.Load())

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()

	p, err := guard.Authenticate(context.Background(), "abc12345", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, alice, p)
	assert.Equal(t, int32(2), auth.validateCalls.Load())

	// после истечения запись берется из хранилища: удаленная сессия больше не проходит
	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	require.NoError(t, store.Delete(context.Background(), "abc12345"))

	_, err = guard.Authenticate(context.Background(), "abc12345", nil, nil)
	requireCode(t, err, errors.ErrSessionNotFound)
	assert.Equal(t, int32(2), auth.validateCalls.Load())
}

// TestGuard_PeerRotationVisibleAfterCacheExpiry фиксирует окно устаревания
// локального кэша при ротации сессии другим экземпляром
func TestGuard_PeerRotationVisibleAfterCacheExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := redisstore.NewSessionStore(rdb, "deid_session_id")

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	auth := newFakeAuthority()
	auth.setToken("access-1", client.ValidateResult{Status: client.ValidateValid, Principal: alice})
	local := NewGuard(store, cache.NewPrincipalCache(time.Minute, cache.WithClock(clock)), auth, GuardConfig{}, nil, logger.NewNop())
	seedSession(t, store, "zzz99999", "access-1", "session-1")

	_, err := local.Authenticate(context.Background(), "zzz99999", nil, nil)
	require.NoError(t, err)

	// другой экземпляр ротировал сессию
	_, err = store.Rotate(context.Background(), "zzz99999", &domain.SessionRecord{AccessToken: "access-2", SessionToken: "session-2", UserID: "u-alice"}, time.Hour)
	require.NoError(t, err)

	_, err = local.Authenticate(context.Background(), "zzz99999", nil, nil)
	assert.NoError(t, err, "запись кэша действует до истечения TTL")

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	_, err = local.Authenticate(context.Background(), "zzz99999", nil, nil)
	requireCode(t, err, errors.ErrSessionNotFound)
}
