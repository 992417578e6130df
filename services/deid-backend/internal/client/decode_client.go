package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// ErrProfileNotFound профиль получен, но данных пользователя нет
var ErrProfileNotFound = errors.New("user data not found")

// Config настройки клиента Decode
type Config struct {
	AuthServiceURL  string
	BackendURL      string
	UserAgent       string
	ValidateTimeout time.Duration
	RefreshTimeout  time.Duration
	ProfileTimeout  time.Duration
}

// DecodeClient клиент auth-сервиса и backend Decode
type DecodeClient struct {
	config Config
	http   *http.Client
	logger logger.Logger
}

// NewDecodeClient создает новый клиент Decode.
// Таймауты задаются на каждый вызов через контекст.
func NewDecodeClient(config Config, httpClient *http.Client, log logger.Logger) *DecodeClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.UserAgent == "" {
		config.UserAgent = "DEID-Backend/1.0"
	}
	return &DecodeClient{
		config: config,
		http:   httpClient,
		logger: log,
	}
}

// envelope общий формат ответов Decode
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// ValidateStatus исход проверки access токена
type ValidateStatus int

const (
	// ValidateValid токен действителен
	ValidateValid ValidateStatus = iota
	// ValidateExpired сервис ответил 401
	ValidateExpired
	// ValidateInvalid сервис доступен, но отклонил токен (success=false или нет data)
	ValidateInvalid
	// ValidateTimeout сервис не ответил вовремя
	ValidateTimeout
	// ValidateUnavailable ошибка соединения
	ValidateUnavailable
	// ValidateMalformed ответ не удалось разобрать
	ValidateMalformed
)

func (s ValidateStatus) String() string {
	switch s {
	case ValidateValid:
		return "valid"
	case ValidateExpired:
		return "expired"
	case ValidateInvalid:
		return "invalid"
	case ValidateTimeout:
		return "timeout"
	case ValidateUnavailable:
		return "unavailable"
	default:
		return "malformed"
	}
}

// ValidateResult результат проверки токена. Principal заполнен только для ValidateValid.
type ValidateResult struct {
	Status    ValidateStatus
	Principal domain.Principal
	Err       error
}

type principalData struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ValidateAccessToken проверяет access токен в auth-сервисе
func (c *DecodeClient) ValidateAccessToken(ctx context.Context, accessToken string) ValidateResult {
	ctx, cancel := context.WithTimeout(ctx, c.config.ValidateTimeout)
	defer cancel()

	endpoint := c.config.AuthServiceURL + "/auth/info/by-access-token"
	status, body, err := c.postJSON(ctx, endpoint, map[string]string{"access_token": accessToken})
	if err != nil {
		if isTimeout(ctx, err) {
			c.logger.Error("Auth service timeout", logger.Duration("timeout", c.config.ValidateTimeout))
			return ValidateResult{Status: ValidateTimeout, Err: err}
		}
		c.logger.Error("Auth service connection error", logger.Error(err))
		return ValidateResult{Status: ValidateUnavailable, Err: err}
	}

	if status == http.StatusUnauthorized {
		return ValidateResult{Status: ValidateExpired}
	}
	// 5xx означает недоступность сервиса, а не отказ в токене: обновление не запускается
	if status >= http.StatusInternalServerError {
		c.logger.Warn("Auth service returned server error", logger.Int("status", status))
		return ValidateResult{Status: ValidateUnavailable, Err: fmt.Errorf("auth service returned status %d", status)}
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("Auth service returned unexpected status", logger.Int("status", status))
		return ValidateResult{Status: ValidateMalformed, Err: fmt.Errorf("unexpected validate status %d", status)}
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("Token validation response is not valid JSON", logger.Int("status", status))
		return ValidateResult{Status: ValidateMalformed, Err: fmt.Errorf("failed to decode validate response: %w", err)}
	}
	if !resp.Success || !resp.hasData() {
		return ValidateResult{Status: ValidateInvalid}
	}

	var data principalData
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.ID == "" {
		if err == nil {
			err = errors.New("principal id is missing")
		}
		return ValidateResult{Status: ValidateMalformed, Err: fmt.Errorf("failed to decode principal: %w", err)}
	}

	role := data.Role
	if role == "" {
		role = domain.RoleUser
	}
	return ValidateResult{
		Status: ValidateValid,
		Principal: domain.Principal{
			SubjectID: data.ID,
			Email:     data.Email,
			Username:  data.Username,
			Role:      role,
		},
	}
}

// RefreshStatus исход обновления сессии у провайдера
type RefreshStatus int

const (
	// RefreshRefreshed новая пара токенов получена
	RefreshRefreshed RefreshStatus = iota
	// RefreshRejected ответ не 2xx или success=false
	RefreshRejected
	// RefreshIncomplete в ответе нет токенов или срока действия
	RefreshIncomplete
	// RefreshFailed транспортная ошибка или неразбираемый ответ
	RefreshFailed
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshRefreshed:
		return "refreshed"
	case RefreshRejected:
		return "rejected"
	case RefreshIncomplete:
		return "incomplete"
	default:
		return "failed"
	}
}

// RefreshResult результат обновления сессии
type RefreshResult struct {
	Status       RefreshStatus
	AccessToken  string
	SessionToken string
	ExpiresAt    time.Time
	Err          error
}

// TTL возвращает оставшееся время жизни в целых секундах, не меньше одной секунды
func (r RefreshResult) TTL(now time.Time) time.Duration {
	return CountdownTTL(r.ExpiresAt, now)
}

type tokenData struct {
	AccessToken  string `json:"access_token"`
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	ExpiresAt    string `json:"expires_at"`
}

// RefreshSession обменивает session токен на новую пару токенов
func (c *DecodeClient) RefreshSession(ctx context.Context, sessionToken string) RefreshResult {
	ctx, cancel := context.WithTimeout(ctx, c.config.RefreshTimeout)
	defer cancel()

	endpoint := c.config.BackendURL + "/auth/session/refresh"
	status, body, err := c.postJSON(ctx, endpoint, map[string]string{"session_token": sessionToken})
	if err != nil {
		c.logger.Error("Refresh session error", logger.Error(err))
		return RefreshResult{Status: RefreshFailed, Err: err}
	}

	if status < 200 || status >= 300 {
		return RefreshResult{Status: RefreshRejected, Err: fmt.Errorf("refresh returned status %d", status)}
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return RefreshResult{Status: RefreshFailed, Err: fmt.Errorf("failed to decode refresh response: %w", err)}
	}
	if !resp.Success || !resp.hasData() {
		return RefreshResult{Status: RefreshRejected, Err: errors.New("refresh was not successful")}
	}

	var data tokenData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return RefreshResult{Status: RefreshIncomplete, Err: fmt.Errorf("failed to decode refresh payload: %w", err)}
	}
	if data.AccessToken == "" || data.SessionToken == "" || data.ExpiresAt == "" {
		return RefreshResult{Status: RefreshIncomplete, Err: errors.New("refresh payload is missing fields")}
	}

	expiresAt, err := ParseExpiry(data.ExpiresAt)
	if err != nil {
		return RefreshResult{Status: RefreshIncomplete, Err: err}
	}

	return RefreshResult{
		Status:       RefreshRefreshed,
		AccessToken:  data.AccessToken,
		SessionToken: data.SessionToken,
		ExpiresAt:    expiresAt,
	}
}

// SSOStatus исход проверки SSO токена
type SSOStatus int

const (
	// SSOValid токен принят, получены токены сессии
	SSOValid SSOStatus = iota
	// SSORejected токен отклонен или ответ неполный
	SSORejected
	// SSOUnavailable сервис недоступен
	SSOUnavailable
)

// SSOResult результат проверки SSO токена
type SSOResult struct {
	Status       SSOStatus
	AccessToken  string
	SessionToken string
	UserID       string
	ExpiresAt    time.Time
	Err          error
}

// ValidateSSOToken проверяет одноразовый SSO токен в backend Decode
func (c *DecodeClient) ValidateSSOToken(ctx context.Context, ssoToken string) SSOResult {
	// SSO и профиль обслуживает один backend, таймаут общий
	ctx, cancel := context.WithTimeout(ctx, c.config.ProfileTimeout)
	defer cancel()

	endpoint := c.config.BackendURL + "/auth/sso/validate"
	c.logger.Info("Validating SSO token with external service", logger.String("url", endpoint))

	status, body, err := c.postJSON(ctx, endpoint, map[string]string{"sso_token": ssoToken})
	if err != nil {
		c.logger.Error("Failed to connect to external service", logger.Error(err))
		return SSOResult{Status: SSOUnavailable, Err: err}
	}
	if status < 200 || status >= 300 {
		c.logger.Error("SSO validation failed", logger.Int("status", status))
		return SSOResult{Status: SSORejected, Err: fmt.Errorf("sso validate returned status %d", status)}
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return SSOResult{Status: SSORejected, Err: fmt.Errorf("failed to decode sso response: %w", err)}
	}
	if !resp.Success || !resp.hasData() {
		return SSOResult{Status: SSORejected, Err: errors.New("sso validation was not successful")}
	}

	var data tokenData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return SSOResult{Status: SSORejected, Err: fmt.Errorf("failed to decode sso payload: %w", err)}
	}
	if data.AccessToken == "" || data.ExpiresAt == "" {
		return SSOResult{Status: SSORejected, Err: errors.New("sso payload is missing fields")}
	}

	expiresAt, err := ParseExpiry(data.ExpiresAt)
	if err != nil {
		return SSOResult{Status: SSORejected, Err: err}
	}

	return SSOResult{
		Status:       SSOValid,
		AccessToken:  data.AccessToken,
		SessionToken: data.SessionToken,
		UserID:       data.UserID,
		ExpiresAt:    expiresAt,
	}
}

// GetProfile получает профиль пользователя из backend Decode.
// ErrProfileNotFound возвращается, если ответ успешен, но data пуст.
func (c *DecodeClient) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProfileTimeout)
	defer cancel()

	endpoint := c.config.BackendURL + "/users/profile/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("profile service returned status %d", status)
	}

	var resp envelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("profile service reported failure: %s", resp.Message)
	}
	if !resp.hasData() {
		return nil, ErrProfileNotFound
	}

	var profile domain.Profile
	if err := json.Unmarshal(resp.Data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

func (c *DecodeClient) postJSON(ctx context.Context, endpoint string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	return c.do(req)
}

func (c *DecodeClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseExpiry разбирает ISO8601 время. Время без зоны считается UTC.
func ParseExpiry(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expires_at: %q", value)
}

// CountdownTTL возвращает max(1s, expiresAt-now) в целых секундах
func CountdownTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now).Truncate(time.Second)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
