package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"DeIDPlatform/pkg/logger"
)

// MockRateLimiter имитирует ratelimit.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockLogger имитирует logger.Logger.
// Поля записи не сравниваются, проверяется только сообщение.
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields ...logger.Field) {
	m.Called(msg)
}

func (m *MockLogger) Info(msg string, fields ...logger.Field) {
	m.Called(msg)
}

func (m *MockLogger) Warn(msg string, fields ...logger.Field) {
	m.Called(msg)
}

func (m *MockLogger) Error(msg string, fields ...logger.Field) {
	m.Called(msg)
}

func (m *MockLogger) With(fields ...logger.Field) logger.Logger {
	return m
}

func (m *MockLogger) Sync() error {
	return m.Called().Error(0)
}
