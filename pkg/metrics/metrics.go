package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик
type Metrics struct {
	// HTTP метрики
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec

	// Метрики сессий и подписи
	AuthOutcomes         *prometheus.CounterVec
	SessionRefreshes     *prometheus.CounterVec
	Signatures           *prometheus.CounterVec
	TaskValidations      *prometheus.CounterVec
	BalanceCheckDuration *prometheus.HistogramVec
	PrincipalCacheSize   prometheus.Gauge

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// register регистрирует коллектор, при повторной регистрации возвращает уже существующий
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// NewMetrics создает новую систему метрик
func NewMetrics(serviceName string) *Metrics {
	namespace := strings.ReplaceAll(serviceName, "-", "_")

	return &Metrics{
		RequestCount: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		)),
		RequestDuration: register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		)),
		ErrorsCount: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total number of HTTP errors",
			},
			[]string{"method", "endpoint", "error_type"},
		)),
		AuthOutcomes: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "auth_outcomes_total",
				Help:      "Session authentication outcomes by result code",
			},
			[]string{"code"},
		)),
		SessionRefreshes: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "refresh_total",
				Help:      "Session refresh-and-rotate attempts by outcome",
			},
			[]string{"outcome"},
		)),
		Signatures: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signer",
				Name:      "signatures_total",
				Help:      "Produced validator signatures by kind",
			},
			[]string{"kind"},
		)),
		TaskValidations: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "validations_total",
				Help:      "Task validation attempts by result code",
			},
			[]string{"code"},
		)),
		BalanceCheckDuration: register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "balance_check_duration_seconds",
				Help:      "Duration of on-chain balance checks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"network", "validation_type", "outcome"},
		)),
		PrincipalCacheSize: register(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "principal_cache_entries",
				Help:      "Current number of cached principals",
			},
		)),
		Tracer: otel.Tracer(serviceName),
	}
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.Handler()
}

// Middleware создает middleware для сбора метрик.
// Должен оборачивать ServeMux напрямую, чтобы r.Pattern был заполнен после обработки.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}

		m.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			m.ErrorsCount.WithLabelValues(r.Method, endpoint, errorType).Inc()
		}

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", endpoint),
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Float64("http.duration", duration),
		)
	})
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InitializeOpenTelemetry устанавливает глобальный провайдер трассировки.
// Возвращает функцию остановки провайдера.
func InitializeOpenTelemetry(serviceName, version string) func(context.Context) error {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(0.1))),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown
}

// Методы ниже безопасны для nil-получателя, чтобы сервисы работали без метрик.

// RecordAuthOutcome учитывает результат аутентификации сессии
func (m *Metrics) RecordAuthOutcome(code string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(code).Inc()
}

// RecordRefresh учитывает результат обновления сессии
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.SessionRefreshes.WithLabelValues(outcome).Inc()
}

// RecordSignature учитывает выданную подпись
func (m *Metrics) RecordSignature(kind string) {
	if m == nil {
		return
	}
	m.Signatures.WithLabelValues(kind).Inc()
}

// RecordTaskValidation учитывает результат валидации задания
func (m *Metrics) RecordTaskValidation(code string) {
	if m == nil {
		return
	}
	m.TaskValidations.WithLabelValues(code).Inc()
}

// ObserveBalanceCheck фиксирует длительность проверки баланса
func (m *Metrics) ObserveBalanceCheck(network, validationType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BalanceCheckDuration.WithLabelValues(network, validationType, outcome).Observe(d.Seconds())
}

// SetPrincipalCacheSize обновляет размер кэша принципалов
func (m *Metrics) SetPrincipalCacheSize(size int) {
	if m == nil {
		return
	}
	m.PrincipalCacheSize.Set(float64(size))
}
