package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Cause   error             `json:"-"`
	Context context.Context   `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Коды ошибок сессий и аутентификации
const (
	ErrMissingSessionID    ErrorCode = "MISSING_SESSION_ID"
	ErrSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidToken        ErrorCode = "INVALID_TOKEN"
	ErrAuthentication      ErrorCode = "AUTHENTICATION_ERROR"
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
	ErrRefreshFailed       ErrorCode = "REFRESH_FAILED"
	ErrRefreshInvalid      ErrorCode = "REFRESH_INVALID"
	ErrRefreshError        ErrorCode = "REFRESH_ERROR"
	ErrSSOValidationFailed ErrorCode = "SSO_VALIDATION_FAILED"
	ErrServiceTimeout      ErrorCode = "SERVICE_TIMEOUT"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrForbidden           ErrorCode = "INSUFFICIENT_PERMISSIONS"
)

// Коды ошибок валидации заданий и подписи
const (
	ErrInsufficientBalance       ErrorCode = "INSUFFICIENT_BALANCE"
	ErrNoWallet                  ErrorCode = "NO_WALLET"
	ErrInvalidWalletAddress      ErrorCode = "INVALID_WALLET_ADDRESS"
	ErrUnsupportedNetwork        ErrorCode = "UNSUPPORTED_NETWORK"
	ErrUnsupportedValidationType ErrorCode = "UNSUPPORTED_VALIDATION_TYPE"
	ErrInvalidRequest            ErrorCode = "INVALID_REQUEST"
	ErrTaskNotFound              ErrorCode = "TASK_NOT_FOUND"
	ErrNotFound                  ErrorCode = "NOT_FOUND"
	ErrProfileFetchFailed        ErrorCode = "PROFILE_FETCH_FAILED"
	ErrBalanceCheckFailed        ErrorCode = "BALANCE_CHECK_FAILED"
	ErrTooManyRequests           ErrorCode = "TOO_MANY_REQUESTS"
	ErrSignerNotConfigured       ErrorCode = "SIGNER_NOT_CONFIGURED"
	ErrInternal                  ErrorCode = "INTERNAL_ERROR"
)

// httpStatuses единая таблица соответствия кода ошибки и HTTP статуса
var httpStatuses = map[ErrorCode]int{
	ErrMissingSessionID:    http.StatusUnauthorized,
	ErrSessionNotFound:     http.StatusUnauthorized,
	ErrTokenExpired:        http.StatusUnauthorized,
	ErrInvalidToken:        http.StatusUnauthorized,
	ErrAuthentication:      http.StatusUnauthorized,
	ErrValidation:          http.StatusUnauthorized,
	ErrRefreshFailed:       http.StatusUnauthorized,
	ErrRefreshInvalid:      http.StatusUnauthorized,
	ErrRefreshError:        http.StatusUnauthorized,
	ErrSSOValidationFailed: http.StatusUnauthorized,
	ErrServiceTimeout:      http.StatusServiceUnavailable,
	ErrServiceUnavailable:  http.StatusServiceUnavailable,
	ErrForbidden:           http.StatusForbidden,

	ErrInsufficientBalance:       http.StatusBadRequest,
	ErrNoWallet:                  http.StatusBadRequest,
	ErrInvalidWalletAddress:      http.StatusBadRequest,
	ErrUnsupportedNetwork:        http.StatusBadRequest,
	ErrUnsupportedValidationType: http.StatusBadRequest,
	ErrInvalidRequest:            http.StatusBadRequest,
	ErrTaskNotFound:              http.StatusNotFound,
	ErrNotFound:                  http.StatusNotFound,
	ErrProfileFetchFailed:        http.StatusBadGateway,
	ErrBalanceCheckFailed:        http.StatusBadGateway,
	ErrTooManyRequests:           http.StatusTooManyRequests,
	ErrSignerNotConfigured:       http.StatusInternalServerError,
	ErrInternal:                  http.StatusInternalServerError,
}

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is проверяет, является ли ошибка указанного типа
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As извлекает *Error из цепочки ошибок
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf возвращает код ошибки или ErrInternal для посторонних ошибок
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal
}

// clone копирует ошибку, не разделяя карту полей
func (e *Error) clone() *Error {
	c := *e
	if e.Fields != nil {
		c.Fields = make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	c.Details = details
	return c
}

// WithField добавляет машиночитаемое поле к ошибке
func (e *Error) WithField(key, value string) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	c.Fields[key] = value
	return c
}

// WithContext добавляет контекст к ошибке
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	c := e.clone()
	c.Context = ctx
	return c
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}
	if status, ok := httpStatuses[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetUserMessage возвращает сообщение для клиента.
// Если сообщение не задано, используется русское сообщение по умолчанию.
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}

	switch e.HTTPStatus() {
	case http.StatusUnauthorized:
		return "Не авторизован"
	case http.StatusForbidden:
		return "Доступ запрещен"
	case http.StatusNotFound:
		return "Ресурс не найден"
	case http.StatusBadRequest:
		return "Ошибка валидации данных"
	case http.StatusTooManyRequests:
		return "Слишком много запросов"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "Внешний сервис недоступен"
	default:
		return "Внутренняя ошибка сервера"
	}
}

// ErrorBody тело ответа с ошибкой
type ErrorBody struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse ответ API с ошибкой
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteJSON отправляет JSON ответ с ошибкой и статусом по таблице кодов
func WriteJSON(w http.ResponseWriter, err *Error) {
	if err == nil {
		err = New(ErrInternal, "")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())

	response := ErrorResponse{
		Success: false,
		Error: ErrorBody{
			Code:    err.Code,
			Message: err.GetUserMessage(),
			Details: err.Details,
			Fields:  err.Fields,
		},
	}

	if jsonErr := json.NewEncoder(w).Encode(response); jsonErr != nil {
		// Заголовок уже отправлен, пишем минимальное тело
		w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`))
	}
}
