package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/health"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/ratelimit"
	"DeIDPlatform/pkg/validation"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/middleware"
	"DeIDPlatform/services/deid-backend/internal/service"
)

// maxBodySize ограничение размера тела запроса
const maxBodySize = 64 << 10

// Deps зависимости HTTP слоя
type Deps struct {
	Guard       service.SessionGuard
	Sessions    service.SessionService
	Tasks       service.TaskValidationService
	Catalog     service.TaskService
	Profiles    service.ProfileService
	Metadata    service.MetadataService
	Cookies     *middleware.CookieWriter
	RateLimiter ratelimit.RateLimiter
	// TaskRateLimit запросов валидации в минуту на пользователя, 0 отключает ограничение
	TaskRateLimit int
	Health        health.HealthChecker
	Metrics       http.Handler
	Logger        logger.Logger
}

// Handler структура для управления HTTP обработчиками
type Handler struct {
	Deps
	mux       *http.ServeMux
	validator *validation.Validator
}

// SuccessResponse ответ API при успехе
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// NewHandler создает новый экземпляр Handler
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		Deps:      deps,
		mux:       http.NewServeMux(),
		validator: validation.NewValidator(),
	}
	h.setupRoutes()
	return h
}

// ServeHTTP реализует интерфейс http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// setupRoutes настраивает маршруты для приложения
func (h *Handler) setupRoutes() {
	authenticated := middleware.SessionAuth(h.Guard, h.Cookies, h.Logger)
	adminOnly := middleware.SessionAuth(h.Guard, h.Cookies, h.Logger, domain.RoleAdmin)

	// Публичные роуты
	h.mux.HandleFunc("POST /api/v1/decode/sso-validate", h.handleSSOValidate)
	h.mux.HandleFunc("POST /api/v1/decode/logout", h.handleLogout)
	h.mux.HandleFunc("GET /api/v1/task/list", h.handleListTasks)
	h.mux.HandleFunc("GET /api/v1/task/{task_id}", h.handleGetTask)

	// Защищенные роуты
	h.mux.Handle("GET /api/v1/decode/me", authenticated(http.HandlerFunc(h.handleMe)))
	h.mux.Handle("GET /api/v1/decode/my-profile", authenticated(http.HandlerFunc(h.handleMyProfile)))
	h.mux.Handle("POST /api/v1/task/create", adminOnly(http.HandlerFunc(h.handleCreateTask)))
	h.mux.Handle("POST /api/v1/task/{task_id}/validate", authenticated(h.taskRateLimit(http.HandlerFunc(h.handleValidateTask))))
	h.mux.Handle("GET /api/v1/task/{task_id}/validations", authenticated(http.HandlerFunc(h.handleListValidations)))
	h.mux.Handle("POST /api/v1/admin/sign-metadata", adminOnly(http.HandlerFunc(h.handleSignMetadata)))

	// Health check роуты
	if h.Health != nil {
		h.mux.HandleFunc("GET /health", health.Handler(h.Health))
		h.mux.HandleFunc("GET /ready", health.ReadyHandler(h.Health))
	}
	h.mux.HandleFunc("GET /live", health.LiveHandler())
	if h.Metrics != nil {
		h.mux.Handle("GET /metrics", h.Metrics)
	}
}

// taskRateLimit ограничивает частоту валидаций на пользователя
func (h *Handler) taskRateLimit(next http.Handler) http.Handler {
	if h.RateLimiter == nil || h.TaskRateLimit <= 0 {
		return next
	}
	return middleware.RateLimitMiddleware(h.RateLimiter, h.TaskRateLimit, time.Minute, middleware.PrincipalKey, h.Logger)(next)
}

type ssoValidateRequest struct {
	SSOToken string `json:"sso_token"`
}

// handleSSOValidate обменивает SSO токен на cookie сессии
func (h *Handler) handleSSOValidate(w http.ResponseWriter, r *http.Request) {
	var req ssoValidateRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validator.ValidateRequired(req.SSOToken, "sso_token"); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	sessionID, ttl, err := h.Sessions.ExchangeSSOToken(r.Context(), req.SSOToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Cookies.Set(w, sessionID, ttl)
	h.writeSuccess(w, "SSO token validated successfully", nil)
}

// handleLogout удаляет сессию и cookie
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(r.Context(), h.Cookies.SessionID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Cookies.Clear(w)
	h.writeSuccess(w, "Logged out", nil)
}

// handleMe возвращает текущего пользователя
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	h.writeSuccess(w, "User authenticated", principal)
}

// handleMyProfile возвращает профиль текущего пользователя из Decode
func (h *Handler) handleMyProfile(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	profile, err := h.Profiles.GetMyProfile(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, "Profile retrieved", profile)
}

type createTaskRequest struct {
	TaskTitle            string      `json:"task_title"`
	TaskDescription      string      `json:"task_description"`
	ValidationType       string      `json:"validation_type"`
	BlockchainNetwork    string      `json:"blockchain_network"`
	TokenContractAddress string      `json:"token_contract_address"`
	MinimumBalance       json.Number `json:"minimum_balance"`
}

// handleCreateTask создает задание (только администратор)
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, field := range [][2]string{
		{"task_title", req.TaskTitle},
		{"validation_type", req.ValidationType},
		{"blockchain_network", req.BlockchainNetwork},
		{"token_contract_address", req.TokenContractAddress},
		{"minimum_balance", req.MinimumBalance.String()},
	} {
		if err := h.validator.ValidateRequired(field[1], field[0]); err != nil {
			h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
			return
		}
	}
	if err := h.validator.ValidateEthAddress(req.TokenContractAddress, "token_contract_address"); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	task, err := h.Catalog.CreateTask(r.Context(), principal, service.CreateTaskRequest{
		Title:                req.TaskTitle,
		Description:          req.TaskDescription,
		ValidationType:       req.ValidationType,
		BlockchainNetwork:    req.BlockchainNetwork,
		TokenContractAddress: req.TokenContractAddress,
		MinimumBalance:       req.MinimumBalance.String(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, "Task created successfully", task)
}

// handleListTasks возвращает страницу заданий с фильтрами type и network
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize, err := queryInt(q.Get("page_size"), "page_size")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, listErr := h.Catalog.ListTasks(r.Context(), service.TaskListQuery{
		Types:    q["type"],
		Networks: q["network"],
		Page:     page,
		PageSize: pageSize,
	})
	if listErr != nil {
		h.writeError(w, r, listErr)
		return
	}
	h.writeSuccess(w, "Tasks retrieved successfully", result)
}

// handleGetTask возвращает задание по идентификатору
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if err := h.validator.ValidateIdentifier(taskID, "task_id"); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	task, err := h.Catalog.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, "Task retrieved successfully", task)
}

// handleValidateTask проверяет условие задания и выдает подпись
func (h *Handler) handleValidateTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if err := h.validator.ValidateIdentifier(taskID, "task_id"); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	result, err := h.Tasks.ValidateTask(r.Context(), taskID, principal.SubjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Task validated successfully"
	if result.Replayed {
		message = "Task already validated for this user"
	}
	h.writeSuccess(w, message, result)
}

// handleListValidations возвращает валидации задания текущего пользователя
func (h *Handler) handleListValidations(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if err := h.validator.ValidateIdentifier(taskID, "task_id"); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	limit, limitErr := queryInt(r.URL.Query().Get("limit"), "limit")
	if limitErr != nil {
		h.writeError(w, r, limitErr)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	validations, err := h.Tasks.ListValidations(r.Context(), taskID, principal.SubjectID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if validations == nil {
		validations = []*domain.TaskValidation{}
	}
	h.writeSuccess(w, "Validations retrieved", validations)
}

type signMetadataRequest struct {
	MetadataURI string `json:"metadata_uri"`
}

// handleSignMetadata подписывает URI метаданных бейджа
func (h *Handler) handleSignMetadata(w http.ResponseWriter, r *http.Request) {
	var req signMetadataRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validator.ValidateURL(req.MetadataURI, []string{"ipfs", "https"}); err != nil {
		h.writeError(w, r, errors.New(errors.ErrInvalidRequest, err.Error()))
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	att, err := h.Metadata.SignMetadata(r.Context(), principal, req.MetadataURI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, "Metadata signed", att)
}

// queryInt разбирает числовой параметр запроса, пустое значение дает 0
func queryInt(raw, name string) (int, *errors.Error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(errors.ErrInvalidRequest, name+" must be a number")
	}
	return n, nil
}

// decodeBody разбирает JSON тело запроса
func (h *Handler) decodeBody(r *http.Request, v interface{}) *errors.Error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrInvalidRequest, "Invalid request body")
	}
	return nil
}

func (h *Handler) writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(SuccessResponse{Success: true, Message: message, Data: data}); err != nil {
		h.Logger.Error("Failed to encode response", logger.Error(err))
	}
}

// writeError отправляет ошибку. Посторонние ошибки становятся INTERNAL_ERROR.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrInternal, "Internal server error")
	}
	if appErr.HTTPStatus() >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			logger.CtxField(r.Context()),
			logger.String("path", r.URL.Path),
			logger.String("code", string(appErr.Code)),
			logger.Error(err),
		)
	}
	errors.WriteJSON(w, appErr)
}
