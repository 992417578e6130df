package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/uuid"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/chain"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
	"DeIDPlatform/services/deid-backend/internal/signer"
)

// Параметры постраничной выборки заданий
const (
	DefaultTaskPageSize = 10
	MaxTaskPageSize     = 100
)

// NetworkResolver сообщает, поддерживается ли сеть
type NetworkResolver interface {
	RPCURL(network string) (string, bool)
}

// CreateTaskRequest данные нового задания
type CreateTaskRequest struct {
	Title                string
	Description          string
	ValidationType       string
	BlockchainNetwork    string
	TokenContractAddress string
	MinimumBalance       string
}

// TaskListQuery фильтры списка в терминах API: типы token/nft и имена сетей
type TaskListQuery struct {
	Types    []string
	Networks []string
	Page     int
	PageSize int
}

// TaskService каталог заданий
type TaskService interface {
	CreateTask(ctx context.Context, principal domain.Principal, req CreateTaskRequest) (*domain.Task, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, query TaskListQuery) (*domain.TaskPage, error)
}

type taskService struct {
	tasks    repository.TaskRepository
	networks NetworkResolver
	logger   logger.Logger
	newID    func() string
}

// NewTaskService создает новый экземпляр TaskService
func NewTaskService(tasks repository.TaskRepository, networks NetworkResolver, log logger.Logger) TaskService {
	return &taskService{
		tasks:    tasks,
		networks: networks,
		logger:   log,
		newID:    func() string { return uuid.New().String() },
	}
}

// typeAliases короткие имена типов, принятые в фильтрах списка
var typeAliases = map[string]domain.ValidationType{
	"token":                                domain.ValidationERC20Balance,
	"nft":                                  domain.ValidationERC721Balance,
	string(domain.ValidationERC20Balance):  domain.ValidationERC20Balance,
	string(domain.ValidationERC721Balance): domain.ValidationERC721Balance,
}

// CreateTask проверяет и сохраняет задание. Доступно только администраторам.
// Загрузка метаданных и регистрация бейджа в контракте выполняются вне сервиса.
func (s *taskService) CreateTask(ctx context.Context, principal domain.Principal, req CreateTaskRequest) (*domain.Task, error) {
	if err := authorize(principal, []string{domain.RoleAdmin}); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.New(errors.ErrInvalidRequest, "task_title is required")
	}

	validationType, ok := typeAliases[strings.ToLower(strings.TrimSpace(req.ValidationType))]
	if !ok {
		return nil, errors.New(errors.ErrUnsupportedValidationType, "Unsupported validation type: "+req.ValidationType)
	}

	network := strings.ToLower(strings.TrimSpace(req.BlockchainNetwork))
	if _, ok := s.networks.RPCURL(network); !ok {
		return nil, errors.New(errors.ErrUnsupportedNetwork, "Unsupported blockchain network: "+req.BlockchainNetwork)
	}

	contract, err := signer.ChecksumAddress(strings.TrimSpace(req.TokenContractAddress))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidRequest, "Invalid token contract address")
	}

	minimum, err := chain.ParseAmount(req.MinimumBalance)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidRequest, "minimum_balance must be a non-negative integer")
	}

	task := &domain.Task{
		ID:                   s.newID(),
		Title:                title,
		Description:          strings.TrimSpace(req.Description),
		ValidationType:       validationType,
		BlockchainNetwork:    network,
		TokenContractAddress: contract,
		MinimumBalance:       minimum.String(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if stderrors.Is(err, repository.ErrAlreadyExists) {
			return nil, errors.Wrap(err, errors.ErrInvalidRequest, "Task already exists")
		}
		s.logger.Error("Failed to create task", logger.CtxField(ctx), logger.Error(err))
		return nil, errors.Wrap(err, errors.ErrInternal, "Failed to create task").WithContext(ctx)
	}

	s.logger.Info("Task created",
		logger.CtxField(ctx),
		logger.String("task_id", task.ID),
		logger.String("admin_id", principal.SubjectID),
		logger.String("validation_type", string(task.ValidationType)),
		logger.String("network", task.BlockchainNetwork),
	)
	return task, nil
}

// GetTask возвращает задание по идентификатору
func (s *taskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.New(errors.ErrTaskNotFound, "Task not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "Failed to get task").WithContext(ctx)
	}
	return task, nil
}

// ListTasks возвращает страницу заданий, новые первыми
func (s *taskService) ListTasks(ctx context.Context, query TaskListQuery) (*domain.TaskPage, error) {
	filter := domain.TaskFilter{Page: query.Page, PageSize: query.PageSize}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.PageSize == 0 {
		filter.PageSize = DefaultTaskPageSize
	}
	if filter.Page < 1 {
		return nil, errors.New(errors.ErrInvalidRequest, "page must be at least 1")
	}
	if filter.PageSize < 1 || filter.PageSize > MaxTaskPageSize {
		return nil, errors.New(errors.ErrInvalidRequest, "page_size must be between 1 and 100")
	}

	for _, t := range query.Types {
		validationType, ok := typeAliases[strings.ToLower(t)]
		if !ok {
			return nil, errors.New(errors.ErrInvalidRequest, "Invalid type filter '"+t+"'. Allowed values: 'token', 'nft'")
		}
		filter.ValidationTypes = append(filter.ValidationTypes, validationType)
	}
	for _, n := range query.Networks {
		network := strings.ToLower(n)
		if _, ok := s.networks.RPCURL(network); !ok {
			return nil, errors.New(errors.ErrInvalidRequest, "Invalid network filter '"+n+"'")
		}
		filter.Networks = append(filter.Networks, network)
	}

	tasks, total, err := s.tasks.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list tasks", logger.CtxField(ctx), logger.Error(err))
		return nil, errors.Wrap(err, errors.ErrInternal, "Failed to list tasks").WithContext(ctx)
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}

	pageSize := int64(filter.PageSize)
	return &domain.TaskPage{
		Tasks: tasks,
		Pagination: domain.Pagination{
			Page:       filter.Page,
			PageSize:   filter.PageSize,
			TotalCount: total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}
