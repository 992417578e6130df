package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

// TaskRepository реализация репозитория заданий для PostgreSQL
type TaskRepository struct {
	*BaseRepository
}

// NewTaskRepository создает новый экземпляр TaskRepository
func NewTaskRepository(db DB) repository.TaskRepository {
	return &TaskRepository{BaseRepository: NewBaseRepository(db)}
}

const taskColumns = `id, task_title, task_description, validation_type, blockchain_network,
	token_contract_address, minimum_balance::text, tx_hash, block_number, created_at, updated_at`

// GetByID возвращает задание по идентификатору
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.DB.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task by id: %w", err)
	}
	return task, nil
}

// List возвращает страницу заданий, новые первыми
func (r *TaskRepository) List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, int64, error) {
	var conditions []string
	var args []interface{}

	if len(filter.ValidationTypes) > 0 {
		types := make([]string, len(filter.ValidationTypes))
		for i, t := range filter.ValidationTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		conditions = append(conditions, fmt.Sprintf("validation_type = ANY($%d)", len(args)))
	}
	if len(filter.Networks) > 0 {
		args = append(args, filter.Networks)
		conditions = append(conditions, fmt.Sprintf("blockchain_network = ANY($%d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize
	if offset < 0 {
		offset = 0
	}
	args = append(args, filter.PageSize, offset)
	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0, filter.PageSize)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, total, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var validationType string
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&validationType,
		&task.BlockchainNetwork,
		&task.TokenContractAddress,
		&task.MinimumBalance,
		&task.TxHash,
		&task.BlockNumber,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.ValidationType = domain.ValidationType(validationType)
	return &task, nil
}

// Create сохраняет новое задание
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query := `INSERT INTO tasks (id, task_title, task_description, validation_type, blockchain_network,
		token_contract_address, minimum_balance, tx_hash, block_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11)`

	_, err := r.DB.Exec(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		string(task.ValidationType),
		task.BlockchainNetwork,
		task.TokenContractAddress,
		task.MinimumBalance,
		task.TxHash,
		task.BlockNumber,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}
