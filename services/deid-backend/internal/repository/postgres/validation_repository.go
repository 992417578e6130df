package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

const validationColumns = `id, user_id, task_id, wallet_address, actual_balance::text,
	signature, verification_hash, signer_address, created_at`

// ValidationRepository журнал валидаций заданий в PostgreSQL
type ValidationRepository struct {
	*BaseRepository
}

// NewValidationRepository создает новый экземпляр ValidationRepository
func NewValidationRepository(db DB) repository.ValidationRepository {
	return &ValidationRepository{BaseRepository: NewBaseRepository(db)}
}

// Create добавляет запись о валидации. Существующие записи не изменяются.
func (r *ValidationRepository) Create(ctx context.Context, v *domain.TaskValidation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO task_validations (id, user_id, task_id, wallet_address, actual_balance,
		signature, verification_hash, signer_address, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9)`

	_, err := r.DB.Exec(ctx, query,
		v.ID,
		v.UserID,
		v.TaskID,
		v.WalletAddress,
		v.ActualBalance,
		v.Signature,
		v.VerificationHash,
		v.SignerAddress,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task validation: %w", err)
	}

	return nil
}

// FindLatest возвращает последнюю валидацию пары (пользователь, задание)
func (r *ValidationRepository) FindLatest(ctx context.Context, userID, taskID string) (*domain.TaskValidation, error) {
	query := `SELECT ` + validationColumns + ` FROM task_validations
		WHERE user_id = $1 AND task_id = $2 ORDER BY created_at DESC LIMIT 1`

	v, err := scanValidation(r.DB.QueryRow(ctx, query, userID, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest task validation: %w", err)
	}
	return v, nil
}

// CountByUserTask возвращает количество валидаций пары (пользователь, задание)
func (r *ValidationRepository) CountByUserTask(ctx context.Context, userID, taskID string) (int64, error) {
	var count int64
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_validations WHERE user_id = $1 AND task_id = $2`,
		userID, taskID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count task validations: %w", err)
	}
	return count, nil
}

// ListByUserTask возвращает валидации пары, новые первыми
func (r *ValidationRepository) ListByUserTask(ctx context.Context, userID, taskID string, limit int) ([]*domain.TaskValidation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + validationColumns + ` FROM task_validations
		WHERE user_id = $1 AND task_id = $2 ORDER BY created_at DESC LIMIT $3`

	rows, err := r.DB.Query(ctx, query, userID, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task validations: %w", err)
	}
	defer rows.Close()

	validations := make([]*domain.TaskValidation, 0)
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task validation: %w", err)
		}
		validations = append(validations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task validations: %w", err)
	}

	return validations, nil
}

func scanValidation(row pgx.Row) (*domain.TaskValidation, error) {
	var v domain.TaskValidation
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.TaskID,
		&v.WalletAddress,
		&v.ActualBalance,
		&v.Signature,
		&v.VerificationHash,
		&v.SignerAddress,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
