package postgres

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeIDPlatform/pkg/database"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/repository"
)

// setupDB подключается к базе из TEST_DATABASE_URL и применяет миграции.
// Без переменной окружения интеграционные тесты пропускаются.
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	pg := &database.Postgres{Pool: pool}
	require.NoError(t, pg.Migrate(ctx, Migrations(), logger.NewNop()))
	return pool
}

func newTask() *domain.Task {
	return &domain.Task{
		ID:                   "task-" + uuid.New().String()[:8],
		Title:                "Hold USDC",
		Description:          "Hold at least 10 USDC",
		ValidationType:       domain.ValidationERC20Balance,
		BlockchainNetwork:    "ethereum",
		TokenContractAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		MinimumBalance:       "1000000000000000000000",
	}
}

// TestMigrations проверяет, что миграции встроены в бинарник
func TestMigrations(t *testing.T) {
	files, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_create_tasks.sql", "00002_create_task_validations.sql", "00003_index_tasks_listing.sql"}, files)
}

// TestTaskRepository_CreateGet проверяет сохранение и чтение задания
func TestTaskRepository_CreateGet(t *testing.T) {
	pool := setupDB(t)
	repo := NewTaskRepository(pool)
	ctx := context.Background()

	task := newTask()
	require.NoError(t, repo.Create(ctx, task))

	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, domain.ValidationERC20Balance, got.ValidationType)
	assert.Equal(t, "1000000000000000000000", got.MinimumBalance)

	_, err = repo.GetByID(ctx, "missing-task")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, repo.Create(ctx, task), repository.ErrAlreadyExists)
}

// TestTaskRepository_List проверяет фильтры и постраничную выборку
func TestTaskRepository_List(t *testing.T) {
	pool := setupDB(t)
	repo := NewTaskRepository(pool)
	ctx := context.Background()

	// уникальная сеть изолирует тест от других записей
	network := "net-" + uuid.New().String()[:8]
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		task := newTask()
		task.BlockchainNetwork = network
		task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			task.ValidationType = domain.ValidationERC721Balance
		}
		require.NoError(t, repo.Create(ctx, task))
		ids = append(ids, task.ID)
	}

	tasks, total, err := repo.List(ctx, domain.TaskFilter{Networks: []string{network}, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, tasks, 2)
	assert.Equal(t, ids[2], tasks[0].ID)
	assert.Equal(t, ids[1], tasks[1].ID)

	tasks, _, err = repo.List(ctx, domain.TaskFilter{Networks: []string{network}, Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, ids[0], tasks[0].ID)

	tasks, total, err = repo.List(ctx, domain.TaskFilter{
		ValidationTypes: []domain.ValidationType{domain.ValidationERC721Balance},
		Networks:        []string{network},
		Page:            1,
		PageSize:        10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tasks, 1)
	assert.Equal(t, ids[2], tasks[0].ID)
}

// TestValidationRepository_AppendOnly проверяет журнал валидаций
func TestValidationRepository_AppendOnly(t *testing.T) {
	pool := setupDB(t)
	tasks := NewTaskRepository(pool)
	repo := NewValidationRepository(pool)
	ctx := context.Background()

	task := newTask()
	require.NoError(t, tasks.Create(ctx, task))
	userID := "user-" + uuid.New().String()[:8]

	_, err := repo.FindLatest(ctx, userID, task.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, sig := range []string{"0xaa", "0xbb"} {
		require.NoError(t, repo.Create(ctx, &domain.TaskValidation{
			UserID:           userID,
			TaskID:           task.ID,
			WalletAddress:    "0x000000000000000000000000000000000000dEaD",
			ActualBalance:    "100",
			Signature:        sig,
			VerificationHash: "0xhash",
			SignerAddress:    "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
			CreatedAt:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	count, err := repo.CountByUserTask(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	latest, err := repo.FindLatest(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xbb", latest.Signature)
	assert.Equal(t, "100", latest.ActualBalance)

	list, err := repo.ListByUserTask(ctx, userID, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "0xbb", list[0].Signature)
	assert.Equal(t, "0xaa", list[1].Signature)
}
