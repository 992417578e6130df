package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"DeIDPlatform/pkg/config"
	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/metrics"
	"DeIDPlatform/services/deid-backend/internal/chain"
	"DeIDPlatform/services/deid-backend/internal/client"
	"DeIDPlatform/services/deid-backend/internal/domain"
	"DeIDPlatform/services/deid-backend/internal/producer"
	"DeIDPlatform/services/deid-backend/internal/repository"
	"DeIDPlatform/services/deid-backend/internal/signer"
)

// ProfileFetcher получение профиля пользователя из Decode
type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// BalanceChecker проверка баланса токенов в сети
type BalanceChecker interface {
	RPCURL(network string) (string, bool)
	CheckERC20(ctx context.Context, wallet, token string, minimum *big.Int, rpcURL string) (bool, *big.Int, error)
	CheckERC721(ctx context.Context, wallet, nft string, minimum *big.Int, rpcURL string) (bool, *big.Int, error)
}

// TaskValidationService интерфейс валидации заданий
type TaskValidationService interface {
	ValidateTask(ctx context.Context, taskID, userID string) (*domain.TaskValidationResult, error)
	ListValidations(ctx context.Context, taskID, userID string, limit int) ([]*domain.TaskValidation, error)
}

// TaskValidationDeps зависимости сервиса валидации
type TaskValidationDeps struct {
	Profiles    ProfileFetcher
	Tasks       repository.TaskRepository
	Validations repository.ValidationRepository
	Balances    BalanceChecker
	Signer      MessageSigner
	Events      producer.EventPublisher
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

type taskValidationService struct {
	TaskValidationDeps
	policy string
	tracer trace.Tracer
	now    func() time.Time
}

// NewTaskValidationService создает новый экземпляр TaskValidationService.
// policy: always_refresh или replay, пустое значение означает always_refresh.
func NewTaskValidationService(deps TaskValidationDeps, policy string) TaskValidationService {
	if deps.Events == nil {
		deps.Events = producer.NoopEventPublisher{}
	}
	if policy != config.PolicyReplay {
		policy = config.PolicyAlwaysRefresh
	}
	return &taskValidationService{
		TaskValidationDeps: deps,
		policy:             policy,
		tracer:             otel.Tracer("deid-backend/task-validation"),
		now:                time.Now,
	}
}

// ValidateTask проверяет условие задания для основного кошелька пользователя
// и выдает подпись валидатора, привязанную к кошельку и заданию
func (s *taskValidationService) ValidateTask(ctx context.Context, taskID, userID string) (*domain.TaskValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "TaskValidation.ValidateTask",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	result, err := s.validate(ctx, taskID, userID)

	code := "OK"
	if err != nil {
		code = string(err.Code)
		s.Logger.Warn("Task validation rejected",
			logger.CtxField(ctx),
			logger.String("task_id", taskID),
			logger.String("user_id", userID),
			logger.String("code", code),
			logger.String("reason", err.Message),
		)
	}
	span.SetAttributes(attribute.String("validation.outcome", code))
	s.Metrics.RecordTaskValidation(code)

	if err != nil {
		return nil, err.WithContext(ctx)
	}
	return result, nil
}

func (s *taskValidationService) validate(ctx context.Context, taskID, userID string) (*domain.TaskValidationResult, *errors.Error) {
	s.Logger.Info("Validating task", logger.CtxField(ctx), logger.String("task_id", taskID), logger.String("user_id", userID))

	profile, err := s.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if stderrors.Is(err, client.ErrProfileNotFound) {
			return nil, errors.Wrap(err, errors.ErrProfileFetchFailed, "User data not found")
		}
		return nil, errors.Wrap(err, errors.ErrProfileFetchFailed, "Failed to fetch user profile from Decode")
	}

	if profile.PrimaryWallet == nil || strings.TrimSpace(profile.PrimaryWallet.Address) == "" {
		return nil, errors.New(errors.ErrNoWallet, "User does not have a primary wallet")
	}
	wallet := strings.TrimSpace(profile.PrimaryWallet.Address)
	if _, err := signer.ParseAddress(wallet); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidWalletAddress, "Invalid wallet address")
	}

	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.New(errors.ErrTaskNotFound, "Task not found")
		}
		return nil, errors.Wrap(err, errors.ErrInternal, "Failed to load task")
	}

	previous, err := s.Validations.CountByUserTask(ctx, userID, taskID)
	if err != nil {
		s.Logger.Warn("Failed to count previous validations", logger.CtxField(ctx), logger.Error(err))
		previous = 0
	}

	if s.policy == config.PolicyReplay && previous > 0 {
		if replayed, ok := s.replay(ctx, task, userID, wallet, previous); ok {
			return replayed, nil
		}
	}

	actual, checkErr := s.checkBalance(ctx, task, wallet)
	if checkErr != nil {
		return nil, checkErr
	}

	att, signErr := s.Signer.SignSubjectBound(wallet, task.ID)
	if signErr != nil {
		return nil, signErr
	}
	s.Metrics.RecordSignature("task")
	s.Logger.Info("Generated signature for task",
		logger.CtxField(ctx),
		logger.String("task_id", task.ID),
		logger.String("signature_prefix", att.Signature[:12]),
		logger.String("signer_address", att.SignerAddress),
	)

	record := &domain.TaskValidation{
		UserID:           userID,
		TaskID:           task.ID,
		WalletAddress:    wallet,
		ActualBalance:    actual.String(),
		Signature:        att.Signature,
		VerificationHash: att.MessageHash,
		SignerAddress:    att.SignerAddress,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.Validations.Create(ctx, record); err != nil {
		// Подпись уже выдана, отказ журнала не меняет ответ
		s.Logger.Error("Failed to store task validation", logger.CtxField(ctx), logger.Error(err))
	}

	s.publish(ctx, record)

	return &domain.TaskValidationResult{
		TaskID:              task.ID,
		UserID:              userID,
		WalletAddress:       wallet,
		RequiredBalance:     task.MinimumBalance,
		ActualBalance:       actual.String(),
		Signature:           att.Signature,
		VerificationHash:    att.MessageHash,
		SignerAddress:       att.SignerAddress,
		PreviouslyValidated: previous,
	}, nil
}

// checkBalance выбирает сеть и тип проверки задания и сравнивает баланс с минимумом
func (s *taskValidationService) checkBalance(ctx context.Context, task *domain.Task, wallet string) (*big.Int, *errors.Error) {
	rpcURL, ok := s.Balances.RPCURL(task.BlockchainNetwork)
	if !ok {
		return nil, errors.New(errors.ErrUnsupportedNetwork,
			fmt.Sprintf("Unsupported blockchain network: %s", task.BlockchainNetwork))
	}

	minimum, err := chain.ParseAmount(task.MinimumBalance)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "Invalid task minimum balance")
	}

	var check func(context.Context, string, string, *big.Int, string) (bool, *big.Int, error)
	switch task.ValidationType {
	case domain.ValidationERC20Balance:
		check = s.Balances.CheckERC20
	case domain.ValidationERC721Balance:
		check = s.Balances.CheckERC721
	default:
		return nil, errors.New(errors.ErrUnsupportedValidationType,
			fmt.Sprintf("Unsupported validation type: %s", task.ValidationType))
	}

	start := s.now()
	valid, actual, err := check(ctx, wallet, task.TokenContractAddress, minimum, rpcURL)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.Metrics.ObserveBalanceCheck(task.BlockchainNetwork, string(task.ValidationType), outcome, s.now().Sub(start))

	if err != nil {
		s.Logger.Error("Balance check failed",
			logger.CtxField(ctx),
			logger.String("network", task.BlockchainNetwork),
			logger.Error(err),
		)
		return nil, errors.Wrap(err, errors.ErrBalanceCheckFailed, "Failed to check on-chain balance")
	}

	if !valid {
		return nil, errors.New(errors.ErrInsufficientBalance,
			fmt.Sprintf("Insufficient balance. Required: %s, Actual: %s", minimum.String(), actual.String())).
			WithField("required_balance", minimum.String()).
			WithField("actual_balance", actual.String())
	}
	return actual, nil
}

// replay возвращает последнюю сохраненную подпись, если она выдана тому же кошельку
func (s *taskValidationService) replay(ctx context.Context, task *domain.Task, userID, wallet string, previous int64) (*domain.TaskValidationResult, bool) {
	latest, err := s.Validations.FindLatest(ctx, userID, task.ID)
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			s.Logger.Warn("Failed to load latest validation", logger.CtxField(ctx), logger.Error(err))
		}
		return nil, false
	}
	if !strings.EqualFold(latest.WalletAddress, wallet) {
		return nil, false
	}

	s.Logger.Info("Task already validated for this user, returning existing validation",
		logger.CtxField(ctx),
		logger.String("task_id", task.ID),
		logger.String("user_id", userID),
	)
	return &domain.TaskValidationResult{
		TaskID:              task.ID,
		UserID:              userID,
		WalletAddress:       latest.WalletAddress,
		RequiredBalance:     task.MinimumBalance,
		ActualBalance:       latest.ActualBalance,
		Signature:           latest.Signature,
		VerificationHash:    latest.VerificationHash,
		SignerAddress:       latest.SignerAddress,
		PreviouslyValidated: previous,
		Replayed:            true,
	}, true
}

func (s *taskValidationService) publish(ctx context.Context, record *domain.TaskValidation) {
	event := &domain.TaskValidatedEvent{
		EventID:       uuid.New().String(),
		TaskID:        record.TaskID,
		UserID:        record.UserID,
		WalletAddress: record.WalletAddress,
		Signature:     record.Signature,
		ValidatedAt:   record.CreatedAt,
	}
	if err := s.Events.PublishTaskValidated(ctx, event); err != nil {
		s.Logger.Warn("Failed to publish task.validated event",
			logger.CtxField(ctx),
			logger.String("event_id", event.EventID),
			logger.Error(err),
		)
	}
}

// ListValidations возвращает валидации пользователя по заданию, новые первыми
func (s *taskValidationService) ListValidations(ctx context.Context, taskID, userID string, limit int) ([]*domain.TaskValidation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	validations, err := s.Validations.ListByUserTask(ctx, userID, taskID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "Failed to list validations")
	}
	return validations, nil
}
