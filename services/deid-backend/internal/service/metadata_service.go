package service

import (
	"context"
	"strings"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/metrics"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// MessageSigner подпись сообщений ключом валидатора
type MessageSigner interface {
	SignPlain(message string) (*domain.Attestation, *errors.Error)
	SignSubjectBound(subjectAddress, taskID string) (*domain.Attestation, *errors.Error)
}

// MetadataService подписывает URI метаданных бейджей
type MetadataService interface {
	SignMetadata(ctx context.Context, principal domain.Principal, metadataURI string) (*domain.Attestation, error)
}

type metadataService struct {
	signer  MessageSigner
	metrics *metrics.Metrics
	logger  logger.Logger
}

// NewMetadataService создает новый экземпляр MetadataService
func NewMetadataService(signer MessageSigner, m *metrics.Metrics, log logger.Logger) MetadataService {
	return &metadataService{signer: signer, metrics: m, logger: log}
}

// SignMetadata подписывает URI метаданных. Доступно только администраторам.
func (s *metadataService) SignMetadata(ctx context.Context, principal domain.Principal, metadataURI string) (*domain.Attestation, error) {
	if err := authorize(principal, []string{domain.RoleAdmin}); err != nil {
		return nil, err
	}

	metadataURI = strings.TrimSpace(metadataURI)
	if metadataURI == "" {
		return nil, errors.New(errors.ErrInvalidRequest, "metadata_uri is required")
	}

	att, signErr := s.signer.SignPlain(metadataURI)
	if signErr != nil {
		s.logger.Error("Failed to sign metadata", logger.CtxField(ctx), logger.Error(signErr))
		return nil, signErr
	}

	s.metrics.RecordSignature("metadata")
	s.logger.Info("Metadata signed",
		logger.CtxField(ctx),
		logger.String("admin_id", principal.SubjectID),
		logger.String("metadata_uri", metadataURI),
		logger.String("message_hash", att.MessageHash),
	)
	return att, nil
}
