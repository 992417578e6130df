package service

import (
	"context"
	stderrors "errors"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/client"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// ProfileService профиль текущего пользователя из Decode
type ProfileService interface {
	GetMyProfile(ctx context.Context, principal domain.Principal) (*domain.Profile, error)
}

type profileService struct {
	profiles ProfileFetcher
	logger   logger.Logger
}

// NewProfileService создает новый экземпляр ProfileService
func NewProfileService(profiles ProfileFetcher, log logger.Logger) ProfileService {
	return &profileService{profiles: profiles, logger: log}
}

func (s *profileService) GetMyProfile(ctx context.Context, principal domain.Principal) (*domain.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx, principal.SubjectID)
	if err != nil {
		if stderrors.Is(err, client.ErrProfileNotFound) {
			return nil, errors.Wrap(err, errors.ErrProfileFetchFailed, "User data not found")
		}
		s.logger.Warn("Failed to fetch profile", logger.CtxField(ctx), logger.String("user_id", principal.SubjectID), logger.Error(err))
		return nil, errors.Wrap(err, errors.ErrProfileFetchFailed, "Failed to fetch user profile from Decode")
	}
	return profile, nil
}
