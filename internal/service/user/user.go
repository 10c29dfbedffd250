package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository"
)

// Service creates users together with their loyalty account: one without the
// other must not be observable.
type Service struct {
	hasher  PasswordHasher
	storage repository.Storage
}

func NewService(hasher PasswordHasher, storage repository.Storage) *Service {
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &Service{
		hasher:  hasher,
		storage: storage,
	}
}

type CreateUserParams struct {
	Email      string
	FullName   string
	Password   string
	Role       string
	ExternalID *string
}

func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	var user models.User

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password: %w", err)
	}

	role := params.Role
	if role == "" {
		role = models.RolePatient
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		user, err = st.User().CreateUser(ctx, models.User{
			ID:           uuid.New(),
			CreatedAt:    time.Now(),
			Email:        params.Email,
			FullName:     params.FullName,
			PasswordHash: hash,
			Role:         role,
			ExternalID:   params.ExternalID,
			IsActive:     true,
		})
		if err != nil {
			return fmt.Errorf("can't create user: %w", err)
		}

		if _, err := st.Account().CreateAccount(ctx, user.ID); err != nil {
			return fmt.Errorf("can't create loyalty account: %w", err)
		}

		return nil
	})

	return user, err
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, id)
}

func (s *Service) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	return s.storage.User().GetUserByExternalID(ctx, externalID)
}
