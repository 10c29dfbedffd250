package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
)

type CreateRuleParams struct {
	Name        string
	Description *string

	EventType    models.ReferralEventType
	ReferrerType string

	RewardType  models.RewardType
	RewardValue decimal.Decimal

	AppliesToLevel int
}

// CreateRule adds an active reward rule. New events start matching it
// immediately; already processed events are never re-evaluated.
func (s *Service) CreateRule(ctx context.Context, params CreateRuleParams) (models.RewardRule, error) {
	if !params.EventType.Valid() {
		return models.RewardRule{}, apperrors.ErrInvalidEventType
	}
	if !params.RewardValue.IsPositive() {
		return models.RewardRule{}, apperrors.ErrAmountNotPositive
	}
	switch params.RewardType {
	case models.RewardFixed, models.RewardPercentage, models.RewardPoints:
	default:
		return models.RewardRule{}, apperrors.ErrInvalidRewardType
	}

	referrerType := params.ReferrerType
	switch referrerType {
	case models.ReferrerPatient, models.ReferrerDoctor, models.ReferrerAny:
	default:
		referrerType = models.ReferrerAny
	}

	level := params.AppliesToLevel
	if level < 1 {
		level = 1
	}

	now := time.Now()

	return s.storage.Rule().CreateRule(ctx, models.RewardRule{
		ID:             uuid.New(),
		Name:           params.Name,
		Description:    params.Description,
		EventType:      params.EventType,
		ReferrerType:   referrerType,
		RewardType:     params.RewardType,
		RewardValue:    params.RewardValue,
		AppliesToLevel: level,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *Service) ListRules(ctx context.Context) ([]models.RewardRule, error) {
	return s.storage.Rule().ListRules(ctx)
}

// SetRuleActive toggles a rule without deleting its history.
func (s *Service) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.storage.Rule().SetRuleActive(ctx, id, active)
}
