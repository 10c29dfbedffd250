package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository"
	"github.com/medpoint/loyalty/internal/service/ledger"
)

// Service turns referral events into reward postings. Event creation, rule
// evaluation, postings and code counters all land in one transaction: either
// the event is fully processed or it never happened.
type Service struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		logger:  l,
	}
}

// EnsureCode returns the user's active referral code, creating one when
// absent. A custom code that is already taken fails with ErrReferralCodeTaken.
func (s *Service) EnsureCode(ctx context.Context, userID uuid.UUID, referrerType string, customCode *string) (models.ReferralCode, error) {
	if referrerType != models.ReferrerDoctor {
		referrerType = models.ReferrerPatient
	}

	var code models.ReferralCode

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		existing, err := st.Referral().GetActiveCodeByUserID(ctx, userID)

		switch {
		case err == nil:
			code = existing
			return nil
		case !errors.Is(err, apperrors.ErrReferralCodeNotFound):
			return err
		}

		value := ""
		if customCode != nil {
			value = *customCode
		} else {
			value, err = newCode()
			if err != nil {
				return err
			}
		}

		code, err = st.Referral().CreateCode(ctx, models.ReferralCode{
			ID:           uuid.New(),
			UserID:       userID,
			Code:         value,
			ReferrerType: referrerType,
			IsActive:     true,
			CreatedAt:    time.Now(),
		})
		return err
	})

	return code, err
}

// Deactivate retires the user's active code. Codes are never deleted, so
// already registered events keep their reference.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	code, err := s.storage.Referral().GetActiveCodeByUserID(ctx, userID)
	if err != nil {
		return err
	}

	return s.storage.Referral().DeactivateCode(ctx, code.ID)
}

type RegisterEventParams struct {
	Code           string
	ReferredUserID uuid.UUID
	EventType      models.ReferralEventType

	// Required by percentage rules; also accumulated into code revenue
	TransactionAmount *decimal.Decimal

	// ERP document id; replays of the same document return the stored event
	ExternalDocID *string

	Metadata map[string]any
}

// RegisterEvent records a referral milestone and synchronously evaluates all
// matching active reward rules. Every matching rule pays out independently;
// stacked rewards are the documented behavior, not a bug.
func (s *Service) RegisterEvent(ctx context.Context, params RegisterEventParams) (models.ReferralEvent, error) {
	if !params.EventType.Valid() {
		return models.ReferralEvent{}, apperrors.ErrInvalidEventType
	}

	var event models.ReferralEvent

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		code, err := st.Referral().GetActiveCode(ctx, params.Code)
		if err != nil {
			return err
		}

		if code.UserID == params.ReferredUserID {
			return apperrors.ErrSelfReferral
		}

		var created bool
		event, created, err = st.Referral().CreateEvent(ctx, models.ReferralEvent{
			ID:                uuid.New(),
			ReferralCodeID:    code.ID,
			ReferredUserID:    params.ReferredUserID,
			EventType:         params.EventType,
			TransactionAmount: params.TransactionAmount,
			ExternalDocID:     params.ExternalDocID,
			OccurredAt:        time.Now(),
			Metadata:          params.Metadata,
		})
		if err != nil {
			return fmt.Errorf("can't create referral event: %w", err)
		}

		// Replay of an already registered ERP document
		if !created {
			return nil
		}

		if err := s.evaluateRewards(ctx, st, &event, &code); err != nil {
			return err
		}

		if err := st.Referral().MarkEventProcessed(ctx, event.ID); err != nil {
			return err
		}
		event.Processed = true

		revenue := decimal.Zero
		if params.TransactionAmount != nil {
			revenue = *params.TransactionAmount
		}
		successful := params.EventType == models.EventFirstVisit

		if err := st.Referral().BumpCounters(ctx, code.ID, successful, revenue); err != nil {
			return err
		}

		return st.Audit().Record(ctx, models.AuditRecord{
			ID:         uuid.New(),
			CreatedAt:  time.Now(),
			Action:     "register_referral_event",
			EntityType: "referral_event",
			EntityID:   &event.ID,
			NewValues: map[string]any{
				"event_type": string(params.EventType),
				"code":       code.Code,
			},
		})
	})

	return event, err
}

// evaluateRewards runs every matching active rule against the event.
// A referrer without a loyalty account skips that rule with a warning;
// any other failure aborts the whole registration.
func (s *Service) evaluateRewards(ctx context.Context, st repository.Storage, event *models.ReferralEvent, code *models.ReferralCode) error {
	rules, err := st.Rule().ListActiveRules(ctx, event.EventType)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if !rule.Matches(code.ReferrerType) {
			continue
		}

		amount, ok := rule.RewardAmountFor(event.TransactionAmount)
		if !ok {
			// percentage rule without a transaction amount, nothing to compute
			continue
		}

		account, err := st.Account().GetAccountByUserID(ctx, code.UserID)
		if errors.Is(err, apperrors.ErrAccountNotFound) {
			s.logger.Warn("referrer has no loyalty account, skipping reward",
				"user_id", code.UserID, "rule", rule.Name)
			continue
		}
		if err != nil {
			return err
		}

		eventID := event.ID.String()
		posting, err := ledger.PostTx(ctx, st, ledger.PostParams{
			AccountID:   account.ID,
			Kind:        models.PostingAccrual,
			Amount:      amount,
			Currency:    rule.RewardCurrency(),
			Source:      models.SourceReferral,
			SourceID:    &eventID,
			Description: fmt.Sprintf("Referral reward for %s", event.EventType),
		})
		if err != nil {
			return fmt.Errorf("can't post reward: %w", err)
		}

		_, err = st.Referral().CreateReward(ctx, models.ReferralReward{
			ID:              uuid.New(),
			EventID:         event.ID,
			RecipientUserID: code.UserID,
			RewardType:      rule.RewardType,
			RewardAmount:    amount,
			ReferralLevel:   rule.AppliesToLevel,
			PostingID:       &posting.ID,
			AwardedAt:       time.Now(),
		})
		if err != nil {
			return fmt.Errorf("can't create reward record: %w", err)
		}

		s.logger.Info("referral reward granted",
			"user_id", code.UserID, "amount", amount.String(), "event_type", event.EventType)
	}

	return nil
}

type Stats struct {
	Code                string
	TotalReferrals      int
	SuccessfulReferrals int
	PendingReferrals    int64
	TotalRevenue        decimal.Decimal
	TotalRewards        decimal.Decimal
	ConversionRate      float64
}

// UserStats summarizes the user's active referral code. Pending is the
// registration count minus the first visit count, floored at zero: an
// accepted approximation, it does not pair up individual registrants.
func (s *Service) UserStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	var stats Stats
	stats.TotalRevenue = decimal.Zero
	stats.TotalRewards = decimal.Zero

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		code, err := st.Referral().GetActiveCodeByUserID(ctx, userID)
		if err != nil {
			return err
		}

		rewards, err := st.Referral().SumRewards(ctx, code.ID)
		if err != nil {
			return err
		}

		registrations, err := st.Referral().CountEvents(ctx, code.ID, models.EventRegistration)
		if err != nil {
			return err
		}

		firstVisits, err := st.Referral().CountEvents(ctx, code.ID, models.EventFirstVisit)
		if err != nil {
			return err
		}

		pending := registrations - firstVisits
		if pending < 0 {
			pending = 0
		}

		conversion := 0.0
		if code.TotalReferrals > 0 {
			conversion = float64(code.SuccessfulReferrals) / float64(code.TotalReferrals) * 100
		}

		stats = Stats{
			Code:                code.Code,
			TotalReferrals:      code.TotalReferrals,
			SuccessfulReferrals: code.SuccessfulReferrals,
			PendingReferrals:    pending,
			TotalRevenue:        code.TotalRevenue,
			TotalRewards:        rewards,
			ConversionRate:      conversion,
		}
		return nil
	})

	return stats, err
}

// Rewards lists payouts granted to the user, newest first.
func (s *Service) Rewards(ctx context.Context, userID uuid.UUID) ([]models.ReferralReward, error) {
	return s.storage.Referral().ListRewardsByRecipient(ctx, userID)
}
