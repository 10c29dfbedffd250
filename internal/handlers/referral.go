package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/handlers/render"
	"github.com/medpoint/loyalty/internal/handlers/userctx"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/service/referral"
)

type ReferralCodeResponse struct {
	ID                  uuid.UUID `json:"id"`
	Code                string    `json:"code"`
	ReferrerType        string    `json:"referrer_type"`
	TotalReferrals      int       `json:"total_referrals"`
	SuccessfulReferrals int       `json:"successful_referrals"`
	TotalRevenue        float64   `json:"total_revenue"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
}

func newReferralCodeResponse(c models.ReferralCode) ReferralCodeResponse {
	revenue, _ := c.TotalRevenue.Float64()
	return ReferralCodeResponse{
		ID:                  c.ID,
		Code:                c.Code,
		ReferrerType:        c.ReferrerType,
		TotalReferrals:      c.TotalReferrals,
		SuccessfulReferrals: c.SuccessfulReferrals,
		TotalRevenue:        revenue,
		IsActive:            c.IsActive,
		CreatedAt:           c.CreatedAt,
	}
}

func handleEnsureReferralCode(referralService referralService, l logger.Logger) http.Handler {
	type request struct {
		ReferrerType string  `json:"referrer_type"`
		CustomCode   *string `json:"custom_code"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		referrerType := req.ReferrerType
		if referrerType == "" && user.Role == models.RoleDoctor {
			referrerType = models.ReferrerDoctor
		}

		code, err := referralService.EnsureCode(r.Context(), user.ID, referrerType, req.CustomCode)

		switch {
		case err == nil:
			render.JSON(w, newReferralCodeResponse(code))
		case errors.Is(err, apperrors.ErrReferralCodeTaken):
			render.ServiceError(w, "Referral code already in use", http.StatusConflict)
		default:
			l.Error("Failed to ensure referral code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleDeactivateReferralCode(referralService referralService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		err := referralService.Deactivate(r.Context(), user.ID)

		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, apperrors.ErrReferralCodeNotFound):
			render.ServiceError(w, "No active referral code", http.StatusNotFound)
		default:
			l.Error("Failed to deactivate referral code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleReferralStats(referralService referralService, l logger.Logger) http.Handler {
	type response struct {
		Code                string  `json:"code"`
		TotalReferrals      int     `json:"total_referrals"`
		SuccessfulReferrals int     `json:"successful_referrals"`
		PendingReferrals    int64   `json:"pending_referrals"`
		TotalRevenue        float64 `json:"total_revenue"`
		TotalRewards        float64 `json:"total_rewards"`
		ConversionRate      float64 `json:"conversion_rate"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		stats, err := referralService.UserStats(r.Context(), user.ID)

		switch {
		case err == nil:
			revenue, _ := stats.TotalRevenue.Float64()
			rewards, _ := stats.TotalRewards.Float64()
			render.JSON(w, response{
				Code:                stats.Code,
				TotalReferrals:      stats.TotalReferrals,
				SuccessfulReferrals: stats.SuccessfulReferrals,
				PendingReferrals:    stats.PendingReferrals,
				TotalRevenue:        revenue,
				TotalRewards:        rewards,
				ConversionRate:      stats.ConversionRate,
			})
		case errors.Is(err, apperrors.ErrReferralCodeNotFound):
			render.ServiceError(w, "No active referral code", http.StatusNotFound)
		default:
			l.Error("Failed to get referral stats", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleReferralRewards(referralService referralService, l logger.Logger) http.Handler {
	type reward struct {
		ID            uuid.UUID  `json:"id"`
		EventID       uuid.UUID  `json:"event_id"`
		RewardType    string     `json:"reward_type"`
		RewardAmount  float64    `json:"reward_amount"`
		ReferralLevel int        `json:"referral_level"`
		PostingID     *uuid.UUID `json:"posting_id,omitempty"`
		AwardedAt     time.Time  `json:"awarded_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		rewards, err := referralService.Rewards(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to list rewards", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]reward, 0, len(rewards))
		for _, rw := range rewards {
			amount, _ := rw.RewardAmount.Float64()
			res = append(res, reward{
				ID:            rw.ID,
				EventID:       rw.EventID,
				RewardType:    string(rw.RewardType),
				RewardAmount:  amount,
				ReferralLevel: rw.ReferralLevel,
				PostingID:     rw.PostingID,
				AwardedAt:     rw.AwardedAt,
			})
		}
		render.JSON(w, res)
	})
}

type ReferralEventResponse struct {
	ID                uuid.UUID `json:"id"`
	ReferralCodeID    uuid.UUID `json:"referral_code_id"`
	ReferredUserID    uuid.UUID `json:"referred_user_id"`
	EventType         string    `json:"event_type"`
	TransactionAmount *float64  `json:"transaction_amount,omitempty"`
	ExternalDocID     *string   `json:"external_doc_id,omitempty"`
	Processed         bool      `json:"processed"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func newReferralEventResponse(e models.ReferralEvent) ReferralEventResponse {
	res := ReferralEventResponse{
		ID:             e.ID,
		ReferralCodeID: e.ReferralCodeID,
		ReferredUserID: e.ReferredUserID,
		EventType:      string(e.EventType),
		ExternalDocID:  e.ExternalDocID,
		Processed:      e.Processed,
		OccurredAt:     e.OccurredAt,
	}
	if e.TransactionAmount != nil {
		amount, _ := e.TransactionAmount.Float64()
		res.TransactionAmount = &amount
	}
	return res
}

func handleRegisterReferralEvent(referralService referralService, l logger.Logger) http.Handler {
	type request struct {
		Code              string           `json:"code" validate:"required"`
		ReferredUserID    uuid.UUID        `json:"referred_user_id" validate:"required"`
		EventType         string           `json:"event_type" validate:"required"`
		TransactionAmount *decimal.Decimal `json:"transaction_amount"`
		ExternalDocID     *string          `json:"external_doc_id"`
		Metadata          map[string]any   `json:"metadata"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		event, err := referralService.RegisterEvent(r.Context(), referral.RegisterEventParams{
			Code:              req.Code,
			ReferredUserID:    req.ReferredUserID,
			EventType:         models.ReferralEventType(req.EventType),
			TransactionAmount: req.TransactionAmount,
			ExternalDocID:     req.ExternalDocID,
			Metadata:          req.Metadata,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newReferralEventResponse(event), http.StatusCreated)
		case errors.Is(err, apperrors.ErrReferralCodeNotFound):
			render.ServiceError(w, "Referral code not found or inactive", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrSelfReferral):
			render.ServiceError(w, "Own referral code can't be used", http.StatusConflict)
		case errors.Is(err, apperrors.ErrInvalidEventType):
			render.ServiceError(w, "Unknown event type", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to register referral event", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCreateRule(referralService referralService, l logger.Logger) http.Handler {
	type request struct {
		Name           string          `json:"name" validate:"required"`
		Description    *string         `json:"description"`
		EventType      string          `json:"event_type" validate:"required"`
		ReferrerType   string          `json:"referrer_type"`
		RewardType     string          `json:"reward_type" validate:"required"`
		RewardValue    decimal.Decimal `json:"reward_value" validate:"required"`
		AppliesToLevel int             `json:"applies_to_level"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		rule, err := referralService.CreateRule(r.Context(), referral.CreateRuleParams{
			Name:           req.Name,
			Description:    req.Description,
			EventType:      models.ReferralEventType(req.EventType),
			ReferrerType:   req.ReferrerType,
			RewardType:     models.RewardType(req.RewardType),
			RewardValue:    req.RewardValue,
			AppliesToLevel: req.AppliesToLevel,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newRuleResponse(rule), http.StatusCreated)
		case errors.Is(err, apperrors.ErrInvalidEventType):
			render.ServiceError(w, "Unknown event type", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrInvalidRewardType):
			render.ServiceError(w, "Unknown reward type", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Reward value must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to create rule", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

type RuleResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	EventType      string    `json:"event_type"`
	ReferrerType   string    `json:"referrer_type"`
	RewardType     string    `json:"reward_type"`
	RewardValue    float64   `json:"reward_value"`
	AppliesToLevel int       `json:"applies_to_level"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

func newRuleResponse(rule models.RewardRule) RuleResponse {
	value, _ := rule.RewardValue.Float64()
	return RuleResponse{
		ID:             rule.ID,
		Name:           rule.Name,
		Description:    rule.Description,
		EventType:      string(rule.EventType),
		ReferrerType:   rule.ReferrerType,
		RewardType:     string(rule.RewardType),
		RewardValue:    value,
		AppliesToLevel: rule.AppliesToLevel,
		IsActive:       rule.IsActive,
		CreatedAt:      rule.CreatedAt,
	}
}

func handleListRules(referralService referralService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rules, err := referralService.ListRules(r.Context())
		if err != nil {
			l.Error("Failed to list rules", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]RuleResponse, 0, len(rules))
		for _, rule := range rules {
			res = append(res, newRuleResponse(rule))
		}
		render.JSON(w, res)
	})
}

func handleSetRuleActive(referralService referralService, l logger.Logger, active bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ruleID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Rule not found", http.StatusNotFound)
			return
		}

		err = referralService.SetRuleActive(r.Context(), ruleID, active)

		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, apperrors.ErrRuleNotFound):
			render.ServiceError(w, "Rule not found", http.StatusNotFound)
		default:
			l.Error("Failed to update rule", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
