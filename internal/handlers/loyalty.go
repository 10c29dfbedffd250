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
	"github.com/medpoint/loyalty/internal/service/ledger"
)

type PostingResponse struct {
	ID             uuid.UUID      `json:"id"`
	AccountID      uuid.UUID      `json:"account_id"`
	Kind           string         `json:"kind"`
	Amount         float64        `json:"amount"`
	Currency       string         `json:"currency"`
	Source         string         `json:"source"`
	SourceID       *string        `json:"source_id,omitempty"`
	Description    string         `json:"description,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	ReversedBy     *uuid.UUID     `json:"reversed_by,omitempty"`
	Reverses       *uuid.UUID     `json:"reverses,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func newPostingResponse(p models.Posting) PostingResponse {
	amount, _ := p.Amount.Float64()
	return PostingResponse{
		ID:             p.ID,
		AccountID:      p.AccountID,
		Kind:           string(p.Kind),
		Amount:         amount,
		Currency:       string(p.Currency),
		Source:         p.Source,
		SourceID:       p.SourceID,
		Description:    p.Description,
		IdempotencyKey: p.IdempotencyKey,
		ReversedBy:     p.ReversedBy,
		Reverses:       p.Reverses,
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
	}
}

type BalanceResponse struct {
	AccountID           uuid.UUID `json:"account_id"`
	PointsBalance       float64   `json:"points_balance"`
	CashbackBalance     float64   `json:"cashback_balance"`
	TotalPointsEarned   float64   `json:"total_points_earned"`
	TotalPointsSpent    float64   `json:"total_points_spent"`
	TotalCashbackEarned float64   `json:"total_cashback_earned"`
	TotalCashbackSpent  float64   `json:"total_cashback_spent"`
	CardTier            string    `json:"card_tier"`
}

func newBalanceResponse(a models.Account) BalanceResponse {
	f := func(d decimal.Decimal) float64 {
		v, _ := d.Float64()
		return v
	}
	return BalanceResponse{
		AccountID:           a.ID,
		PointsBalance:       f(a.PointsBalance),
		CashbackBalance:     f(a.CashbackBalance),
		TotalPointsEarned:   f(a.TotalPointsEarned),
		TotalPointsSpent:    f(a.TotalPointsSpent),
		TotalCashbackEarned: f(a.TotalCashbackEarned),
		TotalCashbackSpent:  f(a.TotalCashbackSpent),
		CardTier:            a.CardTier,
	}
}

type postingRequest struct {
	UserID         uuid.UUID       `json:"user_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       string          `json:"currency" validate:"required,loyalty_currency"`
	Source         string          `json:"source" validate:"required"`
	SourceID       *string         `json:"source_id"`
	Description    string          `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Metadata       map[string]any  `json:"metadata"`
}

func handlePosting(ledgerService ledgerService, l logger.Logger, kind models.PostingKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[postingRequest](w, r)
		if err != nil {
			return
		}

		account, err := ledgerService.Balance(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, apperrors.ErrAccountNotFound) {
				render.ServiceError(w, "Account not found", http.StatusNotFound)
				return
			}
			l.Error("Failed to resolve account", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		posting, err := ledgerService.Post(r.Context(), ledger.PostParams{
			AccountID:      account.ID,
			Kind:           kind,
			Amount:         req.Amount,
			Currency:       models.Currency(req.Currency),
			Source:         req.Source,
			SourceID:       req.SourceID,
			Description:    req.Description,
			Metadata:       req.Metadata,
			IdempotencyKey: req.IdempotencyKey,
			ActorID:        &actor.ID,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newPostingResponse(posting), http.StatusCreated)
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		default:
			l.Error("Failed to create posting", "error", err, "kind", kind)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleAccrue(ledgerService ledgerService, l logger.Logger) http.Handler {
	return handlePosting(ledgerService, l, models.PostingAccrual)
}

func handleDeduct(ledgerService ledgerService, l logger.Logger) http.Handler {
	return handlePosting(ledgerService, l, models.PostingDeduction)
}

func handleReverse(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		postingID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Posting not found", http.StatusNotFound)
			return
		}

		posting, err := ledgerService.Reverse(r.Context(), postingID, actor.ID)

		switch {
		case err == nil:
			render.JSONWithStatus(w, newPostingResponse(posting), http.StatusCreated)
		case errors.Is(err, apperrors.ErrPostingNotFound):
			render.ServiceError(w, "Posting not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrPostingAlreadyReversed):
			render.ServiceError(w, "Posting already reversed", http.StatusConflict)
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, "Insufficient balance to reverse", http.StatusPaymentRequired)
		default:
			l.Error("Failed to reverse posting", "error", err, "posting_id", postingID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := ledgerService.Balance(r.Context(), user.ID)

		switch {
		case err == nil:
			render.JSON(w, newBalanceResponse(account))
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Postings []PostingResponse `json:"postings"`
		Total    int64             `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"page_size"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		account, err := ledgerService.Balance(r.Context(), user.ID)
		if err != nil {
			if errors.Is(err, apperrors.ErrAccountNotFound) {
				render.ServiceError(w, "Account not found", http.StatusNotFound)
				return
			}
			l.Error("Failed to resolve account", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 20)

		history, err := ledgerService.AccountHistory(r.Context(), account.ID, page, pageSize)
		if err != nil {
			l.Error("Failed to list transactions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		postings := make([]PostingResponse, 0, len(history.Postings))
		for _, p := range history.Postings {
			postings = append(postings, newPostingResponse(p))
		}

		render.JSON(w, response{
			Postings: postings,
			Total:    history.Total,
			Page:     history.Page,
			PageSize: history.PageSize,
		})
	})
}
