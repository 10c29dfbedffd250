package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/handlers/render"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/service/ledger"
	"github.com/medpoint/loyalty/internal/service/referral"
)

// handleVisitWebhook accrues points and cashback for a completed visit
// reported by the clinic ERP. The ERP retries aggressively, so every posting
// carries a key derived from the visit document id: replays return the
// stored postings and never double-accrue.
func handleVisitWebhook(ledgerService ledgerService, userService userService, l logger.Logger) http.Handler {
	type request struct {
		PatientExternalID string          `json:"patient_external_id" validate:"required"`
		DocID             string          `json:"doc_id" validate:"required"`
		PointsAmount      decimal.Decimal `json:"points_amount"`
		CashbackAmount    decimal.Decimal `json:"cashback_amount"`
		Description       string          `json:"description"`
	}

	type response struct {
		Postings []PostingResponse `json:"postings"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if !req.PointsAmount.IsPositive() && !req.CashbackAmount.IsPositive() {
			render.ServiceError(w, "Nothing to accrue", http.StatusUnprocessableEntity)
			return
		}

		patient, err := userService.GetUserByExternalID(r.Context(), req.PatientExternalID)
		if err != nil {
			if errors.Is(err, apperrors.ErrUserNotFound) {
				render.ServiceError(w, "Patient not found", http.StatusNotFound)
				return
			}
			l.Error("Failed to resolve patient", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		account, err := ledgerService.Balance(r.Context(), patient.ID)
		if err != nil {
			l.Error("Failed to resolve account", "error", err, "user_id", patient.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		accruals := []struct {
			amount   decimal.Decimal
			currency models.Currency
		}{
			{req.PointsAmount, models.CurrencyPoints},
			{req.CashbackAmount, models.CurrencyCashback},
		}

		var postings []PostingResponse
		for _, a := range accruals {
			if !a.amount.IsPositive() {
				continue
			}

			key := fmt.Sprintf("1c_visit_%s_%s", req.DocID, a.currency)
			docID := req.DocID

			posting, err := ledgerService.Post(r.Context(), ledger.PostParams{
				AccountID:      account.ID,
				Kind:           models.PostingAccrual,
				Amount:         a.amount,
				Currency:       a.currency,
				Source:         models.SourceVisit,
				SourceID:       &docID,
				Description:    req.Description,
				IdempotencyKey: &key,
			})
			if err != nil {
				l.Error("Failed to accrue for visit", "error", err, "doc_id", req.DocID, "currency", a.currency)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			postings = append(postings, newPostingResponse(posting))
		}

		render.JSON(w, response{Postings: postings})
	})
}

// handlePaymentWebhook registers a paid service as a referral event when the
// payment references a referral code. Event dedup runs on the payment
// document id, so ERP retries are safe here too.
func handlePaymentWebhook(referralService referralService, userService userService, l logger.Logger) http.Handler {
	type request struct {
		PatientExternalID string          `json:"patient_external_id" validate:"required"`
		DocID             string          `json:"doc_id" validate:"required"`
		Amount            decimal.Decimal `json:"amount" validate:"required"`
		ReferralCode      string          `json:"referral_code" validate:"required"`
		FirstVisit        bool            `json:"first_visit"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		patient, err := userService.GetUserByExternalID(r.Context(), req.PatientExternalID)
		if err != nil {
			if errors.Is(err, apperrors.ErrUserNotFound) {
				render.ServiceError(w, "Patient not found", http.StatusNotFound)
				return
			}
			l.Error("Failed to resolve patient", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		eventType := models.EventPaidService
		if req.FirstVisit {
			eventType = models.EventFirstVisit
		}

		docID := req.DocID
		event, err := referralService.RegisterEvent(r.Context(), referral.RegisterEventParams{
			Code:              req.ReferralCode,
			ReferredUserID:    patient.ID,
			EventType:         eventType,
			TransactionAmount: &req.Amount,
			ExternalDocID:     &docID,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newReferralEventResponse(event), http.StatusCreated)
		case errors.Is(err, apperrors.ErrReferralCodeNotFound):
			render.ServiceError(w, "Referral code not found or inactive", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrSelfReferral):
			render.ServiceError(w, "Own referral code can't be used", http.StatusConflict)
		default:
			l.Error("Failed to register payment event", "error", err, "doc_id", req.DocID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
