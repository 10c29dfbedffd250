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
	"github.com/medpoint/loyalty/internal/service/certificate"
)

type CertificateResponse struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	InitialAmount  float64    `json:"initial_amount"`
	CurrentAmount  float64    `json:"current_amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	OwnerID        *uuid.UUID `json:"owner_id,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
	ValidUntil     time.Time  `json:"valid_until"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	DesignTemplate string     `json:"design_template,omitempty"`
	Message        *string    `json:"message,omitempty"`
}

func newCertificateResponse(c models.Certificate) CertificateResponse {
	initial, _ := c.InitialAmount.Float64()
	current, _ := c.CurrentAmount.Float64()
	return CertificateResponse{
		ID:             c.ID,
		Code:           c.Code,
		InitialAmount:  initial,
		CurrentAmount:  current,
		Currency:       c.Currency,
		Status:         string(c.Status),
		OwnerID:        c.OwnerID,
		IssuedAt:       c.IssuedAt,
		ValidUntil:     c.ValidUntil,
		UsedAt:         c.UsedAt,
		DesignTemplate: c.DesignTemplate,
		Message:        c.Message,
	}
}

type RedemptionResponse struct {
	ID              uuid.UUID `json:"id"`
	CertificateID   uuid.UUID `json:"certificate_id"`
	AmountUsed      float64   `json:"amount_used"`
	RemainingAmount float64   `json:"remaining_amount"`
	ExternalDocID   *string   `json:"external_doc_id,omitempty"`
	RedeemedAt      time.Time `json:"redeemed_at"`
	Notes           *string   `json:"notes,omitempty"`
}

func newRedemptionResponse(r models.CertificateRedemption) RedemptionResponse {
	used, _ := r.AmountUsed.Float64()
	remaining, _ := r.RemainingAmount.Float64()
	return RedemptionResponse{
		ID:              r.ID,
		CertificateID:   r.CertificateID,
		AmountUsed:      used,
		RemainingAmount: remaining,
		ExternalDocID:   r.ExternalDocID,
		RedeemedAt:      r.RedeemedAt,
		Notes:           r.Notes,
	}
}

func handleIssueCertificate(certService certService, l logger.Logger) http.Handler {
	type request struct {
		Amount         decimal.Decimal `json:"amount" validate:"required"`
		OwnerID        *uuid.UUID      `json:"owner_id"`
		ValidUntil     *time.Time      `json:"valid_until"`
		DesignTemplate string          `json:"design_template"`
		Message        *string         `json:"message"`
		Metadata       map[string]any  `json:"metadata"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		cert, err := certService.Issue(r.Context(), certificate.IssueParams{
			InitialAmount: req.Amount,
			OwnerID:       req.OwnerID,
			ValidUntil:    req.ValidUntil,
			IssuedBy:      actor.ID,
			Template:      req.DesignTemplate,
			Message:       req.Message,
			Metadata:      req.Metadata,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newCertificateResponse(cert), http.StatusCreated)
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to issue certificate", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleVerifyCertificate(certService certService, l logger.Logger) http.Handler {
	type response struct {
		Valid       bool                 `json:"valid"`
		Reason      string               `json:"reason,omitempty"`
		Certificate *CertificateResponse `json:"certificate,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := certService.Verify(r.Context(), r.PathValue("code"))
		if err != nil {
			l.Error("Failed to verify certificate", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := response{Valid: result.Valid, Reason: result.Reason}
		if result.Certificate != nil {
			cert := newCertificateResponse(*result.Certificate)
			res.Certificate = &cert
		}
		render.JSON(w, res)
	})
}

func handleRedeemCertificate(certService certService, l logger.Logger) http.Handler {
	type request struct {
		Amount        decimal.Decimal `json:"amount" validate:"required"`
		ExternalDocID *string         `json:"external_doc_id"`
		Notes         *string         `json:"notes"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		redemption, err := certService.Redeem(r.Context(), certificate.RedeemParams{
			Code:          r.PathValue("code"),
			Amount:        req.Amount,
			ActorID:       actor.ID,
			ExternalDocID: req.ExternalDocID,
			Notes:         req.Notes,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, newRedemptionResponse(redemption), http.StatusCreated)
		case errors.Is(err, apperrors.ErrCertificateNotFound):
			render.ServiceError(w, "Certificate not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCertificateExpired):
			render.ServiceError(w, "Certificate expired", http.StatusConflict)
		case errors.Is(err, apperrors.ErrCertificateNotActive):
			render.ServiceError(w, "Certificate is not active", http.StatusConflict)
		case errors.Is(err, apperrors.ErrCertificateInsufficient):
			render.ServiceError(w, "Insufficient certificate balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrAmountNotPositive):
			render.ServiceError(w, "Amount must be positive", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to redeem certificate", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleTransferCertificate(certService certService, l logger.Logger) http.Handler {
	type request struct {
		Recipient string  `json:"recipient" validate:"required"`
		Message   *string `json:"message"`
	}

	type response struct {
		ID            uuid.UUID  `json:"id"`
		CertificateID uuid.UUID  `json:"certificate_id"`
		FromUserID    *uuid.UUID `json:"from_user_id,omitempty"`
		ToUserID      uuid.UUID  `json:"to_user_id"`
		TransferredAt time.Time  `json:"transferred_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		transfer, err := certService.Transfer(r.Context(), certificate.TransferParams{
			Code:      r.PathValue("code"),
			Recipient: req.Recipient,
			Actor:     &actor,
			Message:   req.Message,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				ID:            transfer.ID,
				CertificateID: transfer.CertificateID,
				FromUserID:    transfer.FromUserID,
				ToUserID:      transfer.ToUserID,
				TransferredAt: transfer.TransferredAt,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrCertificateNotFound):
			render.ServiceError(w, "Certificate not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrCertificateNotOwner):
			render.ServiceError(w, "Certificate belongs to another user", http.StatusForbidden)
		case errors.Is(err, apperrors.ErrCertificateNotActive):
			render.ServiceError(w, "Certificate is not active", http.StatusConflict)
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Recipient not found", http.StatusNotFound)
		default:
			l.Error("Failed to transfer certificate", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleMyCertificates(certService certService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		certs, err := certService.ListOwned(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to list certificates", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]CertificateResponse, 0, len(certs))
		for _, c := range certs {
			res = append(res, newCertificateResponse(c))
		}
		render.JSON(w, res)
	})
}

func handleCertificateTransfers(certService certService, l logger.Logger) http.Handler {
	type transfer struct {
		ID            uuid.UUID  `json:"id"`
		CertificateID uuid.UUID  `json:"certificate_id"`
		FromUserID    *uuid.UUID `json:"from_user_id,omitempty"`
		ToUserID      uuid.UUID  `json:"to_user_id"`
		Message       *string    `json:"message,omitempty"`
		TransferredAt time.Time  `json:"transferred_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers, err := certService.Transfers(r.Context(), r.PathValue("code"))

		switch {
		case err == nil:
			res := make([]transfer, 0, len(transfers))
			for _, tr := range transfers {
				res = append(res, transfer{
					ID:            tr.ID,
					CertificateID: tr.CertificateID,
					FromUserID:    tr.FromUserID,
					ToUserID:      tr.ToUserID,
					Message:       tr.Message,
					TransferredAt: tr.TransferredAt,
				})
			}
			render.JSON(w, res)
		case errors.Is(err, apperrors.ErrCertificateNotFound):
			render.ServiceError(w, "Certificate not found", http.StatusNotFound)
		default:
			l.Error("Failed to list transfers", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCertificateRedemptions(certService certService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		redemptions, err := certService.Redemptions(r.Context(), r.PathValue("code"))

		switch {
		case err == nil:
			res := make([]RedemptionResponse, 0, len(redemptions))
			for _, rd := range redemptions {
				res = append(res, newRedemptionResponse(rd))
			}
			render.JSON(w, res)
		case errors.Is(err, apperrors.ErrCertificateNotFound):
			render.ServiceError(w, "Certificate not found", http.StatusNotFound)
		default:
			l.Error("Failed to list redemptions", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
