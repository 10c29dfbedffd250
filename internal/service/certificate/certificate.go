package certificate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository"
)

const (
	defaultValidity = 365 * 24 * time.Hour
	defaultTemplate = "default"
	defaultCurrency = "RUB"
	codeMaxAttempts = 5
)

// Service owns the certificate lifecycle: issue, transfer, verify, redeem.
// Certificates are their own accounting domain and never post to the
// loyalty ledger; callers that want a combined effect post separately.
type Service struct {
	storage repository.Storage

	// Injected in tests to drive the validity clock
	now func() time.Time
}

func NewService(storage repository.Storage) *Service {
	return &Service{
		storage: storage,
		now:     time.Now,
	}
}

type IssueParams struct {
	InitialAmount decimal.Decimal
	OwnerID       *uuid.UUID
	ValidUntil    *time.Time
	IssuedBy      uuid.UUID
	Template      string
	Message       *string
	Metadata      map[string]any
}

// Issue creates an active certificate with a fresh collision-checked code.
func (s *Service) Issue(ctx context.Context, params IssueParams) (models.Certificate, error) {
	if !params.InitialAmount.IsPositive() {
		return models.Certificate{}, apperrors.ErrAmountNotPositive
	}

	now := s.now()

	validUntil := now.Add(defaultValidity)
	if params.ValidUntil != nil {
		validUntil = *params.ValidUntil
	}

	template := params.Template
	if template == "" {
		template = defaultTemplate
	}

	var cert models.Certificate

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		for attempt := 0; ; attempt++ {
			code, err := newCode()
			if err != nil {
				return err
			}

			cert, err = st.Certificate().CreateCertificate(ctx, models.Certificate{
				ID:             uuid.New(),
				Code:           code,
				InitialAmount:  params.InitialAmount,
				CurrentAmount:  params.InitialAmount,
				Currency:       defaultCurrency,
				Status:         models.CertificateActive,
				OwnerID:        params.OwnerID,
				IssuedBy:       params.IssuedBy,
				IssuedAt:       now,
				ValidFrom:      now,
				ValidUntil:     validUntil,
				DesignTemplate: template,
				Message:        params.Message,
				Metadata:       params.Metadata,
			})

			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrCertificateCodeTaken) && attempt < codeMaxAttempts:
				continue
			default:
				return err
			}
			break
		}

		return st.Audit().Record(ctx, models.AuditRecord{
			ID:         uuid.New(),
			CreatedAt:  now,
			UserID:     &params.IssuedBy,
			Action:     "create_certificate",
			EntityType: "certificate",
			EntityID:   &cert.ID,
			NewValues: map[string]any{
				"code":   cert.Code,
				"amount": cert.InitialAmount.String(),
			},
		})
	})

	return cert, err
}

type VerifyResult struct {
	Valid       bool
	Certificate *models.Certificate
	Reason      string
}

// Verify reports whether the certificate can currently be redeemed.
// Read by contract, but stale statuses are corrected and persisted here:
// an overdue certificate becomes expired, a drained one becomes used.
// Status accuracy is only guaranteed right after Verify or Redeem.
func (s *Service) Verify(ctx context.Context, code string) (VerifyResult, error) {
	var result VerifyResult

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cert, err := st.Certificate().GetByCode(ctx, code, true)

		switch {
		case errors.Is(err, apperrors.ErrCertificateNotFound):
			result = VerifyResult{Valid: false, Reason: "not_found"}
			return nil
		case err != nil:
			return err
		}

		if cert.Status == models.CertificateActive && cert.ExpiredAt(s.now()) {
			if err := st.Certificate().SetStatus(ctx, cert.ID, models.CertificateExpired); err != nil {
				return err
			}
			cert.Status = models.CertificateExpired
			result = VerifyResult{Valid: false, Certificate: &cert, Reason: "expired"}
			return nil
		}

		if cert.Status != models.CertificateActive {
			result = VerifyResult{Valid: false, Certificate: &cert, Reason: string(cert.Status)}
			return nil
		}

		if !cert.CurrentAmount.IsPositive() {
			if err := st.Certificate().SetUsed(ctx, cert.ID); err != nil {
				return err
			}
			cert.Status = models.CertificateUsed
			result = VerifyResult{Valid: false, Certificate: &cert, Reason: "used"}
			return nil
		}

		result = VerifyResult{Valid: true, Certificate: &cert}
		return nil
	})

	return result, err
}

type RedeemParams struct {
	Code          string
	Amount        decimal.Decimal
	ActorID       uuid.UUID
	ExternalDocID *string
	Notes         *string
}

// Redeem spends part of the certificate balance at the till.
// Decrement, redemption record and a possible used transition commit
// together; concurrent redemptions serialize on the certificate row.
func (s *Service) Redeem(ctx context.Context, params RedeemParams) (models.CertificateRedemption, error) {
	if !params.Amount.IsPositive() {
		return models.CertificateRedemption{}, apperrors.ErrAmountNotPositive
	}

	var redemption models.CertificateRedemption

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cert, err := st.Certificate().GetByCode(ctx, params.Code, true)
		if err != nil {
			return err
		}

		if cert.Status == models.CertificateActive && cert.ExpiredAt(s.now()) {
			// Persisted even though the call fails: the lazy transition is a
			// successful side effect, the transaction must commit it
			if err := st.Certificate().SetStatus(ctx, cert.ID, models.CertificateExpired); err != nil {
				return err
			}
			return nil // commit, then report expired
		}

		if cert.Status != models.CertificateActive {
			return apperrors.ErrCertificateNotActive
		}

		if params.Amount.GreaterThan(cert.CurrentAmount) {
			return apperrors.ErrCertificateInsufficient
		}

		remaining, err := st.Certificate().ApplyRedemption(ctx, cert.ID, params.Amount)
		if err != nil {
			return err
		}

		redemption, err = st.Certificate().CreateRedemption(ctx, models.CertificateRedemption{
			ID:              uuid.New(),
			CertificateID:   cert.ID,
			AmountUsed:      params.Amount,
			RemainingAmount: remaining,
			ExternalDocID:   params.ExternalDocID,
			RedeemedBy:      params.ActorID,
			RedeemedAt:      s.now(),
			Notes:           params.Notes,
		})
		if err != nil {
			return err
		}

		if !remaining.IsPositive() {
			if err := st.Certificate().SetUsed(ctx, cert.ID); err != nil {
				return err
			}
		}

		return st.Audit().Record(ctx, models.AuditRecord{
			ID:         uuid.New(),
			CreatedAt:  s.now(),
			UserID:     &params.ActorID,
			Action:     "redeem_certificate",
			EntityType: "certificate",
			EntityID:   &cert.ID,
			OldValues:  map[string]any{"amount": cert.CurrentAmount.String()},
			NewValues:  map[string]any{"amount": remaining.String()},
		})
	})
	if err != nil {
		return redemption, err
	}

	// The expired transition committed with no redemption written
	if redemption.ID == uuid.Nil {
		return redemption, apperrors.ErrCertificateExpired
	}

	return redemption, nil
}

type TransferParams struct {
	Code string
	// Recipient email or user id string
	Recipient string
	Actor     *models.User
	Message   *string
}

// Transfer hands the certificate to another user. Owner only, unless the
// actor is staff or the certificate has no owner yet. Balance untouched.
func (s *Service) Transfer(ctx context.Context, params TransferParams) (models.CertificateTransfer, error) {
	var transfer models.CertificateTransfer

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		cert, err := st.Certificate().GetByCode(ctx, params.Code, true)
		if err != nil {
			return err
		}

		if !params.Actor.IsStaff() && cert.OwnerID != nil && *cert.OwnerID != params.Actor.ID {
			return apperrors.ErrCertificateNotOwner
		}

		if cert.Status != models.CertificateActive {
			return apperrors.ErrCertificateNotActive
		}

		recipient, err := resolveUser(ctx, st.User(), params.Recipient)
		if err != nil {
			return err
		}

		fromUserID := cert.OwnerID
		if fromUserID == nil {
			fromUserID = &params.Actor.ID
		}

		transfer, err = st.Certificate().CreateTransfer(ctx, models.CertificateTransfer{
			ID:            uuid.New(),
			CertificateID: cert.ID,
			FromUserID:    fromUserID,
			ToUserID:      recipient.ID,
			Message:       params.Message,
			TransferredAt: s.now(),
		})
		if err != nil {
			return err
		}

		if err := st.Certificate().SetOwner(ctx, cert.ID, recipient.ID); err != nil {
			return err
		}

		return st.Audit().Record(ctx, models.AuditRecord{
			ID:         uuid.New(),
			CreatedAt:  s.now(),
			UserID:     &params.Actor.ID,
			Action:     "transfer_certificate",
			EntityType: "certificate",
			EntityID:   &cert.ID,
			OldValues:  ownerSnapshot(cert.OwnerID),
			NewValues:  ownerSnapshot(&recipient.ID),
		})
	})

	return transfer, err
}

// ListOwned returns the user's certificates, newest first.
func (s *Service) ListOwned(ctx context.Context, ownerID uuid.UUID) ([]models.Certificate, error) {
	return s.storage.Certificate().ListByOwner(ctx, ownerID)
}

// Redemptions returns the certificate's spend history in order.
func (s *Service) Redemptions(ctx context.Context, code string) ([]models.CertificateRedemption, error) {
	cert, err := s.storage.Certificate().GetByCode(ctx, code, false)
	if err != nil {
		return nil, err
	}

	return s.storage.Certificate().ListRedemptions(ctx, cert.ID)
}

// Transfers returns the certificate's ownership history in order.
func (s *Service) Transfers(ctx context.Context, code string) ([]models.CertificateTransfer, error) {
	cert, err := s.storage.Certificate().GetByCode(ctx, code, false)
	if err != nil {
		return nil, err
	}

	return s.storage.Certificate().ListTransfers(ctx, cert.ID)
}

func resolveUser(ctx context.Context, users repository.UserRepo, identifier string) (models.User, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return users.GetUserByID(ctx, id)
	}

	return users.GetUserByEmail(ctx, identifier)
}

func ownerSnapshot(ownerID *uuid.UUID) map[string]any {
	if ownerID == nil {
		return map[string]any{"owner_id": nil}
	}
	return map[string]any{"owner_id": ownerID.String()}
}
