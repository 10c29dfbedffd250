package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository"
)

// Service is the loyalty ledger: the append-only posting log plus the
// materialized account balances, kept consistent in one transaction per
// operation.
type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *Service {
	return &Service{storage: storage}
}

type PostParams struct {
	AccountID uuid.UUID
	Kind      models.PostingKind
	Amount    decimal.Decimal
	Currency  models.Currency

	Source      string
	SourceID    *string
	Description string
	Metadata    map[string]any

	// Callers retried by upstream systems (webhooks) must set the key
	IdempotencyKey *string

	ActorID *uuid.UUID
}

func (p *PostParams) validate() error {
	if !p.Amount.IsPositive() {
		return apperrors.ErrAmountNotPositive
	}
	if !p.Kind.Valid() {
		return apperrors.ErrInvalidPostingKind
	}
	if !p.Currency.Valid() {
		return apperrors.ErrInvalidCurrency
	}

	return nil
}

// Post writes one ledger posting and applies its balance delta atomically.
// A replayed idempotency key returns the stored posting untouched.
func (s *Service) Post(ctx context.Context, params PostParams) (models.Posting, error) {
	var posting models.Posting

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		posting, err = PostTx(ctx, st, params)
		return err
	})

	return posting, err
}

// PostTx is Post running against an already transaction-scoped Storage.
// The referral evaluator uses it to emit reward postings inside the event
// registration transaction.
func PostTx(ctx context.Context, st repository.Storage, params PostParams) (models.Posting, error) {
	if err := params.validate(); err != nil {
		return models.Posting{}, err
	}

	before, err := st.Account().GetAccount(ctx, params.AccountID)
	if err != nil {
		return models.Posting{}, err
	}

	posting, created, err := st.Posting().CreatePosting(ctx, models.Posting{
		ID:             uuid.New(),
		CreatedAt:      time.Now(),
		AccountID:      params.AccountID,
		Kind:           params.Kind,
		Amount:         params.Amount,
		Currency:       params.Currency,
		Source:         params.Source,
		SourceID:       params.SourceID,
		Description:    params.Description,
		Metadata:       params.Metadata,
		IdempotencyKey: params.IdempotencyKey,
		CreatedBy:      params.ActorID,
	})
	if err != nil {
		return posting, fmt.Errorf("can't create posting: %w", err)
	}

	// Replay: the balance moved when the original request landed
	if !created {
		return posting, nil
	}

	after, err := st.Account().ApplyPosting(ctx, params.AccountID, params.Kind, params.Currency, params.Amount)
	if err != nil {
		return posting, err
	}

	err = st.Audit().Record(ctx, models.AuditRecord{
		ID:         uuid.New(),
		CreatedAt:  time.Now(),
		UserID:     params.ActorID,
		Action:     "post_" + string(params.Kind),
		EntityType: "posting",
		EntityID:   &posting.ID,
		OldValues:  balanceSnapshot(&before),
		NewValues:  balanceSnapshot(&after),
	})
	if err != nil {
		return posting, fmt.Errorf("can't record audit: %w", err)
	}

	return posting, nil
}

// Reverse cancels a posting's balance effect with a new inverse posting.
// History stays intact: both rows remain, cross-linked.
func (s *Service) Reverse(ctx context.Context, postingID uuid.UUID, actorID uuid.UUID) (models.Posting, error) {
	var reversal models.Posting

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		original, err := st.Posting().GetPosting(ctx, postingID)
		if err != nil {
			return err
		}
		if original.ReversedBy != nil {
			return apperrors.ErrPostingAlreadyReversed
		}

		before, err := st.Account().GetAccount(ctx, original.AccountID)
		if err != nil {
			return err
		}

		reversal, _, err = st.Posting().CreatePosting(ctx, models.Posting{
			ID:          uuid.New(),
			CreatedAt:   time.Now(),
			AccountID:   original.AccountID,
			Kind:        original.Kind.Inverse(),
			Amount:      original.Amount,
			Currency:    original.Currency,
			Source:      models.SourceReversal,
			Description: fmt.Sprintf("Reversal of posting %s", original.ID),
			Reverses:    &original.ID,
			CreatedBy:   &actorID,
		})
		if err != nil {
			return fmt.Errorf("can't create reversal posting: %w", err)
		}

		if err := st.Posting().MarkReversed(ctx, original.ID, reversal.ID); err != nil {
			return err
		}

		after, err := st.Account().ApplyPosting(ctx, original.AccountID, reversal.Kind, reversal.Currency, reversal.Amount)
		if err != nil {
			return err
		}

		return st.Audit().Record(ctx, models.AuditRecord{
			ID:         uuid.New(),
			CreatedAt:  time.Now(),
			UserID:     &actorID,
			Action:     "reverse_posting",
			EntityType: "posting",
			EntityID:   &original.ID,
			OldValues:  balanceSnapshot(&before),
			NewValues:  balanceSnapshot(&after),
		})
	})

	return reversal, err
}

// Balance returns the account of the user as of the latest committed posting.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	return s.storage.Account().GetAccountByUserID(ctx, userID)
}

type History struct {
	Postings []models.Posting
	Total    int64
	Page     int
	PageSize int
}

// AccountHistory pages through the account's postings, newest first.
// Count and page come from one transaction, so they agree with each other.
func (s *Service) AccountHistory(ctx context.Context, accountID uuid.UUID, page int, pageSize int) (History, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	h := History{Page: page, PageSize: pageSize}

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		// make sure the account exists to keep "no account" and
		// "no postings yet" distinguishable
		if _, err := st.Account().GetAccount(ctx, accountID); err != nil {
			return err
		}

		total, err := st.Posting().CountPostings(ctx, accountID)
		if err != nil {
			return err
		}

		postings, err := st.Posting().ListPostings(ctx, accountID, repository.ListPostingsOpts{
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			return err
		}

		h.Total = total
		h.Postings = postings
		return nil
	})

	return h, err
}

func balanceSnapshot(a *models.Account) map[string]any {
	return map[string]any{
		"points":   a.PointsBalance.String(),
		"cashback": a.CashbackBalance.String(),
	}
}
