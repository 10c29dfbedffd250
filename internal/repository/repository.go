package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medpoint/loyalty/internal/models"
)

// Storage is the unit-of-work boundary. Every public service operation
// runs against exactly one Storage: either the pool directly (single
// statement reads) or a transaction-scoped Storage obtained via InTx.
type Storage interface {
	User() UserRepo
	Account() AccountRepo
	Posting() PostingRepo
	Certificate() CertificateRepo
	Referral() ReferralRepo
	Rule() RewardRuleRepo
	Audit() AuditRepo

	// InTx runs fn against a transaction-scoped Storage. All writes made by
	// fn commit together or roll back together.
	InTx(ctx context.Context, fn func(Storage) error) error
}

type UserRepo interface {
	// Create user
	// If a user with the email or external id exists return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by id, email or ERP external id
	// If not found return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (models.User, error)
}

type AccountRepo interface {
	// Create empty account for the user
	CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Get account, apperrors.ErrAccountNotFound if absent
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByUserID(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// ApplyPosting applies the balance delta implied by kind and bumps the
	// lifetime counters in one statement. The row update serializes
	// concurrent postings to the same account.
	// Deductions that would drive the balance negative fail with
	// apperrors.ErrInsufficientBalance and leave the row unchanged.
	ApplyPosting(ctx context.Context, accountID uuid.UUID, kind models.PostingKind, currency models.Currency, amount decimal.Decimal) (models.Account, error)
}

type ListPostingsOpts struct {
	Limit  int
	Offset int
	Kinds  []models.PostingKind
}

type PostingRepo interface {
	// CreatePosting inserts the posting. When the idempotency key is already
	// taken the existing posting is returned with created=false and nothing
	// is written. The key check and the insert are a single statement, so
	// concurrent replays can't both insert.
	CreatePosting(ctx context.Context, posting models.Posting) (p models.Posting, created bool, err error)

	// Get posting, apperrors.ErrPostingNotFound if absent
	GetPosting(ctx context.Context, id uuid.UUID) (models.Posting, error)

	// MarkReversed links the original to its reversal. Fails with
	// apperrors.ErrPostingAlreadyReversed unless reversed_by was null.
	MarkReversed(ctx context.Context, postingID uuid.UUID, reversalID uuid.UUID) error

	ListPostings(ctx context.Context, accountID uuid.UUID, opts ListPostingsOpts) ([]models.Posting, error)
	CountPostings(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type CertificateRepo interface {
	// Create certificate; duplicate code returns apperrors.ErrCertificateCodeTaken
	CreateCertificate(ctx context.Context, cert models.Certificate) (models.Certificate, error)

	// Get certificate by code, apperrors.ErrCertificateNotFound if absent.
	// With forUpdate the row is locked until the enclosing tx ends, which
	// serializes concurrent redemptions of the same certificate.
	GetByCode(ctx context.Context, code string, forUpdate bool) (models.Certificate, error)

	// SetStatus persists a state machine transition (used_at only for used)
	SetStatus(ctx context.Context, id uuid.UUID, status models.CertificateStatus) error
	SetUsed(ctx context.Context, id uuid.UUID) error

	// ApplyRedemption decreases current_amount, failing with
	// apperrors.ErrCertificateInsufficient if amount exceeds it
	ApplyRedemption(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (remaining decimal.Decimal, err error)

	SetOwner(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error

	CreateRedemption(ctx context.Context, r models.CertificateRedemption) (models.CertificateRedemption, error)
	CreateTransfer(ctx context.Context, t models.CertificateTransfer) (models.CertificateTransfer, error)

	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Certificate, error)
	ListRedemptions(ctx context.Context, certificateID uuid.UUID) ([]models.CertificateRedemption, error)
	ListTransfers(ctx context.Context, certificateID uuid.UUID) ([]models.CertificateTransfer, error)
}

type ReferralRepo interface {
	// Create code; duplicate code string or second active code for the user
	// returns apperrors.ErrReferralCodeTaken
	CreateCode(ctx context.Context, code models.ReferralCode) (models.ReferralCode, error)

	// Get active code, apperrors.ErrReferralCodeNotFound if absent or inactive
	GetActiveCode(ctx context.Context, code string) (models.ReferralCode, error)
	GetActiveCodeByUserID(ctx context.Context, userID uuid.UUID) (models.ReferralCode, error)

	DeactivateCode(ctx context.Context, id uuid.UUID) error

	// BumpCounters updates the denormalized code statistics
	BumpCounters(ctx context.Context, codeID uuid.UUID, successful bool, revenue decimal.Decimal) error

	// CreateEvent inserts the event. A replay carrying the same
	// (event_type, external_doc_id) returns the stored event with
	// created=false and writes nothing.
	CreateEvent(ctx context.Context, event models.ReferralEvent) (e models.ReferralEvent, created bool, err error)

	MarkEventProcessed(ctx context.Context, eventID uuid.UUID) error

	CountEvents(ctx context.Context, codeID uuid.UUID, eventType models.ReferralEventType) (int64, error)

	CreateReward(ctx context.Context, reward models.ReferralReward) (models.ReferralReward, error)
	ListRewardsByRecipient(ctx context.Context, userID uuid.UUID) ([]models.ReferralReward, error)

	// SumRewards totals payouts produced by events of the code
	SumRewards(ctx context.Context, codeID uuid.UUID) (decimal.Decimal, error)
}

type RewardRuleRepo interface {
	CreateRule(ctx context.Context, rule models.RewardRule) (models.RewardRule, error)

	// ListActiveRules returns active rules for the event type in no
	// particular order: all of them fire, ordering is not part of the contract
	ListActiveRules(ctx context.Context, eventType models.ReferralEventType) ([]models.RewardRule, error)

	ListRules(ctx context.Context) ([]models.RewardRule, error)

	// SetRuleActive toggles a rule, apperrors.ErrRuleNotFound if absent
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error
}

type AuditRepo interface {
	// Record writes the audit row inside the caller's transaction
	Record(ctx context.Context, rec models.AuditRecord) error

	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error)
}
