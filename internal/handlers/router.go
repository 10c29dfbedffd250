package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/medpoint/loyalty/internal/handlers/middleware"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/service/certificate"
	"github.com/medpoint/loyalty/internal/service/ledger"
	"github.com/medpoint/loyalty/internal/service/referral"
	"github.com/medpoint/loyalty/internal/service/user"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// HMAC secret the SSO service signs access tokens with
	SecretKey string

	// Shared token the clinic ERP sends in X-Webhook-Token
	WebhookToken string
}

func NewRouter(
	ledgerService ledgerService,
	certService certService,
	referralService referralService,
	userService userService,
	logger logger.Logger,
	cfg RouterConfig,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(cfg.SecretKey, userService)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}
	withStaff := func(h http.Handler) http.Handler {
		return authMiddleware(middleware.RequireStaff(h))
	}

	api := http.NewServeMux()

	api.Handle("POST /users/register", handleRegisterUser(userService, logger))
	api.Handle("GET /users/me", withAuth(handleUserMe()))

	api.Handle("GET /loyalty/balance", withAuth(handleBalance(ledgerService, logger)))
	api.Handle("GET /loyalty/transactions", withAuth(handleTransactions(ledgerService, logger)))
	api.Handle("POST /loyalty/accrue", withStaff(handleAccrue(ledgerService, logger)))
	api.Handle("POST /loyalty/deduct", withStaff(handleDeduct(ledgerService, logger)))
	api.Handle("POST /loyalty/postings/{id}/reverse", withStaff(handleReverse(ledgerService, logger)))

	api.Handle("POST /certificates", withStaff(handleIssueCertificate(certService, logger)))
	api.Handle("GET /certificates/my", withAuth(handleMyCertificates(certService, logger)))
	api.Handle("GET /certificates/{code}/verify", withAuth(handleVerifyCertificate(certService, logger)))
	api.Handle("POST /certificates/{code}/redeem", withStaff(handleRedeemCertificate(certService, logger)))
	api.Handle("POST /certificates/{code}/transfer", withAuth(handleTransferCertificate(certService, logger)))
	api.Handle("GET /certificates/{code}/redemptions", withStaff(handleCertificateRedemptions(certService, logger)))
	api.Handle("GET /certificates/{code}/transfers", withStaff(handleCertificateTransfers(certService, logger)))

	api.Handle("POST /referral/code", withAuth(handleEnsureReferralCode(referralService, logger)))
	api.Handle("DELETE /referral/code", withAuth(handleDeactivateReferralCode(referralService, logger)))
	api.Handle("GET /referral/stats", withAuth(handleReferralStats(referralService, logger)))
	api.Handle("GET /referral/rewards", withAuth(handleReferralRewards(referralService, logger)))
	api.Handle("POST /referral/events", withStaff(handleRegisterReferralEvent(referralService, logger)))

	api.Handle("POST /admin/rules", withStaff(handleCreateRule(referralService, logger)))
	api.Handle("GET /admin/rules", withStaff(handleListRules(referralService, logger)))
	api.Handle("POST /admin/rules/{id}/activate", withStaff(handleSetRuleActive(referralService, logger, true)))
	api.Handle("POST /admin/rules/{id}/deactivate", withStaff(handleSetRuleActive(referralService, logger, false)))

	webhookMiddleware := middleware.WebhookAuthMiddleware(cfg.WebhookToken)
	api.Handle("POST /webhooks/1c/visit", webhookMiddleware(handleVisitWebhook(ledgerService, userService, logger)))
	api.Handle("POST /webhooks/1c/payment", webhookMiddleware(handlePaymentWebhook(referralService, userService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type ledgerService interface {
	// Post appends one posting. Replays with the same idempotency key
	// return the stored posting without touching the balance.
	Post(ctx context.Context, params ledger.PostParams) (models.Posting, error)

	// Reverse compensates a posting with an inverse one.
	// Has to return apperrors.ErrPostingAlreadyReversed on a second call.
	Reverse(ctx context.Context, postingID uuid.UUID, actorID uuid.UUID) (models.Posting, error)

	Balance(ctx context.Context, userID uuid.UUID) (models.Account, error)
	AccountHistory(ctx context.Context, accountID uuid.UUID, page int, pageSize int) (ledger.History, error)
}

type certService interface {
	Issue(ctx context.Context, params certificate.IssueParams) (models.Certificate, error)
	Verify(ctx context.Context, code string) (certificate.VerifyResult, error)
	Redeem(ctx context.Context, params certificate.RedeemParams) (models.CertificateRedemption, error)
	Transfer(ctx context.Context, params certificate.TransferParams) (models.CertificateTransfer, error)
	ListOwned(ctx context.Context, ownerID uuid.UUID) ([]models.Certificate, error)
	Redemptions(ctx context.Context, code string) ([]models.CertificateRedemption, error)
	Transfers(ctx context.Context, code string) ([]models.CertificateTransfer, error)
}

type referralService interface {
	EnsureCode(ctx context.Context, userID uuid.UUID, referrerType string, customCode *string) (models.ReferralCode, error)
	Deactivate(ctx context.Context, userID uuid.UUID) error
	RegisterEvent(ctx context.Context, params referral.RegisterEventParams) (models.ReferralEvent, error)
	UserStats(ctx context.Context, userID uuid.UUID) (referral.Stats, error)
	Rewards(ctx context.Context, userID uuid.UUID) ([]models.ReferralReward, error)

	CreateRule(ctx context.Context, params referral.CreateRuleParams) (models.RewardRule, error)
	ListRules(ctx context.Context) ([]models.RewardRule, error)
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error
}

type userService interface {
	CreateUser(ctx context.Context, params user.CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (models.User, error)
}
