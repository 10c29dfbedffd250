package referral

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository/postgres"
	"github.com/medpoint/loyalty/internal/service/user"
	"github.com/medpoint/loyalty/internal/testutil"
)

func TestReferral(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Helper to create the service plus a referrer and a referred patient
	// within a transaction that rolls back at subtest end
	withTx := func(t *testing.T, fn func(s *Service, referrer models.User, referred models.User)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			userService := user.NewService(user.DefaultHasher, storage)

			referrer, err := userService.CreateUser(t.Context(), user.CreateUserParams{
				Email:    "referrer@test.io",
				FullName: "Test Referrer",
				Password: "password123",
			})
			require.NoError(t, err, "creating referrer should not fail")

			referred, err := userService.CreateUser(t.Context(), user.CreateUserParams{
				Email:    "referred@test.io",
				FullName: "Referred Patient",
				Password: "password123",
			})
			require.NoError(t, err, "creating referred patient should not fail")

			fn(NewService(storage, nil), referrer, referred)
		})
	}

	createRule := func(t *testing.T, s *Service, params CreateRuleParams) models.RewardRule {
		t.Helper()
		rule, err := s.CreateRule(t.Context(), params)
		require.NoError(t, err, "creating rule should not fail")
		return rule
	}

	t.Run("EnsureCode", func(t *testing.T) {
		t.Run("creates code with generated value", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)

				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(code.Code, "REF-"), "code should carry the REF- prefix, got %q", code.Code)
				assert.Len(t, code.Code, len("REF-")+8)
				assert.True(t, code.IsActive)
				assert.Equal(t, models.ReferrerPatient, code.ReferrerType)
			})
		})

		t.Run("second call returns the same code", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				first, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				second, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				assert.Equal(t, first.ID, second.ID)
			})
		})

		t.Run("custom code accepted", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				custom := "REF-DRSMITH1"

				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerDoctor, &custom)

				require.NoError(t, err)
				assert.Equal(t, custom, code.Code)
				assert.Equal(t, models.ReferrerDoctor, code.ReferrerType)
			})
		})

		t.Run("taken custom code rejected", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				custom := "REF-TAKEN001"
				_, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, &custom)
				require.NoError(t, err)

				_, err = s.EnsureCode(t.Context(), referred.ID, models.ReferrerPatient, &custom)

				require.ErrorIs(t, err, apperrors.ErrReferralCodeTaken)
			})
		})

		t.Run("deactivated code is replaced by a fresh one", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				first, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				require.NoError(t, s.Deactivate(t.Context(), referrer.ID))

				second, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				assert.NotEqual(t, first.ID, second.ID, "old code should stay retired")
			})
		})

		t.Run("deactivate without active code", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				err := s.Deactivate(t.Context(), referrer.ID)

				require.ErrorIs(t, err, apperrors.ErrReferralCodeNotFound)
			})
		})
	})

	t.Run("RegisterEvent", func(t *testing.T) {
		t.Run("all matching rules stack", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				createRule(t, s, CreateRuleParams{
					Name:         "first visit points",
					EventType:    models.EventFirstVisit,
					ReferrerType: models.ReferrerPatient,
					RewardType:   models.RewardPoints,
					RewardValue:  decimal.NewFromInt(50),
				})
				createRule(t, s, CreateRuleParams{
					Name:         "first visit bonus",
					EventType:    models.EventFirstVisit,
					ReferrerType: models.ReferrerAny,
					RewardType:   models.RewardFixed,
					RewardValue:  decimal.NewFromInt(100),
				})
				// Wrong referrer type, must not fire
				createRule(t, s, CreateRuleParams{
					Name:         "doctor only",
					EventType:    models.EventFirstVisit,
					ReferrerType: models.ReferrerDoctor,
					RewardType:   models.RewardPoints,
					RewardValue:  decimal.NewFromInt(500),
				})

				event, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referred.ID,
					EventType:      models.EventFirstVisit,
				})

				require.NoError(t, err)
				assert.True(t, event.Processed)

				rewards, err := s.Rewards(t.Context(), referrer.ID)
				require.NoError(t, err)
				require.Len(t, rewards, 2, "both matching rules should pay out")

				account, err := s.storage.Account().GetAccountByUserID(t.Context(), referrer.ID)
				require.NoError(t, err)
				assert.True(t, account.PointsBalance.Equal(decimal.NewFromInt(50)), "points rule pays into the points balance")
				assert.True(t, account.CashbackBalance.Equal(decimal.NewFromInt(100)), "fixed rule pays into the cashback balance")
			})
		})

		t.Run("percentage rule computes from transaction amount", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				createRule(t, s, CreateRuleParams{
					Name:         "paid service percent",
					EventType:    models.EventPaidService,
					ReferrerType: models.ReferrerAny,
					RewardType:   models.RewardPercentage,
					RewardValue:  decimal.NewFromInt(5),
				})

				amount := decimal.NewFromInt(3000)
				_, err = s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:              code.Code,
					ReferredUserID:    referred.ID,
					EventType:         models.EventPaidService,
					TransactionAmount: &amount,
				})
				require.NoError(t, err)

				account, err := s.storage.Account().GetAccountByUserID(t.Context(), referrer.ID)
				require.NoError(t, err)
				assert.True(t, account.CashbackBalance.Equal(decimal.NewFromInt(150)), "5%% of 3000 is 150, got %s", account.CashbackBalance)
			})
		})

		t.Run("percentage rule without amount pays nothing", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				createRule(t, s, CreateRuleParams{
					Name:         "percent no amount",
					EventType:    models.EventFirstVisit,
					ReferrerType: models.ReferrerAny,
					RewardType:   models.RewardPercentage,
					RewardValue:  decimal.NewFromInt(10),
				})

				event, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referred.ID,
					EventType:      models.EventFirstVisit,
				})

				require.NoError(t, err, "missing amount skips the rule, it does not fail the event")
				assert.True(t, event.Processed)

				rewards, err := s.Rewards(t.Context(), referrer.ID)
				require.NoError(t, err)
				assert.Empty(t, rewards)
			})
		})

		t.Run("own code rejected", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				_, err = s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referrer.ID,
					EventType:      models.EventRegistration,
				})

				require.ErrorIs(t, err, apperrors.ErrSelfReferral)
			})
		})

		t.Run("unknown code rejected", func(t *testing.T) {
			withTx(t, func(s *Service, _ models.User, referred models.User) {
				_, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           "REF-MISSING0",
					ReferredUserID: referred.ID,
					EventType:      models.EventRegistration,
				})

				require.ErrorIs(t, err, apperrors.ErrReferralCodeNotFound)
			})
		})

		t.Run("replayed document pays exactly once", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				createRule(t, s, CreateRuleParams{
					Name:         "visit reward",
					EventType:    models.EventFirstVisit,
					ReferrerType: models.ReferrerAny,
					RewardType:   models.RewardPoints,
					RewardValue:  decimal.NewFromInt(50),
				})

				docID := "doc-2024-0017"
				amount := decimal.NewFromInt(1000)
				first, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:              code.Code,
					ReferredUserID:    referred.ID,
					EventType:         models.EventFirstVisit,
					TransactionAmount: &amount,
					ExternalDocID:     &docID,
				})
				require.NoError(t, err)

				second, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:              code.Code,
					ReferredUserID:    referred.ID,
					EventType:         models.EventFirstVisit,
					TransactionAmount: &amount,
					ExternalDocID:     &docID,
				})
				require.NoError(t, err)
				assert.Equal(t, first.ID, second.ID, "replay should return the stored event")

				rewards, err := s.Rewards(t.Context(), referrer.ID)
				require.NoError(t, err)
				assert.Len(t, rewards, 1, "replay must not pay twice")

				stats, err := s.UserStats(t.Context(), referrer.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, stats.TotalReferrals, "replay must not bump counters twice")
			})
		})

		t.Run("invalid event type rejected", func(t *testing.T) {
			withTx(t, func(s *Service, _ models.User, referred models.User) {
				_, err := s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           "REF-ANY00000",
					ReferredUserID: referred.ID,
					EventType:      models.ReferralEventType("birthday"),
				})

				require.ErrorIs(t, err, apperrors.ErrInvalidEventType)
			})
		})
	})

	t.Run("UserStats", func(t *testing.T) {
		t.Run("pending floors at zero and conversion computed", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				_, err = s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referred.ID,
					EventType:      models.EventRegistration,
				})
				require.NoError(t, err)
				_, err = s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referred.ID,
					EventType:      models.EventFirstVisit,
				})
				require.NoError(t, err)

				stats, err := s.UserStats(t.Context(), referrer.ID)

				require.NoError(t, err)
				assert.Equal(t, code.Code, stats.Code)
				assert.Equal(t, 2, stats.TotalReferrals)
				assert.Equal(t, 1, stats.SuccessfulReferrals)
				assert.EqualValues(t, 0, stats.PendingReferrals, "one registration and one visit leaves nothing pending")
				assert.InDelta(t, 50.0, stats.ConversionRate, 0.01)
			})
		})

		t.Run("registration without visit counts as pending", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, referred models.User) {
				code, err := s.EnsureCode(t.Context(), referrer.ID, models.ReferrerPatient, nil)
				require.NoError(t, err)

				_, err = s.RegisterEvent(t.Context(), RegisterEventParams{
					Code:           code.Code,
					ReferredUserID: referred.ID,
					EventType:      models.EventRegistration,
				})
				require.NoError(t, err)

				stats, err := s.UserStats(t.Context(), referrer.ID)

				require.NoError(t, err)
				assert.EqualValues(t, 1, stats.PendingReferrals)
			})
		})

		t.Run("no active code reported", func(t *testing.T) {
			withTx(t, func(s *Service, referrer models.User, _ models.User) {
				_, err := s.UserStats(t.Context(), referrer.ID)

				require.ErrorIs(t, err, apperrors.ErrReferralCodeNotFound)
			})
		})
	})
}
