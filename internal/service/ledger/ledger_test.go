package ledger

import (
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

func TestLedger(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Helper to create the service and a patient with an account within a
	// transaction that rolls back at subtest end
	withTx := func(t *testing.T, fn func(s *Service, account models.Account)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			userService := user.NewService(user.DefaultHasher, storage)

			patient, err := userService.CreateUser(t.Context(), user.CreateUserParams{
				Email:    "patient@test.io",
				FullName: "Test Patient",
				Password: "password123",
			})
			require.NoError(t, err, "creating patient should not fail")

			account, err := storage.Account().GetAccountByUserID(t.Context(), patient.ID)
			require.NoError(t, err, "patient should get an account on signup")

			fn(NewService(storage), account)
		})
	}

	accrue := func(t *testing.T, s *Service, account models.Account, amount int64, key *string) models.Posting {
		t.Helper()
		posting, err := s.Post(t.Context(), PostParams{
			AccountID:      account.ID,
			Kind:           models.PostingAccrual,
			Amount:         decimal.NewFromInt(amount),
			Currency:       models.CurrencyPoints,
			Source:         models.SourceVisit,
			IdempotencyKey: key,
		})
		require.NoError(t, err, "accrual should not fail")
		return posting
	}

	t.Run("Post", func(t *testing.T) {
		t.Run("accrual moves balance", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				posting := accrue(t, s, account, 100, nil)

				require.NotEmpty(t, posting.ID)
				assert.Equal(t, models.PostingAccrual, posting.Kind)

				got, err := s.storage.Account().GetAccount(t.Context(), account.ID)
				require.NoError(t, err)
				assert.True(t, got.PointsBalance.Equal(decimal.NewFromInt(100)), "balance should be 100, got %s", got.PointsBalance)
			})
		})

		t.Run("replayed key moves balance exactly once", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				key := "1c_visit_doc7_points"

				first := accrue(t, s, account, 100, &key)
				second := accrue(t, s, account, 100, &key)
				assert.Equal(t, first.ID, second.ID, "replay should return the stored posting")

				got, err := s.storage.Account().GetAccount(t.Context(), account.ID)
				require.NoError(t, err)
				assert.True(t, got.PointsBalance.Equal(decimal.NewFromInt(100)), "replay must not double the balance")
			})
		})

		t.Run("deduction over balance fails atomically", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				accrue(t, s, account, 50, nil)

				_, err := s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingDeduction,
					Amount:    decimal.NewFromInt(51),
					Currency:  models.CurrencyPoints,
					Source:    models.SourceManual,
				})
				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

				// The rejected posting must not stay in history
				history, err := s.AccountHistory(t.Context(), account.ID, 1, 20)
				require.NoError(t, err)
				assert.EqualValues(t, 1, history.Total, "failed deduction must leave no posting behind")

				got, err := s.storage.Account().GetAccount(t.Context(), account.ID)
				require.NoError(t, err)
				assert.True(t, got.PointsBalance.Equal(decimal.NewFromInt(50)))
			})
		})

		t.Run("validation", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				_, err := s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingAccrual,
					Amount:    decimal.NewFromInt(-5),
					Currency:  models.CurrencyPoints,
					Source:    models.SourceManual,
				})
				require.ErrorIs(t, err, apperrors.ErrAmountNotPositive)

				_, err = s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingKind("bonus"),
					Amount:    decimal.NewFromInt(5),
					Currency:  models.CurrencyPoints,
					Source:    models.SourceManual,
				})
				require.ErrorIs(t, err, apperrors.ErrInvalidPostingKind)

				_, err = s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingAccrual,
					Amount:    decimal.NewFromInt(5),
					Currency:  models.Currency("miles"),
					Source:    models.SourceManual,
				})
				require.ErrorIs(t, err, apperrors.ErrInvalidCurrency)
			})
		})
	})

	t.Run("Reverse", func(t *testing.T) {
		t.Run("accrual reversal restores balance and links rows", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				posting := accrue(t, s, account, 100, nil)

				reversal, err := s.Reverse(t.Context(), posting.ID, account.UserID)
				require.NoError(t, err)

				assert.Equal(t, models.PostingDeduction, reversal.Kind, "accrual reverses as deduction")
				require.NotNil(t, reversal.Reverses)
				assert.Equal(t, posting.ID, *reversal.Reverses)

				original, err := s.storage.Posting().GetPosting(t.Context(), posting.ID)
				require.NoError(t, err)
				require.NotNil(t, original.ReversedBy)
				assert.Equal(t, reversal.ID, *original.ReversedBy)

				got, err := s.storage.Account().GetAccount(t.Context(), account.ID)
				require.NoError(t, err)
				assert.True(t, got.PointsBalance.IsZero(), "reversal should restore the balance")
			})
		})

		t.Run("deduction reversal refunds", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				accrue(t, s, account, 100, nil)

				deduction, err := s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingDeduction,
					Amount:    decimal.NewFromInt(30),
					Currency:  models.CurrencyPoints,
					Source:    models.SourceManual,
				})
				require.NoError(t, err)

				reversal, err := s.Reverse(t.Context(), deduction.ID, account.UserID)
				require.NoError(t, err)
				assert.Equal(t, models.PostingRefund, reversal.Kind, "deduction reverses as refund")

				got, err := s.storage.Account().GetAccount(t.Context(), account.ID)
				require.NoError(t, err)
				assert.True(t, got.PointsBalance.Equal(decimal.NewFromInt(100)))
			})
		})

		t.Run("second reversal fails", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				posting := accrue(t, s, account, 100, nil)

				_, err := s.Reverse(t.Context(), posting.ID, account.UserID)
				require.NoError(t, err)

				_, err = s.Reverse(t.Context(), posting.ID, account.UserID)
				require.ErrorIs(t, err, apperrors.ErrPostingAlreadyReversed)
			})
		})

		t.Run("reversing spent accrual fails and changes nothing", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				posting := accrue(t, s, account, 100, nil)

				// Spend the accrued points so the reversal can't be covered
				_, err := s.Post(t.Context(), PostParams{
					AccountID: account.ID,
					Kind:      models.PostingDeduction,
					Amount:    decimal.NewFromInt(80),
					Currency:  models.CurrencyPoints,
					Source:    models.SourceManual,
				})
				require.NoError(t, err)

				_, err = s.Reverse(t.Context(), posting.ID, account.UserID)
				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

				original, err := s.storage.Posting().GetPosting(t.Context(), posting.ID)
				require.NoError(t, err)
				assert.Nil(t, original.ReversedBy, "failed reversal must not link the original")
			})
		})
	})

	t.Run("AccountHistory", func(t *testing.T) {
		t.Run("pages newest first", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				for i := range 5 {
					accrue(t, s, account, int64(10+i), nil)
				}

				history, err := s.AccountHistory(t.Context(), account.ID, 1, 2)
				require.NoError(t, err)

				assert.EqualValues(t, 5, history.Total)
				require.Len(t, history.Postings, 2)
				assert.True(t, history.Postings[0].Amount.Equal(decimal.NewFromInt(14)), "newest posting first")
			})
		})

		t.Run("missing account reported", func(t *testing.T) {
			withTx(t, func(s *Service, account models.Account) {
				_, err := s.AccountHistory(t.Context(), account.UserID, 1, 20) // user id is not an account id

				require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
			})
		})
	})
}
