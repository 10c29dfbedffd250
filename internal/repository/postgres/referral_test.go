package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/testutil"
)

func createTestCode(t *testing.T, tx pgx.Tx, userID uuid.UUID, code string) models.ReferralCode {
	t.Helper()

	r := ReferralRepo{DB: tx}
	c, err := r.CreateCode(t.Context(), models.ReferralCode{
		ID:           uuid.New(),
		UserID:       userID,
		Code:         code,
		ReferrerType: models.ReferrerPatient,
		IsActive:     true,
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err, "creating referral code should not fail")

	return c
}

func newTestEvent(codeID uuid.UUID, referredID uuid.UUID, docID *string) models.ReferralEvent {
	return models.ReferralEvent{
		ID:             uuid.New(),
		ReferralCodeID: codeID,
		ReferredUserID: referredID,
		EventType:      models.EventFirstVisit,
		ExternalDocID:  docID,
		OccurredAt:     time.Now(),
	}
}

func Test_ReferralRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("codes", func(t *testing.T) {
		t.Run("create and get active", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				user := createTestUser(t, tx, "code@test.io")
				created := createTestCode(t, tx, user.ID, "REF-CODE0001")
				r := ReferralRepo{DB: tx}

				got, err := r.GetActiveCode(t.Context(), "REF-CODE0001")
				require.NoError(t, err)
				assert.Equal(t, created.ID, got.ID)

				byUser, err := r.GetActiveCodeByUserID(t.Context(), user.ID)
				require.NoError(t, err)
				assert.Equal(t, created.ID, byUser.ID)
			})
		})

		t.Run("second active code per user fails", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				user := createTestUser(t, tx, "twocodes@test.io")
				createTestCode(t, tx, user.ID, "REF-FIRST001")
				r := ReferralRepo{DB: tx}

				_, err := r.CreateCode(t.Context(), models.ReferralCode{
					ID:           uuid.New(),
					UserID:       user.ID,
					Code:         "REF-SECOND01",
					ReferrerType: models.ReferrerPatient,
					IsActive:     true,
					CreatedAt:    time.Now(),
				})

				assert.ErrorIs(t, err, apperrors.ErrReferralCodeTaken)
			})
		})

		t.Run("deactivated code is not served", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				user := createTestUser(t, tx, "inactive@test.io")
				code := createTestCode(t, tx, user.ID, "REF-INACTIVE")
				r := ReferralRepo{DB: tx}

				require.NoError(t, r.DeactivateCode(t.Context(), code.ID))

				_, err := r.GetActiveCode(t.Context(), "REF-INACTIVE")
				assert.ErrorIs(t, err, apperrors.ErrReferralCodeNotFound)
			})
		})
	})

	t.Run("events", func(t *testing.T) {
		t.Run("same external doc id returns stored event", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				referrer := createTestUser(t, tx, "referrer@test.io")
				referred := createTestUser(t, tx, "referred@test.io")
				code := createTestCode(t, tx, referrer.ID, "REF-EVENTS01")
				r := ReferralRepo{DB: tx}
				docID := "doc-100500"

				first, created, err := r.CreateEvent(t.Context(), newTestEvent(code.ID, referred.ID, &docID))
				require.NoError(t, err)
				require.True(t, created)

				second, created, err := r.CreateEvent(t.Context(), newTestEvent(code.ID, referred.ID, &docID))
				require.NoError(t, err)
				assert.False(t, created, "replay should not report created")
				assert.Equal(t, first.ID, second.ID)
			})
		})

		t.Run("events without doc id never collide", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				referrer := createTestUser(t, tx, "nodoc-referrer@test.io")
				referred := createTestUser(t, tx, "nodoc-referred@test.io")
				code := createTestCode(t, tx, referrer.ID, "REF-NODOC001")
				r := ReferralRepo{DB: tx}

				_, created, err := r.CreateEvent(t.Context(), newTestEvent(code.ID, referred.ID, nil))
				require.NoError(t, err)
				require.True(t, created)

				_, created, err = r.CreateEvent(t.Context(), newTestEvent(code.ID, referred.ID, nil))
				require.NoError(t, err)
				assert.True(t, created, "nil doc ids should not dedup against each other")
			})
		})

		t.Run("count by type", func(t *testing.T) {
			testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
				referrer := createTestUser(t, tx, "count-referrer@test.io")
				referred := createTestUser(t, tx, "count-referred@test.io")
				code := createTestCode(t, tx, referrer.ID, "REF-COUNT001")
				r := ReferralRepo{DB: tx}

				reg := newTestEvent(code.ID, referred.ID, nil)
				reg.EventType = models.EventRegistration
				_, _, err := r.CreateEvent(t.Context(), reg)
				require.NoError(t, err)
				_, _, err = r.CreateEvent(t.Context(), newTestEvent(code.ID, referred.ID, nil))
				require.NoError(t, err)

				registrations, err := r.CountEvents(t.Context(), code.ID, models.EventRegistration)
				require.NoError(t, err)
				assert.EqualValues(t, 1, registrations)

				visits, err := r.CountEvents(t.Context(), code.ID, models.EventFirstVisit)
				require.NoError(t, err)
				assert.EqualValues(t, 1, visits)
			})
		})
	})

	t.Run("bump counters", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "counters@test.io")
			code := createTestCode(t, tx, user.ID, "REF-COUNTERS")
			r := ReferralRepo{DB: tx}

			require.NoError(t, r.BumpCounters(t.Context(), code.ID, false, decimal.Zero))
			require.NoError(t, r.BumpCounters(t.Context(), code.ID, true, decimal.NewFromInt(3000)))

			got, err := r.GetActiveCode(t.Context(), code.Code)
			require.NoError(t, err)
			assert.Equal(t, 2, got.TotalReferrals)
			assert.Equal(t, 1, got.SuccessfulReferrals)
			assert.True(t, got.TotalRevenue.Equal(decimal.NewFromInt(3000)), "revenue should be 3000, got %s", got.TotalRevenue)
		})
	})
}
