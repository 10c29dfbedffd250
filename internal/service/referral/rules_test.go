package referral

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
	"github.com/medpoint/loyalty/internal/repository/postgres"
	"github.com/medpoint/loyalty/internal/testutil"
)

func TestRules(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(s *Service)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(NewService(postgres.NewStorage(tx), nil))
		})
	}

	t.Run("CreateRule", func(t *testing.T) {
		t.Run("fills defaults", func(t *testing.T) {
			withTx(t, func(s *Service) {
				rule, err := s.CreateRule(t.Context(), CreateRuleParams{
					Name:        "welcome bonus",
					EventType:   models.EventRegistration,
					RewardType:  models.RewardPoints,
					RewardValue: decimal.NewFromInt(100),
				})

				require.NoError(t, err)
				assert.NotEqual(t, uuid.Nil, rule.ID)
				assert.Equal(t, models.ReferrerAny, rule.ReferrerType, "referrer type should default to any")
				assert.Equal(t, 1, rule.AppliesToLevel, "level should floor at first line")
				assert.True(t, rule.IsActive)
				assert.False(t, rule.CreatedAt.IsZero())
			})
		})

		t.Run("rejects bad input", func(t *testing.T) {
			withTx(t, func(s *Service) {
				tests := []struct {
					name    string
					params  CreateRuleParams
					wantErr error
				}{
					{
						name: "unknown event type",
						params: CreateRuleParams{
							Name:        "bad event",
							EventType:   "churn",
							RewardType:  models.RewardPoints,
							RewardValue: decimal.NewFromInt(10),
						},
						wantErr: apperrors.ErrInvalidEventType,
					},
					{
						name: "unknown reward type",
						params: CreateRuleParams{
							Name:        "bad reward",
							EventType:   models.EventFirstVisit,
							RewardType:  "miles",
							RewardValue: decimal.NewFromInt(10),
						},
						wantErr: apperrors.ErrInvalidRewardType,
					},
					{
						name: "zero reward value",
						params: CreateRuleParams{
							Name:       "free rule",
							EventType:  models.EventFirstVisit,
							RewardType: models.RewardFixed,
						},
						wantErr: apperrors.ErrAmountNotPositive,
					},
				}

				for _, tt := range tests {
					t.Run(tt.name, func(t *testing.T) {
						_, err := s.CreateRule(t.Context(), tt.params)
						require.ErrorIs(t, err, tt.wantErr)
					})
				}
			})
		})
	})

	t.Run("ListRules returns every rule including inactive", func(t *testing.T) {
		withTx(t, func(s *Service) {
			first, err := s.CreateRule(t.Context(), CreateRuleParams{
				Name:        "first visit bonus",
				EventType:   models.EventFirstVisit,
				RewardType:  models.RewardFixed,
				RewardValue: decimal.NewFromInt(500),
			})
			require.NoError(t, err)

			_, err = s.CreateRule(t.Context(), CreateRuleParams{
				Name:        "repeat visit bonus",
				EventType:   models.EventRepeatVisit,
				RewardType:  models.RewardPoints,
				RewardValue: decimal.NewFromInt(50),
			})
			require.NoError(t, err)

			require.NoError(t, s.SetRuleActive(t.Context(), first.ID, false))

			rules, err := s.ListRules(t.Context())
			require.NoError(t, err)
			require.Len(t, rules, 2)

			active := 0
			for _, r := range rules {
				if r.IsActive {
					active++
				}
			}
			assert.Equal(t, 1, active, "deactivated rule should still be listed")
		})
	})

	t.Run("SetRuleActive on missing rule", func(t *testing.T) {
		withTx(t, func(s *Service) {
			err := s.SetRuleActive(t.Context(), uuid.New(), false)
			require.ErrorIs(t, err, apperrors.ErrRuleNotFound)
		})
	})
}
