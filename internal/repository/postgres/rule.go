package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/models"
)

type RewardRuleRepo struct {
	DB DBTX
}

const rewardRuleColumns = `id, name, description, event_type, referrer_type,
reward_type, reward_value, applies_to_level, is_active, created_at, updated_at`

const createRule = `-- name: CreateRule
INSERT INTO reward_rules (id, name, description, event_type, referrer_type,
	reward_type, reward_value, applies_to_level, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + rewardRuleColumns

func (r *RewardRuleRepo) CreateRule(ctx context.Context, rule models.RewardRule) (models.RewardRule, error) {
	rows, _ := r.DB.Query(ctx, createRule,
		rule.ID, rule.Name, rule.Description, string(rule.EventType), rule.ReferrerType,
		string(rule.RewardType), rule.RewardValue, rule.AppliesToLevel, rule.IsActive,
		rule.CreatedAt, rule.UpdatedAt,
	)
	rule, err := pgx.CollectOneRow(rows, rowToRewardRule)
	if err != nil {
		return rule, fmt.Errorf("db error: %w", err)
	}

	return rule, nil
}

const listActiveRules = `-- name: ListActiveRules
SELECT ` + rewardRuleColumns + `
FROM reward_rules
WHERE event_type = $1 AND is_active
`

func (r *RewardRuleRepo) ListActiveRules(ctx context.Context, eventType models.ReferralEventType) ([]models.RewardRule, error) {
	rows, _ := r.DB.Query(ctx, listActiveRules, string(eventType))
	rules, err := pgx.CollectRows(rows, rowToRewardRule)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rules, nil
}

const listRules = `-- name: ListRules
SELECT ` + rewardRuleColumns + `
FROM reward_rules
ORDER BY created_at
`

func (r *RewardRuleRepo) ListRules(ctx context.Context) ([]models.RewardRule, error) {
	rows, _ := r.DB.Query(ctx, listRules)
	rules, err := pgx.CollectRows(rows, rowToRewardRule)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rules, nil
}

const setRuleActive = `-- name: SetRuleActive
UPDATE reward_rules SET is_active = $2, updated_at = now()
WHERE id = $1
`

func (r *RewardRuleRepo) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.DB.Exec(ctx, setRuleActive, id, active)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrRuleNotFound
	}

	return nil
}

func rowToRewardRule(row pgx.CollectableRow) (models.RewardRule, error) {
	var r models.RewardRule
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.EventType, &r.ReferrerType,
		&r.RewardType, &r.RewardValue, &r.AppliesToLevel, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}
